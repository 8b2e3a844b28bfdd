package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wakehub/wakehub/internal/api"
	"github.com/wakehub/wakehub/internal/apperrors"
)

// RegisterRoutes wires the hub status routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		info, err := service.GetSystemInfo()
		if err != nil {
			return apperrors.NewInternalError("Failed to get system info")
		}
		return api.SingleResponse(w, r, http.StatusOK, "info", info)
	}))

	router.Method(http.MethodGet, "/v1/dashboard", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		data, err := service.GetDashboardData()
		if err != nil {
			return apperrors.NewInternalError("Failed to get dashboard data")
		}
		return api.SingleResponse(w, r, http.StatusOK, "dashboard", data)
	}))
}
