package breaker

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wakehub/wakehub/internal/api"
	"github.com/wakehub/wakehub/internal/apperrors"
)

// RegisterRoutes exposes the per-device circuit state: operators can inspect
// why a device is being bypassed and arm it again after fixing it.
func RegisterRoutes(router chi.Router, b *Breaker) {
	router.Method(http.MethodGet, "/v1/devices/{name}/breaker", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		name, err := deviceName(r)
		if err != nil {
			return err
		}
		return api.SingleResponse(w, r, http.StatusOK, "breaker", b.SnapshotFor(name))
	}))

	router.Method(http.MethodPost, "/v1/devices/{name}/breaker/reset", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		name, err := deviceName(r)
		if err != nil {
			return err
		}
		b.Reset(name)
		return api.ActionResponse(w, r, http.StatusOK, map[string]any{
			"name":    name,
			"breaker": b.SnapshotFor(name),
		})
	}))
}

// deviceName extracts and unescapes the {name} route parameter; device names
// routinely carry spaces.
func deviceName(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "name")
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", apperrors.NewValidationError("invalid device name", map[string]any{"name": raw})
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.NewValidationError("device name is required", nil)
	}
	return name, nil
}
