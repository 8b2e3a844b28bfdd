package registry

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/wakehub/wakehub/internal/api"
	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/zeroconf"
)

// deviceResource is the wire shape for a profile, with the most recent health
// probe attached when one exists.
type deviceResource struct {
	*DeviceProfile
	Health *zeroconf.HealthStatus `json:"health,omitempty"`
}

type updateDeviceRequest struct {
	VolumePreset   *int `json:"volume_preset,omitempty"`
	MaxWakeWaitSec *int `json:"max_wake_wait_s,omitempty"`
}

// RegisterRoutes wires device registry routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		profiles, err := service.List()
		if err != nil {
			return apperrors.NewInternalError("Failed to load devices")
		}

		resources := make([]deviceResource, 0, len(profiles))
		for _, profile := range profiles {
			resources = append(resources, deviceResource{DeviceProfile: profile, Health: service.HealthFor(profile.Name)})
		}
		return api.ListResponse(w, r, http.StatusOK, "devices", resources, nil)
	}))

	router.Method(http.MethodPost, "/v1/devices/discover", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		profiles, err := service.Discover(r.Context(), true)
		if err != nil {
			return apperrors.NewInternalError("Device discovery failed")
		}

		resources := make([]deviceResource, 0, len(profiles))
		for _, profile := range profiles {
			resources = append(resources, deviceResource{DeviceProfile: profile, Health: service.HealthFor(profile.Name)})
		}
		return api.ActionResponse(w, r, http.StatusOK, map[string]any{
			"devices_found": len(resources),
			"devices":       resources,
		})
	}))

	router.Method(http.MethodGet, "/v1/devices/{name}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		name, err := deviceName(r)
		if err != nil {
			return err
		}

		profile, err := service.Get(name)
		if err != nil {
			return apperrors.NewInternalError("Failed to load device")
		}
		if profile == nil {
			return apperrors.NewNotFoundResource("Device", name)
		}
		return api.SingleResponse(w, r, http.StatusOK, "device", deviceResource{DeviceProfile: profile, Health: service.HealthFor(profile.Name)})
	}))

	router.Method(http.MethodPatch, "/v1/devices/{name}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		name, err := deviceName(r)
		if err != nil {
			return err
		}

		var req updateDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("Invalid JSON body", nil)
		}
		if req.VolumePreset != nil && (*req.VolumePreset < 0 || *req.VolumePreset > 100) {
			return apperrors.NewValidationError("volume_preset must be between 0 and 100", map[string]any{
				"volume_preset": *req.VolumePreset,
			})
		}
		if req.MaxWakeWaitSec != nil && *req.MaxWakeWaitSec < 0 {
			return apperrors.NewValidationError("max_wake_wait_s must not be negative", map[string]any{
				"max_wake_wait_s": *req.MaxWakeWaitSec,
			})
		}

		profile, err := service.UpdateSettings(name, req.VolumePreset, req.MaxWakeWaitSec)
		if err != nil {
			return apperrors.NewInternalError("Failed to update device")
		}
		if profile == nil {
			return apperrors.NewNotFoundResource("Device", name)
		}
		return api.SingleResponse(w, r, http.StatusOK, "device", deviceResource{DeviceProfile: profile, Health: service.HealthFor(profile.Name)})
	}))

	router.Method(http.MethodPost, "/v1/devices/{name}/probe", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		name, err := deviceName(r)
		if err != nil {
			return err
		}

		profile, health, err := service.Probe(r.Context(), name)
		if err != nil {
			return apperrors.NewInternalError("Device probe failed")
		}
		if profile == nil {
			return apperrors.NewNotFoundResource("Device", name)
		}
		return api.ActionResponse(w, r, http.StatusOK, map[string]any{
			"name":   profile.Name,
			"health": health,
		})
	}))
}

// deviceName extracts the {name} path segment. Friendly names may contain
// spaces, so the segment arrives percent-encoded.
func deviceName(r *http.Request) (string, error) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || name == "" {
		return "", apperrors.NewValidationError("Invalid device name", nil)
	}
	return name, nil
}
