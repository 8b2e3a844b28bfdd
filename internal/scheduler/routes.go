package scheduler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wakehub/wakehub/internal/api"
	"github.com/wakehub/wakehub/internal/apperrors"
)

// RegisterRoutes wires alarm and run-history routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	// Alarm CRUD
	router.Method(http.MethodGet, "/v1/alarms", api.Handler(listAlarms(service)))
	router.Method(http.MethodPost, "/v1/alarms", api.Handler(createAlarm(service)))
	router.Method(http.MethodGet, "/v1/alarms/{alarm_id}", api.Handler(getAlarm(service)))
	router.Method(http.MethodPatch, "/v1/alarms/{alarm_id}", api.Handler(updateAlarm(service)))
	router.Method(http.MethodDelete, "/v1/alarms/{alarm_id}", api.Handler(deleteAlarm(service)))

	// Alarm actions
	router.Method(http.MethodPost, "/v1/alarms/{alarm_id}/fire", api.Handler(fireAlarm(service)))
	router.Method(http.MethodPost, "/v1/play", api.Handler(playNow(service)))

	// Run history
	router.Method(http.MethodGet, "/v1/runs", api.Handler(listRuns(service)))
	router.Method(http.MethodGet, "/v1/runs/{run_id}", api.Handler(getRun(service)))
}

// orInternal passes AppErrors (validation, bad schedule, not found) through to
// the envelope and masks everything else.
func orInternal(err error, message string) error {
	if apperrors.CodeOf(err) != "" {
		return err
	}
	return apperrors.NewInternalError(message)
}

// ==========================================================================
// Alarm Handlers
// ==========================================================================

func createAlarm(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var input CreateAlarmInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}

		alarm, err := service.Create(input)
		if err != nil {
			return orInternal(err, "Failed to create alarm")
		}
		return api.SingleResponse(w, r, http.StatusCreated, "alarm", alarm)
	}
}

func listAlarms(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		alarms, err := service.List()
		if err != nil {
			return apperrors.NewInternalError("Failed to list alarms")
		}
		return api.ListResponse(w, r, http.StatusOK, "alarms", alarms, nil)
	}
}

func getAlarm(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		alarmID := chi.URLParam(r, "alarm_id")

		alarm, err := service.Get(alarmID)
		if err != nil {
			return apperrors.NewInternalError("Failed to get alarm")
		}
		if alarm == nil {
			return apperrors.NewAlarmNotFound(alarmID)
		}
		return api.SingleResponse(w, r, http.StatusOK, "alarm", alarm)
	}
}

func updateAlarm(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		alarmID := chi.URLParam(r, "alarm_id")

		var input UpdateAlarmInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}

		alarm, err := service.Update(alarmID, input)
		if err != nil {
			return orInternal(err, "Failed to update alarm")
		}
		return api.SingleResponse(w, r, http.StatusOK, "alarm", alarm)
	}
}

func deleteAlarm(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		alarmID := chi.URLParam(r, "alarm_id")

		deleted, err := service.Delete(alarmID)
		if err != nil {
			return apperrors.NewInternalError("Failed to delete alarm")
		}
		if !deleted {
			return apperrors.NewAlarmNotFound(alarmID)
		}

		w.WriteHeader(http.StatusNoContent)
		return nil
	}
}

// ==========================================================================
// Execution Handlers
// ==========================================================================

func fireAlarm(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		alarmID := chi.URLParam(r, "alarm_id")

		run, err := service.Fire(r.Context(), alarmID)
		if err != nil {
			return orInternal(err, "Failed to fire alarm")
		}
		// Wake failures are not HTTP failures: the run record carries the
		// branch and errors either way.
		return api.SingleResponse(w, r, http.StatusOK, "run", run)
	}
}

type playRequest struct {
	Target     string `json:"target"`
	ContextURI string `json:"context_uri"`
	Shuffle    bool   `json:"shuffle"`
}

func playNow(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req playRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if strings.TrimSpace(req.Target) == "" {
			return apperrors.NewValidationError("target is required", nil)
		}
		if strings.TrimSpace(req.ContextURI) == "" {
			return apperrors.NewValidationError("context_uri is required", nil)
		}

		run := service.PlayAdhoc(r.Context(), strings.TrimSpace(req.Target), strings.TrimSpace(req.ContextURI), req.Shuffle)
		return api.SingleResponse(w, r, http.StatusOK, "run", run)
	}
}

// ==========================================================================
// Run History Handlers
// ==========================================================================

func listRuns(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
				limit = parsed
			}
		}

		runs, err := service.Runs(limit)
		if err != nil {
			return apperrors.NewInternalError("Failed to list runs")
		}
		return api.ListResponse(w, r, http.StatusOK, "runs", runs, nil)
	}
}

func getRun(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		runID := chi.URLParam(r, "run_id")

		run, err := service.Run(runID)
		if err != nil {
			return apperrors.NewInternalError("Failed to get run")
		}
		if run == nil {
			return apperrors.NewRunNotFound(runID)
		}
		return api.SingleResponse(w, r, http.StatusOK, "run", run)
	}
}
