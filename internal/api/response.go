package api

import (
	"encoding/json"
	"net/http"

	"github.com/wakehub/wakehub/internal/apperrors"
)

// ErrorResponse is the error envelope:
// {"error": {"type": ..., "code": ..., "message": ...}}.
type ErrorResponse struct {
	Error apperrors.ErrorBody `json:"error"`
}

// Pagination carries collection metadata when a list endpoint windows its
// results.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// WriteJSON sends payload as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError renders err through the error envelope, coercing anything that
// is not already an AppError into an internal one.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, ErrorResponse{Error: appErr.ErrorBody()})
}

// envelope is the common success body: the request id plus the payload under
// its resource key.
func envelope(r *http.Request, key string, payload any) map[string]any {
	return map[string]any{
		"request_id": GetRequestID(r),
		key:          payload,
	}
}

// SingleResponse writes one resource under its own key, for example
// {"request_id": ..., "alarm": {...}}.
func SingleResponse(w http.ResponseWriter, r *http.Request, status int, key string, resource any) error {
	return WriteJSON(w, status, envelope(r, key, resource))
}

// ListResponse writes a collection under its own key, with pagination when
// the caller windowed it: {"request_id": ..., "alarms": [...], "pagination": {...}}.
func ListResponse(w http.ResponseWriter, r *http.Request, status int, key string, items any, pagination *Pagination) error {
	body := envelope(r, key, items)
	if pagination != nil {
		body["pagination"] = pagination
	}
	return WriteJSON(w, status, body)
}

// ActionResponse writes the outcome of a non-CRUD action under "result", for
// example {"request_id": ..., "result": {"run_id": ...}}.
func ActionResponse(w http.ResponseWriter, r *http.Request, status int, result any) error {
	return WriteJSON(w, status, envelope(r, "result", result))
}
