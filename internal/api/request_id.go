package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID is the header the hub reads, and echoes, for request
// correlation.
const HeaderRequestID = "x-request-id"

type requestIDKey struct{}

// RequestIDMiddleware tags every request with a correlation id: the caller's
// x-request-id when present, a fresh UUID otherwise. The id is echoed on the
// response and lands in every success envelope.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request's correlation id, or "" when the
// middleware did not run.
func GetRequestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}
