package api

import (
	"net/http"

	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/logging"
)

// Handler lets route handlers return errors instead of writing failure
// responses themselves; ServeHTTP renders any returned error through the
// error envelope.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler.
func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		WriteError(w, r, err)
	}
}

// RecovererMiddleware turns handler panics into 500 envelopes instead of
// dropped connections.
func RecovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			log := logging.WithComponent("api")
			log.Error().
				Interface("panic", recovered).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", GetRequestID(r)).
				Msg("panic recovered")
			WriteError(w, r, apperrors.NewInternalError("Internal server error"))
		}()
		next.ServeHTTP(w, r)
	})
}
