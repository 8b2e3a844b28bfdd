package token

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/wakehub/wakehub/internal/api"
	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/config"
)

// Authenticator builds the OAuth authenticator used for the account-link
// flow. The scopes cover playback control plus private playlist listing.
func Authenticator(cfg *config.Config) *spotifyauth.Authenticator {
	return spotifyauth.New(
		spotifyauth.WithClientID(cfg.SpotifyClientID),
		spotifyauth.WithClientSecret(cfg.SpotifyClientSecret),
		spotifyauth.WithRedirectURL(cfg.SpotifyRedirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopePlaylistReadPrivate,
		),
	)
}

// RegisterRoutes wires the Spotify account-link routes to the router.
func RegisterRoutes(router chi.Router, cfg *config.Config, source *Source, states *StateStore) {
	router.Method(http.MethodGet, "/v1/auth/spotify/login", api.Handler(spotifyLogin(cfg, states)))
	router.Method(http.MethodGet, "/v1/auth/spotify/callback", api.Handler(spotifyCallback(cfg, source, states)))
	router.Method(http.MethodGet, "/v1/auth/spotify/status", api.Handler(spotifyStatus(source)))
}

func spotifyLogin(cfg *config.Config, states *StateStore) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		if !cfg.SpotifyConfigured() {
			return apperrors.NewMisconfigured("Spotify client credentials are not configured")
		}

		state, err := states.Generate()
		if err != nil {
			return apperrors.NewInternalError("Failed to generate auth state")
		}

		http.Redirect(w, r, Authenticator(cfg).AuthURL(state), http.StatusFound)
		return nil
	}
}

func spotifyCallback(cfg *config.Config, source *Source, states *StateStore) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			return apperrors.NewAppError(
				apperrors.ErrorCodeSpotifyNotLinked,
				"Spotify authorization failed: "+errParam,
				400,
				map[string]any{"error": errParam},
			)
		}

		state := r.URL.Query().Get("state")
		if state == "" {
			return apperrors.NewValidationError("state is required", nil)
		}
		if !states.Validate(state) {
			return apperrors.NewValidationError("Invalid or expired state parameter", map[string]any{
				"hint": "The authorization flow may have expired. Please try again.",
			})
		}

		tok, err := Authenticator(cfg).Token(r.Context(), state, r)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrorCodeSpotifyNotLinked,
				"Failed to exchange authorization code", 502, err)
		}
		if err := source.SetOAuthToken(tok); err != nil {
			return apperrors.NewInternalError("Failed to persist token")
		}

		return api.SingleResponse(w, r, http.StatusOK, "spotify", map[string]any{
			"linked":     true,
			"expires_at": tok.Expiry.Unix(),
		})
	}
}

func spotifyStatus(source *Source) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.SingleResponse(w, r, http.StatusOK, "spotify", source.CurrentStatus())
	}
}
