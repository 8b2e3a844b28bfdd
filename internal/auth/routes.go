package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wakehub/wakehub/internal/api"
	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/config"
	"github.com/wakehub/wakehub/internal/logging"
)

type tokenPairResource struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresInSec int    `json:"expires_in_sec"`
}

type accessTokenResource struct {
	AccessToken  string `json:"access_token"`
	ExpiresInSec int    `json:"expires_in_sec"`
}

// RegisterRoutes wires auth routes to the router.
func RegisterRoutes(router chi.Router, cfg config.Config) {
	logger := logging.WithComponent("auth")

	router.Method(http.MethodPost, "/v1/auth/pair", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			PairingCode string `json:"pairing_code"`
			DeviceName  string `json:"device_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("pairing_code is required", nil)
		}
		if body.PairingCode == "" {
			return apperrors.NewValidationError("pairing_code is required", nil)
		}
		body.DeviceName = strings.TrimSpace(body.DeviceName)
		if body.DeviceName == "" {
			return apperrors.NewValidationError("device_name is required", nil)
		}

		if cfg.PairingCode == "" {
			return apperrors.NewUnauthorizedError("Pairing is not configured", apperrors.ErrorCodeAuthPairingInvalid)
		}
		if subtle.ConstantTimeCompare([]byte(body.PairingCode), []byte(cfg.PairingCode)) != 1 {
			return apperrors.NewUnauthorizedError("Invalid pairing code", apperrors.ErrorCodeAuthPairingInvalid)
		}

		sub := uuid.NewString()
		tokens, err := GenerateTokenPair(cfg, TokenPayload{
			Sub:        sub,
			DeviceName: body.DeviceName,
		})
		if err != nil {
			return apperrors.NewInternalError("Failed to generate token pair")
		}

		logger.Info().Str("device_name", body.DeviceName).Str("sub", sub).Msg("client paired")

		return api.SingleResponse(w, r, http.StatusOK, "tokens", tokenPairResource{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresInSec: tokens.ExpiresInSec,
		})
	}))

	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}
		if body.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := RefreshAccessToken(cfg, body.RefreshToken)
		if err != nil {
			switch err {
			case ErrTokenExpired:
				return apperrors.NewUnauthorizedError("Refresh token has expired", apperrors.ErrorCodeAuthTokenExpired)
			case ErrTokenType:
				return apperrors.NewUnauthorizedError("Invalid token: expected refresh token", apperrors.ErrorCodeAuthTokenInvalid)
			default:
				return apperrors.NewUnauthorizedError("Invalid refresh token", apperrors.ErrorCodeAuthTokenInvalid)
			}
		}

		return api.SingleResponse(w, r, http.StatusOK, "tokens", accessTokenResource{
			AccessToken:  accessToken,
			ExpiresInSec: expiresIn,
		})
	}))
}
