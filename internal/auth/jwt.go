package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wakehub/wakehub/internal/config"
)

// The hub both mints and verifies its client tokens, so issuer and audience
// are fixed strings; tokens carrying anything else are rejected.
const (
	tokenIssuer   = "wakehub"
	tokenAudience = "wakehub-client"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenType    = errors.New("token has invalid type")
)

// TokenType distinguishes the short-lived access token from the refresh token
// that renews it.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPayload is what a verified token asserts about its bearer.
type TokenPayload struct {
	Sub        string
	DeviceName string
	Type       TokenType
}

// TokenPair is handed out on pairing: both tokens plus the access expiry so
// clients know when to refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresInSec int
}

type tokenClaims struct {
	DeviceName string    `json:"device_name"`
	Type       TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// GenerateTokenPair mints an access and a refresh token for the subject.
func GenerateTokenPair(cfg config.Config, payload TokenPayload) (TokenPair, error) {
	access, err := generateToken(cfg, payload, TokenTypeAccess, cfg.JWTAccessTokenExpirySec)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := generateToken(cfg, payload, TokenTypeRefresh, cfg.JWTRefreshTokenExpirySec)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresInSec: cfg.JWTAccessTokenExpirySec,
	}, nil
}

// RefreshAccessToken exchanges a valid refresh token for a new access token.
// Presenting an access token here fails with ErrTokenType.
func RefreshAccessToken(cfg config.Config, refreshToken string) (string, int, error) {
	payload, err := VerifyToken(cfg, refreshToken)
	if err != nil {
		return "", 0, err
	}
	if payload.Type != TokenTypeRefresh {
		return "", 0, ErrTokenType
	}
	access, err := generateToken(cfg, payload, TokenTypeAccess, cfg.JWTAccessTokenExpirySec)
	if err != nil {
		return "", 0, err
	}
	return access, cfg.JWTAccessTokenExpirySec, nil
}

// VerifyToken checks signature, issuer, audience and expiry, then vets the
// payload itself. Expiry surfaces as ErrTokenExpired; every other failure
// collapses to ErrTokenInvalid.
func VerifyToken(cfg config.Config, token string) (TokenPayload, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
	)

	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenPayload{}, ErrTokenExpired
	case err != nil, parsed == nil, !parsed.Valid:
		return TokenPayload{}, ErrTokenInvalid
	}
	return payloadFromClaims(claims)
}

func payloadFromClaims(claims *tokenClaims) (TokenPayload, error) {
	payload := TokenPayload{
		Sub:        claims.Subject,
		DeviceName: claims.DeviceName,
		Type:       claims.Type,
	}
	if payload.Sub == "" || payload.DeviceName == "" {
		return TokenPayload{}, ErrTokenInvalid
	}
	if payload.Type != TokenTypeAccess && payload.Type != TokenTypeRefresh {
		return TokenPayload{}, ErrTokenInvalid
	}
	return payload, nil
}

func generateToken(cfg config.Config, payload TokenPayload, tokenType TokenType, expirySec int) (string, error) {
	issuedAt := time.Now()
	claims := tokenClaims{
		DeviceName: payload.DeviceName,
		Type:       tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.Sub,
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Duration(expirySec) * time.Second)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}
