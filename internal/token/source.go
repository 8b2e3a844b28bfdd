// Package token owns the Spotify OAuth token: the on-disk store, refresh-ahead
// renewal against the accounts service, and the browser bootstrap flow that
// links an account in the first place.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/config"
	"github.com/wakehub/wakehub/internal/logging"
)

const (
	// AccountsTokenURL is the OAuth token endpoint for the refresh grant.
	AccountsTokenURL = "https://accounts.spotify.com/api/token"

	// refreshAhead renews tokens this long before they expire so a token
	// handed to a caller stays valid for the duration of a wake sequence.
	refreshAhead = 60 * time.Second
)

// StoredToken is the persisted shape of the OAuth token.
type StoredToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds
}

// FreshAt reports whether the token is still usable at the given instant,
// leaving the refresh-ahead margin.
func (t *StoredToken) FreshAt(now time.Time) bool {
	return now.Unix() <= t.ExpiresAt-int64(refreshAhead/time.Second)
}

// Status describes the link state for the status endpoint.
type Status struct {
	Linked    bool   `json:"linked"`
	Fresh     bool   `json:"fresh"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// Source hands out valid access tokens, refreshing through the OAuth
// refresh grant when the stored token is near expiry. Safe for concurrent
// use; concurrent refreshes collapse into one request.
type Source struct {
	clientID     string
	clientSecret string
	path         string
	tokenURL     string
	httpClient   *http.Client
	clock        clockwork.Clock
	logger       zerolog.Logger

	mu    sync.Mutex
	token *StoredToken

	group singleflight.Group
}

// NewSource builds a Source storing its token at cfg.TokenFilePath(). An
// existing token file is loaded eagerly; a missing file is fine until the
// first Current call.
func NewSource(cfg *config.Config, clock clockwork.Clock) *Source {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Source{
		clientID:     cfg.SpotifyClientID,
		clientSecret: cfg.SpotifyClientSecret,
		path:         cfg.TokenFilePath(),
		tokenURL:     AccountsTokenURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		clock:        clock,
		logger:       logging.WithComponent("token"),
	}
	if tok, err := readTokenFile(s.path); err == nil {
		s.token = tok
	} else if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("could not load stored token")
	}
	return s
}

// Current returns a valid access token, refreshing first when the stored one
// expires within the refresh-ahead window.
func (s *Source) Current(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()

	if tok == nil {
		return "", apperrors.NewAppError(apperrors.ErrorCodeSpotifyNotLinked,
			"no Spotify account linked; visit /v1/auth/spotify/login", 409, nil)
	}
	if tok.FreshAt(s.clock.Now()) {
		return tok.AccessToken, nil
	}

	refreshed, err := s.refreshShared(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// ForceRefresh renews the token unconditionally. Used after the cloud API
// rejects a request with 401 despite a locally-fresh token.
func (s *Source) ForceRefresh(ctx context.Context) (string, error) {
	refreshed, err := s.refreshShared(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// SetOAuthToken persists a token obtained from the authorization-code
// exchange, replacing whatever was stored.
func (s *Source) SetOAuthToken(tok *oauth2.Token) error {
	stored := &StoredToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.Unix(),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		stored.Scope = scope
	}
	return s.store(stored)
}

// CurrentStatus reports whether an account is linked and the token freshness.
func (s *Source) CurrentStatus() Status {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()

	if tok == nil {
		return Status{}
	}
	return Status{
		Linked:    true,
		Fresh:     tok.FreshAt(s.clock.Now()),
		ExpiresAt: tok.ExpiresAt,
		Scope:     tok.Scope,
	}
}

func (s *Source) refreshShared(ctx context.Context) (*StoredToken, error) {
	result, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*StoredToken), nil
}

func (s *Source) refresh(ctx context.Context) (*StoredToken, error) {
	if s.clientID == "" || s.clientSecret == "" {
		return nil, apperrors.NewMisconfigured("Spotify client credentials are not configured")
	}

	s.mu.Lock()
	current := s.token
	s.mu.Unlock()
	if current == nil || current.RefreshToken == "" {
		return nil, apperrors.NewAppError(apperrors.ErrorCodeSpotifyNotLinked,
			"no refresh token stored; link the Spotify account first", 409, nil)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.clientID, s.clientSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTransient("token refresh request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransient("read token refresh response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parse
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// invalid_grant and friends: the refresh token itself is dead.
		s.logger.Error().Int("status", resp.StatusCode).Msg("refresh token rejected")
		return nil, apperrors.NewAuthExpired("refresh token rejected",
			fmt.Errorf("token endpoint returned %s", resp.Status))
	default:
		return nil, apperrors.NewTransient("token endpoint unavailable",
			fmt.Errorf("token endpoint returned %s", resp.Status))
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse token refresh response: %w", err)
	}

	next := &StoredToken{
		AccessToken:  parsed.AccessToken,
		TokenType:    parsed.TokenType,
		RefreshToken: parsed.RefreshToken,
		Scope:        parsed.Scope,
		ExpiresAt:    s.clock.Now().Unix() + parsed.ExpiresIn,
	}
	if next.TokenType == "" {
		next.TokenType = "Bearer"
	}
	// The accounts service only rotates the refresh token sometimes.
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = current.Scope
	}

	if err := s.store(next); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("expires_at", next.ExpiresAt).Msg("access token refreshed")
	return next, nil
}

func (s *Source) store(tok *StoredToken) error {
	if err := writeTokenFile(s.path, tok); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	return nil
}

func readTokenFile(path string) (*StoredToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok StoredToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tok, nil
}

// writeTokenFile writes atomically so a crash mid-write never leaves a
// truncated token file behind.
func writeTokenFile(path string, tok *StoredToken) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
