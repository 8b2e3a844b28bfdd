// Package cloud wraps the Spotify Web API player surface behind the small
// set of operations the wake orchestrator needs, translating HTTP failures
// into the run-path error kinds.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/logging"
)

// DefaultRetry404Delay is how long to wait before retrying a play request
// that 404s right after a transfer, while the backend still catches up.
const DefaultRetry404Delay = 700 * time.Millisecond

// TokenSource supplies access tokens for Web API calls.
type TokenSource interface {
	Current(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// CloudDevice is a device visible in the account's cloud device list.
type CloudDevice struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Active        bool   `json:"is_active"`
	Restricted    bool   `json:"is_restricted"`
	VolumePercent int    `json:"volume_percent"`
}

// Playback is the current playback state, reduced to what run confirmation
// needs.
type Playback struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Playing    bool   `json:"is_playing"`
	ContextURI string `json:"context_uri,omitempty"`
	ProgressMS int    `json:"progress_ms"`
}

// playerAPI is the slice of the Web API client the wrapper drives. The
// concrete implementation is *spotify.Client.
type playerAPI interface {
	PlayerDevices(ctx context.Context) ([]spotify.PlayerDevice, error)
	TransferPlayback(ctx context.Context, deviceID spotify.ID, play bool) error
	PlayOpt(ctx context.Context, opt *spotify.PlayOptions) error
	PauseOpt(ctx context.Context, opt *spotify.PlayOptions) error
	VolumeOpt(ctx context.Context, percent int, opt *spotify.PlayOptions) error
	ShuffleOpt(ctx context.Context, shuffle bool, opt *spotify.PlayOptions) error
	PlayerState(ctx context.Context, opts ...spotify.RequestOption) (*spotify.PlayerState, error)
}

// apiFactory builds a Web API client for one access token. Swapped out in
// tests.
type apiFactory func(ctx context.Context, accessToken string) playerAPI

func defaultAPIFactory(ctx context.Context, accessToken string) playerAPI {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	return spotify.New(httpClient)
}

// Client is the cloud control surface. Every call fetches a current token;
// a 401 triggers one forced refresh and one retry.
type Client struct {
	tokens        TokenSource
	newAPI        apiFactory
	clock         clockwork.Clock
	retry404Delay time.Duration
	logger        zerolog.Logger
}

// NewClient builds the cloud client. A non-positive retry404Delay falls back
// to the default.
func NewClient(tokens TokenSource, retry404Delay time.Duration, clock clockwork.Clock) *Client {
	if retry404Delay <= 0 {
		retry404Delay = DefaultRetry404Delay
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		tokens:        tokens,
		newAPI:        defaultAPIFactory,
		clock:         clock,
		retry404Delay: retry404Delay,
		logger:        logging.WithComponent("cloud"),
	}
}

// Devices lists the account's cloud-visible devices.
func (c *Client) Devices(ctx context.Context) ([]CloudDevice, error) {
	var raw []spotify.PlayerDevice
	err := c.call(ctx, func(api playerAPI) error {
		var err error
		raw, err = api.PlayerDevices(ctx)
		return err
	})
	if err != nil {
		return nil, c.mapError("list devices", err, false)
	}

	devices := make([]CloudDevice, 0, len(raw))
	for _, d := range raw {
		devices = append(devices, CloudDevice{
			ID:            string(d.ID),
			Name:          d.Name,
			Type:          d.Type,
			Active:        d.Active,
			Restricted:    d.Restricted,
			VolumePercent: int(d.Volume),
		})
	}
	return devices, nil
}

// Transfer moves playback ownership to the device, optionally starting audio.
func (c *Client) Transfer(ctx context.Context, deviceID string, play bool) error {
	err := c.call(ctx, func(api playerAPI) error {
		return api.TransferPlayback(ctx, spotify.ID(deviceID), play)
	})
	return c.mapError("transfer playback", err, false)
}

// Volume sets the device volume. Devices without volume control reject this
// with 403, surfaced as Unsupported; callers treat that as non-fatal.
func (c *Client) Volume(ctx context.Context, deviceID string, percent int) error {
	id := spotify.ID(deviceID)
	err := c.call(ctx, func(api playerAPI) error {
		return api.VolumeOpt(ctx, percent, &spotify.PlayOptions{DeviceID: &id})
	})
	return c.mapError("set volume", err, true)
}

// Play starts the context URI on the device. Right after a transfer the
// backend briefly 404s the device; one retry after retry404Delay covers that
// window. Shuffle is issued before play and is non-fatal.
func (c *Client) Play(ctx context.Context, deviceID, contextURI string, shuffle bool) error {
	id := spotify.ID(deviceID)

	if shuffle {
		err := c.call(ctx, func(api playerAPI) error {
			return api.ShuffleOpt(ctx, true, &spotify.PlayOptions{DeviceID: &id})
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("device_id", deviceID).Msg("shuffle not applied")
		}
	}

	playOnce := func() error {
		uri := spotify.URI(contextURI)
		return c.call(ctx, func(api playerAPI) error {
			return api.PlayOpt(ctx, &spotify.PlayOptions{DeviceID: &id, PlaybackContext: &uri})
		})
	}

	err := playOnce()
	if statusOf(err) == http.StatusNotFound {
		c.logger.Debug().
			Str("device_id", deviceID).
			Dur("delay", c.retry404Delay).
			Msg("play returned 404, retrying after delay")
		c.clock.Sleep(c.retry404Delay)
		err = playOnce()
	}
	return c.mapError("start playback", err, false)
}

// Pause stops playback on the device.
func (c *Client) Pause(ctx context.Context, deviceID string) error {
	id := spotify.ID(deviceID)
	err := c.call(ctx, func(api playerAPI) error {
		return api.PauseOpt(ctx, &spotify.PlayOptions{DeviceID: &id})
	})
	return c.mapError("pause playback", err, false)
}

// CurrentPlayback returns the active playback state, or nil when nothing is
// playing anywhere on the account.
func (c *Client) CurrentPlayback(ctx context.Context) (*Playback, error) {
	var state *spotify.PlayerState
	err := c.call(ctx, func(api playerAPI) error {
		var err error
		state, err = api.PlayerState(ctx)
		return err
	})
	if err != nil {
		return nil, c.mapError("get playback state", err, false)
	}
	if state == nil || state.Device.ID == "" {
		return nil, nil
	}

	return &Playback{
		DeviceID:   string(state.Device.ID),
		DeviceName: state.Device.Name,
		Playing:    state.Playing,
		ContextURI: string(state.PlaybackContext.URI),
		ProgressMS: int(state.Progress),
	}, nil
}

// call runs fn with a client built from the current token; on 401 it forces
// one refresh and retries once.
func (c *Client) call(ctx context.Context, fn func(api playerAPI) error) error {
	tok, err := c.tokens.Current(ctx)
	if err != nil {
		return err
	}

	err = fn(c.newAPI(ctx, tok))
	if statusOf(err) != http.StatusUnauthorized {
		return err
	}

	c.logger.Debug().Msg("cloud call unauthorized, forcing token refresh")
	tok, refreshErr := c.tokens.ForceRefresh(ctx)
	if refreshErr != nil {
		return apperrors.NewAuthExpired("token refresh after 401 failed", refreshErr)
	}
	return fn(c.newAPI(ctx, tok))
}

// statusOf extracts the HTTP status from a Web API error chain; 0 when the
// error carries none.
func statusOf(err error) int {
	var spErr spotify.Error
	if errors.As(err, &spErr) {
		return spErr.Status
	}
	return 0
}

// mapError translates raw Web API failures into run-path error kinds.
// AppErrors pass through untouched.
func (c *Client) mapError(op string, err error, volumeControl bool) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	status := statusOf(err)
	switch {
	case status == http.StatusUnauthorized:
		return apperrors.NewAuthExpired(op+" unauthorized", err)
	case status == http.StatusNotFound:
		return apperrors.NewDeviceNotFound(fmt.Sprintf("%s: device not found in cloud", op))
	case status == http.StatusForbidden && volumeControl:
		return apperrors.NewUnsupported(op+" not supported by device", err)
	case status == http.StatusForbidden:
		return apperrors.NewPermanentRejected(op+" rejected", err)
	case status == http.StatusTooManyRequests || status >= 500:
		return apperrors.NewTransient(op+" failed upstream", err)
	case status >= 400:
		return apperrors.NewPermanentRejected(op+" rejected", err)
	default:
		// Timeouts and transport failures.
		return apperrors.NewTransient(op+" failed", err)
	}
}
