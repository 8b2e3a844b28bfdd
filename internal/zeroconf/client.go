// Package zeroconf drives the HTTP control endpoint that Spotify Connect
// devices expose on the local network. Every speaker serves a small form
// API ("ZeroConf") at http://{ip}:{port}{cpath} with GET getInfo and POST
// addUser actions; this package wraps both plus a liveness probe.
package zeroconf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wakehub/wakehub/internal/logging"
)

// Device endpoints answer on tight deadlines or not at all; anything slower
// is treated as asleep.
const (
	GetInfoTimeout = 1500 * time.Millisecond
	AddUserTimeout = 2500 * time.Millisecond
	HealthTimeout  = time.Second

	protocolVersion = "2.9.0"

	// ZeroConf convention: devices wrap responses in a status envelope
	// where 101 means OK regardless of the HTTP status line.
	statusOK = 101
)

// Endpoint locates a device's local control server.
type Endpoint struct {
	IP    string
	Port  int
	CPath string
}

// URL renders the control URL for the endpoint.
func (e Endpoint) URL() string {
	return fmt.Sprintf("http://%s:%d%s", e.IP, e.Port, e.CPath)
}

// DeviceInfo is the document returned by action=getInfo. Firmware varies in
// which of the name fields it fills; FriendlyName applies the priority order.
type DeviceInfo struct {
	Status           int    `json:"status"`
	StatusString     string `json:"statusString"`
	RemoteName       string `json:"remoteName"`
	DisplayName      string `json:"displayName"`
	Name             string `json:"name"`
	DeviceName       string `json:"deviceName"`
	ModelDisplayName string `json:"modelDisplayName"`
	ActiveUser       string `json:"activeUser"`
	DeviceID         string `json:"deviceID"`
	PublicKey        string `json:"publicKey"`
	DeviceType       string `json:"deviceType"`
	BrandDisplayName string `json:"brandDisplayName"`
	SpotifyError     int    `json:"spotifyError"`
}

// FriendlyName returns the best display name the device reported, trying
// remoteName, displayName, name, deviceName, then modelDisplayName. Empty
// when the device reported none.
func (info *DeviceInfo) FriendlyName() string {
	for _, candidate := range []string{
		info.RemoteName,
		info.DisplayName,
		info.Name,
		info.DeviceName,
		info.ModelDisplayName,
	} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return ""
}

// TokenCredentials drive the access_token addUser mode.
type TokenCredentials struct {
	UserName    string
	AccessToken string
}

// BlobCredentials drive the blob_clientKey addUser mode.
type BlobCredentials struct {
	UserName  string
	Blob      string
	ClientKey string
}

// HealthStatus is the result of a liveness probe against the control path.
type HealthStatus struct {
	Responding     bool   `json:"responding"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// Client issues ZeroConf HTTP actions against device control servers.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for device-local HTTP. Per-call deadlines come
// from request contexts; the client timeout is only a backstop.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logging.WithComponent("zeroconf"),
	}
}

// GetInfo probes the device with action=getInfo. A parsed response proves
// the device is awake on its local interface and usually carries a friendly
// name worth learning.
func (c *Client) GetInfo(ctx context.Context, ep Endpoint) (*DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, GetInfoTimeout)
	defer cancel()

	infoURL := ep.URL() + "?action=getInfo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build getInfo request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", infoURL).Msg("getInfo request failed")
		return nil, fmt.Errorf("getInfo %s: %w", ep.IP, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read getInfo response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug().Int("status", resp.StatusCode).Str("url", infoURL).Msg("getInfo rejected")
		return nil, fmt.Errorf("getInfo %s: unexpected status %s", ep.IP, resp.Status)
	}

	var info DeviceInfo
	if err := json.Unmarshal(body, &info); err != nil {
		c.logger.Debug().Err(err).Str("url", infoURL).Msg("getInfo returned invalid JSON")
		return nil, fmt.Errorf("parse getInfo response: %w", err)
	}

	c.logger.Debug().
		Str("ip", ep.IP).
		Str("name", info.FriendlyName()).
		Str("active_user", info.ActiveUser).
		Msg("getInfo ok")
	return &info, nil
}

// AddUserWithToken logs a user session into the device using a bearer access
// token. This is the primary mode; most current firmware accepts it.
func (c *Client) AddUserWithToken(ctx context.Context, ep Endpoint, creds TokenCredentials) error {
	form := url.Values{}
	form.Set("action", "addUser")
	form.Set("userName", creds.UserName)
	form.Set("accessToken", creds.AccessToken)
	form.Set("tokenType", "accesstoken")
	form.Set("version", protocolVersion)
	form.Set("loginId", uuid.NewString())
	return c.addUser(ctx, ep, "access_token", form)
}

// AddUserWithBlob logs a user session in with an encrypted credential blob.
// Fallback for firmware that rejects bearer tokens.
func (c *Client) AddUserWithBlob(ctx context.Context, ep Endpoint, creds BlobCredentials) error {
	form := url.Values{}
	form.Set("action", "addUser")
	form.Set("userName", creds.UserName)
	form.Set("blob", creds.Blob)
	form.Set("clientKey", creds.ClientKey)
	form.Set("tokenType", "default")
	form.Set("version", protocolVersion)
	return c.addUser(ctx, ep, "blob_clientKey", form)
}

func (c *Client) addUser(ctx context.Context, ep Endpoint, mode string, form url.Values) error {
	ctx, cancel := context.WithTimeout(ctx, AddUserTimeout)
	defer cancel()

	userURL := ep.URL() + "?action=addUser"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, userURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build addUser request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("mode", mode).Str("url", userURL).Msg("addUser request failed")
		return fmt.Errorf("addUser %s: %w", ep.IP, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read addUser response: %w", err)
	}

	var result struct {
		Status       int    `json:"status"`
		StatusString string `json:"statusString"`
		SpotifyError int    `json:"spotifyError"`
	}
	parsed := json.Unmarshal(body, &result) == nil
	httpOK := resp.StatusCode >= 200 && resp.StatusCode < 300
	if httpOK || (parsed && result.Status == statusOK) {
		c.logger.Debug().Str("ip", ep.IP).Str("mode", mode).Msg("addUser accepted")
		return nil
	}

	c.logger.Debug().
		Str("ip", ep.IP).
		Str("mode", mode).
		Int("http_status", resp.StatusCode).
		Int("device_status", result.Status).
		Str("device_status_string", result.StatusString).
		Msg("addUser rejected")
	return fmt.Errorf("addUser %s (%s): http %s, device status %d", ep.IP, mode, resp.Status, result.Status)
}

// Health probes the control path and reports whether the device answered
// within the deadline. Any HTTP response counts as responding; only
// transport errors and timeouts mean the device is unreachable.
func (c *Client) Health(ctx context.Context, ep Endpoint) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL(), nil)
	if err != nil {
		return HealthStatus{Error: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		c.logger.Debug().Err(err).Str("ip", ep.IP).Msg("health probe failed")
		return HealthStatus{ResponseTimeMS: elapsed, Error: err.Error()}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return HealthStatus{Responding: true, ResponseTimeMS: elapsed}
}
