package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the base server configuration. All values come from
// WAKEHUB_-prefixed environment variables with sensible defaults.
type Config struct {
	Host         string
	Port         string
	BaseDir      string
	SQLiteDBPath string
	LogLevel     string

	// Hub API auth.
	AuthDisabled             bool
	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int
	PairingCode              string

	// Spotify application credentials and account identity.
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyRedirectURL  string
	SpotifyUsername     string // userName sent to devices on addUser

	// Discovery and registry.
	DiscoveryTimeout  time.Duration
	DiscoveryCacheTTL time.Duration
	TargetsFile       string
	StrictTargets     bool // reject play requests for names absent from the registry

	// Wake-and-play timing knobs.
	Retry404Delay     time.Duration
	PollDeadline      time.Duration
	PollFastPeriod    time.Duration
	DebounceAfterSeen time.Duration
	ConfirmWindow     time.Duration

	// Circuit breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Scheduler.
	RunnerPollInterval time.Duration
	RunRetentionDays   int
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	baseDir := envString("WAKEHUB_BASE_DIR", ".")

	cfg := Config{
		Host:         envString("WAKEHUB_HOST", "0.0.0.0"),
		Port:         envString("WAKEHUB_PORT", "8780"),
		BaseDir:      baseDir,
		SQLiteDBPath: envString("WAKEHUB_SQLITE_DB_PATH", filepath.Join(baseDir, "data", "wakehub.db")),
		LogLevel:     envString("WAKEHUB_LOG_LEVEL", "info"),

		AuthDisabled:             envBool("WAKEHUB_AUTH_DISABLED", false),
		JWTSecret:                envString("WAKEHUB_JWT_SECRET", ""),
		JWTAccessTokenExpirySec:  envInt("WAKEHUB_JWT_ACCESS_TOKEN_EXPIRY", 3600),
		JWTRefreshTokenExpirySec: envInt("WAKEHUB_JWT_REFRESH_TOKEN_EXPIRY", 2592000),
		PairingCode:              envString("WAKEHUB_PAIRING_CODE", ""),

		SpotifyClientID:     envString("WAKEHUB_SPOTIFY_CLIENT_ID", ""),
		SpotifyClientSecret: envString("WAKEHUB_SPOTIFY_CLIENT_SECRET", ""),
		SpotifyRedirectURL:  envString("WAKEHUB_SPOTIFY_REDIRECT_URL", ""),
		SpotifyUsername:     envString("WAKEHUB_SPOTIFY_USERNAME", "alarm_user"),

		DiscoveryTimeout:  envDuration("WAKEHUB_DISCOVERY_TIMEOUT_MS", 1500*time.Millisecond),
		DiscoveryCacheTTL: envDuration("WAKEHUB_DISCOVERY_CACHE_TTL_MS", 300*time.Second),
		TargetsFile:       envString("WAKEHUB_TARGETS_FILE", ""),
		StrictTargets:     envBool("WAKEHUB_STRICT_TARGETS", false),

		Retry404Delay:     envDuration("WAKEHUB_RETRY_404_DELAY_MS", 700*time.Millisecond),
		PollDeadline:      envDuration("WAKEHUB_POLL_DEADLINE_MS", 20*time.Second),
		PollFastPeriod:    envDuration("WAKEHUB_POLL_FAST_PERIOD_MS", 5*time.Second),
		DebounceAfterSeen: envDuration("WAKEHUB_DEBOUNCE_MS", 500*time.Millisecond),
		ConfirmWindow:     envDuration("WAKEHUB_CONFIRM_WINDOW_MS", 2*time.Second),

		BreakerThreshold: envInt("WAKEHUB_BREAKER_THRESHOLD", 3),
		BreakerCooldown:  envDuration("WAKEHUB_BREAKER_COOLDOWN_MS", 300*time.Second),

		RunnerPollInterval: envDuration("WAKEHUB_RUNNER_POLL_MS", time.Second),
		RunRetentionDays:   envInt("WAKEHUB_RUN_RETENTION_DAYS", 30),
	}

	if !cfg.AuthDisabled {
		if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
			return Config{}, fmt.Errorf("WAKEHUB_JWT_SECRET must be at least 32 characters (or set WAKEHUB_AUTH_DISABLED=true)")
		}
		if cfg.PairingCode == "" {
			return Config{}, fmt.Errorf("WAKEHUB_PAIRING_CODE is required when auth is enabled")
		}
	}

	return cfg, nil
}

// TokenFilePath returns the Spotify token store location under the base dir.
func (c Config) TokenFilePath() string {
	return filepath.Join(c.BaseDir, "data", "token.json")
}

// SpotifyConfigured reports whether the OAuth application env is present.
func (c Config) SpotifyConfigured() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != "" && c.SpotifyRedirectURL != ""
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

// envDuration reads a millisecond count. Values ending in a unit suffix
// ("2s", "700ms") are also accepted.
func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return fallback
}
