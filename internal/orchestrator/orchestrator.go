// Package orchestrator runs the wake-and-play timeline that turns a sleeping
// Spotify Connect speaker into one that is audibly playing: cloud fast path,
// IP wake, mDNS discovery, ZeroConf login, cloud-visibility polling, staging,
// playback, and confirmation, with a per-device circuit breaker and a
// fallback ladder behind it.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/cloud"
	"github.com/wakehub/wakehub/internal/discovery"
	"github.com/wakehub/wakehub/internal/events"
	"github.com/wakehub/wakehub/internal/logging"
	"github.com/wakehub/wakehub/internal/registry"
	"github.com/wakehub/wakehub/internal/zeroconf"
)

// Timing defaults for the knobs Config leaves unset, plus the fixed
// intra-phase pauses of the timeline.
const (
	DefaultDiscoveryTimeout  = 1500 * time.Millisecond
	DefaultPollDeadline      = 20 * time.Second
	DefaultPollFastPeriod    = 5 * time.Second
	DefaultDebounceAfterSeen = 500 * time.Millisecond
	DefaultConfirmWindow     = 2 * time.Second

	fastPollInterval    = 500 * time.Millisecond
	slowPollInterval    = time.Second
	activationGrace     = 2 * time.Second
	stageSettle         = 200 * time.Millisecond
	confirmPollInterval = 200 * time.Millisecond
)

// TokenSource supplies fresh access tokens for device logins.
type TokenSource interface {
	Current(ctx context.Context) (string, error)
}

// CloudAPI is the slice of the cloud control surface a run drives.
type CloudAPI interface {
	Devices(ctx context.Context) ([]cloud.CloudDevice, error)
	Transfer(ctx context.Context, deviceID string, play bool) error
	Volume(ctx context.Context, deviceID string, percent int) error
	Play(ctx context.Context, deviceID, contextURI string, shuffle bool) error
	CurrentPlayback(ctx context.Context) (*cloud.Playback, error)
}

// Discovery locates a device on the local network by name.
type Discovery interface {
	DiscoverByName(ctx context.Context, name string, timeout time.Duration) (*discovery.Result, error)
}

// ZeroconfClient drives the HTTP control endpoint on a speaker.
type ZeroconfClient interface {
	GetInfo(ctx context.Context, ep zeroconf.Endpoint) (*zeroconf.DeviceInfo, error)
	AddUserWithToken(ctx context.Context, ep zeroconf.Endpoint, creds zeroconf.TokenCredentials) error
	AddUserWithBlob(ctx context.Context, ep zeroconf.Endpoint, creds zeroconf.BlobCredentials) error
}

// Registry is the profile store surface a run reads and learns into.
type Registry interface {
	Get(name string) (*registry.DeviceProfile, error)
	UpdateLearned(name, cloudName string) error
}

// Breaker gates the primary wake path per device.
type Breaker interface {
	ShouldBypassPrimary(device string) bool
	RecordFailure(device string)
	RecordSuccess(device string)
}

// FallbackTransport plays through an alternate local transport once the
// cloud path is exhausted.
type FallbackTransport interface {
	Play(ctx context.Context, profile *registry.DeviceProfile, contextURI string) error
}

// Config carries the timeline's timing knobs and the addUser identity.
// Zero values fall back to the defaults above.
type Config struct {
	Username          string // userName presented to devices on addUser
	DiscoveryTimeout  time.Duration
	PollDeadline      time.Duration
	PollFastPeriod    time.Duration
	DebounceAfterSeen time.Duration
	ConfirmWindow     time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Username) == "" {
		c.Username = "alarm_user"
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if c.PollDeadline <= 0 {
		c.PollDeadline = DefaultPollDeadline
	}
	if c.PollFastPeriod <= 0 {
		c.PollFastPeriod = DefaultPollFastPeriod
	}
	if c.DebounceAfterSeen <= 0 {
		c.DebounceAfterSeen = DefaultDebounceAfterSeen
	}
	if c.ConfirmWindow <= 0 {
		c.ConfirmWindow = DefaultConfirmWindow
	}
	return c
}

// Deps are the collaborators a run drives. Fallback may be nil when no
// alternate transport is configured; Events and Clock default when nil.
type Deps struct {
	Tokens   TokenSource
	Cloud    CloudAPI
	Browser  Discovery
	Device   ZeroconfClient
	Registry Registry
	Breaker  Breaker
	Fallback FallbackTransport
	Events   events.Publisher
	Clock    clockwork.Clock
}

// Orchestrator executes wake-and-play runs, one at a time per target.
type Orchestrator struct {
	cfg      Config
	tokens   TokenSource
	cloud    CloudAPI
	browser  Discovery
	device   ZeroconfClient
	registry Registry
	breaker  Breaker
	fallback FallbackTransport
	events   events.Publisher
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu      sync.Mutex
	targets map[string]*sync.Mutex
}

// New builds an orchestrator from its collaborators.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		tokens:   deps.Tokens,
		cloud:    deps.Cloud,
		browser:  deps.Browser,
		device:   deps.Device,
		registry: deps.Registry,
		breaker:  deps.Breaker,
		fallback: deps.Fallback,
		events:   deps.Events,
		clock:    deps.Clock,
		logger:   logging.WithComponent("orchestrator"),
		targets:  make(map[string]*sync.Mutex),
	}
}

// Request is one wake-and-play order.
type Request struct {
	Target     string
	ContextURI string
	Shuffle    bool
	RunID      string // generated when empty
	AlarmID    string // blank for ad-hoc runs
}

// PlayAlarm runs the full timeline for the target and reports its timings.
// Runs for the same target serialize on a per-target mutex. The returned
// metrics are always populated; the error is non-nil only for terminal
// outcomes (exhausted fallback, misconfiguration, or cancellation).
func (o *Orchestrator) PlayAlarm(ctx context.Context, req Request) (*PhaseMetrics, error) {
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return &PhaseMetrics{Branch: FailedBranch(ReasonMisconfigured)},
			apperrors.NewMisconfigured("alarm target name is required")
	}
	if strings.TrimSpace(req.ContextURI) == "" {
		return &PhaseMetrics{Branch: FailedBranch(ReasonMisconfigured)},
			apperrors.NewMisconfigured("no context uri configured for alarm playback")
	}

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}

	lock := o.targetLock(target)
	lock.Lock()
	defer lock.Unlock()

	r := &run{
		o:          o,
		ctx:        ctx,
		runID:      runID,
		alarmID:    req.AlarmID,
		target:     target,
		contextURI: strings.TrimSpace(req.ContextURI),
		shuffle:    req.Shuffle,
		metrics:    &PhaseMetrics{},
		state:      StateUnknown,
		start:      o.clock.Now(),
		logger: o.logger.With().
			Str("run_id", runID).
			Str("target", target).
			Logger(),
	}
	return r.execute()
}

// targetLock returns the mutex serializing runs for one device; names that
// normalize equal share a lock.
func (o *Orchestrator) targetLock(target string) *sync.Mutex {
	key := registry.NormalizeName(target)

	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.targets[key]
	if !ok {
		lock = &sync.Mutex{}
		o.targets[key] = lock
	}
	return lock
}
