// Package breaker tracks per-device failure streaks so a device whose
// primary wake path keeps failing is sent straight to the fallback ladder
// instead of burning the whole wake budget again.
package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wakehub/wakehub/internal/logging"
	"github.com/wakehub/wakehub/internal/metrics"
)

const (
	// DefaultThreshold is the failure streak that opens a device's breaker.
	DefaultThreshold = 3

	// DefaultCooldown is how long an open breaker diverts the device to
	// fallback after its most recent failure.
	DefaultCooldown = 300 * time.Second
)

// Snapshot is a point-in-time view of one device's breaker.
type Snapshot struct {
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	Open          bool       `json:"is_open"`
}

type deviceState struct {
	failures    int
	lastFailure time.Time
	open        bool
}

// Breaker holds the breaker state for every device the orchestrator has
// touched. Devices never seen before start closed.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	clock     clockwork.Clock
	logger    zerolog.Logger
	devices   map[string]*deviceState
}

// New creates a Breaker. Non-positive threshold or cooldown fall back to the
// defaults.
func New(threshold int, cooldown time.Duration, clock clockwork.Clock) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock,
		logger:    logging.WithComponent("breaker"),
		devices:   make(map[string]*deviceState),
	}
}

// ShouldBypassPrimary reports whether the device's primary path should be
// skipped: the breaker is open and the cooldown since its last failure has
// not elapsed. Once the cooldown passes the primary path gets another try,
// though the breaker stays open until a success closes it.
func (b *Breaker) ShouldBypassPrimary(device string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.devices[device]
	if !ok || !state.open {
		return false
	}
	return b.clock.Since(state.lastFailure) < b.cooldown
}

// RecordFailure increments the device's failure streak and opens the breaker
// once the streak reaches the threshold. The count keeps growing past the
// threshold until a success resets it.
func (b *Breaker) RecordFailure(device string) {
	b.mu.Lock()
	state := b.state(device)
	state.failures++
	state.lastFailure = b.clock.Now()

	opened := false
	if !state.open && state.failures >= b.threshold {
		state.open = true
		opened = true
	}
	open := state.open
	failures := state.failures
	b.mu.Unlock()

	metrics.SetBreakerOpen(device, open)
	if opened {
		b.logger.Warn().Str("device", device).Int("failures", failures).Msg("circuit breaker opened")
	} else {
		b.logger.Debug().Str("device", device).Int("failures", failures).Msg("recorded failure")
	}
}

// RecordSuccess resets the device's streak and closes its breaker.
func (b *Breaker) RecordSuccess(device string) {
	b.mu.Lock()
	state := b.state(device)
	wasOpen := state.open
	state.failures = 0
	state.open = false
	state.lastFailure = time.Time{}
	b.mu.Unlock()

	metrics.SetBreakerOpen(device, false)
	if wasOpen {
		b.logger.Info().Str("device", device).Msg("circuit breaker closed")
	}
}

// Reset clears the device's breaker, identical to recording a success.
func (b *Breaker) Reset(device string) {
	b.RecordSuccess(device)
}

// SnapshotFor returns the device's current breaker state.
func (b *Breaker) SnapshotFor(device string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.devices[device]
	if !ok {
		return Snapshot{}
	}
	snap := Snapshot{FailureCount: state.failures, Open: state.open}
	if !state.lastFailure.IsZero() {
		t := state.lastFailure
		snap.LastFailureAt = &t
	}
	return snap
}

// OpenDevices lists the devices whose breaker is currently open, sorted by
// name so repeated calls are stable.
func (b *Breaker) OpenDevices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var open []string
	for device, state := range b.devices {
		if state.open {
			open = append(open, device)
		}
	}
	sort.Strings(open)
	return open
}

// state returns the tracked entry for a device, creating it closed. Callers
// must hold the mutex.
func (b *Breaker) state(device string) *deviceState {
	if s, ok := b.devices[device]; ok {
		return s
	}
	s := &deviceState{}
	b.devices[device] = s
	return s
}
