package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wakehub/wakehub/internal/logging"
)

const (
	// DefaultPollInterval is the default interval between due-alarm polls.
	DefaultPollInterval = 1 * time.Second

	// DefaultRunRetention is how long run history is kept by default.
	DefaultRunRetention = 30 * 24 * time.Hour

	// pruneInterval is how often old run records are swept.
	pruneInterval = 1 * time.Hour
)

// Runner polls for due alarms, claims them, and executes each in its own
// goroutine. Claiming is a compare-and-swap on next_run_at: the claim writes
// the following occurrence in the same statement, so a crash mid-run never
// loses the schedule and two pollers can never fire the same occurrence.
type Runner struct {
	service   *Service
	alarms    *AlarmsRepository
	interval  time.Duration
	retention time.Duration
	clock     clockwork.Clock
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner. Zero interval and retention fall back to the
// defaults.
func NewRunner(service *Service, alarms *AlarmsRepository, interval, retention time.Duration, clock clockwork.Clock) *Runner {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if retention <= 0 {
		retention = DefaultRunRetention
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{
		service:   service,
		alarms:    alarms,
		interval:  interval,
		retention: retention,
		clock:     clock,
		logger:    logging.WithComponent("runner"),
	}
}

// Start begins the poll and prune loops.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	r.logger.Info().Dur("poll_interval", r.interval).Dur("run_retention", r.retention).
		Msg("alarm runner starting")

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.pollLoop(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()
}

// Stop cancels in-flight runs and waits for all goroutines to finish.
// Aborted runs are recorded with a cancelled branch before their goroutines
// exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	r.logger.Info().Msg("alarm runner stopping")
	cancel()
	r.wg.Wait()
	r.logger.Info().Msg("alarm runner stopped")
}

// IsRunning reports whether the runner has been started.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) pollLoop(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.poll(ctx)
		}
	}
}

// poll claims and dispatches every alarm whose next_run_at has arrived.
func (r *Runner) poll(ctx context.Context) {
	due, err := r.alarms.Due(r.clock.Now().UTC())
	if err != nil {
		r.logger.Error().Err(err).Msg("could not query due alarms")
		return
	}

	for _, alarm := range due {
		if ctx.Err() != nil {
			return
		}
		r.dispatch(ctx, alarm)
	}
}

// dispatch claims one due alarm and executes it in its own goroutine. The
// next occurrence is computed from the current time, not the missed slot, so
// a runner catching up after downtime fires each alarm at most once.
func (r *Runner) dispatch(ctx context.Context, alarm *Alarm) {
	if alarm.NextRunAt == nil {
		return
	}
	scheduledFor := *alarm.NextRunAt

	var next *time.Time
	upcoming, err := NextRun(alarm, r.clock.Now().UTC())
	switch {
	case err != nil:
		// A schedule that no longer computes (renamed timezone, bad cron)
		// is parked rather than retried every poll.
		r.logger.Error().Err(err).Str("alarm_id", alarm.AlarmID).Str("name", alarm.Name).
			Msg("schedule no longer computes, parking alarm")
	case !upcoming.IsZero():
		utc := upcoming.UTC()
		next = &utc
	}

	claimed, err := r.alarms.Claim(alarm.AlarmID, scheduledFor, next)
	if err != nil {
		r.logger.Error().Err(err).Str("alarm_id", alarm.AlarmID).Msg("could not claim alarm")
		return
	}
	if !claimed {
		// Lost the race to another poller or the alarm was just edited.
		return
	}

	r.logger.Info().Str("alarm_id", alarm.AlarmID).Str("name", alarm.Name).
		Str("target", alarm.Target).Time("scheduled_for", scheduledFor).
		Msg("alarm due, executing")

	r.wg.Add(1)
	go func(alarm Alarm) {
		defer r.wg.Done()
		run := r.service.ExecuteAlarm(ctx, &alarm)
		r.logger.Info().Str("alarm_id", alarm.AlarmID).Str("run_id", run.RunID).
			Str("branch", run.Branch).Int64("duration_ms", run.DurationMS).
			Msg("alarm run finished")
	}(*alarm)
}

func (r *Runner) pruneLoop(ctx context.Context) {
	r.prune()

	ticker := r.clock.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.prune()
		}
	}
}

func (r *Runner) prune() {
	removed, err := r.service.PruneRuns(r.retention)
	if err != nil {
		r.logger.Error().Err(err).Msg("could not prune run history")
		return
	}
	if removed > 0 {
		r.logger.Info().Int64("removed", removed).Msg("pruned old run records")
	}
}
