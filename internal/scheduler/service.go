package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/logging"
	"github.com/wakehub/wakehub/internal/orchestrator"
)

// AlarmPlayer executes one wake-and-play run. Satisfied by
// orchestrator.Orchestrator.
type AlarmPlayer interface {
	PlayAlarm(ctx context.Context, req orchestrator.Request) (*orchestrator.PhaseMetrics, error)
}

// Service owns alarm CRUD and the execute-and-record path shared by the
// runner, the fire endpoint, and ad-hoc plays.
type Service struct {
	alarms *AlarmsRepository
	runs   *RunsRepository
	player AlarmPlayer
	clock  clockwork.Clock
	logger zerolog.Logger
}

// NewService creates the alarm service.
func NewService(alarms *AlarmsRepository, runs *RunsRepository, player AlarmPlayer, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		alarms: alarms,
		runs:   runs,
		player: player,
		clock:  clock,
		logger: logging.WithComponent("scheduler"),
	}
}

// ==========================================================================
// Alarm CRUD
// ==========================================================================

// Create validates and stores a new alarm with its first next_run_at.
func (s *Service) Create(input CreateAlarmInput) (*Alarm, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, apperrors.NewValidationError("name is required", nil)
	}
	if strings.TrimSpace(input.Target) == "" {
		return nil, apperrors.NewValidationError("target is required", nil)
	}
	if strings.TrimSpace(input.ContextURI) == "" {
		return nil, apperrors.NewValidationError("context_uri is required", nil)
	}

	alarm := &Alarm{
		AlarmID:          uuid.NewString(),
		Name:             strings.TrimSpace(input.Name),
		Enabled:          input.Enabled == nil || *input.Enabled,
		Timezone:         strings.TrimSpace(input.Timezone),
		ScheduleType:     input.ScheduleType,
		ScheduleTime:     strings.TrimSpace(input.ScheduleTime),
		ScheduleWeekdays: input.ScheduleWeekdays,
		ScheduleMonth:    input.ScheduleMonth,
		ScheduleDay:      input.ScheduleDay,
		CronExpr:         input.CronExpr,
		Target:           strings.TrimSpace(input.Target),
		ContextURI:       strings.TrimSpace(input.ContextURI),
		Shuffle:          input.Shuffle != nil && *input.Shuffle,
	}
	if err := ValidateSchedule(alarm); err != nil {
		return nil, err
	}
	if err := s.refreshNextRun(alarm); err != nil {
		return nil, err
	}

	if err := s.alarms.Insert(alarm); err != nil {
		return nil, err
	}
	s.logger.Info().Str("alarm_id", alarm.AlarmID).Str("name", alarm.Name).
		Str("target", alarm.Target).Msg("alarm created")
	return alarm, nil
}

// Update applies a patch and recomputes next_run_at from the merged state.
func (s *Service) Update(alarmID string, input UpdateAlarmInput) (*Alarm, error) {
	alarm, err := s.alarms.GetByID(alarmID)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, apperrors.NewAlarmNotFound(alarmID)
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, apperrors.NewValidationError("name must not be empty", nil)
		}
		alarm.Name = strings.TrimSpace(*input.Name)
	}
	if input.Enabled != nil {
		alarm.Enabled = *input.Enabled
	}
	if input.Timezone != nil {
		alarm.Timezone = strings.TrimSpace(*input.Timezone)
	}
	if input.ScheduleType != nil {
		alarm.ScheduleType = *input.ScheduleType
	}
	if input.ScheduleTime != nil {
		alarm.ScheduleTime = strings.TrimSpace(*input.ScheduleTime)
	}
	if input.ScheduleWeekdays != nil {
		alarm.ScheduleWeekdays = input.ScheduleWeekdays
	}
	if input.ScheduleMonth != nil {
		alarm.ScheduleMonth = input.ScheduleMonth
	}
	if input.ScheduleDay != nil {
		alarm.ScheduleDay = input.ScheduleDay
	}
	if input.CronExpr != nil {
		alarm.CronExpr = input.CronExpr
	}
	if input.Target != nil {
		if strings.TrimSpace(*input.Target) == "" {
			return nil, apperrors.NewValidationError("target must not be empty", nil)
		}
		alarm.Target = strings.TrimSpace(*input.Target)
	}
	if input.ContextURI != nil {
		if strings.TrimSpace(*input.ContextURI) == "" {
			return nil, apperrors.NewValidationError("context_uri must not be empty", nil)
		}
		alarm.ContextURI = strings.TrimSpace(*input.ContextURI)
	}
	if input.Shuffle != nil {
		alarm.Shuffle = *input.Shuffle
	}

	if err := ValidateSchedule(alarm); err != nil {
		return nil, err
	}
	if err := s.refreshNextRun(alarm); err != nil {
		return nil, err
	}

	if err := s.alarms.Update(alarm); err != nil {
		return nil, err
	}
	s.logger.Info().Str("alarm_id", alarm.AlarmID).Str("name", alarm.Name).Msg("alarm updated")
	return alarm, nil
}

// refreshNextRun recomputes next_run_at from the current time. Disabled
// alarms and ONCE alarms whose date has passed go dormant.
func (s *Service) refreshNextRun(alarm *Alarm) error {
	alarm.NextRunAt = nil
	if !alarm.Enabled {
		return nil
	}
	next, err := NextRun(alarm, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if !next.IsZero() {
		utc := next.UTC()
		alarm.NextRunAt = &utc
	}
	return nil
}

// Get retrieves one alarm; nil when it does not exist.
func (s *Service) Get(alarmID string) (*Alarm, error) {
	return s.alarms.GetByID(alarmID)
}

// List retrieves all alarms ordered by name.
func (s *Service) List() ([]*Alarm, error) {
	return s.alarms.List()
}

// Delete removes an alarm and reports whether it existed. Run history
// keeps its alarm_id reference so past runs stay attributable.
func (s *Service) Delete(alarmID string) (bool, error) {
	deleted, err := s.alarms.Delete(alarmID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.logger.Info().Str("alarm_id", alarmID).Msg("alarm deleted")
	}
	return deleted, nil
}

// ==========================================================================
// Execution
// ==========================================================================

// Fire executes an alarm immediately, outside its schedule. next_run_at is
// left untouched so the regular occurrence still happens.
func (s *Service) Fire(ctx context.Context, alarmID string) (*AlarmRun, error) {
	alarm, err := s.alarms.GetByID(alarmID)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, apperrors.NewAlarmNotFound(alarmID)
	}
	s.logger.Info().Str("alarm_id", alarmID).Str("name", alarm.Name).Msg("firing alarm on request")
	return s.ExecuteAlarm(ctx, alarm), nil
}

// PlayAdhoc runs the wake-and-play path for a bare target, recorded with no
// alarm reference.
func (s *Service) PlayAdhoc(ctx context.Context, target, contextURI string, shuffle bool) *AlarmRun {
	return s.executeRun(ctx, nil, target, contextURI, shuffle)
}

// ExecuteAlarm runs one alarm now and stamps its last_run_at. Wake failures
// are encoded in the returned run record, never raised.
func (s *Service) ExecuteAlarm(ctx context.Context, alarm *Alarm) *AlarmRun {
	alarmID := alarm.AlarmID
	run := s.executeRun(ctx, &alarmID, alarm.Target, alarm.ContextURI, alarm.Shuffle)

	if err := s.alarms.SetLastRun(alarm.AlarmID, run.StartedAt); err != nil {
		s.logger.Warn().Err(err).Str("alarm_id", alarm.AlarmID).Msg("could not record last_run_at")
	}
	return run
}

// executeRun inserts the run row up front so in-flight runs are visible
// (finished_at NULL), plays, then completes the row with the outcome.
func (s *Service) executeRun(ctx context.Context, alarmID *string, target, contextURI string, shuffle bool) *AlarmRun {
	run := &AlarmRun{
		RunID:      uuid.NewString(),
		AlarmID:    alarmID,
		Target:     target,
		State:      string(orchestrator.StateUnknown),
		ContextURI: contextURI,
		StartedAt:  s.clock.Now().UTC(),
	}
	if err := s.runs.Insert(run); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.RunID).Msg("could not record run start")
	}

	reqAlarmID := ""
	if alarmID != nil {
		reqAlarmID = *alarmID
	}
	metrics, err := s.player.PlayAlarm(ctx, orchestrator.Request{
		Target:     target,
		ContextURI: contextURI,
		Shuffle:    shuffle,
		RunID:      run.RunID,
		AlarmID:    reqAlarmID,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", run.RunID).Str("target", target).
			Msg("alarm run failed")
	}

	finishedAt := s.clock.Now().UTC()
	run.FinishedAt = &finishedAt
	if metrics != nil {
		run.Branch = metrics.Branch
		run.DurationMS = metrics.TotalDurationMS
		run.Phases = metrics
		run.Errors = metrics.Errors
		if metrics.FinalState != "" {
			run.State = metrics.FinalState
		}
	}

	if err := s.runs.Complete(run); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.RunID).Msg("could not record run outcome")
	}
	return run
}

// ==========================================================================
// Run history
// ==========================================================================

// Runs lists the most recent run records.
func (s *Service) Runs(limit int) ([]*AlarmRun, error) {
	return s.runs.List(limit)
}

// Run retrieves one run record; nil when it does not exist.
func (s *Service) Run(runID string) (*AlarmRun, error) {
	return s.runs.GetByID(runID)
}

// PruneRuns removes run history older than the retention window.
func (s *Service) PruneRuns(retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().UTC().Add(-retention)
	return s.runs.PruneOlderThan(cutoff)
}
