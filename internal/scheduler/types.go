package scheduler

import (
	"database/sql"
	"time"

	"github.com/wakehub/wakehub/internal/orchestrator"
)

// ScheduleType says how an alarm's next occurrence is computed.
type ScheduleType string

const (
	ScheduleWeekly ScheduleType = "WEEKLY"
	ScheduleOnce   ScheduleType = "ONCE"
	ScheduleCron   ScheduleType = "CRON"
)

// Alarm is a persistent wake-and-play order. next_run_at drives the runner:
// NULL means dormant (disabled, claimed, or a ONCE alarm that already fired).
type Alarm struct {
	AlarmID          string       `json:"alarm_id"`
	Name             string       `json:"name"`
	Enabled          bool         `json:"enabled"`
	Timezone         string       `json:"timezone"`
	ScheduleType     ScheduleType `json:"schedule_type"`
	ScheduleTime     string       `json:"schedule_time,omitempty"` // "HH:MM"
	ScheduleWeekdays []int        `json:"schedule_weekdays,omitempty"`
	ScheduleMonth    *int         `json:"schedule_month,omitempty"`
	ScheduleDay      *int         `json:"schedule_day,omitempty"`
	CronExpr         *string      `json:"cron_expr,omitempty"`
	Target           string       `json:"target"`
	ContextURI       string       `json:"context_uri"`
	Shuffle          bool         `json:"shuffle"`
	NextRunAt        *time.Time   `json:"next_run_at,omitempty"`
	LastRunAt        *time.Time   `json:"last_run_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// AlarmRun is one recorded execution. AlarmID is nil for ad-hoc plays.
type AlarmRun struct {
	RunID      string                     `json:"run_id"`
	AlarmID    *string                    `json:"alarm_id,omitempty"`
	Target     string                     `json:"target"`
	Branch     string                     `json:"branch"`
	State      string                     `json:"state"`
	ContextURI string                     `json:"context_uri"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt *time.Time                 `json:"finished_at,omitempty"`
	DurationMS int64                      `json:"duration_ms"`
	Phases     *orchestrator.PhaseMetrics `json:"phases,omitempty"`
	Errors     []orchestrator.PhaseError  `json:"errors,omitempty"`
}

// CreateAlarmInput is the request body for creating an alarm.
type CreateAlarmInput struct {
	Name             string       `json:"name"`
	Enabled          *bool        `json:"enabled,omitempty"`
	Timezone         string       `json:"timezone,omitempty"`
	ScheduleType     ScheduleType `json:"schedule_type"`
	ScheduleTime     string       `json:"schedule_time,omitempty"`
	ScheduleWeekdays []int        `json:"schedule_weekdays,omitempty"`
	ScheduleMonth    *int         `json:"schedule_month,omitempty"`
	ScheduleDay      *int         `json:"schedule_day,omitempty"`
	CronExpr         *string      `json:"cron_expr,omitempty"`
	Target           string       `json:"target"`
	ContextURI       string       `json:"context_uri"`
	Shuffle          *bool        `json:"shuffle,omitempty"`
}

// UpdateAlarmInput is the request body for patching an alarm. Nil fields stay
// unchanged; ScheduleWeekdays replaces the whole set when present.
type UpdateAlarmInput struct {
	Name             *string       `json:"name,omitempty"`
	Enabled          *bool         `json:"enabled,omitempty"`
	Timezone         *string       `json:"timezone,omitempty"`
	ScheduleType     *ScheduleType `json:"schedule_type,omitempty"`
	ScheduleTime     *string       `json:"schedule_time,omitempty"`
	ScheduleWeekdays []int         `json:"schedule_weekdays,omitempty"`
	ScheduleMonth    *int          `json:"schedule_month,omitempty"`
	ScheduleDay      *int          `json:"schedule_day,omitempty"`
	CronExpr         *string       `json:"cron_expr,omitempty"`
	Target           *string       `json:"target,omitempty"`
	ContextURI       *string       `json:"context_uri,omitempty"`
	Shuffle          *bool         `json:"shuffle,omitempty"`
}

// DBPair provides the reader/writer split the repositories run against.
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// AlarmsRepository persists alarms in SQLite.
type AlarmsRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewAlarmsRepository creates an AlarmsRepository over the given connection pair.
func NewAlarmsRepository(dbPair DBPair) *AlarmsRepository {
	return &AlarmsRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// RunsRepository persists alarm run history in SQLite.
type RunsRepository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRunsRepository creates a RunsRepository over the given connection pair.
func NewRunsRepository(dbPair DBPair) *RunsRepository {
	return &RunsRepository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}
