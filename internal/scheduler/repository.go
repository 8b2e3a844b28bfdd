package scheduler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wakehub/wakehub/internal/orchestrator"
)

// ==========================================================================
// AlarmsRepository
// ==========================================================================

const alarmColumns = `alarm_id, name, enabled, timezone, schedule_type, schedule_time,
	schedule_weekdays, schedule_month, schedule_day, cron_expr,
	target, context_uri, shuffle, next_run_at, last_run_at, created_at, updated_at`

// Insert stores a new alarm and stamps its timestamps.
func (r *AlarmsRepository) Insert(a *Alarm) error {
	weekdaysJSON, err := marshalWeekdays(a.ScheduleWeekdays)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err = r.writer.Exec(`
		INSERT INTO alarms (`+alarmColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.AlarmID, a.Name, boolToInt(a.Enabled), a.Timezone, string(a.ScheduleType),
		a.ScheduleTime, weekdaysJSON, a.ScheduleMonth, a.ScheduleDay, a.CronExpr,
		a.Target, a.ContextURI, boolToInt(a.Shuffle),
		timeToISO(a.NextRunAt), timeToISO(a.LastRunAt),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

// Update rewrites every mutable column of the alarm. created_at is preserved.
func (r *AlarmsRepository) Update(a *Alarm) error {
	weekdaysJSON, err := marshalWeekdays(a.ScheduleWeekdays)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	a.UpdatedAt = now

	result, err := r.writer.Exec(`
		UPDATE alarms SET
			name = ?, enabled = ?, timezone = ?, schedule_type = ?, schedule_time = ?,
			schedule_weekdays = ?, schedule_month = ?, schedule_day = ?, cron_expr = ?,
			target = ?, context_uri = ?, shuffle = ?, next_run_at = ?, updated_at = ?
		WHERE alarm_id = ?
	`,
		a.Name, boolToInt(a.Enabled), a.Timezone, string(a.ScheduleType), a.ScheduleTime,
		weekdaysJSON, a.ScheduleMonth, a.ScheduleDay, a.CronExpr,
		a.Target, a.ContextURI, boolToInt(a.Shuffle),
		timeToISO(a.NextRunAt), now.Format(time.RFC3339),
		a.AlarmID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetByID retrieves an alarm. Returns nil when it does not exist.
func (r *AlarmsRepository) GetByID(alarmID string) (*Alarm, error) {
	row := r.reader.QueryRow(`
		SELECT `+alarmColumns+`
		FROM alarms
		WHERE alarm_id = ?
	`, alarmID)

	return scanAlarmRow(row)
}

// List retrieves all alarms ordered by name.
func (r *AlarmsRepository) List() ([]*Alarm, error) {
	rows, err := r.reader.Query(`
		SELECT ` + alarmColumns + `
		FROM alarms
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alarms []*Alarm
	for rows.Next() {
		alarm, err := scanAlarmRows(rows)
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, alarm)
	}
	return alarms, rows.Err()
}

// Delete removes an alarm; reports whether a row existed. Run history keeps
// its rows with the alarm reference cleared.
func (r *AlarmsRepository) Delete(alarmID string) (bool, error) {
	result, err := r.writer.Exec(`DELETE FROM alarms WHERE alarm_id = ?`, alarmID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Due retrieves enabled alarms whose next_run_at has passed, soonest first.
func (r *AlarmsRepository) Due(now time.Time) ([]*Alarm, error) {
	rows, err := r.reader.Query(`
		SELECT `+alarmColumns+`
		FROM alarms
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at
	`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alarms []*Alarm
	for rows.Next() {
		alarm, err := scanAlarmRows(rows)
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, alarm)
	}
	return alarms, rows.Err()
}

// Claim atomically moves next_run_at from its due value to the following
// occurrence. Exactly one concurrent claimer wins; the compare-and-swap on
// next_run_at is the whole claim protocol.
func (r *AlarmsRepository) Claim(alarmID string, scheduledFor time.Time, next *time.Time) (bool, error) {
	result, err := r.writer.Exec(`
		UPDATE alarms
		SET next_run_at = ?, updated_at = ?
		WHERE alarm_id = ? AND next_run_at = ?
	`,
		timeToISO(next), time.Now().UTC().Format(time.RFC3339),
		alarmID, scheduledFor.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// SetLastRun records when the alarm last executed.
func (r *AlarmsRepository) SetLastRun(alarmID string, at time.Time) error {
	_, err := r.writer.Exec(`
		UPDATE alarms SET last_run_at = ?, updated_at = ? WHERE alarm_id = ?
	`, at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), alarmID)
	return err
}

func scanAlarmRow(row *sql.Row) (*Alarm, error) {
	var a Alarm
	var enabled, shuffle int
	var weekdaysJSON, cronExpr sql.NullString
	var month, day sql.NullInt64
	var nextRunAt, lastRunAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&a.AlarmID, &a.Name, &enabled, &a.Timezone, &a.ScheduleType, &a.ScheduleTime,
		&weekdaysJSON, &month, &day, &cronExpr,
		&a.Target, &a.ContextURI, &shuffle, &nextRunAt, &lastRunAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return parseAlarm(&a, enabled, shuffle, weekdaysJSON, month, day, cronExpr, nextRunAt, lastRunAt, createdAt, updatedAt)
}

func scanAlarmRows(rows *sql.Rows) (*Alarm, error) {
	var a Alarm
	var enabled, shuffle int
	var weekdaysJSON, cronExpr sql.NullString
	var month, day sql.NullInt64
	var nextRunAt, lastRunAt sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(
		&a.AlarmID, &a.Name, &enabled, &a.Timezone, &a.ScheduleType, &a.ScheduleTime,
		&weekdaysJSON, &month, &day, &cronExpr,
		&a.Target, &a.ContextURI, &shuffle, &nextRunAt, &lastRunAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	return parseAlarm(&a, enabled, shuffle, weekdaysJSON, month, day, cronExpr, nextRunAt, lastRunAt, createdAt, updatedAt)
}

// parseAlarm converts nullable columns into an Alarm.
func parseAlarm(a *Alarm, enabled, shuffle int, weekdaysJSON sql.NullString, month, day sql.NullInt64, cronExpr, nextRunAt, lastRunAt sql.NullString, createdAt, updatedAt string) (*Alarm, error) {
	a.Enabled = enabled == 1
	a.Shuffle = shuffle == 1

	if weekdaysJSON.Valid && weekdaysJSON.String != "" {
		if err := json.Unmarshal([]byte(weekdaysJSON.String), &a.ScheduleWeekdays); err != nil {
			return nil, fmt.Errorf("failed to parse schedule_weekdays: %w", err)
		}
	}
	if month.Valid {
		v := int(month.Int64)
		a.ScheduleMonth = &v
	}
	if day.Valid {
		v := int(day.Int64)
		a.ScheduleDay = &v
	}
	if cronExpr.Valid && cronExpr.String != "" {
		v := cronExpr.String
		a.CronExpr = &v
	}
	if nextRunAt.Valid {
		t := parseISO(nextRunAt.String)
		a.NextRunAt = &t
	}
	if lastRunAt.Valid {
		t := parseISO(lastRunAt.String)
		a.LastRunAt = &t
	}

	a.CreatedAt = parseISO(createdAt)
	a.UpdatedAt = parseISO(updatedAt)
	return a, nil
}

// ==========================================================================
// RunsRepository
// ==========================================================================

const runColumns = `run_id, alarm_id, target, branch, state, context_uri,
	started_at, finished_at, duration_ms, phases, errors`

// Insert stores the initial row for an in-flight run; Complete fills in the
// outcome once the orchestrator returns.
func (r *RunsRepository) Insert(run *AlarmRun) error {
	_, err := r.writer.Exec(`
		INSERT INTO alarm_runs (run_id, alarm_id, target, state, context_uri, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.RunID, run.AlarmID, run.Target, run.State, run.ContextURI,
		run.StartedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// Complete records a finished run's outcome.
func (r *RunsRepository) Complete(run *AlarmRun) error {
	phasesJSON, errorsJSON, err := marshalOutcome(run.Phases)
	if err != nil {
		return err
	}

	var finishedAt any
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}

	_, err = r.writer.Exec(`
		UPDATE alarm_runs
		SET branch = ?, state = ?, finished_at = ?, duration_ms = ?, phases = ?, errors = ?
		WHERE run_id = ?
	`, run.Branch, run.State, finishedAt, run.DurationMS, phasesJSON, errorsJSON, run.RunID)
	return err
}

// GetByID retrieves one run. Returns nil when it does not exist.
func (r *RunsRepository) GetByID(runID string) (*AlarmRun, error) {
	row := r.reader.QueryRow(`
		SELECT `+runColumns+`
		FROM alarm_runs
		WHERE run_id = ?
	`, runID)

	run, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// List retrieves the most recent runs, newest first.
func (r *RunsRepository) List(limit int) ([]*AlarmRun, error) {
	rows, err := r.reader.Query(`
		SELECT `+runColumns+`
		FROM alarm_runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*AlarmRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PruneOlderThan removes runs that started before the cutoff. Returns the
// number of rows removed.
func (r *RunsRepository) PruneOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.writer.Exec(`
		DELETE FROM alarm_runs WHERE started_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// scanRun works for both sql.Row and sql.Rows through their shared Scan shape.
func scanRun(scan func(dest ...any) error) (*AlarmRun, error) {
	var run AlarmRun
	var alarmID sql.NullString
	var startedAt string
	var finishedAt sql.NullString
	var phasesJSON, errorsJSON string

	err := scan(
		&run.RunID, &alarmID, &run.Target, &run.Branch, &run.State, &run.ContextURI,
		&startedAt, &finishedAt, &run.DurationMS, &phasesJSON, &errorsJSON,
	)
	if err != nil {
		return nil, err
	}

	if alarmID.Valid && alarmID.String != "" {
		v := alarmID.String
		run.AlarmID = &v
	}
	run.StartedAt = parseISO(startedAt)
	if finishedAt.Valid {
		t := parseISO(finishedAt.String)
		run.FinishedAt = &t
	}

	if phasesJSON != "" && phasesJSON != "{}" {
		var phases orchestrator.PhaseMetrics
		if err := json.Unmarshal([]byte(phasesJSON), &phases); err != nil {
			return nil, fmt.Errorf("failed to parse run phases: %w", err)
		}
		run.Phases = &phases
	}
	if errorsJSON != "" && errorsJSON != "[]" {
		if err := json.Unmarshal([]byte(errorsJSON), &run.Errors); err != nil {
			return nil, fmt.Errorf("failed to parse run errors: %w", err)
		}
	}
	return &run, nil
}

// marshalOutcome splits PhaseMetrics into the phases and errors columns. The
// timing record keeps the branch; the error list is stored separately.
func marshalOutcome(metrics *orchestrator.PhaseMetrics) (phasesJSON, errorsJSON string, err error) {
	phasesJSON, errorsJSON = "{}", "[]"
	if metrics == nil {
		return phasesJSON, errorsJSON, nil
	}

	timings := *metrics
	timings.Errors = nil
	p, err := json.Marshal(timings)
	if err != nil {
		return "", "", fmt.Errorf("marshal run phases: %w", err)
	}
	phasesJSON = string(p)

	if len(metrics.Errors) > 0 {
		e, err := json.Marshal(metrics.Errors)
		if err != nil {
			return "", "", fmt.Errorf("marshal run errors: %w", err)
		}
		errorsJSON = string(e)
	}
	return phasesJSON, errorsJSON, nil
}

// ==========================================================================
// Column helpers
// ==========================================================================

func marshalWeekdays(weekdays []int) (any, error) {
	if len(weekdays) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(weekdays)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule_weekdays: %w", err)
	}
	return string(b), nil
}

func timeToISO(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseISO(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
