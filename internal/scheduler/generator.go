package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wakehub/wakehub/internal/apperrors"
)

// cronParser accepts the standard 5-field form (minute, hour, day-of-month,
// month, day-of-week).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun computes the next occurrence strictly after the given instant, in
// the alarm's timezone. A zero time means the alarm has no future occurrence
// (a ONCE alarm whose date has passed).
func NextRun(alarm *Alarm, after time.Time) (time.Time, error) {
	loc, err := alarmLocation(alarm.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	afterLocal := after.In(loc)

	switch alarm.ScheduleType {
	case ScheduleWeekly:
		return nextWeekly(alarm, afterLocal, loc)
	case ScheduleOnce:
		return nextOnce(alarm, afterLocal, loc)
	case ScheduleCron:
		return nextCron(alarm, afterLocal)
	default:
		return time.Time{}, apperrors.NewInvalidSchedule(fmt.Sprintf("unsupported schedule type: %s", alarm.ScheduleType))
	}
}

func nextWeekly(alarm *Alarm, after time.Time, loc *time.Location) (time.Time, error) {
	if len(alarm.ScheduleWeekdays) == 0 {
		return time.Time{}, apperrors.NewInvalidSchedule("schedule_weekdays is required for WEEKLY alarms")
	}
	hour, minute, err := parseScheduleTime(alarm.ScheduleTime)
	if err != nil {
		return time.Time{}, err
	}

	weekdays := make(map[time.Weekday]bool, len(alarm.ScheduleWeekdays))
	for _, d := range alarm.ScheduleWeekdays {
		if d < 0 || d > 6 {
			return time.Time{}, apperrors.NewInvalidSchedule(fmt.Sprintf("weekday out of range: %d", d))
		}
		weekdays[time.Weekday(d)] = true
	}

	// Today counts when its slot is still ahead; otherwise walk forward at
	// most a week.
	candidate := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, loc)
	if candidate.After(after) && weekdays[candidate.Weekday()] {
		return candidate, nil
	}
	for i := 0; i < 7; i++ {
		candidate = candidate.AddDate(0, 0, 1)
		if weekdays[candidate.Weekday()] {
			return candidate, nil
		}
	}
	return time.Time{}, apperrors.NewInvalidSchedule("no valid weekday found")
}

func nextOnce(alarm *Alarm, after time.Time, loc *time.Location) (time.Time, error) {
	if alarm.ScheduleMonth == nil || alarm.ScheduleDay == nil {
		return time.Time{}, apperrors.NewInvalidSchedule("schedule_month and schedule_day are required for ONCE alarms")
	}
	hour, minute, err := parseScheduleTime(alarm.ScheduleTime)
	if err != nil {
		return time.Time{}, err
	}

	runAt := time.Date(after.Year(), time.Month(*alarm.ScheduleMonth), *alarm.ScheduleDay, hour, minute, 0, 0, loc)
	if runAt.Month() != time.Month(*alarm.ScheduleMonth) || runAt.Day() != *alarm.ScheduleDay {
		return time.Time{}, apperrors.NewInvalidSchedule(fmt.Sprintf("invalid date: month %d day %d", *alarm.ScheduleMonth, *alarm.ScheduleDay))
	}

	// Already behind us this year: the alarm is spent.
	if !runAt.After(after) {
		return time.Time{}, nil
	}
	return runAt, nil
}

func nextCron(alarm *Alarm, after time.Time) (time.Time, error) {
	if alarm.CronExpr == nil || strings.TrimSpace(*alarm.CronExpr) == "" {
		return time.Time{}, apperrors.NewInvalidSchedule("cron_expr is required for CRON alarms")
	}
	schedule, err := cronParser.Parse(*alarm.CronExpr)
	if err != nil {
		return time.Time{}, apperrors.NewInvalidSchedule("invalid cron expression: " + err.Error())
	}
	return schedule.Next(after), nil
}

// ValidateSchedule rejects alarms whose schedule could never produce a run.
// It checks the same fields NextRun reads, so a stored alarm always computes.
func ValidateSchedule(alarm *Alarm) error {
	if _, err := alarmLocation(alarm.Timezone); err != nil {
		return err
	}

	switch alarm.ScheduleType {
	case ScheduleWeekly:
		if len(alarm.ScheduleWeekdays) == 0 {
			return apperrors.NewInvalidSchedule("schedule_weekdays is required for WEEKLY alarms")
		}
		for _, d := range alarm.ScheduleWeekdays {
			if d < 0 || d > 6 {
				return apperrors.NewInvalidSchedule(fmt.Sprintf("weekday out of range: %d", d))
			}
		}
		_, _, err := parseScheduleTime(alarm.ScheduleTime)
		return err
	case ScheduleOnce:
		if alarm.ScheduleMonth == nil || alarm.ScheduleDay == nil {
			return apperrors.NewInvalidSchedule("schedule_month and schedule_day are required for ONCE alarms")
		}
		if *alarm.ScheduleMonth < 1 || *alarm.ScheduleMonth > 12 {
			return apperrors.NewInvalidSchedule(fmt.Sprintf("schedule_month out of range: %d", *alarm.ScheduleMonth))
		}
		if *alarm.ScheduleDay < 1 || *alarm.ScheduleDay > 31 {
			return apperrors.NewInvalidSchedule(fmt.Sprintf("schedule_day out of range: %d", *alarm.ScheduleDay))
		}
		_, _, err := parseScheduleTime(alarm.ScheduleTime)
		return err
	case ScheduleCron:
		if alarm.CronExpr == nil || strings.TrimSpace(*alarm.CronExpr) == "" {
			return apperrors.NewInvalidSchedule("cron_expr is required for CRON alarms")
		}
		if _, err := cronParser.Parse(*alarm.CronExpr); err != nil {
			return apperrors.NewInvalidSchedule("invalid cron expression: " + err.Error())
		}
		return nil
	default:
		return apperrors.NewInvalidSchedule(fmt.Sprintf("unsupported schedule type: %s", alarm.ScheduleType))
	}
}

func alarmLocation(timezone string) (*time.Location, error) {
	if strings.TrimSpace(timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, apperrors.NewInvalidSchedule("invalid timezone: " + timezone)
	}
	return loc, nil
}

// parseScheduleTime parses "HH:MM" wall-clock times.
func parseScheduleTime(timeStr string) (hour, minute int, err error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) != 2 {
		return 0, 0, apperrors.NewInvalidSchedule("schedule_time must be HH:MM, got: " + timeStr)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, apperrors.NewInvalidSchedule("invalid hour in schedule_time: " + timeStr)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, apperrors.NewInvalidSchedule("invalid minute in schedule_time: " + timeStr)
	}
	return hour, minute, nil
}
