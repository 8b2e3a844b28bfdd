package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wakehub/wakehub/internal/apperrors"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

// ==========================================================================
// NextRun: WEEKLY
// ==========================================================================

func TestNextRun_WeeklySameDayStillAhead(t *testing.T) {
	alarm := &Alarm{
		ScheduleType:     ScheduleWeekly,
		ScheduleWeekdays: []int{1, 2, 3, 4, 5}, // Mon-Fri
		ScheduleTime:     "09:00",
		Timezone:         "America/Los_Angeles",
	}

	loc, _ := time.LoadLocation("America/Los_Angeles")
	// Monday Jan 15, 2024 at 8:00 AM
	after := time.Date(2024, 1, 15, 8, 0, 0, 0, loc)

	next, err := NextRun(alarm, after)
	require.NoError(t, err)
	require.Equal(t, time.Monday, next.Weekday())
	require.Equal(t, 15, next.Day())
	require.Equal(t, 9, next.Hour())
	require.Equal(t, 0, next.Minute())
}

func TestNextRun_WeeklyRollsToNextListedDay(t *testing.T) {
	alarm := &Alarm{
		ScheduleType:     ScheduleWeekly,
		ScheduleWeekdays: []int{1, 3, 5}, // Mon, Wed, Fri
		ScheduleTime:     "09:00",
		Timezone:         "America/Los_Angeles",
	}

	loc, _ := time.LoadLocation("America/Los_Angeles")
	// Monday Jan 15, 2024 at 10:00 AM, past today's slot
	after := time.Date(2024, 1, 15, 10, 0, 0, 0, loc)

	next, err := NextRun(alarm, after)
	require.NoError(t, err)
	require.Equal(t, time.Wednesday, next.Weekday())
	require.Equal(t, 17, next.Day())
}

func TestNextRun_WeeklyWrapsTheWeek(t *testing.T) {
	alarm := &Alarm{
		ScheduleType:     ScheduleWeekly,
		ScheduleWeekdays: []int{0, 6}, // Sunday, Saturday
		ScheduleTime:     "10:00",
		Timezone:         "UTC",
	}

	// Wednesday Jan 17, 2024 exactly at the slot time
	after := time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC)

	next, err := NextRun(alarm, after)
	require.NoError(t, err)
	require.Equal(t, time.Saturday, next.Weekday())
	require.Equal(t, 20, next.Day())
}

func TestNextRun_WeeklyBoundaryIsExclusive(t *testing.T) {
	alarm := &Alarm{
		ScheduleType:     ScheduleWeekly,
		ScheduleWeekdays: []int{0, 1, 2, 3, 4, 5, 6},
		ScheduleTime:     "09:00",
		Timezone:         "UTC",
	}

	// Exactly at the slot: the occurrence must be strictly after, so the
	// claim CAS cannot re-fire the occurrence it just consumed.
	after := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	next, err := NextRun(alarm, after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC), next)
}

func TestNextRun_WeeklyHonorsTimezone(t *testing.T) {
	alarm := &Alarm{
		ScheduleType:     ScheduleWeekly,
		ScheduleWeekdays: []int{1},
		ScheduleTime:     "07:00",
		Timezone:         "America/New_York",
	}

	// Monday Jan 15, 2024 at 10:00 UTC = 05:00 EST, before the slot
	after := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	next, err := NextRun(alarm, after)
	require.NoError(t, err)
	// 07:00 EST is 12:00 UTC in January
	require.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), next.UTC())
}

// ==========================================================================
// NextRun: ONCE
// ==========================================================================

func TestNextRun_OnceUpcomingDate(t *testing.T) {
	alarm := &Alarm{
		ScheduleType:  ScheduleOnce,
		ScheduleMonth: intPtr(3),
		ScheduleDay:   intPtr(15),
		ScheduleTime:  "07:30",
		Timezone:      "UTC",
	}

	after := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	next, err := NextRun(alarm, after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 15, 7, 30, 0, 0, time.UTC), next)
}

func TestNextRun_OnceSpentReturnsZero(t *testing.T) {
	alarm := &Alarm{
		ScheduleType:  ScheduleOnce,
		ScheduleMonth: intPtr(1),
		ScheduleDay:   intPtr(5),
		ScheduleTime:  "07:30",
		Timezone:      "UTC",
	}

	// Jan 5 already passed this year: dormant, not an error
	after := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	next, err := NextRun(alarm, after)
	require.NoError(t, err)
	require.True(t, next.IsZero())
}

func TestNextRun_OnceRejectsImpossibleDate(t *testing.T) {
	alarm := &Alarm{
		ScheduleType:  ScheduleOnce,
		ScheduleMonth: intPtr(2),
		ScheduleDay:   intPtr(31),
		ScheduleTime:  "07:30",
		Timezone:      "UTC",
	}

	_, err := NextRun(alarm, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC))
	require.Error(t, err)
	require.True(t, apperrors.HasCode(err, apperrors.ErrorCodeInvalidSchedule))
}

// ==========================================================================
// NextRun: CRON
// ==========================================================================

func TestNextRun_CronDaily(t *testing.T) {
	alarm := &Alarm{
		ScheduleType: ScheduleCron,
		CronExpr:     strPtr("30 6 * * *"),
		Timezone:     "UTC",
	}

	// Past today's 06:30 slot
	after := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)

	next, err := NextRun(alarm, after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 16, 6, 30, 0, 0, time.UTC), next)
}

func TestNextRun_CronWeekdayField(t *testing.T) {
	alarm := &Alarm{
		ScheduleType: ScheduleCron,
		CronExpr:     strPtr("0 7 * * 1"), // Mondays at 07:00
		Timezone:     "UTC",
	}

	// Tuesday Jan 16, 2024
	after := time.Date(2024, 1, 16, 12, 0, 0, 0, time.UTC)

	next, err := NextRun(alarm, after)
	require.NoError(t, err)
	require.Equal(t, time.Monday, next.Weekday())
	require.Equal(t, 22, next.Day())
	require.Equal(t, 7, next.Hour())
}

func TestNextRun_InvalidTimezone(t *testing.T) {
	alarm := &Alarm{
		ScheduleType:     ScheduleWeekly,
		ScheduleWeekdays: []int{1},
		ScheduleTime:     "07:00",
		Timezone:         "Mars/Olympus_Mons",
	}

	_, err := NextRun(alarm, time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC))
	require.Error(t, err)
	require.True(t, apperrors.HasCode(err, apperrors.ErrorCodeInvalidSchedule))
}

// ==========================================================================
// ValidateSchedule
// ==========================================================================

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		alarm   Alarm
		wantErr bool
	}{
		{
			name: "valid weekly",
			alarm: Alarm{
				ScheduleType:     ScheduleWeekly,
				ScheduleWeekdays: []int{1, 2, 3},
				ScheduleTime:     "06:45",
			},
		},
		{
			name: "weekly without weekdays",
			alarm: Alarm{
				ScheduleType: ScheduleWeekly,
				ScheduleTime: "06:45",
			},
			wantErr: true,
		},
		{
			name: "weekly with weekday out of range",
			alarm: Alarm{
				ScheduleType:     ScheduleWeekly,
				ScheduleWeekdays: []int{7},
				ScheduleTime:     "06:45",
			},
			wantErr: true,
		},
		{
			name: "weekly with malformed time",
			alarm: Alarm{
				ScheduleType:     ScheduleWeekly,
				ScheduleWeekdays: []int{1},
				ScheduleTime:     "7am",
			},
			wantErr: true,
		},
		{
			name: "weekly with hour out of range",
			alarm: Alarm{
				ScheduleType:     ScheduleWeekly,
				ScheduleWeekdays: []int{1},
				ScheduleTime:     "24:00",
			},
			wantErr: true,
		},
		{
			name: "weekly with minute out of range",
			alarm: Alarm{
				ScheduleType:     ScheduleWeekly,
				ScheduleWeekdays: []int{1},
				ScheduleTime:     "06:60",
			},
			wantErr: true,
		},
		{
			name: "valid once",
			alarm: Alarm{
				ScheduleType:  ScheduleOnce,
				ScheduleMonth: intPtr(12),
				ScheduleDay:   intPtr(24),
				ScheduleTime:  "08:00",
			},
		},
		{
			name: "once with month out of range",
			alarm: Alarm{
				ScheduleType:  ScheduleOnce,
				ScheduleMonth: intPtr(13),
				ScheduleDay:   intPtr(1),
				ScheduleTime:  "08:00",
			},
			wantErr: true,
		},
		{
			name: "once without day",
			alarm: Alarm{
				ScheduleType:  ScheduleOnce,
				ScheduleMonth: intPtr(6),
				ScheduleTime:  "08:00",
			},
			wantErr: true,
		},
		{
			name: "valid cron",
			alarm: Alarm{
				ScheduleType: ScheduleCron,
				CronExpr:     strPtr("*/15 6-9 * * 1-5"),
			},
		},
		{
			name: "cron that does not parse",
			alarm: Alarm{
				ScheduleType: ScheduleCron,
				CronExpr:     strPtr("every morning"),
			},
			wantErr: true,
		},
		{
			name: "unsupported schedule type",
			alarm: Alarm{
				ScheduleType: ScheduleType("HOURLY"),
				ScheduleTime: "06:00",
			},
			wantErr: true,
		},
		{
			name: "invalid timezone",
			alarm: Alarm{
				ScheduleType:     ScheduleWeekly,
				ScheduleWeekdays: []int{1},
				ScheduleTime:     "06:45",
				Timezone:         "Nowhere/Fast",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(&tt.alarm)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, apperrors.HasCode(err, apperrors.ErrorCodeInvalidSchedule))
			} else {
				require.NoError(t, err)
			}
		})
	}
}
