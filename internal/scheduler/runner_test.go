package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func setupRunner(t *testing.T, player *fakePlayer) (*Runner, *AlarmsRepository, *RunsRepository) {
	t.Helper()
	alarms, runs := setupTestDB(t)
	fc := clockwork.NewFakeClockAt(serviceNow)
	service := NewService(alarms, runs, player, fc)
	runner := NewRunner(service, alarms, 50*time.Millisecond, 0, fc)
	return runner, alarms, runs
}

func TestRunner_ExecutesDueAlarm(t *testing.T) {
	player := &fakePlayer{metrics: playedMetrics()}
	runner, alarms, runs := setupRunner(t, player)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	due := serviceNow.Add(-time.Minute)
	require.NoError(t, alarms.Insert(testAlarm("alarm-1", "Morning", &due)))

	runner.Start()
	require.Eventually(t, func() bool {
		return len(player.requests()) == 1
	}, 2*time.Second, 10*time.Millisecond, "due alarm never executed")

	require.Eventually(t, func() bool {
		list, err := runs.List(10)
		return err == nil && len(list) == 1 && list[0].FinishedAt != nil
	}, 2*time.Second, 10*time.Millisecond, "run outcome never recorded")

	runner.Stop()

	// Claim moved the schedule forward and the run stamped last_run_at
	after, err := alarms.GetByID("alarm-1")
	require.NoError(t, err)
	require.NotNil(t, after.NextRunAt)
	require.True(t, after.NextRunAt.After(serviceNow))
	require.NotNil(t, after.LastRunAt)

	reqs := player.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "Kitchen Speaker", reqs[0].Target)
}

func TestRunner_PollClaimsEachOccurrenceOnce(t *testing.T) {
	player := &fakePlayer{metrics: playedMetrics()}
	runner, alarms, runs := setupRunner(t, player)

	due := serviceNow.Add(-time.Minute)
	require.NoError(t, alarms.Insert(testAlarm("alarm-1", "Contested", &due)))

	ctx := context.Background()
	runner.poll(ctx)
	runner.poll(ctx)
	runner.wg.Wait()

	// The first poll's CAS moved next_run_at into the future, so the second
	// poll found nothing due.
	require.Len(t, player.requests(), 1)

	list, err := runs.List(10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRunner_ParksAlarmWhoseScheduleBroke(t *testing.T) {
	player := &fakePlayer{metrics: playedMetrics()}
	runner, alarms, runs := setupRunner(t, player)

	// A stored row whose schedule no longer computes (weekdays lost). The
	// due occurrence still fires, but no next occurrence can be written.
	due := serviceNow.Add(-time.Minute)
	broken := testAlarm("alarm-1", "Broken", &due)
	broken.ScheduleWeekdays = nil
	require.NoError(t, alarms.Insert(broken))

	runner.poll(context.Background())
	runner.wg.Wait()

	require.Len(t, player.requests(), 1)

	after, err := alarms.GetByID("alarm-1")
	require.NoError(t, err)
	require.Nil(t, after.NextRunAt, "broken schedule must be parked, not retried")

	list, err := runs.List(10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRunner_StopCancelsInFlightRun(t *testing.T) {
	player := &fakePlayer{metrics: playedMetrics(), block: make(chan struct{})}
	runner, alarms, runs := setupRunner(t, player)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	due := serviceNow.Add(-time.Minute)
	require.NoError(t, alarms.Insert(testAlarm("alarm-1", "Stuck", &due)))

	runner.Start()
	require.Eventually(t, func() bool {
		return len(player.requests()) == 1
	}, 2*time.Second, 10*time.Millisecond, "run never started")

	// Stop joins the in-flight goroutine, which records the aborted run on
	// its way out.
	runner.Stop()

	list, err := runs.List(10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "failed:cancelled", list[0].Branch)
	require.NotNil(t, list[0].FinishedAt)
}

func TestRunner_PrunesOldRunsOnStart(t *testing.T) {
	player := &fakePlayer{metrics: playedMetrics()}
	alarms, runs := setupTestDB(t)
	fc := clockwork.NewFakeClockAt(serviceNow)
	service := NewService(alarms, runs, player, fc)
	runner := NewRunner(service, alarms, 0, 7*24*time.Hour, fc)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	stale := &AlarmRun{
		RunID: "stale", Target: "Kitchen", State: "UNKNOWN",
		ContextURI: "spotify:playlist:x", StartedAt: serviceNow.Add(-8 * 24 * time.Hour),
	}
	fresh := &AlarmRun{
		RunID: "fresh", Target: "Kitchen", State: "UNKNOWN",
		ContextURI: "spotify:playlist:x", StartedAt: serviceNow.Add(-time.Hour),
	}
	require.NoError(t, runs.Insert(stale))
	require.NoError(t, runs.Insert(fresh))

	runner.Start()
	require.Eventually(t, func() bool {
		run, err := runs.GetByID("stale")
		return err == nil && run == nil
	}, 2*time.Second, 10*time.Millisecond, "stale run never pruned")
	runner.Stop()

	kept, err := runs.GetByID("fresh")
	require.NoError(t, err)
	require.NotNil(t, kept)
}

func TestRunner_StopBeforeStartIsNoop(t *testing.T) {
	player := &fakePlayer{metrics: playedMetrics()}
	runner, _, _ := setupRunner(t, player)

	require.False(t, runner.IsRunning())
	runner.Stop()

	runner.Start()
	require.True(t, runner.IsRunning())
	runner.Stop()
	require.False(t, runner.IsRunning())
}
