// Package system assembles hub-wide status out of the other services:
// version, uptime, store health, device counts, the soonest alarms, and
// anything that will break the next wake if left alone.
package system

import (
	"database/sql"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/wakehub/wakehub/internal/breaker"
	"github.com/wakehub/wakehub/internal/logging"
	"github.com/wakehub/wakehub/internal/registry"
	"github.com/wakehub/wakehub/internal/scheduler"
	"github.com/wakehub/wakehub/internal/token"
)

// Version is the hub version, set at build time or defaulted.
var Version = "1.0.0"

// onlineWindow bounds how stale a profile's last_seen_at may be for the
// device to still count as online.
const onlineWindow = 10 * time.Minute

// upcomingLimit caps how many alarms the dashboard lists.
const upcomingLimit = 5

// RunnerStatusProvider reports whether the alarm runner loop is alive.
type RunnerStatusProvider interface {
	IsRunning() bool
}

// SubscriberCounter reports how many event-stream clients are connected.
type SubscriberCounter interface {
	SubscriberCount() int
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Service answers the system info and dashboard reads. It holds the reader
// connection only; nothing here ever writes, and nothing here ever triggers
// an mDNS browse.
type Service struct {
	reader    *sql.DB
	devices   *registry.Service
	alarms    *scheduler.AlarmsRepository
	tokens    *token.Source
	breaker   *breaker.Breaker
	runner    RunnerStatusProvider
	events    SubscriberCounter
	clock     clockwork.Clock
	logger    zerolog.Logger
	startTime time.Time
}

// NewService creates a system service. Accepts a DBPair but only uses the
// reader. runner and events may be nil when the host process does not run
// those loops.
func NewService(dbPair DBPair, devices *registry.Service, alarms *scheduler.AlarmsRepository, tokens *token.Source, brk *breaker.Breaker, runner RunnerStatusProvider, events SubscriberCounter, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		reader:    dbPair.Reader(),
		devices:   devices,
		alarms:    alarms,
		tokens:    tokens,
		breaker:   brk,
		runner:    runner,
		events:    events,
		clock:     clock,
		logger:    logging.WithComponent("system"),
		startTime: clock.Now(),
	}
}

// SystemInfo is the GET /v1/system/info payload.
type SystemInfo struct {
	HubVersion       string     `json:"hub_version"`
	Uptime           int64      `json:"uptime_seconds"`
	MemoryUsageMB    float64    `json:"memory_mb"`
	SQLiteConnected  bool       `json:"sqlite_connected"`
	SpotifyLinked    bool       `json:"spotify_linked"`
	DevicesOnline    int        `json:"devices_online"`
	DevicesTotal     int        `json:"devices_total"`
	RunnerRunning    bool       `json:"runner_running"`
	EventSubscribers int        `json:"event_subscribers"`
	LastDiscovery    *time.Time `json:"last_discovery,omitempty"`
}

// AlarmSummary is the dashboard view of one alarm.
type AlarmSummary struct {
	AlarmID    string     `json:"alarm_id"`
	Name       string     `json:"name"`
	Enabled    bool       `json:"enabled"`
	Target     string     `json:"target"`
	ContextURI string     `json:"context_uri"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
}

// AttentionItem represents a condition that needs user attention.
type AttentionItem struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ResolveHint string         `json:"resolve_hint,omitempty"`
}

// DashboardData holds data for the dashboard view.
type DashboardData struct {
	NextAlarm      *AlarmSummary   `json:"next_alarm,omitempty"`
	UpcomingAlarms []AlarmSummary  `json:"upcoming_alarms"`
	AttentionItems []AttentionItem `json:"attention_items"`
}

// GetSystemInfo returns current system information.
func (s *Service) GetSystemInfo() (*SystemInfo, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sqliteConnected := true
	if err := s.reader.Ping(); err != nil {
		sqliteConnected = false
	}

	devicesOnline, devicesTotal := s.deviceCounts()

	runnerRunning := false
	if s.runner != nil {
		runnerRunning = s.runner.IsRunning()
	}

	subscribers := 0
	if s.events != nil {
		subscribers = s.events.SubscriberCount()
	}

	return &SystemInfo{
		HubVersion:       Version,
		Uptime:           int64(s.clock.Since(s.startTime).Seconds()),
		MemoryUsageMB:    float64(memStats.Alloc) / 1024 / 1024,
		SQLiteConnected:  sqliteConnected,
		SpotifyLinked:    s.tokens.CurrentStatus().Linked,
		DevicesOnline:    devicesOnline,
		DevicesTotal:     devicesTotal,
		RunnerRunning:    runnerRunning,
		EventSubscribers: subscribers,
		LastDiscovery:    s.devices.LastSweep(),
	}, nil
}

// GetDashboardData returns the dashboard view: the soonest upcoming alarms
// plus attention items.
func (s *Service) GetDashboardData() (*DashboardData, error) {
	dashboard := &DashboardData{
		UpcomingAlarms: []AlarmSummary{},
		AttentionItems: []AttentionItem{},
	}

	alarms, err := s.alarms.List()
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not load alarms for dashboard")
	} else {
		upcoming := make([]*scheduler.Alarm, 0, len(alarms))
		for _, a := range alarms {
			if a.Enabled && a.NextRunAt != nil {
				upcoming = append(upcoming, a)
			}
		}
		sort.Slice(upcoming, func(i, j int) bool {
			return upcoming[i].NextRunAt.Before(*upcoming[j].NextRunAt)
		})
		if len(upcoming) > upcomingLimit {
			upcoming = upcoming[:upcomingLimit]
		}
		for _, a := range upcoming {
			next := *a.NextRunAt
			dashboard.UpcomingAlarms = append(dashboard.UpcomingAlarms, AlarmSummary{
				AlarmID:    a.AlarmID,
				Name:       a.Name,
				Enabled:    a.Enabled,
				Target:     a.Target,
				ContextURI: a.ContextURI,
				NextRunAt:  &next,
			})
		}
	}

	if len(dashboard.UpcomingAlarms) > 0 {
		dashboard.NextAlarm = &dashboard.UpcomingAlarms[0]
	}

	dashboard.AttentionItems = s.checkAttentionItems()

	return dashboard, nil
}

// deviceCounts reads the registry and counts profiles seen within the online
// window.
func (s *Service) deviceCounts() (online, total int) {
	profiles, err := s.devices.List()
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not load device profiles for system info")
		return 0, 0
	}
	now := s.clock.Now()
	for _, p := range profiles {
		if p.LastSeenAt != nil && now.Sub(*p.LastSeenAt) <= onlineWindow {
			online++
		}
	}
	return online, len(profiles)
}

// checkAttentionItems collects the conditions that will break the next wake
// if left alone.
func (s *Service) checkAttentionItems() []AttentionItem {
	items := []AttentionItem{}

	if !s.tokens.CurrentStatus().Linked {
		items = append(items, AttentionItem{
			Type:        "spotify_not_linked",
			Severity:    "error",
			Message:     "No Spotify account is linked; alarms cannot start playback",
			ResolveHint: "Visit /v1/auth/spotify/login to link an account",
		})
	}

	if s.runner != nil && !s.runner.IsRunning() {
		items = append(items, AttentionItem{
			Type:        "runner_stopped",
			Severity:    "error",
			Message:     "The alarm runner is not running; scheduled alarms will not fire",
			ResolveHint: "Restart the hub",
		})
	}

	for _, device := range s.breaker.OpenDevices() {
		items = append(items, AttentionItem{
			Type:     "breaker_open",
			Severity: "warning",
			Message:  fmt.Sprintf("Wake attempts for %q keep failing; its primary path is bypassed", device),
			Details: map[string]any{
				"device": device,
			},
			ResolveHint: "Check the speaker's power and network, then reset via POST /v1/devices/{name}/breaker/reset",
		})
	}

	var failedRuns int
	cutoff := s.clock.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	err := s.reader.QueryRow(
		`SELECT COUNT(*) FROM alarm_runs WHERE branch LIKE 'failed:%' AND started_at > ?`,
		cutoff,
	).Scan(&failedRuns)
	if err == nil && failedRuns > 0 {
		items = append(items, AttentionItem{
			Type:     "failed_runs",
			Severity: "error",
			Message:  "Some alarms failed to play",
			Details: map[string]any{
				"failed_count": failedRuns,
				"time_window":  "24 hours",
			},
			ResolveHint: "Review run history via GET /v1/runs",
		})
	}

	if _, total := s.deviceCounts(); total == 0 {
		items = append(items, AttentionItem{
			Type:        "no_devices",
			Severity:    "info",
			Message:     "No devices are registered; alarms have nothing to wake",
			ResolveHint: "Run POST /v1/devices/discover or configure a targets file",
		})
	}

	if err := s.reader.Ping(); err != nil {
		items = append(items, AttentionItem{
			Type:        "database_unhealthy",
			Severity:    "critical",
			Message:     "Database connection is unhealthy",
			ResolveHint: "Check database file permissions and disk space",
		})
	}

	return items
}
