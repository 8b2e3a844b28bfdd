package orchestrator

import "fmt"

// State tracks how far along the wake timeline the target device has come
// during a single run.
type State string

const (
	StateUnknown            State = "UNKNOWN"
	StateDiscovered         State = "DISCOVERED"
	StateLocalAwake         State = "LOCAL_AWAKE"
	StateLoggedIn           State = "LOGGED_IN"
	StateCloudVisible       State = "CLOUD_VISIBLE"
	StateStaged             State = "STAGED"
	StatePlaying            State = "PLAYING"
	StateDeepSleepSuspected State = "DEEP_SLEEP_SUSPECTED"
)

// Branch labels record how a run reached (or failed to reach) playback.
const (
	BranchWebAPIDirect    = "webapi_direct"
	BranchPrimaryIPWakeup = "primary_ip_wakeup"
	BranchPrimary         = "primary"
	BranchFallback        = "fallback"

	failedBranchPrefix = "failed:"
)

// Reasons recorded when the primary path hands a run to the fallback ladder.
const (
	ReasonBreakerOpen      = "circuit_breaker_open"
	ReasonNoMDNS           = "no_mdns"
	ReasonNotInDevices     = "not_in_devices_by_deadline"
	ReasonPlayNotConfirmed = "play_not_confirmed_t2"
	ReasonCancelled        = "cancelled"
	ReasonMisconfigured    = "misconfigured"
)

// FailedBranch renders the branch label for a run whose fallback ladder was
// exhausted.
func FailedBranch(reason string) string {
	return failedBranchPrefix + reason
}

// Phase labels, used in logs, run events, and the phase-duration histogram.
const (
	phaseWebAPICheck = "webapi_check"
	phaseIPWakeup    = "ip_wakeup"
	phaseDiscovery   = "discovery"
	phaseGetInfo     = "getinfo"
	phaseAddUser     = "adduser"
	phaseCloudPoll   = "cloud_poll"
	phaseStage       = "stage"
	phasePlay        = "play"
	phaseConfirm     = "confirm"
	phaseFallback    = "fallback"
	phaseComplete    = "complete"
)

// PhaseError is one captured per-phase failure. Runs collect these instead
// of aborting on recoverable trouble.
type PhaseError struct {
	Message string `json:"message"`
	Phase   string `json:"phase"`
}

// PhaseMetrics is the timing record of one alarm run. Checkpoint fields are
// milliseconds elapsed since run start at the moment the phase completed, so
// in a successful primary run discovered ≤ getinfo ≤ adduser ≤ cloud_visible
// ≤ play ≤ total_duration.
type PhaseMetrics struct {
	DiscoveredMS    int64        `json:"discovered_ms"`
	GetInfoMS       int64        `json:"getinfo_ms"`
	AddUserMS       int64        `json:"adduser_ms"`
	CloudVisibleMS  int64        `json:"cloud_visible_ms"`
	PlayMS          int64        `json:"play_ms"`
	TotalDurationMS int64        `json:"total_duration_ms"`
	Branch          string       `json:"branch"`
	Errors          []PhaseError `json:"errors,omitempty"`

	// FinalState is the run's last wake state, for run-history recording. It
	// stays out of the serialized timing record.
	FinalState string `json:"-"`
}

func (m *PhaseMetrics) addError(message, phase string) {
	m.Errors = append(m.Errors, PhaseError{Message: message, Phase: phase})
}

// phaseFailure is a structured primary-path failure that should drive the
// fallback ladder under its reason label.
type phaseFailure struct {
	reason string
	phase  string
}

func (e *phaseFailure) Error() string {
	return fmt.Sprintf("phase %s failed: %s", e.phase, e.reason)
}
