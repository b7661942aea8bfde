package domain

import "time"

// Mode is the service-wide publishing mode.
type Mode string

const (
	// ModeNormal publishes to enabled targets.
	ModeNormal Mode = "normal"
	// ModeMetricsOnly classifies and records alerts without publishing.
	ModeMetricsOnly Mode = "metrics-only"
)

const (
	// ModeReasonInitial marks the state computed at startup.
	ModeReasonInitial = "initial"
	// ModeReasonTargetsAvailable marks metrics-only -> normal.
	ModeReasonTargetsAvailable = "targets_available"
	// ModeReasonNoEnabledTargets marks normal -> metrics-only.
	ModeReasonNoEnabledTargets = "no_enabled_targets"
)

// ModeSnapshot is one immutable view of mode state.
// Params: mode, enabled target count, transition counter, mode start time, and last reason.
// Returns: value read by request paths without locking.
type ModeSnapshot struct {
	Mode                 Mode      `json:"mode"`
	EnabledTargets       int       `json:"enabled_targets"`
	TransitionCount      int64     `json:"transition_count"`
	CurrentModeSince     time.Time `json:"current_mode_since"`
	LastTransitionReason string    `json:"last_transition_reason"`
}

// CurrentModeDuration returns time spent in the current mode.
// Params: now reference time.
// Returns: non-negative duration.
func (s ModeSnapshot) CurrentModeDuration(now time.Time) time.Duration {
	if s.CurrentModeSince.IsZero() || now.Before(s.CurrentModeSince) {
		return 0
	}
	return now.Sub(s.CurrentModeSince)
}
