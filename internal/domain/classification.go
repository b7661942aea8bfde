package domain

import (
	"strings"
	"time"
)

// Severity is normalized alert severity.
type Severity string

const (
	// SeverityCritical pages on-call.
	SeverityCritical Severity = "critical"
	// SeverityWarning needs attention soon.
	SeverityWarning Severity = "warning"
	// SeverityInfo is informational.
	SeverityInfo Severity = "info"
	// SeverityUnknown is used when a provider returns an unrecognized value.
	SeverityUnknown Severity = "unknown"
)

// ParseSeverity maps a free-form value onto known severities.
// Params: raw severity text.
// Returns: normalized severity, SeverityUnknown for unrecognized input.
func ParseSeverity(value string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityWarning:
		return SeverityWarning
	case SeverityInfo:
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}

// ClassificationSource records where a classification came from.
type ClassificationSource string

const (
	// SourceProvider marks a fresh provider answer.
	SourceProvider ClassificationSource = "provider"
	// SourceCache marks an L1/L2 cache hit.
	SourceCache ClassificationSource = "cache"
	// SourceFallback marks label-based rule classification.
	SourceFallback ClassificationSource = "fallback"
)

// Classification is the enrichment attached to one alert.
// Params: severity, category, confidence in [0,1], source, and recommendations.
// Returns: classifier output consumed by filter and formatters.
type Classification struct {
	Severity        Severity             `json:"severity"`
	Category        string               `json:"category"`
	Confidence      float64              `json:"confidence"`
	Source          ClassificationSource `json:"source"`
	Recommendations []string             `json:"recommendations,omitempty"`
	ClassifiedAt    time.Time            `json:"classified_at"`
}

// ClampConfidence keeps confidence inside [0,1].
func ClampConfidence(value float64) float64 {
	if value != value || value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// FilterAction is allow or deny.
type FilterAction string

const (
	// FilterAllow forwards alert to publishing.
	FilterAllow FilterAction = "allow"
	// FilterDeny drops alert from publishing.
	FilterDeny FilterAction = "deny"
)

// FilterDecision is the outcome of filter evaluation.
// Params: action, human reason, and name of the deciding rule.
// Returns: decision reported per alert.
type FilterDecision struct {
	Action FilterAction `json:"action"`
	Reason string       `json:"reason,omitempty"`
	Rule   string       `json:"rule,omitempty"`
}

// Allowed reports whether the alert proceeds to publishing.
func (d FilterDecision) Allowed() bool {
	return d.Action != FilterDeny
}
