package classifier

import (
	"strings"
	"time"

	"alertrelay/internal/domain"
)

const (
	// FallbackConfidence is the fixed confidence of rule-based classification.
	FallbackConfidence = 0.6
	defaultCategory    = "general"
)

var severityAliases = map[string]domain.Severity{
	"critical":      domain.SeverityCritical,
	"crit":          domain.SeverityCritical,
	"page":          domain.SeverityCritical,
	"emergency":     domain.SeverityCritical,
	"fatal":         domain.SeverityCritical,
	"p1":            domain.SeverityCritical,
	"warning":       domain.SeverityWarning,
	"warn":          domain.SeverityWarning,
	"major":         domain.SeverityWarning,
	"error":         domain.SeverityWarning,
	"p2":            domain.SeverityWarning,
	"p3":            domain.SeverityWarning,
	"info":          domain.SeverityInfo,
	"informational": domain.SeverityInfo,
	"low":           domain.SeverityInfo,
	"none":          domain.SeverityInfo,
	"p4":            domain.SeverityInfo,
	"p5":            domain.SeverityInfo,
}

// categoryKeywords is scanned in order; first keyword found in alertname wins.
var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"cert", "security"},
	{"tls", "security"},
	{"auth", "security"},
	{"cpu", "resource"},
	{"memory", "resource"},
	{"mem", "resource"},
	{"disk", "resource"},
	{"filesystem", "resource"},
	{"oom", "resource"},
	{"latency", "performance"},
	{"slow", "performance"},
	{"throttl", "performance"},
	{"error", "availability"},
	{"down", "availability"},
	{"unreachable", "availability"},
	{"crashloop", "availability"},
	{"5xx", "availability"},
	{"network", "network"},
	{"dns", "network"},
	{"packet", "network"},
	{"backup", "data"},
	{"replication", "data"},
	{"node", "infrastructure"},
	{"pod", "infrastructure"},
	{"kube", "infrastructure"},
}

// Fallback classifies an alert from its labels only.
// Params: alert and classification time.
// Returns: total classification with source=fallback and fixed confidence.
func Fallback(alert domain.Alert, now time.Time) domain.Classification {
	return domain.Classification{
		Severity:     fallbackSeverity(alert.Labels[domain.LabelSeverity]),
		Category:     fallbackCategory(alert),
		Confidence:   FallbackConfidence,
		Source:       domain.SourceFallback,
		ClassifiedAt: now,
	}
}

// fallbackSeverity maps the severity label through the alias table; default info.
func fallbackSeverity(label string) domain.Severity {
	if severity, ok := severityAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return severity
	}
	return domain.SeverityInfo
}

// fallbackCategory prefers an explicit category label, then alertname keywords.
func fallbackCategory(alert domain.Alert) string {
	if category := strings.ToLower(strings.TrimSpace(alert.Labels[domain.LabelCategory])); category != "" {
		return category
	}
	name := strings.ToLower(alert.Name())
	for _, item := range categoryKeywords {
		if strings.Contains(name, item.keyword) {
			return item.category
		}
	}
	return defaultCategory
}
