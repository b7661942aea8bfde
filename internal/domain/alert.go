package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/common/model"
)

// AlertStatus is Alertmanager lifecycle status of one alert.
// Params: firing/resolved constants.
// Returns: status used by filter scopes and target formatters.
type AlertStatus string

const (
	// AlertStatusFiring marks active alert.
	AlertStatusFiring AlertStatus = "firing"
	// AlertStatusResolved marks closed alert.
	AlertStatusResolved AlertStatus = "resolved"
)

const (
	// LabelAlertName is the conventional alert name label.
	LabelAlertName = "alertname"
	// LabelSeverity is the conventional severity label.
	LabelSeverity = "severity"
	// LabelNamespace is the default namespace label.
	LabelNamespace = "namespace"
	// LabelCategory lets producers pin the fallback category.
	LabelCategory = "category"
)

// Alert is one normalized alert from a webhook batch.
// Params: identity fingerprint, status, label/annotation maps, and lifecycle timestamps.
// Returns: immutable alert value passed through the pipeline.
type Alert struct {
	Fingerprint  string            `json:"fingerprint"`
	Status       AlertStatus       `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       *time.Time        `json:"endsAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

// Name returns alertname label value.
func (a Alert) Name() string {
	return a.Labels[LabelAlertName]
}

// IsFiring reports whether alert is active.
func (a Alert) IsFiring() bool {
	return a.Status == AlertStatusFiring
}

// Label returns one label value and presence flag.
// Params: label key.
// Returns: value and true when the label exists.
func (a Alert) Label(key string) (string, bool) {
	value, ok := a.Labels[key]
	return value, ok
}

// Validate checks alert invariants after normalization.
// Params: alert fields decoded from transport.
// Returns: validation error when the alert cannot be processed.
func (a Alert) Validate() error {
	switch a.Status {
	case AlertStatusFiring, AlertStatusResolved:
	case "":
		return errors.New("status is required")
	default:
		return fmt.Errorf("unsupported status %q", a.Status)
	}
	if len(a.Labels) == 0 {
		return errors.New("labels are required")
	}
	for key := range a.Labels {
		if strings.TrimSpace(key) == "" {
			return errors.New("label name must not be empty")
		}
	}
	if strings.TrimSpace(a.Fingerprint) == "" {
		return errors.New("fingerprint is required")
	}
	if a.StartsAt.IsZero() {
		return errors.New("startsAt is required")
	}
	if a.EndsAt != nil && a.EndsAt.Before(a.StartsAt) {
		return errors.New("endsAt must not be before startsAt")
	}
	return nil
}

// Fingerprint derives stable alert identity from the label set.
// Params: alert labels.
// Returns: 16-digit hex fingerprint equal to Alertmanager's label fingerprint.
func Fingerprint(labels map[string]string) string {
	set := make(model.LabelSet, len(labels))
	for key, value := range labels {
		set[model.LabelName(key)] = model.LabelValue(value)
	}
	return set.Fingerprint().String()
}

// CloneLabels returns an independent copy of one label map.
func CloneLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
