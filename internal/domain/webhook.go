package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// WebhookPayload mirrors the Alertmanager webhook body.
// Params: receiver/group metadata and raw alerts array.
// Returns: transport model normalized by Normalize.
type WebhookPayload struct {
	Version           string            `json:"version,omitempty"`
	GroupKey          string            `json:"groupKey,omitempty"`
	TruncatedAlerts   int               `json:"truncatedAlerts,omitempty"`
	Status            string            `json:"status,omitempty"`
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels,omitempty"`
	CommonLabels      map[string]string `json:"commonLabels,omitempty"`
	CommonAnnotations map[string]string `json:"commonAnnotations,omitempty"`
	ExternalURL       string            `json:"externalURL,omitempty"`
	Alerts            []WebhookAlert    `json:"alerts"`
}

// WebhookAlert is one raw alert inside a webhook payload.
type WebhookAlert struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
}

// Batch is one validated webhook request.
// Params: receiver metadata, normalized alerts, and receive time.
// Returns: orchestrator input.
type Batch struct {
	Receiver     string
	GroupKey     string
	Status       string
	ExternalURL  string
	CommonLabels map[string]string
	Alerts       []Alert
	ReceivedAt   time.Time
}

// Normalize validates payload and converts raw alerts into domain alerts.
// Params: now is receive time used when startsAt is omitted.
// Returns: validated batch or error naming the first broken alert.
func (p WebhookPayload) Normalize(now time.Time) (Batch, error) {
	if len(p.Alerts) == 0 {
		return Batch{}, errors.New("alerts must contain at least one alert")
	}
	batch := Batch{
		Receiver:     strings.TrimSpace(p.Receiver),
		GroupKey:     p.GroupKey,
		Status:       p.Status,
		ExternalURL:  p.ExternalURL,
		CommonLabels: CloneLabels(p.CommonLabels),
		Alerts:       make([]Alert, 0, len(p.Alerts)),
		ReceivedAt:   now.UTC(),
	}
	for i, raw := range p.Alerts {
		alert, err := raw.normalize(now)
		if err != nil {
			return Batch{}, fmt.Errorf("alerts[%d]: %w", i, err)
		}
		batch.Alerts = append(batch.Alerts, alert)
	}
	return batch, nil
}

// normalize converts one raw alert into domain form.
// Params: now fallback for missing startsAt.
// Returns: validated alert.
func (w WebhookAlert) normalize(now time.Time) (Alert, error) {
	alert := Alert{
		Fingerprint:  strings.TrimSpace(w.Fingerprint),
		Status:       AlertStatus(strings.ToLower(strings.TrimSpace(w.Status))),
		Labels:       CloneLabels(w.Labels),
		Annotations:  CloneLabels(w.Annotations),
		StartsAt:     w.StartsAt.UTC(),
		GeneratorURL: w.GeneratorURL,
	}
	if alert.StartsAt.IsZero() {
		alert.StartsAt = now.UTC()
	}
	if !w.EndsAt.IsZero() {
		endsAt := w.EndsAt.UTC()
		alert.EndsAt = &endsAt
	}
	if alert.Fingerprint == "" && len(alert.Labels) > 0 {
		alert.Fingerprint = Fingerprint(alert.Labels)
	}
	if err := alert.Validate(); err != nil {
		return Alert{}, err
	}
	return alert, nil
}
