package orchestrator

import (
	"net/http"

	"alertrelay/internal/domain"
)

// Status is the overall batch outcome.
type Status string

const (
	// StatusSuccess means every alert was processed with no publish failures.
	StatusSuccess Status = "success"
	// StatusPartial means some alerts were filtered or some publishes failed.
	StatusPartial Status = "partial"
	// StatusFailed means no alert succeeded or processing aborted.
	StatusFailed Status = "failed"
)

// AlertStatus is the per-alert outcome.
type AlertStatus string

const (
	// AlertPublished means every target accepted the alert.
	AlertPublished AlertStatus = "published"
	// AlertPartial means some targets failed.
	AlertPartial AlertStatus = "partial"
	// AlertFailed means every target failed or processing aborted.
	AlertFailed AlertStatus = "failed"
	// AlertFiltered means a filter rule denied the alert.
	AlertFiltered AlertStatus = "filtered"
	// AlertMetricsOnly means no target was enabled.
	AlertMetricsOnly AlertStatus = "metrics_only"
)

// AlertResult is the structured outcome for one alert.
type AlertResult struct {
	Fingerprint         string                 `json:"fingerprint"`
	AlertName           string                 `json:"alert_name"`
	Status              AlertStatus            `json:"status"`
	Classification      *domain.Classification `json:"classification,omitempty"`
	ClassificationError string                 `json:"classification_error,omitempty"`
	Filter              *domain.FilterDecision `json:"filter,omitempty"`
	FilterError         string                 `json:"filter_error,omitempty"`
	PublishResults      []domain.PublishResult `json:"publish_results"`
	Error               string                 `json:"error,omitempty"`
}

// Summary counts alerts by pipeline stage.
type Summary struct {
	Received   int `json:"received"`
	Processed  int `json:"processed"`
	Classified int `json:"classified"`
	Filtered   int `json:"filtered"`
	Published  int `json:"published"`
	Failed     int `json:"failed"`
}

// PublishingSummary counts target deliveries across the batch.
type PublishingSummary struct {
	Mode             domain.Mode `json:"mode"`
	TargetsTotal     int         `json:"targets_total"`
	TargetsSucceeded int         `json:"targets_succeeded"`
	TargetsFailed    int         `json:"targets_failed"`
}

// Response is the transport-agnostic result of ProcessWebhook.
type Response struct {
	RequestID         string            `json:"request_id"`
	Status            Status            `json:"status"`
	Receiver          string            `json:"receiver,omitempty"`
	Summary           Summary           `json:"summary"`
	PublishingSummary PublishingSummary `json:"publishing_summary"`
	AlertResults      []AlertResult     `json:"alert_results"`
	DurationMS        int64             `json:"duration_ms"`
	Error             string            `json:"error,omitempty"`
}

// HTTPStatus maps overall status to 200/207/500.
func (r Response) HTTPStatus() int {
	switch r.Status {
	case StatusSuccess:
		return http.StatusOK
	case StatusPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// aggregate fills summary counters and overall status from alert results.
func aggregate(response *Response, aborted bool) {
	summary := Summary{Received: len(response.AlertResults)}
	publishing := PublishingSummary{Mode: response.PublishingSummary.Mode}
	degraded := false
	for _, result := range response.AlertResults {
		if result.Classification != nil {
			summary.Classified++
		}
		for _, publish := range result.PublishResults {
			publishing.TargetsTotal++
			if publish.Success {
				publishing.TargetsSucceeded++
			} else {
				publishing.TargetsFailed++
			}
		}
		switch result.Status {
		case AlertPublished, AlertMetricsOnly:
			summary.Processed++
			if result.Status == AlertPublished {
				summary.Published++
			}
		case AlertPartial:
			summary.Processed++
			summary.Published++
			degraded = true
		case AlertFiltered:
			summary.Processed++
			summary.Filtered++
			degraded = true
		default:
			summary.Failed++
			degraded = true
		}
	}
	response.Summary = summary
	response.PublishingSummary = publishing

	switch {
	case aborted:
		response.Status = StatusFailed
	case summary.Received > 0 && summary.Failed == summary.Received:
		response.Status = StatusFailed
	case degraded:
		response.Status = StatusPartial
	default:
		response.Status = StatusSuccess
	}
}
