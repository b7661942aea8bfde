package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"alertrelay/internal/clock"
	"alertrelay/internal/domain"
	"alertrelay/internal/logging"
	"alertrelay/internal/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Classifier assigns a classification to one alert.
type Classifier interface {
	Classify(ctx context.Context, alert domain.Alert) (domain.Classification, error)
}

// Filter decides whether one alert is forwarded.
type Filter interface {
	Evaluate(alert domain.Alert, cls domain.Classification) (domain.FilterDecision, error)
}

// TargetSource returns the request-local list of enabled targets.
type TargetSource interface {
	Enabled() []domain.Target
}

// ModeReader exposes the current publishing mode for reporting.
type ModeReader interface {
	GetModeMetrics() domain.ModeSnapshot
}

// Publisher delivers one alert to targets.
type Publisher interface {
	PublishToTargets(ctx context.Context, alert domain.Alert, cls domain.Classification, targets []domain.Target) []domain.PublishResult
}

// Storage persists alerts for audit.
type Storage interface {
	Store(ctx context.Context, alert domain.Alert) error
}

// Options configures the orchestrator.
type Options struct {
	Classifier     Classifier
	Filter         Filter
	Targets        TargetSource
	Mode           ModeReader
	Publisher      Publisher
	Storage        Storage
	MaxConcurrency int
	StoreTimeout   time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
	Metrics        metrics.Recorder
}

type filterHolder struct {
	filter Filter
}

type allowAll struct{}

func (allowAll) Evaluate(domain.Alert, domain.Classification) (domain.FilterDecision, error) {
	return domain.FilterDecision{Action: domain.FilterAllow}, nil
}

// Orchestrator drives each alert through classify, filter, and publish.
// Params: pipeline collaborators and per-batch concurrency bound.
// Returns: transport-agnostic responses; never aborts a batch for one alert.
type Orchestrator struct {
	classifier     Classifier
	filter         atomic.Pointer[filterHolder]
	targets        TargetSource
	mode           ModeReader
	publisher      Publisher
	storage        Storage
	maxConcurrency int64
	storeTimeout   time.Duration
	clock          clock.Clock
	logger         *slog.Logger
	metrics        metrics.Recorder

	stores sync.WaitGroup
}

// New creates orchestrator with defaults for unset options.
func New(opts Options) *Orchestrator {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 10
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	o := &Orchestrator{
		classifier:     opts.Classifier,
		targets:        opts.Targets,
		mode:           opts.Mode,
		publisher:      opts.Publisher,
		storage:        opts.Storage,
		maxConcurrency: int64(opts.MaxConcurrency),
		storeTimeout:   opts.StoreTimeout,
		clock:          opts.Clock,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
	o.SetFilter(opts.Filter)
	return o
}

// SetFilter atomically replaces the filter used by new alerts.
func (o *Orchestrator) SetFilter(filter Filter) {
	if filter == nil {
		filter = allowAll{}
	}
	o.filter.Store(&filterHolder{filter: filter})
}

// ProcessWebhook processes one validated batch.
// Params: request ctx carrying the overall deadline, and batch.
// Returns: response with per-alert results; partial results survive cancellation.
func (o *Orchestrator) ProcessWebhook(ctx context.Context, batch domain.Batch) (response Response) {
	started := o.clock.Now()
	response = Response{
		RequestID:    uuid.NewString(),
		Receiver:     batch.Receiver,
		AlertResults: make([]AlertResult, len(batch.Alerts)),
	}
	logger := logging.FromContext(ctx, o.logger).With("request_id", response.RequestID, "receiver", batch.Receiver)
	if o.mode != nil {
		response.PublishingSummary.Mode = o.mode.GetModeMetrics().Mode
	}
	o.metrics.AlertsReceived(len(batch.Alerts))

	var wg sync.WaitGroup
	defer func() {
		recovered := recover()
		wg.Wait()
		if recovered != nil {
			logger.Error("webhook processing panicked", "panic", fmt.Sprint(recovered), "stack", string(debug.Stack()))
			response.Error = fmt.Sprintf("internal error: %v", recovered)
		}
		for i := range response.AlertResults {
			if response.AlertResults[i].Status == "" {
				response.AlertResults[i] = abortedResult(batch.Alerts[i], "processing aborted")
			}
		}
		aggregate(&response, recovered != nil)
		elapsed := clock.Since(o.clock, started)
		response.DurationMS = elapsed.Milliseconds()
		o.metrics.WebhookProcessed(string(response.Status), elapsed)
		logger.Info(
			"webhook processed",
			"status", response.Status,
			"received", response.Summary.Received,
			"published", response.Summary.Published,
			"filtered", response.Summary.Filtered,
			"failed", response.Summary.Failed,
			"duration_ms", response.DurationMS,
		)
	}()

	sem := semaphore.NewWeighted(o.maxConcurrency)
	for i, alert := range batch.Alerts {
		o.store(ctx, alert, logger)
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(batch.Alerts); j++ {
				response.AlertResults[j] = abortedResult(batch.Alerts[j], "canceled: "+err.Error())
			}
			break
		}
		wg.Add(1)
		go func(i int, alert domain.Alert) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				// A panicking alert fails alone; delivered siblings keep their results.
				if recovered := recover(); recovered != nil {
					logger.Error("alert processing panicked", "fingerprint", alert.Fingerprint, "panic", fmt.Sprint(recovered), "stack", string(debug.Stack()))
					response.AlertResults[i] = abortedResult(alert, fmt.Sprintf("internal error: %v", recovered))
				}
			}()
			response.AlertResults[i] = o.processAlert(ctx, alert, logger)
		}(i, alert)
	}
	wg.Wait()
	return response
}

// processAlert runs one alert through the pipeline.
func (o *Orchestrator) processAlert(ctx context.Context, alert domain.Alert, logger *slog.Logger) AlertResult {
	result := AlertResult{Fingerprint: alert.Fingerprint, AlertName: alert.Name(), PublishResults: []domain.PublishResult{}}
	logger = logger.With("fingerprint", alert.Fingerprint, "alertname", result.AlertName)

	cls, err := o.classifier.Classify(ctx, alert)
	result.Classification = &cls
	if err != nil {
		result.ClassificationError = err.Error()
		logger.Warn("classification degraded to fallback", "error", err.Error())
	}

	decision, err := o.filter.Load().filter.Evaluate(alert, cls)
	result.Filter = &decision
	o.metrics.FilterDecision(decision)
	if err != nil {
		result.FilterError = err.Error()
		logger.Error("filter evaluation failed", "rule", decision.Rule, "action", decision.Action, "error", err.Error())
	}
	if !decision.Allowed() {
		result.Status = AlertFiltered
		logger.Debug("alert filtered", "rule", decision.Rule, "reason", decision.Reason)
		return result
	}

	if err := ctx.Err(); err != nil {
		result.Status = AlertFailed
		result.Error = "canceled: " + err.Error()
		return result
	}

	targets := o.targets.Enabled()
	if len(targets) == 0 {
		result.Status = AlertMetricsOnly
		return result
	}

	result.PublishResults = o.publisher.PublishToTargets(ctx, alert, cls, targets)
	result.Status = publishStatus(result.PublishResults)
	return result
}

// store fires the audit write on a detached context.
func (o *Orchestrator) store(ctx context.Context, alert domain.Alert, logger *slog.Logger) {
	if o.storage == nil {
		return
	}
	o.stores.Add(1)
	go func() {
		defer o.stores.Done()
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.storeTimeout)
		defer cancel()
		if err := o.storage.Store(storeCtx, alert); err != nil {
			logger.Warn("alert store failed", "fingerprint", alert.Fingerprint, "error", err.Error())
		}
	}()
}

// WaitStores blocks until in-flight audit writes finish.
func (o *Orchestrator) WaitStores() {
	o.stores.Wait()
}

func publishStatus(results []domain.PublishResult) AlertStatus {
	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	switch {
	case len(results) == 0:
		return AlertMetricsOnly
	case succeeded == len(results):
		return AlertPublished
	case succeeded == 0:
		return AlertFailed
	default:
		return AlertPartial
	}
}

func abortedResult(alert domain.Alert, reason string) AlertResult {
	return AlertResult{
		Fingerprint:    alert.Fingerprint,
		AlertName:      alert.Name(),
		Status:         AlertFailed,
		PublishResults: []domain.PublishResult{},
		Error:          reason,
	}
}
