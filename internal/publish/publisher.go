package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"alertrelay/internal/clock"
	"alertrelay/internal/deadletter"
	"alertrelay/internal/domain"
	"alertrelay/internal/metrics"

	"golang.org/x/sync/semaphore"
)

// Options configures the parallel publisher.
type Options struct {
	MaxConcurrency int
	Timeout        time.Duration
	Retry          RetryPolicy
	Formatters     map[string]Formatter
	Sender         Sender
	DeadLetter     deadletter.Sink
	Clock          clock.Clock
	Logger         *slog.Logger
	Metrics        metrics.Recorder
}

// Publisher fans one alert out to many targets.
// Params: formatter set, sender, retry policy, and bounded concurrency.
// Returns: per-target results; never deduplicates repeated publishes.
type Publisher struct {
	maxConcurrency int64
	timeout        time.Duration
	retry          RetryPolicy
	formatters     map[string]Formatter
	sender         Sender
	deadLetter     deadletter.Sink
	clock          clock.Clock
	logger         *slog.Logger
	metrics        metrics.Recorder
}

// New creates a publisher with defaults for unset options.
func New(opts Options) *Publisher {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = IsRetryableCode
	}
	if opts.Formatters == nil {
		opts.Formatters = Formatters()
	}
	if opts.Sender == nil {
		opts.Sender = DefaultSender(nil)
	}
	if opts.DeadLetter == nil {
		opts.DeadLetter = deadletter.Discard{}
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
	return &Publisher{
		maxConcurrency: int64(opts.MaxConcurrency),
		timeout:        opts.Timeout,
		retry:          opts.Retry,
		formatters:     opts.Formatters,
		sender:         opts.Sender,
		deadLetter:     opts.DeadLetter,
		clock:          opts.Clock,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
}

// PublishToTargets delivers alert to every enabled target concurrently.
// Params: request ctx, alert, classification, and request-local target snapshot.
// Returns: one result per enabled target in input order; empty slice for no targets.
func (p *Publisher) PublishToTargets(ctx context.Context, alert domain.Alert, cls domain.Classification, targets []domain.Target) []domain.PublishResult {
	enabled := make([]domain.Target, 0, len(targets))
	for _, target := range targets {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}
	results := make([]domain.PublishResult, len(enabled))
	if len(enabled) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(p.maxConcurrency)
	var wg sync.WaitGroup
	for i, target := range enabled {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(enabled); j++ {
				results[j] = canceledResult(enabled[j], err)
				p.metrics.Published(results[j])
			}
			break
		}
		wg.Add(1)
		go func(i int, target domain.Target) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if recovered := recover(); recovered != nil {
					p.logger.Error("publish panicked", "target", target.Name, "fingerprint", alert.Fingerprint, "panic", fmt.Sprint(recovered))
					results[i] = domain.PublishResult{
						TargetName: target.Name,
						TargetType: target.Type,
						ErrorCode:  CodeConnectionError,
						Error:      fmt.Sprintf("panic: %v", recovered),
					}
				}
			}()
			results[i] = p.deliver(ctx, alert, cls, target, true)
		}(i, target)
	}
	wg.Wait()
	return results
}

// Deliver sends alert to one target without dead-letter submission.
// Params: ctx, alert, classification, and target.
// Returns: final result after retries.
func (p *Publisher) Deliver(ctx context.Context, alert domain.Alert, cls domain.Classification, target domain.Target) domain.PublishResult {
	return p.deliver(ctx, alert, cls, target, false)
}

// deliver formats and sends with the explicit retry loop.
func (p *Publisher) deliver(ctx context.Context, alert domain.Alert, cls domain.Classification, target domain.Target, useDeadLetter bool) domain.PublishResult {
	started := p.clock.Now()
	result := domain.PublishResult{TargetName: target.Name, TargetType: target.Type}
	logger := p.logger.With("target", target.Name, "target_type", target.Type, "fingerprint", alert.Fingerprint)

	payload, err := Format(p.formatters, target, alert, cls)
	if err != nil {
		result.ErrorCode = ClassifyError(ctx, err, 0)
		result.Error = err.Error()
		result.Duration = clock.Since(p.clock, started)
		logger.Error("format payload failed", "error_code", result.ErrorCode, "error", err.Error())
		p.finish(ctx, alert, cls, target, payload, result, 1, useDeadLetter)
		return result
	}

	attempt := 0
	for {
		attempt++
		status, sendErr := p.attempt(ctx, target, payload)
		result.StatusCode = status
		result.RetryCount = attempt - 1
		if sendErr == nil {
			result.Success = true
			result.ErrorCode = ""
			result.Error = ""
			if attempt > 1 {
				logger.Info("publish recovered after retries", "attempt", attempt)
			}
			break
		}

		result.ErrorCode = ClassifyError(ctx, sendErr, status)
		result.Error = sendErr.Error()
		if result.ErrorCode == CodeCanceled || !p.retry.ShouldRetry(result.ErrorCode, attempt) {
			logger.Warn("publish failed", "attempt", attempt, "status", status, "error_code", result.ErrorCode, "error", sendErr.Error())
			break
		}
		logger.Debug("publish attempt failed, retrying", "attempt", attempt, "error_code", result.ErrorCode, "error", sendErr.Error())
		if err := wait(ctx, p.retry.Delay(attempt-1)); err != nil {
			result.ErrorCode = CodeCanceled
			result.Error = err.Error()
			break
		}
	}
	result.Duration = clock.Since(p.clock, started)
	p.finish(ctx, alert, cls, target, payload, result, attempt, useDeadLetter)
	return result
}

// attempt runs one send bounded by the per-target timeout.
func (p *Publisher) attempt(ctx context.Context, target domain.Target, payload Payload) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.sender.Send(attemptCtx, target, payload)
}

// finish records metrics and submits dead-letter entries for final failures.
func (p *Publisher) finish(ctx context.Context, alert domain.Alert, cls domain.Classification, target domain.Target, payload Payload, result domain.PublishResult, attempts int, useDeadLetter bool) {
	p.metrics.Published(result)
	if result.Success || !useDeadLetter || result.ErrorCode == CodeCanceled {
		return
	}

	reason := deadletter.ReasonPermanentError
	if IsRetryableCode(result.ErrorCode) {
		reason = deadletter.ReasonRetriesExhausted
	}
	entry := deadletter.Entry{
		ID:             deadletter.NewEntryID(),
		Alert:          alert,
		Classification: cls,
		TargetName:     target.Name,
		TargetType:     target.Type,
		Payload:        payload.Body,
		Reason:         reason,
		ErrorCode:      result.ErrorCode,
		Error:          result.Error,
		Attempts:       attempts,
		FailedAt:       p.clock.Now(),
	}
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.deadLetter.Submit(submitCtx, entry); err != nil {
		p.logger.Error("dead-letter submit failed", "target", target.Name, "fingerprint", alert.Fingerprint, "error", err.Error())
		return
	}
	p.metrics.DeadLettered(target.Name, string(reason))
}

func canceledResult(target domain.Target, err error) domain.PublishResult {
	return domain.PublishResult{
		TargetName: target.Name,
		TargetType: target.Type,
		ErrorCode:  CodeCanceled,
		Error:      err.Error(),
	}
}
