package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"alertrelay/internal/clock"
	"alertrelay/internal/domain"
	"alertrelay/internal/metrics"
)

// Options configures a Classifier.
// Params: provider timeout, cache tiers, breaker thresholds, and collaborators.
// Returns: construction settings.
type Options struct {
	Timeout          time.Duration
	CacheSize        int
	CacheTTL         time.Duration
	Shared           SharedCache
	SharedTTL        time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	Clock            clock.Clock
	Logger           *slog.Logger
	Metrics          metrics.Recorder
}

// Classifier enriches alerts with severity, category, and confidence.
// Params: optional provider, tiered cache, and circuit breaker.
// Returns: total classification; every alert gets a usable result.
type Classifier struct {
	provider Provider
	cache    *Cache
	breaker  *Breaker
	timeout  time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	metrics  metrics.Recorder
}

// New creates a classifier.
// Params: provider (nil means fallback-only) and options.
// Returns: classifier; call Start/Stop to manage cache expiry.
func New(provider Provider, opts Options) *Classifier {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}
	if opts.SharedTTL <= 0 {
		opts.SharedTTL = opts.CacheTTL
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}

	c := &Classifier{
		provider: provider,
		cache:    NewCache(opts.CacheSize, opts.CacheTTL, opts.Shared, opts.SharedTTL, opts.Logger),
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	c.breaker = NewBreaker("classifier", opts.FailureThreshold, opts.Cooldown, func(from, to string) {
		c.logger.Warn("classifier breaker state changed", "from", from, "to", to)
		c.metrics.BreakerState(to)
	})
	c.metrics.BreakerState(c.breaker.State())
	return c
}

// Start runs cache maintenance.
func (c *Classifier) Start() {
	c.cache.Start()
}

// Stop ends cache maintenance.
func (c *Classifier) Stop() {
	c.cache.Stop()
}

// BreakerState exposes the current breaker state.
func (c *Classifier) BreakerState() string {
	return c.breaker.State()
}

// errCallerGone marks classifications abandoned because the caller's context ended.
var errCallerGone = errors.New("caller context done")

// Classify returns a classification for alert.
// Params: ctx carrying the request deadline and alert.
// Returns: classification (never empty) and the provider error that forced fallback, if any.
// The shared cache lookup and the provider call share one deadline of the configured timeout.
func (c *Classifier) Classify(ctx context.Context, alert domain.Alert) (domain.Classification, error) {
	deadline := time.Now().Add(c.timeout)

	lookupCtx, cancelLookup := context.WithDeadline(ctx, deadline)
	cached, ok := c.cache.Get(lookupCtx, alert.Fingerprint)
	cancelLookup()
	if ok {
		cached.Source = domain.SourceCache
		c.metrics.Classified(domain.SourceCache)
		return cached, nil
	}

	if c.provider == nil {
		return c.fallback(alert), nil
	}
	if err := ctx.Err(); err != nil {
		return c.fallback(alert), fmt.Errorf("%w: %v", errCallerGone, err)
	}
	if !time.Now().Before(deadline) {
		return c.fallback(alert), fmt.Errorf("classification budget spent on cache lookup: %w", context.DeadlineExceeded)
	}

	classification, err := c.classifyWithProvider(ctx, alert, deadline)
	if err != nil {
		switch {
		case IsRejected(err):
			c.logger.Debug("classifier breaker open, using fallback", "fingerprint", alert.Fingerprint)
		case errors.Is(err, errCallerGone):
			c.logger.Debug("caller left before classification finished", "fingerprint", alert.Fingerprint)
		default:
			c.logger.Warn("classifier provider failed, using fallback",
				"provider", c.provider.Name(),
				"fingerprint", alert.Fingerprint,
				"error", err.Error(),
			)
		}
		return c.fallback(alert), err
	}
	c.metrics.Classified(domain.SourceProvider)
	return classification, nil
}

// fallback builds a rule classification and records it.
func (c *Classifier) fallback(alert domain.Alert) domain.Classification {
	c.metrics.Classified(domain.SourceFallback)
	return Fallback(alert, c.clock.Now())
}

// classifyWithProvider runs the breaker-guarded provider call in the background.
// Params: caller ctx, alert, and shared deadline.
// Returns: provider classification, provider/breaker error, or errCallerGone when ctx ended first.
// The provider runs on a detached context bounded by deadline, so the breaker always records
// the provider's own outcome and a finished result is cached even after the caller left.
func (c *Classifier) classifyWithProvider(ctx context.Context, alert domain.Alert, deadline time.Time) (domain.Classification, error) {
	type outcome struct {
		classification domain.Classification
		err            error
	}
	done := make(chan outcome, 1)
	go func() {
		callCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
		defer cancel()
		result, err := c.breaker.Execute(func() (ProviderResult, error) {
			return c.callProvider(callCtx, alert)
		})
		if err != nil {
			done <- outcome{err: err}
			return
		}
		classification := result.toClassification(c.clock.Now())
		c.cache.Set(callCtx, alert.Fingerprint, classification)
		done <- outcome{classification: classification}
	}()

	select {
	case out := <-done:
		return out.classification, out.err
	case <-ctx.Done():
		return domain.Classification{}, fmt.Errorf("%w: %v", errCallerGone, ctx.Err())
	}
}

// callProvider runs the provider under callCtx's deadline even when it ignores ctx.
// Params: detached call ctx and alert.
// Returns: provider verdict, panic error, or timeout error.
func (c *Classifier) callProvider(callCtx context.Context, alert domain.Alert) (ProviderResult, error) {
	type outcome struct {
		result ProviderResult
		err    error
	}
	done := make(chan outcome, 1)
	started := time.Now()
	budget := c.timeout
	if deadline, ok := callCtx.Deadline(); ok {
		budget = time.Until(deadline)
	}
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- outcome{err: fmt.Errorf("provider panic: %v", recovered)}
			}
		}()
		result, err := c.provider.Classify(callCtx, alert, budget)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		c.metrics.ProviderCall(time.Since(started), out.err)
		return out.result, out.err
	case <-callCtx.Done():
		err := fmt.Errorf("provider timed out after %s: %w", c.timeout, context.DeadlineExceeded)
		c.metrics.ProviderCall(time.Since(started), err)
		return ProviderResult{}, err
	}
}

// IsTimeout reports whether a Classify error was a provider timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
