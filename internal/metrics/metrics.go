package metrics

import (
	"fmt"
	"net/http"
	"time"

	"alertrelay/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertrelay"

// Recorder receives pipeline observations.
// Params: implementations must be safe for concurrent use.
// Returns: none; recording never fails the caller.
type Recorder interface {
	AlertsReceived(count int)
	Classified(source domain.ClassificationSource)
	ProviderCall(duration time.Duration, err error)
	BreakerState(state string)
	FilterDecision(decision domain.FilterDecision)
	Published(result domain.PublishResult)
	DeadLettered(target, reason string)
	ModeChanged(snapshot domain.ModeSnapshot)
	WebhookProcessed(status string, duration time.Duration)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) AlertsReceived(int) {}
func (Nop) Classified(domain.ClassificationSource) {}
func (Nop) ProviderCall(time.Duration, error) {}
func (Nop) BreakerState(string) {}
func (Nop) FilterDecision(domain.FilterDecision) {}
func (Nop) Published(domain.PublishResult) {}
func (Nop) DeadLettered(string, string) {}
func (Nop) ModeChanged(domain.ModeSnapshot) {}
func (Nop) WebhookProcessed(string, time.Duration) {}

// Prometheus records observations into a private registry.
// Params: counters, histograms, and gauges registered once at construction.
// Returns: Recorder plus HTTP exposition handler.
type Prometheus struct {
	registry *prometheus.Registry

	alertsReceived   prometheus.Counter
	classifications  *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
	filterDecisions  *prometheus.CounterVec
	publishResults   *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	publishRetries   *prometheus.CounterVec
	deadLetters      *prometheus.CounterVec
	mode             *prometheus.GaugeVec
	enabledTargets   prometheus.Gauge
	modeTransitions  prometheus.Gauge
	webhooks         *prometheus.CounterVec
	webhookDuration  prometheus.Histogram
}

// NewPrometheus builds and registers all collectors.
// Params: none.
// Returns: recorder or registration error.
func NewPrometheus() (*Prometheus, error) {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		alertsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_received_total",
			Help:      "Alerts received through webhooks.",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifications by source.",
		}, []string{"source"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_provider_duration_seconds",
			Help:      "Classification provider call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classifier_breaker_state",
			Help:      "Classifier circuit breaker state (1 for the active state).",
		}, []string{"state"}),
		filterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_decisions_total",
			Help:      "Filter decisions by action and rule.",
		}, []string{"action", "rule"}),
		publishResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_results_total",
			Help:      "Per-target publish outcomes.",
		}, []string{"target", "result"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Per-target publish latency including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"target"}),
		publishRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_retries_total",
			Help:      "Publish retries by target.",
		}, []string{"target"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Failed deliveries handed to the dead-letter sink.",
		}, []string{"target", "reason"}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "Current publishing mode (1 for the active mode).",
		}, []string{"mode"}),
		enabledTargets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled_targets",
			Help:      "Enabled publishing targets seen by the mode manager.",
		}),
		modeTransitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode_transitions",
			Help:      "Mode transitions since start.",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Processed webhook batches by overall status.",
		}, []string{"status"}),
		webhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "End-to-end webhook batch latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	toRegister := []prometheus.Collector{
		p.alertsReceived, p.classifications, p.providerDuration, p.breakerState,
		p.filterDecisions, p.publishResults, p.publishDuration, p.publishRetries,
		p.deadLetters, p.mode, p.enabledTargets, p.modeTransitions, p.webhooks,
		p.webhookDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := p.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return p, nil
}

// Handler exposes the private registry in Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Registry returns the private registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) AlertsReceived(count int) {
	p.alertsReceived.Add(float64(count))
}

func (p *Prometheus) Classified(source domain.ClassificationSource) {
	p.classifications.WithLabelValues(string(source)).Inc()
}

func (p *Prometheus) ProviderCall(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.providerDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// BreakerState marks state as the only active breaker state.
func (p *Prometheus) BreakerState(state string) {
	for _, known := range []string{"closed", "half-open", "open"} {
		value := 0.0
		if known == state {
			value = 1
		}
		p.breakerState.WithLabelValues(known).Set(value)
	}
}

func (p *Prometheus) FilterDecision(decision domain.FilterDecision) {
	p.filterDecisions.WithLabelValues(string(decision.Action), decision.Rule).Inc()
}

// Published records one final per-target outcome.
func (p *Prometheus) Published(result domain.PublishResult) {
	outcome := "success"
	if !result.Success {
		outcome = result.ErrorCode
		if outcome == "" {
			outcome = "error"
		}
	}
	p.publishResults.WithLabelValues(result.TargetName, outcome).Inc()
	p.publishDuration.WithLabelValues(result.TargetName).Observe(result.Duration.Seconds())
	if result.RetryCount > 0 {
		p.publishRetries.WithLabelValues(result.TargetName).Add(float64(result.RetryCount))
	}
}

func (p *Prometheus) DeadLettered(target, reason string) {
	p.deadLetters.WithLabelValues(target, reason).Inc()
}

// ModeChanged exports the current mode snapshot.
func (p *Prometheus) ModeChanged(snapshot domain.ModeSnapshot) {
	for _, mode := range []domain.Mode{domain.ModeNormal, domain.ModeMetricsOnly} {
		value := 0.0
		if mode == snapshot.Mode {
			value = 1
		}
		p.mode.WithLabelValues(string(mode)).Set(value)
	}
	p.enabledTargets.Set(float64(snapshot.EnabledTargets))
	p.modeTransitions.Set(float64(snapshot.TransitionCount))
}

func (p *Prometheus) WebhookProcessed(status string, duration time.Duration) {
	p.webhooks.WithLabelValues(status).Inc()
	p.webhookDuration.Observe(duration.Seconds())
}
