package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alertrelay/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ Recorder = Nop{}
var _ Recorder = (*Prometheus)(nil)

func TestPrometheusCountsPipelineEvents(t *testing.T) {
	t.Parallel()

	p, err := NewPrometheus()
	if err != nil {
		t.Fatalf("new prometheus: %v", err)
	}

	p.AlertsReceived(3)
	p.Classified(domain.SourceCache)
	p.Classified(domain.SourceCache)
	p.ProviderCall(20*time.Millisecond, errors.New("boom"))
	p.FilterDecision(domain.FilterDecision{Action: domain.FilterDeny, Rule: "drop-info"})
	p.Published(domain.PublishResult{TargetName: "slack", Success: true, Duration: time.Millisecond})
	p.Published(domain.PublishResult{TargetName: "pd", ErrorCode: "server_error", RetryCount: 3})
	p.DeadLettered("pd", "retries_exhausted")
	p.BreakerState("open")
	p.ModeChanged(domain.ModeSnapshot{Mode: domain.ModeMetricsOnly, TransitionCount: 2})

	if got := testutil.ToFloat64(p.alertsReceived); got != 3 {
		t.Fatalf("alerts received=%v", got)
	}
	if got := testutil.ToFloat64(p.classifications.WithLabelValues("cache")); got != 2 {
		t.Fatalf("cache classifications=%v", got)
	}
	if got := testutil.ToFloat64(p.filterDecisions.WithLabelValues("deny", "drop-info")); got != 1 {
		t.Fatalf("deny decisions=%v", got)
	}
	if got := testutil.ToFloat64(p.publishResults.WithLabelValues("pd", "server_error")); got != 1 {
		t.Fatalf("pd failures=%v", got)
	}
	if got := testutil.ToFloat64(p.publishRetries.WithLabelValues("pd")); got != 3 {
		t.Fatalf("pd retries=%v", got)
	}
	if got := testutil.ToFloat64(p.breakerState.WithLabelValues("open")); got != 1 {
		t.Fatalf("breaker open gauge=%v", got)
	}
	if got := testutil.ToFloat64(p.breakerState.WithLabelValues("closed")); got != 0 {
		t.Fatalf("breaker closed gauge=%v", got)
	}
	if got := testutil.ToFloat64(p.mode.WithLabelValues("metrics-only")); got != 1 {
		t.Fatalf("mode gauge=%v", got)
	}
}

func TestPrometheusHandlerExposesRegistry(t *testing.T) {
	t.Parallel()

	p, err := NewPrometheus()
	if err != nil {
		t.Fatalf("new prometheus: %v", err)
	}
	p.WebhookProcessed("partial", 15*time.Millisecond)

	recorder := httptest.NewRecorder()
	p.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(recorder.Body)
	if !strings.Contains(string(body), `alertrelay_webhooks_total{status="partial"} 1`) {
		t.Fatalf("metrics output missing webhook counter:\n%s", body)
	}
}
