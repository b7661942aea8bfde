package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"alertrelay/internal/classifier"
	"alertrelay/internal/config"
	"alertrelay/internal/domain"
	"alertrelay/internal/filter"
	"alertrelay/internal/mode"
	"alertrelay/internal/orchestrator"
	"alertrelay/internal/publish"
	"alertrelay/internal/targets"
)

type acceptingSender struct{}

func (acceptingSender) Send(context.Context, domain.Target, publish.Payload) (int, error) {
	return 202, nil
}

// BenchmarkWebhookThroughput measures the in-process pipeline for a 25-alert batch.
func BenchmarkWebhookThroughput(b *testing.B) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rules, err := filter.Compile(config.FilterConfig{
		FailMode: config.FailModeOpen,
		Rule: []config.FilterRuleConfig{
			{Name: "drop-info", Kind: config.FilterKindSeverity, Deny: []string{"info"}},
		},
	})
	if err != nil {
		b.Fatalf("compile rules: %v", err)
	}
	registry := targets.NewRegistry([]domain.Target{
		{Name: "hook-a", Type: domain.TargetTypeWebhook, Enabled: true, Endpoint: "http://127.0.0.1:1/a"},
		{Name: "hook-b", Type: domain.TargetTypeSlack, Enabled: true, Endpoint: "http://127.0.0.1:1/b"},
	}, logger)
	cls := classifier.New(nil, classifier.Options{Logger: logger})
	pipeline := orchestrator.New(orchestrator.Options{
		Classifier: cls,
		Filter:     rules,
		Targets:    registry,
		Mode:       mode.NewManager(registry, mode.Options{Logger: logger}),
		Publisher:  publish.New(publish.Options{Sender: acceptingSender{}, Logger: logger}),
		Logger:     logger,
	})

	batch := domain.Batch{Receiver: "bench", ReceivedAt: time.Now().UTC()}
	for i := 0; i < 25; i++ {
		batch.Alerts = append(batch.Alerts, domain.Alert{
			Fingerprint: fmt.Sprintf("fp-%02d", i),
			Status:      domain.AlertStatusFiring,
			Labels:      map[string]string{"alertname": "HighLatency", "severity": "warning", "instance": fmt.Sprintf("api-%d", i)},
			StartsAt:    batch.ReceivedAt,
		})
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		response := pipeline.ProcessWebhook(context.Background(), batch)
		if response.Status != orchestrator.StatusSuccess {
			b.Fatalf("unexpected status %s", response.Status)
		}
	}

	alertsPerSecond := float64(b.N*len(batch.Alerts)) / b.Elapsed().Seconds()
	b.ReportMetric(alertsPerSecond, "alerts/sec")
}
