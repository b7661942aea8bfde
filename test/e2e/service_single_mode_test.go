package e2e

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServiceMetricsOnlyWithoutEnabledTargets(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	collector := &targetCollector{}
	target := httptest.NewServer(http.HandlerFunc(collector.Handle))
	defer target.Close()

	configPath := writeConfig(t, e2eConfigPrefix(port, "single", false)+e2eWebhookTarget("paused", target.URL, false))
	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	status, result := postWebhook(t, baseURL, e2eAlertmanagerPayload("DiskFull", "critical", "db-1", "db-2"))
	if status != http.StatusOK || result.Status != "success" {
		t.Fatalf("expected 200 success, got %d %+v", status, result)
	}
	for i, alert := range result.AlertResults {
		if alert.Status != "metrics_only" {
			t.Fatalf("alert %d: expected metrics_only, got %q", i, alert.Status)
		}
	}
	if collector.Total() != 0 {
		t.Fatalf("disabled target must not receive deliveries")
	}

	resp, err := http.Post(baseURL+"/webhook", "application/json", nil)
	if err != nil {
		t.Fatalf("empty webhook request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", resp.StatusCode)
	}

	cancel()
	waitServiceStop(t, done)
}
