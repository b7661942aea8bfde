package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServiceSmokeHealthReadyAndWebhook(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	collector := &targetCollector{}
	target := httptest.NewServer(http.HandlerFunc(collector.Handle))
	defer target.Close()

	configPath := writeConfig(t, e2eConfigPrefix(port, "single", false)+e2eWebhookTarget("ops-hook", target.URL, true))
	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	status, result := postWebhook(t, baseURL, e2eAlertmanagerPayload("DiskFull", "critical", "db-1"))
	if status != http.StatusOK || result.Status != "success" {
		t.Fatalf("expected 200 success, got %d %+v", status, result)
	}
	if result.Summary.Received != 1 || result.Summary.Published != 1 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
	if collector.Total() != 1 {
		t.Fatalf("expected one delivery, got %d", collector.Total())
	}
	envelope := collector.At(0)
	alert, _ := envelope["alert"].(map[string]any)
	labels, _ := alert["labels"].(map[string]any)
	if labels["alertname"] != "DiskFull" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	classification, _ := envelope["classification"].(map[string]any)
	if classification["severity"] != "critical" || classification["source"] != "fallback" {
		t.Fatalf("unexpected classification %+v", classification)
	}

	resp, err = http.Get(baseURL + "/mode")
	if err != nil {
		t.Fatalf("mode request: %v", err)
	}
	var mode struct {
		Mode           string `json:"mode"`
		EnabledTargets int    `json:"enabled_targets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&mode); err != nil {
		t.Fatalf("decode mode: %v", err)
	}
	_ = resp.Body.Close()
	if mode.Mode != "normal" || mode.EnabledTargets != 1 {
		t.Fatalf("unexpected mode %+v", mode)
	}

	resp, err = http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "alertrelay_webhooks_total") {
		t.Fatalf("expected webhook counter in metrics output")
	}

	cancel()
	waitServiceStop(t, done)
}

func TestServiceReportsPartialWhenOneTargetFails(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	healthy := &targetCollector{}
	broken := &targetCollector{status: http.StatusBadGateway}
	healthyServer := httptest.NewServer(http.HandlerFunc(healthy.Handle))
	defer healthyServer.Close()
	brokenServer := httptest.NewServer(http.HandlerFunc(broken.Handle))
	defer brokenServer.Close()

	configPath := writeConfig(t, e2eConfigPrefix(port, "single", false)+
		e2eWebhookTarget("healthy", healthyServer.URL, true)+
		e2eWebhookTarget("broken", brokenServer.URL, true))
	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	status, result := postWebhook(t, baseURL, e2eAlertmanagerPayload("HighLatency", "warning", "api-1"))
	if status != http.StatusMultiStatus || result.Status != "partial" {
		t.Fatalf("expected 207 partial, got %d %+v", status, result)
	}
	if len(result.AlertResults) != 1 || result.AlertResults[0].Status != "partial" {
		t.Fatalf("unexpected alert results %+v", result.AlertResults)
	}
	if healthy.Total() != 1 {
		t.Fatalf("expected one healthy delivery, got %d", healthy.Total())
	}
	if broken.Total() != 3 {
		t.Fatalf("expected initial attempt plus two retries, got %d", broken.Total())
	}

	cancel()
	waitServiceStop(t, done)
}
