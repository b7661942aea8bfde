package e2e

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"alertrelay/test/testutil"
)

func TestNATSIngestPublishesAndDeadLetters(t *testing.T) {
	port, err := freePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	natsURL, stopNATS := startLocalNATSServer(t)
	defer stopNATS()

	healthy := &targetCollector{}
	healthyServer := httptest.NewServer(http.HandlerFunc(healthy.Handle))
	defer healthyServer.Close()
	rejecting := &targetCollector{status: http.StatusNotFound}
	rejectingServer := httptest.NewServer(http.HandlerFunc(rejecting.Handle))
	defer rejectingServer.Close()

	configPath := writeConfig(t, e2eConfigPrefix(port, "nats", false)+
		e2eNATSSections(natsURL)+
		e2eWebhookTarget("healthy", healthyServer.URL, true)+
		e2eWebhookTarget("rejecting", rejectingServer.URL, true))
	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()
	waitReady(t, port)

	nc := testutil.ConnectNATS(t, natsURL)
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	if err := publishNATSWebhook(js, e2eAlertmanagerPayload("NodeDown", "critical", "node-7")); err != nil {
		t.Fatalf("%v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return healthy.Total() == 1 && streamMessages(js, e2eDLQStream) == 1
	})
	if rejecting.Total() != 1 {
		t.Fatalf("404 must not be retried, got %d attempts", rejecting.Total())
	}

	time.Sleep(300 * time.Millisecond)
	if healthy.Total() != 1 {
		t.Fatalf("partial batch must be acked without redelivery, got %d deliveries", healthy.Total())
	}

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	status, result := postWebhook(t, baseURL, e2eAlertmanagerPayload("NodeDown", "critical", "node-7"))
	if status != http.StatusMultiStatus || result.Status != "partial" {
		t.Fatalf("expected 207 partial over HTTP, got %d %+v", status, result)
	}

	cancel()
	waitServiceStop(t, done)
}
