package ingest

import (
	"testing"
	"time"

	"alertrelay/internal/config"
	"alertrelay/internal/orchestrator"
	"alertrelay/test/testutil"
)

func TestNATSSubscriberProcessesWebhooks(t *testing.T) {
	url, stop := testutil.StartLocalNATSServer(t)
	defer stop()
	nc := testutil.ConnectNATS(t, url)

	cfg := config.NATSIngestConfig{
		Enabled:       true,
		Subject:       "test.webhooks",
		Stream:        "TEST_WEBHOOKS",
		ConsumerName:  "test-ingest",
		DeliverGroup:  "test-workers",
		Workers:       2,
		AckWaitSec:    5,
		NackDelayMS:   50,
		MaxDeliver:    3,
		MaxAckPending: 16,
	}
	processor := &processorStub{status: orchestrator.StatusPartial}
	subscriber, err := NewNATSSubscriber(nc, cfg, processor, time.Second, nil, nil)
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	defer subscriber.Close()

	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	if _, err := js.Publish(cfg.Subject, []byte(`not-json`)); err != nil {
		t.Fatalf("publish invalid: %v", err)
	}
	if _, err := js.Publish(cfg.Subject, []byte(webhookJSON(alertJSON("DiskFull", "db-1")))); err != nil {
		t.Fatalf("publish valid: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for processor.calls() < 1 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if processor.calls() != 1 {
		t.Fatalf("expected one processed batch, got %d", processor.calls())
	}
	time.Sleep(200 * time.Millisecond)
	if processor.calls() != 1 {
		t.Fatalf("acked batch must not be redelivered, got %d calls", processor.calls())
	}
	if !processor.deadline {
		t.Fatalf("expected per-message deadline")
	}
}

func TestNATSSubscriberRedeliversFailedBatch(t *testing.T) {
	url, stop := testutil.StartLocalNATSServer(t)
	defer stop()
	nc := testutil.ConnectNATS(t, url)

	cfg := config.NATSIngestConfig{
		Subject:       "test.webhooks.failed",
		Stream:        "TEST_WEBHOOKS_FAILED",
		ConsumerName:  "test-ingest-failed",
		DeliverGroup:  "test-workers",
		Workers:       1,
		AckWaitSec:    5,
		NackDelayMS:   20,
		MaxDeliver:    3,
		MaxAckPending: 16,
	}
	processor := &processorStub{status: orchestrator.StatusFailed}
	subscriber, err := NewNATSSubscriber(nc, cfg, processor, time.Second, nil, nil)
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	defer subscriber.Close()

	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	if _, err := js.Publish(cfg.Subject, []byte(webhookJSON(alertJSON("DiskFull", "db-1")))); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for processor.calls() < cfg.MaxDeliver && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)
	if processor.calls() != cfg.MaxDeliver {
		t.Fatalf("expected %d deliveries, got %d", cfg.MaxDeliver, processor.calls())
	}
}
