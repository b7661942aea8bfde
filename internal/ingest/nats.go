package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alertrelay/internal/clock"
	"alertrelay/internal/config"
	"alertrelay/internal/deadletter"
	"alertrelay/internal/logging"
	"alertrelay/internal/orchestrator"

	"github.com/nats-io/nats.go"
)

const ingestStreamMaxAge = 24 * time.Hour

// NATSSubscriber consumes webhook payloads via JetStream queue consumer.
// Params: shared NATS connection, queue subscriptions, and webhook processor.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	subs    []*nats.Subscription
	logger  *slog.Logger
	clock   clock.Clock
	timeout time.Duration
}

// NewNATSSubscriber creates JetStream queue consumers for webhook ingestion.
// Params: connection owned by caller, ingest config, processor, per-message deadline, clock, and logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(nc *nats.Conn, cfg config.NATSIngestConfig, processor WebhookProcessor, timeout time.Duration, clk clock.Clock, logger *slog.Logger) (*NATSSubscriber, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}
	if err := deadletter.EnsureStream(js, cfg.Stream, cfg.Subject, nats.WorkQueuePolicy, ingestStreamMaxAge); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	subscriber := &NATSSubscriber{logger: logger, clock: clk, timeout: timeout}
	ackWait := time.Duration(cfg.AckWaitSec) * time.Second
	nackDelay := time.Duration(cfg.NackDelayMS) * time.Millisecond
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, func(message *nats.Msg) {
			subscriber.handle(message, processor, nackDelay)
		}, subOpts...)
		if err != nil {
			_ = subscriber.Close()
			return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
		}
		subscriber.subs = append(subscriber.subs, sub)
	}
	return subscriber, nil
}

// handle processes one webhook message.
// Params: JetStream message, processor, and redelivery delay.
// Returns: invalid payloads acked and dropped; failed batches redelivered.
func (s *NATSSubscriber) handle(message *nats.Msg, processor WebhookProcessor, nackDelay time.Duration) {
	batch, err := decodeWebhook(message.Data, s.clock.Now())
	if err != nil {
		s.logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", err.Error())
		s.ackMessage(message, "decode")
		return
	}

	ctx := logging.IntoContext(context.Background(), s.logger.With("subject", message.Subject))
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	response := processor.ProcessWebhook(ctx, batch)
	if response.Status == orchestrator.StatusFailed {
		s.logger.Error("nats ingest batch failed", "subject", message.Subject, "request_id", response.RequestID, "error", response.Error)
		s.nackMessage(message, nackDelay)
		return
	}
	s.ackMessage(message, string(response.Status))
}

// ackMessage acknowledges processed/invalid message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if err := message.Ack(); err != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver message and logs nack failures.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains queue subscriptions; the connection belongs to the caller.
// Params: none.
// Returns: first drain error.
func (s *NATSSubscriber) Close() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.subs = nil
	return firstErr
}
