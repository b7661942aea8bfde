package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"alertrelay/internal/config"
	"alertrelay/internal/permanent"

	"github.com/nats-io/nats.go"
)

const dlqStreamMaxAge = 7 * 24 * time.Hour

const (
	replayAckWait    = 30 * time.Second
	replayMaxDeliver = 5
)

// NATSQueue publishes dead-letter entries into a JetStream stream.
// Params: shared NATS connection owned by the caller.
// Returns: durable Sink for multi-replica deployments.
type NATSQueue struct {
	js      nats.JetStreamContext
	subject string
}

// NewNATSQueue ensures the dead-letter stream exists.
// Params: NATS connection and dead-letter config.
// Returns: queue or setup error.
func NewNATSQueue(nc *nats.Conn, cfg config.DeadLetterConfig) (*NATSQueue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init for dlq: %w", err)
	}
	if err := EnsureStream(js, cfg.Stream, cfg.Subject, nats.LimitsPolicy, dlqStreamMaxAge); err != nil {
		return nil, err
	}
	return &NATSQueue{js: js, subject: cfg.Subject}, nil
}

// Submit publishes one entry; Nats-Msg-Id deduplicates resubmits of the same entry.
func (q *NATSQueue) Submit(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = NewEntryID()
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}
	msg := nats.NewMsg(q.subject)
	msg.Data = body
	msg.Header.Set(nats.MsgIdHdr, entry.ID)
	if _, err := q.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (q *NATSQueue) Close() error {
	return nil
}

// EnsureStream ensures one JetStream stream exists with provided options.
// Params: JetStream context and stream settings.
// Returns: stream create/lookup error.
func EnsureStream(js nats.JetStreamContext, streamName, subject string, retention nats.RetentionPolicy, maxAge time.Duration) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: retention,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}

// ReplayFunc re-delivers one entry.
// Params: context and decoded entry.
// Returns: nil on success, permanent error to drop, other error to retry later.
type ReplayFunc func(ctx context.Context, entry Entry) error

// Replayer consumes the dead-letter stream and re-publishes entries.
// Params: durable queue consumer with delayed NAK between replays.
// Returns: worker lifecycle handle.
type Replayer struct {
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewReplayer starts the replay consumer.
// Params: NATS connection, dead-letter config, replay callback, and logger.
// Returns: running replayer or setup error.
func NewReplayer(nc *nats.Conn, cfg config.DeadLetterConfig, replay ReplayFunc, logger *slog.Logger) (*Replayer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init for dlq replay: %w", err)
	}
	if err := EnsureStream(js, cfg.Stream, cfg.Subject, nats.LimitsPolicy, dlqStreamMaxAge); err != nil {
		return nil, err
	}

	delay := time.Duration(cfg.ReplayDelayMS) * time.Millisecond
	replayer := &Replayer{logger: logger}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.ConsumerName, func(message *nats.Msg) {
		replayer.handle(message, replay, delay)
	},
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(replayAckWait),
		nats.MaxDeliver(replayMaxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return nil, fmt.Errorf("queue subscribe dlq %q/%q: %w", cfg.Subject, cfg.ConsumerName, err)
	}
	replayer.sub = sub
	return replayer, nil
}

// handle decodes and replays one message.
func (r *Replayer) handle(message *nats.Msg, replay ReplayFunc, delay time.Duration) {
	if message == nil {
		return
	}
	var entry Entry
	if err := json.Unmarshal(message.Data, &entry); err != nil {
		r.logger.Warn("dlq entry decode failed", "subject", message.Subject, "error", err.Error())
		_ = message.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replayAckWait)
	defer cancel()
	err := replay(ctx, entry)
	switch {
	case err == nil:
		r.logger.Info("dlq entry replayed", "entry_id", entry.ID, "target", entry.TargetName)
		_ = message.Ack()
	case permanent.Is(err):
		r.logger.Error("dlq entry dropped", "entry_id", entry.ID, "target", entry.TargetName, "reason", permanent.ReasonOf(err), "error", err.Error())
		_ = message.Term()
	default:
		r.logger.Warn("dlq replay failed", "entry_id", entry.ID, "target", entry.TargetName, "attempt", deliveryAttempts(message), "error", err.Error())
		if delay > 0 {
			_ = message.NakWithDelay(delay)
		} else {
			_ = message.Nak()
		}
	}
}

// Close drains the replay subscription.
func (r *Replayer) Close() error {
	if r == nil || r.sub == nil {
		return nil
	}
	return r.sub.Drain()
}

// deliveryAttempts returns number of delivery attempts from JetStream metadata.
func deliveryAttempts(message *nats.Msg) uint64 {
	metadata, err := message.Metadata()
	if err != nil || metadata == nil || metadata.NumDelivered <= 0 {
		return 1
	}
	return metadata.NumDelivered
}
