package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"alertrelay/internal/domain"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSCache stores classifications in a JetStream KV bucket.
// Params: KV bucket handle; entry lifetime is the bucket TTL.
// Returns: SharedCache implementation.
type NATSCache struct {
	kv jetstream.KeyValue
}

// NewNATSCache opens or creates the classification bucket.
// Params: setup ctx, NATS connection, bucket name, and bucket-wide TTL.
// Returns: shared cache or bucket setup error.
func NewNATSCache(ctx context.Context, nc *nats.Conn, bucket string, ttl time.Duration) (*NATSCache, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream init for cache: %w", err)
	}
	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, fmt.Errorf("open cache bucket %q: %w", bucket, err)
		}
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  bucket,
			TTL:     ttl,
			History: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("create cache bucket %q: %w", bucket, err)
		}
	}
	return &NATSCache{kv: kv}, nil
}

// Get reads one classification within ctx.
func (c *NATSCache) Get(ctx context.Context, fingerprint string) (domain.Classification, bool, error) {
	entry, err := c.kv.Get(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return domain.Classification{}, false, nil
		}
		return domain.Classification{}, false, fmt.Errorf("get classification: %w", err)
	}
	var value domain.Classification
	if err := json.Unmarshal(entry.Value(), &value); err != nil {
		return domain.Classification{}, false, fmt.Errorf("decode classification: %w", err)
	}
	return value, true, nil
}

// Set writes one classification; ttl is governed by the bucket.
func (c *NATSCache) Set(ctx context.Context, fingerprint string, value domain.Classification, _ time.Duration) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode classification: %w", err)
	}
	if _, err := c.kv.Put(ctx, fingerprint, body); err != nil {
		return fmt.Errorf("put classification: %w", err)
	}
	return nil
}
