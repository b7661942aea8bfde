package classifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"alertrelay/internal/domain"

	"github.com/jellydator/ttlcache/v3"
)

// SharedCache is an optional cross-replica cache tier.
// Params: fingerprint keys and classification values.
// Returns: hit flag on Get; errors are treated as misses by callers.
type SharedCache interface {
	Get(ctx context.Context, fingerprint string) (domain.Classification, bool, error)
	Set(ctx context.Context, fingerprint string, value domain.Classification, ttl time.Duration) error
}

// sharedWriteTimeout bounds one detached L2 write.
const sharedWriteTimeout = 2 * time.Second

// Cache combines an in-process LRU+TTL tier with an optional shared tier.
type Cache struct {
	local     *ttlcache.Cache[string, domain.Classification]
	shared    SharedCache
	sharedTTL time.Duration
	logger    *slog.Logger

	writes sync.WaitGroup
}

// NewCache creates a tiered cache.
// Params: L1 capacity and TTL, optional shared tier with its TTL, and logger.
// Returns: cache; call Start to run expiry cleanup and Stop on shutdown.
func NewCache(size int, ttl time.Duration, shared SharedCache, sharedTTL time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	local := ttlcache.New[string, domain.Classification](
		ttlcache.WithTTL[string, domain.Classification](ttl),
		ttlcache.WithCapacity[string, domain.Classification](uint64(size)),
		ttlcache.WithDisableTouchOnHit[string, domain.Classification](),
	)
	return &Cache{local: local, shared: shared, sharedTTL: sharedTTL, logger: logger}
}

// Start runs the L1 expiry loop until Stop.
func (c *Cache) Start() {
	go c.local.Start()
}

// Stop waits for pending shared writes and ends the L1 expiry loop.
func (c *Cache) Stop() {
	c.Flush()
	c.local.Stop()
}

// Flush blocks until in-flight shared writes finish.
func (c *Cache) Flush() {
	c.writes.Wait()
}

// Len returns the L1 entry count.
func (c *Cache) Len() int {
	return c.local.Len()
}

// Get returns a non-expired classification for fingerprint.
// Params: ctx bounding the shared tier lookup and fingerprint key.
// Returns: cached value and hit flag; L2 hits back-fill L1.
func (c *Cache) Get(ctx context.Context, fingerprint string) (domain.Classification, bool) {
	if item := c.local.Get(fingerprint); item != nil {
		return item.Value(), true
	}
	if c.shared == nil {
		return domain.Classification{}, false
	}
	value, ok, err := c.shared.Get(ctx, fingerprint)
	if err != nil {
		c.logger.Warn("shared cache get failed", "fingerprint", fingerprint, "error", err.Error())
		return domain.Classification{}, false
	}
	if !ok {
		return domain.Classification{}, false
	}
	c.local.Set(fingerprint, value, ttlcache.DefaultTTL)
	return value, true
}

// Set stores a provider classification in both tiers.
// Params: ctx whose values (not cancellation) carry into the shared write, fingerprint key, and value.
// Returns: none; the shared write runs in the background and failures are logged.
func (c *Cache) Set(ctx context.Context, fingerprint string, value domain.Classification) {
	c.local.Set(fingerprint, value, ttlcache.DefaultTTL)
	if c.shared == nil {
		return
	}
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedWriteTimeout)
		defer cancel()
		if err := c.shared.Set(writeCtx, fingerprint, value, c.sharedTTL); err != nil {
			c.logger.Warn("shared cache set failed", "fingerprint", fingerprint, "error", err.Error())
		}
	}()
}
