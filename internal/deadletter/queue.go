package deadletter

import (
	"context"
	"sync"
	"time"

	"alertrelay/internal/domain"

	"github.com/google/uuid"
)

// Reason identifies why a delivery was moved to the dead-letter queue.
type Reason string

const (
	// ReasonRetriesExhausted marks retryable failures that ran out of attempts.
	ReasonRetriesExhausted Reason = "retries_exhausted"
	// ReasonPermanentError marks non-retryable failures.
	ReasonPermanentError Reason = "permanent_error"
)

// Entry is one failed (alert, target, payload) tuple.
// Params: alert snapshot, classification, target name/type, rendered payload, and failure metadata.
// Returns: record kept for out-of-band reprocessing.
type Entry struct {
	ID             string                `json:"id"`
	Alert          domain.Alert          `json:"alert"`
	Classification domain.Classification `json:"classification"`
	TargetName     string                `json:"target_name"`
	TargetType     string                `json:"target_type"`
	Payload        []byte                `json:"payload,omitempty"`
	Reason         Reason                `json:"reason"`
	ErrorCode      string                `json:"error_code"`
	Error          string                `json:"error"`
	Attempts       int                   `json:"attempts"`
	FailedAt       time.Time             `json:"failed_at"`
}

// NewEntryID returns a unique dead-letter entry id.
func NewEntryID() string {
	return uuid.NewString()
}

// Sink accepts failed deliveries.
// Params: context and entry.
// Returns: submit error; callers log and continue.
type Sink interface {
	Submit(ctx context.Context, entry Entry) error
	Close() error
}

// MemoryQueue keeps the newest entries in a bounded in-process buffer.
// Params: capacity; oldest entries are evicted when full.
// Returns: Sink for single-instance deployments and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	capacity int
	items    []Entry
	dropped  int
}

// NewMemoryQueue creates bounded in-memory sink.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryQueue{capacity: capacity}
}

// Submit appends one entry, evicting the oldest when full.
func (q *MemoryQueue) Submit(_ context.Context, entry Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry.ID == "" {
		entry.ID = NewEntryID()
	}
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, entry)
	return nil
}

// Entries returns a copy of queued entries, oldest first.
func (q *MemoryQueue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.items...)
}

// Drain removes and returns all queued entries.
func (q *MemoryQueue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Dropped returns number of entries evicted by capacity.
func (q *MemoryQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close is a no-op for memory queue.
func (q *MemoryQueue) Close() error {
	return nil
}

// Discard drops entries; used when no backend is configured.
type Discard struct{}

// Submit drops entry.
func (Discard) Submit(context.Context, Entry) error { return nil }

// Close is a no-op.
func (Discard) Close() error { return nil }
