package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"alertrelay/internal/domain"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("history store is closed")

// Record is one stored alert occurrence summary.
type Record struct {
	Fingerprint string            `json:"fingerprint"`
	Name        string            `json:"name"`
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
	Occurrences int               `json:"occurrences"`
}

// Store persists alerts for audit and history.
// Params: alert snapshot; callers never block responses on it.
// Returns: backend persistence behavior.
type Store interface {
	Store(ctx context.Context, alert domain.Alert) error
	Get(ctx context.Context, fingerprint string) (Record, bool, error)
	Close() error
}

// Nop discards alerts.
type Nop struct{}

// Store discards alert.
func (Nop) Store(context.Context, domain.Alert) error { return nil }

// Get never finds a record.
func (Nop) Get(context.Context, string) (Record, bool, error) { return Record{}, false, nil }

// Close is a no-op.
func (Nop) Close() error { return nil }

// MemoryStore keeps the most recently seen fingerprints in a bounded map.
// Params: capacity; least recently seen fingerprint is evicted when full.
// Returns: in-process history for single-instance deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	records  map[string]*Record
	order    []string
	closed   bool
}

// NewMemoryStore creates bounded in-memory history.
func NewMemoryStore(capacity int, now func() time.Time) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{capacity: capacity, now: now, records: make(map[string]*Record, capacity)}
}

// Store upserts alert by fingerprint and bumps occurrence counter.
func (s *MemoryStore) Store(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	now := s.now()
	if record, ok := s.records[alert.Fingerprint]; ok {
		record.Status = string(alert.Status)
		record.Labels = domain.CloneLabels(alert.Labels)
		record.LastSeen = now
		record.Occurrences++
		s.touch(alert.Fingerprint)
		return nil
	}

	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
	}
	s.records[alert.Fingerprint] = &Record{
		Fingerprint: alert.Fingerprint,
		Name:        alert.Name(),
		Status:      string(alert.Status),
		Labels:      domain.CloneLabels(alert.Labels),
		FirstSeen:   now,
		LastSeen:    now,
		Occurrences: 1,
	}
	s.order = append(s.order, alert.Fingerprint)
	return nil
}

// touch moves fingerprint to the newest position.
func (s *MemoryStore) touch(fingerprint string) {
	for i, item := range s.order {
		if item == fingerprint {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, fingerprint)
}

// Get returns a copy of stored record.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[fingerprint]
	if !ok {
		return Record{}, false, nil
	}
	out := *record
	out.Labels = domain.CloneLabels(record.Labels)
	return out, true, nil
}

// Len returns number of stored fingerprints.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close marks store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
