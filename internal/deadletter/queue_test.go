package deadletter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"alertrelay/internal/config"
	"alertrelay/internal/domain"
	"alertrelay/internal/permanent"
	"alertrelay/test/testutil"
)

func testEntry(target string) Entry {
	return Entry{
		ID:         NewEntryID(),
		Alert:      domain.Alert{Fingerprint: "fp-" + target, Status: domain.AlertStatusFiring, Labels: map[string]string{"alertname": "DiskFull"}},
		TargetName: target,
		TargetType: domain.TargetTypeWebhook,
		Payload:    []byte(`{"text":"disk full"}`),
		Reason:     ReasonRetriesExhausted,
		ErrorCode:  "server_error",
		Error:      "status=503",
		Attempts:   4,
		FailedAt:   time.Unix(1700000000, 0).UTC(),
	}
}

func TestMemoryQueueEvictsOldest(t *testing.T) {
	t.Parallel()

	queue := NewMemoryQueue(2)
	for _, name := range []string{"a", "b", "c"} {
		if err := queue.Submit(context.Background(), testEntry(name)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	entries := queue.Entries()
	if len(entries) != 2 || entries[0].TargetName != "b" || entries[1].TargetName != "c" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if queue.Dropped() != 1 {
		t.Fatalf("dropped=%d", queue.Dropped())
	}
	if drained := queue.Drain(); len(drained) != 2 || len(queue.Entries()) != 0 {
		t.Fatalf("drain failed")
	}
}

func TestMemoryQueueAssignsID(t *testing.T) {
	t.Parallel()

	queue := NewMemoryQueue(4)
	entry := testEntry("a")
	entry.ID = ""
	_ = queue.Submit(context.Background(), entry)
	if queue.Entries()[0].ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestNATSQueueReplay(t *testing.T) {
	natsURL, stopNATS := testutil.StartLocalNATSServer(t)
	defer stopNATS()
	nc := testutil.ConnectNATS(t, natsURL)

	cfg := config.DeadLetterConfig{
		Backend:       config.DLQBackendNATS,
		ReplayDelayMS: 20,
		Subject:       "test.dlq",
		Stream:        "TEST_DLQ",
		ConsumerName:  "test-dlq-replay",
	}
	queue, err := NewNATSQueue(nc, cfg)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	var (
		mu       sync.Mutex
		attempts = map[string]int{}
		done     atomic.Int32
	)
	replayer, err := NewReplayer(nc, cfg, func(_ context.Context, entry Entry) error {
		mu.Lock()
		attempts[entry.TargetName]++
		count := attempts[entry.TargetName]
		mu.Unlock()
		switch entry.TargetName {
		case "flaky":
			if count < 2 {
				return errors.New("still down")
			}
		case "gone":
			return permanent.Mark(errors.New("target removed"))
		}
		done.Add(1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new replayer: %v", err)
	}
	defer func() { _ = replayer.Close() }()

	for _, name := range []string{"flaky", "gone", "ok"} {
		if err := queue.Submit(context.Background(), testEntry(name)); err != nil {
			t.Fatalf("submit %s: %v", name, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for done.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("replay did not finish, done=%d", done.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts["flaky"] != 2 || attempts["ok"] != 1 {
		t.Fatalf("unexpected attempts %v", attempts)
	}
	if attempts["gone"] != 1 {
		t.Fatalf("permanent failure must not be retried, attempts=%d", attempts["gone"])
	}
}
