package classifier

import (
	"context"
	"testing"
	"time"

	"alertrelay/internal/domain"
	"alertrelay/test/testutil"
)

func TestNATSCacheRoundTrip(t *testing.T) {
	url, stop := testutil.StartLocalNATSServer(t)
	defer stop()
	nc := testutil.ConnectNATS(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cache, err := NewNATSCache(ctx, nc, "TEST_CLASSIFICATIONS", time.Minute)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if _, ok, err := cache.Get(ctx, "fp-miss"); ok || err != nil {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
	value := domain.Classification{Severity: domain.SeverityWarning, Category: "network", Confidence: 0.75, Source: domain.SourceProvider}
	if err := cache.Set(ctx, "fp-hit", value, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := cache.Get(ctx, "fp-hit")
	if err != nil || !ok || got.Category != "network" || got.Confidence != 0.75 {
		t.Fatalf("unexpected hit %+v ok=%v err=%v", got, ok, err)
	}

	reopened, err := NewNATSCache(ctx, nc, "TEST_CLASSIFICATIONS", time.Minute)
	if err != nil {
		t.Fatalf("reopen existing bucket: %v", err)
	}
	if _, ok, _ := reopened.Get(ctx, "fp-hit"); !ok {
		t.Fatalf("expected value visible through reopened bucket")
	}

	expired, cancelExpired := context.WithCancel(context.Background())
	cancelExpired()
	if _, ok, err := cache.Get(expired, "fp-hit"); ok || err == nil {
		t.Fatalf("expected canceled lookup to fail, ok=%v err=%v", ok, err)
	}
}
