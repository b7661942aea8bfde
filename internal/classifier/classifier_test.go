package classifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"alertrelay/internal/domain"
)

type fakeProvider struct {
	calls  atomic.Int32
	mu     sync.Mutex
	result ProviderResult
	err    error
	block  chan struct{}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Classify(ctx context.Context, _ domain.Alert, _ time.Duration) (ProviderResult, error) {
	p.calls.Add(1)
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

func (p *fakeProvider) set(result ProviderResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = result
	p.err = err
}

type fakeShared struct {
	mu     sync.Mutex
	values map[string]domain.Classification
	err    error
}

func (s *fakeShared) Get(_ context.Context, key string) (domain.Classification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Classification{}, false, s.err
	}
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *fakeShared) Set(_ context.Context, key string, value domain.Classification, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.values == nil {
		s.values = map[string]domain.Classification{}
	}
	s.values[key] = value
	return nil
}

func testAlert(fingerprint, severity string) domain.Alert {
	return domain.Alert{
		Fingerprint: fingerprint,
		Status:      domain.AlertStatusFiring,
		Labels:      map[string]string{"alertname": "HighCPUUsage", "severity": severity},
		StartsAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestClassifyCachesProviderResult(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{result: ProviderResult{Severity: "critical", Category: "Resource", Confidence: 0.92}}
	c := New(provider, Options{Timeout: time.Second})

	first, err := c.Classify(context.Background(), testAlert("fp1", "warning"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if first.Source != domain.SourceProvider || first.Severity != domain.SeverityCritical || first.Category != "resource" {
		t.Fatalf("unexpected first classification %+v", first)
	}

	second, err := c.Classify(context.Background(), testAlert("fp1", "warning"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if second.Source != domain.SourceCache || second.Confidence != 0.92 {
		t.Fatalf("unexpected cached classification %+v", second)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("expected 1 provider call, got %d", got)
	}
}

func TestClassifyFallsBackOnProviderError(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("503 from upstream")}
	c := New(provider, Options{Timeout: time.Second})

	got, err := c.Classify(context.Background(), testAlert("fp2", "warning"))
	if err == nil {
		t.Fatalf("expected provider error to be surfaced")
	}
	if got.Source != domain.SourceFallback || got.Severity != domain.SeverityWarning || got.Confidence != FallbackConfidence {
		t.Fatalf("unexpected fallback %+v", got)
	}
	if c.cache.Len() != 0 {
		t.Fatalf("fallback results must not be cached")
	}
}

func TestClassifyWithoutProviderUsesFallback(t *testing.T) {
	t.Parallel()

	c := New(nil, Options{})
	alert := testAlert("fp3", "")
	delete(alert.Labels, "severity")

	got, err := c.Classify(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got.Severity != domain.SeverityInfo || got.Source != domain.SourceFallback || got.Category != "resource" {
		t.Fatalf("unexpected classification %+v", got)
	}
}

func TestClassifyTimesOutBlockingProvider(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{block: make(chan struct{})}
	defer close(provider.block)
	c := New(provider, Options{Timeout: 50 * time.Millisecond})

	started := time.Now()
	got, err := c.Classify(context.Background(), testAlert("fp4", "critical"))
	elapsed := time.Since(started)

	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if got.Source != domain.SourceFallback || got.Severity != domain.SeverityCritical {
		t.Fatalf("unexpected classification %+v", got)
	}
	if elapsed > time.Second {
		t.Fatalf("classify blocked for %s", elapsed)
	}
}

func TestBreakerOpensAndRecoversAfterCooldown(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("boom")}
	c := New(provider, Options{Timeout: time.Second, FailureThreshold: 3, Cooldown: 100 * time.Millisecond})

	for i := 0; i < 3; i++ {
		if _, err := c.Classify(context.Background(), testAlert("fp-open", "warning")); err == nil {
			t.Fatalf("expected provider error on call %d", i)
		}
	}
	if c.BreakerState() != "open" {
		t.Fatalf("expected open breaker, got %s", c.BreakerState())
	}

	got, err := c.Classify(context.Background(), testAlert("fp-open", "warning"))
	if !IsRejected(err) {
		t.Fatalf("expected rejected call, got %v", err)
	}
	if got.Source != domain.SourceFallback {
		t.Fatalf("expected fallback while open, got %+v", got)
	}
	if calls := provider.calls.Load(); calls != 3 {
		t.Fatalf("provider must not be called while open, calls=%d", calls)
	}

	time.Sleep(150 * time.Millisecond)
	provider.set(ProviderResult{Severity: "info", Confidence: 0.8}, nil)
	got, err = c.Classify(context.Background(), testAlert("fp-open", "warning"))
	if err != nil || got.Source != domain.SourceProvider {
		t.Fatalf("expected successful trial call, got %+v err=%v", got, err)
	}
	if c.BreakerState() != "closed" {
		t.Fatalf("expected closed breaker after trial call, got %s", c.BreakerState())
	}
}

func TestBreakerFailedTrialCallReopens(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("boom")}
	c := New(provider, Options{Timeout: time.Second, FailureThreshold: 1, Cooldown: 50 * time.Millisecond})

	_, _ = c.Classify(context.Background(), testAlert("a", "info"))
	if c.BreakerState() != "open" {
		t.Fatalf("expected open breaker")
	}
	time.Sleep(80 * time.Millisecond)
	_, _ = c.Classify(context.Background(), testAlert("b", "info"))
	if c.BreakerState() != "open" {
		t.Fatalf("expected re-opened breaker, got %s", c.BreakerState())
	}
	if calls := provider.calls.Load(); calls != 2 {
		t.Fatalf("expected exactly one trial call, calls=%d", calls)
	}
}

// waitBreakerState polls until the breaker reports want or the wait expires.
func waitBreakerState(t *testing.T, c *Classifier, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.BreakerState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("breaker state=%s, want %s", c.BreakerState(), want)
}

func TestCanceledCallerDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{result: ProviderResult{Severity: "info"}}
	c := New(provider, Options{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := c.Classify(ctx, testAlert("fp-cancel", "critical"))
	if got.Source != domain.SourceFallback || !errors.Is(err, errCallerGone) {
		t.Fatalf("expected fallback on canceled context, got %+v err=%v", got, err)
	}
	if c.BreakerState() != "closed" {
		t.Fatalf("canceled caller must not open breaker")
	}
	if calls := provider.calls.Load(); calls != 0 {
		t.Fatalf("provider must not be called for a canceled caller, calls=%d", calls)
	}
}

func TestCanceledCallerDoesNotResetFailureCount(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("boom")}
	c := New(provider, Options{Timeout: time.Second, FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		_, _ = c.Classify(context.Background(), testAlert("fp-count", "info"))
	}
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = c.Classify(canceled, testAlert("fp-count", "info"))
	if c.BreakerState() != "closed" {
		t.Fatalf("expected closed breaker before threshold, got %s", c.BreakerState())
	}

	_, _ = c.Classify(context.Background(), testAlert("fp-count", "info"))
	if c.BreakerState() != "open" {
		t.Fatalf("third real failure must trip the breaker, got %s", c.BreakerState())
	}
}

func TestCanceledTrialCallDoesNotCloseBreaker(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("boom")}
	c := New(provider, Options{Timeout: time.Second, FailureThreshold: 1, Cooldown: 50 * time.Millisecond})

	_, _ = c.Classify(context.Background(), testAlert("fp-trial", "info"))
	if c.BreakerState() != "open" {
		t.Fatalf("expected open breaker")
	}
	time.Sleep(80 * time.Millisecond)

	release := make(chan struct{})
	provider.block = release
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := c.Classify(ctx, testAlert("fp-trial", "info"))
		result <- err
	}()
	for provider.calls.Load() < 2 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case err := <-result:
		if !errors.Is(err, errCallerGone) {
			t.Fatalf("expected caller-gone error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("classify did not return after caller cancellation")
	}

	close(release)
	waitBreakerState(t, c, "open")
	if calls := provider.calls.Load(); calls != 2 {
		t.Fatalf("expected one trial call, calls=%d", calls)
	}
}

func TestHalfOpenAdmitsSingleTrialCall(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("boom")}
	c := New(provider, Options{Timeout: time.Second, FailureThreshold: 1, Cooldown: 50 * time.Millisecond})

	_, _ = c.Classify(context.Background(), testAlert("fp-half", "info"))
	time.Sleep(80 * time.Millisecond)

	release := make(chan struct{})
	provider.set(ProviderResult{Severity: "warning", Confidence: 0.8}, nil)
	provider.block = release
	before := provider.calls.Load()

	const callers = 5
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			_, err := c.Classify(context.Background(), testAlert("fp-half-"+string(rune('a'+i)), "info"))
			results <- err
		}(i)
	}

	for i := 0; i < callers-1; i++ {
		select {
		case err := <-results:
			if !IsRejected(err) {
				t.Fatalf("expected rejection while trial call in flight, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("concurrent caller blocked during half-open trial call")
		}
	}
	close(release)
	if err := <-results; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if trials := provider.calls.Load() - before; trials != 1 {
		t.Fatalf("half-open must admit exactly one trial call, got %d", trials)
	}
	if c.BreakerState() != "closed" {
		t.Fatalf("successful trial call must close breaker, got %s", c.BreakerState())
	}
}

type slowShared struct {
	getDelay time.Duration
	setDelay time.Duration
	sets     atomic.Int32
}

func (s *slowShared) Get(ctx context.Context, _ string) (domain.Classification, bool, error) {
	select {
	case <-time.After(s.getDelay):
		return domain.Classification{}, false, nil
	case <-ctx.Done():
		return domain.Classification{}, false, ctx.Err()
	}
}

func (s *slowShared) Set(ctx context.Context, _ string, _ domain.Classification, _ time.Duration) error {
	select {
	case <-time.After(s.setDelay):
		s.sets.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSlowSharedLookupStaysWithinTimeout(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{result: ProviderResult{Severity: "critical", Confidence: 0.9}}
	c := New(provider, Options{Timeout: 100 * time.Millisecond, Shared: &slowShared{getDelay: 5 * time.Second}})

	started := time.Now()
	got, err := c.Classify(context.Background(), testAlert("fp-slow-get", "warning"))
	elapsed := time.Since(started)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("classify blocked for %s", elapsed)
	}
	if !IsTimeout(err) || got.Source != domain.SourceFallback {
		t.Fatalf("expected fallback after spent budget, got %+v err=%v", got, err)
	}
}

func TestSlowSharedWriteDoesNotBlockClassify(t *testing.T) {
	t.Parallel()

	shared := &slowShared{setDelay: 300 * time.Millisecond}
	provider := &fakeProvider{result: ProviderResult{Severity: "critical", Confidence: 0.9}}
	c := New(provider, Options{Timeout: 100 * time.Millisecond, Shared: shared})

	started := time.Now()
	got, err := c.Classify(context.Background(), testAlert("fp-slow-set", "warning"))
	elapsed := time.Since(started)

	if err != nil || got.Source != domain.SourceProvider {
		t.Fatalf("expected provider result, got %+v err=%v", got, err)
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("shared write held classify for %s", elapsed)
	}
	c.cache.Flush()
	if shared.sets.Load() != 1 {
		t.Fatalf("expected background shared write")
	}
}

func TestSharedCacheHitBackfillsLocal(t *testing.T) {
	t.Parallel()

	shared := &fakeShared{values: map[string]domain.Classification{
		"fp5": {Severity: domain.SeverityWarning, Category: "network", Confidence: 0.7, Source: domain.SourceProvider},
	}}
	provider := &fakeProvider{}
	c := New(provider, Options{Shared: shared})

	got, err := c.Classify(context.Background(), testAlert("fp5", "info"))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Source != domain.SourceCache || got.Category != "network" {
		t.Fatalf("unexpected classification %+v", got)
	}
	if provider.calls.Load() != 0 {
		t.Fatalf("provider must not be called on shared hit")
	}
	if c.cache.Len() != 1 {
		t.Fatalf("expected local backfill")
	}
}

func TestSharedCacheErrorsAreMisses(t *testing.T) {
	t.Parallel()

	shared := &fakeShared{err: errors.New("redis down")}
	provider := &fakeProvider{result: ProviderResult{Severity: "critical", Confidence: 0.9}}
	c := New(provider, Options{Shared: shared})

	got, err := c.Classify(context.Background(), testAlert("fp6", "info"))
	if err != nil || got.Source != domain.SourceProvider {
		t.Fatalf("expected provider result despite shared error, got %+v err=%v", got, err)
	}
}

func TestParseProviderAnswer(t *testing.T) {
	t.Parallel()

	result, err := parseProviderAnswer("```json\n{\"severity\":\"Warning\",\"category\":\"\",\"confidence\":1.4,\"recommendations\":[\" restart \",\"\"]}\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := result.toClassification(time.Unix(0, 0))
	if got.Severity != domain.SeverityWarning || got.Category != "general" || got.Confidence != 1 {
		t.Fatalf("unexpected normalization %+v", got)
	}
	if len(got.Recommendations) != 1 || got.Recommendations[0] != "restart" {
		t.Fatalf("unexpected recommendations %v", got.Recommendations)
	}
	if _, err := parseProviderAnswer("not json"); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected ErrInvalidAnswer, got %v", err)
	}
	if _, err := parseProviderAnswer(`{"category":"x"}`); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected ErrInvalidAnswer for empty severity, got %v", err)
	}
}

func TestFallbackTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		labels   map[string]string
		severity domain.Severity
		category string
	}{
		{map[string]string{"severity": "P1", "alertname": "APIDown"}, domain.SeverityCritical, "availability"},
		{map[string]string{"severity": "warn", "alertname": "DiskFull"}, domain.SeverityWarning, "resource"},
		{map[string]string{"severity": "bogus", "alertname": "CertExpiry"}, domain.SeverityInfo, "security"},
		{map[string]string{"alertname": "Something", "category": "Billing"}, domain.SeverityInfo, "billing"},
		{map[string]string{"alertname": "Something"}, domain.SeverityInfo, "general"},
	}
	for _, tc := range cases {
		got := Fallback(domain.Alert{Labels: tc.labels}, time.Now())
		if got.Severity != tc.severity || got.Category != tc.category || got.Confidence != FallbackConfidence {
			t.Fatalf("labels %v: unexpected %+v", tc.labels, got)
		}
	}
}
