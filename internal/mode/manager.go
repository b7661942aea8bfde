package mode

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"alertrelay/internal/clock"
	"alertrelay/internal/domain"
	"alertrelay/internal/metrics"
)

// TargetCounter reports how many delivery targets are enabled.
type TargetCounter interface {
	EnabledCount() int
}

// Observer is notified after every mode transition.
type Observer func(previous, current domain.ModeSnapshot)

// Options configures the mode manager.
type Options struct {
	Tick     time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  metrics.Recorder
	Observer Observer
}

// Manager debounces target availability into a two-state mode.
// Params: target counter polled on a fixed tick by one writer goroutine.
// Returns: lock-free snapshot reads for request paths.
type Manager struct {
	counter  TargetCounter
	tick     time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	metrics  metrics.Recorder
	observer Observer

	writeMu  sync.Mutex
	snapshot atomic.Pointer[domain.ModeSnapshot]
}

// NewManager builds a manager and computes the initial mode from the first counter read.
// Params: counter source and options.
// Returns: manager ready for reads; Run starts periodic evaluation.
func NewManager(counter TargetCounter, opts Options) *Manager {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	m := &Manager{
		counter:  counter,
		tick:     opts.Tick,
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		observer: opts.Observer,
	}

	enabled := counter.EnabledCount()
	initial := domain.ModeSnapshot{
		Mode:                 modeFor(enabled),
		EnabledTargets:       enabled,
		CurrentModeSince:     m.clock.Now(),
		LastTransitionReason: domain.ModeReasonInitial,
	}
	m.snapshot.Store(&initial)
	m.metrics.ModeChanged(initial)
	m.logger.Info("publishing mode initialized", "mode", initial.Mode, "enabled_targets", enabled)
	return m
}

// GetCurrentMode returns the mode as of the last evaluation.
func (m *Manager) GetCurrentMode() domain.Mode {
	return m.snapshot.Load().Mode
}

// GetModeMetrics returns the full snapshot as of the last evaluation.
func (m *Manager) GetModeMetrics() domain.ModeSnapshot {
	return *m.snapshot.Load()
}

// IsMetricsOnly reports whether publishing is currently suppressed.
func (m *Manager) IsMetricsOnly() bool {
	return m.GetCurrentMode() == domain.ModeMetricsOnly
}

// Evaluate reads the counter once and applies the transition rule.
// Params: none.
// Returns: snapshot after evaluation and whether the mode changed.
func (m *Manager) Evaluate() (domain.ModeSnapshot, bool) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	previous := *m.snapshot.Load()
	enabled := m.counter.EnabledCount()
	next := previous
	next.EnabledTargets = enabled

	changed := false
	switch {
	case enabled > 0 && previous.Mode == domain.ModeMetricsOnly:
		next.Mode = domain.ModeNormal
		next.LastTransitionReason = domain.ModeReasonTargetsAvailable
		changed = true
	case enabled == 0 && previous.Mode == domain.ModeNormal:
		next.Mode = domain.ModeMetricsOnly
		next.LastTransitionReason = domain.ModeReasonNoEnabledTargets
		changed = true
	}
	if changed {
		next.TransitionCount = previous.TransitionCount + 1
		next.CurrentModeSince = m.clock.Now()
	}

	m.snapshot.Store(&next)
	m.metrics.ModeChanged(next)
	if changed {
		m.logger.Info(
			"publishing mode changed",
			"from", previous.Mode,
			"to", next.Mode,
			"reason", next.LastTransitionReason,
			"enabled_targets", enabled,
			"transition_count", next.TransitionCount,
		)
		if m.observer != nil {
			m.observer(previous, next)
		}
	}
	return next, changed
}

// Run evaluates on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

func modeFor(enabled int) domain.Mode {
	if enabled == 0 {
		return domain.ModeMetricsOnly
	}
	return domain.ModeNormal
}
