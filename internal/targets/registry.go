package targets

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"alertrelay/internal/domain"
)

// Discovery lists currently configured targets.
// Params: ctx for the lookup.
// Returns: full target list or lookup error.
type Discovery interface {
	ListTargets(ctx context.Context) ([]domain.Target, error)
}

// Registry holds the latest target list as an immutable snapshot.
// Params: atomically swapped slice; readers never observe partial updates.
// Returns: per-request copies for publishing and counts for the mode manager.
type Registry struct {
	current atomic.Pointer[[]domain.Target]
	logger  *slog.Logger
}

// NewRegistry creates a registry seeded with targets.
func NewRegistry(initial []domain.Target, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.Replace(initial)
	return r
}

// Replace installs a new target list.
// Params: targets; duplicate names keep the last entry.
// Returns: none.
func (r *Registry) Replace(targets []domain.Target) {
	deduped := make([]domain.Target, 0, len(targets))
	index := make(map[string]int, len(targets))
	for _, target := range targets {
		if pos, ok := index[target.Name]; ok {
			r.logger.Warn("duplicate target name, keeping last definition", "target", target.Name)
			deduped[pos] = cloneTarget(target)
			continue
		}
		index[target.Name] = len(deduped)
		deduped = append(deduped, cloneTarget(target))
	}
	r.current.Store(&deduped)
}

// Snapshot returns a request-local copy of all targets.
func (r *Registry) Snapshot() []domain.Target {
	current := r.current.Load()
	out := make([]domain.Target, 0, len(*current))
	for _, target := range *current {
		out = append(out, cloneTarget(target))
	}
	return out
}

// Enabled returns a request-local copy of enabled targets.
func (r *Registry) Enabled() []domain.Target {
	current := r.current.Load()
	out := make([]domain.Target, 0, len(*current))
	for _, target := range *current {
		if target.Enabled {
			out = append(out, cloneTarget(target))
		}
	}
	return out
}

// EnabledCount returns number of enabled targets without copying.
func (r *Registry) EnabledCount() int {
	count := 0
	for _, target := range *r.current.Load() {
		if target.Enabled {
			count++
		}
	}
	return count
}

// cloneTarget deep-copies map fields.
func cloneTarget(target domain.Target) domain.Target {
	target.Headers = domain.CloneLabels(target.Headers)
	target.Options = domain.CloneLabels(target.Options)
	return target
}

// Refresher polls discovery and feeds the registry.
// Params: discovery source, registry sink, and poll interval.
// Returns: background loop controlled by ctx.
type Refresher struct {
	discovery Discovery
	registry  *Registry
	interval  time.Duration
	logger    *slog.Logger
}

// NewRefresher creates a polling refresher.
func NewRefresher(discovery Discovery, registry *Registry, interval time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{discovery: discovery, registry: registry, interval: interval, logger: logger}
}

// RefreshOnce pulls one list from discovery.
// Params: ctx for discovery.
// Returns: discovery error; registry keeps last list on error.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	targets, err := r.discovery.ListTargets(ctx)
	if err != nil {
		return err
	}
	r.registry.Replace(targets)
	return nil
}

// Run refreshes on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.logger.Warn("target discovery failed, keeping last known targets", "error", err.Error())
			}
		}
	}
}
