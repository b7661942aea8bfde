package targets

import (
	"context"

	"alertrelay/internal/config"
	"alertrelay/internal/domain"
)

// StaticDiscovery returns targets from the config snapshot.
type StaticDiscovery struct {
	targets []domain.Target
}

// NewStaticDiscovery wraps configured targets.
func NewStaticDiscovery(targets []domain.Target) *StaticDiscovery {
	return &StaticDiscovery{targets: append([]domain.Target(nil), targets...)}
}

// ListTargets returns a copy of configured targets.
func (d *StaticDiscovery) ListTargets(context.Context) ([]domain.Target, error) {
	return append([]domain.Target(nil), d.targets...), nil
}

// FileDiscovery re-reads a TOML targets file on every call.
// Params: path of a file with `[[target]]` tables.
// Returns: Discovery implementation for externally managed target lists.
type FileDiscovery struct {
	path string
}

// NewFileDiscovery creates a file-backed discovery.
func NewFileDiscovery(path string) *FileDiscovery {
	return &FileDiscovery{path: path}
}

// ListTargets loads and validates the file.
func (d *FileDiscovery) ListTargets(context.Context) ([]domain.Target, error) {
	return config.LoadTargetsFile(d.path)
}

// MultiDiscovery concatenates several sources in order.
type MultiDiscovery []Discovery

// ListTargets returns all targets; any failing source fails the whole lookup.
func (m MultiDiscovery) ListTargets(ctx context.Context) ([]domain.Target, error) {
	var out []domain.Target
	for _, source := range m {
		items, err := source.ListTargets(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}
