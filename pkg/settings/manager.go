package settings

import (
	"context"
	"fmt"
	"sort"
)

// Change describes the effect of one settings update.
type Change struct {
	Old    Snapshot
	New    Snapshot
	Keys   []string
	Visual bool
}

// Manager writes settings and keeps the Loader coherent with the store.
type Manager struct {
	store  Store
	loader *Loader
}

func NewManager(store Store, loader *Loader) *Manager {
	return &Manager{store: store, loader: loader}
}

func (m *Manager) Loader() *Loader {
	return m.loader
}

// Update writes values and invalidates the cached snapshot. Visual is
// computed on normalized snapshots, so rewriting "Medium" as "medium" or a
// key the renderer ignores is not a visual change.
func (m *Manager) Update(ctx context.Context, values map[string]string) (Change, error) {
	old, err := Read(ctx, m.store)
	if err != nil {
		return Change{}, err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Invalidate even on a partial write so nothing keeps serving a snapshot
	// the store no longer matches.
	defer m.loader.Invalidate()
	for _, k := range keys {
		if err := m.store.Set(ctx, k, values[k]); err != nil {
			return Change{}, fmt.Errorf("write setting %s: %w", k, err)
		}
	}

	updated, err := Read(ctx, m.store)
	if err != nil {
		return Change{}, err
	}
	return Change{
		Old:    old,
		New:    updated,
		Keys:   keys,
		Visual: !VisuallyEqual(old, updated),
	}, nil
}
