package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/store"
)

// ThreadManager owns the (platform, external channel) → thread table.
// One mutex guards the table. Store writes run outside it, serialized per
// key, and always write whatever the table holds for that key at the time.
type ThreadManager struct {
	mu       sync.Mutex
	mappings map[string]store.ThreadMapping
	store    store.ThreadStore // nil = memory only
	now      func() time.Time

	writeMu sync.Mutex
	writers map[string]*keyWriter
}

type keyWriter struct {
	mu   sync.Mutex
	refs int
}

// NewThreadManager creates a manager. st may be nil.
func NewThreadManager(st store.ThreadStore) *ThreadManager {
	return &ThreadManager{
		mappings: make(map[string]store.ThreadMapping),
		store:    st,
		now:      time.Now,
		writers:  make(map[string]*keyWriter),
	}
}

// Load replaces the table with the persisted mappings.
func (m *ThreadManager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load thread mappings: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings = make(map[string]store.ThreadMapping, len(all))
	for _, tm := range all {
		m.mappings[tm.Key()] = tm
	}
	return nil
}

// Find returns the mapping for (platform, externalID).
func (m *ThreadManager) Find(platform bus.Platform, externalID string) (store.ThreadMapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.mappings[store.MappingKey(platform, externalID)]
	return tm, ok
}

// ThreadIDFor returns the mapped thread id.
func (m *ThreadManager) ThreadIDFor(platform bus.Platform, externalID string) (string, bool) {
	tm, ok := m.Find(platform, externalID)
	return tm.ThreadID, ok
}

// AddOrReplace maps (platform, externalID) to threadID. An existing entry
// for the same key is replaced (last write wins). The in-memory table is
// always updated; the returned error only reports a persistence failure.
func (m *ThreadManager) AddOrReplace(ctx context.Context, platform bus.Platform, externalID, threadID string) (store.ThreadMapping, error) {
	now := m.now()
	tm := store.ThreadMapping{
		Platform:      platform,
		ExternalID:    externalID,
		ThreadID:      threadID,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	m.mu.Lock()
	m.mappings[tm.Key()] = tm
	m.mu.Unlock()

	return tm, m.sync(ctx, platform, externalID)
}

// Touch bumps LastMessageAt of an existing mapping.
func (m *ThreadManager) Touch(ctx context.Context, platform bus.Platform, externalID string) {
	key := store.MappingKey(platform, externalID)

	m.mu.Lock()
	tm, ok := m.mappings[key]
	if ok {
		tm.LastMessageAt = m.now()
		m.mappings[key] = tm
	}
	m.mu.Unlock()

	if ok {
		if err := m.sync(ctx, platform, externalID); err != nil {
			slog.Warn("thread mapping touch not persisted", "key", key, "error", err)
		}
	}
}

// Remove deletes the mapping, reporting whether one existed.
func (m *ThreadManager) Remove(ctx context.Context, platform bus.Platform, externalID string) bool {
	key := store.MappingKey(platform, externalID)

	m.mu.Lock()
	_, ok := m.mappings[key]
	delete(m.mappings, key)
	m.mu.Unlock()

	if ok {
		if err := m.sync(ctx, platform, externalID); err != nil {
			slog.Warn("thread mapping delete not persisted", "key", key, "error", err)
		}
	}
	return ok
}

// Count returns the number of mappings, optionally for one platform.
func (m *ThreadManager) Count(platform *bus.Platform) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if platform == nil {
		return len(m.mappings)
	}
	n := 0
	for _, tm := range m.mappings {
		if tm.Platform == *platform {
			n++
		}
	}
	return n
}

// List returns mappings ordered by creation time, optionally for one platform.
func (m *ThreadManager) List(platform *bus.Platform) []store.ThreadMapping {
	m.mu.Lock()
	out := make([]store.ThreadMapping, 0, len(m.mappings))
	for _, tm := range m.mappings {
		if platform == nil || tm.Platform == *platform {
			out = append(out, tm)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key() < out[j].Key()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// sync writes the current table entry for the key to the store, or deletes
// it when the table has none. Calls for the same key run one at a time, so
// the last one to finish reflects the latest in-memory state.
func (m *ThreadManager) sync(ctx context.Context, platform bus.Platform, externalID string) error {
	if m.store == nil {
		return nil
	}
	key := store.MappingKey(platform, externalID)
	w := m.lockKey(key)
	defer m.unlockKey(key, w)

	m.mu.Lock()
	tm, ok := m.mappings[key]
	m.mu.Unlock()

	if !ok {
		if err := m.store.Delete(ctx, platform, externalID); err != nil {
			return fmt.Errorf("delete thread mapping %s: %w", key, err)
		}
		return nil
	}
	if err := m.store.Save(ctx, tm); err != nil {
		return fmt.Errorf("persist thread mapping %s: %w", key, err)
	}
	return nil
}

func (m *ThreadManager) lockKey(key string) *keyWriter {
	m.writeMu.Lock()
	w, ok := m.writers[key]
	if !ok {
		w = &keyWriter{}
		m.writers[key] = w
	}
	w.refs++
	m.writeMu.Unlock()

	w.mu.Lock()
	return w
}

func (m *ThreadManager) unlockKey(key string, w *keyWriter) {
	w.mu.Unlock()

	m.writeMu.Lock()
	w.refs--
	if w.refs == 0 {
		delete(m.writers, key)
	}
	m.writeMu.Unlock()
}
