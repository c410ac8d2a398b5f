package channels

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
)

// Registry maps platform ids to plugins. Lookups read an immutable
// snapshot and take no lock; Register copies the snapshot.
type Registry struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[registrySnapshot]
}

type registrySnapshot struct {
	order   []string
	plugins map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&registrySnapshot{plugins: map[string]Plugin{}})
	return r
}

// Register adds p under p.Meta().ID. Re-registering an id replaces the
// implementation but keeps its original position.
func (r *Registry) Register(p Plugin) {
	id := p.Meta().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := &registrySnapshot{
		order:   cur.order,
		plugins: make(map[string]Plugin, len(cur.plugins)+1),
	}
	for k, v := range cur.plugins {
		next.plugins[k] = v
	}
	if _, exists := next.plugins[id]; !exists {
		next.order = append(append([]string(nil), cur.order...), id)
	} else {
		slog.Info("channel plugin replaced", "plugin", id)
	}
	next.plugins[id] = p
	r.snap.Store(next)
}

// Get returns the plugin registered under id.
func (r *Registry) Get(id string) (Plugin, error) {
	if p, ok := r.snap.Load().plugins[id]; ok {
		return p, nil
	}
	return nil, NotAvailableError(id)
}

// ForPlatform returns the plugin for a platform variant.
func (r *Registry) ForPlatform(p bus.Platform) (Plugin, error) {
	return r.Get(string(p))
}

// List returns plugins in registration order.
func (r *Registry) List() []Plugin {
	s := r.snap.Load()
	out := make([]Plugin, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.plugins[id])
	}
	return out
}

// IDs returns plugin ids in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.snap.Load().order...)
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int { return len(r.snap.Load().order) }
