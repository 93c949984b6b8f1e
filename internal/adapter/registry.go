package adapter

import (
	"sort"
	"sync"
)

// Registry maps adapter names to adapters. It is an explicit value handed to
// the dispatcher at construction time; tests build their own instance instead
// of mutating shared state. Registration is last-write-wins per name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	if a == nil || a.Name() == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	return a, ok
}

// Names returns registered adapter names in a stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Close closes every registered adapter and empties the registry. The last
// close error wins; adapters are closed best-effort.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for name, a := range r.adapters {
		if err := a.Close(); err != nil {
			lastErr = err
		}
		delete(r.adapters, name)
	}
	return lastErr
}
