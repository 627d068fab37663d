package state

import "sync"

// Registry hands out one Store per context key so that independently mounted
// listing views never share mutable filter state. Stores are created lazily
// and live until explicitly cleared.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*Store
}

func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*Store)}
}

// Context returns the Store for key, creating it on first access.
func (r *Registry) Context(key string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[key]; ok {
		return s
	}
	s := NewStore(key)
	r.stores[key] = s
	return s
}

// Clear drops the Store for key. A later Context call starts fresh.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	delete(r.stores, key)
	r.mu.Unlock()
}

func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.stores))
	for key := range r.stores {
		keys = append(keys, key)
	}
	return keys
}
