package panel

import (
	"sync"
	"time"
)

// Registry keeps one Panel per browser session
type Registry struct {
	mu      sync.RWMutex
	panels  map[string]*Panel
	factory func() *Panel
	timeout time.Duration
}

// NewRegistry creates a registry. Panels idle for longer than timeout are
// dropped by Cleanup.
func NewRegistry(factory func() *Panel, timeout time.Duration) *Registry {
	return &Registry{
		panels:  make(map[string]*Panel),
		factory: factory,
		timeout: timeout,
	}
}

// Get returns the panel for a session id, creating it when missing
func (r *Registry) Get(id string) *Panel {
	r.mu.RLock()
	p, ok := r.panels[id]
	r.mu.RUnlock()
	if ok {
		p.Touch()
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.panels[id]; ok {
		return p
	}
	p = r.factory()
	r.panels[id] = p
	return p
}

// New creates a panel without registering it. Put adds it once the
// session it belongs to has been stored.
func (r *Registry) New() *Panel {
	return r.factory()
}

// Put registers p under a session id, replacing any previous panel
func (r *Registry) Put(id string, p *Panel) {
	p.Touch()
	r.mu.Lock()
	r.panels[id] = p
	r.mu.Unlock()
}

// Lookup returns the panel for a session id without creating one
func (r *Registry) Lookup(id string) (*Panel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.panels[id]
	return p, ok
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.panels, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.panels)
}

// Cleanup logs out and removes idle panels, returning how many were removed
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	var expired []*Panel
	for id, p := range r.panels {
		if p.IsExpired(r.timeout) {
			expired = append(expired, p)
			delete(r.panels, id)
		}
	}
	r.mu.Unlock()

	for _, p := range expired {
		p.Logout()
	}
	return len(expired)
}

// Run calls Cleanup every interval until stop is closed
func (r *Registry) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Cleanup()
		case <-stop:
			return
		}
	}
}
