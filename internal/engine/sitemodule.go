package engine

import (
	"context"
	"fmt"
	"sync"

	"scrapeflow/internal/browser"
)

// SiteModule implements the extraction logic for one external site. The
// engine hands it a task and a recovery-managed session; the module mutates
// the task (items, per-task metrics) and classifies any error it returns as
// recoverable or permanent via errorsx before returning it.
type SiteModule interface {
	Execute(ctx context.Context, task *Task, session *browser.RecoveryController) error
}

// Factory builds a site module instance per task execution
type Factory func() SiteModule

// Registry maps site identifiers to module factories. Sites register
// explicitly at startup; there is no discovery or reflection.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a site identifier to a factory
func (r *Registry) Register(site string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[site]; exists {
		return fmt.Errorf("site module already registered: %s", site)
	}
	r.factories[site] = factory
	return nil
}

// Create instantiates the module for a site
func (r *Registry) Create(site string) (SiteModule, error) {
	r.mu.RLock()
	factory, exists := r.factories[site]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no site module registered for: %s", site)
	}
	return factory(), nil
}

// Sites lists registered site identifiers
func (r *Registry) Sites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for site := range r.factories {
		out = append(out, site)
	}
	return out
}
