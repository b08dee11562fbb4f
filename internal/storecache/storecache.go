// Package storecache encapsulates the two pieces of process-wide mutable
// state a multi-project indexing daemon needs: a cache mapping db_path to an
// open Store (so repeated operations against the same project coalesce onto
// one handle) and the auto-index cooldown/in-flight coalescing used by query
// paths that trigger indexing as a side effect. Both live on one Registry
// value with an explicit constructor and Close — never free-standing
// package-level singletons.
package storecache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fenwicklabs/memoryd/internal/config"
	"github.com/fenwicklabs/memoryd/internal/store"
)

// Registry caches open Store handles by file path and tracks the
// auto-indexing cooldown per project.
type Registry struct {
	logger *zap.Logger

	mu       sync.Mutex
	stores   map[string]*store.Store
	openOnce singleflight.Group

	cooldownMu sync.Mutex
	lastRun    map[string]time.Time
	runOnce    singleflight.Group
}

// New builds an empty Registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		stores:  make(map[string]*store.Store),
		lastRun: make(map[string]time.Time),
	}
}

// Open returns the cached Store for path, opening and caching it on first
// use. Concurrent Open calls for the same path that race the cache miss
// coalesce onto a single underlying store.Open.
func (r *Registry) Open(ctx context.Context, path string, cfg config.StoreConfig) (*store.Store, error) {
	if s, ok := r.get(path); ok {
		return s, nil
	}

	v, err, _ := r.openOnce.Do(path, func() (any, error) {
		if s, ok := r.get(path); ok {
			return s, nil
		}
		s, err := store.Open(ctx, path, cfg, r.logger)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.stores[path] = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Store), nil
}

func (r *Registry) get(path string) (*store.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[path]
	return s, ok
}

// Close closes and evicts a single cached store. It is a no-op if path was
// never opened through this Registry.
func (r *Registry) Close(path string) error {
	r.mu.Lock()
	s, ok := r.stores[path]
	delete(r.stores, path)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// CloseAll closes and evicts every cached store. Reset operations use this to
// guarantee no stale handle outlives a configuration change.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]*store.Store)
	r.mu.Unlock()

	var firstErr error
	for _, s := range stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ShouldAutoIndex reports whether cooldown has elapsed since the last
// recorded auto-index run for projectPath. A project never auto-indexed in
// this process is always due.
func (r *Registry) ShouldAutoIndex(projectPath string, cooldown time.Duration) bool {
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	last, ok := r.lastRun[projectPath]
	if !ok {
		return true
	}
	return time.Since(last) >= cooldown
}

// RunAutoIndex executes fn for projectPath, coalescing concurrent callers
// onto a single in-flight run, and stamps the cooldown clock once fn returns
// regardless of outcome so a failing run does not get retried on every
// subsequent query within the cooldown window.
func (r *Registry) RunAutoIndex(projectPath string, fn func() (any, error)) (any, error) {
	v, err, _ := r.runOnce.Do(projectPath, func() (any, error) {
		defer r.recordAutoIndex(projectPath)
		return fn()
	})
	return v, err
}

func (r *Registry) recordAutoIndex(projectPath string) {
	r.cooldownMu.Lock()
	r.lastRun[projectPath] = time.Now()
	r.cooldownMu.Unlock()
}
