package storecache

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/config"
	"github.com/fenwicklabs/memoryd/internal/store"
)

func TestRegistry_OpenCachesByPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")
	r := New(zap.NewNop())
	defer r.CloseAll()

	s1, err := r.Open(context.Background(), path, config.StoreConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s2, err := r.Open(context.Background(), path, config.StoreConfig{})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if s1 != s2 {
		t.Errorf("Open() returned different handles for the same path, want the cached one")
	}
}

func TestRegistry_OpenCoalescesConcurrentCallers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")
	r := New(zap.NewNop())
	defer r.CloseAll()

	var wg sync.WaitGroup
	results := make([]*store.Store, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Open(context.Background(), path, config.StoreConfig{})
			if err != nil {
				t.Errorf("Open: %v", err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	first := results[0]
	for i, s := range results {
		if s != first {
			t.Errorf("result[%d] = %v, want every concurrent Open to return the same handle %v", i, s, first)
		}
	}
}

func TestRegistry_CloseEvictsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")
	r := New(zap.NewNop())

	if _, err := r.Open(context.Background(), path, config.StoreConfig{}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Close(path); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := r.get(path); ok {
		t.Errorf("get() after Close found a cached handle, want eviction")
	}
}

func TestRegistry_CloseUnknownPathIsNoop(t *testing.T) {
	r := New(zap.NewNop())
	if err := r.Close("/never/opened.db"); err != nil {
		t.Errorf("Close() on an unopened path error = %v, want nil", err)
	}
}

func TestRegistry_ShouldAutoIndex(t *testing.T) {
	r := New(zap.NewNop())

	if !r.ShouldAutoIndex("/project", time.Minute) {
		t.Errorf("ShouldAutoIndex() for a project never indexed = false, want true")
	}

	r.recordAutoIndex("/project")
	if r.ShouldAutoIndex("/project", time.Minute) {
		t.Errorf("ShouldAutoIndex() immediately after a run = true, want false (cooldown active)")
	}
	if !r.ShouldAutoIndex("/project", 0) {
		t.Errorf("ShouldAutoIndex() with a zero cooldown = false, want true")
	}
}

func TestRegistry_RunAutoIndexCoalescesConcurrentCallers(t *testing.T) {
	r := New(zap.NewNop())
	var calls int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.RunAutoIndex("/project", func() (any, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return nil, nil
			})
			if err != nil {
				t.Errorf("RunAutoIndex: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("concurrent RunAutoIndex calls ran fn %d times, want 1", got)
	}
	if r.ShouldAutoIndex("/project", time.Hour) {
		t.Errorf("ShouldAutoIndex() right after RunAutoIndex = true, want false (cooldown stamped)")
	}
}
