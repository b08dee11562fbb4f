// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"context"
	"fmt"
	"sync"
)

// ModelInfo summarizes a capability's backend and model for diagnostics and
// for the IndexOrchestrator's embedding_error reporting.
type ModelInfo struct {
	Provider   string
	Model      string
	Dimensions int
	Available  bool
}

// Capability is the small embedding interface the rest of the system
// depends on: initialize (idempotent, never throws on backend
// unavailability), is-available, single/batch embed, and model info. A
// Capability whose backend never became available still satisfies this
// interface and returns an error from Embed/EmbedBatch.
type Capability struct {
	mu        sync.RWMutex
	provider  Provider
	modelName string
	available bool
	initErr   error
	batchSize int
}

// NewCapability wraps a concrete Provider (or nil, if construction failed)
// into the uniform Capability surface. initErr, when non-nil, is the reason
// the provider never became available; it is never returned from
// Initialize, only recorded.
func NewCapability(provider Provider, modelName string, batchSize int, initErr error) *Capability {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Capability{
		provider:  provider,
		modelName: modelName,
		available: provider != nil && initErr == nil,
		initErr:   initErr,
		batchSize: batchSize,
	}
}

// Initialize is idempotent and never returns an error for backend
// unavailability; callers check IsAvailable afterward.
func (c *Capability) Initialize(_ context.Context) error {
	return nil
}

// IsAvailable reports whether a backend provider was constructed behind this
// capability. Construction does not contact the backend, so an HTTP-backed
// provider whose server is unreachable still reports true; its Embed and
// EmbedBatch calls then return the transport error.
func (c *Capability) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Embed generates a single embedding vector.
func (c *Capability) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, c.initErr)
	}
	return c.provider.EmbedQuery(ctx, text)
}

// EmbedBatch generates embeddings for multiple texts, chunked into the
// configured batch size.
func (c *Capability) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.available {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, c.initErr)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.provider.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// ModelInfo reports the active backend (its embedding.provider letter, or
// "" when no known backend is wrapped), model, dimensionality, and
// availability.
func (c *Capability) ModelInfo() ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dims := 0
	if c.provider != nil {
		dims = c.provider.Dimension()
	}
	backend := ""
	switch c.provider.(type) {
	case *FastEmbedProvider:
		backend = "a"
	case *teiProvider:
		backend = "b"
	case *OllamaProvider:
		backend = "c"
	}
	return ModelInfo{
		Provider:   backend,
		Model:      c.modelName,
		Dimensions: dims,
		Available:  c.available,
	}
}

// Close releases the underlying provider's resources, if any.
func (c *Capability) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider == nil {
		return nil
	}
	return c.provider.Close()
}
