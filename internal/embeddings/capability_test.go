package embeddings

import (
	"context"
	"errors"
	"testing"
)

func TestCapability_UnavailableProviderReturnsErrorFromEmbed(t *testing.T) {
	cap := NewCapability(nil, "none", 32, errors.New("backend offline"))
	if cap.IsAvailable() {
		t.Fatal("IsAvailable() = true, want false for nil provider")
	}

	if err := cap.Initialize(context.Background()); err != nil {
		t.Errorf("Initialize() error = %v, want nil (idempotent, never errors on unavailability)", err)
	}

	if _, err := cap.Embed(context.Background(), "hello"); err == nil {
		t.Error("Embed() error = nil, want error for unavailable capability")
	}
	if _, err := cap.EmbedBatch(context.Background(), []string{"hello"}); err == nil {
		t.Error("EmbedBatch() error = nil, want error for unavailable capability")
	}

	info := cap.ModelInfo()
	if info.Available {
		t.Error("ModelInfo().Available = true, want false")
	}
}

type fakeProvider struct{ dim int }

func (f *fakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}
func (f *fakeProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, f.dim), nil
}
func (f *fakeProvider) Dimension() int { return f.dim }
func (f *fakeProvider) Close() error   { return nil }

func TestCapability_EmbedBatchChunksByBatchSize(t *testing.T) {
	cap := NewCapability(&fakeProvider{dim: 4}, "fake", 2, nil)
	texts := []string{"a", "b", "c", "d", "e"}

	out, err := cap.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(out) != len(texts) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(texts))
	}
	for _, v := range out {
		if len(v) != 4 {
			t.Errorf("embedding dim = %d, want 4", len(v))
		}
	}
}

func TestCapability_ModelInfoReportsDimension(t *testing.T) {
	cap := NewCapability(&fakeProvider{dim: 384}, "fake-model", 32, nil)
	info := cap.ModelInfo()
	if !info.Available {
		t.Error("Available = false, want true")
	}
	if info.Dimensions != 384 {
		t.Errorf("Dimensions = %d, want 384", info.Dimensions)
	}
	if info.Model != "fake-model" {
		t.Errorf("Model = %q, want fake-model", info.Model)
	}
}
