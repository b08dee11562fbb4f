// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig holds configuration for the Ollama-compatible HTTP provider
// ("Provider C"): a local model server exposing a /api/embeddings endpoint.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// OllamaProvider embeds text via an Ollama-compatible HTTP server. It mirrors
// teiProvider's shape but speaks Ollama's single-input embeddings endpoint,
// issuing one request per text since the API has no batch form.
type OllamaProvider struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewOllamaProvider builds an OllamaProvider. Dimension is inferred from the
// model name heuristic shared with the other providers; Ollama's API does
// not report it directly.
func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return &OllamaProvider{
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		dimension: detectDimensionFromModel(cfg.Model),
		client:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedDocuments generates embeddings for multiple texts, one request per
// text (Ollama's embeddings endpoint takes a single prompt).
func (o *OllamaProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := o.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// EmbedQuery generates an embedding for a single text.
func (o *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}
	return out.Embedding, nil
}

// Dimension returns the embedding dimension for the current model.
func (o *OllamaProvider) Dimension() int { return o.dimension }

// Close is a no-op for Ollama since it uses HTTP.
func (o *OllamaProvider) Close() error { return nil }

var _ Provider = (*OllamaProvider)(nil)
