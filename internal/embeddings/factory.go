// Package embeddings provides embedding generation via multiple providers.
package embeddings

import (
	"os"
	"path/filepath"

	"github.com/fenwicklabs/memoryd/internal/config"
)

// FactoryConfig is the resolved, precedence-applied configuration a factory
// builds a Capability from.
type FactoryConfig struct {
	Provider   string // "a" (fastembed) | "b" (tei) | "c" (ollama)
	Model      string
	BaseURL    string
	APIKey     string
	CacheDir   string
	BatchSize  int
	Dimensions int
}

// providerPreference is the auto-detection order tried when the requested
// backend fails to initialize: local ONNX first (no network dependency),
// then the two HTTP-backed servers.
var providerPreference = []string{"a", "b", "c"}

// ResolveFactoryConfig applies the env-override > config-file >
// built-in-default precedence chain. cfg is the configuration
// internal/config's koanf loader read from its single YAML file (with that
// loader's own env overlay); no separate project-level config file is
// read. Built-in defaults fill an empty provider, batch size and cache
// directory, and the MEMORYD_EMBEDDING_* env vars here take the final word.
func ResolveFactoryConfig(cfg config.EmbeddingConfig) FactoryConfig {
	out := FactoryConfig{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey.Value(),
		CacheDir:   cfg.CacheDir,
		BatchSize:  cfg.BatchSize,
		Dimensions: cfg.Dimensions,
	}
	if out.Provider == "" {
		out.Provider = "a"
	}
	if out.BatchSize == 0 {
		out.BatchSize = 32
	}
	if out.CacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			out.CacheDir = filepath.Join(home, ".cache", "memoryd", "models")
		}
	}

	if v := os.Getenv("MEMORYD_EMBEDDING_PROVIDER"); v != "" {
		out.Provider = v
	}
	if v := os.Getenv("MEMORYD_EMBEDDING_MODEL"); v != "" {
		out.Model = v
	}
	if v := os.Getenv("MEMORYD_EMBEDDING_BASE_URL"); v != "" {
		out.BaseURL = v
	}
	if v := os.Getenv("MEMORYD_EMBEDDING_API_KEY"); v != "" {
		out.APIKey = v
	}
	return out
}

// buildOne attempts to construct a live Provider for a single backend
// letter. It never returns a (nil, nil) pair: failure is always an error.
func buildOne(backend string, cfg FactoryConfig) (Provider, error) {
	switch backend {
	case "a":
		model := cfg.Model
		if model == "" {
			model = "BAAI/bge-small-en-v1.5"
		}
		return NewFastEmbedProvider(FastEmbedConfig{Model: model, CacheDir: cfg.CacheDir})
	case "b":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
		svc, err := NewService(Config{BaseURL: baseURL, Model: cfg.Model, APIKey: cfg.APIKey})
		if err != nil {
			return nil, err
		}
		return &teiProvider{Service: svc, dimension: detectDimensionFromModel(cfg.Model)}, nil
	case "c":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaProvider(OllamaConfig{BaseURL: baseURL, Model: cfg.Model})
	default:
		return nil, &unknownProviderError{backend}
	}
}

type unknownProviderError struct{ backend string }

func (e *unknownProviderError) Error() string {
	return "embeddings: unknown provider " + e.backend
}

// NewFromConfig resolves cfg's requested backend; on failure it falls back
// to auto-detection over providerPreference, skipping the backend already
// tried. A backend that never becomes available still yields a Capability
// (IsAvailable() == false) rather than an error, so callers can index with
// embeddings_generated=false instead of failing the whole run.
func NewFromConfig(cfg FactoryConfig) *Capability {
	if provider, err := buildOne(cfg.Provider, cfg); err == nil {
		return NewCapability(provider, cfg.Model, cfg.BatchSize, nil)
	} else {
		lastErr := err
		for _, candidate := range providerPreference {
			if candidate == cfg.Provider {
				continue
			}
			if provider, ferr := buildOne(candidate, cfg); ferr == nil {
				return NewCapability(provider, cfg.Model, cfg.BatchSize, nil)
			} else {
				lastErr = ferr
			}
		}
		return NewCapability(nil, cfg.Model, cfg.BatchSize, lastErr)
	}
}
