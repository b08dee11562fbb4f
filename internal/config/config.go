// Package config provides configuration loading for memoryd.
//
// Configuration is resolved from a YAML file (default ~/.config/memoryd/config.yaml)
// overlaid with environment variables, with built-in defaults for anything unset.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds the complete memoryd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Chunking   ChunkingConfig   `koanf:"chunking"`
	Rerank     RerankConfig     `koanf:"rerank"`
	Index      IndexConfig      `koanf:"index"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds settings for the thin CLI surface: console/argument
// glue only, never a request/response dispatcher.
type ServerConfig struct {
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// StoreConfig controls the embedded relational store (internal/store).
type StoreConfig struct {
	// Path is an explicit database file path. Highest precedence in the
	// resolution order: explicit path > env override > single-home file >
	// per-project file > project-local fallback.
	Path string `koanf:"path"`

	// Mode selects single-home-wide vs per-project database files.
	Mode string `koanf:"mode"` // "single" | "per-project"

	CacheSizeKB int   `koanf:"cache_size_kb"`
	MmapSize    int64 `koanf:"mmap_size"` // bytes; 0 disables mmap
	ReadOnly    bool  `koanf:"read_only"`
}

// EmbeddingConfig controls the EmbeddingProvider capability and its factory.
type EmbeddingConfig struct {
	Provider   string `koanf:"provider"` // "a" (fastembed/local ONNX) | "b" (TEI-http) | "c" (ollama-http)
	Model      string `koanf:"model"`
	Dimensions int    `koanf:"dimensions"`
	BaseURL    string `koanf:"base_url"`
	APIKey     Secret `koanf:"api_key"`
	CacheDir   string `koanf:"cache_dir"`
	BatchSize  int    `koanf:"batch_size"`
}

// ChunkingConfig controls the Chunker.
type ChunkingConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Strategy     string `koanf:"strategy"` // "sentence" | "sliding_window" | "disabled"
	ChunkSize    int    `koanf:"chunk_size"`
	Overlap      float64 `koanf:"overlap"`
	MinChunkSize int    `koanf:"min_chunk_size"`
}

// RerankConfig controls the HybridRanker.
type RerankConfig struct {
	Enabled    bool    `koanf:"enabled"`
	K          float64 `koanf:"k"`
	WeightVec  float64 `koanf:"weight_vector"`
	WeightFTS  float64 `koanf:"weight_fts"`
	OverlapBoost float64 `koanf:"overlap_boost"`
}

// IndexConfig controls IndexOrchestrator behavior.
type IndexConfig struct {
	ExcludeMCPConversations string   `koanf:"exclude_mcp_conversations"` // "off" | "self-only" | "all-mcp"
	ExcludeMCPServers       []string `koanf:"exclude_mcp_servers"`
	AutoIndexCooldown       Duration `koanf:"auto_index_cooldown"`
	GitIntegrationEnabled   bool     `koanf:"git_integration_enabled"`
}

// ObservabilityConfig controls the structured-logging/metrics ambient stack.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
}

// Validate checks the configuration for internal consistency. It never
// validates filesystem reachability — that is the Store's job at open time.
func (c *Config) Validate() error {
	switch c.Store.Mode {
	case "single", "per-project", "":
	default:
		return fmt.Errorf("invalid store.mode: %q (must be 'single' or 'per-project')", c.Store.Mode)
	}
	if c.Store.MmapSize < 0 {
		return errors.New("store.mmap_size must be non-negative")
	}

	switch c.Embedding.Provider {
	case "a", "b", "c", "":
	default:
		return fmt.Errorf("invalid embedding.provider: %q (must be 'a', 'b', or 'c')", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return errors.New("embedding.dimensions must be non-negative")
	}
	if c.Embedding.BaseURL != "" {
		if err := validateURL(c.Embedding.BaseURL); err != nil {
			return fmt.Errorf("invalid embedding.base_url: %w", err)
		}
	}

	switch c.Chunking.Strategy {
	case "sentence", "sliding_window", "disabled", "":
	default:
		return fmt.Errorf("invalid chunking.strategy: %q", c.Chunking.Strategy)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= 1 {
		return fmt.Errorf("chunking.overlap must be in [0,1), got %f", c.Chunking.Overlap)
	}

	if c.Rerank.K < 0 {
		return errors.New("rerank.k must be non-negative")
	}

	switch c.Index.ExcludeMCPConversations {
	case "off", "self-only", "all-mcp", "":
	default:
		return fmt.Errorf("invalid index.exclude_mcp_conversations: %q", c.Index.ExcludeMCPConversations)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("observability.service_name required when telemetry is enabled")
	}

	return nil
}

// validateURL checks that a URL uses an allowed scheme (http/https only).
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
