package config

import "testing"

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"zero value is valid", func(c *Config) {}, false},
		{"bad store mode", func(c *Config) { c.Store.Mode = "cluster" }, true},
		{"negative mmap size", func(c *Config) { c.Store.MmapSize = -1 }, true},
		{"bad embedding provider", func(c *Config) { c.Embedding.Provider = "d" }, true},
		{"bad embedding base url", func(c *Config) { c.Embedding.BaseURL = "ftp://x" }, true},
		{"bad chunking strategy", func(c *Config) { c.Chunking.Strategy = "paragraph" }, true},
		{"overlap out of range", func(c *Config) { c.Chunking.Overlap = 1.5 }, true},
		{"negative rerank k", func(c *Config) { c.Rerank.K = -1 }, true},
		{"bad exclude mcp mode", func(c *Config) { c.Index.ExcludeMCPConversations = "everything" }, true},
		{"telemetry without service name", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.ServiceName = ""
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSecret_RedactsInString(t *testing.T) {
	s := Secret("super-secret")
	if s.String() != "[REDACTED]" {
		t.Fatalf("expected redacted string, got %q", s.String())
	}
	if s.Value() != "super-secret" {
		t.Fatalf("expected Value() to return raw secret")
	}
}
