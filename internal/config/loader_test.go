package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWithFile_DefaultsWhenAbsent(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadWithFile(filepath.Join(home, ".config", "memoryd", "config.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFile: %v", err)
	}
	if cfg.Store.Mode != "per-project" {
		t.Fatalf("expected default store mode, got %q", cfg.Store.Mode)
	}
	if cfg.Embedding.Provider != "a" {
		t.Fatalf("expected default embedding provider 'a', got %q", cfg.Embedding.Provider)
	}
}

func TestLoadWithFile_EnvOverridesYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "memoryd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	yamlContent := "store:\n  mode: single\nembedding:\n  provider: b\n"
	if err := os.WriteFile(configPath, []byte(yamlContent), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EMBEDDING_PROVIDER", "c")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile: %v", err)
	}
	if cfg.Store.Mode != "single" {
		t.Fatalf("expected YAML value 'single', got %q", cfg.Store.Mode)
	}
	if cfg.Embedding.Provider != "c" {
		t.Fatalf("expected env override 'c', got %q", cfg.Embedding.Provider)
	}
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	outside := filepath.Join(home, "not-config", "config.yaml")
	if _, err := LoadWithFile(outside); err == nil {
		t.Fatal("expected rejection of config path outside allowed directories")
	}
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".config", "memoryd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("store:\n  mode: single\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadWithFile(configPath); err == nil {
		t.Fatal("expected rejection of world-readable config file")
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if err := EnsureConfigDir(); err != nil {
		t.Fatalf("EnsureConfigDir: %v", err)
	}
	info, err := os.Stat(filepath.Join(home, ".config", "memoryd"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatal("expected directory")
	}
}
