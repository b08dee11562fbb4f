package store

import (
	"os"
	"path/filepath"
	"strings"

	"crypto/sha256"
	"encoding/hex"
)

const envPathOverride = "MEMORYD_DB_PATH"

// ResolvePath decides the effective database file path for a project.
//
// Precedence, highest first: explicit path argument, environment override
// (MEMORYD_DB_PATH), a single-home-wide file (mode=single), a per-project file
// under the canonical project folder (mode=per-project), and finally a
// project-local fallback folder when the home directory is not writable.
func ResolvePath(explicit, canonicalProjectPath, mode string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv(envPathOverride); env != "" {
		return env, nil
	}

	home, homeErr := homeDataDir()

	if mode == "single" {
		if homeErr == nil {
			return filepath.Join(home, "store.db"), nil
		}
		return projectLocalFallback(canonicalProjectPath), nil
	}

	// per-project (default)
	if homeErr == nil {
		folder := ProjectFolderName(canonicalProjectPath)
		return filepath.Join(home, "projects", folder, "store.db"), nil
	}
	return projectLocalFallback(canonicalProjectPath), nil
}

func homeDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".config", "memoryd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func projectLocalFallback(canonicalProjectPath string) string {
	return filepath.Join(canonicalProjectPath, ".memoryd", "store.db")
}

// ProjectFolderName derives a deterministic, filesystem-safe folder name from
// a canonicalized project path. Two distinct paths never collide: any
// character outside [a-z0-9_] is replaced with '_', and a content hash suffix
// guards against different paths sanitizing to the same prefix.
func ProjectFolderName(canonicalPath string) string {
	lower := strings.ToLower(canonicalPath)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	sanitized := strings.Trim(b.String(), "_")
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	if sanitized == "" {
		sanitized = "default"
	}
	if len(sanitized) > 48 {
		sanitized = sanitized[:48]
	}
	sum := sha256.Sum256([]byte(canonicalPath))
	return sanitized + "_" + hex.EncodeToString(sum[:])[:8]
}

// CanonicalizeProjectPath resolves symlinks and normalizes a project path so
// several working copies can share one logical project identity: a linked
// git worktree, whose .git file points into <main>/.git/worktrees/, maps to
// its main working copy.
func CanonicalizeProjectPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path may not exist yet; fall back to the absolute, cleaned path.
		return filepath.Clean(abs), nil
	}
	if data, err := os.ReadFile(filepath.Join(resolved, ".git")); err == nil {
		if gitdir, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:"); ok {
			gitdir = strings.TrimSpace(gitdir)
			if !filepath.IsAbs(gitdir) {
				gitdir = filepath.Join(resolved, gitdir)
			}
			gitdir = filepath.Clean(gitdir)
			marker := string(filepath.Separator) + filepath.Join(".git", "worktrees") + string(filepath.Separator)
			if i := strings.Index(gitdir, marker); i >= 0 {
				return gitdir[:i], nil
			}
		}
	}
	return resolved, nil
}
