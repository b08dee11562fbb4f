package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/config"
)

func openTestStore(t *testing.T, cfg config.StoreConfig) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")
	s, err := Open(context.Background(), path, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpen_CreatesFileAndSchema(t *testing.T) {
	s, path := openTestStore(t, config.StoreConfig{})

	if s.Path() != path {
		t.Fatalf("Path() = %q, want %q", s.Path(), path)
	}
	if s.ReadOnly() {
		t.Fatal("expected a writable store")
	}

	exists, err := tableExists(context.Background(), s.DB(), "schema_version")
	if err != nil {
		t.Fatalf("tableExists: %v", err)
	}
	if !exists {
		t.Fatal("expected schema_version table after Open")
	}

	version, err := s.currentSchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("currentSchemaVersion: %v", err)
	}
	if version != migrations[len(migrations)-1].version {
		t.Fatalf("schema version = %d, want %d", version, migrations[len(migrations)-1].version)
	}

	for _, table := range []string{"conversations", "messages", "decisions", "mistakes", "chunks", "git_commits"} {
		ok, err := tableExists(context.Background(), s.DB(), table)
		if err != nil {
			t.Fatalf("tableExists(%s): %v", table, err)
		}
		if !ok {
			t.Fatalf("expected table %q to exist after migration", table)
		}
	}
}

func TestOpen_ReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")

	s1, err := Open(context.Background(), path, config.StoreConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s1.Close()

	s2, err := Open(context.Background(), path, config.StoreConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	version, err := s2.currentSchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("currentSchemaVersion: %v", err)
	}
	if version != migrations[len(migrations)-1].version {
		t.Fatalf("schema version after reopen = %d, want %d", version, migrations[len(migrations)-1].version)
	}
}

func TestOpen_ReadOnlyMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.db")

	_, err := Open(context.Background(), path, config.StoreConfig{ReadOnly: true}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error opening a nonexistent store read-only")
	}
}

func TestOpen_ReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")

	s, err := Open(context.Background(), path, config.StoreConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	ro, err := Open(context.Background(), path, config.StoreConfig{ReadOnly: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("Open read-only: %v", err)
	}
	defer ro.Close()

	if !ro.ReadOnly() {
		t.Fatal("expected ReadOnly() to report true")
	}
	if _, err := ro.Exec(context.Background(), "INSERT INTO projects(canonical_path, source_kind) VALUES (?, ?)", "/tmp/x", "assistant-a"); err != ErrReadOnly {
		t.Fatalf("Exec on read-only store = %v, want ErrReadOnly", err)
	}
	err = ro.Transaction(context.Background(), func(tx *sql.Tx) error { return nil })
	if err != ErrReadOnly {
		t.Fatalf("Transaction on read-only store = %v, want ErrReadOnly", err)
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	s, _ := openTestStore(t, config.StoreConfig{})
	ctx := context.Background()

	sentinel := ErrDimensionInvalid
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO projects(canonical_path, source_kind) VALUES (?, ?)", "/tmp/proj", "assistant-a"); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("Transaction error = %v, want %v", err, sentinel)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to leave 0 rows, got %d", count)
	}
}

func TestEnsureVectorTable_RejectsInvalidDimension(t *testing.T) {
	s, _ := openTestStore(t, config.StoreConfig{})

	if err := s.EnsureVectorTable(context.Background(), "messages", 0); err == nil {
		t.Fatal("expected error for dimension 0")
	}
	if err := s.EnsureVectorTable(context.Background(), "messages", MaxVectorDimension+1); err == nil {
		t.Fatal("expected error for dimension above max")
	}
}

func TestEnsureVectorTable_IdempotentWhenNativeAvailable(t *testing.T) {
	s, _ := openTestStore(t, config.StoreConfig{})
	ctx := context.Background()

	if !s.NativeVectorAvailable(ctx) {
		t.Skip("native vector extension unavailable in this environment")
	}

	if err := s.EnsureVectorTable(ctx, "messages", 384); err != nil {
		t.Fatalf("EnsureVectorTable: %v", err)
	}
	if err := s.EnsureVectorTable(ctx, "messages", 384); err != nil {
		t.Fatalf("EnsureVectorTable (second call): %v", err)
	}

	exists, err := tableExists(ctx, s.DB(), vectorTableName("messages"))
	if err != nil {
		t.Fatalf("tableExists: %v", err)
	}
	if !exists {
		t.Fatal("expected vec_messages table to exist")
	}
}

func TestVectorTableName(t *testing.T) {
	if got := vectorTableName("messages"); got != "vec_messages" {
		t.Fatalf("vectorTableName = %q", got)
	}
}
