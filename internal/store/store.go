// Package store implements the embedded single-file relational store: schema
// management, pragma configuration, and the vector-table lifecycle that
// VectorStore builds on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/tursodatabase/go-libsql"
	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/config"
)

// Sentinel errors, matching the sentinel-error style used for vectorstore
// failures (internal/vectorstore/interface.go).
var (
	ErrSchemaIncompatible = errors.New("store: schema is incompatible with this binary and could not be recreated")
	ErrDimensionInvalid   = errors.New("store: embedding dimension must be in [1, 10000]")
	ErrReadOnly           = errors.New("store: write attempted on a read-only store")
	ErrNotFound           = errors.New("store: file does not exist")
)

// MinVectorDimension and MaxVectorDimension bound valid embedding dimensions.
const (
	MinVectorDimension = 1
	MaxVectorDimension = 10000
)

// Store wraps a single libsql-backed database file with the pragmas,
// migration, and vector-table lifecycle a conversation-memory engine needs.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
	logger   *zap.Logger

	mu                 sync.Mutex
	vectorTablesInit   map[string]bool
	nativeVecAvailable bool
	nativeVecProbed    bool
}

// Open opens (creating if necessary) a database file at path, applies
// pragmas, and runs schema migrations. Set cfg.ReadOnly to open an
// existing store without running any write-side setup.
func Open(ctx context.Context, path string, cfg config.StoreConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		db, err := sql.Open("libsql", "file:"+path+"?mode=ro")
		if err != nil {
			return nil, fmt.Errorf("store: open read-only: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: ping read-only: %w", err)
		}
		return &Store{db: db, path: path, readOnly: true, logger: logger, vectorTablesInit: map[string]bool{}}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: cannot create directory %q: %v (set %s)", os.ErrPermission, dir, err, envPathOverride)
		}
		return nil, fmt.Errorf("store: create directory %q: %w", dir, err)
	}

	db, err := openWithPragmas(path, cfg)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, diagnoseOpenError(path, err)
	}

	s := &Store{db: db, path: path, logger: logger, vectorTablesInit: map[string]bool{}}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema init: %w", err)
	}

	return s, nil
}

// openWithPragmas opens the database applying the WAL/NORMAL-sync/cache/mmap
// pragma set, falling back to MEMORY journaling if WAL is rejected by the
// filesystem (e.g. some network mounts).
func openWithPragmas(path string, cfg config.StoreConfig) (*sql.DB, error) {
	cacheKB := cfg.CacheSizeKB
	if cacheKB == 0 {
		cacheKB = 64 * 1024
	}
	mmap := cfg.MmapSize
	if mmap == 0 {
		mmap = 1 << 30
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=page_size(4096)&_pragma=cache_size(-%d)&_pragma=mmap_size(%d)&_pragma=temp_store(MEMORY)&_pragma=foreign_keys(1)",
		path, cacheKB, mmap,
	)
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, pragmaErr := db.Exec("PRAGMA journal_mode"); pragmaErr != nil {
		db.Close()
		// WAL rejected by the filesystem: retry with MEMORY journaling.
		fallbackDSN := fmt.Sprintf(
			"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(MEMORY)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
			path,
		)
		db, err = sql.Open("libsql", fallbackDSN)
		if err != nil {
			return nil, fmt.Errorf("store: open (MEMORY journal fallback): %w", err)
		}
	}
	return db, nil
}

func diagnoseOpenError(path string, originalErr error) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("store: cannot open %q: directory %q does not exist", path, dir)
		}
		return fmt.Errorf("store: cannot open %q: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store: cannot open %q: %q is not a directory", path, dir)
	}
	return fmt.Errorf("store: cannot open %q: permission denied in %q (original error: %v); set %s to override", path, dir, originalErr, envPathOverride)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path this store was opened against.
func (s *Store) Path() string { return s.path }

// ReadOnly reports whether the store was opened in read-only mode.
func (s *Store) ReadOnly() bool { return s.readOnly }

// DB exposes the underlying *sql.DB for components (VectorStore, extractors)
// that need to build their own prepared statements against the same handle.
func (s *Store) DB() *sql.DB { return s.db }

// Transaction runs fn inside a single database transaction, committing on
// success and rolling back if fn returns an error or panics.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	if s.readOnly {
		return ErrReadOnly
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: tx failed (%v) and rollback failed: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// Prepare prepares a statement against the underlying database handle.
func (s *Store) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	return s.db.PrepareContext(ctx, query)
}

// Exec runs a non-transactional statement. Components that need several
// statements to be atomic MUST use Transaction instead.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.readOnly {
		return nil, ErrReadOnly
	}
	return s.db.ExecContext(ctx, query, args...)
}

// Checkpoint forces a WAL checkpoint. Safe to call while reads are ongoing.
func (s *Store) Checkpoint(ctx context.Context) error {
	if s.readOnly {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Vacuum reclaims free space. Long-running but non-blocking to readers in
// WAL mode.
func (s *Store) Vacuum(ctx context.Context) error {
	if s.readOnly {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Analyze refreshes query-planner statistics.
func (s *Store) Analyze(ctx context.Context) error {
	if s.readOnly {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "ANALYZE")
	return err
}

// NativeVectorAvailable reports whether the libsql vector extension
// (libsql_vector_idx / vector_distance_cos) is usable on this connection.
// The probe result is cached for the lifetime of the Store.
func (s *Store) NativeVectorAvailable(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nativeVecProbed {
		return s.nativeVecAvailable
	}
	s.nativeVecProbed = true
	_, err := s.db.ExecContext(ctx, "SELECT vector_distance_cos(vector32('[1.0]'), vector32('[1.0]'))")
	s.nativeVecAvailable = err == nil
	if err != nil {
		s.logger.Info("native vector extension unavailable, using BLOB cosine fallback", zap.Error(err))
	}
	return s.nativeVecAvailable
}

// EnsureVectorTable lazily creates the native vector virtual table for an
// entity kind (e.g. "messages", "decisions", "mistakes", "chunks") the first
// time an embedding of dimension dim is written for it. It is a no-op if the
// native extension is unavailable or the table already exists for this
// Store instance.
func (s *Store) EnsureVectorTable(ctx context.Context, entityKind string, dim int) error {
	if dim < MinVectorDimension || dim > MaxVectorDimension {
		return fmt.Errorf("%w: got %d", ErrDimensionInvalid, dim)
	}
	if !s.NativeVectorAvailable(ctx) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := entityKind
	if s.vectorTablesInit[key] {
		return nil
	}

	table := vectorTableName(entityKind)
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (row_id TEXT PRIMARY KEY, embedding F32_BLOB(%d))`,
		table, dim,
	)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: create vector table %s: %w", table, err)
	}
	idxDDL := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_vec ON %s(libsql_vector_idx(embedding))`,
		table, table,
	)
	if _, err := s.db.ExecContext(ctx, idxDDL); err != nil {
		s.logger.Info("libsql_vector_idx unavailable, vector table will be scanned without an index",
			zap.String("table", table), zap.Error(err))
	}
	s.vectorTablesInit[key] = true
	return nil
}

func vectorTableName(entityKind string) string {
	return "vec_" + entityKind
}
