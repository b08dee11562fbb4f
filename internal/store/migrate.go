package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
)

type migration struct {
	version     int
	description string
	statements  []string
}

// migrations is the ordered list of schema migrations. Each runs inside its
// own transaction. Adding a migration MUST only append to this slice —
// existing entries are an immutable historical record once released.
var migrations = []migration{
	{
		version:     1,
		description: "base schema: conversations, messages, tool calls, extracted knowledge, embeddings",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS projects (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				canonical_path TEXT NOT NULL UNIQUE,
				source_kind TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS conversations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				project_id INTEGER NOT NULL REFERENCES projects(id),
				source_kind TEXT NOT NULL,
				first_at INTEGER NOT NULL,
				last_at INTEGER NOT NULL,
				message_count INTEGER NOT NULL DEFAULT 0,
				branch TEXT,
				version TEXT,
				metadata TEXT,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project_id)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				conversation_id INTEGER NOT NULL REFERENCES conversations(id),
				parent_external_id TEXT,
				kind TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT,
				timestamp INTEGER NOT NULL,
				is_sidechain INTEGER NOT NULL DEFAULT 0,
				agent_id TEXT,
				request_id TEXT,
				branch TEXT,
				cwd TEXT,
				metadata TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
			`CREATE TABLE IF NOT EXISTS tool_uses (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				message_id INTEGER NOT NULL REFERENCES messages(id),
				tool_name TEXT NOT NULL,
				input_json TEXT,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tool_uses_message ON tool_uses(message_id)`,
			`CREATE TABLE IF NOT EXISTS tool_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				tool_use_id INTEGER REFERENCES tool_uses(id),
				message_id INTEGER NOT NULL REFERENCES messages(id),
				content TEXT,
				stdout TEXT,
				stderr TEXT,
				is_error INTEGER NOT NULL DEFAULT 0,
				is_image INTEGER NOT NULL DEFAULT 0,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tool_results_tool_use ON tool_results(tool_use_id)`,
			`CREATE TABLE IF NOT EXISTS thinking_blocks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				message_id INTEGER NOT NULL REFERENCES messages(id),
				content TEXT NOT NULL,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS file_edits (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				message_id INTEGER NOT NULL REFERENCES messages(id),
				conversation_id INTEGER NOT NULL REFERENCES conversations(id),
				file_path TEXT NOT NULL,
				snapshot_timestamp INTEGER NOT NULL,
				backup_version TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_file_edits_path ON file_edits(file_path)`,
			`CREATE TABLE IF NOT EXISTS decisions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				conversation_id INTEGER NOT NULL REFERENCES conversations(id),
				message_id INTEGER NOT NULL REFERENCES messages(id),
				text TEXT NOT NULL,
				rationale TEXT,
				alternatives TEXT,
				rejected_reasons TEXT,
				context TEXT,
				related_files TEXT,
				related_commits TEXT,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS mistakes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				conversation_id INTEGER NOT NULL REFERENCES conversations(id),
				message_id INTEGER NOT NULL REFERENCES messages(id),
				kind TEXT NOT NULL,
				what_went_wrong TEXT NOT NULL,
				correction TEXT,
				user_correction_message TEXT,
				files_affected TEXT,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS requirements (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				kind TEXT NOT NULL,
				description TEXT NOT NULL,
				rationale TEXT,
				affects_components TEXT,
				conversation_id INTEGER NOT NULL REFERENCES conversations(id),
				message_id INTEGER NOT NULL REFERENCES messages(id),
				timestamp INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS validations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_id TEXT NOT NULL UNIQUE,
				kind TEXT NOT NULL,
				description TEXT NOT NULL,
				rationale TEXT,
				affects_components TEXT,
				conversation_id INTEGER NOT NULL REFERENCES conversations(id),
				message_id INTEGER NOT NULL REFERENCES messages(id),
				timestamp INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS git_commits (
				hash TEXT PRIMARY KEY,
				project_id INTEGER NOT NULL REFERENCES projects(id),
				message TEXT NOT NULL,
				author TEXT,
				timestamp INTEGER NOT NULL,
				branch TEXT,
				files_changed TEXT,
				conversation_id INTEGER REFERENCES conversations(id),
				related_message_id INTEGER REFERENCES messages(id),
				metadata TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS message_embeddings (
				row_id TEXT PRIMARY KEY,
				owning_entity_id TEXT NOT NULL,
				content TEXT,
				embedding_bytes BLOB NOT NULL,
				model_name TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS decision_embeddings (
				row_id TEXT PRIMARY KEY,
				owning_entity_id TEXT NOT NULL,
				content TEXT,
				embedding_bytes BLOB NOT NULL,
				model_name TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS mistake_embeddings (
				row_id TEXT PRIMARY KEY,
				owning_entity_id TEXT NOT NULL,
				content TEXT,
				embedding_bytes BLOB NOT NULL,
				model_name TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chunks (
				external_id TEXT PRIMARY KEY,
				message_id INTEGER NOT NULL REFERENCES messages(id),
				idx INTEGER NOT NULL,
				total INTEGER NOT NULL,
				start_offset INTEGER NOT NULL,
				end_offset INTEGER NOT NULL,
				content TEXT NOT NULL,
				was_chunked INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chunk_embeddings (
				row_id TEXT PRIMARY KEY,
				owning_entity_id TEXT NOT NULL,
				content TEXT,
				embedding_bytes BLOB NOT NULL,
				model_name TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
				external_id UNINDEXED, content, content='messages', content_rowid='id'
			)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS decisions_fts USING fts5(
				external_id UNINDEXED, text, content='decisions', content_rowid='id'
			)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS mistakes_fts USING fts5(
				external_id UNINDEXED, what_went_wrong, content='mistakes', content_rowid='id'
			)`,
		},
	},
}

// coreTableNames are the tables a pre-migration-tracked ("legacy") database
// is checked against to decide whether it is schema-incompatible.
var coreTableNames = []string{"conversations", "messages"}

// requiredLegacyColumns: if a core table from coreTableNames exists but is
// missing one of these columns, the store predates external_id tracking and
// is classified incompatible.
var requiredLegacyColumns = map[string][]string{
	"conversations": {"external_id", "source_kind", "message_count"},
	"messages":      {"external_id"},
}

func (s *Store) migrate(ctx context.Context) error {
	hasVersionTable, err := tableExists(ctx, s.db, "schema_version")
	if err != nil {
		return err
	}

	if !hasVersionTable {
		incompatible, err := s.isIncompatibleLegacy(ctx)
		if err != nil {
			return err
		}
		if incompatible {
			s.logger.Warn("existing database has incompatible schema; dropping and recreating non-system tables")
			if err := s.dropAllNonSystemTables(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrSchemaIncompatible, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, `CREATE TABLE schema_version (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL,
			description TEXT NOT NULL,
			checksum TEXT NOT NULL
		)`); err != nil {
			return fmt.Errorf("create schema_version: %w", err)
		}
	}

	current, err := s.currentSchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
	}
	return nil
}

func (s *Store) currentSchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
			}
		}
		checksum := checksumStatements(m.statements)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_version(version, applied_at, description, checksum) VALUES (?, unixepoch('now','subsec')*1000, ?, ?)`,
			m.version, m.description, checksum,
		)
		return err
	})
}

func (s *Store) isIncompatibleLegacy(ctx context.Context) (bool, error) {
	anyCoreTable := false
	for _, table := range coreTableNames {
		exists, err := tableExists(ctx, s.db, table)
		if err != nil {
			return false, err
		}
		if !exists {
			continue
		}
		anyCoreTable = true
		cols, err := tableColumns(ctx, s.db, table)
		if err != nil {
			return false, err
		}
		for _, required := range requiredLegacyColumns[table] {
			if !cols[required] {
				return true, nil
			}
		}
	}
	return anyCoreTable && false, nil
}

func (s *Store) dropAllNonSystemTables(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	rows.Close()

	for _, name := range names {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, name)); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func checksumStatements(statements []string) string {
	h := sha256.New()
	for _, s := range statements {
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	if len(s) > 60 {
		return s[:60]
	}
	return s
}
