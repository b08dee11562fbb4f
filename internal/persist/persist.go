// Package persist writes parsed transcripts and extracted knowledge into the
// relational store, upserting by external_id so re-running the orchestrator
// over an unchanged transcript is a no-op rather than a duplicate insert.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fenwicklabs/memoryd/internal/extract"
	"github.com/fenwicklabs/memoryd/internal/transcript"
	pkggit "github.com/fenwicklabs/memoryd/pkg/git"
)

// EnsureProject upserts the projects row for canonicalPath and returns its
// row id.
func EnsureProject(ctx context.Context, tx *sql.Tx, canonicalPath, sourceKind string) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projects (canonical_path, source_kind) VALUES (?, ?)
		ON CONFLICT(canonical_path) DO UPDATE SET source_kind = excluded.source_kind`,
		canonicalPath, sourceKind)
	if err != nil {
		return 0, fmt.Errorf("persist: ensure project: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM projects WHERE canonical_path = ?`, canonicalPath).Scan(&id); err != nil {
		return 0, fmt.Errorf("persist: lookup project id: %w", err)
	}
	return id, nil
}

// UpsertConversation upserts a conversation row and returns its row id.
func UpsertConversation(ctx context.Context, tx *sql.Tx, projectID int64, meta transcript.ConversationMeta) (int64, error) {
	now := meta.LastAt.Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (external_id, project_id, source_kind, first_at, last_at, message_count, branch, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			last_at = excluded.last_at,
			message_count = excluded.message_count,
			branch = excluded.branch,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		meta.ExternalID, projectID, string(meta.SourceKind), meta.FirstAt.Unix(), meta.LastAt.Unix(),
		meta.MessageCount, meta.Branch, meta.Version, now, now)
	if err != nil {
		return 0, fmt.Errorf("persist: upsert conversation: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE external_id = ?`, meta.ExternalID).Scan(&id); err != nil {
		return 0, fmt.Errorf("persist: lookup conversation id: %w", err)
	}
	return id, nil
}

// UpsertMessages writes messages (and their embedded tool uses/results,
// thinking blocks, and file edits) for one conversation and mirrors each
// message into messages_fts. It returns only an error.
func UpsertMessages(ctx context.Context, tx *sql.Tx, conversationID int64, messages []transcript.Message) error {
	for _, m := range messages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (external_id, conversation_id, parent_external_id, kind, role, content, timestamp, is_sidechain, agent_id, request_id, branch, cwd)
			VALUES (?, ?, ?, 'message', ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_id) DO UPDATE SET content = excluded.content, timestamp = excluded.timestamp`,
			m.ExternalID, conversationID, nullableString(m.ParentID), string(m.Role), m.Content, m.Timestamp.Unix(),
			boolToInt(m.IsSidechain), nullableString(m.AgentID), nullableString(m.RequestID), nullableString(m.Branch), nullableString(m.CWD))
		if err != nil {
			return fmt.Errorf("persist: upsert message %s: %w", m.ExternalID, err)
		}
		// LastInsertId is stale after an ON CONFLICT update, so the row id is
		// always looked up by external_id.
		var messageRowID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM messages WHERE external_id = ?`, m.ExternalID).Scan(&messageRowID); err != nil {
			return fmt.Errorf("persist: lookup message id for %s: %w", m.ExternalID, err)
		}

		if err := upsertFTSRow(ctx, tx, "messages_fts", "content", messageRowID, m.ExternalID, m.Content); err != nil {
			return fmt.Errorf("persist: index message fts %s: %w", m.ExternalID, err)
		}

		for _, tu := range m.ToolUses {
			inputJSON, _ := json.Marshal(tu.Input)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tool_uses (external_id, message_id, tool_name, input_json, timestamp) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(external_id) DO UPDATE SET input_json = excluded.input_json`,
				tu.ExternalID, messageRowID, tu.ToolName, string(inputJSON), tu.Timestamp.Unix()); err != nil {
				return fmt.Errorf("persist: upsert tool use %s: %w", tu.ExternalID, err)
			}
		}

		for _, tr := range m.ToolResults {
			var toolUseRowID sql.NullInt64
			if tr.ToolUseID != "" {
				var id int64
				if err := tx.QueryRowContext(ctx, `SELECT id FROM tool_uses WHERE external_id = ?`, tr.ToolUseID).Scan(&id); err == nil {
					toolUseRowID = sql.NullInt64{Int64: id, Valid: true}
				}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tool_results (external_id, tool_use_id, message_id, content, stdout, stderr, is_error, is_image, timestamp)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(external_id) DO UPDATE SET content = excluded.content`,
				tr.ExternalID, toolUseRowID, messageRowID, tr.Content, tr.Stdout, tr.Stderr,
				boolToInt(tr.IsError), boolToInt(tr.IsImage), tr.Timestamp.Unix()); err != nil {
				return fmt.Errorf("persist: upsert tool result %s: %w", tr.ExternalID, err)
			}
		}

		for _, tb := range m.ThinkingBlocks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO thinking_blocks (external_id, message_id, content, timestamp) VALUES (?, ?, ?, ?)
				ON CONFLICT(external_id) DO UPDATE SET content = excluded.content`,
				tb.ExternalID, messageRowID, tb.Content, tb.Timestamp.Unix()); err != nil {
				return fmt.Errorf("persist: upsert thinking block %s: %w", tb.ExternalID, err)
			}
		}

		for _, fe := range m.FileEdits {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO file_edits (external_id, message_id, conversation_id, file_path, snapshot_timestamp, backup_version)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(external_id) DO UPDATE SET snapshot_timestamp = excluded.snapshot_timestamp`,
				fe.ExternalID, messageRowID, conversationID, fe.FilePath, fe.SnapshotTimestamp.Unix(), nullableString(fe.BackupVersion)); err != nil {
				return fmt.Errorf("persist: upsert file edit %s: %w", fe.ExternalID, err)
			}
		}
	}
	return nil
}

// UpsertDecisions writes extracted decisions, keyed by conversation and
// message external id resolved to their row ids.
func UpsertDecisions(ctx context.Context, tx *sql.Tx, conversationID int64, decisions []extract.Decision) error {
	for _, d := range decisions {
		messageRowID, err := messageRowIDFor(ctx, tx, d.MessageID)
		if err != nil {
			return err
		}
		alternatives, _ := json.Marshal(d.Alternatives)
		rejected, _ := json.Marshal(d.RejectedReasons)
		relatedFiles, _ := json.Marshal(d.RelatedFiles)
		relatedCommits, _ := json.Marshal(d.RelatedCommits)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO decisions (external_id, conversation_id, message_id, text, rationale, alternatives, rejected_reasons, context, related_files, related_commits, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_id) DO UPDATE SET text = excluded.text, rationale = excluded.rationale`,
			d.ExternalID, conversationID, messageRowID, d.Text, d.Rationale, string(alternatives), string(rejected),
			d.Context, string(relatedFiles), string(relatedCommits), d.Timestamp.Unix())
		if err != nil {
			return fmt.Errorf("persist: upsert decision %s: %w", d.ExternalID, err)
		}
		if err := indexFTSRow(ctx, tx, res, "decisions_fts", "text", d.ExternalID, "decisions", d.Text); err != nil {
			return err
		}
	}
	return nil
}

// UpsertMistakes writes extracted mistakes.
func UpsertMistakes(ctx context.Context, tx *sql.Tx, conversationID int64, mistakes []extract.Mistake) error {
	for _, m := range mistakes {
		messageRowID, err := messageRowIDFor(ctx, tx, m.MessageID)
		if err != nil {
			return err
		}
		filesAffected, _ := json.Marshal(m.FilesAffected)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO mistakes (external_id, conversation_id, message_id, kind, what_went_wrong, correction, user_correction_message, files_affected, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_id) DO UPDATE SET what_went_wrong = excluded.what_went_wrong`,
			m.ExternalID, conversationID, messageRowID, m.Kind, m.WhatWentWrong, m.Correction, m.UserCorrectionMessage,
			string(filesAffected), m.Timestamp.Unix())
		if err != nil {
			return fmt.Errorf("persist: upsert mistake %s: %w", m.ExternalID, err)
		}
		if err := indexFTSRow(ctx, tx, res, "mistakes_fts", "what_went_wrong", m.ExternalID, "mistakes", m.WhatWentWrong); err != nil {
			return err
		}
	}
	return nil
}

// UpsertRequirements writes extracted requirements.
func UpsertRequirements(ctx context.Context, tx *sql.Tx, conversationID int64, requirements []extract.Requirement) error {
	for _, r := range requirements {
		messageRowID, err := messageRowIDFor(ctx, tx, r.MessageID)
		if err != nil {
			return err
		}
		affects, _ := json.Marshal(r.AffectsComponents)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO requirements (external_id, kind, description, rationale, affects_components, conversation_id, message_id, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_id) DO UPDATE SET description = excluded.description`,
			r.ExternalID, r.Kind, r.Description, r.Rationale, string(affects), conversationID, messageRowID, r.Timestamp.Unix()); err != nil {
			return fmt.Errorf("persist: upsert requirement %s: %w", r.ExternalID, err)
		}
	}
	return nil
}

// UpsertValidations writes extracted validations.
func UpsertValidations(ctx context.Context, tx *sql.Tx, conversationID int64, validations []extract.Validation) error {
	for _, v := range validations {
		messageRowID, err := messageRowIDFor(ctx, tx, v.MessageID)
		if err != nil {
			return err
		}
		affects, _ := json.Marshal(v.AffectsComponents)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO validations (external_id, kind, description, rationale, affects_components, conversation_id, message_id, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_id) DO UPDATE SET description = excluded.description`,
			v.ExternalID, v.Kind, v.Description, v.Rationale, string(affects), conversationID, messageRowID, v.Timestamp.Unix()); err != nil {
			return fmt.Errorf("persist: upsert validation %s: %w", v.ExternalID, err)
		}
	}
	return nil
}

// UpsertGitCommits writes collected commit history, setting a commit's
// conversation_id from commitToConversation (commit hash -> conversation
// row id) when the map has an entry for its hash; a nil map leaves every
// commit unlinked.
func UpsertGitCommits(ctx context.Context, tx *sql.Tx, projectID int64, commits []pkggit.Commit, commitToConversation map[string]int64) error {
	for _, c := range commits {
		filesJSON, _ := json.Marshal(c.FilesChanged)
		var conversationID sql.NullInt64
		if id, ok := commitToConversation[c.Hash]; ok {
			conversationID = sql.NullInt64{Int64: id, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO git_commits (hash, project_id, message, author, timestamp, branch, files_changed, conversation_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(hash) DO UPDATE SET conversation_id = excluded.conversation_id`,
			c.Hash, projectID, c.Message, c.Author, c.Timestamp.Unix(), c.Branch, string(filesJSON), conversationID); err != nil {
			return fmt.Errorf("persist: upsert git commit %s: %w", c.Hash, err)
		}
	}
	return nil
}

func messageRowIDFor(ctx context.Context, tx *sql.Tx, messageExternalID string) (int64, error) {
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM messages WHERE external_id = ?`, messageExternalID).Scan(&id); err != nil {
		return 0, fmt.Errorf("persist: lookup message id for %s: %w", messageExternalID, err)
	}
	return id, nil
}

// indexFTSRow mirrors a just-written core-table row into its external
// content FTS5 shadow table, looking up the row id by external_id since
// sql.Result's LastInsertId is unreliable across an ON CONFLICT upsert.
func indexFTSRow(ctx context.Context, tx *sql.Tx, _ sql.Result, ftsTable, textColumn, externalID, coreTable, text string) error {
	var rowID int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE external_id = ?`, coreTable), externalID).Scan(&rowID); err != nil {
		return fmt.Errorf("persist: lookup %s row id for fts: %w", coreTable, err)
	}
	if err := upsertFTSRow(ctx, tx, ftsTable, textColumn, rowID, externalID, text); err != nil {
		return fmt.Errorf("persist: index %s: %w", ftsTable, err)
	}
	return nil
}

// upsertFTSRow re-indexes a row in an external-content FTS5 virtual table.
// FTS5 vtabs reject ON CONFLICT upserts ("UPSERT not implemented for virtual
// table"), so re-indexing goes through a plain delete-by-rowid followed by a
// fresh insert rather than an upsert statement.
func upsertFTSRow(ctx context.Context, tx *sql.Tx, ftsTable, textColumn string, rowID int64, externalID, text string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, ftsTable), rowID); err != nil {
		return fmt.Errorf("delete stale fts row: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (rowid, external_id, %s) VALUES (?, ?, ?)`, ftsTable, textColumn)
	if _, err := tx.ExecContext(ctx, query, rowID, externalID, text); err != nil {
		return fmt.Errorf("insert fts row: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
