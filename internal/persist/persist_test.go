package persist

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/config"
	"github.com/fenwicklabs/memoryd/internal/extract"
	"github.com/fenwicklabs/memoryd/internal/store"
	"github.com/fenwicklabs/memoryd/internal/transcript"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), dir+"/store.db", config.StoreConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func persistOnce(ctx context.Context, st *store.Store, meta transcript.ConversationMeta, messages []transcript.Message) (projectID, conversationID int64, err error) {
	err = st.Transaction(ctx, func(tx *sql.Tx) error {
		var txErr error
		projectID, txErr = EnsureProject(ctx, tx, "/tmp/project", string(meta.SourceKind))
		if txErr != nil {
			return txErr
		}
		conversationID, txErr = UpsertConversation(ctx, tx, projectID, meta)
		if txErr != nil {
			return txErr
		}
		return UpsertMessages(ctx, tx, conversationID, messages)
	})
	return projectID, conversationID, err
}

func TestUpsertConversationAndMessages_Idempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	meta := transcript.ConversationMeta{
		ExternalID: "conv-1", SourceKind: transcript.SourceAssistantA,
		FirstAt: time.Unix(100, 0), LastAt: time.Unix(200, 0), MessageCount: 1,
	}
	messages := []transcript.Message{
		{ExternalID: "msg-1", Role: transcript.RoleUser, Content: "hello world", Timestamp: time.Unix(100, 0)},
	}

	projectID, conversationID, err := persistOnce(ctx, st, meta, messages)
	if err != nil {
		t.Fatalf("persistOnce: %v", err)
	}
	if projectID == 0 || conversationID == 0 {
		t.Fatalf("expected non-zero ids, got project=%d conversation=%d", projectID, conversationID)
	}

	// Re-run to confirm idempotency (upsert, not duplicate insert).
	_, conversationID2, err := persistOnce(ctx, st, meta, messages)
	if err != nil {
		t.Fatalf("persistOnce (rerun): %v", err)
	}
	if conversationID2 != conversationID {
		t.Errorf("conversation id changed across reruns: %d != %d", conversationID2, conversationID)
	}

	var count int
	if err := st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE external_id = 'msg-1'`).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 1 {
		t.Errorf("message row count = %d, want 1 (rerun must upsert, not duplicate)", count)
	}
}

func TestUpsertDecisions_ResolvesMessageRowID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	meta := transcript.ConversationMeta{ExternalID: "conv-1", SourceKind: transcript.SourceAssistantA}
	messages := []transcript.Message{
		{ExternalID: "msg-1", Role: transcript.RoleAssistant, Content: "decided to use postgres", Timestamp: time.Unix(1, 0)},
	}
	_, conversationID, err := persistOnce(ctx, st, meta, messages)
	if err != nil {
		t.Fatalf("persistOnce: %v", err)
	}

	decisions := []extract.Decision{
		{ExternalID: "dec-1", MessageID: "msg-1", Text: "use postgres", Timestamp: time.Unix(1, 0)},
	}
	err = st.Transaction(ctx, func(tx *sql.Tx) error {
		return UpsertDecisions(ctx, tx, conversationID, decisions)
	})
	if err != nil {
		t.Fatalf("UpsertDecisions: %v", err)
	}

	var text string
	if err := st.DB().QueryRowContext(ctx, `SELECT text FROM decisions WHERE external_id = 'dec-1'`).Scan(&text); err != nil {
		t.Fatalf("select decision: %v", err)
	}
	if text != "use postgres" {
		t.Errorf("decision text = %q, want %q", text, "use postgres")
	}
}

func TestUpsertMistakes_WritesRow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	meta := transcript.ConversationMeta{ExternalID: "conv-1", SourceKind: transcript.SourceAssistantA}
	messages := []transcript.Message{
		{ExternalID: "msg-1", Role: transcript.RoleUser, Content: "that broke the build", Timestamp: time.Unix(1, 0)},
	}
	_, conversationID, err := persistOnce(ctx, st, meta, messages)
	if err != nil {
		t.Fatalf("persistOnce: %v", err)
	}

	mistakes := []extract.Mistake{
		{ExternalID: "mis-1", MessageID: "msg-1", Kind: "tool_error", WhatWentWrong: "broke the build", Timestamp: time.Unix(1, 0)},
	}
	err = st.Transaction(ctx, func(tx *sql.Tx) error {
		return UpsertMistakes(ctx, tx, conversationID, mistakes)
	})
	if err != nil {
		t.Fatalf("UpsertMistakes: %v", err)
	}

	var kind string
	if err := st.DB().QueryRowContext(ctx, `SELECT kind FROM mistakes WHERE external_id = 'mis-1'`).Scan(&kind); err != nil {
		t.Fatalf("select mistake: %v", err)
	}
	if kind != "tool_error" {
		t.Errorf("mistake kind = %q, want %q", kind, "tool_error")
	}
}
