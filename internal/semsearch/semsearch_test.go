package semsearch

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/config"
	"github.com/fenwicklabs/memoryd/internal/embeddings"
	"github.com/fenwicklabs/memoryd/internal/extract"
	"github.com/fenwicklabs/memoryd/internal/store"
	"github.com/fenwicklabs/memoryd/internal/transcript"
	"github.com/fenwicklabs/memoryd/internal/vectorstore"
)

// fakeVectorStore is an in-memory vectorstore.Store for tests; Search
// returns every record as a hit whose score is the record's entry in scores
// (0.9 when unset), ordered by insertion, which is enough to exercise aggregation and
// fallback without a real cosine computation.
type fakeVectorStore struct {
	records map[vectorstore.EntityKind][]vectorstore.Record
	scores  map[string]float64
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		records: make(map[vectorstore.EntityKind][]vectorstore.Record),
		scores:  make(map[string]float64),
	}
}

func (f *fakeVectorStore) Upsert(_ context.Context, kind vectorstore.EntityKind, records []vectorstore.Record) error {
	f.records[kind] = append(f.records[kind], records...)
	return nil
}

func (f *fakeVectorStore) Search(_ context.Context, kind vectorstore.EntityKind, _ []float32, k int) ([]vectorstore.ScoredRecord, error) {
	var out []vectorstore.ScoredRecord
	for _, r := range f.records[kind] {
		score := f.scores[r.RowID]
		if score == 0 {
			score = 0.9
		}
		out = append(out, vectorstore.ScoredRecord{Record: r, Score: score})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (f *fakeVectorStore) ExistingIDs(_ context.Context, kind vectorstore.EntityKind, entityIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	for _, r := range f.records[kind] {
		existing[r.EntityID] = true
	}
	out := make(map[string]bool)
	for _, id := range entityIDs {
		if existing[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeVectorStore) Delete(_ context.Context, kind vectorstore.EntityKind, rowIDs []string) error {
	remove := make(map[string]bool, len(rowIDs))
	for _, id := range rowIDs {
		remove[id] = true
	}
	var kept []vectorstore.Record
	for _, r := range f.records[kind] {
		if !remove[r.RowID] {
			kept = append(kept, r)
		}
	}
	f.records[kind] = kept
	return nil
}

func (f *fakeVectorStore) ClearAll(_ context.Context) error {
	f.records = make(map[vectorstore.EntityKind][]vectorstore.Record)
	return nil
}

func (f *fakeVectorStore) Count(_ context.Context, kind vectorstore.EntityKind) (int, error) {
	return len(f.records[kind]), nil
}

type fakeProvider struct{ dim int }

func (p *fakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dim)
	}
	return out, nil
}

func (p *fakeProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, p.dim), nil
}

func (p *fakeProvider) Dimension() int { return p.dim }
func (p *fakeProvider) Close() error   { return nil }

func newTestService(t *testing.T, vectors *fakeVectorStore, embedCap *embeddings.Capability) (*Service, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), dir+"/store.db", config.StoreConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := New(st, vectors, embedCap,
		config.ChunkingConfig{Enabled: true, Strategy: "sentence", ChunkSize: 512, Overlap: 0.15, MinChunkSize: 64},
		config.RerankConfig{},
		zap.NewNop())
	return svc, st
}

func insertMessage(t *testing.T, st *store.Store, projectID, conversationID int64, externalID, role, content string, ts time.Time) {
	t.Helper()
	_, err := st.DB().Exec(`INSERT INTO messages (external_id, conversation_id, kind, role, content, timestamp) VALUES (?, ?, 'message', ?, ?, ?)`,
		externalID, conversationID, role, content, ts.Unix())
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	_, err = st.DB().Exec(`INSERT INTO messages_fts (rowid, external_id, content) SELECT id, external_id, content FROM messages WHERE external_id = ?`, externalID)
	if err != nil {
		t.Fatalf("insert fts row: %v", err)
	}
}

func setupConversation(t *testing.T, st *store.Store) (projectID, conversationID int64, externalID string) {
	t.Helper()
	res, err := st.DB().Exec(`INSERT INTO projects (canonical_path, source_kind) VALUES (?, 'assistant-a')`, "/tmp/project")
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
	projectID, _ = res.LastInsertId()

	externalID = "conv-1"
	res, err = st.DB().Exec(`INSERT INTO conversations (external_id, project_id, source_kind, first_at, last_at, created_at, updated_at) VALUES (?, ?, 'assistant-a', 0, 0, 0, 0)`,
		externalID, projectID)
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	conversationID, _ = res.LastInsertId()
	return
}

func TestDynamicSimilarityFloor(t *testing.T) {
	cases := []struct {
		query string
		want  float64
	}{
		{"auth", 0.31},
		{"jwt auth token refresh", 0.34},
	}
	for _, c := range cases {
		got := dynamicSimilarityFloor(c.query)
		if got < c.want-0.001 || got > c.want+0.001 {
			t.Errorf("dynamicSimilarityFloor(%q) = %f, want ~%f", c.query, got, c.want)
		}
	}
}

func TestDynamicSimilarityFloor_CapsAt055(t *testing.T) {
	longQuery := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo twentythree twentyfour twentyfive thirty"
	got := dynamicSimilarityFloor(longQuery)
	if got != 0.55 {
		t.Errorf("dynamicSimilarityFloor long query = %f, want 0.55", got)
	}
}

func TestSearchConversations_FallsBackToFTSWhenEmbeddingUnavailable(t *testing.T) {
	vectors := newFakeVectorStore()
	embedCap := embeddings.NewCapability(nil, "none", 32, nil)
	svc, st := newTestService(t, vectors, embedCap)

	_, conversationID, convExt := setupConversation(t, st)
	insertMessage(t, st, 0, conversationID, "msg-1", "user", "we decided to use JWT auth with refresh tokens", time.Now())

	result, err := svc.SearchConversations(context.Background(), "JWT auth", nil, 5, Filter{})
	if err != nil {
		t.Fatalf("SearchConversations: %v", err)
	}
	if result.EmbeddingsGenerated {
		t.Error("EmbeddingsGenerated = true, want false")
	}
	if !result.UsedFallback {
		t.Error("UsedFallback = false, want true")
	}
	if len(result.MessageHits) != 1 {
		t.Fatalf("len(MessageHits) = %d, want 1", len(result.MessageHits))
	}
	if result.MessageHits[0].ConversationExternalID != convExt {
		t.Errorf("ConversationExternalID = %q, want %q", result.MessageHits[0].ConversationExternalID, convExt)
	}
}

func TestSearchConversations_VectorHitEnrichedWithConversation(t *testing.T) {
	vectors := newFakeVectorStore()
	embedCap := embeddings.NewCapability(&fakeProvider{dim: 4}, "fake", 8, nil)
	svc, st := newTestService(t, vectors, embedCap)

	_, conversationID, convExt := setupConversation(t, st)
	insertMessage(t, st, 0, conversationID, "msg-1", "assistant", "switched to connection pooling for the database", time.Now())

	vectors.records[vectorstore.EntityMessages] = []vectorstore.Record{
		{RowID: "msg-1", EntityID: "msg-1", Content: "switched to connection pooling for the database"},
	}
	vectors.scores["msg-1"] = 0.8

	result, err := svc.SearchConversations(context.Background(), "connection pooling", nil, 5, Filter{})
	if err != nil {
		t.Fatalf("SearchConversations: %v", err)
	}
	if !result.EmbeddingsGenerated {
		t.Error("EmbeddingsGenerated = false, want true")
	}
	if result.UsedFallback {
		t.Error("UsedFallback = true, want false")
	}
	if len(result.MessageHits) != 1 {
		t.Fatalf("len(MessageHits) = %d, want 1", len(result.MessageHits))
	}
	if result.MessageHits[0].ConversationExternalID != convExt {
		t.Errorf("ConversationExternalID = %q, want %q", result.MessageHits[0].ConversationExternalID, convExt)
	}
}

func TestSearchConversations_FilterByConversation(t *testing.T) {
	vectors := newFakeVectorStore()
	embedCap := embeddings.NewCapability(nil, "none", 32, nil)
	svc, st := newTestService(t, vectors, embedCap)

	_, conversationID, convExt := setupConversation(t, st)
	insertMessage(t, st, 0, conversationID, "msg-1", "user", "decision about caching strategy here", time.Now())

	result, err := svc.SearchConversations(context.Background(), "caching strategy", nil, 5, Filter{ConversationID: "some-other-conv"})
	if err != nil {
		t.Fatalf("SearchConversations: %v", err)
	}
	if len(result.MessageHits) != 0 {
		t.Fatalf("expected filter to exclude all hits, got %d (want none matching %q)", len(result.MessageHits), convExt)
	}
}

func TestIndexMessages_SkipsExistingInIncrementalMode(t *testing.T) {
	vectors := newFakeVectorStore()
	embedCap := embeddings.NewCapability(&fakeProvider{dim: 4}, "fake", 8, nil)
	svc, _ := newTestService(t, vectors, embedCap)

	vectors.records[vectorstore.EntityMessages] = []vectorstore.Record{
		{RowID: "msg-1", EntityID: "msg-1", Content: "already indexed"},
	}

	messages := []transcript.Message{
		{ExternalID: "msg-1", Content: "already indexed"},
		{ExternalID: "msg-2", Content: "brand new message content"},
	}
	stats, err := svc.IndexMessages(context.Background(), messages, true)
	if err != nil {
		t.Fatalf("IndexMessages: %v", err)
	}
	if stats.Embedded != 1 {
		t.Errorf("Embedded = %d, want 1", stats.Embedded)
	}
	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
}

func TestIndexMessages_UnavailableEmbeddingDegradesGracefully(t *testing.T) {
	vectors := newFakeVectorStore()
	embedCap := embeddings.NewCapability(nil, "none", 32, nil)
	svc, _ := newTestService(t, vectors, embedCap)

	stats, err := svc.IndexMessages(context.Background(), []transcript.Message{{ExternalID: "msg-1", Content: "hello"}}, false)
	if err != nil {
		t.Fatalf("IndexMessages: %v", err)
	}
	if stats.EmbeddingsGenerated {
		t.Error("EmbeddingsGenerated = true, want false")
	}
	if stats.EmbeddingError == "" {
		t.Error("expected a non-empty EmbeddingError")
	}
}

func TestIndexDecisions_EmbedsAndUpserts(t *testing.T) {
	vectors := newFakeVectorStore()
	embedCap := embeddings.NewCapability(&fakeProvider{dim: 4}, "fake", 8, nil)
	svc, _ := newTestService(t, vectors, embedCap)

	decisions := []extract.Decision{
		{ExternalID: "dec-1", Text: "use postgres for the primary store"},
	}
	stats, err := svc.IndexDecisions(context.Background(), decisions, false)
	if err != nil {
		t.Fatalf("IndexDecisions: %v", err)
	}
	if stats.Embedded != 1 {
		t.Errorf("Embedded = %d, want 1", stats.Embedded)
	}
	count, _ := vectors.Count(context.Background(), vectorstore.EntityDecisions)
	if count != 1 {
		t.Errorf("vector count = %d, want 1", count)
	}
}
