package semsearch

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/chunk"
	"github.com/fenwicklabs/memoryd/internal/reranker"
	"github.com/fenwicklabs/memoryd/internal/vectorstore"
)

const snippetRunes = 240

// SearchConversations runs the hybrid message-search pipeline: embed the
// query (or reuse a precomputed one for cross-project fan-out), fetch a
// generous pool of chunk and message vector hits, aggregate and dedupe them
// per message, optionally fuse with a lexical FTS ranking, then enrich the
// survivors with their conversation context and a highlighted snippet.
//
// If embeddings are unavailable, or the vector search returns nothing, the
// result degrades to a sanitized FTS5 MATCH, and finally to a LIKE sweep if
// the FTS5 table itself is missing. Callers must inspect EmbeddingsGenerated
// and UsedFallback rather than assume a hybrid result was produced.
func (s *Service) SearchConversations(ctx context.Context, query string, precomputed []float32, limit int, filter Filter) (SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	vec := precomputed
	embeddingsGenerated := true
	var embedErr string
	if vec == nil {
		if !s.embed.IsAvailable() {
			embeddingsGenerated = false
			embedErr = "embedding provider unavailable"
		} else {
			v, err := s.embed.Embed(ctx, query)
			if err != nil {
				embeddingsGenerated = false
				embedErr = err.Error()
			} else {
				vec = v
			}
		}
	}

	if vec == nil {
		res, err := s.fallbackSearch(ctx, query, limit, filter)
		if err != nil {
			return SearchResult{}, err
		}
		res.EmbeddingsGenerated = embeddingsGenerated
		res.EmbeddingError = embedErr
		return res, nil
	}

	floor := dynamicSimilarityFloor(query)

	// A vector-search failure (missing virtual table, dimension mismatch
	// against a swapped provider) degrades to the FTS/LIKE fallback rather
	// than failing the whole query, same as an unavailable embedder above.
	chunkHits, err := s.vectors.Search(ctx, vectorstore.EntityChunks, vec, 3*limit)
	if err != nil {
		s.logger.Info("chunk vector search failed, falling back to FTS", zap.Error(err))
	}
	messageHits, err2 := s.vectors.Search(ctx, vectorstore.EntityMessages, vec, 2*limit)
	if err2 != nil {
		s.logger.Info("message vector search failed, falling back to FTS", zap.Error(err2))
	}
	if err != nil && err2 != nil {
		res, ferr := s.fallbackSearch(ctx, query, limit, filter)
		if ferr != nil {
			return SearchResult{}, ferr
		}
		res.EmbeddingsGenerated = embeddingsGenerated
		res.EmbeddingError = embedErr
		return res, nil
	}

	aggregated := aggregate(chunkHits, messageHits, floor)
	if len(aggregated) == 0 {
		res, err := s.fallbackSearch(ctx, query, limit, filter)
		if err != nil {
			return SearchResult{}, err
		}
		res.EmbeddingsGenerated = embeddingsGenerated
		res.EmbeddingError = embedErr
		return res, nil
	}

	ordered := s.maybeFuse(ctx, query, aggregated, limit)

	hits := make([]MessageHit, 0, limit)
	for _, a := range ordered {
		if len(hits) >= limit {
			break
		}
		row, err := s.fetchMessageRow(ctx, a.id)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return SearchResult{}, fmt.Errorf("semsearch: fetch message row: %w", err)
		}
		if !filter.matchesTimestamp(row.timestamp) || !filter.matchesConversation(row.conversationExternalID) {
			continue
		}
		hits = append(hits, MessageHit{
			MessageExternalID:      a.id,
			ConversationExternalID: row.conversationExternalID,
			Role:                   row.role,
			Content:                row.content,
			Timestamp:              row.timestamp,
			Similarity:             a.similarity,
			Snippet:                chunk.Snippet(firstNonEmpty(a.bestSnippet, row.content), query, snippetRunes),
		})
	}

	return SearchResult{
		MessageHits:         hits,
		EmbeddingsGenerated: embeddingsGenerated,
		EmbeddingError:      embedErr,
	}, nil
}

// aggregatedHit is one message after merging its chunk and message-level
// vector hits.
type aggregatedHit struct {
	id          string
	similarity  float64
	bestSnippet string
}

// aggregate groups chunk hits by owning message, keeps the best-scoring
// snippet per message, drops anything below the similarity floor, then
// merges in message-level hits, preferring whichever similarity is higher
// for a message present in both sources.
func aggregate(chunkHits, messageHits []vectorstore.ScoredRecord, floor float64) []aggregatedHit {
	byMessage := make(map[string]aggregatedHit)

	for _, h := range chunkHits {
		if h.Score < floor {
			continue
		}
		existing, ok := byMessage[h.EntityID]
		if !ok || h.Score > existing.similarity {
			byMessage[h.EntityID] = aggregatedHit{id: h.EntityID, similarity: h.Score, bestSnippet: h.Content}
		}
	}

	for _, h := range messageHits {
		if h.Score < floor {
			continue
		}
		existing, ok := byMessage[h.EntityID]
		if !ok || h.Score > existing.similarity {
			snippet := h.Content
			if ok && existing.bestSnippet != "" && existing.similarity >= h.Score {
				snippet = existing.bestSnippet
			}
			byMessage[h.EntityID] = aggregatedHit{id: h.EntityID, similarity: maxFloat(h.Score, existing.similarity), bestSnippet: snippet}
		}
	}

	out := make([]aggregatedHit, 0, len(byMessage))
	for _, a := range byMessage {
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].similarity > out[j].similarity })
	return dedupeNearIdentical(out)
}

// dedupeNearIdentical drops lower-ranked hits whose snippet is at least 70%
// token-overlapping with a higher-ranked hit already kept, so a message
// chunked into near-duplicate windows doesn't crowd out distinct results.
func dedupeNearIdentical(hits []aggregatedHit) []aggregatedHit {
	var kept []aggregatedHit
	for _, h := range hits {
		dup := false
		for _, k := range kept {
			if snippetOverlap(h.bestSnippet, k.bestSnippet) >= 0.7 {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, h)
		}
	}
	return kept
}

func snippetOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}
	return float64(shared) / float64(smaller)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) > 0 {
			out[string(word)] = true
			word = word[:0]
		}
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			flush()
			continue
		}
		word = append(word, r)
	}
	flush()
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// maybeFuse runs the HybridRanker over the dense aggregate and a lexical FTS
// ranking of the same candidate pool when reranking is enabled; otherwise it
// returns the dense ordering unchanged.
func (s *Service) maybeFuse(ctx context.Context, query string, dense []aggregatedHit, limit int) []aggregatedHit {
	if s.ranker == nil {
		if len(dense) > limit {
			return dense[:limit]
		}
		return dense
	}

	denseRanked := make([]reranker.RankedID, len(dense))
	for i, d := range dense {
		denseRanked[i] = reranker.RankedID{ID: d.id, Score: d.similarity}
	}

	lexicalRanked, err := s.lexicalRanking(ctx, query, 3*limit)
	if err != nil {
		s.logger.Warn("lexical ranking for fusion failed, using dense order", zap.Error(err))
		if len(dense) > limit {
			return dense[:limit]
		}
		return dense
	}

	fused := s.ranker.Fuse(denseRanked, lexicalRanked)
	byID := make(map[string]aggregatedHit, len(dense))
	for _, d := range dense {
		byID[d.id] = d
	}

	out := make([]aggregatedHit, 0, len(fused))
	for _, f := range fused {
		a, ok := byID[f.ID]
		if !ok {
			continue
		}
		a.similarity = f.Score
		out = append(out, a)
	}
	return out
}

func (s *Service) lexicalRanking(ctx context.Context, query string, limit int) ([]reranker.RankedID, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, nil
	}
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.external_id, bm25(messages_fts) AS rank
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, sanitized, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reranker.RankedID
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		out = append(out, reranker.RankedID{ID: id, Score: -rank})
	}
	return out, rows.Err()
}

type messageRow struct {
	conversationExternalID string
	role                   string
	content                string
	timestamp              time.Time
}

func (s *Service) fetchMessageRow(ctx context.Context, externalID string) (messageRow, error) {
	var row messageRow
	var ts int64
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT c.external_id, m.role, m.content, m.timestamp
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.external_id = ?`, externalID).Scan(&row.conversationExternalID, &row.role, &row.content, &ts)
	if err != nil {
		return messageRow{}, err
	}
	row.timestamp = time.Unix(ts, 0).UTC()
	return row, nil
}

// fallbackSearch issues a sanitized FTS5 MATCH query, falling back further
// to a LIKE sweep if the FTS5 table is unavailable (e.g. the libsql build
// lacks the extension). It never returns UsedFallback=false.
func (s *Service) fallbackSearch(ctx context.Context, query string, limit int, filter Filter) (SearchResult, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return SearchResult{UsedFallback: true}, nil
	}

	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.external_id, c.external_id, m.role, m.content, m.timestamp
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.rowid
		JOIN conversations c ON c.id = m.conversation_id
		WHERE messages_fts MATCH ?
		ORDER BY bm25(messages_fts)
		LIMIT ?`, sanitized, limit*3)
	if err != nil {
		return s.likeFallback(ctx, query, limit, filter)
	}
	defer rows.Close()

	hits := make([]MessageHit, 0, limit)
	for rows.Next() {
		var msgID, convID, role, content string
		var ts int64
		if err := rows.Scan(&msgID, &convID, &role, &content, &ts); err != nil {
			return SearchResult{}, fmt.Errorf("semsearch: scan fts row: %w", err)
		}
		timestamp := time.Unix(ts, 0).UTC()
		if !filter.matchesTimestamp(timestamp) || !filter.matchesConversation(convID) {
			continue
		}
		if len(hits) >= limit {
			break
		}
		hits = append(hits, MessageHit{
			MessageExternalID:      msgID,
			ConversationExternalID: convID,
			Role:                   role,
			Content:                content,
			Timestamp:              timestamp,
			Snippet:                chunk.Snippet(content, query, snippetRunes),
		})
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, err
	}
	return SearchResult{MessageHits: hits, UsedFallback: true}, nil
}

func (s *Service) likeFallback(ctx context.Context, query string, limit int, filter Filter) (SearchResult, error) {
	like := "%" + query + "%"
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.external_id, c.external_id, m.role, m.content, m.timestamp
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.content LIKE ?
		ORDER BY m.timestamp DESC
		LIMIT ?`, like, limit*3)
	if err != nil {
		return SearchResult{}, fmt.Errorf("semsearch: like fallback: %w", err)
	}
	defer rows.Close()

	hits := make([]MessageHit, 0, limit)
	for rows.Next() {
		var msgID, convID, role, content string
		var ts int64
		if err := rows.Scan(&msgID, &convID, &role, &content, &ts); err != nil {
			return SearchResult{}, fmt.Errorf("semsearch: scan like row: %w", err)
		}
		timestamp := time.Unix(ts, 0).UTC()
		if !filter.matchesTimestamp(timestamp) || !filter.matchesConversation(convID) {
			continue
		}
		if len(hits) >= limit {
			break
		}
		hits = append(hits, MessageHit{
			MessageExternalID:      msgID,
			ConversationExternalID: convID,
			Role:                   role,
			Content:                content,
			Timestamp:              timestamp,
			Snippet:                chunk.Snippet(content, query, snippetRunes),
		})
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, err
	}
	return SearchResult{MessageHits: hits, UsedFallback: true}, nil
}

// SearchDecisions runs vector search over decision embeddings, falling back
// to an FTS5 MATCH against decisions_fts when embeddings are unavailable.
func (s *Service) SearchDecisions(ctx context.Context, query string, limit int) ([]DecisionHit, bool, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.embed.IsAvailable() {
		vec, err := s.embed.Embed(ctx, query)
		if err == nil {
			hits, err := s.vectors.Search(ctx, vectorstore.EntityDecisions, vec, limit)
			if err != nil {
				s.logger.Info("decision vector search failed, falling back to FTS", zap.Error(err))
			}
			if len(hits) > 0 {
				out := make([]DecisionHit, len(hits))
				for i, h := range hits {
					out[i] = DecisionHit{ExternalID: h.EntityID, Text: h.Content, Similarity: h.Score}
				}
				return out, false, nil
			}
		}
	}

	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, true, nil
	}
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT d.external_id, d.text
		FROM decisions_fts
		JOIN decisions d ON d.id = decisions_fts.rowid
		WHERE decisions_fts MATCH ?
		ORDER BY bm25(decisions_fts)
		LIMIT ?`, sanitized, limit)
	if err != nil {
		return nil, true, fmt.Errorf("semsearch: fts decisions fallback: %w", err)
	}
	defer rows.Close()

	var out []DecisionHit
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, true, err
		}
		out = append(out, DecisionHit{ExternalID: id, Text: text})
	}
	return out, true, rows.Err()
}

// SearchMistakes runs vector search over mistake embeddings, falling back to
// an FTS5 MATCH against mistakes_fts when embeddings are unavailable.
func (s *Service) SearchMistakes(ctx context.Context, query string, limit int) ([]MistakeHit, bool, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.embed.IsAvailable() {
		vec, err := s.embed.Embed(ctx, query)
		if err == nil {
			hits, err := s.vectors.Search(ctx, vectorstore.EntityMistakes, vec, limit)
			if err != nil {
				s.logger.Info("mistake vector search failed, falling back to FTS", zap.Error(err))
			}
			if len(hits) > 0 {
				out := make([]MistakeHit, len(hits))
				for i, h := range hits {
					out[i] = MistakeHit{ExternalID: h.EntityID, WhatWentWrong: h.Content, Similarity: h.Score}
				}
				return out, false, nil
			}
		}
	}

	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, true, nil
	}
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.external_id, m.what_went_wrong
		FROM mistakes_fts
		JOIN mistakes m ON m.id = mistakes_fts.rowid
		WHERE mistakes_fts MATCH ?
		ORDER BY bm25(mistakes_fts)
		LIMIT ?`, sanitized, limit)
	if err != nil {
		return nil, true, fmt.Errorf("semsearch: fts mistakes fallback: %w", err)
	}
	defer rows.Close()

	var out []MistakeHit
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, true, err
		}
		out = append(out, MistakeHit{ExternalID: id, WhatWentWrong: text})
	}
	return out, true, rows.Err()
}
