package semsearch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/extract"
	"github.com/fenwicklabs/memoryd/internal/transcript"
	"github.com/fenwicklabs/memoryd/internal/vectorstore"
)

// IndexMessages embeds and stores vectors for messages, skipping any
// already present in the VectorStore when incremental is true. Long
// messages are chunked when chunking is enabled; chunk-0 is additionally
// written as the message's representative embedding.
func (s *Service) IndexMessages(ctx context.Context, messages []transcript.Message, incremental bool) (IndexStats, error) {
	if !s.embed.IsAvailable() {
		return IndexStats{EmbeddingsGenerated: false, EmbeddingError: "embedding provider unavailable"}, nil
	}

	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ExternalID)
	}
	toEmbed, err := s.diff(ctx, vectorstore.EntityMessages, ids, incremental)
	if err != nil {
		return IndexStats{}, fmt.Errorf("semsearch: check existing message embeddings: %w", err)
	}

	stats := IndexStats{EmbeddingsGenerated: true, Skipped: len(messages) - len(toEmbed)}
	for _, m := range messages {
		if !toEmbed[m.ExternalID] {
			continue
		}
		if err := s.indexOneMessage(ctx, m); err != nil {
			s.logger.Warn("indexing message embedding failed", zap.String("message_id", m.ExternalID), zap.Error(err))
			stats.EmbeddingsGenerated = false
			stats.EmbeddingError = err.Error()
			continue
		}
		stats.Embedded++
	}
	return stats, nil
}

func (s *Service) indexOneMessage(ctx context.Context, m transcript.Message) error {
	chunks, err := s.chunker.Split(m.Content, s.chunkCfg)
	if err != nil {
		return fmt.Errorf("chunk message: %w", err)
	}

	if len(chunks) <= 1 {
		vec, err := s.embed.Embed(ctx, m.Content)
		if err != nil {
			return err
		}
		return s.vectors.Upsert(ctx, vectorstore.EntityMessages, []vectorstore.Record{
			{RowID: m.ExternalID, EntityID: m.ExternalID, Content: m.Content, Embedding: vec, Model: s.embed.ModelInfo().Model},
		})
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	model := s.embed.ModelInfo().Model
	chunkRecords := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		rowID := fmt.Sprintf("%s#%d", m.ExternalID, c.Index)
		chunkRecords[i] = vectorstore.Record{RowID: rowID, EntityID: m.ExternalID, Content: c.Content, Embedding: vecs[i], Model: model}
	}
	if err := s.vectors.Upsert(ctx, vectorstore.EntityChunks, chunkRecords); err != nil {
		return fmt.Errorf("upsert chunk embeddings: %w", err)
	}

	// chunk-0 doubles as the representative message-level embedding so
	// chunk-unaware search paths still see every message.
	return s.vectors.Upsert(ctx, vectorstore.EntityMessages, []vectorstore.Record{
		{RowID: m.ExternalID, EntityID: m.ExternalID, Content: chunks[0].Content, Embedding: vecs[0], Model: model},
	})
}

// IndexDecisions embeds and stores vectors for decisions.
func (s *Service) IndexDecisions(ctx context.Context, decisions []extract.Decision, incremental bool) (IndexStats, error) {
	if !s.embed.IsAvailable() {
		return IndexStats{EmbeddingsGenerated: false, EmbeddingError: "embedding provider unavailable"}, nil
	}
	ids := make([]string, 0, len(decisions))
	for _, d := range decisions {
		ids = append(ids, d.ExternalID)
	}
	toEmbed, err := s.diff(ctx, vectorstore.EntityDecisions, ids, incremental)
	if err != nil {
		return IndexStats{}, fmt.Errorf("semsearch: check existing decision embeddings: %w", err)
	}

	stats := IndexStats{EmbeddingsGenerated: true, Skipped: len(decisions) - len(toEmbed)}
	var pending []extract.Decision
	for _, d := range decisions {
		if toEmbed[d.ExternalID] {
			pending = append(pending, d)
		}
	}
	if len(pending) == 0 {
		return stats, nil
	}

	texts := make([]string, len(pending))
	for i, d := range pending {
		texts[i] = d.Text
	}
	vecs, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return IndexStats{EmbeddingsGenerated: false, EmbeddingError: err.Error()}, nil
	}
	model := s.embed.ModelInfo().Model
	records := make([]vectorstore.Record, len(pending))
	for i, d := range pending {
		records[i] = vectorstore.Record{RowID: d.ExternalID, EntityID: d.ExternalID, Content: d.Text, Embedding: vecs[i], Model: model}
	}
	if err := s.vectors.Upsert(ctx, vectorstore.EntityDecisions, records); err != nil {
		return IndexStats{}, fmt.Errorf("upsert decision embeddings: %w", err)
	}
	stats.Embedded = len(pending)
	return stats, nil
}

// IndexMistakes embeds and stores vectors for mistakes.
func (s *Service) IndexMistakes(ctx context.Context, mistakes []extract.Mistake, incremental bool) (IndexStats, error) {
	if !s.embed.IsAvailable() {
		return IndexStats{EmbeddingsGenerated: false, EmbeddingError: "embedding provider unavailable"}, nil
	}
	ids := make([]string, 0, len(mistakes))
	for _, m := range mistakes {
		ids = append(ids, m.ExternalID)
	}
	toEmbed, err := s.diff(ctx, vectorstore.EntityMistakes, ids, incremental)
	if err != nil {
		return IndexStats{}, fmt.Errorf("semsearch: check existing mistake embeddings: %w", err)
	}

	stats := IndexStats{EmbeddingsGenerated: true, Skipped: len(mistakes) - len(toEmbed)}
	var pending []extract.Mistake
	for _, m := range mistakes {
		if toEmbed[m.ExternalID] {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return stats, nil
	}

	texts := make([]string, len(pending))
	for i, m := range pending {
		texts[i] = m.WhatWentWrong
	}
	vecs, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return IndexStats{EmbeddingsGenerated: false, EmbeddingError: err.Error()}, nil
	}
	model := s.embed.ModelInfo().Model
	records := make([]vectorstore.Record, len(pending))
	for i, m := range pending {
		records[i] = vectorstore.Record{RowID: m.ExternalID, EntityID: m.ExternalID, Content: m.WhatWentWrong, Embedding: vecs[i], Model: model}
	}
	if err := s.vectors.Upsert(ctx, vectorstore.EntityMistakes, records); err != nil {
		return IndexStats{}, fmt.Errorf("upsert mistake embeddings: %w", err)
	}
	stats.Embedded = len(pending)
	return stats, nil
}

// diff returns the subset of ids (as a set) that should be embedded: all of
// them when incremental is false, otherwise only those missing from the
// VectorStore.
func (s *Service) diff(ctx context.Context, kind vectorstore.EntityKind, ids []string, incremental bool) (map[string]bool, error) {
	if !incremental {
		out := make(map[string]bool, len(ids))
		for _, id := range ids {
			out[id] = true
		}
		return out, nil
	}
	existing, err := s.vectors.ExistingIDs(ctx, kind, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !existing[id] {
			out[id] = true
		}
	}
	return out, nil
}

// IndexMissingDecisionEmbeddings embeds those of the given decisions that
// still lack a vector in the VectorStore (e.g. ones indexed while the
// provider was unavailable). The caller supplies the decisions to check.
func (s *Service) IndexMissingDecisionEmbeddings(ctx context.Context, all []extract.Decision) (IndexStats, error) {
	return s.IndexDecisions(ctx, all, true)
}

// IndexMissingMistakeEmbeddings embeds those of the given mistakes that still
// lack a vector in the VectorStore. The caller supplies the mistakes to check.
func (s *Service) IndexMissingMistakeEmbeddings(ctx context.Context, all []extract.Mistake) (IndexStats, error) {
	return s.IndexMistakes(ctx, all, true)
}
