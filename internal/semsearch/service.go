package semsearch

import (
	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/chunk"
	"github.com/fenwicklabs/memoryd/internal/config"
	"github.com/fenwicklabs/memoryd/internal/embeddings"
	"github.com/fenwicklabs/memoryd/internal/reranker"
	"github.com/fenwicklabs/memoryd/internal/sanitize"
	"github.com/fenwicklabs/memoryd/internal/store"
	"github.com/fenwicklabs/memoryd/internal/vectorstore"
)

// Service is the SemanticSearch component: it drives the Chunker and the
// embedding Capability to populate the VectorStore, and at query time fuses
// dense-vector and full-text results into ranked, snippeted hits.
type Service struct {
	store   *store.Store
	vectors vectorstore.Store
	embed   *embeddings.Capability
	chunker chunk.Chunker
	chunkCfg chunk.Config
	rerankCfg config.RerankConfig
	ranker  *reranker.HybridRanker
	logger  *zap.Logger
}

// New builds a Service wired against a single project's store. embed may be
// a Capability whose IsAvailable() is false; the service degrades to
// FTS/LIKE search in that case rather than failing.
func New(st *store.Store, vectors vectorstore.Store, embed *embeddings.Capability, chunkCfg config.ChunkingConfig, rerankCfg config.RerankConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := chunk.Config{
		Strategy:     chunk.Strategy(chunkCfg.Strategy),
		ChunkSize:    chunkCfg.ChunkSize,
		Overlap:      chunkCfg.Overlap,
		MinChunkSize: chunkCfg.MinChunkSize,
	}
	if cfg.ChunkSize == 0 {
		cfg = chunk.DefaultConfig()
	}
	if !chunkCfg.Enabled {
		cfg.Strategy = chunk.StrategyDisabled
	}

	var ranker *reranker.HybridRanker
	if rerankCfg.Enabled {
		ranker = reranker.New(reranker.Config{
			K:            rerankCfg.K,
			WeightVector: rerankCfg.WeightVec,
			WeightLexical: rerankCfg.WeightFTS,
			OverlapBoost: rerankCfg.OverlapBoost,
		})
	}

	return &Service{
		store:     st,
		vectors:   vectors,
		embed:     embed,
		chunker:   chunk.New(),
		chunkCfg:  cfg,
		rerankCfg: rerankCfg,
		ranker:    ranker,
		logger:    logger,
	}
}

// sanitizeFTSQuery is the single call site for FTS5 query sanitization,
// named explicitly so it is easy to audit that every MATCH query path
// routes through it.
func sanitizeFTSQuery(q string) string { return sanitize.SanitizeFTS(q) }

// dynamicSimilarityFloor implements min_sim = min(0.30 + 0.01*word_count, 0.55).
func dynamicSimilarityFloor(query string) float64 {
	words := 0
	inWord := false
	for _, r := range query {
		isSpace := r == ' ' || r == '\t' || r == '\n'
		if !isSpace && !inWord {
			words++
		}
		inWord = !isSpace
	}
	floor := 0.30 + 0.01*float64(words)
	if floor > 0.55 {
		floor = 0.55
	}
	return floor
}
