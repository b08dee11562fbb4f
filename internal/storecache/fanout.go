package storecache

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/config"
	"github.com/fenwicklabs/memoryd/internal/embeddings"
	"github.com/fenwicklabs/memoryd/internal/globalindex"
	"github.com/fenwicklabs/memoryd/internal/semsearch"
	"github.com/fenwicklabs/memoryd/internal/store"
	"github.com/fenwicklabs/memoryd/internal/vectorstore"
)

// ScopedMessageHit is one SearchConversations hit tagged with the project it
// came from, so a fanned-out caller can tell results from different projects
// apart.
type ScopedMessageHit struct {
	semsearch.MessageHit
	ProjectPath string
}

// FanOutResult is the cross-project counterpart of semsearch.SearchResult:
// it never fails outright on a single project's store being unreachable, and
// always reports how many of the registered projects it actually searched.
type FanOutResult struct {
	Hits              []ScopedMessageHit
	ProjectsSearched  int
	ProjectsSucceeded int
	FailedProjects    []string
}

// FanOutSearch runs SearchConversations against every entry's store,
// embedding the query once (when a Capability is available) and reusing that
// vector across all of them instead of re-embedding per project. Each target
// store is opened read-only,
// queried, and closed; a failure on any individual store is collected into
// FailedProjects rather than aborting the fan-out.
func FanOutSearch(ctx context.Context, entries []globalindex.Entry, embed *embeddings.Capability, chunkCfg config.ChunkingConfig, rerankCfg config.RerankConfig, query string, limit int, filter semsearch.Filter, logger *zap.Logger) FanOutResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 10
	}

	var precomputed []float32
	if embed != nil && embed.IsAvailable() {
		if v, err := embed.Embed(ctx, query); err == nil {
			precomputed = v
		} else {
			logger.Warn("fan-out: precompute query embedding failed, each project will embed independently", zap.Error(err))
		}
	}

	result := FanOutResult{ProjectsSearched: len(entries)}

	for _, entry := range entries {
		st, err := store.Open(ctx, entry.DBPath, config.StoreConfig{ReadOnly: true}, logger)
		if err != nil {
			logger.Warn("fan-out: project store unreachable", zap.String("project", entry.ProjectPath), zap.Error(err))
			result.FailedProjects = append(result.FailedProjects, entry.ProjectPath)
			continue
		}

		vectors := vectorstore.New(st)
		svc := semsearch.New(st, vectors, embed, chunkCfg, rerankCfg, logger)
		res, err := svc.SearchConversations(ctx, query, precomputed, limit, filter)
		st.Close()
		if err != nil {
			logger.Warn("fan-out: search failed", zap.String("project", entry.ProjectPath), zap.Error(err))
			result.FailedProjects = append(result.FailedProjects, entry.ProjectPath)
			continue
		}

		result.ProjectsSucceeded++
		for _, h := range res.MessageHits {
			result.Hits = append(result.Hits, ScopedMessageHit{MessageHit: h, ProjectPath: entry.ProjectPath})
		}
	}

	sort.SliceStable(result.Hits, func(i, j int) bool {
		return result.Hits[i].Similarity > result.Hits[j].Similarity
	})
	if len(result.Hits) > limit {
		result.Hits = result.Hits[:limit]
	}
	return result
}
