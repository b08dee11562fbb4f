package reranker

import "sort"

// RankedID is one candidate's position and score within a single ranking
// (dense-vector or lexical), identified by its row/message ID.
type RankedID struct {
	ID    string
	Score float64
}

// Fused is one document after reciprocal-rank fusion, carrying the combined
// score and whether it appeared in both source rankings.
type Fused struct {
	ID       string
	Score    float64
	InDense  bool
	InLexical bool
}

// Config controls the reciprocal-rank fusion formula:
//
//	score(d) = WeightVector/(K+rank_v(d)) + WeightLexical/(K+rank_f(d)) + OverlapBoost*1[d in both]
//
// A document missing from one ranking is assigned that ranking's
// max-rank-plus-one, per spec.
type Config struct {
	K            float64
	WeightVector float64
	WeightLexical float64
	OverlapBoost float64
}

// DefaultConfig returns the built-in RRF weights: a dampener of 60 (the
// standard RRF constant), equal 1.0 weight on each ranking, and a modest
// overlap boost for documents both rankers agree on.
func DefaultConfig() Config {
	return Config{K: 60, WeightVector: 1.0, WeightLexical: 1.0, OverlapBoost: 0.1}
}

// HybridRanker fuses a dense-vector ranking and a lexical (FTS) ranking of
// the same candidate set into one ordered result, using reciprocal-rank
// fusion with an overlap bonus.
type HybridRanker struct {
	cfg Config
}

// New builds a HybridRanker. A zero Config is replaced with DefaultConfig.
func New(cfg Config) *HybridRanker {
	if cfg.K == 0 && cfg.WeightVector == 0 && cfg.WeightLexical == 0 && cfg.OverlapBoost == 0 {
		cfg = DefaultConfig()
	}
	return &HybridRanker{cfg: cfg}
}

// Fuse combines dense and lexical rankings (each already sorted best-first
// by the caller) into a single ranking sorted by fused score descending.
func (h *HybridRanker) Fuse(dense, lexical []RankedID) []Fused {
	denseRank := rankOf(dense)
	lexicalRank := rankOf(lexical)

	denseMaxPlus1 := float64(len(dense) + 1)
	lexicalMaxPlus1 := float64(len(lexical) + 1)

	seen := make(map[string]bool, len(dense)+len(lexical))
	ids := make([]string, 0, len(dense)+len(lexical))
	for _, d := range dense {
		if !seen[d.ID] {
			seen[d.ID] = true
			ids = append(ids, d.ID)
		}
	}
	for _, d := range lexical {
		if !seen[d.ID] {
			seen[d.ID] = true
			ids = append(ids, d.ID)
		}
	}

	out := make([]Fused, 0, len(ids))
	for _, id := range ids {
		rv, inDense := denseRank[id]
		if !inDense {
			rv = denseMaxPlus1
		}
		rf, inLexical := lexicalRank[id]
		if !inLexical {
			rf = lexicalMaxPlus1
		}

		score := h.cfg.WeightVector/(h.cfg.K+rv) + h.cfg.WeightLexical/(h.cfg.K+rf)
		if inDense && inLexical {
			score += h.cfg.OverlapBoost
		}
		out = append(out, Fused{ID: id, Score: score, InDense: inDense, InLexical: inLexical})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// rankOf returns each document's 1-indexed rank position within ranking,
// assuming ranking is already ordered best (index 0) to worst.
func rankOf(ranking []RankedID) map[string]float64 {
	ranks := make(map[string]float64, len(ranking))
	for i, d := range ranking {
		if _, ok := ranks[d.ID]; !ok {
			ranks[d.ID] = float64(i + 1)
		}
	}
	return ranks
}
