package reranker

import "testing"

func TestHybridRanker_OverlapRanksFirst(t *testing.T) {
	h := New(DefaultConfig())

	dense := []RankedID{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	lexical := []RankedID{{ID: "b"}, {ID: "a"}, {ID: "c"}}

	fused := h.Fuse(dense, lexical)
	if len(fused) != 3 {
		t.Fatalf("len(fused) = %d, want 3", len(fused))
	}
	if fused[0].ID != "a" && fused[0].ID != "b" {
		t.Errorf("top result = %q, want a or b (both in top-2 of both rankings)", fused[0].ID)
	}
	if !fused[0].InDense || !fused[0].InLexical {
		t.Errorf("top result should be present in both rankings, got InDense=%v InLexical=%v", fused[0].InDense, fused[0].InLexical)
	}
}

func TestHybridRanker_AuthTokensBeatsUnrelated(t *testing.T) {
	h := New(DefaultConfig())

	// A = "JWT auth with refresh tokens" ranks first in both dense and
	// lexical retrieval for the query "authentication and tokens"; B =
	// "database connection pool tuning" ranks behind it in both.
	dense := []RankedID{{ID: "A"}, {ID: "B"}}
	lexical := []RankedID{{ID: "A"}, {ID: "B"}}

	fused := h.Fuse(dense, lexical)
	if fused[0].ID != "A" {
		t.Errorf("fused[0].ID = %q, want A (ranked ahead of B in both source rankings)", fused[0].ID)
	}
	if fused[0].Score <= fused[1].Score {
		t.Errorf("expected A's score %v to exceed B's score %v", fused[0].Score, fused[1].Score)
	}
}

func TestHybridRanker_MissingFromOneRankingGetsMaxRankPlus1(t *testing.T) {
	h := New(Config{K: 60, WeightVector: 1, WeightLexical: 1, OverlapBoost: 0})

	dense := []RankedID{{ID: "only-dense"}}
	lexical := []RankedID{{ID: "only-lexical"}}

	fused := h.Fuse(dense, lexical)
	if len(fused) != 2 {
		t.Fatalf("len(fused) = %d, want 2", len(fused))
	}

	var dScore, lScore float64
	for _, f := range fused {
		switch f.ID {
		case "only-dense":
			dScore = f.Score
		case "only-lexical":
			lScore = f.Score
		}
	}
	// Both appear at rank 1 in their own ranking and rank len+1=2 in the
	// other, so their fused scores must be identical.
	if dScore != lScore {
		t.Errorf("expected symmetric scores, got only-dense=%v only-lexical=%v", dScore, lScore)
	}
}

func TestHybridRanker_EmptyInputs(t *testing.T) {
	h := New(DefaultConfig())
	fused := h.Fuse(nil, nil)
	if len(fused) != 0 {
		t.Errorf("len(fused) = %d, want 0", len(fused))
	}
}

func TestHybridRanker_DuplicateIDWithinRankingUsesFirstOccurrence(t *testing.T) {
	h := New(DefaultConfig())
	dense := []RankedID{{ID: "x"}, {ID: "x"}, {ID: "y"}}
	lexical := []RankedID{{ID: "y"}, {ID: "x"}}

	fused := h.Fuse(dense, lexical)
	if len(fused) != 2 {
		t.Fatalf("len(fused) = %d, want 2 (dedup within dense ranking)", len(fused))
	}
}
