package memory

import (
	"testing"
	"time"

	"github.com/relaykit/relay/pkg/models"
)

func TestScoreRanks_CombinesAcrossChannels(t *testing.T) {
	fused := scoreRanks(defaultRRFConstant,
		[]string{"a", "b"}, // vector
		[]string{"b", "c"}, // fts
		[]string{"c"},      // graph
	)

	scores := make(map[string]float64, len(fused))
	for _, f := range fused {
		scores[f.id] = f.score
	}

	if len(scores) != 3 {
		t.Fatalf("expected 3 ids, got %d: %+v", len(scores), scores)
	}
	// b appears in two channels (rank 2 in vector, rank 1 in fts) and
	// should outscore a (rank 1 in vector only) and c (rank 2 in fts,
	// rank 1 in graph).
	if !(scores["b"] > scores["a"] && scores["b"] > scores["c"]) {
		t.Fatalf("expected b to have the highest fused score, got %+v", scores)
	}
}

func TestSortFusedByScoreThenEntry_TieBreaksByImportanceThenRecency(t *testing.T) {
	now := time.Now()
	byID := map[string]*models.MemoryEntry{
		"low-importance":  {ID: "low-importance", Importance: 1, UpdatedAt: now},
		"high-importance": {ID: "high-importance", Importance: 9, UpdatedAt: now.Add(-time.Hour)},
		"older":           {ID: "older", Importance: 9, UpdatedAt: now.Add(-2 * time.Hour)},
		"newer":           {ID: "newer", Importance: 9, UpdatedAt: now},
	}

	fused := []fusedItem{
		{id: "low-importance", score: 1.0},
		{id: "older", score: 1.0},
		{id: "high-importance", score: 1.0},
		{id: "newer", score: 1.0},
	}

	sortFusedByScoreThenEntry(fused, byID)

	want := []string{"newer", "high-importance", "older", "low-importance"}
	for i, id := range want {
		if fused[i].id != id {
			t.Fatalf("position %d = %q, want %q (got order %+v)", i, fused[i].id, id, fused)
		}
	}
}

func TestSortFusedByScoreThenEntry_UnresolvedEntrySortsLast(t *testing.T) {
	byID := map[string]*models.MemoryEntry{
		"known": {ID: "known", Importance: 1, UpdatedAt: time.Now()},
	}
	fused := []fusedItem{
		{id: "missing", score: 1.0},
		{id: "known", score: 1.0},
	}

	sortFusedByScoreThenEntry(fused, byID)

	if fused[0].id != "known" || fused[1].id != "missing" {
		t.Fatalf("expected resolved entry first, got %+v", fused)
	}
}

func TestSortFusedByScoreThenEntry_ScoreDominates(t *testing.T) {
	byID := map[string]*models.MemoryEntry{
		"low-score-high-importance": {ID: "low-score-high-importance", Importance: 10},
		"high-score-low-importance": {ID: "high-score-low-importance", Importance: 1},
	}
	fused := []fusedItem{
		{id: "low-score-high-importance", score: 0.1},
		{id: "high-score-low-importance", score: 0.9},
	}

	sortFusedByScoreThenEntry(fused, byID)

	if fused[0].id != "high-score-low-importance" {
		t.Fatalf("expected higher RRF score to win regardless of importance, got %+v", fused)
	}
}
