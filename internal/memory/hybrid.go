package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/relaykit/relay/internal/memory/backend"
	"github.com/relaykit/relay/pkg/models"
)

// defaultRRFConstant is the k in RRF's score formula (score = sum 1/(k+rank)),
// per spec.md §4.7.
const defaultRRFConstant = 60

// graphNeighborCap bounds how many association-graph neighbors seed
// expansion per spec.md §4.7: max(3, min(10, k/2)).
func graphNeighborCap(k int) int {
	n := k / 2
	if n > 10 {
		n = 10
	}
	if n < 3 {
		n = 3
	}
	return n
}

// HybridSearch runs vector similarity, BM25 full text, and association-graph
// expansion, then fuses the three ranked lists with Reciprocal Rank Fusion
// (k=60): score(m) = sum over channels of 1/(60+rank_i(m)). Safe mode forces
// identity="safemode" on every channel and denies any row lacking it.
func (m *Manager) HybridSearch(ctx context.Context, req *models.SearchRequest, safeMode bool) (*models.SearchResponse, error) {
	if req.Limit == 0 {
		req.Limit = m.config.Search.DefaultLimit
	}

	if safeMode {
		if req.Filters == nil {
			req.Filters = map[string]any{}
		}
		req.Filters["identity"] = models.SafeModeIdentity
	}

	vectorRanked, entries, err := m.vectorRanked(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector channel: %w", err)
	}

	var ftsRanked []string
	if ft, ok := m.backend.(backend.FullTextBackend); ok {
		matches, err := ft.SearchBM25(ctx, req.Query, req.Limit*3)
		if err != nil {
			return nil, fmt.Errorf("bm25 channel: %w", err)
		}
		for _, mm := range matches {
			ftsRanked = append(ftsRanked, mm.ID)
		}
	}

	var graphRanked []string
	if gb, ok := m.backend.(backend.GraphBackend); ok && len(vectorRanked) > 0 {
		seedCount := graphNeighborCap(req.Limit)
		if seedCount > len(vectorRanked) {
			seedCount = len(vectorRanked)
		}
		seen := make(map[string]bool)
		for _, seed := range vectorRanked[:seedCount] {
			edges, err := gb.Neighbors(ctx, seed, graphNeighborCap(req.Limit))
			if err != nil {
				return nil, fmt.Errorf("graph channel: %w", err)
			}
			for _, e := range edges {
				other := e.Target
				if other == seed {
					other = e.Source
				}
				if !seen[other] {
					seen[other] = true
					graphRanked = append(graphRanked, other)
				}
			}
		}
	}

	byID := make(map[string]*models.MemoryEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	fused := scoreRanks(defaultRRFConstant, vectorRanked, ftsRanked, graphRanked)

	// Rows that surfaced only via BM25 or the graph channel have no
	// embedding on the vector channel's pre-fetched set; backfill them by
	// ID so hybrid search degrades to FTS/graph instead of silently
	// dropping them, per spec.md §4.7.
	var missing []string
	for _, f := range fused {
		if _, ok := byID[f.id]; !ok {
			missing = append(missing, f.id)
		}
	}
	if len(missing) > 0 {
		fetched, err := m.GetByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("backfill channel: %w", err)
		}
		for _, e := range fetched {
			byID[e.ID] = e
		}
	}

	sortFusedByScoreThenEntry(fused, byID)

	var results []*models.SearchResult
	for _, f := range fused {
		entry := byID[f.id]
		if entry == nil {
			// Backend can't resolve this id at all (e.g. no Getter support
			// or the row was deleted between channels); drop it.
			continue
		}
		results = append(results, &models.SearchResult{Entry: entry, Score: float32(f.score)})
		if len(results) >= req.Limit {
			break
		}
	}

	return &models.SearchResponse{Results: results, TotalCount: len(results)}, nil
}

// vectorRanked runs the plain vector-similarity search and returns ranked
// memory IDs alongside the full entries (needed since the graph/BM25
// channels only return IDs).
func (m *Manager) vectorRanked(ctx context.Context, req *models.SearchRequest) ([]string, []*models.MemoryEntry, error) {
	queryEmbed, err := m.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := m.backend.Search(ctx, queryEmbed, &backend.SearchOptions{
		Scope:     req.Scope,
		ScopeID:   req.ScopeID,
		Limit:     req.Limit * 3,
		Threshold: req.Threshold,
		Filters:   req.Filters,
	})
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(results))
	entries := make([]*models.MemoryEntry, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Entry.ID)
		entries = append(entries, r.Entry)
	}
	return ids, entries, nil
}

type fusedItem struct {
	id    string
	score float64
}

// scoreRanks combines any number of ranked ID lists into one, scoring each
// id by sum(1/(k+rank)) across the lists it appears in (1-indexed rank).
// Returned in first-seen order, unsorted — callers sort once entry metadata
// is available for tie-breaking.
func scoreRanks(k int, lists ...[]string) []fusedItem {
	scores := make(map[string]float64)
	order := make([]string, 0)
	for _, list := range lists {
		for i, id := range list {
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(k+i+1)
		}
	}

	out := make([]fusedItem, 0, len(order))
	for _, id := range order {
		out = append(out, fusedItem{id: id, score: scores[id]})
	}
	return out
}

// sortFusedByScoreThenEntry sorts fused results by RRF score descending,
// breaking ties by importance then recency (spec.md §4.7): higher
// importance wins, then more recently created/updated wins. Entries the
// backend couldn't resolve sort last among their tied peers.
func sortFusedByScoreThenEntry(out []fusedItem, byID map[string]*models.MemoryEntry) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		ei, ej := byID[out[i].id], byID[out[j].id]
		if ei == nil || ej == nil {
			return ei != nil
		}
		if ei.Importance != ej.Importance {
			return ei.Importance > ej.Importance
		}
		return ei.UpdatedAt.After(ej.UpdatedAt)
	})
}
