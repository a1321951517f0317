package sqlitevec

import (
	"context"
	"fmt"

	"github.com/relaykit/relay/internal/memory/backend"
)

func (b *Backend) initFTS() error {
	_, err := b.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			id UNINDEXED,
			content
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create fts table: %w", err)
	}
	return nil
}

// indexFTS mirrors a memory's content into the BM25 full-text index. Called
// from Index alongside the primary insert, inside the same transaction by
// the caller's choosing — here invoked best-effort per-row since FTS5
// virtual tables don't participate in foreign keys.
func (b *Backend) indexFTS(ctx context.Context, id, content string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear fts row: %w", err)
	}
	_, err := b.db.ExecContext(ctx, `INSERT INTO memories_fts (id, content) VALUES (?, ?)`, id, content)
	if err != nil {
		return fmt.Errorf("failed to index fts row: %w", err)
	}
	return nil
}

// SearchBM25 runs a full-text query against the memories_fts index,
// escaping query per backend.EscapeFTS5Query so free-form user text never
// trips the FTS5 query-syntax parser. Implements backend.FullTextBackend.
func (b *Backend) SearchBM25(ctx context.Context, query string, limit int) ([]backend.BM25Match, error) {
	if limit <= 0 {
		limit = 10
	}
	escaped := backend.EscapeFTS5Query(query)
	if escaped == "" {
		return nil, nil
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, bm25(memories_fts) AS rank
		FROM memories_fts
		WHERE memories_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, escaped, limit)
	if err != nil {
		return nil, fmt.Errorf("bm25 search failed: %w", err)
	}
	defer rows.Close()

	var out []backend.BM25Match
	for rows.Next() {
		var r backend.BM25Match
		if err := rows.Scan(&r.ID, &r.Rank); err != nil {
			return nil, fmt.Errorf("bm25 scan failed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *Backend) deleteFTS(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := b.db.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete fts row %s: %w", id, err)
		}
	}
	return nil
}
