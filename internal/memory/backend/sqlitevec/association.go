package sqlitevec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relaykit/relay/pkg/models"
)

func (b *Backend) initAssociations() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS associations (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			strength REAL NOT NULL,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source_id, target_id, type)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create associations table: %w", err)
	}
	_, err = b.db.Exec(`CREATE INDEX IF NOT EXISTS idx_assoc_source ON associations(source_id)`)
	if err != nil {
		return fmt.Errorf("failed to create association index: %w", err)
	}
	_, err = b.db.Exec(`CREATE INDEX IF NOT EXISTS idx_assoc_target ON associations(target_id)`)
	if err != nil {
		return fmt.Errorf("failed to create association index: %w", err)
	}
	return nil
}

// UpsertAssociation inserts an edge, or replaces the strength/metadata of
// the existing edge for the same (source, target, type) triple. Source and
// target must differ; the caller is responsible for that invariant.
func (b *Backend) UpsertAssociation(ctx context.Context, edge *models.AssociationEdge) error {
	if edge.Source == edge.Target {
		return fmt.Errorf("association: source and target must differ")
	}
	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now()
	}
	metaJSON, err := json.Marshal(edge.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal association metadata: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO associations (id, source_id, target_id, type, strength, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, type) DO UPDATE SET
			strength = excluded.strength,
			metadata = excluded.metadata
	`, edge.ID, edge.Source, edge.Target, string(edge.Type), edge.Strength, string(metaJSON), edge.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert association: %w", err)
	}
	return nil
}

// ListEntries pages through stored memories ordered by id, for the
// association discovery loop's batch scan. Implements backend.Lister.
func (b *Backend) ListEntries(ctx context.Context, offset, limit int) ([]*models.MemoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, session_id, channel_id, agent_id, content, metadata, embedding, kind, identity, category, importance, date_bucket, created_at, updated_at
		FROM memories
		ORDER BY id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryEntry
	for rows.Next() {
		entry, embeddingBlob, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entry.Embedding = decodeEmbedding(embeddingBlob)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Neighbors returns the edges touching memoryID in either direction,
// strongest first, capped at limit.
func (b *Backend) Neighbors(ctx context.Context, memoryID string, limit int) ([]*models.AssociationEdge, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, type, strength, metadata, created_at
		FROM associations
		WHERE source_id = ? OR target_id = ?
		ORDER BY strength DESC
		LIMIT ?
	`, memoryID, memoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()

	var out []*models.AssociationEdge
	for rows.Next() {
		var e models.AssociationEdge
		var metaJSON string
		var typ string
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &typ, &e.Strength, &metaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}
		e.Type = models.AssociationType(typ)
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
