package memory

import (
	"context"
	"fmt"

	"github.com/relaykit/relay/internal/memory/backend"
	"github.com/relaykit/relay/pkg/models"
)

// ErrGraphUnsupported is returned when the configured backend doesn't
// implement backend.GraphBackend.
var ErrGraphUnsupported = fmt.Errorf("memory: backend does not support the association graph")

// Associate records (or strengthens) an edge between two memories.
func (m *Manager) Associate(ctx context.Context, edge *models.AssociationEdge) error {
	gb, ok := m.backend.(backend.GraphBackend)
	if !ok {
		return ErrGraphUnsupported
	}
	return gb.UpsertAssociation(ctx, edge)
}

// Neighbors returns the association edges touching a memory, strongest
// first, capped at limit.
func (m *Manager) Neighbors(ctx context.Context, memoryID string, limit int) ([]*models.AssociationEdge, error) {
	gb, ok := m.backend.(backend.GraphBackend)
	if !ok {
		return nil, ErrGraphUnsupported
	}
	return gb.Neighbors(ctx, memoryID, limit)
}

// ListEntries pages through stored memories for the association discovery
// loop's batch scan.
func (m *Manager) ListEntries(ctx context.Context, offset, limit int) ([]*models.MemoryEntry, error) {
	lister, ok := m.backend.(backend.Lister)
	if !ok {
		return nil, fmt.Errorf("memory: backend does not support listing entries")
	}
	return lister.ListEntries(ctx, offset, limit)
}
