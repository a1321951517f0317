package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/internal/identity"
	"github.com/relaykit/relay/internal/orchestrator"
	"github.com/relaykit/relay/pkg/models"
)

// Metadata keys the adapter uses to carry dispatcher state on top of the
// teacher's plain models.Session, rather than adding new persisted
// columns for a concern the teacher didn't originally have.
const (
	metaOrchestratorSnapshot = "orchestrator_snapshot"
	metaCompletionStatus     = "completion_status"
	metaCreatorIdentity      = "creator_identity"
	dispatcherAgentID        = "dispatcher"
)

// DispatcherStore adapts a Store into dispatcher.SessionStore, keeping
// the orchestrator.Context snapshot in the session's Metadata map
// instead of a dedicated table.
type DispatcherStore struct {
	Store    Store
	Identity identity.Store
}

func NewDispatcherStore(store Store) *DispatcherStore {
	return &DispatcherStore{Store: store}
}

// NewDispatcherStoreWithIdentity wires a cross-channel identity store into
// the session adapter, so a session's creator identity resolves to the
// linked canonical ID (per internal/identity) instead of the raw
// per-channel peer ID whenever that peer has been linked.
func NewDispatcherStoreWithIdentity(store Store, idStore identity.Store) *DispatcherStore {
	return &DispatcherStore{Store: store, Identity: idStore}
}

var _ dispatcher.SessionStore = (*DispatcherStore)(nil)

func (a *DispatcherStore) GetOrCreate(ctx context.Context, msg *dispatcher.NormalizedMessage) (*dispatcher.Session, error) {
	channel := models.ChannelType(msg.ChannelType)
	key := SessionKey(dispatcherAgentID, channel, msg.ChatID)
	model, err := a.Store.GetOrCreate(ctx, key, dispatcherAgentID, channel, msg.ChannelID)
	if err != nil {
		return nil, err
	}
	if model.Metadata == nil {
		model.Metadata = make(map[string]any)
	}
	if _, ok := model.Metadata[metaCreatorIdentity]; !ok && msg.UserID != "" {
		model.Metadata[metaCreatorIdentity] = a.resolveCreatorIdentity(ctx, msg.ChannelType, msg.UserID)
		_ = a.Store.Update(ctx, model)
	}
	return a.toDispatcherSession(model), nil
}

func (a *DispatcherStore) SaveContext(ctx context.Context, sess *dispatcher.Session) error {
	model, err := a.Store.Get(ctx, sess.ID)
	if err != nil {
		return err
	}
	snap := sess.Ctx.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if model.Metadata == nil {
		model.Metadata = make(map[string]any)
	}
	model.Metadata[metaOrchestratorSnapshot] = json.RawMessage(raw)
	return a.Store.Update(ctx, model)
}

func (a *DispatcherStore) UpdateStatus(ctx context.Context, sess *dispatcher.Session, status dispatcher.CompletionStatus) error {
	model, err := a.Store.Get(ctx, sess.ID)
	if err != nil {
		return err
	}
	if model.Metadata == nil {
		model.Metadata = make(map[string]any)
	}
	model.Metadata[metaCompletionStatus] = string(status)
	sess.Status = status
	return a.Store.Update(ctx, model)
}

func (a *DispatcherStore) AppendAssistantMessage(ctx context.Context, sess *dispatcher.Session, content string, toolCalls []models.ToolCall) error {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Channel:   models.ChannelType(sess.ChannelType),
		ChannelID: sess.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
		CreatedAt: time.Now(),
	}
	return a.Store.AppendMessage(ctx, sess.ID, msg)
}

// resolveCreatorIdentity maps a channel-specific peer ID to its linked
// canonical identity, if the peer has been linked via a.Identity. Falls
// back to the raw peer ID when no identity store is wired or the peer
// is unlinked, so memory entries and session keys still get a stable,
// if channel-local, identity value.
func (a *DispatcherStore) resolveCreatorIdentity(ctx context.Context, channel, peerID string) string {
	if a.Identity == nil {
		return peerID
	}
	ident, err := a.Identity.ResolveByPeer(ctx, channel, peerID)
	if err != nil || ident == nil {
		return peerID
	}
	return ident.CanonicalID
}

func (a *DispatcherStore) toDispatcherSession(model *models.Session) *dispatcher.Session {
	out := &dispatcher.Session{
		ID:          model.ID,
		ChannelID:   model.ChannelID,
		ChannelType: string(model.Channel),
		CreatedAt:   model.CreatedAt,
		Status:      dispatcher.StatusInProgress,
	}
	if model.Metadata != nil {
		if v, ok := model.Metadata[metaCreatorIdentity].(string); ok {
			out.CreatorIdentity = v
		}
		if v, ok := model.Metadata[metaCompletionStatus].(string); ok {
			out.Status = dispatcher.CompletionStatus(v)
		}
		if raw, ok := model.Metadata[metaOrchestratorSnapshot]; ok {
			if b, err := json.Marshal(raw); err == nil {
				var snap orchestrator.Snapshot
				if json.Unmarshal(b, &snap) == nil {
					out.Ctx = orchestrator.Restore(model.ID, snap, nil)
				}
			}
		}
	}
	if out.Ctx == nil {
		out.Ctx = orchestrator.New(model.ID, nil)
	}
	return out
}
