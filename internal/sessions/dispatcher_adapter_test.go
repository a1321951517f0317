package sessions_test

import (
	"context"
	"testing"

	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/internal/identity"
	"github.com/relaykit/relay/internal/sessions"
)

func TestDispatcherStore_GetOrCreate_CreatorIdentityRaw(t *testing.T) {
	store := sessions.NewDispatcherStore(sessions.NewMemoryStore())

	sess, err := store.GetOrCreate(context.Background(), &dispatcher.NormalizedMessage{
		ChannelID:   "chan-1",
		ChannelType: "telegram",
		ChatID:      "chat-1",
		UserID:      "123456",
	})
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if sess.CreatorIdentity != "123456" {
		t.Errorf("CreatorIdentity = %q, want raw peer ID %q (no identity store wired)", sess.CreatorIdentity, "123456")
	}
}

func TestDispatcherStore_GetOrCreate_CreatorIdentityResolvesCanonical(t *testing.T) {
	idStore := identity.NewMemoryStore()
	if err := idStore.Create(context.Background(), &identity.Identity{
		CanonicalID: "person-amy",
		LinkedPeers: []string{"telegram:123456", "discord:789"},
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	store := sessions.NewDispatcherStoreWithIdentity(sessions.NewMemoryStore(), idStore)

	sess, err := store.GetOrCreate(context.Background(), &dispatcher.NormalizedMessage{
		ChannelID:   "chan-1",
		ChannelType: "telegram",
		ChatID:      "chat-1",
		UserID:      "123456",
	})
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if sess.CreatorIdentity != "person-amy" {
		t.Errorf("CreatorIdentity = %q, want canonical ID %q", sess.CreatorIdentity, "person-amy")
	}

	// A second channel linked to the same canonical identity should
	// resolve to the same creator identity, the cross-channel unification
	// this package exists for.
	sess2, err := store.GetOrCreate(context.Background(), &dispatcher.NormalizedMessage{
		ChannelID:   "chan-2",
		ChannelType: "discord",
		ChatID:      "chat-2",
		UserID:      "789",
	})
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if sess2.CreatorIdentity != "person-amy" {
		t.Errorf("second channel CreatorIdentity = %q, want %q", sess2.CreatorIdentity, "person-amy")
	}
}

func TestDispatcherStore_GetOrCreate_UnlinkedPeerFallsBackToRawID(t *testing.T) {
	idStore := identity.NewMemoryStore()
	store := sessions.NewDispatcherStoreWithIdentity(sessions.NewMemoryStore(), idStore)

	sess, err := store.GetOrCreate(context.Background(), &dispatcher.NormalizedMessage{
		ChannelID:   "chan-1",
		ChannelType: "slack",
		ChatID:      "chat-1",
		UserID:      "U999",
	})
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if sess.CreatorIdentity != "U999" {
		t.Errorf("CreatorIdentity = %q, want fallback raw peer ID %q", sess.CreatorIdentity, "U999")
	}
}
