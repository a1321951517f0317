package memorytool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaykit/relay/internal/memory"
	"github.com/relaykit/relay/internal/policy"
	"github.com/relaykit/relay/pkg/models"
)

func TestDefinitions_SafetyTags(t *testing.T) {
	defs := Definitions()
	want := map[string]policy.SafetyLevel{
		ToolMemoryRead:      policy.SafetySafeMode,
		ToolMemorySearch:    policy.SafetySafeMode,
		ToolMemoryAssociate: policy.SafetyStandard,
	}
	if len(defs) != len(want) {
		t.Fatalf("expected %d definitions, got %d", len(want), len(defs))
	}
	for _, d := range defs {
		if d.Safety != want[d.Name] {
			t.Errorf("%s: Safety = %v, want %v", d.Name, d.Safety, want[d.Name])
		}
	}
}

func TestClampSearchLimit(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 10},
		{-5, 10},
		{1, 1},
		{50, 50},
		{51, 50},
		{10000, 50},
	}
	for _, c := range cases {
		if got := clampSearchLimit(c.in); got != c.want {
			t.Errorf("clampSearchLimit(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

// newTestManager builds a real *memory.Manager backed by sqlite-vec and an
// Ollama embedding provider pointed at a model whose Dimension() matches the
// configured dimension, so construction never makes a network call. Callers
// must pre-populate entries' Embedding field before Index to avoid the
// embed-on-index path hitting the (unreachable) Ollama server.
func newTestManager(t *testing.T) *memory.Manager {
	t.Helper()
	mgr, err := memory.NewManager(&memory.Config{
		Enabled:   true,
		Backend:   "sqlite-vec",
		Dimension: 768,
		Embeddings: memory.EmbeddingsConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func dummyEmbedding() []float32 {
	return make([]float32, 768)
}

func TestExecutor_Read_PointLookup(t *testing.T) {
	mgr := newTestManager(t)
	entry := &models.MemoryEntry{
		ID:        "entry-1",
		Content:   "favorite color is blue",
		Embedding: dummyEmbedding(),
	}
	if err := mgr.Index(context.Background(), []*models.MemoryEntry{entry}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	e := &Executor{Memory: mgr}
	input, _ := json.Marshal(map[string]string{"id": "entry-1"})
	result, err := e.read(context.Background(), input)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %s", result.Content)
	}

	var got models.MemoryEntry
	if err := json.Unmarshal([]byte(result.Content), &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got.ID != "entry-1" || got.Content != "favorite color is blue" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestExecutor_Read_NotFound(t *testing.T) {
	mgr := newTestManager(t)
	e := &Executor{Memory: mgr}
	input, _ := json.Marshal(map[string]string{"id": "does-not-exist"})
	result, err := e.read(context.Background(), input)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing entry")
	}
}

func TestExecutor_Read_SafeModeDeniesNonSafeModeIdentity(t *testing.T) {
	mgr := newTestManager(t)
	entry := &models.MemoryEntry{
		ID:        "private-1",
		Content:   "a private fact",
		Identity:  "",
		Embedding: dummyEmbedding(),
	}
	if err := mgr.Index(context.Background(), []*models.MemoryEntry{entry}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	e := &Executor{Memory: mgr, SafeMode: true}
	input, _ := json.Marshal(map[string]string{"id": "private-1"})
	result, err := e.read(context.Background(), input)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected access-denied error result under safe mode")
	}
}

func TestExecutor_Read_SafeModeAllowsSafeModeIdentity(t *testing.T) {
	mgr := newTestManager(t)
	entry := &models.MemoryEntry{
		ID:        "safe-1",
		Content:   "a shareable fact",
		Identity:  models.SafeModeIdentity,
		Embedding: dummyEmbedding(),
	}
	if err := mgr.Index(context.Background(), []*models.MemoryEntry{entry}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	e := &Executor{Memory: mgr, SafeMode: true}
	input, _ := json.Marshal(map[string]string{"id": "safe-1"})
	result, err := e.read(context.Background(), input)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected safemode-identity entry to be readable, got error: %s", result.Content)
	}
}
