package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	soulPath := filepath.Join(dir, "SOUL.md")
	if err := os.WriteFile(soulPath, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var lastSoul string
	reloaded := make(chan struct{}, 4)

	w := NewWatcher(LoaderConfig{Root: dir}, 20*time.Millisecond, func(ctx *WorkspaceContext) {
		mu.Lock()
		lastSoul = ctx.SoulContent
		mu.Unlock()
		reloaded <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(soulPath, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if lastSoul != "v2" {
		t.Errorf("SoulContent = %q, want %q", lastSoul, "v2")
	}
}
