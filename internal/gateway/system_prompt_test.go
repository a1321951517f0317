package gateway

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relaykit/relay/internal/config"
	"github.com/relaykit/relay/pkg/models"
)

func TestBuildSystemPrompt_Minimal(t *testing.T) {
	prompt, err := BuildSystemPrompt(&config.Config{}, "session-1", &models.Message{})
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "identity or user profile details are missing") {
		t.Errorf("expected missing-profile nudge, got %q", prompt)
	}
}

func TestBuildSystemPrompt_IdentityAndUser(t *testing.T) {
	cfg := &config.Config{
		Identity: config.IdentityConfig{Name: "Relay", Creature: "owl", Vibe: "curious", Emoji: "🦉"},
		User:     config.UserConfig{Name: "Alex", PreferredAddress: "Alex", Timezone: "America/Denver"},
	}
	prompt, err := BuildSystemPrompt(cfg, "session-1", &models.Message{})
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "Relay") || !strings.Contains(prompt, "owl") {
		t.Errorf("expected identity line, got %q", prompt)
	}
	if !strings.Contains(prompt, "Alex") {
		t.Errorf("expected user line, got %q", prompt)
	}
}

func TestBuildSystemPrompt_WorkspaceFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte("Be concise."), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Workspace: config.WorkspaceConfig{Enabled: true, Root: dir, SoulFile: "SOUL.md"},
	}
	prompt, err := BuildSystemPrompt(cfg, "session-1", &models.Message{})
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "Be concise.") {
		t.Errorf("expected SOUL.md content injected, got %q", prompt)
	}
}

func TestBuildSystemPrompt_HeartbeatOnDemand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heartbeat.md")
	if err := os.WriteFile(path, []byte("- check inbox"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Session: config.SessionConfig{Heartbeat: config.HeartbeatConfig{Enabled: true, Mode: "on_demand", File: path}},
	}

	prompt, err := BuildSystemPrompt(cfg, "session-1", &models.Message{Content: "hello"})
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error = %v", err)
	}
	if strings.Contains(prompt, "check inbox") {
		t.Errorf("on_demand heartbeat should not fire on a non-heartbeat message, got %q", prompt)
	}

	prompt, err = BuildSystemPrompt(cfg, "session-1", &models.Message{Content: "heartbeat"})
	if err != nil {
		t.Fatalf("BuildSystemPrompt() error = %v", err)
	}
	if !strings.Contains(prompt, "check inbox") {
		t.Errorf("expected heartbeat checklist for a heartbeat message, got %q", prompt)
	}
}

func TestBuildSystemPrompt_NilConfig(t *testing.T) {
	prompt, err := BuildSystemPrompt(nil, "session-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompt != "" {
		t.Errorf("expected empty prompt for nil config, got %q", prompt)
	}
}
