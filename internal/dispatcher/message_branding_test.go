package dispatcher

import (
	"context"
	"testing"

	"github.com/relaykit/relay/internal/agents"
	"github.com/relaykit/relay/internal/policy"
	"github.com/relaykit/relay/pkg/models"
)

// TestDispatch_SayToUserDeliversViaToolResultOnly verifies a say_to_user
// reply is delivered exclusively through the tool.result broadcast that
// fires for every tool call, with no accompanying agent.response broadcast,
// and that the DispatchResult text carries the unbranded content through to
// callers like cmd/relay that print it directly.
func TestDispatch_SayToUserDeliversViaToolResultOnly(t *testing.T) {
	llm := &scriptedLLM{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{toolCall(t, ToolSayToUser, map[string]any{"content": "your balance is 0"})}},
		{Text: ""},
	}}
	bc := &mockBroadcast{}
	d := &Dispatcher{
		Registry:  mustRegistry(),
		Skills:    &mockSkills{},
		Subtypes:  newTestSubtypes(t),
		Sessions:  newMockSessions(),
		Memory:    &mockMemory{},
		Broadcast: bc,
		Settings:  mockSettings{enabled: true},
		LLM:       llm,
		Config: Config{
			MaxToolIterations: 10,
			BaseToolConfig:    policy.ToolConfig{Profile: policy.ProfileFull},
			AgentID:           "dispatcher",
			Messages: &agents.Config{
				Messages: &agents.MessagesConfig{MessagePrefix: "[Relay]"},
			},
		},
	}

	res := d.Dispatch(context.Background(), &NormalizedMessage{ChannelType: "web", ChannelID: "c1", ChatID: "chat-brand", Text: "balance?"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Text != "your balance is 0" {
		t.Fatalf("DispatchResult.Text mismatch, got %q", res.Text)
	}
	if !res.AlreadyDeliveredViaSay {
		t.Fatal("expected AlreadyDeliveredViaSay to be set")
	}
	if len(bc.agentResponses) != 0 {
		t.Fatalf("expected zero agent.response broadcasts, got %+v", bc.agentResponses)
	}
	if bc.toolResults != 1 {
		t.Fatalf("expected exactly one tool.result broadcast, got %d", bc.toolResults)
	}
}

// TestDispatch_NoMessagesConfigStillDeliversViaToolResultOnly verifies the
// say_to_user path behaves the same whether or not Config.Messages is set,
// since it no longer touches formatOutbound at all.
func TestDispatch_NoMessagesConfigStillDeliversViaToolResultOnly(t *testing.T) {
	llm := &scriptedLLM{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{toolCall(t, ToolSayToUser, map[string]any{"content": "hello"})}},
		{Text: ""},
	}}
	bc := &mockBroadcast{}
	d := &Dispatcher{
		Registry:  mustRegistry(),
		Skills:    &mockSkills{},
		Subtypes:  newTestSubtypes(t),
		Sessions:  newMockSessions(),
		Memory:    &mockMemory{},
		Broadcast: bc,
		Settings:  mockSettings{enabled: true},
		LLM:       llm,
		Config:    Config{MaxToolIterations: 10, BaseToolConfig: policy.ToolConfig{Profile: policy.ProfileFull}},
	}

	res := d.Dispatch(context.Background(), &NormalizedMessage{ChannelType: "web", ChannelID: "c1", ChatID: "chat-nobrand", Text: "hi"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(bc.agentResponses) != 0 {
		t.Fatalf("expected zero agent.response broadcasts, got %+v", bc.agentResponses)
	}
	if bc.toolResults != 1 {
		t.Fatalf("expected exactly one tool.result broadcast, got %d", bc.toolResults)
	}
}

// TestDispatch_ContextWindowGuardBlocksTooSmallWindow verifies Dispatch
// refuses to run the tool loop when ContextWindowTokens is below
// agents.ContextWindowHardMinTokens.
func TestDispatch_ContextWindowGuardBlocksTooSmallWindow(t *testing.T) {
	llm := &scriptedLLM{responses: []*CompletionResponse{{Text: "should not run"}}}
	d := &Dispatcher{
		Registry:  mustRegistry(),
		Skills:    &mockSkills{},
		Subtypes:  newTestSubtypes(t),
		Sessions:  newMockSessions(),
		Memory:    &mockMemory{},
		Broadcast: &mockBroadcast{},
		Settings:  mockSettings{enabled: true},
		LLM:       llm,
		Config: Config{
			MaxToolIterations:   10,
			BaseToolConfig:      policy.ToolConfig{Profile: policy.ProfileFull},
			ContextWindowTokens: 8_000,
		},
	}

	res := d.Dispatch(context.Background(), &NormalizedMessage{ChannelType: "web", ChannelID: "c1", ChatID: "chat-guard", Text: "hi"})
	if res.Err == nil {
		t.Fatal("expected context window guard to block dispatch, got nil error")
	}
}

// TestDispatch_ContextWindowGuardAllowsSufficientWindow verifies a window
// above the hard minimum runs the loop normally.
func TestDispatch_ContextWindowGuardAllowsSufficientWindow(t *testing.T) {
	llm := &scriptedLLM{responses: []*CompletionResponse{{Text: "fine"}}}
	d := &Dispatcher{
		Registry:  mustRegistry(),
		Skills:    &mockSkills{},
		Subtypes:  newTestSubtypes(t),
		Sessions:  newMockSessions(),
		Memory:    &mockMemory{},
		Broadcast: &mockBroadcast{},
		Settings:  mockSettings{enabled: true},
		LLM:       llm,
		Config: Config{
			MaxToolIterations:   10,
			BaseToolConfig:      policy.ToolConfig{Profile: policy.ProfileFull},
			ContextWindowTokens: 128_000,
		},
	}

	res := d.Dispatch(context.Background(), &NormalizedMessage{ChannelType: "web", ChannelID: "c1", ChatID: "chat-guard-ok", Text: "hi"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Text != "fine" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}
