package dispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaykit/relay/internal/orchestrator"
	"github.com/relaykit/relay/internal/policy"
	"github.com/relaykit/relay/internal/subtypes"
	"github.com/relaykit/relay/pkg/models"
)

type mockRegistry struct {
	defs []ToolDefinition
}

func (m *mockRegistry) DefinitionsForSubtype(string) []ToolDefinition { return m.defs }
func (m *mockRegistry) Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: "ok from " + name}, nil
}

type mockSkills struct{}

func (m *mockSkills) GetEnabled(ctx context.Context, name string) (*Skill, bool, error) { return nil, false, nil }
func (m *mockSkills) ListEnabled(ctx context.Context) ([]*Skill, error)                 { return nil, nil }

type mockSessions struct {
	sessions map[string]*Session
}

func newMockSessions() *mockSessions { return &mockSessions{sessions: map[string]*Session{}} }

func (m *mockSessions) GetOrCreate(ctx context.Context, msg *NormalizedMessage) (*Session, error) {
	if s, ok := m.sessions[msg.ChatID]; ok {
		return s, nil
	}
	s := &Session{
		ID:              "sess-" + msg.ChatID,
		ChannelID:       msg.ChannelID,
		ChannelType:     msg.ChannelType,
		CreatorIdentity: msg.UserID,
		Status:          StatusInProgress,
		Ctx:             orchestrator.New("sess-"+msg.ChatID, nil),
	}
	m.sessions[msg.ChatID] = s
	return s, nil
}
func (m *mockSessions) SaveContext(ctx context.Context, sess *Session) error { return nil }
func (m *mockSessions) UpdateStatus(ctx context.Context, sess *Session, status CompletionStatus) error {
	sess.Status = status
	return nil
}
func (m *mockSessions) AppendAssistantMessage(ctx context.Context, sess *Session, content string, calls []models.ToolCall) error {
	return nil
}

type mockBroadcast struct {
	agentResponses []string
	toolResults    int
}

func (m *mockBroadcast) AgentResponse(ctx context.Context, channelID, text string) {
	m.agentResponses = append(m.agentResponses, text)
}
func (m *mockBroadcast) ToolResult(ctx context.Context, channelID, sessionID, toolName string, success bool, content string) {
	m.toolResults++
}
func (m *mockBroadcast) SubtypeChange(ctx context.Context, channelID, key, label string) {}
func (m *mockBroadcast) SessionComplete(ctx context.Context, channelID, sessionID string) {}

type mockMemory struct {
	written []*models.MemoryEntry
}

func (m *mockMemory) Index(ctx context.Context, entries []*models.MemoryEntry) error {
	m.written = append(m.written, entries...)
	return nil
}

type mockSettings struct{ enabled bool }

func (m mockSettings) ChatSessionMemoryGeneration() bool { return m.enabled }

type scriptedLLM struct {
	responses []*CompletionResponse
	i         int
}

func (s *scriptedLLM) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if s.i >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	r := s.responses[s.i]
	s.i++
	return r, nil
}

func mustRegistry() ToolRegistry {
	return &mockRegistry{defs: []ToolDefinition{
		{Name: ToolSayToUser, Group: policy.GroupMessaging, Safety: policy.SafetySafeMode},
		{Name: ToolTaskFullyCompleted, Group: policy.GroupSystem, Safety: policy.SafetySafeMode},
		{Name: ToolAskUserAndWait, Group: policy.GroupMessaging, Safety: policy.SafetySafeMode},
		{Name: "read_file", Group: policy.GroupFilesystem, Safety: policy.SafetyStandard},
	}}
}

func newTestSubtypes(t *testing.T) *subtypes.Registry {
	t.Helper()
	r, err := subtypes.NewRegistry(nil)
	if err != nil {
		t.Fatalf("subtypes.NewRegistry: %v", err)
	}
	return r
}

func toolCall(t *testing.T, name string, args map[string]any) models.ToolCall {
	t.Helper()
	b, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	return models.ToolCall{ID: name + "-1", Name: name, Input: b}
}

// Scenario 1: plain web reply.
func TestDispatch_PlainReply(t *testing.T) {
	llm := &scriptedLLM{responses: []*CompletionResponse{{Text: "hi there"}}}
	mem := &mockMemory{}
	bc := &mockBroadcast{}
	d := &Dispatcher{
		Registry:  mustRegistry(),
		Skills:    &mockSkills{},
		Subtypes:  newTestSubtypes(t),
		Sessions:  newMockSessions(),
		Memory:    mem,
		Broadcast: bc,
		Settings:  mockSettings{enabled: true},
		LLM:       llm,
		Config:    Config{MaxToolIterations: 10, BaseToolConfig: policy.ToolConfig{Profile: policy.ProfileFull}},
	}

	res := d.Dispatch(context.Background(), &NormalizedMessage{ChannelType: "web", ChannelID: "c1", ChatID: "chat1", Text: "hello"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Text != "hi there" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
	if res.AlreadyDeliveredViaSay {
		t.Fatal("expected caller-broadcast path, not say_to_user delivery")
	}
	if len(mem.written) != 1 {
		t.Fatalf("expected one completion memory written, got %d", len(mem.written))
	}
	if mem.written[0].Category != "session_completion" || mem.written[0].Importance != 5 {
		t.Fatalf("unexpected memory entry: %+v", mem.written[0])
	}
}

// Scenario 2: say_to_user single delivery.
func TestDispatch_SayToUserSingleDelivery(t *testing.T) {
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
		Config:    Config{MaxToolIterations: 10, BaseToolConfig: policy.ToolConfig{Profile: policy.ProfileFull}},
	}

	res := d.Dispatch(context.Background(), &NormalizedMessage{ChannelType: "web", ChannelID: "c1", ChatID: "chat2", Text: "balance?"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Text != "your balance is 0" || !res.AlreadyDeliveredViaSay {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(bc.agentResponses) != 0 {
		t.Fatalf("expected zero agent.response broadcasts for say_to_user, got %d", len(bc.agentResponses))
	}
	if bc.toolResults != 1 {
		t.Fatalf("expected exactly one tool.result event, got %d", bc.toolResults)
	}
}

// Scenario 3: max iterations with work saved.
func TestDispatch_MaxIterationsWorkSaved(t *testing.T) {
	loopCall := toolCall(t, "read_file", map[string]any{"path": "x"})
	llm := &scriptedLLM{responses: []*CompletionResponse{{ToolCalls: []models.ToolCall{loopCall}}}}
	d := &Dispatcher{
		Registry:  mustRegistry(),
		Skills:    &mockSkills{},
		Subtypes:  newTestSubtypes(t),
		Sessions:  newMockSessions(),
		Memory:    &mockMemory{},
		Broadcast: &mockBroadcast{},
		Settings:  mockSettings{enabled: true},
		LLM:       llm,
		Config:    Config{MaxToolIterations: 3, BaseToolConfig: policy.ToolConfig{Profile: policy.ProfileFull}},
	}

	res := d.Dispatch(context.Background(), &NormalizedMessage{ChannelType: "web", ChannelID: "c1", ChatID: "chat3", Text: "loop please"})
	if res.Err == nil {
		t.Fatal("expected an error result")
	}
	if got := res.Err.Error(); got != "Tool loop hit max iterations (3). Work has been saved." {
		t.Fatalf("unexpected error text: %q", got)
	}
}

// Scenario 4: safe-mode sandboxing denies a non-safe-mode tool.
func TestDispatch_SafeModeDeniesNonSafeModeTool(t *testing.T) {
	llm := &scriptedLLM{responses: []*CompletionResponse{
		{ToolCalls: []models.ToolCall{toolCall(t, "read_file", map[string]any{"path": "x"})}},
		{Text: "done"},
	}}
	d := &Dispatcher{
		Registry:  mustRegistry(),
		Skills:    &mockSkills{},
		Subtypes:  newTestSubtypes(t),
		Sessions:  newMockSessions(),
		Memory:    &mockMemory{},
		Broadcast: &mockBroadcast{},
		Settings:  mockSettings{enabled: true},
		LLM:       llm,
		Config:    Config{MaxToolIterations: 10, BaseToolConfig: policy.ToolConfig{Profile: policy.ProfileFull}},
	}

	res := d.Dispatch(context.Background(), &NormalizedMessage{
		ChannelType: "web", ChannelID: "c1", ChatID: "chat4", Text: "read it", ForceSafeMode: true,
	})
	if res.Err != nil {
		t.Fatalf("unexpected top-level error: %v", res.Err)
	}
	// read_file has SafetyStandard, so safe mode must have denied it as a
	// tool-result turn (the loop still completes via the second LLM turn).
	if res.Text != "done" {
		t.Fatalf("unexpected result text: %q", res.Text)
	}
}
