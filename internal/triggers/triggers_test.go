package triggers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/relaykit/relay/internal/config"
	"github.com/relaykit/relay/internal/cron"
	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/internal/orchestrator"
	"github.com/relaykit/relay/internal/policy"
	"github.com/relaykit/relay/internal/subtypes"
	"github.com/relaykit/relay/internal/tasks"
	"github.com/relaykit/relay/pkg/models"
)

type stubRegistry struct{ defs []dispatcher.ToolDefinition }

func (r *stubRegistry) DefinitionsForSubtype(string) []dispatcher.ToolDefinition { return r.defs }
func (r *stubRegistry) Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: "ok"}, nil
}

type stubSkills struct{}

func (stubSkills) GetEnabled(ctx context.Context, name string) (*dispatcher.Skill, bool, error) {
	return nil, false, nil
}
func (stubSkills) ListEnabled(ctx context.Context) ([]*dispatcher.Skill, error) { return nil, nil }

type stubSessions struct{ sessions map[string]*dispatcher.Session }

func newStubSessions() *stubSessions { return &stubSessions{sessions: map[string]*dispatcher.Session{}} }

func (s *stubSessions) GetOrCreate(ctx context.Context, msg *dispatcher.NormalizedMessage) (*dispatcher.Session, error) {
	if sess, ok := s.sessions[msg.ChatID]; ok {
		return sess, nil
	}
	sess := &dispatcher.Session{
		ID:              "sess-" + msg.ChatID,
		ChannelID:       msg.ChannelID,
		ChannelType:     msg.ChannelType,
		CreatorIdentity: msg.UserID,
		Status:          dispatcher.StatusInProgress,
		Ctx:             orchestrator.New("sess-"+msg.ChatID, nil),
	}
	s.sessions[msg.ChatID] = sess
	return sess, nil
}
func (s *stubSessions) SaveContext(ctx context.Context, sess *dispatcher.Session) error { return nil }
func (s *stubSessions) UpdateStatus(ctx context.Context, sess *dispatcher.Session, status dispatcher.CompletionStatus) error {
	sess.Status = status
	return nil
}
func (s *stubSessions) AppendAssistantMessage(ctx context.Context, sess *dispatcher.Session, content string, calls []models.ToolCall) error {
	return nil
}

type stubBroadcast struct{}

func (stubBroadcast) AgentResponse(ctx context.Context, channelID, text string)           {}
func (stubBroadcast) ToolResult(ctx context.Context, channelID, sessionID, toolName string, success bool, content string) {
}
func (stubBroadcast) SubtypeChange(ctx context.Context, channelID, key, label string) {}
func (stubBroadcast) SessionComplete(ctx context.Context, channelID, sessionID string) {}

type stubMemory struct{}

func (stubMemory) Index(ctx context.Context, entries []*models.MemoryEntry) error { return nil }

type stubSettings struct{}

func (stubSettings) ChatSessionMemoryGeneration() bool { return false }

type scriptedLLM struct{ text string }

func (s *scriptedLLM) Complete(ctx context.Context, req *dispatcher.CompletionRequest) (*dispatcher.CompletionResponse, error) {
	return &dispatcher.CompletionResponse{Text: s.text}, nil
}

func testDispatcher(t *testing.T, replyText string) *dispatcher.Dispatcher {
	t.Helper()
	subtypeRegistry, err := subtypes.NewRegistry(nil)
	if err != nil {
		t.Fatalf("subtypes.NewRegistry: %v", err)
	}
	return &dispatcher.Dispatcher{
		Registry: &stubRegistry{defs: []dispatcher.ToolDefinition{
			{Name: dispatcher.ToolSayToUser, Group: policy.GroupMessaging, Safety: policy.SafetySafeMode},
			{Name: dispatcher.ToolTaskFullyCompleted, Group: policy.GroupSystem, Safety: policy.SafetySafeMode},
		}},
		Skills:    stubSkills{},
		Subtypes:  subtypeRegistry,
		Sessions:  newStubSessions(),
		Memory:    stubMemory{},
		Broadcast: stubBroadcast{},
		Settings:  stubSettings{},
		LLM:       &scriptedLLM{text: replyText},
		Config:    dispatcher.Config{MaxToolIterations: 10, BaseToolConfig: policy.ToolConfig{Profile: policy.ProfileFull}},
	}
}

func TestDispatchExecutorRunsTaskThroughDispatcher(t *testing.T) {
	d := testDispatcher(t, "heartbeat acknowledged")
	exec := &DispatchExecutor{Dispatcher: d}

	task := &tasks.ScheduledTask{ID: "t1", AgentID: "director", Prompt: "check in"}
	te := &tasks.TaskExecution{ID: "e1", TaskID: "t1", Prompt: "check in"}

	response, err := exec.Execute(context.Background(), task, te)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if response != "heartbeat acknowledged" {
		t.Fatalf("unexpected response: %q", response)
	}
}

func TestDispatchExecutorRequiresDispatcher(t *testing.T) {
	exec := &DispatchExecutor{}
	_, err := exec.Execute(context.Background(), &tasks.ScheduledTask{ID: "t1"}, &tasks.TaskExecution{ID: "e1"})
	if err == nil {
		t.Fatal("expected error when dispatcher is not configured")
	}
}

func TestDispatchAgentRunnerRunsCronJob(t *testing.T) {
	d := testDispatcher(t, "daily summary sent")
	runner := &DispatchAgentRunner{Dispatcher: d}

	job := &cron.Job{
		ID:   "job1",
		Type: cron.JobTypeAgent,
		Message: &config.CronMessageConfig{
			Channel:   "daily-channel",
			ChannelID: "ch-1",
			Content:   "summarize today",
		},
	}

	if err := runner.Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestMemoryStoreDueTasksAndExecutionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &tasks.ScheduledTask{
		ID:        "task-1",
		Status:    tasks.TaskStatusActive,
		NextRunAt: time.Now().Add(-time.Minute),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	due, err := store.GetDueTasks(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("GetDueTasks() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "task-1" {
		t.Fatalf("expected task-1 due, got %+v", due)
	}

	exec := &tasks.TaskExecution{ID: "exec-1", TaskID: "task-1", Status: tasks.ExecutionStatusPending}
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}

	acquired, err := store.AcquireExecution(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireExecution() error = %v", err)
	}
	if acquired == nil || acquired.Status != tasks.ExecutionStatusRunning {
		t.Fatalf("expected acquired running execution, got %+v", acquired)
	}

	if err := store.CompleteExecution(ctx, "exec-1", tasks.ExecutionStatusSucceeded, "done", ""); err != nil {
		t.Fatalf("CompleteExecution() error = %v", err)
	}

	got, err := store.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.Status != tasks.ExecutionStatusSucceeded || got.Response != "done" {
		t.Fatalf("unexpected execution state: %+v", got)
	}
}
