// Package dispatcher implements the Orchestrated Tool Loop: the bounded
// iteration driver that alternates LLM turns and tool executions under
// the capability gate, spec.md §4.4/§4.5. Grounded on the phase-machine
// shape of internal/agent/loop.go's AgenticLoop, restructured around the
// spec's exact iteration, special-tool, and finalization semantics
// instead of the teacher's streaming-chunk contract.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaykit/relay/internal/orchestrator"
	"github.com/relaykit/relay/internal/policy"
	"github.com/relaykit/relay/pkg/models"
)

// Names of the built-in special tools the loop itself interprets, per
// spec.md §4.5 step 5.
const (
	ToolSayToUser         = "say_to_user"
	ToolTaskFullyCompleted = "task_fully_completed"
	ToolAskUserAndWait    = "ask_user_and_wait"
	ToolUseSkill          = "use_skill"
	ToolSetAgentSubtype   = "set_agent_subtype"
	ToolDefineTasks       = "define_tasks"
)

// CompletionStatus is a session's terminal (or in-flight) lifecycle state,
// spec.md §3's Session.completion_status.
type CompletionStatus string

const (
	StatusInProgress CompletionStatus = "in_progress"
	StatusComplete   CompletionStatus = "complete"
	StatusCancelled  CompletionStatus = "cancelled"
	StatusFailed     CompletionStatus = "failed"
)

// NormalizedMessage is the inbound shape every channel adapter converts
// to before calling Dispatch, spec.md §6.
type NormalizedMessage struct {
	ChannelID       string
	ChannelType     string
	ChatID          string
	UserID          string
	UserName        string
	Text            string
	MessageID       string
	SessionMode     string
	SelectedNetwork string
	ForceSafeMode   bool
}

// ToolDefinition is the catalogue's unit: a tool's identity plus the
// metadata the capability gate and catalogue composition need.
type ToolDefinition struct {
	Name            string
	Description     string
	Schema          json.RawMessage
	Group           policy.Group
	Safety          policy.SafetyLevel
	Hidden          bool
	MemoryExcluded  bool // spec.md §4.5 step 5: sets memory_suppressed when called
	SkillNameEnum   []string // populated only for the synthesized use_skill definition
}

// Skill is the declarative unit spec.md §3 describes: a named prompt
// template with required tools/binaries and an optional subagent type.
type Skill struct {
	Name             string
	Description      string
	PromptBody       string
	Version          string
	Enabled          bool
	RequiresTools    []string
	RequiresBinaries []string
	Tags             []string
	SubagentType     string
	ArgumentsSchema  json.RawMessage
}

// SkillStore resolves enabled skills by name, and lists every enabled
// skill for use_skill enum synthesis (spec.md §4.4 step 3).
type SkillStore interface {
	GetEnabled(ctx context.Context, name string) (*Skill, bool, error)
	ListEnabled(ctx context.Context) ([]*Skill, error)
}

// ToolRegistry resolves the subtype-filtered base tool set and executes
// tools by name. Mirrors internal/agent.ToolRegistry's Execute contract
// but keyed to the capability gate's ToolDefinition instead of the
// teacher's Tool interface.
type ToolRegistry interface {
	// DefinitionsForSubtype returns the subtype-allowed, group-filtered
	// tool set, spec.md §4.4 step 1.
	DefinitionsForSubtype(subtypeKey string) []ToolDefinition
	// Execute runs a tool by name; IsError distinguishes a tool-result
	// error turn from a transport failure (err != nil).
	Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error)
}

// LLMAdapter abstracts native vs text-encoded tool calling so the loop's
// contract is identical either way, spec.md §6.
type LLMAdapter interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest carries one LLM turn's inputs.
type CompletionRequest struct {
	System   string
	Messages []Turn
	Tools    []ToolDefinition
}

// Turn is one entry in the conversation sent to the LLM adapter.
type Turn struct {
	Role        string // "user", "assistant", "tool"
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// CompletionResponse is the LLM adapter's reply: text plus any ordered
// tool calls it wants executed.
type CompletionResponse struct {
	Text      string
	ToolCalls []models.ToolCall
}

// MemoryWriter is the subset of the memory core the dispatcher needs for
// session-completion memory writes, spec.md §4.5's finalization. Mirrors
// memory.Manager.Index's slice-based, auto-ID/CreatedAt contract.
type MemoryWriter interface {
	Index(ctx context.Context, entries []*models.MemoryEntry) error
}

// Broadcaster is the subset of outbound events the dispatcher emits.
type Broadcaster interface {
	AgentResponse(ctx context.Context, channelID, text string)
	ToolResult(ctx context.Context, channelID, sessionID, toolName string, success bool, content string)
	SubtypeChange(ctx context.Context, channelID, key, label string)
	SessionComplete(ctx context.Context, channelID, sessionID string)
}

// Session is the persisted record the dispatcher reads/writes. Storage
// is abstracted per spec.md §6 — "persistence surface the core requires
// (abstract, not schema)".
type Session struct {
	ID               string
	ChannelID        string
	ChannelType      string
	CreatorIdentity  string
	Status           CompletionStatus
	Ctx              *orchestrator.Context
	CreatedAt        time.Time
}

// SessionStore loads or creates the session for an inbound message and
// persists status/context changes.
type SessionStore interface {
	GetOrCreate(ctx context.Context, msg *NormalizedMessage) (*Session, error)
	SaveContext(ctx context.Context, sess *Session) error
	UpdateStatus(ctx context.Context, sess *Session, status CompletionStatus) error
	AppendAssistantMessage(ctx context.Context, sess *Session, content string, toolCalls []models.ToolCall) error
}

// BotSettings abstracts the process-global flags the finalization step
// consults.
type BotSettings interface {
	ChatSessionMemoryGeneration() bool
}

// DispatchResult is the dispatcher's return contract, spec.md §4.5: the
// tagged sum distinguishing "already delivered via say_to_user" from
// "caller must broadcast this text", so a caller cannot accidentally
// double-deliver.
type DispatchResult struct {
	Text                   string
	AlreadyDeliveredViaSay bool
	WasCancelled           bool
	Err                    error
}
