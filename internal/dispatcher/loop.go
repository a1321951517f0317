package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relaykit/relay/internal/agents"
	"github.com/relaykit/relay/internal/orchestrator"
	"github.com/relaykit/relay/internal/policy"
	"github.com/relaykit/relay/internal/subtypes"
	"github.com/relaykit/relay/pkg/models"
)

// Config configures a Dispatcher. Zero values fall back to the defaults
// below, matching the teacher's sanitizeLoopConfig idiom.
type Config struct {
	MaxToolIterations int
	BaseToolConfig    policy.ToolConfig
	RoleGrants        []string

	// AgentID identifies this dispatcher for Messages prefix resolution
	// (internal/agents.ResolveEffectiveMessagesConfig keys its per-agent
	// overrides by this ID). Empty means only the Messages.Defaults/
	// top-level Messages config applies.
	AgentID string

	// Messages configures the outbound message/response prefix and ack
	// reaction the teacher's internal/agents package resolves, so a
	// deployment can brand say_to_user replies with e.g. "[Assistant]"
	// without the orchestrator loop itself knowing about branding.
	Messages *agents.Config

	// ContextWindowTokens is the configured model's context window size,
	// checked against internal/agents.EvaluateContextWindowGuard before
	// the loop starts. Zero disables the guard.
	ContextWindowTokens int
}

func sanitizeConfig(c Config) Config {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 10
	}
	return c
}

// Dispatcher drives the bounded Orchestrated Tool Loop described in
// spec.md §4.5.
type Dispatcher struct {
	Registry    ToolRegistry
	Skills      SkillStore
	Subtypes    *subtypes.Registry
	Sessions    SessionStore
	Memory      MemoryWriter
	Broadcast   Broadcaster
	Settings    BotSettings
	LLM         LLMAdapter
	Model       string
	Config      Config

	// SystemPromptBuilder renders the pre-loop system prompt (safe-mode
	// header, role grants, persona, memory sections, API-key inventory,
	// memory-tool guidance, current request). Left pluggable since its
	// composition is entirely prompt-text, not control flow.
	SystemPromptBuilder func(sess *Session, safeMode bool, msg *NormalizedMessage) string
}

// runState is the loop's mutable accumulator for a single dispatch.
type runState struct {
	messages             []Turn
	toolCallLog          []models.ToolCall
	lastSayToUserContent string
	finalSummary         string
	orchestratorComplete bool
	waitingForUser       bool
	userQuestionContent  string
	memorySuppressed     bool
	wasCancelled         bool
	iterationsRun        int
}

// Dispatch normalizes the inbound message, persists it, resolves the
// session, and runs the bounded tool loop to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *NormalizedMessage) *DispatchResult {
	cfg := sanitizeConfig(d.Config)

	if cfg.ContextWindowTokens > 0 {
		info := agents.ContextWindowInfo{Tokens: cfg.ContextWindowTokens, Source: agents.ContextWindowSourceAgentContextTokens}
		guard := agents.EvaluateContextWindowGuard(info, nil)
		if guard.ShouldBlock {
			return &DispatchResult{Err: fmt.Errorf("model context window too small to run safely: %d tokens (minimum %d)", guard.Tokens, agents.ContextWindowHardMinTokens)}
		}
	}

	sess, err := d.Sessions.GetOrCreate(ctx, msg)
	if err != nil {
		return &DispatchResult{Err: Upstream(err)}
	}

	// Pre-loop: reset subtype to director on every new user message.
	sess.Ctx.ResetToDirector()

	safeMode := msg.ForceSafeMode
	toolConfig := d.Config.BaseToolConfig
	roleGrants := d.Config.RoleGrants
	if safeMode {
		toolConfig = policy.SafeModeOverlay(toolConfig, roleGrants)
	}

	var system string
	if d.SystemPromptBuilder != nil {
		system = d.SystemPromptBuilder(sess, safeMode, msg)
	}

	state := &runState{
		messages: []Turn{{Role: "user", Content: msg.Text}},
	}

	for iter := 1; iter <= cfg.MaxToolIterations; iter++ {
		state.iterationsRun = iter

		select {
		case <-ctx.Done():
			state.wasCancelled = true
		default:
		}
		if state.wasCancelled {
			break
		}

		subtypeKey := sess.Ctx.CurrentSubtype()
		subtypeTools := d.Subtypes.AdditionalTools(subtypeKey)
		catalogue, err := BuildCatalogue(ctx, d.Registry, d.Skills, sess.Ctx, subtypeKey, subtypeTools, safeMode, roleGrants, toolConfig)
		if err != nil {
			return d.finalize(ctx, sess, state, cfg, err)
		}

		resp, err := d.LLM.Complete(ctx, &CompletionRequest{System: system, Messages: state.messages, Tools: catalogue})
		if err != nil {
			return d.finalize(ctx, sess, state, cfg, Upstream(err))
		}

		if len(resp.ToolCalls) == 0 {
			state.messages = append(state.messages, Turn{Role: "assistant", Content: resp.Text})
			state.finalSummary = resp.Text
			state.orchestratorComplete = true
			break
		}

		state.messages = append(state.messages, Turn{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls})

		var toolResults []models.ToolResult
		for _, call := range resp.ToolCalls {
			state.toolCallLog = append(state.toolCallLog, call)
			result := d.executeOne(ctx, sess, msg, state, catalogue, call)
			toolResults = append(toolResults, *result)
			if d.Broadcast != nil {
				d.Broadcast.ToolResult(ctx, msg.ChannelID, sess.ID, call.Name, !result.IsError, result.Content)
			}
		}
		state.messages = append(state.messages, Turn{Role: "tool", ToolResults: toolResults})

		if state.orchestratorComplete || state.waitingForUser {
			break
		}
	}

	return d.finalize(ctx, sess, state, cfg, nil)
}

// executeOne runs a single tool call, honoring the capability gate and
// observing the special-tool semantics of spec.md §4.5 step 5.
func (d *Dispatcher) executeOne(ctx context.Context, sess *Session, msg *NormalizedMessage, state *runState, catalogue []ToolDefinition, call models.ToolCall) *models.ToolResult {
	var def *ToolDefinition
	for i := range catalogue {
		if catalogue[i].Name == call.Name {
			def = &catalogue[i]
			break
		}
	}
	if def == nil {
		// Not in this iteration's composed catalogue — either unknown or
		// already denied by the capability gate / safe-mode safety filter
		// during ComposeCatalogue, which applies both before this point.
		err := CapabilityDenied(call.Name)
		return &models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	if def.MemoryExcluded {
		state.memorySuppressed = true
	}

	switch call.Name {
	case ToolSayToUser:
		content := extractStringArg(call.Input, "content")
		state.lastSayToUserContent = content
		// The loop's own Broadcast.ToolResult call below already delivers
		// this content to the channel; emitting Broadcast.AgentResponse here
		// too would produce both a tool.result and a non-empty agent.response
		// for the same dispatch, which spec.md forbids.
		return &models.ToolResult{ToolCallID: call.ID, Content: content}

	case ToolTaskFullyCompleted:
		state.orchestratorComplete = true
		state.finalSummary = extractStringArg(call.Input, "summary")
		return &models.ToolResult{ToolCallID: call.ID, Content: "acknowledged"}

	case ToolAskUserAndWait:
		question := extractStringArg(call.Input, "question")
		state.waitingForUser = true
		state.userQuestionContent = question
		return &models.ToolResult{ToolCallID: call.ID, Content: "waiting for user"}

	case ToolUseSkill:
		return d.activateSkill(ctx, sess, msg, call)

	case ToolSetAgentSubtype:
		key := extractStringArg(call.Input, "subtype")
		resolved := d.Subtypes.ResolveKey(key)
		if resolved == "" {
			err := NotFound("subtype", key)
			return &models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
		}
		sess.Ctx.SetSubtype(resolved)
		if d.Broadcast != nil {
			cfg := d.Subtypes.Get(resolved)
			label := resolved
			if cfg != nil {
				label = cfg.Label
			}
			d.Broadcast.SubtypeChange(ctx, msg.ChannelID, resolved, label)
		}
		return &models.ToolResult{ToolCallID: call.ID, Content: "subtype set to " + resolved}
	}

	result, err := d.Registry.Execute(ctx, call.Name, call.Input)
	if err != nil {
		wrapped := Upstream(err)
		return &models.ToolResult{ToolCallID: call.ID, Content: wrapped.Error(), IsError: true}
	}
	if result == nil {
		result = &models.ToolResult{}
	}
	result.ToolCallID = call.ID
	return result
}


// activateSkill implements spec.md §4.6's 4-step process.
func (d *Dispatcher) activateSkill(ctx context.Context, sess *Session, msg *NormalizedMessage, call models.ToolCall) *models.ToolResult {
	name := extractStringArg(call.Input, "skill_name")
	skill, ok, err := d.Skills.GetEnabled(ctx, name)
	if err != nil {
		wrapped := Upstream(err)
		return &models.ToolResult{ToolCallID: call.ID, Content: wrapped.Error(), IsError: true}
	}
	if !ok || skill == nil {
		e := NotFound("skill", name)
		return &models.ToolResult{ToolCallID: call.ID, Content: e.Error(), IsError: true}
	}

	if skill.SubagentType != "" {
		if resolved := d.Subtypes.ResolveKey(skill.SubagentType); resolved != "" {
			sess.Ctx.SetSubtype(resolved)
			if d.Broadcast != nil {
				cfg := d.Subtypes.Get(resolved)
				label := resolved
				if cfg != nil {
					label = cfg.Label
				}
				d.Broadcast.SubtypeChange(ctx, msg.ChannelID, resolved, label)
			}
		}
	}

	sess.Ctx.SetActiveSkill(&orchestrator.ActiveSkill{
		Name:          skill.Name,
		RequiresTools: skill.RequiresTools,
	})

	rendered := renderSkillPrompt(skill.PromptBody, call.Input)
	return &models.ToolResult{ToolCallID: call.ID, Content: rendered}
}

// renderSkillPrompt substitutes {identifier} placeholders in a skill's
// prompt body from the tool call's argument object, per spec.md §9's
// "small template, not a general engine" design note.
func renderSkillPrompt(template string, args json.RawMessage) string {
	var values map[string]any
	if len(args) > 0 {
		_ = json.Unmarshal(args, &values)
	}
	out := template
	for k, v := range values {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return out
}

func extractStringArg(input json.RawMessage, key string) string {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// finalize centralizes the completion/cancellation/failure paths so both
// native-tool and text-tool loops share them, spec.md §4.5's
// "Finalization" section.
func (d *Dispatcher) finalize(ctx context.Context, sess *Session, state *runState, cfg Config, loopErr error) *DispatchResult {
	if fatal, ok := loopErr.(*Error); ok && fatal.Kind == KindFatal {
		_ = d.Sessions.UpdateStatus(ctx, sess, StatusFailed)
		return &DispatchResult{Err: fatal}
	}

	terminating := state.orchestratorComplete || state.wasCancelled
	if terminating {
		sess.Ctx.SetActiveSkill(nil)
	}
	_ = d.Sessions.SaveContext(ctx, sess)

	var status CompletionStatus
	switch {
	case state.wasCancelled:
		status = StatusCancelled
	case state.orchestratorComplete && !state.waitingForUser:
		status = StatusComplete
	case state.waitingForUser:
		status = StatusInProgress
	case state.iterationsRun >= cfg.MaxToolIterations:
		status = StatusFailed
	default:
		status = StatusInProgress
	}
	_ = d.Sessions.UpdateStatus(ctx, sess, status)

	if status == StatusComplete || status == StatusCancelled || status == StatusFailed {
		if d.Broadcast != nil {
			d.Broadcast.SessionComplete(ctx, sess.ChannelID, sess.ID)
		}
	}

	if status == StatusComplete {
		d.recordCompletionMemory(ctx, sess, state)
	}

	if status == StatusCancelled && len(state.toolCallLog) > 0 {
		_ = d.Sessions.AppendAssistantMessage(ctx, sess, formatCancelledLog(state.toolCallLog), nil)
	}

	if status == StatusFailed && len(state.toolCallLog) > 0 {
		_ = d.Sessions.AppendAssistantMessage(ctx, sess, formatMaxIterationsSummary(state.toolCallLog), nil)
		return &DispatchResult{
			Err: fmt.Errorf("Tool loop hit max iterations (%d). Work has been saved.", cfg.MaxToolIterations),
		}
	}

	if loopErr != nil {
		return &DispatchResult{Err: loopErr}
	}

	switch {
	case state.waitingForUser:
		return &DispatchResult{Text: state.userQuestionContent}
	case state.lastSayToUserContent != "":
		return &DispatchResult{Text: state.lastSayToUserContent, AlreadyDeliveredViaSay: true}
	case state.orchestratorComplete:
		return &DispatchResult{Text: state.finalSummary}
	case state.wasCancelled:
		return &DispatchResult{WasCancelled: true}
	default:
		return &DispatchResult{Err: fmt.Errorf("Tool loop hit max iterations (%d). Work has been saved.", cfg.MaxToolIterations)}
	}
}

func formatCancelledLog(calls []models.ToolCall) string {
	var b strings.Builder
	b.WriteString("Session stopped by user\n")
	for _, c := range calls {
		fmt.Fprintf(&b, "- %s(%s)\n", c.Name, string(c.Input))
	}
	return b.String()
}

func formatMaxIterationsSummary(calls []models.ToolCall) string {
	var b strings.Builder
	b.WriteString("Work completed before limit\n")
	for _, c := range calls {
		fmt.Fprintf(&b, "- %s(%s)\n", c.Name, string(c.Input))
	}
	return b.String()
}

func (d *Dispatcher) recordCompletionMemory(ctx context.Context, sess *Session, state *runState) {
	if state.memorySuppressed {
		return
	}
	if d.Settings != nil && !d.Settings.ChatSessionMemoryGeneration() {
		return
	}
	if d.Memory == nil {
		return
	}

	response := state.lastSayToUserContent
	if response == "" {
		response = state.finalSummary
	}
	if response == "" {
		return
	}

	topic := truncate(firstNonEmptyLine(response), 100)
	asked := truncate(state.messages[0].Content, 200)
	result := truncate(response, 400)

	content := fmt.Sprintf("%s\nAsked: %s\nResult: %s", topic, asked, result)
	entry := &models.MemoryEntry{
		Kind:       models.MemoryKindDailyLog,
		Content:    content,
		Category:   "session_completion",
		Importance: 5,
		DateBucket: time.Now().Format("2006-01-02"),
		Identity:   sess.CreatorIdentity,
	}
	_ = d.Memory.Index(ctx, []*models.MemoryEntry{entry})
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
