package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/relaykit/relay/internal/agent"
	"github.com/relaykit/relay/internal/agent/providers"
	"github.com/relaykit/relay/internal/agents"
	"github.com/relaykit/relay/internal/broadcaster"
	"github.com/relaykit/relay/internal/config"
	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/internal/gateway"
	"github.com/relaykit/relay/internal/identity"
	"github.com/relaykit/relay/internal/llm"
	"github.com/relaykit/relay/internal/memory"
	"github.com/relaykit/relay/internal/observability"
	"github.com/relaykit/relay/internal/policy"
	"github.com/relaykit/relay/internal/sessions"
	"github.com/relaykit/relay/internal/skills"
	"github.com/relaykit/relay/internal/subtypes"
	"github.com/relaykit/relay/internal/tools/coretools"
	"github.com/relaykit/relay/internal/tools/exec"
	"github.com/relaykit/relay/internal/tools/facts"
	"github.com/relaykit/relay/internal/tools/files"
	"github.com/relaykit/relay/internal/tools/memorytool"
	"github.com/relaykit/relay/internal/tools/payments"
	"github.com/relaykit/relay/internal/tools/websearch"
	"github.com/relaykit/relay/internal/toolkit"
	"github.com/relaykit/relay/internal/workspace"
	"github.com/relaykit/relay/pkg/models"
)

// runtime bundles everything a dispatcher.Dispatcher needs, built once
// per process invocation from the loaded Config.
type runtime struct {
	Config     *config.Config
	Memory     *memory.Manager
	Sessions   *sessions.DispatcherStore
	Skills     *skills.DispatcherStore
	Subtypes   *subtypes.Registry
	Toolkit    *toolkit.Registry
	Broadcast  *broadcaster.Broadcaster
	LLM        *llm.Adapter
	Metrics    *observability.Metrics
	Identity   identity.Store
	Dispatcher *dispatcher.Dispatcher
}

// configErr distinguishes an unparsable/invalid config (exit code 2) from
// every other startup failure (exit code 1), per spec.md §6's exit-code
// contract.
type configErr struct{ err error }

func (e *configErr) Error() string { return e.err.Error() }
func (e *configErr) Unwrap() error { return e.err }

// buildRuntime wires every concrete piece built across internal/* into a
// single Dispatcher, mirroring the teacher's own composition-root style
// in cmd/nexus/commands_serve.go's runServe (load config, build backends
// in dependency order, hand the result to one long-lived object).
func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &configErr{fmt.Errorf("loading config: %w", err)}
	}

	if cfg.Workspace.Enabled {
		if _, err := workspace.EnsureWorkspaceFiles(cfg.Workspace.Root, workspace.BootstrapFilesForConfig(cfg), false); err != nil {
			return nil, fmt.Errorf("bootstrapping workspace: %w", err)
		}
	}

	mem, err := memory.NewManager(&cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("initializing memory manager: %w", err)
	}

	idStore := identity.NewMemoryStore()
	if len(cfg.Session.Scoping.IdentityLinks) > 0 {
		if err := idStore.ImportFromConfig(context.Background(), cfg.Session.Scoping.IdentityLinks); err != nil {
			return nil, fmt.Errorf("loading identity links: %w", err)
		}
	}
	sessionStore := sessions.NewDispatcherStoreWithIdentity(sessions.NewMemoryStore(), idStore)

	skillSources := defaultSkillSources(cfg)
	skillStore := skills.NewDispatcherStore(skillSources)

	subtypeRegistry, err := subtypes.NewRegistry(defaultSubtypeConfigs())
	if err != nil {
		return nil, fmt.Errorf("building subtype registry: %w", err)
	}

	toolRegistry, err := buildToolRegistry(cfg, subtypeRegistry, mem)
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}

	bcast := broadcaster.New(stdoutSink{})

	provider, model, err := buildLLMProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("building LLM provider: %w", err)
	}
	adapter := &llm.Adapter{Provider: provider, Model: model, MaxRetries: cfg.LLM.MaxRetries}

	metrics := observability.NewMetrics()
	providerID := cfg.LLM.DefaultProvider
	if providerID == "" {
		providerID = "anthropic"
	}
	instrumentedAdapter := &instrumentedLLM{LLMAdapter: adapter, metrics: metrics, provider: providerID, model: model}
	instrumentedRegistry := &instrumentedTools{ToolRegistry: toolRegistry, metrics: metrics}

	d := &dispatcher.Dispatcher{
		Registry:            instrumentedRegistry,
		Skills:              skillStore,
		Subtypes:            subtypeRegistry,
		Sessions:            sessionStore,
		Memory:              mem,
		Broadcast:           bcast,
		Settings:            staticSettings{chatSessionMemory: true},
		LLM:                 instrumentedAdapter,
		Model:               model,
		SystemPromptBuilder: buildSystemPromptFn(cfg),
		Config: dispatcher.Config{
			MaxToolIterations:   10,
			BaseToolConfig:      policy.ToolConfig{Profile: policy.ProfileFull},
			AgentID:             "dispatcher",
			Messages:            buildMessagesConfig(cfg),
			ContextWindowTokens: cfg.LLM.Providers[providerID].ContextWindow,
		},
	}

	return &runtime{
		Config:     cfg,
		Memory:     mem,
		Sessions:   sessionStore,
		Skills:     skillStore,
		Subtypes:   subtypeRegistry,
		Toolkit:    toolRegistry,
		Broadcast:  bcast,
		LLM:        adapter,
		Metrics:    metrics,
		Identity:   idStore,
		Dispatcher: d,
	}, nil
}

// staticSettings is the simplest BotSettings: memory generation always on,
// since the CLI has no per-deployment toggle to read it from yet.
type staticSettings struct {
	chatSessionMemory bool
}

func (s staticSettings) ChatSessionMemoryGeneration() bool { return s.chatSessionMemory }

// stdoutSink logs every broadcast event at debug level, standing in for
// the websocket/channel-adapter sinks a real deployment would register.
type stdoutSink struct{}

func (stdoutSink) Emit(ctx context.Context, e broadcaster.Event) {
	slog.Debug("broadcast", "type", e.Type, "channel_id", e.ChannelID, "text", e.Text)
}

// defaultSkillSources builds the standard local+workspace skill
// discovery chain, the bundled-then-workspace priority order the
// teacher's own internal/skills.DiscoverAll expects (higher priority
// wins on name collision).
func defaultSkillSources(cfg *config.Config) []skills.DiscoverySource {
	var out []skills.DiscoverySource
	if cfg.Workspace.Root != "" {
		out = append(out, skills.NewLocalSource(filepath.Join(cfg.Workspace.Root, "skills"), skills.SourceWorkspace, 10))
	}
	if cfg.Skills.Sources != nil {
		for i, src := range cfg.Skills.Sources {
			if src.Path == "" {
				continue
			}
			out = append(out, skills.NewLocalSource(src.Path, skills.SourceExtra, 5+i))
		}
	}
	return out
}

// defaultSubtypeConfigs grants the director persona every tool group so
// the base catalogue is never empty for a fresh session — the registry's
// own auto-inserted director fallback leaves AllowedToolGroups empty,
// which would otherwise make every session start with zero tools.
func defaultSubtypeConfigs() []subtypes.Config {
	return []subtypes.Config{
		{
			Key:   subtypes.DirectorKey,
			Label: "Director",
			AllowedToolGroups: []policy.Group{
				policy.GroupWeb, policy.GroupFilesystem, policy.GroupExec,
				policy.GroupMessaging, policy.GroupSystem, policy.GroupFinance,
				policy.GroupMemory, policy.GroupDevelopment,
			},
			Enabled: true,
		},
	}
}

// buildToolRegistry wraps the teacher's surviving execTool
// implementations (files, exec, websearch, facts) as toolkit
// Registrations, and the builtin memory/special-tool families as
// FamilyDefinitions, per the internal/toolkit ledger entry.
func buildToolRegistry(cfg *config.Config, subtypeRegistry *subtypes.Registry, mem *memory.Manager) (*toolkit.Registry, error) {
	execManager := exec.NewManager(cfg.Workspace.Root)

	reg := &toolkit.Registry{
		Subtypes: subtypeRegistry,
		Tools: []toolkit.Registration{
			{Tool: files.NewReadTool(files.Config{Workspace: cfg.Workspace.Root}), Group: policy.GroupFilesystem, Safety: policy.SafetyStandard},
			{Tool: files.NewWriteTool(files.Config{Workspace: cfg.Workspace.Root}), Group: policy.GroupFilesystem, Safety: policy.SafetyStandard},
			{Tool: files.NewEditTool(files.Config{Workspace: cfg.Workspace.Root}), Group: policy.GroupFilesystem, Safety: policy.SafetyStandard},
			{Tool: exec.NewExecTool("exec", execManager), Group: policy.GroupExec, Safety: policy.SafetyStandard},
			{Tool: exec.NewProcessTool(execManager), Group: policy.GroupExec, Safety: policy.SafetyStandard},
			{Tool: websearch.NewWebSearchTool(&websearch.Config{}), Group: policy.GroupWeb, Safety: policy.SafetyStandard},
			{Tool: websearch.NewWebFetchTool(&websearch.FetchConfig{}), Group: policy.GroupWeb, Safety: policy.SafetyStandard},
			{Tool: facts.NewExtractTool(10), Group: policy.GroupMemory, Safety: policy.SafetyStandard},
		},
		Families: []toolkit.FuncExecutor{
			&memorytool.Executor{Memory: mem, SafeMode: false},
		},
		FamilyDefinitions: append(memorytool.Definitions(), coretools.Definitions()...),
	}

	if cfg.Payments.Enabled {
		payTool, err := payments.NewPayTool(payments.ConfigFromPayments(cfg.Payments))
		if err != nil {
			return nil, fmt.Errorf("building payment tool: %w", err)
		}
		reg.Tools = append(reg.Tools, toolkit.Registration{Tool: payTool, Group: policy.GroupFinance, Safety: policy.SafetyStandard})
	}

	reg.Build()
	return reg, nil
}

// buildLLMProvider selects the configured default LLM provider.
// SPEC_FULL.md's domain-stack wiring names anthropic-sdk-go and
// go-openai explicitly; other provider packages under
// internal/agent/providers remain available to internal/llm.Adapter's
// generic agent.LLMProvider seam but aren't wired into this default CLI
// build, matching the expanded spec's CLI-first, channel-adapter-free
// scope.
func buildLLMProvider(cfg *config.Config) (agent.LLMProvider, string, error) {
	providerID := cfg.LLM.DefaultProvider
	if providerID == "" {
		providerID = "anthropic"
	}
	pcfg := cfg.LLM.Providers[providerID]

	switch providerID {
	case "openai":
		return providers.NewOpenAIProvider(pcfg.APIKey), modelOrDefault(pcfg.DefaultModel, "gpt-4o"), nil
	case "anthropic":
		fallthrough
	default:
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  pcfg.APIKey,
			BaseURL: pcfg.BaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return p, modelOrDefault(pcfg.DefaultModel, "claude-sonnet-4-5"), nil
	}
}

// buildMessagesConfig wraps the loaded config's Messages/Agents sections
// into internal/agents.Config, or returns nil when neither is set so
// identity resolution falls back to its unprefixed default.
func buildMessagesConfig(cfg *config.Config) *agents.Config {
	if cfg.Messages == (agents.MessagesConfig{}) && cfg.Agents.Defaults == nil && len(cfg.Agents.Agents) == 0 {
		return nil
	}
	return &agents.Config{Messages: &cfg.Messages, Agents: &cfg.Agents}
}

// buildSystemPromptFn adapts internal/gateway.BuildSystemPrompt to the
// dispatcher's SystemPromptBuilder seam. safeMode is handled upstream by
// the dispatcher's own safe-mode tool/identity filtering; the prompt text
// itself does not vary by it.
func buildSystemPromptFn(cfg *config.Config) func(sess *dispatcher.Session, safeMode bool, msg *dispatcher.NormalizedMessage) string {
	return func(sess *dispatcher.Session, safeMode bool, msg *dispatcher.NormalizedMessage) string {
		sessionID := ""
		if sess != nil {
			sessionID = sess.ID
		}
		gm := &models.Message{}
		if msg != nil {
			gm.Channel = models.ChannelType(msg.ChannelType)
			gm.Content = msg.Text
		}
		prompt, err := gateway.BuildSystemPrompt(cfg, sessionID, gm)
		if err != nil {
			slog.Warn("building system prompt", "error", err)
			return ""
		}
		return prompt
	}
}

func modelOrDefault(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
