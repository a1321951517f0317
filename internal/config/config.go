package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/relaykit/relay/internal/agents"
	"github.com/relaykit/relay/internal/memory"
	"github.com/relaykit/relay/internal/skills"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for relay.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Session       SessionConfig       `yaml:"session"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Skills        skills.SkillsConfig `yaml:"skills"`
	Memory        memory.Config       `yaml:"memory"`
	Association   AssociationConfig  `yaml:"association"`
	DiskQuota     DiskQuotaConfig    `yaml:"disk_quota"`
	ContextBank   ContextBankConfig  `yaml:"context_bank"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Subtypes      SubtypesConfig      `yaml:"subtypes"`
	Payments      PaymentsConfig      `yaml:"payments"`
	Cron          CronConfig          `yaml:"cron"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Messages configures outbound say_to_user prefix/ack-reaction
	// branding, resolved per-agent via Agents below.
	Messages agents.MessagesConfig `yaml:"messages"`

	// Agents holds per-agent identity/human-delay overrides, keyed by
	// agent ID (e.g. "dispatcher").
	Agents agents.AgentsConfig `yaml:"agents"`

	// Identity and User seed the system prompt's persona/addressee lines
	// when no workspace IDENTITY.md/USER.md overrides them. See
	// internal/gateway.BuildSystemPrompt.
	Identity IdentityConfig `yaml:"identity"`
	User     UserConfig     `yaml:"user"`
}

// ServerConfig controls the core runtime's listener-independent knobs.
// relay has no built-in HTTP server; this only configures local bookkeeping.
type ServerConfig struct {
	DataDir  string `yaml:"data_dir"`
	PidFile  string `yaml:"pid_file"`
	LockFile string `yaml:"lock_file"`
}

// WorkspaceConfig controls the working directory the agent's filesystem
// tools are scoped to, and the workspace persona/context files
// internal/workspace and internal/gateway load from that directory.
type WorkspaceConfig struct {
	Root         string `yaml:"root"`
	AllowOutside bool   `yaml:"allow_outside"`

	// Enabled turns on workspace-file injection into the system prompt
	// (AGENTS.md/SOUL.md/USER.md/IDENTITY.md/MEMORY.md under Root).
	Enabled bool `yaml:"enabled"`
	// MaxChars truncates each injected workspace file's content; 0 means
	// no limit.
	MaxChars     int    `yaml:"max_chars"`
	AgentsFile   string `yaml:"agents_file"`
	SoulFile     string `yaml:"soul_file"`
	UserFile     string `yaml:"user_file"`
	IdentityFile string `yaml:"identity_file"`
	ToolsFile    string `yaml:"tools_file"`
	MemoryFile   string `yaml:"memory_file"`
}

// IdentityConfig seeds the agent's persona line in the system prompt when
// no workspace IDENTITY.md is present.
type IdentityConfig struct {
	Name     string `yaml:"name"`
	Creature string `yaml:"creature"`
	Vibe     string `yaml:"vibe"`
	Emoji    string `yaml:"emoji"`
}

// UserConfig seeds the addressee line in the system prompt when no
// workspace USER.md is present.
type UserConfig struct {
	Name             string `yaml:"name"`
	PreferredAddress string `yaml:"preferred_address"`
	Pronouns         string `yaml:"pronouns"`
	Timezone         string `yaml:"timezone"`
	Notes            string `yaml:"notes"`
}

// AssociationConfig controls the background association discovery loop.
type AssociationConfig struct {
	Enabled               bool          `yaml:"enabled"`
	Interval              time.Duration `yaml:"interval"`
	BatchSize             int           `yaml:"batch_size"`
	Threshold             float64       `yaml:"threshold"`
	MaxAssociationsPerMem int           `yaml:"max_associations_per_memory"`
	EmbedRateLimit        time.Duration `yaml:"embed_rate_limit"`
}

// DiskQuotaConfig controls the disk quota manager's admission limits.
type DiskQuotaConfig struct {
	Enabled             bool  `yaml:"enabled"`
	MaxTotalBytes       int64 `yaml:"max_total_bytes"`
	MaxWriteBytes       int64 `yaml:"max_write_bytes"`
	MaxMemoryAppendBytes int64 `yaml:"max_memory_append_bytes"`
	MaxSkillZipBytes    int64 `yaml:"max_skill_zip_bytes"`
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
}

// ContextBankConfig controls which typed entities are extracted from
// inbound messages before dispatch.
type ContextBankConfig struct {
	Enabled bool     `yaml:"enabled"`
	Types   []string `yaml:"types"`
}

// SubtypesConfig configures the agent subtype registry.
type SubtypesConfig struct {
	Directory      string   `yaml:"directory"`
	DefaultSubtype string   `yaml:"default_subtype"`
	Entries        []string `yaml:"entries"`
}

// PaymentsConfig configures the x402 payment core.
type PaymentsConfig struct {
	Enabled     bool                     `yaml:"enabled"`
	Networks    map[string]NetworkConfig `yaml:"networks"`
	Tokens      map[string]TokenConfig   `yaml:"tokens"`
	Facilitator FacilitatorConfig        `yaml:"facilitator"`
	MaxRetries  int                      `yaml:"max_retries"`
	// DefaultNetwork is the network name (key of Networks) chosen when a
	// 402 response's requirements list includes more than one network
	// and the caller doesn't pin one.
	DefaultNetwork string `yaml:"default_network"`
	// SignerPrivateKeyHex is the raw hex-encoded ECDSA key used to sign
	// payment authorizations. Left empty in YAML; set via the
	// RELAY_PAYMENT_SIGNER_KEY environment variable in production, same
	// idiom as the LLM provider API keys below.
	SignerPrivateKeyHex string `yaml:"signer_private_key_hex"`
	// RateLimit caps how often the pay tool will sign and send a payment
	// to any single destination host, independent of MaxRetries' transient
	// failure handling — this bounds spend against a runaway tool loop,
	// not transport flakiness.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures a token-bucket limiter (internal/ratelimit).
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// NetworkConfig describes an EVM network the payment core can sign for.
type NetworkConfig struct {
	ChainID int64  `yaml:"chain_id"`
	RPCURL  string `yaml:"rpc_url"`
}

// TokenConfig describes an ERC-20 token usable as payment currency.
type TokenConfig struct {
	Network  string `yaml:"network"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
	Standard string `yaml:"standard"` // "exact" (EIP-3009) or "permit" (EIP-2612)
}

// FacilitatorConfig describes the facilitator used to verify payments.
type FacilitatorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CronConfig and CronJobConfig (scheduled triggers that feed synthetic
// inbound messages into the dispatcher) are defined in
// config_observability.go, which internal/cron and internal/triggers
// both depend on for the full job-type/schedule/retry shape.

// Load reads, resolves includes, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	buf, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("remarshal config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = "./data"
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "./workspace"
	}

	if cfg.Memory.Dimension == 0 {
		cfg.Memory.Dimension = 1536
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "sqlite-vec"
	}

	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}

	if cfg.Association.Interval == 0 {
		cfg.Association.Interval = 300 * time.Second
	}
	if cfg.Association.BatchSize == 0 {
		cfg.Association.BatchSize = 20
	}
	if cfg.Association.Threshold == 0 {
		cfg.Association.Threshold = 0.65
	}
	if cfg.Association.MaxAssociationsPerMem == 0 {
		cfg.Association.MaxAssociationsPerMem = 10
	}
	if cfg.Association.EmbedRateLimit == 0 {
		cfg.Association.EmbedRateLimit = 100 * time.Millisecond
	}

	if cfg.DiskQuota.MaxWriteBytes == 0 {
		cfg.DiskQuota.MaxWriteBytes = 5 << 20
	}
	if cfg.DiskQuota.MaxMemoryAppendBytes == 0 {
		cfg.DiskQuota.MaxMemoryAppendBytes = 100 << 10
	}
	if cfg.DiskQuota.MaxSkillZipBytes == 0 {
		cfg.DiskQuota.MaxSkillZipBytes = 10 << 20
	}
	if cfg.DiskQuota.RefreshInterval == 0 {
		cfg.DiskQuota.RefreshInterval = 60 * time.Second
	}

	if len(cfg.ContextBank.Types) == 0 {
		cfg.ContextBank.Types = []string{"eth_address", "token_symbol", "network", "url", "github_url", "number"}
	}

	if cfg.Subtypes.DefaultSubtype == "" {
		cfg.Subtypes.DefaultSubtype = "director"
	}

	if cfg.Tools.Execution.MaxIterations == 0 {
		cfg.Tools.Execution.MaxIterations = 10
	}
	if cfg.Tools.Execution.MaxToolCalls == 0 {
		cfg.Tools.Execution.MaxToolCalls = 50
	}
	if cfg.Tools.Execution.Timeout == 0 {
		cfg.Tools.Execution.Timeout = 30 * time.Second
	}
	if cfg.Tools.Links.MaxLinks == 0 {
		cfg.Tools.Links.MaxLinks = 5
	}

	if cfg.Payments.MaxRetries == 0 {
		cfg.Payments.MaxRetries = 1
	}
	if cfg.Payments.Facilitator.Timeout == 0 {
		cfg.Payments.Facilitator.Timeout = 10 * time.Second
	}
	if cfg.Payments.RateLimit.RequestsPerSecond == 0 {
		cfg.Payments.RateLimit.RequestsPerSecond = 1
	}
	if cfg.Payments.RateLimit.BurstSize == 0 {
		cfg.Payments.RateLimit.BurstSize = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		p := cfg.LLM.Providers["anthropic"]
		p.APIKey = v
		cfg.LLM.Providers["anthropic"] = p
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProviderConfig{}
		}
		p := cfg.LLM.Providers["openai"]
		p.APIKey = v
		cfg.LLM.Providers["openai"] = p
	}
	if v := os.Getenv("RELAY_MAX_WRITE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DiskQuota.MaxWriteBytes = n
		}
	}
	if v := os.Getenv("RELAY_PAYMENT_SIGNER_KEY"); v != "" {
		cfg.Payments.SignerPrivateKeyHex = v
	}
}

// ConfigValidationError wraps a field-scoped configuration error.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func validateConfig(cfg *Config) error {
	if cfg.LLM.DefaultProvider == "" {
		return &ConfigValidationError{Field: "llm.default_provider", Reason: "must be set"}
	}
	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
		return &ConfigValidationError{Field: "llm.default_provider", Reason: fmt.Sprintf("no provider configured for %q", cfg.LLM.DefaultProvider)}
	}
	if cfg.DiskQuota.MaxWriteBytes <= 0 {
		return &ConfigValidationError{Field: "disk_quota.max_write_bytes", Reason: "must be positive"}
	}
	if cfg.Association.Threshold < 0 || cfg.Association.Threshold > 1 {
		return &ConfigValidationError{Field: "association.threshold", Reason: "must be in [0,1]"}
	}
	for name, tok := range cfg.Payments.Tokens {
		if tok.Standard != "exact" && tok.Standard != "permit" && tok.Standard != "" {
			return &ConfigValidationError{Field: fmt.Sprintf("payments.tokens.%s.standard", name), Reason: "must be \"exact\" or \"permit\""}
		}
		if _, ok := cfg.Payments.Networks[tok.Network]; cfg.Payments.Enabled && !ok {
			return &ConfigValidationError{Field: fmt.Sprintf("payments.tokens.%s.network", name), Reason: fmt.Sprintf("unknown network %q", tok.Network)}
		}
	}
	return nil
}

// WriteSchema writes the JSON schema for Config to w.
func WriteSchema(w io.Writer) error {
	schema, err := JSONSchema()
	if err != nil {
		return err
	}
	_, err = w.Write(schema)
	return err
}

