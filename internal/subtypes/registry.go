// Package subtypes implements the declarative agent subtype registry:
// named personas bundling allowed tool groups, allowed skill tags, extra
// tools, and persona hooks.
package subtypes

import (
	"fmt"
	"strings"
	"sync"

	"github.com/relaykit/relay/internal/policy"
)

// DirectorKey is the mandatory default subtype, the implicit starting
// state before the agent selects (or is routed to) anything else.
const DirectorKey = "director"

// PersonaHook is a named lifecycle callback fired on subtype transitions.
type PersonaHook struct {
	Event   string // "on_enter", "on_exit", "on_change"
	Handler string // opaque identifier resolved by the caller
}

// Config declares a single subtype loaded from configuration.
type Config struct {
	Key               string
	Aliases           []string
	Label             string
	Description       string
	Enabled           bool
	AllowedToolGroups []policy.Group
	AllowedSkillTags  []string
	AdditionalTools   []string
	PersonaHooks      []PersonaHook
	PromptTemplate    string // may reference {available_skills} / {subagent_overview}
}

// Registry is a process-wide, load-once-then-read-only subtype table.
type Registry struct {
	mu      sync.RWMutex
	byKey   map[string]*Config
	aliases map[string]string // lowercased alias -> canonical key
}

// NewRegistry builds a registry from a set of subtype configs, inserting
// the mandatory director subtype if the caller did not supply one.
func NewRegistry(configs []Config) (*Registry, error) {
	r := &Registry{
		byKey:   make(map[string]*Config),
		aliases: make(map[string]string),
	}
	hasDirector := false
	for i := range configs {
		c := configs[i]
		if c.Key == "" {
			return nil, fmt.Errorf("subtypes: config at index %d has empty key", i)
		}
		canonical := strings.ToLower(c.Key)
		if canonical == DirectorKey {
			hasDirector = true
		}
		cp := c
		r.byKey[canonical] = &cp
		for _, a := range c.Aliases {
			r.aliases[strings.ToLower(a)] = canonical
		}
	}
	if !hasDirector {
		r.byKey[DirectorKey] = &Config{
			Key:         DirectorKey,
			Label:       "Director",
			Description: "Default orchestrating persona; routes to other subtypes or skills.",
			Enabled:     true,
		}
	}
	return r, nil
}

// ResolveKey resolves user/tool input (case-insensitive, alias-aware) to a
// canonical subtype key. Returns "" if nothing matches.
func (r *Registry) ResolveKey(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := strings.ToLower(strings.TrimSpace(input))
	if key == "" {
		return ""
	}
	if _, ok := r.byKey[key]; ok {
		return key
	}
	if canonical, ok := r.aliases[key]; ok {
		return canonical
	}
	return ""
}

// Get returns the subtype config for a canonical key, or nil.
func (r *Registry) Get(key string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[strings.ToLower(key)]
}

// All returns every subtype, optionally filtered to enabled ones.
func (r *Registry) All(enabledOnly bool) []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Config, 0, len(r.byKey))
	for _, c := range r.byKey {
		if enabledOnly && !c.Enabled {
			continue
		}
		out = append(out, c)
	}
	return out
}

// AllowedToolGroups returns the tool groups a subtype grants, empty if
// the subtype is unknown.
func (r *Registry) AllowedToolGroups(key string) []policy.Group {
	c := r.Get(key)
	if c == nil {
		return nil
	}
	return c.AllowedToolGroups
}

// AllowedSkillTags returns the skill tags a subtype may activate.
func (r *Registry) AllowedSkillTags(key string) []string {
	c := r.Get(key)
	if c == nil {
		return nil
	}
	return c.AllowedSkillTags
}

// AdditionalTools returns the subtype's always-included extra tools.
func (r *Registry) AdditionalTools(key string) []string {
	c := r.Get(key)
	if c == nil {
		return nil
	}
	return c.AdditionalTools
}
