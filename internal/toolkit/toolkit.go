// Package toolkit composes the dispatcher's concrete ToolRegistry:
// subtype-group filtering over a flat list of registered tools, plus
// the always-present builtin special tools whose schemas the catalogue
// needs even though their execution lives in dispatcher.executeOne.
// Grounded on internal/agent/tool_registry.go's ToolRegistry (a
// name-keyed map with subtype/group filtering) generalized from the
// teacher's single flat allow-list to spec.md §4.4's per-subtype group
// membership via internal/subtypes.Registry.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaykit/relay/internal/agent"
	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/internal/policy"
	"github.com/relaykit/relay/internal/subtypes"
	"github.com/relaykit/relay/pkg/models"
)

// execTool is the shape every teacher-style tool already implements
// (internal/tools/files, exec, websearch, system, ...): Name/
// Description/Schema plus an Execute returning the teacher's
// agent.ToolResult rather than the dispatcher's models.ToolResult.
type execTool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error)
}

// Registration pairs an execTool with the capability-gate metadata the
// tool itself doesn't carry.
type Registration struct {
	Tool     execTool
	Group    policy.Group
	Safety   policy.SafetyLevel
	Hidden   bool
	Excluded bool // MemoryExcluded, spec.md §4.5 step 5
}

// FuncExecutor adapts a (name -> execute) map that doesn't implement
// execTool directly, e.g. memorytool.Executor's multi-name dispatch.
// Exported so composition roots outside this package (cmd/relay) can
// register families like memorytool.Executor.
type FuncExecutor interface {
	Handles(name string) bool
	Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error)
}

// Registry implements dispatcher.ToolRegistry over a static set of
// registrations plus any number of FuncExecutor families.
type Registry struct {
	Subtypes *subtypes.Registry
	Tools    []Registration
	Families []FuncExecutor

	// FamilyDefinitions lists each family's catalogue entries, since a
	// funcExecutor (unlike execTool) has no Name/Description/Schema to
	// introspect — e.g. memorytool.Definitions().
	FamilyDefinitions []dispatcher.ToolDefinition

	defsByGroup map[policy.Group][]dispatcher.ToolDefinition
	byName      map[string]execTool
}

// Build indexes the registered tools by group and name. Call once after
// populating Tools/Families/FamilyDefinitions.
func (r *Registry) Build() {
	r.defsByGroup = make(map[policy.Group][]dispatcher.ToolDefinition)
	r.byName = make(map[string]execTool, len(r.Tools))
	for _, reg := range r.Tools {
		def := dispatcher.ToolDefinition{
			Name:           reg.Tool.Name(),
			Description:    reg.Tool.Description(),
			Schema:         reg.Tool.Schema(),
			Group:          reg.Group,
			Safety:         reg.Safety,
			Hidden:         reg.Hidden,
			MemoryExcluded: reg.Excluded,
		}
		r.defsByGroup[reg.Group] = append(r.defsByGroup[reg.Group], def)
		r.byName[reg.Tool.Name()] = reg.Tool
	}
	for _, def := range r.FamilyDefinitions {
		r.defsByGroup[def.Group] = append(r.defsByGroup[def.Group], def)
	}
}

// DefinitionsForSubtype implements dispatcher.ToolRegistry: only tools
// whose Group is in the subtype's AllowedToolGroups survive, spec.md
// §4.4 step 1.
func (r *Registry) DefinitionsForSubtype(subtypeKey string) []dispatcher.ToolDefinition {
	allowed := r.Subtypes.AllowedToolGroups(subtypeKey)
	allowedSet := make(map[policy.Group]bool, len(allowed))
	for _, g := range allowed {
		allowedSet[g] = true
	}
	var out []dispatcher.ToolDefinition
	for g, defs := range r.defsByGroup {
		if !allowedSet[g] {
			continue
		}
		out = append(out, defs...)
	}
	return out
}

// Execute runs a tool by name, trying direct registrations first and
// then each tool family in order.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error) {
	if t, ok := r.byName[name]; ok {
		res, err := t.Execute(ctx, input)
		if err != nil {
			return nil, err
		}
		return &models.ToolResult{Content: res.Content, IsError: res.IsError}, nil
	}
	for _, fam := range r.Families {
		if fam.Handles(name) {
			return fam.Execute(ctx, name, input)
		}
	}
	return nil, fmt.Errorf("toolkit: unknown tool %q", name)
}
