package dispatcher

import (
	"context"

	"github.com/relaykit/relay/internal/orchestrator"
	"github.com/relaykit/relay/internal/policy"
)

// catalogueInput bundles every immutable input ComposeCatalogue needs, so
// composition stays a pure function over its arguments — spec.md §9's
// "Dynamic tool catalogues" design note rules out stateful patching of a
// shared registry.
type catalogueInput struct {
	base           []ToolDefinition // from ToolRegistry.DefinitionsForSubtype
	activeSkill    *orchestrator.ActiveSkill
	enabledSkills  []*Skill // for use_skill enum synthesis
	modeTools      []orchestrator.ToolDefinition
	subtypeTools   []string // subtype's AdditionalTools
	subtypeSet     bool     // a subtype other than director has been selected
	safeMode       bool
	roleGrants     []string // explicitly granted tool/skill names in safe mode
	toolConfig     policy.ToolConfig
}

// ComposeCatalogue implements spec.md §4.4's six-step algorithm. Ordering
// is not part of the contract; the returned slice is unique by name.
func ComposeCatalogue(in catalogueInput) []ToolDefinition {
	byName := make(map[string]ToolDefinition, len(in.base))
	order := make([]string, 0, len(in.base))

	put := func(td ToolDefinition) {
		if _, exists := byName[td.Name]; !exists {
			order = append(order, td.Name)
		}
		byName[td.Name] = td
	}

	// Step 1: subtype-allowed, group-filtered base set.
	for _, td := range in.base {
		put(td)
	}

	// Step 2: force-include the active skill's requires_tools, even if
	// outside the subtype's groups. Safe mode still strips anything
	// whose safety level isn't SafeMode.
	if in.activeSkill != nil {
		for _, name := range in.activeSkill.RequiresTools {
			if td, ok := byName[name]; ok {
				put(td)
			}
		}
	}

	// Step 3: re-synthesize use_skill from the enabled skill set. In
	// safe mode, restrict to skills explicitly role-granted whose
	// requires_tools are all present in the candidate set so far.
	skillNames := make([]string, 0, len(in.enabledSkills))
	for _, s := range in.enabledSkills {
		if in.safeMode && !containsName(in.roleGrants, s.Name) {
			continue
		}
		if in.safeMode && !allToolsPresent(byName, s.RequiresTools) {
			continue
		}
		skillNames = append(skillNames, s.Name)
	}
	if len(skillNames) == 0 {
		delete(byName, ToolUseSkill)
		order = removeName(order, ToolUseSkill)
	} else if td, ok := byName[ToolUseSkill]; ok {
		td.SkillNameEnum = skillNames
		byName[ToolUseSkill] = td
	}

	// Step 4: extend with the orchestrator's per-turn synthetic tools.
	for _, mt := range in.modeTools {
		put(ToolDefinition{Name: mt.Name, Description: mt.Description, Schema: mt.Schema})
	}

	// Step 5: remove define_tasks unless the active skill or the
	// subtype's additional_tools require it.
	defineTasksAllowed := containsName(in.subtypeTools, ToolDefineTasks)
	if in.activeSkill != nil && containsName(in.activeSkill.RequiresTools, ToolDefineTasks) {
		defineTasksAllowed = true
	}
	if !defineTasksAllowed {
		delete(byName, ToolDefineTasks)
		order = removeName(order, ToolDefineTasks)
	}

	// Step 6: once a subtype is selected, remove set_agent_subtype to
	// prevent re-selection loops.
	if in.subtypeSet {
		delete(byName, ToolSetAgentSubtype)
		order = removeName(order, ToolSetAgentSubtype)
	}

	// Capability gate + safe-mode safety-level filter apply last, over
	// whatever survived composition.
	out := make([]ToolDefinition, 0, len(order))
	for _, name := range order {
		td, ok := byName[name]
		if !ok {
			continue
		}
		if in.safeMode && td.Safety != policy.SafetySafeMode {
			continue
		}
		if !in.toolConfig.Decide(td.Name, td.Group) {
			continue
		}
		out = append(out, td)
	}
	return out
}

func containsName(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}

func allToolsPresent(byName map[string]ToolDefinition, names []string) bool {
	for _, n := range names {
		if _, ok := byName[n]; !ok {
			return false
		}
	}
	return true
}

func removeName(order []string, target string) []string {
	out := order[:0:0]
	for _, n := range order {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// BuildCatalogue is the dispatcher-facing entry point: it pulls the base
// set from the registry and the enabled skills from the store, then
// delegates to the pure ComposeCatalogue.
func BuildCatalogue(ctx context.Context, reg ToolRegistry, skills SkillStore, octx *orchestrator.Context, subtypeKey string, subtypeTools []string, safeMode bool, roleGrants []string, toolConfig policy.ToolConfig) ([]ToolDefinition, error) {
	base := reg.DefinitionsForSubtype(subtypeKey)

	var enabled []*Skill
	if skills != nil {
		var err error
		enabled, err = skills.ListEnabled(ctx)
		if err != nil {
			return nil, Upstream(err)
		}
	}

	in := catalogueInput{
		base:          base,
		activeSkill:   octx.ActiveSkill(),
		enabledSkills: enabled,
		modeTools:     octx.GetModeTools(),
		subtypeTools:  subtypeTools,
		subtypeSet:    subtypeKey != "",
		safeMode:      safeMode,
		roleGrants:    roleGrants,
		toolConfig:    toolConfig,
	}
	return ComposeCatalogue(in), nil
}
