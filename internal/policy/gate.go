// Package policy implements the capability/safety gate that decides
// whether a tool may run in a given dispatch context.
package policy

import (
	"strings"

	toolpolicy "github.com/relaykit/relay/internal/tools/policy"
)

// Group classifies a tool for profile-based admission.
type Group string

const (
	GroupWeb        Group = "web"
	GroupFilesystem Group = "filesystem"
	GroupExec       Group = "exec"
	GroupMessaging  Group = "messaging"
	GroupSystem     Group = "system"
	GroupFinance    Group = "finance"
	GroupMemory     Group = "memory"
	GroupDevelopment Group = "development"
)

// Profile is a coarse capability tier. Custom profiles are resolved via
// AllowedGroups instead of the implicit per-profile group set.
type Profile string

const (
	ProfileNone      Profile = "none"
	ProfileMinimal   Profile = "minimal"
	ProfileStandard  Profile = "standard"
	ProfileMessaging Profile = "messaging"
	ProfileFull      Profile = "full"
	ProfileCustom    Profile = "custom"
)

// implicitGroups returns the group set a profile grants without an
// explicit Custom allow-list, per spec.md 4.1's None/Minimal/Standard/
// Messaging/Full definitions.
func implicitGroups(p Profile) map[Group]bool {
	switch p {
	case ProfileMinimal:
		return map[Group]bool{GroupWeb: true}
	case ProfileStandard:
		return map[Group]bool{GroupWeb: true, GroupFilesystem: true, GroupExec: true}
	case ProfileMessaging:
		return map[Group]bool{GroupWeb: true, GroupFilesystem: true, GroupExec: true, GroupMessaging: true}
	case ProfileFull:
		return nil // nil means "all groups", checked specially
	default:
		return map[Group]bool{}
	}
}

// ToolConfig is the capability gate's input: a profile plus explicit
// allow/deny lists and denied groups. AllowedGroups only applies when
// Profile == ProfileCustom.
type ToolConfig struct {
	Profile       Profile
	Allow         []string
	Deny          []string
	DeniedGroups  []Group
	AllowedGroups []Group // only consulted when Profile == ProfileCustom

	// RoleGrants explicitly whitelists tools/skills regardless of profile,
	// used by the safe-mode overlay to punch narrow holes.
	RoleGrants []string
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}

func containsGroup(list []Group, g Group) bool {
	for _, v := range list {
		if v == g {
			return true
		}
	}
	return false
}

// Decide implements the 4-step decision order from spec.md 4.1:
//  1. deny-list wins
//  2. allow-list wins
//  3. denied-groups wins
//  4. profile's implicit/custom group set decides
func (c ToolConfig) Decide(toolName string, group Group) bool {
	if contains(c.Deny, toolName) {
		return false
	}
	if contains(c.Allow, toolName) || contains(c.RoleGrants, toolName) {
		return true
	}
	if containsGroup(c.DeniedGroups, group) {
		return false
	}
	if c.Profile == ProfileCustom {
		return containsGroup(c.AllowedGroups, group)
	}
	groups := implicitGroups(c.Profile)
	if groups == nil {
		return true // ProfileFull
	}
	return groups[group]
}

// SafetyLevel classifies how sensitive a tool is. Tools without
// SafetyLevelSafeMode are removed entirely from the candidate set once
// safe mode is engaged, independent of the allow-list.
type SafetyLevel string

const (
	SafetyStandard SafetyLevel = "standard"
	SafetySafeMode SafetyLevel = "safe_mode"
)

// ToolDescriptor is the minimal shape the gate needs to know about a tool.
type ToolDescriptor struct {
	Name   string
	Group  Group
	Safety SafetyLevel
}

// SafeModeOverlay narrows a ToolConfig into a safe-mode variant, pre-
// restricted to a safe profile and optionally punched through by role
// grants that explicitly whitelist tools/skills. Constructed once at the
// start of dispatch per spec.md 4.1/4.9's "pre-filter, not sprinkled ifs"
// design note.
func SafeModeOverlay(base ToolConfig, roleGrants []string) ToolConfig {
	safe := base
	safe.Profile = ProfileMinimal
	safe.AllowedGroups = nil
	safe.RoleGrants = append(append([]string{}, base.RoleGrants...), roleGrants...)
	return safe
}

// FilterCandidates removes tools the gate denies, and — when safeMode is
// true — additionally removes any tool whose safety level is not
// SafetySafeMode regardless of the allow-list outcome.
func FilterCandidates(cfg ToolConfig, safeMode bool, candidates []ToolDescriptor) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(candidates))
	for _, t := range candidates {
		if safeMode && t.Safety != SafetySafeMode {
			continue
		}
		if !cfg.Decide(t.Name, t.Group) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FromLegacyPolicy adapts the existing internal/tools/policy.Policy shape
// (used by the generic tool registry) into a capability-gate ToolConfig,
// so callers configuring tools the teacher's way still flow through the
// spec's exact decision order.
func FromLegacyPolicy(p toolpolicy.Policy) ToolConfig {
	var profile Profile
	switch p.Profile {
	case toolpolicy.ProfileMinimal:
		profile = ProfileMinimal
	case toolpolicy.ProfileCoding:
		profile = ProfileStandard
	case toolpolicy.ProfileMessaging:
		profile = ProfileMessaging
	case toolpolicy.ProfileFull:
		profile = ProfileFull
	default:
		profile = ProfileCustom
	}
	return ToolConfig{
		Profile: profile,
		Allow:   toolpolicy.NormalizeTools(p.Allow),
		Deny:    toolpolicy.NormalizeTools(p.Deny),
	}
}
