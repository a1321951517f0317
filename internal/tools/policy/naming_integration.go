// Package policy provides tool authorization and access control.
// This file tracks trust levels for externally-sourced tools (MCP servers,
// remote tool providers) so the approval workflow in approval.go can decide
// whether a call needs a human in the loop.
package policy

import (
	"strings"
	"sync"
)

// ToolRegistry tracks trust levels for tools registered from external
// providers. A nil *ToolRegistry is valid and treats every tool as
// TrustUntrusted.
type ToolRegistry struct {
	resolver *Resolver

	mu             sync.RWMutex
	edgeServers    map[string][]string // edgeID -> tool names
	edgeTrustLevel map[string]TrustLevel
}

// TrustLevel defines the trust level for an externally-sourced tool.
type TrustLevel string

const (
	// TrustUntrusted means tools require explicit approval for each use.
	TrustUntrusted TrustLevel = "untrusted"

	// TrustTOFU means trust-on-first-use; approved after first successful auth.
	TrustTOFU TrustLevel = "tofu"

	// TrustTrusted means tools are trusted and can be used without approval.
	TrustTrusted TrustLevel = "trusted"
)

// NewToolRegistry creates a new tool registry backed by the given resolver.
func NewToolRegistry(resolver *Resolver) *ToolRegistry {
	return &ToolRegistry{
		resolver:       resolver,
		edgeServers:    make(map[string][]string),
		edgeTrustLevel: make(map[string]TrustLevel),
	}
}

// RegisterEdgeServer registers all tools from an external provider with a trust level.
func (r *ToolRegistry) RegisterEdgeServer(edgeID string, tools []string, trust TrustLevel) {
	r.mu.Lock()
	r.edgeServers[edgeID] = tools
	r.edgeTrustLevel[edgeID] = trust
	r.mu.Unlock()

	if r.resolver != nil {
		r.resolver.AddGroup("edge:"+edgeID, tools)
	}
}

// UnregisterEdgeServer removes all tools registered for a provider.
func (r *ToolRegistry) UnregisterEdgeServer(edgeID string) {
	r.mu.Lock()
	delete(r.edgeServers, edgeID)
	delete(r.edgeTrustLevel, edgeID)
	r.mu.Unlock()
}

// GetEdgeTrustLevel returns the trust level for an external provider.
// Unknown providers default to TrustUntrusted.
func (r *ToolRegistry) GetEdgeTrustLevel(edgeID string) TrustLevel {
	if r == nil {
		return TrustUntrusted
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	level, ok := r.edgeTrustLevel[edgeID]
	if !ok {
		return TrustUntrusted
	}
	return level
}

// SetEdgeTrustLevel sets the trust level for an external provider.
func (r *ToolRegistry) SetEdgeTrustLevel(edgeID string, level TrustLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edgeTrustLevel[edgeID] = level
}

// IsEdgeTool returns true if the tool name refers to an externally-sourced tool.
func IsEdgeTool(toolName string) bool {
	normalized := strings.ToLower(strings.TrimSpace(toolName))
	return strings.HasPrefix(normalized, "edge:")
}

// ParseEdgeToolName extracts the provider ID and tool name from an edge tool reference.
func ParseEdgeToolName(toolName string) (edgeID, tool string) {
	normalized := strings.ToLower(strings.TrimSpace(toolName))

	if !strings.HasPrefix(normalized, "edge:") {
		return "", ""
	}

	trimmed := strings.TrimPrefix(normalized, "edge:")
	parts := strings.SplitN(trimmed, ".", 2)
	if len(parts) < 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
