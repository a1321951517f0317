// Package memorytool exposes the hybrid memory core's read/search/
// associate operations (spec.md §4.7) as dispatcher.ToolDefinition
// entries plus a dispatcher.ToolRegistry wrapper that executes them.
// Grounded on internal/tools/memorysearch and internal/tools/
// vectormemory's "thin tool wraps a backend capability, schema declared
// as a literal JSON string" shape, retargeted at internal/memory.Manager
// instead of a standalone embeddings HTTP client.
package memorytool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/internal/memory"
	"github.com/relaykit/relay/internal/policy"
	"github.com/relaykit/relay/pkg/models"
)

const (
	ToolMemoryRead      = "memory_read"
	ToolMemorySearch    = "memory_search"
	ToolMemoryAssociate = "memory_associate"
)

var memoryReadSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"id": {"type": "string", "description": "Memory entry ID to fetch"}
	},
	"required": ["id"]
}`)

var memorySearchSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Free-text search query"},
		"limit": {"type": "integer", "description": "Max results, default 10"}
	},
	"required": ["query"]
}`)

var memoryAssociateSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"source_id": {"type": "string"},
		"target_id": {"type": "string"},
		"type": {"type": "string", "description": "related|caused_by|contradicts|supersedes|part_of|references|temporal"}
	},
	"required": ["source_id", "target_id", "type"]
}`)

// Definitions returns the three memory tool declarations for catalogue
// composition. memory_search carries SafetySafeMode so it survives
// catalogue.go's safe-mode filter (spec.md §4.7 Scenario 4 dispatches it
// under force_safe_mode); HybridSearch itself enforces the identity
// restriction on results, so admitting it to the catalogue doesn't widen
// what it returns. memory_read enforces the same restriction per-row in
// read() and can therefore also run in safe mode. memory_associate writes
// a new edge with no identity scoping of its own, so it stays
// SafetyStandard and is excluded under safe mode per spec.md §4.3's
// default-deny posture.
func Definitions() []dispatcher.ToolDefinition {
	return []dispatcher.ToolDefinition{
		{
			Name:        ToolMemoryRead,
			Description: "Fetch a single memory entry by ID.",
			Schema:      memoryReadSchema,
			Group:       policy.GroupMemory,
			Safety:      policy.SafetySafeMode,
		},
		{
			Name:        ToolMemorySearch,
			Description: "Hybrid full-text + vector + graph search over memory.",
			Schema:      memorySearchSchema,
			Group:       policy.GroupMemory,
			Safety:      policy.SafetySafeMode,
		},
		{
			Name:        ToolMemoryAssociate,
			Description: "Link two memory entries with a typed association edge.",
			Schema:      memoryAssociateSchema,
			Group:       policy.GroupMemory,
			Safety:      policy.SafetyStandard,
		},
	}
}

// Executor dispatches the three memory tool names against a
// memory.Manager. It implements the single-tool-family slice of a
// larger dispatcher.ToolRegistry; a composite registry merges this
// with other tool families by name.
type Executor struct {
	Memory   *memory.Manager
	SafeMode bool
}

func (e *Executor) Handles(name string) bool {
	switch name {
	case ToolMemoryRead, ToolMemorySearch, ToolMemoryAssociate:
		return true
	default:
		return false
	}
}

func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error) {
	switch name {
	case ToolMemoryRead:
		return e.read(ctx, input)
	case ToolMemorySearch:
		return e.search(ctx, input)
	case ToolMemoryAssociate:
		return e.associate(ctx, input)
	default:
		return nil, fmt.Errorf("memorytool: unknown tool %q", name)
	}
}

func (e *Executor) read(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errResult(err), nil
	}
	entry, err := e.Memory.Get(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &models.ToolResult{Content: "memory not found: " + args.ID, IsError: true}, nil
	}
	if e.SafeMode && entry.Identity != models.SafeModeIdentity {
		return &models.ToolResult{Content: "Access denied: " + args.ID, IsError: true}, nil
	}
	b, _ := json.Marshal(entry)
	return &models.ToolResult{Content: string(b)}, nil
}

func (e *Executor) search(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errResult(err), nil
	}
	args.Limit = clampSearchLimit(args.Limit)
	resp, err := e.Memory.HybridSearch(ctx, &models.SearchRequest{Query: args.Query, Limit: args.Limit}, e.SafeMode)
	if err != nil {
		return nil, err
	}
	b, _ := json.Marshal(resp.Results)
	return &models.ToolResult{Content: string(b)}, nil
}

func (e *Executor) associate(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		SourceID string `json:"source_id"`
		TargetID string `json:"target_id"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errResult(err), nil
	}
	edge := &models.AssociationEdge{
		Source: args.SourceID,
		Target: args.TargetID,
		Type:   models.AssociationType(args.Type),
	}
	if err := e.Memory.Associate(ctx, edge); err != nil {
		return nil, err
	}
	return &models.ToolResult{Content: "associated"}, nil
}

// clampSearchLimit bounds a requested result count to [1, 50]: non-positive
// values default to 10, oversized values are capped at 50.
func clampSearchLimit(limit int) int {
	switch {
	case limit <= 0:
		return 10
	case limit > 50:
		return 50
	default:
		return limit
	}
}

func errResult(err error) *models.ToolResult {
	return &models.ToolResult{Content: "invalid input: " + err.Error(), IsError: true}
}
