// Package llm adapts the teacher's streaming internal/agent.LLMProvider
// implementations (Anthropic, OpenAI, and whatever else
// internal/agent/providers registers) into the dispatcher's
// non-streaming LLMAdapter contract: spec.md §6 treats a completion as
// one request/response pair, so this package drains a provider's
// CompletionChunk stream into a single accumulated CompletionResponse
// rather than exposing streaming to the loop.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/relaykit/relay/internal/agent"
	"github.com/relaykit/relay/internal/backoff"
	"github.com/relaykit/relay/internal/dispatcher"
)

// Adapter wraps a single agent.LLMProvider (and the model string to
// request) to satisfy dispatcher.LLMAdapter.
type Adapter struct {
	Provider agent.LLMProvider
	Model    string

	// MaxRetries bounds transient-failure retries around a single
	// Complete call (timeouts, connection resets, provider 5xx), separate
	// from dispatcher-level cross-provider fallback. Zero or one attempt
	// disables the retry wrapper. Populated from config.LLMConfig.MaxRetries.
	MaxRetries int
}

var _ dispatcher.LLMAdapter = (*Adapter)(nil)

func (a *Adapter) Complete(ctx context.Context, req *dispatcher.CompletionRequest) (*dispatcher.CompletionResponse, error) {
	if a.MaxRetries <= 1 {
		return a.completeOnce(ctx, req)
	}
	result, err := backoff.RetryFunc(ctx, a.MaxRetries, func(attempt int) (*dispatcher.CompletionResponse, error) {
		return a.completeOnce(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("llm: completion failed after retries: %w", err)
	}
	return result, nil
}

func (a *Adapter) completeOnce(ctx context.Context, req *dispatcher.CompletionRequest) (*dispatcher.CompletionResponse, error) {
	chunks, err := a.Provider.Complete(ctx, &agent.CompletionRequest{
		Model:    a.Model,
		System:   req.System,
		Messages: toProviderMessages(req.Messages),
		Tools:    toProviderTools(req.Tools),
	})
	if err != nil {
		return nil, err
	}

	var resp dispatcher.CompletionResponse
	var textBuf []byte
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			textBuf = append(textBuf, chunk.Text...)
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}
	resp.Text = string(textBuf)
	return &resp, nil
}

func toProviderMessages(turns []dispatcher.Turn) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, agent.CompletionMessage{
			Role:        t.Role,
			Content:     t.Content,
			ToolCalls:   t.ToolCalls,
			ToolResults: t.ToolResults,
		})
	}
	return out
}

func toProviderTools(defs []dispatcher.ToolDefinition) []agent.Tool {
	out := make([]agent.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, schemaTool{def: d})
	}
	return out
}

// schemaTool adapts a dispatcher.ToolDefinition into agent.Tool purely
// for schema advertisement. Execute is never called: the dispatcher
// executes tool calls itself via ToolRegistry/executeOne, never through
// the provider's own tool-calling loop.
type schemaTool struct {
	def dispatcher.ToolDefinition
}

func (s schemaTool) Name() string                      { return s.def.Name }
func (s schemaTool) Description() string               { return s.def.Description }
func (s schemaTool) Schema() json.RawMessage           { return s.def.Schema }
func (s schemaTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	return nil, fmt.Errorf("llm: schemaTool %q is schema-only and must not be executed directly", s.def.Name)
}
