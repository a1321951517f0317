package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/internal/observability"
	"github.com/relaykit/relay/pkg/models"
)

// instrumentedLLM wraps a dispatcher.LLMAdapter with Prometheus request
// counters and latency histograms, so every orchestrator tool-loop
// iteration's LLM call shows up in internal/observability.Metrics the
// same way the teacher's gateway instruments its own LLM calls.
type instrumentedLLM struct {
	dispatcher.LLMAdapter
	metrics  *observability.Metrics
	provider string
	model    string
}

func (l *instrumentedLLM) Complete(ctx context.Context, req *dispatcher.CompletionRequest) (*dispatcher.CompletionResponse, error) {
	start := time.Now()
	resp, err := l.LLMAdapter.Complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	l.metrics.RecordLLMRequest(l.provider, l.model, status, time.Since(start).Seconds(), 0, 0)
	return resp, err
}

// instrumentedTools wraps a dispatcher.ToolRegistry with per-tool
// execution counters and latency histograms.
type instrumentedTools struct {
	dispatcher.ToolRegistry
	metrics *observability.Metrics
}

func (t *instrumentedTools) Execute(ctx context.Context, name string, input json.RawMessage) (*models.ToolResult, error) {
	start := time.Now()
	result, err := t.ToolRegistry.Execute(ctx, name, input)
	status := "ok"
	if err != nil {
		status = "error"
	} else if result != nil && result.IsError {
		status = "tool_error"
	}
	t.metrics.RecordToolExecution(name, status, time.Since(start).Seconds())
	return result, err
}
