// Package payments exposes the x402 payment core to the tool loop as a
// single "pay" tool: POST a URL, and if the server answers HTTP 402,
// sign and retry the handshake exactly once per spec.md §4.11's
// "the payment tool retries the 402 handshake exactly once; failure is
// surfaced" rule. Grounded on internal/tools/files' execTool shape.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaykit/relay/internal/agent"
	"github.com/relaykit/relay/internal/config"
	"github.com/relaykit/relay/internal/ratelimit"
	"github.com/relaykit/relay/internal/x402"
)

// Config controls the payment tool's signer and network defaults.
type Config struct {
	SignerPrivateKeyHex string
	DefaultNetwork      string
	MaxRetries          int
	Timeout             time.Duration
	RateLimit           ratelimit.Config
}

// ConfigFromPayments adapts config.PaymentsConfig to this tool's Config.
func ConfigFromPayments(cfg config.PaymentsConfig) Config {
	timeout := cfg.Facilitator.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rateLimit := ratelimit.DefaultConfig()
	if cfg.RateLimit.RequestsPerSecond > 0 {
		rateLimit.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
	}
	if cfg.RateLimit.BurstSize > 0 {
		rateLimit.BurstSize = cfg.RateLimit.BurstSize
	}
	rateLimit.Enabled = cfg.RateLimit.Enabled
	return Config{
		SignerPrivateKeyHex: cfg.SignerPrivateKeyHex,
		DefaultNetwork:      cfg.DefaultNetwork,
		MaxRetries:          cfg.MaxRetries,
		Timeout:             timeout,
		RateLimit:           rateLimit,
	}
}

// PayTool drives a single x402-gated HTTP POST to completion.
type PayTool struct {
	cfg     Config
	client  *x402.Client
	limiter *ratelimit.Limiter
}

// NewPayTool builds a payment tool. Returns an error if no signer key is
// configured, since a tool that can never sign is a misconfiguration,
// not a degraded mode.
func NewPayTool(cfg Config) (*PayTool, error) {
	if strings.TrimSpace(cfg.SignerPrivateKeyHex) == "" {
		return nil, fmt.Errorf("payments: signer_private_key_hex (or RELAY_PAYMENT_SIGNER_KEY) is required")
	}
	signer := x402.PrivateKeySigner{PrivateKeyHex: cfg.SignerPrivateKeyHex}
	return &PayTool{
		cfg: cfg,
		client: &x402.Client{
			HTTP:             &http.Client{Timeout: cfg.Timeout},
			Signer:           signer,
			PreferredNetwork: cfg.DefaultNetwork,
			MaxRetries:       cfg.MaxRetries,
		},
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
	}, nil
}

func (t *PayTool) Name() string { return "pay" }

func (t *PayTool) Description() string {
	return "POST to a URL that may require x402 on-chain payment. On HTTP 402, signs the requested authorization and retries once, returning the resulting payment record."
}

func (t *PayTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to POST to.",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Request body to send (optional).",
			},
			"chain_id": map[string]interface{}{
				"type":        "integer",
				"description": "EVM chain id to sign the payment authorization for.",
			},
			"network": map[string]interface{}{
				"type":        "string",
				"description": "Preferred network name if the 402 response offers more than one (default: configured default network).",
			},
		},
		"required": []string{"url", "chain_id"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute performs the request and, if a payment handshake was
// triggered, reports the resulting PaymentRecord. A plain 2xx response
// with no 402 round trip returns the response body only; the caller can
// tell the two apart via the "payment" field's presence.
func (t *PayTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		URL     string `json:"url"`
		Body    string `json:"body"`
		ChainID int64  `json:"chain_id"`
		Network string `json:"network"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.URL) == "" {
		return toolError("url is required"), nil
	}
	if input.ChainID == 0 {
		return toolError("chain_id is required"), nil
	}

	parsed, err := url.Parse(input.URL)
	if err != nil || parsed.Host == "" {
		return toolError("url must be an absolute URL"), nil
	}
	rateKey := ratelimit.CompositeKey("pay", parsed.Host)
	if !t.limiter.Allow(rateKey) {
		return toolError(fmt.Sprintf("rate limit exceeded for %s, retry in %s", parsed.Host, t.limiter.WaitTime(rateKey))), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, input.URL, bytes.NewBufferString(input.Body))
	if err != nil {
		return toolError(fmt.Sprintf("build request: %v", err)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	cloned := *t.client
	cloned.ChainID = input.ChainID
	if input.Network != "" {
		cloned.PreferredNetwork = input.Network
	}

	resp, record, err := cloned.Do(req)
	if err != nil {
		if record != nil {
			payload, _ := json.MarshalIndent(map[string]interface{}{"payment": record, "error": err.Error()}, "", "  ")
			return &agent.ToolResult{Content: string(payload), IsError: true}, nil
		}
		return toolError(fmt.Sprintf("payment request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	out := map[string]interface{}{
		"status_code": resp.StatusCode,
	}
	if record != nil {
		out["payment"] = record
	}
	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	isError := record != nil && record.Status == x402.StatusFailed
	return &agent.ToolResult{Content: string(payload), IsError: isError}, nil
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
