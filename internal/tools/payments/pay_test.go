package payments

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaykit/relay/internal/ratelimit"
	"github.com/relaykit/relay/internal/x402"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewPayTool_RequiresSignerKey(t *testing.T) {
	if _, err := NewPayTool(Config{}); err == nil {
		t.Fatal("expected error for missing signer key")
	}
}

func TestPayTool_ExecuteSettlesPayment(t *testing.T) {
	const payTo = "0x00000000000000000000000000000000000Fac1"
	const asset = "0x0000000000000000000000000000000000A55e7"

	requirement := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           "base",
		MaxAmountRequired: "1000",
		PayTo:             payTo,
		Asset:             asset,
		Extra:             &x402.TokenExtra{Name: "USD Coin", Version: "2", Decimals: 6},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-PAYMENT") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			required := x402.PaymentRequiredBody{X402Version: 1, Requirements: []x402.PaymentRequirements{requirement}}
			raw, _ := json.Marshal(required)
			w.Write([]byte(base64.StdEncoding.EncodeToString(raw)))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tool, err := NewPayTool(Config{SignerPrivateKeyHex: testPrivateKey, DefaultNetwork: "base"})
	if err != nil {
		t.Fatalf("NewPayTool: %v", err)
	}

	params, _ := json.Marshal(map[string]interface{}{
		"url":      server.URL,
		"chain_id": 8453,
	})

	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %s", result.Content)
	}

	var out struct {
		Payment x402.PaymentRecord `json:"payment"`
	}
	if err := json.Unmarshal([]byte(result.Content), &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Payment.Status != x402.StatusConfirmed {
		t.Errorf("status = %q, want confirmed", out.Payment.Status)
	}
	if out.Payment.Amount != "1000" {
		t.Errorf("amount = %q, want 1000", out.Payment.Amount)
	}
}

func TestPayTool_Execute_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tool, err := NewPayTool(Config{
		SignerPrivateKeyHex: testPrivateKey,
		RateLimit:           ratelimit.Config{Enabled: true, RequestsPerSecond: 1, BurstSize: 1},
	})
	if err != nil {
		t.Fatalf("NewPayTool: %v", err)
	}

	params, _ := json.Marshal(map[string]interface{}{
		"url":      server.URL,
		"chain_id": 8453,
	})

	first, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first.IsError {
		t.Fatalf("expected first call to succeed, got: %s", first.Content)
	}

	second, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !second.IsError {
		t.Fatal("expected second call to the same host to be rate limited")
	}
}

func TestPayTool_Execute_MissingURL(t *testing.T) {
	tool, err := NewPayTool(Config{SignerPrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("NewPayTool: %v", err)
	}
	params, _ := json.Marshal(map[string]interface{}{"chain_id": 8453})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for missing url")
	}
}
