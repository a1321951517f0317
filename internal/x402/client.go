package x402

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/relaykit/relay/internal/retry"
)

// Signer supplies the payer's address and signs payment authorizations.
// internal/x402's own sign.go (BuildAndSign/SignerAddress) is the only
// implementation today; it's expressed as an interface so a future
// hardware-wallet or remote-KMS signer can stand in without touching Do.
type Signer interface {
	Address() (string, error)
	Sign(req PaymentRequirements, chainID int64, payerAddr string, now time.Time) (*Payload, error)
}

// PrivateKeySigner is the Signer backed by a raw hex-encoded ECDSA key.
type PrivateKeySigner struct {
	PrivateKeyHex string
}

func (s PrivateKeySigner) Address() (string, error) { return SignerAddress(s.PrivateKeyHex) }

func (s PrivateKeySigner) Sign(req PaymentRequirements, chainID int64, payerAddr string, now time.Time) (*Payload, error) {
	return BuildAndSign(req, chainID, s.PrivateKeyHex, payerAddr, now)
}

// Client retries an HTTP 402 response with a signed X-PAYMENT header,
// per spec.md §4.11 steps 1, 4 and 5.
type Client struct {
	HTTP             *http.Client
	Signer           Signer
	ChainID          int64
	PreferredNetwork string
	Now              func() time.Time

	// MaxRetries bounds transient-failure retries (network errors, 5xx) on
	// each leg of the exchange, independent of the payment-retry-after-402
	// step below, which is protocol-inherent and always attempted exactly
	// once. Zero means no retry wrapper is applied. Populated from
	// config.PaymentsConfig.MaxRetries.
	MaxRetries int
}

// doWithRetry wraps httpClient.Do with internal/retry's exponential backoff,
// retrying only transport-level errors and 5xx responses; 4xx (including
// the 402 this package exists to handle) is returned immediately since it
// is this package's job to interpret, not retry.Do's. bodyBytes is the
// already-buffered request body (from drainBody), re-attached before every
// attempt since a consumed io.Reader can't be replayed by a bare retry.
func doWithRetry(ctx context.Context, httpClient *http.Client, req *http.Request, bodyBytes []byte, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		return httpClient.Do(req)
	}
	cfg := retry.Exponential(maxRetries, 200*time.Millisecond, 5*time.Second)
	resp, result := retry.DoWithValue(ctx, cfg, func() (*http.Response, error) {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("x402: transient upstream error (%d): %s", resp.StatusCode, string(body))
		}
		return resp, nil
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return resp, nil
}

// Do issues req. If the response is a plain 2xx it is returned as-is. If
// it is an HTTP 402, Do decodes the PaymentRequirements, picks the
// caller's preferred network (else the first requirement), signs an
// authorization, retries the identical request once with an X-PAYMENT
// header attached, and returns the retried response alongside the
// PaymentRecord it minted (or a failed one, on a non-2xx retry).
func (c *Client) Do(req *http.Request) (*http.Response, *PaymentRecord, error) {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	bodyBytes, err := drainBody(req)
	if err != nil {
		return nil, nil, fmt.Errorf("x402: buffering request body: %w", err)
	}

	resp, err := doWithRetry(req.Context(), httpClient, req, bodyBytes, c.MaxRetries)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil, nil
	}
	defer resp.Body.Close()

	required, err := decodePaymentRequired(resp)
	if err != nil {
		return nil, nil, err
	}
	if len(required.Requirements) == 0 {
		return nil, nil, fmt.Errorf("x402: 402 response named no payment requirements")
	}

	chosen := required.Requirements[0]
	if c.PreferredNetwork != "" {
		for _, r := range required.Requirements {
			if r.Network == c.PreferredNetwork {
				chosen = r
				break
			}
		}
	}

	payerAddr, err := c.Signer.Address()
	if err != nil {
		return nil, nil, fmt.Errorf("x402: resolving payer address: %w", err)
	}
	payload, err := c.Signer.Sign(chosen, c.ChainID, payerAddr, now())
	if err != nil {
		return nil, nil, fmt.Errorf("x402: signing payment: %w", err)
	}

	headerValue, err := encodePayload(payload)
	if err != nil {
		return nil, nil, err
	}

	paidReq := req.Clone(req.Context())
	paidReq.Header.Set("X-PAYMENT", headerValue)

	retryResp, err := doWithRetry(req.Context(), httpClient, paidReq, bodyBytes, c.MaxRetries)
	if err != nil {
		return nil, nil, err
	}

	record := &PaymentRecord{
		Amount:          amountOf(payload),
		AmountFormatted: formatAmount(amountOf(payload), chosen.Extra),
		Asset:           chosen.Asset,
		PayTo:           chosen.PayTo,
		Network:         chosen.Network,
		Timestamp:       now(),
	}
	if retryResp.StatusCode >= 200 && retryResp.StatusCode < 300 {
		record.Status = StatusConfirmed
		return retryResp, record, nil
	}

	failBody, _ := io.ReadAll(retryResp.Body)
	retryResp.Body.Close()
	record.Status = StatusFailed
	record.Error = string(failBody)
	return retryResp, record, fmt.Errorf("x402: payment rejected (%d): %s", retryResp.StatusCode, string(failBody))
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(b))
	req.ContentLength = int64(len(b))
	return b, nil
}

func decodePaymentRequired(resp *http.Response) (*PaymentRequiredBody, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("x402: reading 402 body: %w", err)
	}

	var body PaymentRequiredBody
	if json.Unmarshal(raw, &body) == nil && len(body.Requirements) > 0 {
		return &body, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("x402: 402 body is neither JSON nor base64: %w", err)
	}
	if err := json.Unmarshal(decoded, &body); err != nil {
		return nil, fmt.Errorf("x402: decoding payment requirements: %w", err)
	}
	return &body, nil
}

func encodePayload(payload *Payload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("x402: encoding payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func amountOf(payload *Payload) string {
	if payload.Exact != nil {
		return payload.Exact.Value
	}
	if payload.Permit != nil {
		return payload.Permit.Value
	}
	return "0"
}

func formatAmount(raw string, extra *TokenExtra) string {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || extra == nil || extra.Decimals <= 0 {
		return raw
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(extra.Decimals)), nil)
	whole := new(big.Int)
	rem := new(big.Int)
	whole.QuoRem(value, divisor, rem)
	if rem.Sign() == 0 {
		return whole.String()
	}
	fraction := rem.String()
	for len(fraction) < extra.Decimals {
		fraction = "0" + fraction
	}
	for len(fraction) > 0 && fraction[len(fraction)-1] == '0' {
		fraction = fraction[:len(fraction)-1]
	}
	if fraction == "" {
		return whole.String()
	}
	return whole.String() + "." + fraction
}
