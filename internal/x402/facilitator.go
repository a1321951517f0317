package x402

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// VerifyResult is the facilitator's (valid, payer_address, error)
// tuple, spec.md §4.11's final paragraph.
type VerifyResult struct {
	Valid   bool
	Payer   string
	Err     error
}

// freshnessWindow bounds how far in the past/future validBefore/deadline
// may sit relative to now, rejecting stale or implausible signatures.
const freshnessWindow = 30 * time.Minute

// Verify mirrors the client-side signing logic server-side: decode the
// X-PAYMENT payload, rebuild the same EIP-712 typed data, recover the
// signer, and check amount/asset/network/freshness against the
// requirement the facilitator itself quoted.
func Verify(payload *Payload, req PaymentRequirements, chainID int64, now time.Time) VerifyResult {
	if payload == nil {
		return VerifyResult{Err: fmt.Errorf("x402: nil payment payload")}
	}
	if payload.Scheme != req.Scheme {
		return VerifyResult{Err: fmt.Errorf("x402: scheme mismatch: got %q want %q", payload.Scheme, req.Scheme)}
	}
	if payload.Network != req.Network {
		return VerifyResult{Err: fmt.Errorf("x402: network mismatch: got %q want %q", payload.Network, req.Network)}
	}

	switch payload.Scheme {
	case SchemeExact:
		return verifyExact(payload, req, chainID, now)
	case SchemePermit:
		return verifyPermit(payload, req, chainID, now)
	default:
		return VerifyResult{Err: fmt.Errorf("x402: unsupported scheme %q", payload.Scheme)}
	}
}

func verifyExact(payload *Payload, req PaymentRequirements, chainID int64, now time.Time) VerifyResult {
	auth := payload.Exact
	if auth == nil {
		return VerifyResult{Err: fmt.Errorf("x402: missing exact authorization")}
	}
	if !strings.EqualFold(auth.To, req.PayTo) {
		return VerifyResult{Err: fmt.Errorf("x402: payTo mismatch")}
	}
	if amountLess(auth.Value, req.MaxAmountRequired) {
		return VerifyResult{Err: fmt.Errorf("x402: amount %s below required %s", auth.Value, req.MaxAmountRequired)}
	}
	if err := checkFreshness(auth.ValidAfter, auth.ValidBefore, now); err != nil {
		return VerifyResult{Err: err}
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return VerifyResult{Err: fmt.Errorf("x402: invalid value %q", auth.Value)}
	}
	td := apitypes.TypedData{
		Types:       eip3009Types,
		PrimaryType: "TransferWithAuthorization",
		Domain:      domain(req, chainID),
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       value.String(),
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}

	payer, err := recoverSigner(td, payload.Signature)
	if err != nil {
		return VerifyResult{Err: err}
	}
	if !strings.EqualFold(payer, auth.From) {
		return VerifyResult{Err: fmt.Errorf("x402: signature does not match authorization.from")}
	}
	return VerifyResult{Valid: true, Payer: payer}
}

func verifyPermit(payload *Payload, req PaymentRequirements, chainID int64, now time.Time) VerifyResult {
	auth := payload.Permit
	if auth == nil {
		return VerifyResult{Err: fmt.Errorf("x402: missing permit authorization")}
	}
	if !strings.EqualFold(auth.Spender, req.PayTo) {
		return VerifyResult{Err: fmt.Errorf("x402: spender mismatch")}
	}
	if amountLess(auth.Value, req.MaxAmountRequired) {
		return VerifyResult{Err: fmt.Errorf("x402: amount %s below required %s", auth.Value, req.MaxAmountRequired)}
	}
	deadline, err := strconv.ParseInt(auth.Deadline, 10, 64)
	if err != nil || time.Unix(deadline, 0).Before(now) {
		return VerifyResult{Err: fmt.Errorf("x402: permit expired or invalid deadline")}
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return VerifyResult{Err: fmt.Errorf("x402: invalid value %q", auth.Value)}
	}
	td := apitypes.TypedData{
		Types:       eip2612Types,
		PrimaryType: "Permit",
		Domain:      domain(req, chainID),
		Message: apitypes.TypedDataMessage{
			"owner":    auth.Owner,
			"spender":  auth.Spender,
			"value":    value.String(),
			"nonce":    auth.Nonce,
			"deadline": auth.Deadline,
		},
	}

	payer, err := recoverSigner(td, payload.Signature)
	if err != nil {
		return VerifyResult{Err: err}
	}
	if !strings.EqualFold(payer, auth.Owner) {
		return VerifyResult{Err: fmt.Errorf("x402: signature does not match authorization.owner")}
	}
	return VerifyResult{Valid: true, Payer: payer}
}

func recoverSigner(td apitypes.TypedData, sigHex string) (string, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return "", fmt.Errorf("x402: hashing typed data: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return "", fmt.Errorf("x402: malformed signature")
	}
	normalized := append([]byte{}, sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return "", fmt.Errorf("x402: recovering signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func checkFreshness(validAfter, validBefore string, now time.Time) error {
	before, err := strconv.ParseInt(validBefore, 10, 64)
	if err != nil {
		return fmt.Errorf("x402: invalid validBefore")
	}
	if time.Unix(before, 0).Before(now) {
		return fmt.Errorf("x402: authorization expired")
	}
	if time.Unix(before, 0).After(now.Add(freshnessWindow)) {
		return fmt.Errorf("x402: authorization window too far in the future")
	}
	if validAfter != "" {
		after, err := strconv.ParseInt(validAfter, 10, 64)
		if err == nil && time.Unix(after, 0).After(now) {
			return fmt.Errorf("x402: authorization not yet valid")
		}
	}
	return nil
}

func amountLess(got, required string) bool {
	g, ok1 := new(big.Int).SetString(got, 10)
	r, ok2 := new(big.Int).SetString(required, 10)
	if !ok1 || !ok2 {
		return true
	}
	return g.Cmp(r) < 0
}

var _ = math.NewHexOrDecimal256
