package x402

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// eip3009Types / eip2612Types are the EIP-712 type definitions for the
// two authorization shapes spec.md §4.11 names.
var eip3009Types = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

var eip2612Types = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Permit": []apitypes.Type{
		{Name: "owner", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// randomNonce32 generates a random bytes32 nonce, hex-encoded with 0x prefix.
func randomNonce32() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("x402: generating nonce: %w", err)
	}
	return "0x" + fmt.Sprintf("%x", b), nil
}

// domain builds the EIP-712 domain for a requirement's token, per
// spec.md §4.11 step 3 ("name", "version", "chainId", token address).
func domain(req PaymentRequirements, chainID int64) apitypes.TypedDataDomain {
	name, version := "", ""
	if req.Extra != nil {
		name, version = req.Extra.Name, req.Extra.Version
	}
	return apitypes.TypedDataDomain{
		Name:              name,
		Version:           version,
		ChainId:           math.NewHexOrDecimal256(chainID),
		VerifyingContract: req.Asset,
	}
}

// BuildAndSign implements spec.md §4.11 steps 2-3: construct the
// authorization for the requirement's scheme, EIP-712-sign it with the
// given private key, and return the assembled Payload plus the raw
// signing address (for facilitator-side tests / logging).
func BuildAndSign(req PaymentRequirements, chainID int64, privHex, payerAddr string, now time.Time) (*Payload, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("x402: invalid private key: %w", err)
	}

	switch req.Scheme {
	case SchemeExact:
		return buildExact(req, chainID, priv, payerAddr, now)
	case SchemePermit:
		return buildPermit(req, chainID, priv, payerAddr, now)
	default:
		return nil, fmt.Errorf("x402: unsupported scheme %q", req.Scheme)
	}
}

func buildExact(req PaymentRequirements, chainID int64, priv *ecdsa.PrivateKey, payerAddr string, now time.Time) (*Payload, error) {
	nonce, err := randomNonce32()
	if err != nil {
		return nil, err
	}
	auth := ExactAuthorization{
		From:        payerAddr,
		To:          req.PayTo,
		Value:       req.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(now.Add(-1*time.Minute).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10),
		Nonce:       nonce,
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("x402: invalid value %q", auth.Value)
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

	sig, err := signTypedData(td, priv)
	if err != nil {
		return nil, err
	}

	return &Payload{
		X402Version: 1,
		Scheme:      SchemeExact,
		Network:     req.Network,
		Signature:   sig,
		Exact:       &auth,
	}, nil
}

func buildPermit(req PaymentRequirements, chainID int64, priv *ecdsa.PrivateKey, payerAddr string, now time.Time) (*Payload, error) {
	auth := PermitAuthorization{
		Owner:    payerAddr,
		Spender:  req.PayTo,
		Value:    req.MaxAmountRequired,
		Nonce:    "0",
		Deadline: strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10),
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("x402: invalid value %q", auth.Value)
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

	sig, err := signTypedData(td, priv)
	if err != nil {
		return nil, err
	}

	return &Payload{
		X402Version: 1,
		Scheme:      SchemePermit,
		Network:     req.Network,
		Signature:   sig,
		Permit:      &auth,
	}, nil
}

// signTypedData hashes the EIP-712 payload and produces a 65-byte
// r||s||v signature, hex-encoded with 0x prefix. v is normalized to
// {27,28} to match the convention most EVM verifiers (and
// ecrecover-compatible facilitators) expect.
func signTypedData(td apitypes.TypedData, priv *ecdsa.PrivateKey) (string, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return "", fmt.Errorf("x402: hashing typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, priv)
	if err != nil {
		return "", fmt.Errorf("x402: signing: %w", err)
	}
	if len(sig) == 65 && sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + fmt.Sprintf("%x", sig), nil
}

// SignerAddress derives the checksummed address for a hex-encoded
// private key, used by callers to fill in `from`/`owner`.
func SignerAddress(privHex string) (string, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("x402: invalid private key: %w", err)
	}
	return crypto.PubkeyToAddress(priv.PublicKey).Hex(), nil
}
