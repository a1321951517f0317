// Package x402 implements the pure signing + HTTP 402 retry protocol
// described in spec.md §4.11: no EIP-712/secp256k1 signing library
// exists anywhere in the example pack, so github.com/ethereum/
// go-ethereum is pulled in as an explicitly out-of-pack dependency for
// ABI/typed-data hashing and ECDSA signing — named, not grounded, per
// DESIGN.md.
package x402

import "time"

// Scheme names the payment authorization shape a PaymentRequirements
// entry asks for.
type Scheme string

const (
	SchemeExact  Scheme = "exact"
	SchemePermit Scheme = "permit"
)

// TokenExtra carries the EIP-712 domain fields a token doesn't expose
// through RPC — decimals, name, version — which the facilitator must
// supply out of band.
type TokenExtra struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Decimals int    `json:"decimals"`
}

// PaymentRequirements is one entry of the 402 response's requirements
// list.
type PaymentRequirements struct {
	Scheme            Scheme      `json:"scheme"`
	Network           string      `json:"network"`
	MaxAmountRequired string      `json:"maxAmountRequired"`
	PayTo             string      `json:"payTo"`
	Asset             string      `json:"asset"`
	Extra             *TokenExtra `json:"extra,omitempty"`
}

// PaymentRequiredBody is the base64-decoded JSON body of an HTTP 402
// response.
type PaymentRequiredBody struct {
	X402Version  int                   `json:"x402Version"`
	Requirements []PaymentRequirements `json:"accepts"`
}

// ExactAuthorization is an EIP-3009 TransferWithAuthorization message.
type ExactAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PermitAuthorization is an EIP-2612 Permit message.
type PermitAuthorization struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Value   string `json:"value"`
	Nonce   string `json:"nonce"`
	Deadline string `json:"deadline"`
}

// Payload is the decoded form of the X-PAYMENT header: the chosen
// requirement's scheme/network, the signature, and the authorization
// message (exactly one of Exact/Permit is set, per Scheme).
type Payload struct {
	X402Version int                   `json:"x402Version"`
	Scheme      Scheme                `json:"scheme"`
	Network     string                `json:"network"`
	Signature   string                `json:"signature"`
	Exact       *ExactAuthorization   `json:"exact,omitempty"`
	Permit      *PermitAuthorization  `json:"permit,omitempty"`
}

// PaymentStatus is a PaymentRecord's terminal state.
type PaymentStatus string

const (
	StatusConfirmed PaymentStatus = "confirmed"
	StatusFailed    PaymentStatus = "failed"
)

// PaymentRecord is minted on a successful (2xx) retry.
type PaymentRecord struct {
	Status          PaymentStatus `json:"status"`
	Amount          string        `json:"amount"`
	AmountFormatted string        `json:"amount_formatted"`
	Asset           string        `json:"asset"`
	PayTo           string        `json:"pay_to"`
	Network         string        `json:"network"`
	TxHash          string        `json:"tx_hash,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
	Error           string        `json:"error,omitempty"`
}
