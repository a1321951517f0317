package dispatcher

import "fmt"

// Kind is the semantic error taxonomy of spec.md §7. These are deliberately
// not Go error types users switch on directly — callers use errors.As on
// the concrete *Error and inspect Kind, keeping string rendering separate
// from classification per the "error inflation" design note in spec.md §9.
type Kind string

const (
	KindConfig           Kind = "config_error"
	KindCapabilityDenied Kind = "capability_denied"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindUpstream         Kind = "upstream_error"
	KindPaymentRequired  Kind = "payment_required"
	KindPaymentFailed    Kind = "payment_failed"
	KindCancelled        Kind = "cancelled"
	KindFatal            Kind = "fatal"
)

// Error is the dispatcher's structured error type. Tool-level errors
// (Capability, Quota, NotFound, InvalidInput, Upstream, Payment) become
// tool-result turns so the model can observe and adapt; Fatal errors
// terminate the session as Failed.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsToolError reports whether this error kind should surface as a
// tool-result turn rather than abort the session.
func (e *Error) IsToolError() bool {
	switch e.Kind {
	case KindCapabilityDenied, KindQuotaExceeded, KindNotFound, KindInvalidInput, KindUpstream, KindPaymentRequired, KindPaymentFailed:
		return true
	default:
		return false
	}
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// CapabilityDenied reports a tool blocked by the gate or its safety level.
func CapabilityDenied(toolName string) *Error {
	return newError(KindCapabilityDenied, "tool %q is not permitted in this context", toolName)
}

// QuotaExceeded reports a disk-quota or per-write cap violation, with a
// user-facing message including remaining/quota per spec.md §7.
func QuotaExceeded(remaining, quota int64) *Error {
	return newError(KindQuotaExceeded, "disk quota exceeded: %d bytes remaining of %d total", remaining, quota)
}

// NotFound reports a missing tool, skill, subtype, memory, association, or session.
func NotFound(kind, name string) *Error {
	return newError(KindNotFound, "%s not found: %q", kind, name)
}

// InvalidInput reports a parameter schema violation.
func InvalidInput(detail string) *Error {
	return newError(KindInvalidInput, "invalid input: %s", detail)
}

// Upstream reports an LLM/HTTP/RPC failure.
func Upstream(cause error) *Error {
	return &Error{Kind: KindUpstream, Cause: cause, Message: fmt.Sprintf("upstream error: %v", cause)}
}

// Fatal reports an invariant violation; the loop exits with Failed.
func Fatal(format string, args ...any) *Error {
	return newError(KindFatal, format, args...)
}
