// Package apierr defines the typed error kinds the engine surfaces to
// its callers (spec §7), so that REST handlers and internal callers
// can branch on Kind without parsing error strings.
package apierr

import "fmt"

// Kind is one of the error kinds enumerated in spec §7.
type Kind string

const (
	AuthenticationRequired Kind = "AUTHENTICATION_REQUIRED"
	InvalidAPIKey          Kind = "INVALID_API_KEY"
	SymbolNotFound         Kind = "SYMBOL_NOT_FOUND"
	InvalidParameters      Kind = "INVALID_PARAMETERS"
	BrokerLimitation       Kind = "BROKER_LIMITATION"
	UpstreamTimeout        Kind = "UPSTREAM_TIMEOUT"
	UpstreamError          Kind = "UPSTREAM_ERROR"
	RateLimited            Kind = "RATE_LIMITED"
	DuplicateOrder         Kind = "DUPLICATE_ORDER"
	RiskRejected           Kind = "RISK_REJECTED"
	SubscriptionError      Kind = "SUBSCRIPTION_ERROR"
	NotSubscribed          Kind = "NOT_SUBSCRIBED"
	ReconciliationWarning  Kind = "RECONCILIATION_WARNING"
)

// Error is the engine's typed error. SupportedValues is populated for
// BrokerLimitation so callers can show what the broker actually
// supports (e.g. depth levels).
type Error struct {
	Kind            Kind
	Message         string
	Retryable       bool
	SupportedValues []string
	Cause           error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a non-retryable typed error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a typed error around a lower-level cause, preserving it
// for errors.Is/As via Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithSupportedValues attaches the broker's supported-value list to a
// BrokerLimitation error (spec §7).
func (e *Error) WithSupportedValues(values ...string) *Error {
	e.SupportedValues = values
	return e
}

// AsRetryable marks a read-path error eligible for jittered retry
// (spec §5: reads retried up to 2 times, writes never retried).
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}
