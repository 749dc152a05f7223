package modelgw

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies a provider failure for retry/backoff
// decisions, grounded on the teacher's model.ProviderErrorKind taxonomy.
type ProviderErrorKind string

const (
	KindRateLimited     ProviderErrorKind = "rate_limited"
	KindTimeout         ProviderErrorKind = "timeout"
	KindInvalidRequest  ProviderErrorKind = "invalid_request"
	KindAuthentication  ProviderErrorKind = "authentication"
	KindContentFiltered ProviderErrorKind = "content_filtered"
	KindUnavailable     ProviderErrorKind = "unavailable"
	KindUnknown         ProviderErrorKind = "unknown"
)

// ProviderError wraps a failure from a concrete provider adapter
// (anthropic, openai, bedrock) with enough structure for the gateway's
// retry policy and the supervisor's TransientExternal classification (§7)
// to make a decision without parsing provider-specific error strings.
type ProviderError struct {
	Provider   string
	Operation  string
	HTTPStatus int
	Kind       ProviderErrorKind
	Code       string
	Message    string
	RequestID  string
	Retryable  bool
	cause      error
}

func (e *ProviderError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s %s (status %d, request %s): %s", e.Provider, e.Operation, e.Kind, e.HTTPStatus, e.RequestID, e.Message)
	}
	return fmt.Sprintf("%s: %s %s (status %d): %s", e.Provider, e.Operation, e.Kind, e.HTTPStatus, e.Message)
}

// Unwrap exposes the underlying transport/decode error, if any.
func (e *ProviderError) Unwrap() error {
	return e.cause
}

// NewProviderError constructs a ProviderError, capturing cause for Unwrap.
func NewProviderError(provider, operation string, kind ProviderErrorKind, httpStatus int, code, message, requestID string, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		HTTPStatus: httpStatus,
		Kind:       kind,
		Code:       code,
		Message:    message,
		RequestID:  requestID,
		Retryable:  retryable,
		cause:      cause,
	}
}

// AsProviderError extracts a *ProviderError from err's chain, if present.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried by the gateway's retry
// policy: either a classified ProviderError marked retryable, or an
// unclassified error (adapters that don't yet wrap errors fail open so
// transient network failures are still retried).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := AsProviderError(err); ok {
		return pe.Retryable
	}
	return true
}
