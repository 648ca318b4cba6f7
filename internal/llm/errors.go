package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason classifies why a backend call failed.
type Reason string

const (
	ReasonAuth             Reason = "auth"
	ReasonBilling          Reason = "billing"
	ReasonRateLimit        Reason = "rate_limit"
	ReasonTimeout          Reason = "timeout"
	ReasonUnreachable      Reason = "unreachable"
	ReasonServerError      Reason = "server_error"
	ReasonInvalidRequest   Reason = "invalid_request"
	ReasonModelUnavailable Reason = "model_unavailable"
	ReasonContentFilter    Reason = "content_filter"
	ReasonUnknown          Reason = "unknown"
)

// Retryable reports whether the same request may succeed later.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonUnreachable, ReasonServerError:
		return true
	}
	return false
}

// ProviderError wraps a backend failure with provider context.
type ProviderError struct {
	Reason   Reason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Reason, e.Provider)
	if e.Model != "" {
		fmt.Fprintf(&sb, " model=%s", e.Model)
	}
	if e.Status > 0 {
		fmt.Fprintf(&sb, " status=%d", e.Status)
	}
	switch {
	case e.Message != "":
		sb.WriteString(": " + e.Message)
	case e.Cause != nil:
		sb.WriteString(": " + e.Cause.Error())
	}
	return sb.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Code is the step error code for this failure.
func (e *ProviderError) Code() string { return "backend_" + string(e.Reason) }

// NewProviderError wraps cause, classifying it from its text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	var existing *ProviderError
	if errors.As(cause, &existing) {
		return existing
	}
	return &ProviderError{
		Reason:   classify(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if r := classifyStatus(status); r != ReasonUnknown {
		e.Reason = r
	}
	return e
}

var reasonPatterns = []struct {
	reason   Reason
	patterns []string
}{
	{ReasonTimeout, []string{"timeout", "deadline exceeded", "etimedout"}},
	{ReasonUnreachable, []string{"connection refused", "no such host", "connection reset", "eof"}},
	{ReasonRateLimit, []string{"rate limit", "rate_limit", "too many requests"}},
	{ReasonAuth, []string{"unauthorized", "invalid api key", "invalid_api_key", "authentication", "permission denied"}},
	{ReasonBilling, []string{"billing", "payment", "quota", "insufficient"}},
	{ReasonContentFilter, []string{"content_filter", "content policy", "safety", "blocked"}},
	{ReasonModelUnavailable, []string{"model not found", "model_not_found", "does not exist", "not found, try pulling"}},
	{ReasonServerError, []string{"internal server", "server error", "overloaded", "bad gateway"}},
}

func classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, rp := range reasonPatterns {
		for _, p := range rp.patterns {
			if strings.Contains(msg, p) {
				return rp.reason
			}
		}
	}
	return ReasonUnknown
}

func classifyStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	case status >= 400:
		return ReasonInvalidRequest
	}
	return ReasonUnknown
}

// AsProviderError extracts a ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ErrorCode returns the step error code for any backend error.
func ErrorCode(err error) string {
	if pe, ok := AsProviderError(err); ok {
		return pe.Code()
	}
	return "backend_error"
}

// IsRetryable reports whether err is a retryable backend failure.
func IsRetryable(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Reason.Retryable()
}
