package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies the failure class of a provider error.
// The set is closed: every error surfaced in a result envelope carries
// exactly one of these codes.
type ErrorCode string

const (
	// CodeTimeout - per-attempt deadline exceeded or provider reported a timeout
	CodeTimeout ErrorCode = "TIMEOUT"
	// CodeRateLimit - provider signalled throttling (HTTP 429 or equivalent)
	CodeRateLimit ErrorCode = "RATE_LIMIT"
	// CodeAuthentication - credentials rejected (HTTP 401/403 or equivalent)
	CodeAuthentication ErrorCode = "AUTHENTICATION"
	// CodeNotFound - provider reports the key does not exist
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeNetworkError - transport/DNS/socket failure
	CodeNetworkError ErrorCode = "NETWORK_ERROR"
	// CodeInvalidResponse - provider returned an unusable payload
	CodeInvalidResponse ErrorCode = "INVALID_RESPONSE"
	// CodeCircuitOpen - synthetic error produced when the breaker refuses execution
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// CodeUnknown - default bucket
	CodeUnknown ErrorCode = "UNKNOWN"
)

// ProviderError is a coded error attributed to a named provider.
// It keeps the original cause so callers can inspect it with errors.Is/As.
type ProviderError struct {
	Code     ErrorCode // Failure class
	Provider string    // Provider the error is attributed to (empty for call-level errors)
	Message  string    // Human-readable message
	Err      error     // Underlying error (optional)
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Code)
	if e.Provider != "" {
		fmt.Fprintf(&b, " %s:", e.Provider)
	}
	fmt.Fprintf(&b, " %s", e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new coded provider error
func NewProviderError(code ErrorCode, provider, message string, err error) *ProviderError {
	return &ProviderError{
		Code:     code,
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// Classify converts an arbitrary error into a *ProviderError attributed to
// the given provider. Errors that are already coded pass through untouched.
// Untagged errors fall back to lowercase substring inspection of the message;
// prefer structured codes from providers, this rule is the last resort.
func Classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	return &ProviderError{
		Code:     codeForError(err),
		Provider: provider,
		Message:  err.Error(),
		Err:      err,
	}
}

// codeForError maps an untagged error to a code by message inspection
func codeForError(err error) ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return CodeTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return CodeRateLimit
	case strings.Contains(msg, "auth"), strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return CodeAuthentication
	case strings.Contains(msg, "not found"), strings.Contains(msg, "404"):
		return CodeNotFound
	case strings.Contains(msg, "network"), strings.Contains(msg, "fetch"):
		return CodeNetworkError
	default:
		return CodeUnknown
	}
}

// CodeOf extracts the error code from an error, returning CodeUnknown for
// uncoded errors and an empty code for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given error code
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
