// Package errors provides the structured error taxonomy for the token
// subsystem, with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of error for metrics, logging, and response formatting.
type Kind string

const (
	// KindConfiguration indicates the master key is missing or malformed.
	// Fatal to any crypto operation; requires operator intervention.
	KindConfiguration Kind = "configuration"
	// KindFormat indicates input that is not shaped like a token envelope.
	KindFormat Kind = "format"
	// KindCrypto indicates authenticated decryption failed (tampering,
	// corruption, or key mismatch). Not retryable with the same inputs.
	KindCrypto Kind = "crypto"
	// KindProvider indicates the OAuth refresh call failed or returned an
	// unexpected body. Potentially retryable with backoff.
	KindProvider Kind = "provider"
	// KindNotFound indicates no active integration record exists.
	KindNotFound Kind = "not_found"
	// KindState indicates the record cannot be rotated until the user
	// re-authorizes (e.g. no refresh token stored).
	KindState Kind = "state"
	// KindConflict indicates a concurrent update won the write race.
	KindConflict Kind = "conflict"
	// KindInternal indicates an unclassified server-side error.
	KindInternal Kind = "internal"
)

// Error represents a structured error with kind, message, and context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindFormat:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindState:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindProvider:
		return http.StatusBadGateway
	case KindConfiguration, KindCrypto, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ConfigurationError creates a new configuration error.
func ConfigurationError(message string) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Context: make(map[string]any)}
}

// FormatError creates a new envelope-format error.
func FormatError(message string) *Error {
	return &Error{Kind: KindFormat, Message: message, Context: make(map[string]any)}
}

// CryptoError creates a new authenticated-decryption error.
func CryptoError(message string, cause error) *Error {
	return &Error{Kind: KindCrypto, Message: message, Cause: cause, Context: make(map[string]any)}
}

// ProviderError creates a new OAuth-provider error.
func ProviderError(message string, cause error) *Error {
	return &Error{Kind: KindProvider, Message: message, Cause: cause, Context: make(map[string]any)}
}

// NotFoundError creates a new not-found error.
func NotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message, Context: make(map[string]any)}
}

// StateError creates a new invalid-state error.
func StateError(message string) *Error {
	return &Error{Kind: KindState, Message: message, Context: make(map[string]any)}
}

// ConflictError creates a new concurrent-update error.
func ConflictError(message string) *Error {
	return &Error{Kind: KindConflict, Message: message, Context: make(map[string]any)}
}

// InternalError creates a new unclassified internal error.
func InternalError(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Kind    Kind           `json:"kind"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
// Configuration and crypto failures are operator concerns; their details are
// logged server-side, not explained to the caller.
func (e *Error) ToResponse() ErrorResponse {
	switch e.Kind {
	case KindConfiguration, KindCrypto, KindInternal:
		return ErrorResponse{Error: "internal server error", Kind: KindInternal}
	default:
		return ErrorResponse{Error: e.Message, Kind: e.Kind, Context: e.Context}
	}
}

// AsStructuredError converts any error into a structured Error.
// If err is already an *Error, returns it unchanged.
// Otherwise wraps it as an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}

	return InternalError("internal server error", err)
}
