// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy used by the orchestration core.
//
// Construction-time failures (configuration, initialization) abort startup.
// Per-request failures (tool faults, delegation faults) are recoverable and are
// normally recorded in an outcome instead of being returned.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies errors for monitoring, recovery and transport mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeConfiguration indicates an invalid model or tool configuration.
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// CodeInitialization indicates a required agent service failed to construct.
	CodeInitialization ErrorCode = "INITIALIZATION_ERROR"

	// CodeNotReady indicates an operation was attempted before the manager was ready.
	CodeNotReady ErrorCode = "NOT_READY"

	// CodeToolFailure indicates a single tool invocation failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeDelegationTimeout indicates a delegated peer did not answer in time.
	CodeDelegationTimeout ErrorCode = "DELEGATION_TIMEOUT"

	// CodeDelegationUnavailable indicates the delegation target is not registered or not ready.
	CodeDelegationUnavailable ErrorCode = "DELEGATION_UNAVAILABLE"

	// CodeDelegationFailed indicates the peer answered with a failure status.
	CodeDelegationFailed ErrorCode = "DELEGATION_FAILED"

	// CodeAllSourcesFailed indicates every tool and delegation call of a request failed.
	CodeAllSourcesFailed ErrorCode = "ALL_SOURCES_FAILED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeCircuitOpen indicates a circuit breaker rejected the call.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
)

// Sentinels usable with errors.Is. Matching is done on the code only.
var (
	ErrConfiguration         = sentinel(CodeConfiguration, "configuration error")
	ErrInitialization        = sentinel(CodeInitialization, "initialization error")
	ErrNotReady              = sentinel(CodeNotReady, "agent manager is not ready")
	ErrToolFailure           = sentinel(CodeToolFailure, "tool failure")
	ErrDelegationTimeout     = sentinel(CodeDelegationTimeout, "delegation timed out")
	ErrDelegationUnavailable = sentinel(CodeDelegationUnavailable, "delegation target unavailable")
	ErrAllSourcesFailed      = sentinel(CodeAllSourcesFailed, "all sources failed")
)

func sentinel(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg, Recoverable: defaultRecoverable(code), StatusCode: codeToStatusCode(code)}
}

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// MarshalJSON implements json.Marshaler for structured logging and HTTP responses.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Cause       string                 `json:"cause,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: defaultRecoverable(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As converts err to an *Error, wrapping unknown errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err's chain carries an *Error with code.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, &Error{Code: code})
}

// HTTPStatus maps err to an HTTP status code. An *Error without an explicit
// status is mapped from its code.
func HTTPStatus(err error) int {
	var e *Error
	if !stderrors.As(err, &e) {
		return 500
	}
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return codeToStatusCode(e.Code)
}

func defaultRecoverable(code ErrorCode) bool {
	switch code {
	case CodeToolFailure, CodeDelegationTimeout, CodeDelegationUnavailable,
		CodeDelegationFailed, CodeTimeout, CodeRateLimit:
		return true
	default:
		return false
	}
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidInput:
		return 400
	case CodeNotReady, CodeDelegationUnavailable, CodeCircuitOpen:
		return 503
	case CodeTimeout, CodeDelegationTimeout:
		return 504
	case CodeRateLimit:
		return 429
	case CodeAllSourcesFailed, CodeToolFailure, CodeDelegationFailed, CodeLLMError:
		return 502
	default:
		return 500
	}
}
