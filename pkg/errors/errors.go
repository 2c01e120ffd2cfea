// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for reportcard.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies reportcard errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates a record was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUpstream indicates the vector database or embedding service failed.
	CodeUpstream ErrorCode = "UPSTREAM_FAILURE"

	// CodeCorrupted indicates locally persisted data could not be parsed.
	CodeCorrupted ErrorCode = "PERSISTENCE_CORRUPTION"

	// CodeUnauthorized indicates authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
)

// Error is a typed error with rich context for observability.
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

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// NotFound builds a CodeNotFound error for the given record id.
func NotFound(msg, id string) *Error {
	return New(CodeNotFound, msg, nil).WithContext("id", id)
}

// Upstream wraps a failure of an external collaborator.
func Upstream(op string, cause error) *Error {
	return New(CodeUpstream, op, cause).WithRecoverable(true)
}

// FromStatus classifies a failed HTTP call by status: 401 and 403 are
// CodeUnauthorized, everything else CodeUpstream. Only 429 and 5xx are
// recoverable.
func FromStatus(msg string, status int) *Error {
	code := CodeUpstream
	if status == 401 || status == 403 {
		code = CodeUnauthorized
	}
	e := New(code, msg, nil).
		WithContext("status", status).
		WithRecoverable(status == 429 || status >= 500)
	e.StatusCode = status
	return e
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
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

// As returns the first *Error in err's chain, or wraps err as CodeInternal.
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

// IsCode reports whether err's chain contains an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or "UNKNOWN".
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return string(e.Code)
	}
	return "UNKNOWN"
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP-like status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeInvalidInput:
		return 400
	case CodeUpstream:
		return 502
	default:
		return 500
	}
}
