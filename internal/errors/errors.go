// Package errors provides structured errors for nautilus components.
// Every failure that crosses the dispatch boundary carries a code from the
// taxonomy below so the client can react programmatically, plus a human
// message and an optional suggestion for display.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig           = "CONFIG"
	ErrSSH              = "SSH"
	ErrUnknownCommand   = "UNKNOWN_COMMAND"
	ErrNotFound         = "NOT_FOUND"
	ErrDuplicateSession = "DUPLICATE_SESSION"
	ErrAuthFailed       = "AUTH_FAILED"
	ErrRemoteChannel    = "REMOTE_CHANNEL"
	ErrValidation       = "VALIDATION"
	ErrVault            = "VAULT"
	ErrInternal         = "INTERNAL"
)

// Error represents a structured error with code, message, suggestion, and
// optional cause. The message is what reaches the client in the
// {success:false, error} envelope; the suggestion is extra context for
// interactive display.
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewWithSuggestion creates a structured error carrying an actionable hint.
func NewWithSuggestion(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code and message.
func WrapWithCode(err error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Error implements the error interface. The output is a single line suitable
// for the command response envelope; the cause is appended when present.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var nErr *Error
	if errors.As(err, &nErr) {
		return nErr.Code == code
	}
	return false
}

// CodeOf returns the code of a structured error, or ErrSSH when the error
// is not structured. Nil errors yield the empty string.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var nErr *Error
	if errors.As(err, &nErr) {
		return nErr.Code
	}
	return ErrSSH
}
