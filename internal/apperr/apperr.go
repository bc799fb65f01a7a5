package apperr

import (
	"errors"
	"fmt"
)

// Code categorizes a client-side failure.
type Code string

const (
	CodeNetwork               Code = "NETWORK"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeHTTP                  Code = "HTTP"
	CodeUnknown               Code = "UNKNOWN"
	CodeAuthMissing           Code = "AUTH_MISSING"
	CodeRecipientUnresolvable Code = "RECIPIENT_UNRESOLVABLE"
	CodeSendFailed            Code = "SEND_FAILED"
	CodeUpstreamUnlinked      Code = "UPSTREAM_UNLINKED"
	CodeInvalidInput          Code = "INVALID_INPUT"
)

// AppError is the structured error surfaced by the gateway, the socket
// manager and the reconciler.
type AppError struct {
	Code        Code
	Message     string
	Status      int // HTTP status, 0 when no response was received
	Cause       error
	Retryable   bool
	UserMessage string
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithUserMessage sets the text shown to the user instead of Message.
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// WithStatus records the HTTP status that produced the error.
func (e *AppError) WithStatus(status int) *AppError {
	e.Status = status
	return e
}

// New creates an AppError without a cause.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError around an existing error.
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// WrapRetryable wraps err and marks it as retryable.
func WrapRetryable(err error, code Code, message string) *AppError {
	e := Wrap(err, code, message)
	e.Retryable = true
	return e
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf extracts the code from err, CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsRetryable reports whether err was marked retryable.
func IsRetryable(err error) bool {
	if appErr, ok := As(err); ok {
		return appErr.Retryable
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.Status
	}
	return 0
}

// UserMessage returns a user-facing description of err.
func UserMessage(err error) string {
	appErr, ok := As(err)
	if !ok {
		return "An unexpected error occurred"
	}
	if appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	switch appErr.Code {
	case CodeNetwork:
		return "Unable to reach the server"
	case CodeRateLimited:
		return "Rate limited. Please wait before making more requests."
	case CodeRecipientUnresolvable:
		return "Cannot determine the recipient for this conversation"
	case CodeUpstreamUnlinked:
		return "WhatsApp is not linked. Scan the QR code to reconnect."
	case CodeAuthMissing:
		return "Not signed in"
	}
	if appErr.Message != "" {
		return appErr.Message
	}
	return "An unexpected error occurred"
}
