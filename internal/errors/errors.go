// Package errors provides the error codes shared by the sync core and its callers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a stable, machine-readable error class.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrConfig   ErrorCode = "CONFIG_ERROR"

	// Durable store errors
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// Remote errors
	ErrNetworkUnreachable ErrorCode = "NETWORK_UNREACHABLE"
	ErrRemoteRejected     ErrorCode = "REMOTE_REJECTED"
	ErrRemoteTransient    ErrorCode = "REMOTE_TRANSIENT"

	// Queue and engine errors
	ErrQueueExhausted ErrorCode = "QUEUE_EXHAUSTED"
	ErrNoHandler      ErrorCode = "NO_HANDLER"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error, or any error it wraps, carries a specific code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in the chain, or "" when
// err carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether a remote failure warrants another attempt.
// Rejections and programmer errors are final; transient and unclassified
// failures are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrRemoteRejected, ErrNoHandler, ErrInvalid, ErrQueueExhausted:
		return false
	}
	return true
}

// IsUnreachable reports whether err means the remote could not be contacted at all.
func IsUnreachable(err error) bool {
	return Is(err, ErrNetworkUnreachable)
}
