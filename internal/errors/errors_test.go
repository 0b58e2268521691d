// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorCodeValues verifies all error codes have non-empty values.
func TestErrorCodeValues(t *testing.T) {
	tests := []struct {
		name string
		code ErrorCode
	}{
		{"internal", ErrInternal},
		{"invalid", ErrInvalid},
		{"config", ErrConfig},
		{"storage", ErrStorage},
		{"network unreachable", ErrNetworkUnreachable},
		{"remote rejected", ErrRemoteRejected},
		{"remote transient", ErrRemoteTransient},
		{"queue exhausted", ErrQueueExhausted},
		{"no handler", ErrNoHandler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				t.Errorf("ErrorCode %q should not be empty", tt.name)
			}
			if string(tt.code) != strings.ToUpper(string(tt.code)) {
				t.Errorf("ErrorCode %q should be uppercase", tt.code)
			}
		})
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "write failed", Err: errors.New("disk full")},
			want:     "[STORAGE_ERROR] write failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap verifies error wrapping.
func TestWrap(t *testing.T) {
	underlying := errors.New("underlying")

	err := Wrap(ErrRemoteTransient, "send failed", underlying)
	if err.Code != ErrRemoteTransient {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrRemoteTransient)
	}
	if !errors.Is(err, underlying) {
		t.Error("Wrap() should keep the underlying error reachable")
	}
}

// TestIs verifies error code checking through wrap chains.
func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching AppError", New(ErrStorage, "x"), ErrStorage, true},
		{"non-matching AppError", New(ErrStorage, "x"), ErrInternal, false},
		{"non-AppError", errors.New("plain"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
		{"fmt wrapped", fmt.Errorf("ctx: %w", New(ErrRemoteRejected, "no")), ErrRemoteRejected, true},
		{"nested code", Wrap(ErrQueueExhausted, "gave up", New(ErrRemoteTransient, "503")), ErrRemoteTransient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestIsRetryable verifies retry classification.
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", New(ErrRemoteTransient, "503"), true},
		{"unclassified", errors.New("boom"), true},
		{"unreachable", New(ErrNetworkUnreachable, "offline"), true},
		{"rejected", New(ErrRemoteRejected, "400"), false},
		{"no handler", New(ErrNoHandler, "kind"), false},
		{"invalid payload", Wrap(ErrInvalid, "decode", errors.New("eof")), false},
		{"misconfigured", New(ErrConfig, "no base url"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies the outermost code is reported.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	err := Wrap(ErrStorage, "outer", New(ErrInternal, "inner"))
	if got := CodeOf(err); got != ErrStorage {
		t.Errorf("CodeOf() = %q, want %q", got, ErrStorage)
	}
	if !IsUnreachable(Newf(ErrNetworkUnreachable, "dial %s", "host")) {
		t.Error("IsUnreachable() should match NETWORK_UNREACHABLE")
	}
}
