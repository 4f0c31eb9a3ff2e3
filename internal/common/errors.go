package common

import (
	"errors"
	"fmt"
)

// CodeConfig marks configuration and command-line mistakes.
const CodeConfig = "CONFIG_ERROR"

// ErrInvalidInput is the cause of an AppError raised for a bad setting rather than a failed operation.
var ErrInvalidInput = errors.New("invalid input")

// AppError is an operator-facing failure: a stable code, what was being done and why it failed.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message + ": " + e.Cause.Error()
}

func (e *AppError) Unwrap() error { return e.Cause }

// ConfigError wraps cause as a CONFIG_ERROR. A nil cause means invalid input.
func ConfigError(message string, cause error) *AppError {
	if cause == nil {
		cause = ErrInvalidInput
	}
	return &AppError{Code: CodeConfig, Message: message, Cause: cause}
}

// ConfigErrorf reports an invalid setting.
func ConfigErrorf(format string, args ...any) *AppError {
	return ConfigError(fmt.Sprintf(format, args...), nil)
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
