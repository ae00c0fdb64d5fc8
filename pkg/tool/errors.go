package tool

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

var (
	// ErrTimeout is returned when an invocation exceeds its deadline.
	ErrTimeout = errors.New("tool invocation timed out")

	// ErrInvalidInput is returned when a tool cannot work with the task.
	ErrInvalidInput = errors.New("invalid tool input")
)

// Error is a tool-reported failure with optional provider status metadata.
type Error struct {
	Message   string
	Status    int
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "tool error"
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return fmt.Sprintf("tool error (status=%d)", e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Errorf builds a *Error with a formatted message.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// IsTransient reports whether an error is safe to retry against the same
// provider.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var toolErr *Error
	if errors.As(err, &toolErr) {
		if toolErr.Temporary {
			return true
		}
		if toolErr.Status == 429 || (toolErr.Status >= 500 && toolErr.Status <= 599) {
			return true
		}
	}
	return false
}

// FailureKind maps an invocation error onto the attempt failure taxonomy.
func FailureKind(err error) schema.FailureKind {
	switch {
	case err == nil:
		return schema.FailureNone
	case errors.Is(err, context.Canceled):
		return schema.FailureCanceled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return schema.FailureTimeout
	case errors.Is(err, ErrInvalidInput):
		return schema.FailureInvalidInput
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return schema.FailureTimeout
	}
	return schema.FailureToolError
}
