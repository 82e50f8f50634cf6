package deployr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Algebraic-Programming/DeployR/internal/channel"
	"github.com/Algebraic-Programming/DeployR/internal/rpc"
)

// ErrorCode represents high-level error categories surfaced by the runtime.
type ErrorCode string

const (
	ErrCodeDuplicateName          ErrorCode = "duplicate name"
	ErrCodeUnknownFunction        ErrorCode = "unknown function"
	ErrCodeDuplicateRunnerID      ErrorCode = "duplicate runner id"
	ErrCodeDuplicateInstanceID    ErrorCode = "duplicate instance id"
	ErrCodeUnmatchable            ErrorCode = "unmatchable topologies"
	ErrCodeInvalidDescription     ErrorCode = "invalid description"
	ErrCodeInvalidFormat          ErrorCode = "invalid format"
	ErrCodeWrongRole              ErrorCode = "wrong channel role"
	ErrCodeWouldBlock             ErrorCode = "would block"
	ErrCodeEmpty                  ErrorCode = "empty"
	ErrCodeReturnAlreadySubmitted ErrorCode = "return value already submitted"
	ErrCodeInvalidState           ErrorCode = "invalid runtime state"
	ErrCodeTransportFailure       ErrorCode = "transport failure"
)

// Error is a structured runtime error with deployment context.
type Error struct {
	Op     string    // Operation that failed (e.g. "Deploy", "Push")
	Runner uint64    // Runner id (only meaningful when HasRunner)
	Code   ErrorCode // High-level category
	Msg    string    // Human-readable message
	Inner  error     // Wrapped error

	// HasRunner marks Runner as set; runner id 0 is valid.
	HasRunner bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.HasRunner {
		parts = append(parts, fmt.Sprintf("runner=%d", e.Runner))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("deployr: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("deployr: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches two structured errors by code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	return ok && e.Code == te.Code
}

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewRunnerError creates a structured error tied to a runner.
func NewRunnerError(op string, runner uint64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Runner: runner, HasRunner: true, Code: code, Msg: msg}
}

// WrapError wraps an error from a collaborator, mapping the internal
// control-plane and channel sentinels onto their public codes. Anything
// unrecognized is a transport failure.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if de, ok := inner.(*Error); ok {
		out := *de
		out.Op = op
		out.Inner = de.Inner
		return &out
	}
	return &Error{Op: op, Code: codeFor(inner), Msg: inner.Error(), Inner: inner}
}

func codeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, rpc.ErrDuplicateName):
		return ErrCodeDuplicateName
	case errors.Is(err, rpc.ErrUnknownTarget):
		return ErrCodeUnknownFunction
	case errors.Is(err, rpc.ErrReturnAlreadySubmitted):
		return ErrCodeReturnAlreadySubmitted
	case errors.Is(err, channel.ErrWrongRole):
		return ErrCodeWrongRole
	case errors.Is(err, channel.ErrWouldBlock):
		return ErrCodeWouldBlock
	case errors.Is(err, channel.ErrEmpty):
		return ErrCodeEmpty
	default:
		return ErrCodeTransportFailure
	}
}

// IsCode checks whether err carries a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
