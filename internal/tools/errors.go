package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound indicates a requested tool isn't registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolDisabled indicates the tool was disabled after repeated failures.
	ErrToolDisabled = errors.New("tool disabled")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrInvalidArguments indicates arguments failed schema or tool validation.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// ErrorType categorizes tool failures. The value is surfaced to callers as
// the ToolResult error code.
type ErrorType string

const (
	ErrorNotFound      ErrorType = "not_found"
	ErrorInvalidInput  ErrorType = "invalid_input"
	ErrorDisabled      ErrorType = "disabled"
	ErrorRuleViolation ErrorType = "rule_violation"
	ErrorLimitExceeded ErrorType = "limit_exceeded"
	ErrorExecution     ErrorType = "execution"
	ErrorPanic         ErrorType = "panic"
	ErrorTimeout       ErrorType = "timeout"
	// ErrorSubAgent marks a delegated run that ended without an answer. The
	// failure belongs to the nested run, not to the delegating tool.
	ErrorSubAgent ErrorType = "sub_agent"
)

// CountsAsFailure reports whether an error of this type was raised by
// actually running the tool, and so feeds the consecutive-failure counter.
func (t ErrorType) CountsAsFailure() bool {
	switch t {
	case ErrorInvalidInput, ErrorExecution, ErrorPanic, ErrorTimeout:
		return true
	default:
		return false
	}
}

// Error is a typed tool failure.
type Error struct {
	Type     ErrorType
	ToolName string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError wraps cause with an inferred type.
func NewError(toolName string, cause error) *Error {
	e := &Error{ToolName: toolName, Cause: cause, Type: ErrorExecution}
	if cause != nil {
		e.Message = cause.Error()
		e.Type = classify(cause)
	}
	return e
}

// WithType overrides the inferred type.
func (e *Error) WithType(t ErrorType) *Error {
	e.Type = t
	return e
}

// AsError extracts a *Error from err, wrapping it when necessary.
func AsError(toolName string, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return NewError(toolName, err)
}

func classify(err error) ErrorType {
	switch {
	case errors.Is(err, ErrToolNotFound):
		return ErrorNotFound
	case errors.Is(err, ErrToolDisabled):
		return ErrorDisabled
	case errors.Is(err, ErrToolPanic):
		return ErrorPanic
	case errors.Is(err, ErrToolTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, ErrInvalidArguments):
		return ErrorInvalidInput
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"):
		return ErrorTimeout
	case strings.Contains(msg, "missing argument"), strings.Contains(msg, "is required"),
		strings.Contains(msg, "invalid argument"):
		return ErrorInvalidInput
	}
	return ErrorExecution
}
