// Package errors defines the stable error code system for shipline.
package errors

import (
	"errors"
	"fmt"
)

// Code is a stable error code string.
type Code string

const (
	EUsage Code = "E_USAGE"

	// ETransport covers transport/auth failures talking to the model.
	// Surfaced immediately; never retried at this layer.
	ETransport Code = "E_TRANSPORT"

	// ESchemaParse means the model's output could not be decoded into
	// the expected typed record.
	ESchemaParse Code = "E_SCHEMA_PARSE"

	// ETestRunner means the test runner invocation itself failed
	// (missing interpreter, canceled context). Fatal for the debug
	// loop; distinct from a failing test.
	ETestRunner Code = "E_TEST_RUNNER"

	EWorkspace Code = "E_WORKSPACE"
	EInternal  Code = "E_INTERNAL"
)

// PipelineError is the standard error type for shipline errors.
type PipelineError struct {
	Code  Code
	Msg   string
	Cause error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// New creates a new PipelineError with the given code and message.
func New(code Code, msg string) error {
	return &PipelineError{Code: code, Msg: msg}
}

// Newf creates a new PipelineError with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &PipelineError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a new PipelineError wrapping an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &PipelineError{Code: code, Msg: msg, Cause: err}
}

// GetCode extracts the error code, or empty string for foreign errors.
func GetCode(err error) Code {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HasCode reports whether err is a PipelineError with the given code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// ExitCode maps an error to a process exit code: 0 for nil, 2 for
// usage errors, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if GetCode(err) == EUsage {
		return 2
	}
	return 1
}
