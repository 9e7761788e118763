package factory

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes factory operation errors.
type Code string

const (
	// CodeInvalidParameters means commit was attempted before the minimum
	// required inputs were supplied. No state change.
	CodeInvalidParameters Code = "INVALID_PARAMETERS"

	// CodeKernelFailed means the geometry kernel rejected the parameters
	// (degenerate geometry, impossible configuration).
	CodeKernelFailed Code = "KERNEL_COMPUTATION_FAILED"

	// CodeStale marks a superseded update result arriving late. Stale
	// results are discarded internally and never surface to callers; the
	// code exists for logging.
	CodeStale Code = "STALE_COMPUTATION"

	// CodeTerminal means an operation was attempted on a factory that has
	// already committed or cancelled.
	CodeTerminal Code = "FACTORY_TERMINAL"
)

// OpError is a structured factory error.
type OpError struct {
	// Code identifies the error category.
	Code Code

	// Kind is the operation kind of the factory.
	Kind string

	// Message is a human-readable description.
	Message string

	// Missing lists absent required parameters (invalid-parameters only).
	Missing []string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: %s: %s (missing: %s)", e.Code, e.Kind, e.Message, strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Code, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewInvalidParameters creates an OpError for a commit attempted without
// the minimum required inputs.
func NewInvalidParameters(kind string, missing []string) *OpError {
	return &OpError{
		Code:    CodeInvalidParameters,
		Kind:    kind,
		Message: "required parameters never supplied",
		Missing: missing,
	}
}

// NewKernelFailed creates an OpError wrapping a kernel rejection.
func NewKernelFailed(kind string, err error) *OpError {
	return &OpError{
		Code:    CodeKernelFailed,
		Kind:    kind,
		Message: "kernel rejected parameters",
		Err:     err,
	}
}

// NewTerminal creates an OpError for an operation on a finished factory.
func NewTerminal(kind string, state State) *OpError {
	return &OpError{
		Code:    CodeTerminal,
		Kind:    kind,
		Message: fmt.Sprintf("factory is %s", state),
	}
}

// IsInvalidParameters reports whether err carries CodeInvalidParameters.
func IsInvalidParameters(err error) bool {
	return hasCode(err, CodeInvalidParameters)
}

// IsKernelFailed reports whether err carries CodeKernelFailed.
func IsKernelFailed(err error) bool {
	return hasCode(err, CodeKernelFailed)
}

// IsTerminal reports whether err carries CodeTerminal.
func IsTerminal(err error) bool {
	return hasCode(err, CodeTerminal)
}

func hasCode(err error, code Code) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}
