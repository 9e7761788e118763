package geom

import (
	"context"
	"errors"
	"fmt"
)

// Kernel is the external geometry engine. It is consumed as a pure function
// per call: given an operation kind and parameters it returns a kernel
// object, or fails. The core retains no kernel state between calls except
// what is explicitly stored in scene items.
//
// Calls may be slow (curve fitting, booleans) and must honor ctx
// cancellation. Implementations live outside this module; tests use the
// scripted kernel in internal/testutil.
type Kernel interface {
	ComputeResult(ctx context.Context, kind string, params Object) (Object, error)
}

// KernelError reports that the kernel rejected a computation (degenerate
// geometry, self-intersection, unsupported configuration). Distinct from
// transport/context errors: a KernelError means the parameters themselves
// were the problem.
type KernelError struct {
	// Kind is the operation kind that failed (e.g. "curve", "fillet").
	Kind string

	// Reason is the kernel's human-readable failure description.
	Reason string
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel computation failed: %s: %s", e.Kind, e.Reason)
}

// NewKernelError creates a KernelError for an operation kind.
func NewKernelError(kind, reason string) *KernelError {
	return &KernelError{Kind: kind, Reason: reason}
}

// IsKernelError reports whether err is (or wraps) a KernelError.
func IsKernelError(err error) bool {
	var ke *KernelError
	return errors.As(err, &ke)
}
