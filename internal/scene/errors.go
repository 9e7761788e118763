package scene

import (
	"errors"
	"fmt"
)

// NotFoundError reports a removal or replacement referencing an item the
// store no longer holds. The store is unaffected by the failed call.
type NotFoundError struct {
	// ID is the missing item's identifier.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item not found: %s", e.ID)
}

// NewNotFoundError creates a NotFoundError for an item id.
func NewNotFoundError(id string) *NotFoundError {
	return &NotFoundError{ID: id}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
