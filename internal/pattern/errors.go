package pattern

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a pattern id is not in the collection.
var ErrNotFound = errors.New("pattern not found")

// ErrInvalidInput rejects malformed arguments (blank labels, self-merges,
// empty ids) before any mutation happens.
var ErrInvalidInput = errors.New("invalid input")

// ConflictError reports a rename that collides with another pattern's name.
// ExistingID names the holder so callers can suggest a merge instead.
type ConflictError struct {
	Name       string
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("device name %q already belongs to pattern %s", e.Name, e.ExistingID)
}
