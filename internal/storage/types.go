package storage

import (
	"errors"
	"fmt"

	"github.com/scrypster/introducer/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// ContactFilter selects contacts for batch work.
type ContactFilter struct {
	// Statuses restricts results to these states. Empty means any.
	Statuses []types.Status

	// RequireProfileURL skips contacts without a profile URL.
	RequireProfileURL bool

	// RequireEmail skips contacts without an email.
	RequireEmail bool

	// Limit caps the result count (default: 100, max: 1000).
	Limit int
}

// Normalize applies defaults and bounds.
func (f *ContactFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
}

// ValidateVector checks a vector before it is persisted.
func ValidateVector(v *types.VectorizedContact) error {
	switch {
	case v == nil:
		return ErrInvalidInput
	case v.ContactID == "":
		return fmt.Errorf("%w: contact ID is required", ErrInvalidInput)
	case len(v.Vector) == 0:
		return fmt.Errorf("%w: vector cannot be empty", ErrInvalidInput)
	case v.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidInput)
	}
	return nil
}
