package record

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by NotFoundError.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownAccessor is returned by Call when a name maps to no
	// attribute, relation, scope or query method.
	ErrUnknownAccessor = errors.New("unknown accessor")

	// ErrUnknownRelation is returned when a relation name cannot be
	// resolved by registration or naming convention.
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrUnknownScope is returned when a scope was never registered.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrNoSearchIndex is returned by search operations when the registry
	// has no SearchIndex.
	ErrNoSearchIndex = errors.New("no search index configured")
)

// NotFoundError is returned by find-or-fail lookups.
type NotFoundError struct {
	Table string

	// ID is the looked-up id, or empty for predicate lookups.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Table, e.ID, ErrNotFound)
	}
	return fmt.Sprintf("%s: %s", e.Table, ErrNotFound)
}

// Unwrap returns ErrNotFound so errors.Is(err, ErrNotFound) holds.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IsNotFound returns true if the error is a NotFoundError.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
