package registry

import "errors"

// Registry errors.
var (
	// ErrDuplicateID is returned when an id has already been registered.
	ErrDuplicateID = errors.New("tool id already registered")

	// ErrNotFound is returned when a tool id is not registered.
	ErrNotFound = errors.New("tool not found")

	// ErrInvalidEntry is returned when an entry fails registration checks.
	ErrInvalidEntry = errors.New("invalid tool entry")
)
