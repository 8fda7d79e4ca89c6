package store

import "errors"

var (
	// ErrNotFound is returned when a referenced id is absent.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an optimistic-lock update loses the
	// compare-and-swap on version.
	ErrVersionConflict = errors.New("version conflict")
)
