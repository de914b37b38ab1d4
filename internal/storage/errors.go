package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrVersionConflict is returned when an append's expected version does not
	// match the tenant's current event version. The caller must reload the log
	// and re-derive its intent before retrying.
	ErrVersionConflict = errors.New("storage: event version conflict")

	// ErrSessionConflict is returned when a session was written by another turn
	// since it was loaded.
	ErrSessionConflict = errors.New("storage: session revision conflict")
)
