// Package store holds the record types shared by the server, the push hub and
// the client-side synchronization engine, together with the sentinel errors
// they exchange. Callers should match errors with errors.Is.
package store

import "errors"

var (
	// Lookup errors.
	ErrNotFound = errors.New("not found")

	// Durable-store call failed; the optimistic change was rolled back.
	ErrPersistence = errors.New("persistence failure")

	ErrPermissionDenied = errors.New("permission denied")

	// Validation errors.
	ErrUnknownKind   = errors.New("unknown record kind")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidSlot   = errors.New("invalid slot")
	ErrInvalidDay    = errors.New("invalid day")
	ErrInvalidInput  = errors.New("invalid input")

	// A temporary identifier reached an operation that needs a durable one.
	ErrTemporaryID = errors.New("record not yet persisted")
)
