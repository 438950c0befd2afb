// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. ErrNotFound means the row does not exist, ErrForbidden that
// it belongs to someone else, and ErrConflict that a guarded update lost
// its compare-and-swap because the row changed underneath it.
package repository

import "errors"

// ErrNotFound is returned when a lookup matches no row. Handlers should
// translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an update cannot be performed because of
// conflicting state, such as a status guard that no longer matches.
// Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
