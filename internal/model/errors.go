package model

import "errors"

// Domain errors shared across packages. Component-specific failures live with
// their components; these are the ones the service layer and every store
// implementation need to agree on.
var (
	// ErrNotFound is returned by stores when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPaused is returned when a gated operation is attempted while the
	// engine is paused.
	ErrPaused = errors.New("engine is paused")
)
