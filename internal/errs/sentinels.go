// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the command targets an aggregate that never existed or is deleted.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (expected version mismatch on append).
	ErrVersionConflict = errors.New("version conflict")

	// ErrValidation marks field-level, user-correctable command errors. See ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrTenantMismatch indicates an attempt to touch another tenant's aggregate.
	ErrTenantMismatch = errors.New("tenant mismatch")

	// ErrTenantRequired indicates a tenant-scoped operation ran without an active tenant.
	ErrTenantRequired = errors.New("tenant required")

	// ErrProjectionGap indicates a sink received an event without having applied its predecessors.
	ErrProjectionGap = errors.New("projection gap")

	// ErrAlreadyExists indicates a create against an aggregate id that is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDuplicateCommand indicates an idempotency key that was already claimed.
	ErrDuplicateCommand = errors.New("duplicate command")

	// ErrCorruptStream indicates an event stream with gaps or duplicate sequence numbers.
	ErrCorruptStream = errors.New("corrupt event stream")

	// ErrUnauthorized indicates failed authentication at the boundary.
	ErrUnauthorized = errors.New("unauthorized")
)
