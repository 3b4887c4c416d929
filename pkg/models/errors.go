package models

import "errors"

// Engine error taxonomy. Callers branch on these with errors.Is; every error
// returned by the services and repository wraps exactly one of them.
var (
	// ErrValidation indicates malformed input, such as a missing mandatory
	// rejection comment or metadata that does not match the workflow kind.
	ErrValidation = errors.New("validation failed")

	// ErrPermission indicates the actor lacks the required role or override.
	ErrPermission = errors.New("permission denied")

	// ErrState indicates the operation is invalid for the current instance,
	// step, or consensus state (terminal instance, out-of-order step, ...).
	ErrState = errors.New("invalid state")

	// ErrConflict indicates an optimistic-concurrency loss: the record
	// changed between read and conditional write. The only retryable error.
	ErrConflict = errors.New("conflicting update")

	// ErrNotFound indicates an unknown instance, step, member, or review.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRunning indicates a live instance already exists for the
	// same definition and subject.
	ErrAlreadyRunning = errors.New("workflow already running for subject")

	// ErrDefinitionInactive indicates the definition is not active.
	ErrDefinitionInactive = errors.New("workflow definition is not active")
)
