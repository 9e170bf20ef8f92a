// Package engine implements the pipeline automation engine: the per-entry
// state machine, progress and SLA calculation, stage automation fan-out,
// manual overrides and the SLA breach sweep.
package engine

import (
	"errors"
	"fmt"
)

// Structural errors abort the requested operation before any mutation.
var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrEntryNotFound    = errors.New("pipeline entry not found")
	ErrStageNotFound    = errors.New("stage not found in pipeline")

	// ErrDuplicateEntry: the entity already has an open entry in this
	// pipeline.
	ErrDuplicateEntry = errors.New("entity already enrolled in pipeline")
	// ErrEntryTerminal: the entry is COMPLETED or CANCELLED and closed to
	// further movement.
	ErrEntryTerminal = errors.New("pipeline entry is terminal")
	// ErrConcurrentUpdate: the revision check lost every retry against
	// concurrent writers.
	ErrConcurrentUpdate = errors.New("entry was modified concurrently")
)

// ValidationError reports a malformed request payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err belongs to the NotFound class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPipelineNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrStageNotFound)
}

// IsConflict reports whether err belongs to the Conflict class.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateEntry) ||
		errors.Is(err, ErrEntryTerminal) ||
		errors.Is(err, ErrConcurrentUpdate)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
