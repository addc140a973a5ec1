package triage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no record exists for the given id.
	ErrNotFound = errors.New("patient not found")
	// ErrEmptyQueue means no patient is waiting. Normal, not fatal.
	ErrEmptyQueue = errors.New("no patients waiting")
	// ErrNotWaiting means a targeted claim hit a record that is no longer
	// waiting. Safe to retry after re-reading state.
	ErrNotWaiting = errors.New("patient is not waiting")
	// ErrInvalidTransition means the operation is incompatible with the
	// record's current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrVersionConflict means the caller's expected version is stale;
	// the record was mutated first. Re-fetch and retry.
	ErrVersionConflict = errors.New("version conflict")
	// ErrAuditWrite means the audit event could not be durably recorded.
	// The enclosing mutation is rolled back; state and audit never diverge.
	ErrAuditWrite = errors.New("audit write failed")
)

// ValidationError rejects intake input before any record is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is an intake validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
