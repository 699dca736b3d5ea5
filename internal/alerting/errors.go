package alerting

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned by a Repository when a compare-and-swap write
	// lost against a concurrent writer.
	ErrConflict = errors.New("alerting: concurrent update conflict")

	// ErrDependencyUnavailable marks a failed enrichment or notification
	// source. It is logged and never fails ingestion.
	ErrDependencyUnavailable = errors.New("alerting: dependency unavailable")

	// ErrNotFound is returned when an alert or product does not exist.
	ErrNotFound = errors.New("alerting: not found")

	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("alerting: invalid status transition")
)

// ValidationError rejects a malformed Candidate before fingerprinting.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candidate: %s %s", e.Field, e.Reason)
}

// StorageError wraps a persistence failure surfaced to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err unless it is nil or already classified.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) || errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
