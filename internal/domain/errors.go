package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds for the closed error taxonomy. Row-level validation errors
// never escalate on their own; every other kind aborts the current
// entity-type run without crossing entity boundaries.
var (
	ErrValidation      = errors.New("validation error")
	ErrMapping         = errors.New("mapping error")
	ErrBcpUploadFailed = errors.New("bulk copy upload failed")
	ErrMaxErrorCount   = errors.New("max error count reached")
	ErrDatabase        = errors.New("database error")
)

// ValidationError is a recoverable row-level failure. The pipeline routes it
// to the error sink and continues.
type ValidationError struct {
	Entity    EntityType
	RowNumber int
	Reason    ReasonCode
	Field     string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s row %d: %s (%s)", e.Entity, e.RowNumber, e.Reason, e.Field)
	}
	return fmt.Sprintf("%s row %d: %s", e.Entity, e.RowNumber, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// MappingError is fatal: the mapping store is unreachable or a uniqueness
// invariant was violated.
type MappingError struct {
	Entity EntityType
	Op     string
	Err    error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s mapping %s: %v", e.Entity, e.Op, e.Err)
}

func (e *MappingError) Unwrap() error { return ErrMapping }

// BcpUploadError is fatal: the external bulk-copy invocation failed. No
// automatic retry; retry is an operator decision.
type BcpUploadError struct {
	Table string
	File  string
	Err   error
}

func (e *BcpUploadError) Error() string {
	return fmt.Sprintf("bulk copy into %s from %s: %v", e.Table, e.File, e.Err)
}

func (e *BcpUploadError) Unwrap() error { return ErrBcpUploadFailed }

// MaxErrorCountError is fatal and policy-driven: the rejected-row count
// exceeded the configured threshold. Files produced so far stay on disk for
// inspection.
type MaxErrorCountError struct {
	Entity   EntityType
	Rejected int
	Max      int
}

func (e *MaxErrorCountError) Error() string {
	return fmt.Sprintf("%s: rejected rows %d exceeded configured maximum %d", e.Entity, e.Rejected, e.Max)
}

func (e *MaxErrorCountError) Unwrap() error { return ErrMaxErrorCount }

// DatabaseError covers any other fatal database failure during mapping,
// delete, or load-adjacent operations.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return ErrDatabase }
