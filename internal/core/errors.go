package core

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed record. It is scoped to one record and
// never aborts its siblings.
type ValidationError struct {
	Index    int
	Merchant string
	Field    string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %d (%q): invalid %s: %v", e.Index, e.Merchant, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DuplicateError reports a key collision at statement or transaction level.
type DuplicateError struct {
	Entity string
	Key    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Entity, e.Key)
}

// ClassificationUnavailable wraps a failed or timed-out classifier call.
type ClassificationUnavailable struct {
	Items int
	Err   error
}

func (e *ClassificationUnavailable) Error() string {
	return fmt.Sprintf("classification unavailable for %d items: %v", e.Items, e.Err)
}

func (e *ClassificationUnavailable) Unwrap() error { return e.Err }

// StorageError marks a persistence failure that aborts the current run.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err unless it already is a StorageError.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func IsDuplicate(err error) bool {
	var de *DuplicateError
	return errors.As(err, &de)
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
