package service

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an item id is not in the current snapshot.
var ErrNotFound = errors.New("inventory item not found")

// ValidationError reports user input that failed a precondition. No state changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// PersistenceError reports a store call that failed or was rejected.
// For a batch finish, Written lists the ids that did persist and Failed the
// staged positions that did not.
type PersistenceError struct {
	Op      string
	Err     error
	Written []string
	Failed  []int
}

func (e *PersistenceError) Error() string {
	if len(e.Written) > 0 || len(e.Failed) > 0 {
		return fmt.Sprintf("%s: %d written, %d failed: %v", e.Op, len(e.Written), len(e.Failed), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Partial reports whether some, but not all, writes of the operation went through.
func (e *PersistenceError) Partial() bool {
	return len(e.Written) > 0
}

func persistence(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
