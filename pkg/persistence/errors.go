package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations use.
var (
	ErrFlowNotFound     = errors.New("flow not found")
	ErrFlowVersionGone  = errors.New("flow version not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrDuplicateAttempt = errors.New("delivery attempt already recorded")
)

// StoreError wraps storage errors with operation context.
type StoreError struct {
	Op     string // Operation being performed (e.g. "GetByID", "Save")
	Entity string // Entity kind ("flow", "run", ...)
	ID     string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a storage error with context.
func NewStoreError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Err: err}
}

// IsNotFound checks whether an error indicates a missing entity of any kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrFlowVersionGone) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrTemplateNotFound)
}
