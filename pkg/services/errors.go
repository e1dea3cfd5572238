// Package services provides the business operations behind the admin API:
// flow authoring, template management and run inspection.
package services

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/dealdrip/dealdrip/pkg/models"
	"github.com/dealdrip/dealdrip/pkg/persistence"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrFlowNil          = errors.New("flow cannot be nil")
	ErrTemplateNil      = errors.New("template cannot be nil")
	ErrTemplateChannel  = errors.New("template channel is not supported")
	ErrInvalidRunStatus = errors.New("invalid run status filter")
	ErrFlowIDRequired   = errors.New("flow ID is required")

	// Business logic conflicts (409 Conflict).
	ErrVersionConflict = errors.New("flow was modified concurrently")
)

// Not-found errors re-exported from the persistence layer.
var (
	ErrFlowNotFound     = persistence.ErrFlowNotFound
	ErrRunNotFound      = persistence.ErrRunNotFound
	ErrTemplateNotFound = persistence.ErrTemplateNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should return HTTP 400. Flow definition
// errors from the model layer and struct validation failures count too.
func IsValidationError(err error) bool {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return true
	}

	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrFlowNil) ||
		errors.Is(err, ErrTemplateNil) ||
		errors.Is(err, ErrTemplateChannel) ||
		errors.Is(err, ErrInvalidRunStatus) ||
		errors.Is(err, ErrFlowIDRequired) ||
		errors.Is(err, models.ErrFlowNoSteps) ||
		errors.Is(err, models.ErrDuplicateStepID) ||
		errors.Is(err, models.ErrDanglingStepRef) ||
		errors.Is(err, models.ErrStepCycle) ||
		errors.Is(err, models.ErrUnknownTrigger)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
