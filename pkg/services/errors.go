// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/veridianhq/veridian/pkg/graph"
	"github.com/veridianhq/veridian/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrDefinitionNameTaken = persistence.ErrDefinitionAlreadyExists
	ErrGraphBodyRequired   = errors.New("graph body is required")
	ErrDefinitionNil       = errors.New("definition cannot be nil")

	// Graph Validation Errors (422 Unprocessable Entity).
	ErrGraphValidationFailed = errors.New("graph validation failed")

	// Business Logic Conflicts (409 Conflict).
	ErrCannotModifyPublished = errors.New("cannot modify the graph of a published definition")
	ErrActiveInstancesExist  = errors.New("definition has active instances")
	ErrForcePublishBlocked   = errors.New("staged graph body differs from the published body")
	ErrAlreadyArchived       = errors.New("definition is already archived")
	ErrNotArchived           = errors.New("definition is not archived")

	// Not Found (404).
	ErrDefinitionNotFound = persistence.ErrDefinitionNotFound
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

// ActiveInstancesError carries the active-instance count that blocked an
// unpublish, so callers can decide between waiting and forcing.
type ActiveInstancesError struct {
	DefinitionID string
	Count        int
}

func (e *ActiveInstancesError) Error() string {
	return fmt.Sprintf("definition %s has %d active instance(s); terminate them or force unpublish", e.DefinitionID, e.Count)
}

func (e *ActiveInstancesError) Unwrap() error {
	return ErrActiveInstancesExist
}

// ValidationFailedError carries the full validator output for a graph that
// failed strict validation during publish.
type ValidationFailedError struct {
	DefinitionID string
	Result       *graph.ValidationResult
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("definition %s failed validation with %d error(s)", e.DefinitionID, len(e.Result.Errors))
}

func (e *ValidationFailedError) Unwrap() error {
	return ErrGraphValidationFailed
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrGraphBodyRequired) ||
		errors.Is(err, ErrDefinitionNil)
}

// IsGraphValidationError checks for a strict-validation failure (HTTP 422).
func IsGraphValidationError(err error) bool {
	return errors.Is(err, ErrGraphValidationFailed)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyPublished) ||
		errors.Is(err, ErrActiveInstancesExist) ||
		errors.Is(err, ErrForcePublishBlocked) ||
		errors.Is(err, ErrAlreadyArchived) ||
		errors.Is(err, ErrNotArchived) ||
		errors.Is(err, ErrDefinitionNameTaken)
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
