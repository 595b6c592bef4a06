// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all backends use.
var (
	// ErrDefinitionNotFound indicates no definition exists for the tenant and
	// identifier. Cross-tenant lookups intentionally collapse into this error.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionAlreadyExists indicates a (tenant, name, version) collision.
	ErrDefinitionAlreadyExists = errors.New("workflow definition already exists")

	// ErrPublishedImmutable indicates an attempt to change the graph body of a
	// published definition. This fires at the storage boundary and signals a
	// defect in the caller, not a business condition.
	ErrPublishedImmutable = errors.New("graph body of a published definition is immutable")

	// ErrInstanceNotFound indicates an instance was not found for the tenant.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceNotActive indicates a cancel attempt on an instance that is
	// not Running or Suspended.
	ErrInstanceNotActive = errors.New("workflow instance is not active")

	// ErrOutboxRecordNotFound indicates an outbox record was not found.
	ErrOutboxRecordNotFound = errors.New("outbox record not found")
)

// DefinitionError wraps definition-related errors with operation context.
type DefinitionError struct {
	Op           string // Operation being performed (e.g. "Save", "List")
	TenantID     string
	DefinitionID string
	Err          error
}

func (e *DefinitionError) Error() string {
	if e.DefinitionID != "" {
		return fmt.Sprintf("%s failed for definition %s (tenant %s): %v", e.Op, e.DefinitionID, e.TenantID, e.Err)
	}

	return fmt.Sprintf("%s failed (tenant %s): %v", e.Op, e.TenantID, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a definition error with context.
func NewDefinitionError(op, tenantID, definitionID string, err error) *DefinitionError {
	return &DefinitionError{
		Op:           op,
		TenantID:     tenantID,
		DefinitionID: definitionID,
		Err:          err,
	}
}

// InstanceError wraps instance-related errors with operation context.
type InstanceError struct {
	Op         string
	TenantID   string
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s failed for instance %s (tenant %s): %v", e.Op, e.InstanceID, e.TenantID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsDefinitionAlreadyExists checks for a (tenant, name, version) collision.
func IsDefinitionAlreadyExists(err error) bool {
	return errors.Is(err, ErrDefinitionAlreadyExists)
}

// IsPublishedImmutable checks for a storage-boundary immutability violation.
func IsPublishedImmutable(err error) bool {
	return errors.Is(err, ErrPublishedImmutable)
}

// IsInstanceNotActive checks for a cancel attempt on a settled instance.
func IsInstanceNotActive(err error) bool {
	return errors.Is(err, ErrInstanceNotActive)
}
