// Package persistence provides the storage abstraction for workflow
// definitions, instance queries and the event outbox. Every operation is
// explicitly tenant-scoped; a lookup for a row belonging to another tenant
// behaves exactly like a lookup for a row that does not exist.
package persistence

import (
	"context"

	"github.com/veridianhq/veridian/pkg/models"
)

// ListDefinitionsOptions filters and pages a definition listing.
type ListDefinitionsOptions struct {
	IncludeArchived bool
	Published       *bool
	Search          string
	Limit           int
	Offset          int
}

// DefinitionPage is one page of a listing plus the unpaged total.
type DefinitionPage struct {
	Items      []*models.WorkflowDefinition
	TotalCount int64
}

// DefinitionRepository persists workflow definitions.
//
// Save enforces the immutability invariant at the storage boundary: writing a
// row whose persisted state is published with a different graph body fails
// with ErrPublishedImmutable no matter which caller attempts it. This is the
// defense-in-depth backstop behind the service-level guard.
type DefinitionRepository interface {
	// GetByID returns nil, nil when the id does not exist for this tenant,
	// including when it exists for a different tenant.
	GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error)
	// GetByIDForUpdate is GetByID with a row lock; valid only inside a
	// transaction obtained through WithinTx.
	GetByIDForUpdate(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	List(ctx context.Context, tenantID string, opts ListDefinitionsOptions) (*DefinitionPage, error)
	// MaxVersion returns the highest version stored for the name, 0 when none.
	MaxVersion(ctx context.Context, tenantID, name string) (int, error)
}

// InstanceRepository is the read-side collaborator over workflow instances.
// The only mutation this core performs is the force-unpublish cancellation
// sweep, always bounded by (tenant, definition).
type InstanceRepository interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.Instance, error)
	Save(ctx context.Context, instance *models.Instance) error
	// ActiveCounts aggregates Running and Suspended in a single query.
	ActiveCounts(ctx context.Context, tenantID, definitionID string) (models.ActiveCounts, error)
	// UsageCounts aggregates per-status counts for many definitions in one
	// round trip; the result map is keyed by definition id.
	UsageCounts(ctx context.Context, tenantID string, definitionIDs []string) (map[string]*models.UsageCounts, error)
	ListActive(ctx context.Context, tenantID, definitionID string) ([]*models.Instance, error)
	// CancelInstance moves a Running or Suspended instance to Cancelled;
	// any other status fails with ErrInstanceNotActive.
	CancelInstance(ctx context.Context, tenantID, instanceID, cancelledBy string) error
}

// OutboxRepository persists pending events. Enqueue coalesces on
// (tenant, idempotency key): inserting a duplicate is a success no-op.
type OutboxRepository interface {
	Enqueue(ctx context.Context, record *models.OutboxRecord) error
	// ClaimUnprocessed returns up to limit unprocessed, non-dead-lettered
	// records, oldest first, locked for the calling transaction where the
	// backend supports it.
	ClaimUnprocessed(ctx context.Context, limit int) ([]*models.OutboxRecord, error)
	MarkProcessed(ctx context.Context, id string) error
	// MarkFailed increments the attempt count and flips the record to dead
	// letter once maxAttempts is reached. Dead-lettered records are never
	// deleted; they wait for operator intervention.
	MarkFailed(ctx context.Context, id, deliveryError string, maxAttempts int) error
	ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]*models.OutboxRecord, error)
	CountPending(ctx context.Context) (int64, error)
}

// TxStore exposes the repositories bound to one open transaction. Writes
// performed through it commit or roll back together.
type TxStore interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	Outbox() OutboxRepository
}

// Persistence is the top-level storage handle.
type Persistence interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	Outbox() OutboxRepository

	// WithinTx runs fn inside a single transaction. A non-nil error from fn
	// rolls everything back and is returned unchanged.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
