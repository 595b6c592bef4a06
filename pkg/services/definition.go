package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/veridianhq/veridian/pkg/events"
	"github.com/veridianhq/veridian/pkg/graph"
	"github.com/veridianhq/veridian/pkg/models"
	"github.com/veridianhq/veridian/pkg/otelhelper"
	"github.com/veridianhq/veridian/pkg/outbox"
	"github.com/veridianhq/veridian/pkg/persistence"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Definition orchestrates the lifecycle of workflow definitions: drafts,
// publishing, unpublishing, archival and version forks. Every mutating
// operation runs inside one storage transaction together with the outbox
// records it emits.
type Definition struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewDefinition creates a new definition lifecycle service.
func NewDefinition(store persistence.Persistence, logger *slog.Logger) *Definition {
	return &Definition{
		persistence: store,
		validate:    validator.New(),
		tracer:      otel.Tracer("veridian.services.definition"),
		logger:      logger,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *Definition) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateDraftRequest contains the fields for creating a new draft definition.
type CreateDraftRequest struct {
	Name        string `validate:"required,min=3"`
	GraphBody   json.RawMessage
	Description string
	Tags        []string
}

// CreateDraft inserts a version-1 draft. Drafts may be structurally
// incomplete, but the graph body must still be well formed (parseable, no
// duplicate ids, no dangling references).
func (s *Definition) CreateDraft(ctx context.Context, tenantID string, req CreateDraftRequest) (*models.WorkflowDefinition, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "CreateDraft",
		attribute.String(otelhelper.TenantIDKey, tenantID))
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError("CreateDraft", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	if len(req.GraphBody) == 0 {
		return nil, ErrGraphBodyRequired
	}

	if result := graph.Validate(req.GraphBody, false); !result.IsValid {
		return nil, &ValidationFailedError{Result: result}
	}

	definition := &models.WorkflowDefinition{
		TenantID:    tenantID,
		Name:        req.Name,
		Version:     1,
		GraphBody:   req.GraphBody,
		Description: req.Description,
		Tags:        req.Tags,
	}

	err := s.persistence.Definitions().Save(ctx, definition)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	s.logger.InfoContext(ctx, "Draft definition created",
		"tenant_id", tenantID, "definition_id", definition.ID, "name", definition.Name)

	return definition, nil
}

// UpdateDraft replaces the graph body of a draft. Publishing freezes the
// body, so the published case fails before touching storage.
func (s *Definition) UpdateDraft(ctx context.Context, tenantID, id string, graphBody json.RawMessage) (*models.WorkflowDefinition, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "UpdateDraft",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.DefinitionIDKey, id))
	defer span.End()

	if len(graphBody) == 0 {
		return nil, ErrGraphBodyRequired
	}

	if result := graph.Validate(graphBody, false); !result.IsValid {
		return nil, &ValidationFailedError{DefinitionID: id, Result: result}
	}

	var updated *models.WorkflowDefinition

	err := s.persistence.WithinTx(ctx, func(ctx context.Context, tx persistence.TxStore) error {
		definition, err := tx.Definitions().GetByIDForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}

		if definition == nil {
			return ErrDefinitionNotFound
		}

		if definition.IsPublished {
			return ErrCannotModifyPublished
		}

		definition.GraphBody = graphBody

		if err := tx.Definitions().Save(ctx, definition); err != nil {
			return err
		}

		updated = definition

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return updated, nil
}

// UpdateMetadataRequest patches the always-mutable metadata fields. Nil
// pointers leave the corresponding field untouched.
type UpdateMetadataRequest struct {
	Description  *string
	Tags         []string
	PublishNotes *string
	VersionNotes *string
}

// UpdateMetadata edits description, tags and notes. This path never touches
// the graph body, so it works in every lifecycle state including published
// and archived.
func (s *Definition) UpdateMetadata(ctx context.Context, tenantID, id string, req UpdateMetadataRequest) (*models.WorkflowDefinition, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "UpdateMetadata",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.DefinitionIDKey, id))
	defer span.End()

	var updated *models.WorkflowDefinition

	err := s.persistence.WithinTx(ctx, func(ctx context.Context, tx persistence.TxStore) error {
		definition, err := tx.Definitions().GetByIDForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}

		if definition == nil {
			return ErrDefinitionNotFound
		}

		if req.Description != nil {
			definition.Description = *req.Description
		}

		if req.Tags != nil {
			definition.Tags = req.Tags
		}

		if req.PublishNotes != nil {
			definition.PublishNotes = *req.PublishNotes
		}

		if req.VersionNotes != nil {
			definition.VersionNotes = *req.VersionNotes
		}

		if err := tx.Definitions().Save(ctx, definition); err != nil {
			return err
		}

		updated = definition

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return updated, nil
}

// PublishRequest contains the publish parameters. GraphBody, when set, is the
// body the caller staged in the editor; for drafts it is saved before
// publishing, for published definitions it is compared against the frozen
// body to detect drift.
type PublishRequest struct {
	PublishedBy  string `validate:"required"`
	PublishNotes string
	GraphBody    json.RawMessage
	Force        bool
}

// Publish freezes the graph body and announces the definition. Re-publishing
// an already-published definition succeeds idempotently without a duplicate
// event; a forced re-publish whose staged body drifted from the frozen body
// is refused, since force can never smuggle a graph change past immutability.
func (s *Definition) Publish(ctx context.Context, tenantID, id string, req PublishRequest) (*models.WorkflowDefinition, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "Publish",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.DefinitionIDKey, id))
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError("Publish", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	var published *models.WorkflowDefinition

	err := s.persistence.WithinTx(ctx, func(ctx context.Context, tx persistence.TxStore) error {
		definition, err := tx.Definitions().GetByIDForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}

		if definition == nil {
			return ErrDefinitionNotFound
		}

		if definition.IsPublished {
			if req.Force && req.GraphBody != nil && !models.GraphBodiesEqual(definition.GraphBody, req.GraphBody) {
				return ErrForcePublishBlocked
			}

			published = definition

			return nil
		}

		if req.GraphBody != nil {
			definition.GraphBody = req.GraphBody
		}

		if result := graph.Validate(definition.GraphBody, true); !result.IsValid {
			return &ValidationFailedError{DefinitionID: id, Result: result}
		}

		now := time.Now().UTC()
		definition.IsPublished = true
		definition.PublishedAt = &now
		definition.PublishedBy = req.PublishedBy
		definition.Revision++

		if req.PublishNotes != "" {
			definition.PublishNotes = req.PublishNotes
		}

		if err := tx.Definitions().Save(ctx, definition); err != nil {
			return err
		}

		event := events.DefinitionPublished{
			BaseEvent:    events.NewBaseEvent(events.DefinitionPublishedEvent, tenantID, definition.ID),
			Name:         definition.Name,
			Version:      definition.Version,
			PublishedBy:  definition.PublishedBy,
			PublishNotes: definition.PublishNotes,
			Forced:       req.Force,
		}

		record, err := outbox.NewRecord(tenantID, event,
			events.TransitionKey(events.DefinitionPublishedEvent, definition.ID, definition.Version, definition.Revision))
		if err != nil {
			return err
		}

		if err := tx.Outbox().Enqueue(ctx, record); err != nil {
			return err
		}

		published = definition

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	s.logger.InfoContext(ctx, "Definition published",
		"tenant_id", tenantID, "definition_id", id, "version", published.Version)

	return published, nil
}

// UnpublishRequest contains the unpublish parameters.
type UnpublishRequest struct {
	Force       bool
	RequestedBy string
}

// Unpublish returns a published definition to draft. With active instances
// present the call fails unless forced; a forced unpublish cancels every
// Running and Suspended instance of this definition, for this tenant only,
// inside the same transaction that flips the publish flag. A failure anywhere
// rolls back the whole sweep.
func (s *Definition) Unpublish(ctx context.Context, tenantID, id string, req UnpublishRequest) (*models.WorkflowDefinition, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "Unpublish",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.DefinitionIDKey, id))
	defer span.End()

	var unpublished *models.WorkflowDefinition

	err := s.persistence.WithinTx(ctx, func(ctx context.Context, tx persistence.TxStore) error {
		definition, err := tx.Definitions().GetByIDForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}

		if definition == nil {
			return ErrDefinitionNotFound
		}

		if !definition.IsPublished {
			unpublished = definition

			return nil
		}

		counts, err := tx.Instances().ActiveCounts(ctx, tenantID, definition.ID)
		if err != nil {
			return err
		}

		cancelled := 0

		if counts.Total() > 0 {
			if !req.Force {
				return &ActiveInstancesError{DefinitionID: definition.ID, Count: counts.Total()}
			}

			active, err := tx.Instances().ListActive(ctx, tenantID, definition.ID)
			if err != nil {
				return err
			}

			for _, instance := range active {
				err := tx.Instances().CancelInstance(ctx, tenantID, instance.ID, req.RequestedBy)
				if err != nil {
					return err
				}

				event := events.InstanceForceCancelled{
					BaseEvent:         events.NewBaseEvent(events.InstanceForceCancelledEvent, tenantID, definition.ID),
					InstanceID:        instance.ID,
					DefinitionVersion: instance.DefinitionVersion,
					CancelledBy:       req.RequestedBy,
				}

				// Per-instance keys stay revision-free: an instance is
				// cancelled at most once, and a retried sweep must coalesce.
				record, err := outbox.NewRecord(tenantID, event,
					events.IdempotencyKey(events.InstanceForceCancelledEvent, instance.ID, definition.Version))
				if err != nil {
					return err
				}

				if err := tx.Outbox().Enqueue(ctx, record); err != nil {
					return err
				}

				cancelled++
			}
		}

		definition.IsPublished = false
		definition.PublishedAt = nil
		definition.PublishedBy = ""
		definition.Revision++

		if err := tx.Definitions().Save(ctx, definition); err != nil {
			return err
		}

		event := events.DefinitionUnpublished{
			BaseEvent:          events.NewBaseEvent(events.DefinitionUnpublishedEvent, tenantID, definition.ID),
			Name:               definition.Name,
			Version:            definition.Version,
			Forced:             req.Force,
			CancelledInstances: cancelled,
		}

		record, err := outbox.NewRecord(tenantID, event,
			events.TransitionKey(events.DefinitionUnpublishedEvent, definition.ID, definition.Version, definition.Revision))
		if err != nil {
			return err
		}

		if err := tx.Outbox().Enqueue(ctx, record); err != nil {
			return err
		}

		unpublished = definition

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return unpublished, nil
}

// Archive marks a definition as archived. Archival is a listing-visibility
// flag: a published, archived definition keeps its running instances.
func (s *Definition) Archive(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "Archive",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.DefinitionIDKey, id))
	defer span.End()

	var archived *models.WorkflowDefinition

	err := s.persistence.WithinTx(ctx, func(ctx context.Context, tx persistence.TxStore) error {
		definition, err := tx.Definitions().GetByIDForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}

		if definition == nil {
			return ErrDefinitionNotFound
		}

		if definition.IsArchived {
			return ErrAlreadyArchived
		}

		now := time.Now().UTC()
		definition.IsArchived = true
		definition.ArchivedAt = &now
		definition.Revision++

		if err := tx.Definitions().Save(ctx, definition); err != nil {
			return err
		}

		event := events.DefinitionArchived{
			BaseEvent: events.NewBaseEvent(events.DefinitionArchivedEvent, tenantID, definition.ID),
			Name:      definition.Name,
			Version:   definition.Version,
		}

		record, err := outbox.NewRecord(tenantID, event,
			events.TransitionKey(events.DefinitionArchivedEvent, definition.ID, definition.Version, definition.Revision))
		if err != nil {
			return err
		}

		if err := tx.Outbox().Enqueue(ctx, record); err != nil {
			return err
		}

		archived = definition

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return archived, nil
}

// Unarchive restores an archived definition to the default listing.
func (s *Definition) Unarchive(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "Unarchive",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.DefinitionIDKey, id))
	defer span.End()

	var restored *models.WorkflowDefinition

	err := s.persistence.WithinTx(ctx, func(ctx context.Context, tx persistence.TxStore) error {
		definition, err := tx.Definitions().GetByIDForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}

		if definition == nil {
			return ErrDefinitionNotFound
		}

		if !definition.IsArchived {
			return ErrNotArchived
		}

		definition.IsArchived = false
		definition.ArchivedAt = nil
		definition.Revision++

		if err := tx.Definitions().Save(ctx, definition); err != nil {
			return err
		}

		event := events.DefinitionUnarchived{
			BaseEvent: events.NewBaseEvent(events.DefinitionUnarchivedEvent, tenantID, definition.ID),
			Name:      definition.Name,
			Version:   definition.Version,
		}

		record, err := outbox.NewRecord(tenantID, event,
			events.TransitionKey(events.DefinitionUnarchivedEvent, definition.ID, definition.Version, definition.Revision))
		if err != nil {
			return err
		}

		if err := tx.Outbox().Enqueue(ctx, record); err != nil {
			return err
		}

		restored = definition

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return restored, nil
}

// CreateVersionRequest contains the fork parameters. A nil GraphBody copies
// the source body.
type CreateVersionRequest struct {
	GraphBody    json.RawMessage
	VersionNotes string
}

// CreateNewVersion forks a definition into a new draft row at
// max(version)+1. The source row is never mutated, and existing instances
// stay bound to the version they started under.
func (s *Definition) CreateNewVersion(ctx context.Context, tenantID, id string, req CreateVersionRequest) (*models.WorkflowDefinition, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "CreateNewVersion",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.DefinitionIDKey, id))
	defer span.End()

	var created *models.WorkflowDefinition

	err := s.persistence.WithinTx(ctx, func(ctx context.Context, tx persistence.TxStore) error {
		source, err := tx.Definitions().GetByIDForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}

		if source == nil {
			return ErrDefinitionNotFound
		}

		graphBody := source.GraphBody
		if req.GraphBody != nil {
			graphBody = req.GraphBody
		}

		if result := graph.Validate(graphBody, false); !result.IsValid {
			return &ValidationFailedError{DefinitionID: id, Result: result}
		}

		maxVersion, err := tx.Definitions().MaxVersion(ctx, tenantID, source.Name)
		if err != nil {
			return err
		}

		parentID := source.ID
		fork := &models.WorkflowDefinition{
			TenantID:     tenantID,
			Name:         source.Name,
			Version:      maxVersion + 1,
			GraphBody:    graphBody,
			Description:  source.Description,
			Tags:         source.Tags,
			VersionNotes: req.VersionNotes,
			ParentID:     &parentID,
		}

		if err := tx.Definitions().Save(ctx, fork); err != nil {
			return err
		}

		event := events.DefinitionVersionCreated{
			BaseEvent:     events.NewBaseEvent(events.DefinitionVersionCreatedEvent, tenantID, fork.ID),
			Name:          fork.Name,
			Version:       fork.Version,
			ParentID:      source.ID,
			ParentVersion: source.Version,
			VersionNotes:  req.VersionNotes,
		}

		// The fork row is fresh, so its id and version alone key the event.
		record, err := outbox.NewRecord(tenantID, event,
			events.IdempotencyKey(events.DefinitionVersionCreatedEvent, fork.ID, fork.Version))
		if err != nil {
			return err
		}

		if err := tx.Outbox().Enqueue(ctx, record); err != nil {
			return err
		}

		created = fork

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	s.logger.InfoContext(ctx, "Definition version created",
		"tenant_id", tenantID, "definition_id", created.ID, "version", created.Version, "parent_id", id)

	return created, nil
}

// FetchByID retrieves a definition by its ID.
func (s *Definition) FetchByID(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if definition == nil {
		return nil, ErrDefinitionNotFound
	}

	return definition, nil
}

// GetUsage returns the per-status instance aggregation for one definition,
// computed in a single query.
func (s *Definition) GetUsage(ctx context.Context, tenantID, id string) (*models.UsageCounts, error) {
	definition, err := s.FetchByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	usage, err := s.persistence.Instances().UsageCounts(ctx, tenantID, []string{definition.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate instance usage: %w", err)
	}

	return usage[definition.ID], nil
}

// ListDefinitionsRequest contains options for listing definitions.
type ListDefinitionsRequest struct {
	IncludeArchived bool
	Published       *bool
	Search          string
	Page            int `validate:"min=0"`
	PageSize        int `validate:"min=0,max=100"`
}

// DefinitionListItem is one listing row decorated with its usage counts.
type DefinitionListItem struct {
	*models.WorkflowDefinition

	Usage *models.UsageCounts `json:"usage"`
}

// ListDefinitionsResponse contains one page of definitions.
type ListDefinitionsResponse struct {
	Items       []*DefinitionListItem `json:"items"`
	TotalCount  int64                 `json:"total_count"`
	Page        int                   `json:"page"`
	PageSize    int                   `json:"page_size"`
	HasNextPage bool                  `json:"has_next_page"`
}

// List pages through definitions, newest first. Usage counts for the whole
// page are aggregated in one batched query, not per-row round trips.
func (s *Definition) List(ctx context.Context, tenantID string, req ListDefinitionsRequest) (*ListDefinitionsResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	page, err := s.persistence.Definitions().List(ctx, tenantID, persistence.ListDefinitionsOptions{
		IncludeArchived: req.IncludeArchived,
		Published:       req.Published,
		Search:          req.Search,
		Limit:           req.PageSize,
		Offset:          (req.Page - 1) * req.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	ids := make([]string, 0, len(page.Items))
	for _, definition := range page.Items {
		ids = append(ids, definition.ID)
	}

	usage, err := s.persistence.Instances().UsageCounts(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate instance usage: %w", err)
	}

	items := make([]*DefinitionListItem, 0, len(page.Items))
	for _, definition := range page.Items {
		items = append(items, &DefinitionListItem{
			WorkflowDefinition: definition,
			Usage:              usage[definition.ID],
		})
	}

	return &ListDefinitionsResponse{
		Items:       items,
		TotalCount:  page.TotalCount,
		Page:        req.Page,
		PageSize:    req.PageSize,
		HasNextPage: int64(req.Page*req.PageSize) < page.TotalCount,
	}, nil
}

// ValidateGraph runs the validator without touching storage, for editor
// pre-flight checks.
func (s *Definition) ValidateGraph(_ context.Context, body json.RawMessage, strict bool) *graph.ValidationResult {
	return graph.Validate(body, strict)
}

// ListDeadLetters exposes dead-lettered outbox records for operator review.
func (s *Definition) ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]*models.OutboxRecord, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	records, err := s.persistence.Outbox().ListDeadLetters(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter records: %w", err)
	}

	return records, nil
}
