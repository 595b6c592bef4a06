package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/veridianhq/veridian/pkg/models"
	"github.com/veridianhq/veridian/pkg/persistence"
)

const uniqueViolationCode = "23505"

const definitionColumns = `
	id
  , tenant_id
  , name
  , description
  , version
  , revision
  , graph_body
  , tags
  , is_published
  , published_at
  , published_by
  , publish_notes
  , version_notes
  , is_archived
  , archived_at
  , parent_id
  , created_at
  , updated_at
`

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	q      querier
	logger *slog.Logger
	inTx   bool
}

func (r *DefinitionRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE tenant_id = $1 AND id = $2`

	row := r.q.QueryRowContext(ctx, query, tenantID, id)

	definition, err := r.scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
	}

	return definition, nil
}

// GetByIDForUpdate reads a definition while holding a row lock, so that
// concurrent lifecycle transitions serialize instead of racing.
func (r *DefinitionRepository) GetByIDForUpdate(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	if !r.inTx {
		return r.GetByID(ctx, tenantID, id)
	}

	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE tenant_id = $1 AND id = $2 FOR UPDATE`

	row := r.q.QueryRowContext(ctx, query, tenantID, id)

	definition, err := r.scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
	}

	return definition, nil
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	now := time.Now().UTC()

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	// A published graph body can never be replaced, regardless of which code
	// path attempts the write.
	existingBody, existingPublished, err := r.currentGraphBody(ctx, definition.TenantID, definition.ID)
	if err != nil {
		return err
	}

	if existingPublished && !models.GraphBodiesEqual(existingBody, definition.GraphBody) {
		return persistence.NewDefinitionError("Save", definition.TenantID, definition.ID, persistence.ErrPublishedImmutable)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, tenant_id, name, description, version, revision, graph_body, tags,
			is_published, published_at, published_by, publish_notes, version_notes,
			is_archived, archived_at, parent_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			version = EXCLUDED.version,
			revision = EXCLUDED.revision,
			graph_body = EXCLUDED.graph_body,
			tags = EXCLUDED.tags,
			is_published = EXCLUDED.is_published,
			published_at = EXCLUDED.published_at,
			published_by = EXCLUDED.published_by,
			publish_notes = EXCLUDED.publish_notes,
			version_notes = EXCLUDED.version_notes,
			is_archived = EXCLUDED.is_archived,
			archived_at = EXCLUDED.archived_at,
			parent_id = EXCLUDED.parent_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.q.ExecContext(ctx, query,
		definition.ID,
		definition.TenantID,
		definition.Name,
		definition.Description,
		definition.Version,
		definition.Revision,
		[]byte(definition.GraphBody),
		pq.Array(definition.Tags),
		definition.IsPublished,
		definition.PublishedAt,
		nullableString(definition.PublishedBy),
		definition.PublishNotes,
		definition.VersionNotes,
		definition.IsArchived,
		definition.ArchivedAt,
		definition.ParentID,
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return persistence.NewDefinitionError("Save", definition.TenantID, definition.ID, persistence.ErrDefinitionAlreadyExists)
		}

		return fmt.Errorf("failed to save workflow definition: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) List(ctx context.Context, tenantID string, opts persistence.ListDefinitionsOptions) (*persistence.DefinitionPage, error) {
	query := `
		SELECT ` + definitionColumns + `
		  , COUNT(*) OVER() AS total_count
		FROM workflow_definitions
		WHERE tenant_id = $1
	`

	args := []any{tenantID}

	if !opts.IncludeArchived {
		query += ` AND is_archived = FALSE`
	}

	if opts.Published != nil {
		args = append(args, *opts.Published)
		query += fmt.Sprintf(` AND is_published = $%d`, len(args))
	}

	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		query += fmt.Sprintf(` AND (name ILIKE $%d OR description ILIKE $%d)`, len(args), len(args))
	}

	query += ` ORDER BY created_at DESC, id ASC`

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	page := &persistence.DefinitionPage{Items: make([]*models.WorkflowDefinition, 0)}

	for rows.Next() {
		definition, totalCount, err := r.scanDefinitionWithCount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}

		page.TotalCount = totalCount
		page.Items = append(page.Items, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow definitions: %w", err)
	}

	// An out-of-range page returns no rows, so the window count is lost.
	if len(page.Items) == 0 {
		page.TotalCount, err = r.countDefinitions(ctx, tenantID, opts)
		if err != nil {
			return nil, err
		}
	}

	return page, nil
}

func (r *DefinitionRepository) MaxVersion(ctx context.Context, tenantID, name string) (int, error) {
	var maxVersion int

	query := `SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE tenant_id = $1 AND name = $2`

	err := r.q.QueryRowContext(ctx, query, tenantID, name).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to query max definition version: %w", err)
	}

	return maxVersion, nil
}

func (r *DefinitionRepository) currentGraphBody(ctx context.Context, tenantID, id string) ([]byte, bool, error) {
	var (
		body      []byte
		published bool
	)

	query := `SELECT graph_body, is_published FROM workflow_definitions WHERE tenant_id = $1 AND id = $2`

	err := r.q.QueryRowContext(ctx, query, tenantID, id).Scan(&body, &published)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to query existing graph body: %w", err)
	}

	return body, published, nil
}

func (r *DefinitionRepository) countDefinitions(ctx context.Context, tenantID string, opts persistence.ListDefinitionsOptions) (int64, error) {
	query := `SELECT COUNT(*) FROM workflow_definitions WHERE tenant_id = $1`
	args := []any{tenantID}

	if !opts.IncludeArchived {
		query += ` AND is_archived = FALSE`
	}

	if opts.Published != nil {
		args = append(args, *opts.Published)
		query += fmt.Sprintf(` AND is_published = $%d`, len(args))
	}

	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		query += fmt.Sprintf(` AND (name ILIKE $%d OR description ILIKE $%d)`, len(args), len(args))
	}

	var total int64

	err := r.q.QueryRowContext(ctx, query, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflow definitions: %w", err)
	}

	return total, nil
}

func (r *DefinitionRepository) scanDefinition(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowDefinition, error) {
	var (
		definition  models.WorkflowDefinition
		graphBody   []byte
		publishedBy sql.NullString
	)

	err := scanner.Scan(
		&definition.ID,
		&definition.TenantID,
		&definition.Name,
		&definition.Description,
		&definition.Version,
		&definition.Revision,
		&graphBody,
		pq.Array(&definition.Tags),
		&definition.IsPublished,
		&definition.PublishedAt,
		&publishedBy,
		&definition.PublishNotes,
		&definition.VersionNotes,
		&definition.IsArchived,
		&definition.ArchivedAt,
		&definition.ParentID,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	definition.GraphBody = graphBody
	definition.PublishedBy = publishedBy.String

	return &definition, nil
}

func (r *DefinitionRepository) scanDefinitionWithCount(rows *sql.Rows) (*models.WorkflowDefinition, int64, error) {
	var (
		definition  models.WorkflowDefinition
		graphBody   []byte
		publishedBy sql.NullString
		totalCount  int64
	)

	err := rows.Scan(
		&definition.ID,
		&definition.TenantID,
		&definition.Name,
		&definition.Description,
		&definition.Version,
		&definition.Revision,
		&graphBody,
		pq.Array(&definition.Tags),
		&definition.IsPublished,
		&definition.PublishedAt,
		&publishedBy,
		&definition.PublishNotes,
		&definition.VersionNotes,
		&definition.IsArchived,
		&definition.ArchivedAt,
		&definition.ParentID,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&totalCount,
	)
	if err != nil {
		return nil, 0, err
	}

	definition.GraphBody = graphBody
	definition.PublishedBy = publishedBy.String

	return &definition, totalCount, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}

	return value
}
