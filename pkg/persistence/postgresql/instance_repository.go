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

const instanceColumns = `
	id
  , tenant_id
  , definition_id
  , definition_version
  , status
  , started_at
  , completed_at
  , cancelled_by
`

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	q      querier
	logger *slog.Logger
}

func (r *InstanceRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE tenant_id = $1 AND id = $2`

	row := r.q.QueryRowContext(ctx, query, tenantID, id)

	instance, err := r.scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
	}

	return instance, nil
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.Instance) error {
	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	if instance.StartedAt.IsZero() {
		instance.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workflow_instances (id, tenant_id, definition_id, definition_version, status, started_at, completed_at, cancelled_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			cancelled_by = EXCLUDED.cancelled_by
	`

	_, err := r.q.ExecContext(ctx, query,
		instance.ID,
		instance.TenantID,
		instance.DefinitionID,
		instance.DefinitionVersion,
		instance.Status,
		instance.StartedAt,
		instance.CompletedAt,
		instance.CancelledBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow instance: %w", err)
	}

	return nil
}

func (r *InstanceRepository) ActiveCounts(ctx context.Context, tenantID, definitionID string) (models.ActiveCounts, error) {
	counts := models.ActiveCounts{}

	query := `
		SELECT status, COUNT(*)
		FROM workflow_instances
		WHERE tenant_id = $1 AND definition_id = $2 AND status IN ($3, $4)
		GROUP BY status
	`

	rows, err := r.q.QueryContext(ctx, query, tenantID, definitionID,
		models.InstanceStatusRunning, models.InstanceStatusSuspended)
	if err != nil {
		return counts, fmt.Errorf("failed to query active instance counts: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var (
			status models.InstanceStatus
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return counts, fmt.Errorf("failed to scan active instance count: %w", err)
		}

		switch status {
		case models.InstanceStatusRunning:
			counts.Running = count
		case models.InstanceStatusSuspended:
			counts.Suspended = count
		}
	}

	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("error iterating active instance counts: %w", err)
	}

	return counts, nil
}

func (r *InstanceRepository) UsageCounts(ctx context.Context, tenantID string, definitionIDs []string) (map[string]*models.UsageCounts, error) {
	usage := make(map[string]*models.UsageCounts, len(definitionIDs))
	for _, id := range definitionIDs {
		usage[id] = &models.UsageCounts{}
	}

	if len(definitionIDs) == 0 {
		return usage, nil
	}

	query := `
		SELECT definition_id, status, COUNT(*)
		FROM workflow_instances
		WHERE tenant_id = $1 AND definition_id = ANY($2)
		GROUP BY definition_id, status
	`

	rows, err := r.q.QueryContext(ctx, query, tenantID, pq.Array(definitionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query instance usage counts: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	for rows.Next() {
		var (
			definitionID string
			status       models.InstanceStatus
			count        int
		)

		if err := rows.Scan(&definitionID, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan instance usage count: %w", err)
		}

		counts, exists := usage[definitionID]
		if !exists {
			continue
		}

		switch status {
		case models.InstanceStatusRunning:
			counts.Running = count
		case models.InstanceStatusSuspended:
			counts.Suspended = count
		case models.InstanceStatusCompleted:
			counts.Completed = count
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instance usage counts: %w", err)
	}

	for _, counts := range usage {
		counts.ActiveInstanceCount = counts.Running + counts.Suspended
	}

	return usage, nil
}

func (r *InstanceRepository) ListActive(ctx context.Context, tenantID, definitionID string) ([]*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE tenant_id = $1 AND definition_id = $2 AND status IN ($3, $4)
		ORDER BY started_at ASC, id ASC
	`

	rows, err := r.q.QueryContext(ctx, query, tenantID, definitionID,
		models.InstanceStatusRunning, models.InstanceStatusSuspended)
	if err != nil {
		return nil, fmt.Errorf("failed to query active instances: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active instances: %w", err)
	}

	return instances, nil
}

func (r *InstanceRepository) CancelInstance(ctx context.Context, tenantID, instanceID, cancelledBy string) error {
	query := `
		UPDATE workflow_instances
		SET status = $1, completed_at = NOW(), cancelled_by = $2
		WHERE tenant_id = $3 AND id = $4 AND status IN ($5, $6)
	`

	result, err := r.q.ExecContext(ctx, query,
		models.InstanceStatusCancelled,
		cancelledBy,
		tenantID,
		instanceID,
		models.InstanceStatusRunning,
		models.InstanceStatusSuspended,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel workflow instance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		existing, err := r.GetByID(ctx, tenantID, instanceID)
		if err != nil {
			return err
		}

		if existing == nil {
			return &persistence.InstanceError{Op: "CancelInstance", TenantID: tenantID, InstanceID: instanceID, Err: persistence.ErrInstanceNotFound}
		}

		return &persistence.InstanceError{Op: "CancelInstance", TenantID: tenantID, InstanceID: instanceID, Err: persistence.ErrInstanceNotActive}
	}

	return nil
}

func (r *InstanceRepository) scanInstance(scanner interface {
	Scan(dest ...any) error
}) (*models.Instance, error) {
	var instance models.Instance

	err := scanner.Scan(
		&instance.ID,
		&instance.TenantID,
		&instance.DefinitionID,
		&instance.DefinitionVersion,
		&instance.Status,
		&instance.StartedAt,
		&instance.CompletedAt,
		&instance.CancelledBy,
	)
	if err != nil {
		return nil, err
	}

	return &instance, nil
}
