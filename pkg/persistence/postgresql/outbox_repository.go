package postgresql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/veridianhq/veridian/pkg/models"
	"github.com/veridianhq/veridian/pkg/persistence"
)

const outboxColumns = `
	id
  , tenant_id
  , event_type
  , event_data
  , idempotency_key
  , created_at
  , processed_at
  , attempts
  , last_error
  , dead_letter
`

// OutboxRepository handles outbox record database operations.
type OutboxRepository struct {
	q      querier
	logger *slog.Logger
	inTx   bool
}

func (r *OutboxRepository) Enqueue(ctx context.Context, record *models.OutboxRecord) error {
	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate outbox record ID: %w", err)
		}

		record.ID = id.String()
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	// Re-enqueueing the same logical event is a success no-op.
	query := `
		INSERT INTO outbox_records (id, tenant_id, event_type, event_data, idempotency_key, created_at, attempts, last_error, dead_letter)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`

	_, err := r.q.ExecContext(ctx, query,
		record.ID,
		record.TenantID,
		record.EventType,
		[]byte(record.EventData),
		record.IdempotencyKey,
		record.CreatedAt,
		record.Attempts,
		record.LastError,
		record.DeadLetter,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox record: %w", err)
	}

	return nil
}

// ClaimUnprocessed reads pending records oldest first. Inside a transaction
// the rows are locked with SKIP LOCKED so concurrent dispatchers never drain
// the same record twice.
func (r *OutboxRepository) ClaimUnprocessed(ctx context.Context, limit int) ([]*models.OutboxRecord, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_records
		WHERE processed_at IS NULL AND dead_letter = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`

	if r.inTx {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox records: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.OutboxRecord, 0, limit)

	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox records: %w", err)
	}

	return records, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id string) error {
	query := `UPDATE outbox_records SET processed_at = NOW() WHERE id = $1 AND processed_at IS NULL`

	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox record processed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrOutboxRecordNotFound
	}

	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id, deliveryError string, maxAttempts int) error {
	query := `
		UPDATE outbox_records
		SET attempts = attempts + 1,
		    last_error = $1,
		    dead_letter = (attempts + 1 >= $2)
		WHERE id = $3
	`

	result, err := r.q.ExecContext(ctx, query, deliveryError, maxAttempts, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox record failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrOutboxRecordNotFound
	}

	return nil
}

func (r *OutboxRepository) ListDeadLetters(ctx context.Context, tenantID string, limit int) ([]*models.OutboxRecord, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_records
		WHERE tenant_id = $1 AND dead_letter = TRUE
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead-letter records: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.OutboxRecord, 0)

	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead-letter records: %w", err)
	}

	return records, nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var pending int64

	query := `SELECT COUNT(*) FROM outbox_records WHERE processed_at IS NULL AND dead_letter = FALSE`

	err := r.q.QueryRowContext(ctx, query).Scan(&pending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending outbox records: %w", err)
	}

	return pending, nil
}

func (r *OutboxRepository) scanRecord(scanner interface {
	Scan(dest ...any) error
}) (*models.OutboxRecord, error) {
	var (
		record    models.OutboxRecord
		eventData []byte
	)

	err := scanner.Scan(
		&record.ID,
		&record.TenantID,
		&record.EventType,
		&eventData,
		&record.IdempotencyKey,
		&record.CreatedAt,
		&record.ProcessedAt,
		&record.Attempts,
		&record.LastError,
		&record.DeadLetter,
	)
	if err != nil {
		return nil, err
	}

	record.EventData = eventData

	return &record, nil
}
