package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veridianhq/veridian/pkg/models"
	"github.com/veridianhq/veridian/pkg/persistence"
)

type outboxRepository struct {
	p    *Persistence
	inTx bool
}

func (r *outboxRepository) Enqueue(_ context.Context, record *models.OutboxRecord) error {
	if err := validateTenant(record.TenantID); err != nil {
		return err
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	// Coalesce on (tenant, idempotency key): re-enqueueing the same logical
	// event is a success no-op, mirroring ON CONFLICT DO NOTHING.
	for _, existing := range r.p.state.outbox {
		if existing.TenantID == record.TenantID && existing.IdempotencyKey == record.IdempotencyKey {
			return nil
		}
	}

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

	r.p.state.outbox = append(r.p.state.outbox, record.Clone())

	return nil
}

func (r *outboxRepository) ClaimUnprocessed(_ context.Context, limit int) ([]*models.OutboxRecord, error) {
	unlock := lock(r.p, r.inTx)
	defer unlock()

	claimed := make([]*models.OutboxRecord, 0, limit)

	for _, record := range r.p.state.outbox {
		if record.IsProcessed() || record.DeadLetter {
			continue
		}

		claimed = append(claimed, record.Clone())

		if limit > 0 && len(claimed) >= limit {
			break
		}
	}

	return claimed, nil
}

func (r *outboxRepository) MarkProcessed(_ context.Context, id string) error {
	unlock := lock(r.p, r.inTx)
	defer unlock()

	record := r.find(id)
	if record == nil {
		return persistence.ErrOutboxRecordNotFound
	}

	now := time.Now().UTC()
	record.ProcessedAt = &now

	return nil
}

func (r *outboxRepository) MarkFailed(_ context.Context, id, deliveryError string, maxAttempts int) error {
	unlock := lock(r.p, r.inTx)
	defer unlock()

	record := r.find(id)
	if record == nil {
		return persistence.ErrOutboxRecordNotFound
	}

	record.Attempts++
	record.LastError = deliveryError

	if record.Attempts >= maxAttempts {
		record.DeadLetter = true
	}

	return nil
}

func (r *outboxRepository) ListDeadLetters(_ context.Context, tenantID string, limit int) ([]*models.OutboxRecord, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	deadLetters := make([]*models.OutboxRecord, 0)

	for _, record := range r.p.state.outbox {
		if record.TenantID != tenantID || !record.DeadLetter {
			continue
		}

		deadLetters = append(deadLetters, record.Clone())

		if limit > 0 && len(deadLetters) >= limit {
			break
		}
	}

	return deadLetters, nil
}

func (r *outboxRepository) CountPending(_ context.Context) (int64, error) {
	unlock := lock(r.p, r.inTx)
	defer unlock()

	var pending int64

	for _, record := range r.p.state.outbox {
		if !record.IsProcessed() && !record.DeadLetter {
			pending++
		}
	}

	return pending, nil
}

func (r *outboxRepository) find(id string) *models.OutboxRecord {
	for _, record := range r.p.state.outbox {
		if record.ID == id {
			return record
		}
	}

	return nil
}
