// Package outbox implements the transactional outbox: records are written in
// the same transaction as the state change they describe, and a dispatcher
// drains them to the event bus afterwards.
package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/veridianhq/veridian/pkg/eventbus"
	"github.com/veridianhq/veridian/pkg/models"
)

// NewRecord serializes an event into a pending outbox record. The caller
// supplies the idempotency key (events.TransitionKey or events.IdempotencyKey)
// so that re-running the same transition never yields a second record while a
// later transition of the same definition version still does.
func NewRecord(tenantID string, event eventbus.Event, idempotencyKey string) (*models.OutboxRecord, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate outbox record ID: %w", err)
	}

	return &models.OutboxRecord{
		ID:             id.String(),
		TenantID:       tenantID,
		EventType:      string(event.GetType()),
		EventData:      payload,
		IdempotencyKey: idempotencyKey,
	}, nil
}
