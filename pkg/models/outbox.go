package models

import (
	"encoding/json"
	"time"
)

// OutboxRecord is one durable, pending event. Records are written in the same
// transaction as the state change they describe and drained asynchronously;
// they are never physically deleted, only marked processed or dead-lettered.
type OutboxRecord struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	EventType      string          `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"last_error,omitempty"`
	DeadLetter     bool            `json:"dead_letter"`
}

// IsProcessed reports whether the record has been delivered.
func (r *OutboxRecord) IsProcessed() bool {
	return r.ProcessedAt != nil
}

// Clone returns a deep copy of the record.
func (r *OutboxRecord) Clone() *OutboxRecord {
	if r == nil {
		return nil
	}

	clone := *r
	clone.EventData = append(json.RawMessage(nil), r.EventData...)
	clone.ProcessedAt = copyTimePointer(r.ProcessedAt)

	return &clone
}
