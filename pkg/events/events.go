// Package events defines event types and structures for definition lifecycle notifications.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the Kafka topic lifecycle events are published to.
const Topic = "veridian.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Definition lifecycle events.
	DefinitionPublishedEvent      EventType = "definition.published"
	DefinitionUnpublishedEvent    EventType = "definition.unpublished"
	DefinitionArchivedEvent       EventType = "definition.archived"
	DefinitionUnarchivedEvent     EventType = "definition.unarchived"
	DefinitionVersionCreatedEvent EventType = "definition.version_created"

	// Instance events emitted by the force-unpublish sweep.
	InstanceForceCancelledEvent EventType = "instance.force_cancelled"
)

// IdempotencyKey derives the deduplication key for events that can happen at
// most once per subject version, such as the forced cancellation of an
// instance. Re-emitting the same event coalesces into a single outbox record.
func IdempotencyKey(eventType EventType, subjectID string, subjectVersion int) string {
	return fmt.Sprintf("%s:%s:v%d", eventType, subjectID, subjectVersion)
}

// TransitionKey derives the deduplication key for definition lifecycle
// transitions. The revision segment separates a genuinely new transition from
// a retry of an earlier one: publish, unpublish, publish again yields three
// distinct keys even though the definition version never changes.
func TransitionKey(eventType EventType, subjectID string, subjectVersion, revision int) string {
	return fmt.Sprintf("%s:%s:v%d:r%d", eventType, subjectID, subjectVersion, revision)
}

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	TenantID     string    `json:"tenant_id"`
	DefinitionID string    `json:"definition_id"`
}

type DefinitionPublished struct {
	BaseEvent

	Name         string `json:"name"`
	Version      int    `json:"version"`
	PublishedBy  string `json:"published_by"`
	PublishNotes string `json:"publish_notes,omitempty"`
	Forced       bool   `json:"forced"`
}

func (e DefinitionPublished) GetType() EventType {
	return DefinitionPublishedEvent
}

type DefinitionUnpublished struct {
	BaseEvent

	Name               string `json:"name"`
	Version            int    `json:"version"`
	Forced             bool   `json:"forced"`
	CancelledInstances int    `json:"cancelled_instances"`
}

func (e DefinitionUnpublished) GetType() EventType {
	return DefinitionUnpublishedEvent
}

type DefinitionArchived struct {
	BaseEvent

	Name    string `json:"name"`
	Version int    `json:"version"`
}

func (e DefinitionArchived) GetType() EventType {
	return DefinitionArchivedEvent
}

type DefinitionUnarchived struct {
	BaseEvent

	Name    string `json:"name"`
	Version int    `json:"version"`
}

func (e DefinitionUnarchived) GetType() EventType {
	return DefinitionUnarchivedEvent
}

type DefinitionVersionCreated struct {
	BaseEvent

	Name          string `json:"name"`
	Version       int    `json:"version"`
	ParentID      string `json:"parent_id"`
	ParentVersion int    `json:"parent_version"`
	VersionNotes  string `json:"version_notes,omitempty"`
}

func (e DefinitionVersionCreated) GetType() EventType {
	return DefinitionVersionCreatedEvent
}

type InstanceForceCancelled struct {
	BaseEvent

	InstanceID        string `json:"instance_id"`
	DefinitionVersion int    `json:"definition_version"`
	CancelledBy       string `json:"cancelled_by"`
}

func (e InstanceForceCancelled) GetType() EventType {
	return InstanceForceCancelledEvent
}

func NewBaseEvent(eventType EventType, tenantID, definitionID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		TenantID:     tenantID,
		DefinitionID: definitionID,
	}
}
