package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridianhq/veridian/pkg/events"
)

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	key := events.IdempotencyKey(events.DefinitionPublishedEvent, "def-1", 3)
	assert.Equal(t, "definition.published:def-1:v3", key)

	// The version segment keeps transitions of different versions distinct.
	assert.NotEqual(t, key, events.IdempotencyKey(events.DefinitionPublishedEvent, "def-1", 4))
	assert.NotEqual(t, key, events.IdempotencyKey(events.DefinitionUnpublishedEvent, "def-1", 3))
}

func TestTransitionKey(t *testing.T) {
	t.Parallel()

	key := events.TransitionKey(events.DefinitionPublishedEvent, "def-1", 1, 1)
	assert.Equal(t, "definition.published:def-1:v1:r1", key)

	// The same transition at a later revision is a new logical event; the key
	// must not collide with the earlier one even though the version repeats.
	republished := events.TransitionKey(events.DefinitionPublishedEvent, "def-1", 1, 3)
	assert.Equal(t, "definition.published:def-1:v1:r3", republished)
	assert.NotEqual(t, key, republished)
}

func TestNewBaseEvent(t *testing.T) {
	t.Parallel()

	event := events.NewBaseEvent(events.DefinitionArchivedEvent, "tenant-a", "def-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, events.DefinitionArchivedEvent, event.Type)
	assert.Equal(t, "tenant-a", event.TenantID)
	assert.Equal(t, "def-1", event.DefinitionID)
	assert.False(t, event.Timestamp.IsZero())

	other := events.NewBaseEvent(events.DefinitionArchivedEvent, "tenant-a", "def-1")
	require.NotEqual(t, event.ID, other.ID)
}

func TestEventGetType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event    interface{ GetType() events.EventType }
		expected events.EventType
	}{
		{event: events.DefinitionPublished{}, expected: events.DefinitionPublishedEvent},
		{event: events.DefinitionUnpublished{}, expected: events.DefinitionUnpublishedEvent},
		{event: events.DefinitionArchived{}, expected: events.DefinitionArchivedEvent},
		{event: events.DefinitionUnarchived{}, expected: events.DefinitionUnarchivedEvent},
		{event: events.DefinitionVersionCreated{}, expected: events.DefinitionVersionCreatedEvent},
		{event: events.InstanceForceCancelled{}, expected: events.InstanceForceCancelledEvent},
	}

	for _, testCase := range tests {
		assert.Equal(t, testCase.expected, testCase.event.GetType())
	}
}
