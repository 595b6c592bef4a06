package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridianhq/veridian/pkg/models"
)

func TestWorkflowDefinitionClone(t *testing.T) {
	t.Parallel()

	publishedAt := time.Now().UTC()
	parentID := "parent-1"

	original := &models.WorkflowDefinition{
		ID:          "def-1",
		TenantID:    "tenant-a",
		Name:        "Invoice Approval",
		Version:     2,
		GraphBody:   json.RawMessage(`{"nodes": [], "edges": []}`),
		IsPublished: true,
		PublishedAt: &publishedAt,
		ParentID:    &parentID,
		Tags:        []string{"finance", "approvals"},
	}

	clone := original.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, original, clone)

	clone.GraphBody[0] = 'X'
	clone.Tags[0] = "mutated"
	*clone.PublishedAt = publishedAt.Add(time.Hour)
	*clone.ParentID = "mutated"

	assert.Equal(t, json.RawMessage(`{"nodes": [], "edges": []}`), original.GraphBody)
	assert.Equal(t, "finance", original.Tags[0])
	assert.True(t, original.PublishedAt.Equal(publishedAt))
	assert.Equal(t, "parent-1", *original.ParentID)

	var nilDefinition *models.WorkflowDefinition
	assert.Nil(t, nilDefinition.Clone())
}

func TestWorkflowDefinitionIsDraft(t *testing.T) {
	t.Parallel()

	definition := &models.WorkflowDefinition{}
	assert.True(t, definition.IsDraft())

	definition.IsPublished = true
	assert.False(t, definition.IsDraft())
}

func TestGraphBodiesEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		left     string
		right    string
		expected bool
	}{
		{
			name:     "byte identical",
			left:     `{"nodes": [], "edges": []}`,
			right:    `{"nodes": [], "edges": []}`,
			expected: true,
		},
		{
			name:     "whitespace only difference",
			left:     `{"nodes": [], "edges": []}`,
			right:    "{\n  \"nodes\": [],\n  \"edges\": []\n}",
			expected: true,
		},
		{
			name:     "key order difference",
			left:     `{"nodes": [{"id": "a", "type": "start"}], "edges": []}`,
			right:    `{"edges": [], "nodes": [{"type": "start", "id": "a"}]}`,
			expected: true,
		},
		{
			name:     "structural drift",
			left:     `{"nodes": [{"id": "a", "type": "start"}], "edges": []}`,
			right:    `{"nodes": [{"id": "b", "type": "start"}], "edges": []}`,
			expected: false,
		},
		{
			name:     "left not json",
			left:     `{"nodes":`,
			right:    `{"nodes": []}`,
			expected: false,
		},
		{
			name:     "right not json",
			left:     `{"nodes": []}`,
			right:    `{"nodes":`,
			expected: false,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			equal := models.GraphBodiesEqual(
				json.RawMessage(testCase.left),
				json.RawMessage(testCase.right),
			)
			assert.Equal(t, testCase.expected, equal)
		})
	}
}

func TestInstanceStatusIsActive(t *testing.T) {
	t.Parallel()

	assert.True(t, models.InstanceStatusRunning.IsActive())
	assert.True(t, models.InstanceStatusSuspended.IsActive())
	assert.False(t, models.InstanceStatusCompleted.IsActive())
	assert.False(t, models.InstanceStatusCancelled.IsActive())
	assert.False(t, models.InstanceStatusFailed.IsActive())
}

func TestOutboxRecordIsProcessed(t *testing.T) {
	t.Parallel()

	record := &models.OutboxRecord{}
	assert.False(t, record.IsProcessed())

	now := time.Now().UTC()
	record.ProcessedAt = &now
	assert.True(t, record.IsProcessed())
}
