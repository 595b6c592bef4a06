package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridianhq/veridian/pkg/models"
	"github.com/veridianhq/veridian/pkg/persistence"
	"github.com/veridianhq/veridian/pkg/persistence/memory"
)

const testGraphBody = `{
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "end", "type": "end"}
	],
	"edges": [{"id": "e1", "from": "start", "to": "end"}]
}`

func newDefinition(tenantID, name string, version int) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID:  tenantID,
		Name:      name,
		Version:   version,
		GraphBody: json.RawMessage(testGraphBody),
	}
}

func TestDefinitionRepository_SaveAndGet(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	definition := newDefinition("tenant-a", "Invoice Approval", 1)

	require.NoError(t, store.Definitions().Save(ctx, definition))
	assert.NotEmpty(t, definition.ID)
	assert.False(t, definition.CreatedAt.IsZero())
	assert.False(t, definition.UpdatedAt.IsZero())

	loaded, err := store.Definitions().GetByID(ctx, "tenant-a", definition.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Invoice Approval", loaded.Name)

	// Repositories hand out copies; mutating a loaded row must not leak back
	// into the store.
	loaded.Name = "mutated"

	reloaded, err := store.Definitions().GetByID(ctx, "tenant-a", definition.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice Approval", reloaded.Name)
}

func TestDefinitionRepository_TenantIsolation(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	definition := newDefinition("tenant-a", "Invoice Approval", 1)
	require.NoError(t, store.Definitions().Save(ctx, definition))

	// A cross-tenant lookup behaves exactly like a missing row.
	other, err := store.Definitions().GetByID(ctx, "tenant-b", definition.ID)
	require.NoError(t, err)
	assert.Nil(t, other)

	// Uniqueness of (name, version) is scoped per tenant.
	require.NoError(t, store.Definitions().Save(ctx, newDefinition("tenant-b", "Invoice Approval", 1)))

	page, err := store.Definitions().List(ctx, "tenant-b", persistence.ListDefinitionsOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "tenant-b", page.Items[0].TenantID)
}

func TestDefinitionRepository_NameVersionCollision(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.Definitions().Save(ctx, newDefinition("tenant-a", "Invoice Approval", 1)))

	err := store.Definitions().Save(ctx, newDefinition("tenant-a", "Invoice Approval", 1))
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionAlreadyExists(err))

	// A second version of the same name is fine.
	require.NoError(t, store.Definitions().Save(ctx, newDefinition("tenant-a", "Invoice Approval", 2)))

	maxVersion, err := store.Definitions().MaxVersion(ctx, "tenant-a", "Invoice Approval")
	require.NoError(t, err)
	assert.Equal(t, 2, maxVersion)

	maxVersion, err = store.Definitions().MaxVersion(ctx, "tenant-a", "Unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, maxVersion)
}

func TestDefinitionRepository_PublishedBodyImmutable(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	definition := newDefinition("tenant-a", "Invoice Approval", 1)
	require.NoError(t, store.Definitions().Save(ctx, definition))

	now := time.Now().UTC()
	definition.IsPublished = true
	definition.PublishedAt = &now
	require.NoError(t, store.Definitions().Save(ctx, definition))

	// The guard lives at the storage boundary: even a direct repository write
	// with a drifted body is rejected.
	drifted := definition.Clone()
	drifted.GraphBody = json.RawMessage(`{"nodes": [{"id": "start", "type": "start"}], "edges": []}`)

	err := store.Definitions().Save(ctx, drifted)
	require.Error(t, err)
	assert.True(t, persistence.IsPublishedImmutable(err))

	// A formatting-only difference is not drift.
	reformatted := definition.Clone()
	reformatted.GraphBody = json.RawMessage(`{"edges": [{"id": "e1", "from": "start", "to": "end"}],
		"nodes": [{"id": "start", "type": "start"}, {"id": "end", "type": "end"}]}`)
	assert.NoError(t, store.Definitions().Save(ctx, reformatted))

	// Metadata stays mutable after publishing.
	definition.Description = "updated while published"
	assert.NoError(t, store.Definitions().Save(ctx, definition))
}

func TestDefinitionRepository_List(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)

	published := newDefinition("tenant-a", "Order Fulfilment", 1)
	published.IsPublished = true
	published.CreatedAt = base.Add(1 * time.Minute)

	draft := newDefinition("tenant-a", "Invoice Approval", 1)
	draft.Description = "approval chain for invoices"
	draft.CreatedAt = base.Add(2 * time.Minute)

	archived := newDefinition("tenant-a", "Legacy Onboarding", 1)
	archived.IsArchived = true
	archived.CreatedAt = base.Add(3 * time.Minute)

	for _, definition := range []*models.WorkflowDefinition{published, draft, archived} {
		require.NoError(t, store.Definitions().Save(ctx, definition))
	}

	t.Run("archived excluded by default", func(t *testing.T) {
		page, err := store.Definitions().List(ctx, "tenant-a", persistence.ListDefinitionsOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.TotalCount)
		require.Len(t, page.Items, 2)
		// Newest first.
		assert.Equal(t, "Invoice Approval", page.Items[0].Name)
		assert.Equal(t, "Order Fulfilment", page.Items[1].Name)
	})

	t.Run("include archived", func(t *testing.T) {
		page, err := store.Definitions().List(ctx, "tenant-a", persistence.ListDefinitionsOptions{IncludeArchived: true})
		require.NoError(t, err)
		assert.Equal(t, int64(3), page.TotalCount)
	})

	t.Run("published filter", func(t *testing.T) {
		isPublished := true
		page, err := store.Definitions().List(ctx, "tenant-a", persistence.ListDefinitionsOptions{Published: &isPublished})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "Order Fulfilment", page.Items[0].Name)
	})

	t.Run("search matches name and description", func(t *testing.T) {
		page, err := store.Definitions().List(ctx, "tenant-a", persistence.ListDefinitionsOptions{Search: "INVOICE"})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)

		page, err = store.Definitions().List(ctx, "tenant-a", persistence.ListDefinitionsOptions{Search: "approval chain"})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "Invoice Approval", page.Items[0].Name)
	})

	t.Run("pagination keeps the unpaged total", func(t *testing.T) {
		page, err := store.Definitions().List(ctx, "tenant-a", persistence.ListDefinitionsOptions{Limit: 1})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, int64(2), page.TotalCount)

		page, err = store.Definitions().List(ctx, "tenant-a", persistence.ListDefinitionsOptions{Limit: 1, Offset: 5})
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Equal(t, int64(2), page.TotalCount)
	})
}

func TestWithinTx_RollbackRestoresSnapshot(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	definition := newDefinition("tenant-a", "Invoice Approval", 1)
	require.NoError(t, store.Definitions().Save(ctx, definition))

	failure := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, tx persistence.TxStore) error {
		inner, err := tx.Definitions().GetByIDForUpdate(ctx, "tenant-a", definition.ID)
		require.NoError(t, err)
		require.NotNil(t, inner)

		inner.Description = "should never persist"
		require.NoError(t, tx.Definitions().Save(ctx, inner))

		require.NoError(t, tx.Outbox().Enqueue(ctx, &models.OutboxRecord{
			TenantID:       "tenant-a",
			EventType:      "definition.published",
			EventData:      json.RawMessage(`{}`),
			IdempotencyKey: "definition.published:x:v1",
		}))

		return failure
	})
	require.ErrorIs(t, err, failure)

	reloaded, err := store.Definitions().GetByID(ctx, "tenant-a", definition.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Description)

	pending, err := store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestOutboxRepository_EnqueueCoalesces(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	record := &models.OutboxRecord{
		TenantID:       "tenant-a",
		EventType:      "definition.published",
		EventData:      json.RawMessage(`{"version": 1}`),
		IdempotencyKey: "definition.published:def-1:v1",
	}

	require.NoError(t, store.Outbox().Enqueue(ctx, record))
	require.NoError(t, store.Outbox().Enqueue(ctx, record.Clone()))

	// Same key, different tenant, is a distinct record.
	require.NoError(t, store.Outbox().Enqueue(ctx, &models.OutboxRecord{
		TenantID:       "tenant-b",
		EventType:      "definition.published",
		EventData:      json.RawMessage(`{"version": 1}`),
		IdempotencyKey: "definition.published:def-1:v1",
	}))

	pending, err := store.Outbox().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	first := &models.OutboxRecord{
		TenantID:       "tenant-a",
		EventType:      "definition.published",
		EventData:      json.RawMessage(`{}`),
		IdempotencyKey: "definition.published:def-1:v1",
	}
	second := &models.OutboxRecord{
		TenantID:       "tenant-a",
		EventType:      "definition.archived",
		EventData:      json.RawMessage(`{}`),
		IdempotencyKey: "definition.archived:def-1:v1",
	}

	require.NoError(t, store.Outbox().Enqueue(ctx, first))
	require.NoError(t, store.Outbox().Enqueue(ctx, second))

	claimed, err := store.Outbox().ClaimUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	// Oldest first.
	assert.Equal(t, first.ID, claimed[0].ID)

	require.NoError(t, store.Outbox().MarkProcessed(ctx, first.ID))

	claimed, err = store.Outbox().ClaimUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, second.ID, claimed[0].ID)

	// Failures accumulate until the record dead-letters, after which it is
	// never claimed again.
	require.NoError(t, store.Outbox().MarkFailed(ctx, second.ID, "broker unavailable", 2))

	claimed, err = store.Outbox().ClaimUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)
	assert.Equal(t, "broker unavailable", claimed[0].LastError)

	require.NoError(t, store.Outbox().MarkFailed(ctx, second.ID, "broker unavailable", 2))

	claimed, err = store.Outbox().ClaimUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	deadLetters, err := store.Outbox().ListDeadLetters(ctx, "tenant-a", 10)
	require.NoError(t, err)
	require.Len(t, deadLetters, 1)
	assert.Equal(t, second.ID, deadLetters[0].ID)
	assert.True(t, deadLetters[0].DeadLetter)

	assert.ErrorIs(t, store.Outbox().MarkProcessed(ctx, "missing"), persistence.ErrOutboxRecordNotFound)
	assert.ErrorIs(t, store.Outbox().MarkFailed(ctx, "missing", "x", 3), persistence.ErrOutboxRecordNotFound)
}

func TestInstanceRepository_CountsAndCancel(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := context.Background()

	seed := func(definitionID string, status models.InstanceStatus) *models.Instance {
		instance := &models.Instance{
			TenantID:          "tenant-a",
			DefinitionID:      definitionID,
			DefinitionVersion: 1,
			Status:            status,
		}
		require.NoError(t, store.Instances().Save(ctx, instance))

		return instance
	}

	running := seed("def-1", models.InstanceStatusRunning)
	seed("def-1", models.InstanceStatusSuspended)
	completed := seed("def-1", models.InstanceStatusCompleted)
	seed("def-2", models.InstanceStatusRunning)

	counts, err := store.Instances().ActiveCounts(ctx, "tenant-a", "def-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Running)
	assert.Equal(t, 1, counts.Suspended)
	assert.Equal(t, 2, counts.Total())

	usage, err := store.Instances().UsageCounts(ctx, "tenant-a", []string{"def-1", "def-3"})
	require.NoError(t, err)
	require.Contains(t, usage, "def-1")
	assert.Equal(t, 1, usage["def-1"].Running)
	assert.Equal(t, 1, usage["def-1"].Suspended)
	assert.Equal(t, 1, usage["def-1"].Completed)
	assert.Equal(t, 2, usage["def-1"].ActiveInstanceCount)

	// Unknown definitions still get a zeroed entry.
	require.Contains(t, usage, "def-3")
	assert.Zero(t, usage["def-3"].ActiveInstanceCount)

	active, err := store.Instances().ListActive(ctx, "tenant-a", "def-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, store.Instances().CancelInstance(ctx, "tenant-a", running.ID, "admin@acme.test"))

	cancelled, err := store.Instances().GetByID(ctx, "tenant-a", running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
	assert.Equal(t, "admin@acme.test", cancelled.CancelledBy)
	assert.NotNil(t, cancelled.CompletedAt)

	err = store.Instances().CancelInstance(ctx, "tenant-a", completed.ID, "admin@acme.test")
	assert.ErrorIs(t, err, persistence.ErrInstanceNotActive)

	err = store.Instances().CancelInstance(ctx, "tenant-a", "missing", "admin@acme.test")
	assert.ErrorIs(t, err, persistence.ErrInstanceNotFound)

	// Cancelling from the wrong tenant must not find the instance.
	err = store.Instances().CancelInstance(ctx, "tenant-b", running.ID, "admin@acme.test")
	assert.ErrorIs(t, err, persistence.ErrInstanceNotFound)
}
