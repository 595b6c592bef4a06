package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veridianhq/veridian/pkg/models"
	"github.com/veridianhq/veridian/pkg/persistence/memory"
	"github.com/veridianhq/veridian/pkg/services"
	"github.com/veridianhq/veridian/pkg/web"
)

const testTenant = "tenant-a"

const decisionGraph = `{
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "gw", "type": "gateway", "strategy": "exclusive"},
		{"id": "approved", "type": "end"},
		{"id": "rejected", "type": "end"}
	],
	"edges": [
		{"id": "e1", "from": "start", "to": "gw"},
		{"id": "e2", "from": "gw", "to": "approved", "branchLabel": "true"},
		{"id": "e3", "from": "gw", "to": "rejected", "branchLabel": "false"}
	]
}`

const incompleteGraph = `{
	"nodes": [
		{"id": "start", "type": "start"},
		{"id": "gw", "type": "gateway", "strategy": "exclusive"},
		{"id": "approved", "type": "end"}
	],
	"edges": [
		{"id": "e1", "from": "start", "to": "gw"},
		{"id": "e2", "from": "gw", "to": "approved", "branchLabel": "true"}
	]
}`

func setupTestApp(t *testing.T) (*fiber.App, *services.Definition, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	definitionService := services.NewDefinition(store, logger)
	handlers := web.NewAPIHandlers(definitionService, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()

	definitions := app.Group("/definitions", web.RequireTenant())
	definitions.Get("/", handlers.GetDefinitions)
	definitions.Post("/", handlers.CreateDefinition)
	definitions.Post("/validate", handlers.ValidateGraph)
	definitions.Get("/:id", handlers.GetDefinition)
	definitions.Patch("/:id", handlers.UpdateDefinitionMetadata)
	definitions.Put("/:id/graph", handlers.UpdateDefinitionGraph)
	definitions.Post("/:id/publish", handlers.PublishDefinition)
	definitions.Post("/:id/unpublish", handlers.UnpublishDefinition)
	definitions.Post("/:id/archive", handlers.ArchiveDefinition)
	definitions.Post("/:id/unarchive", handlers.UnarchiveDefinition)
	definitions.Post("/:id/versions", handlers.CreateDefinitionVersion)
	definitions.Get("/:id/usage", handlers.GetDefinitionUsage)

	outboxGroup := app.Group("/outbox", web.RequireTenant())
	outboxGroup.Get("/dead-letters", handlers.GetDeadLetters)

	app.Get("/health", handlers.HealthCheck)

	return app, definitionService, store
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any, tenant string) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	if tenant != "" {
		request.Header.Set(web.TenantHeader, tenant)
	}

	response, err := app.Test(request)
	require.NoError(t, err)

	return response
}

func decodeBody(t *testing.T, response *http.Response, target any) {
	t.Helper()

	defer func() { _ = response.Body.Close() }()

	data, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target))
}

// decodeData unwraps the response envelope and decodes its data payload.
func decodeData(t *testing.T, response *http.Response, target any) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	decodeBody(t, response, &envelope)
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func createDefinitionViaAPI(t *testing.T, app *fiber.App, name string) models.WorkflowDefinition {
	t.Helper()

	response := doRequest(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
		Name:      name,
		GraphBody: json.RawMessage(decisionGraph),
	}, testTenant)
	require.Equal(t, http.StatusCreated, response.StatusCode)

	var created models.WorkflowDefinition
	decodeData(t, response, &created)

	return created
}

func TestRequireTenant(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	response := doRequest(t, app, http.MethodGet, "/definitions/", nil, "")
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)

	response = doRequest(t, app, http.MethodGet, "/definitions/", nil, testTenant)
	assert.Equal(t, http.StatusOK, response.StatusCode)
}

func TestCreateDefinition(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	t.Run("creates a draft", func(t *testing.T) {
		created := createDefinitionViaAPI(t, app, "Invoice Approval")

		assert.NotEmpty(t, created.ID)
		assert.Equal(t, testTenant, created.TenantID)
		assert.Equal(t, 1, created.Version)
		assert.False(t, created.IsPublished)
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodPost, "/definitions/", bytes.NewReader([]byte("{not json")))
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set(web.TenantHeader, testTenant)

		response, err := app.Test(request)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	})

	t.Run("rejects a missing graph body", func(t *testing.T) {
		response := doRequest(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
			Name: "No Graph",
		}, testTenant)
		assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	})

	t.Run("graph validation failures return 422 with the validator output", func(t *testing.T) {
		response := doRequest(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
			Name:      "Broken Graph",
			GraphBody: json.RawMessage(`{"nodes": [{"id": "a", "type": "start"}, {"id": "a", "type": "end"}], "edges": []}`),
		}, testTenant)
		assert.Equal(t, http.StatusUnprocessableEntity, response.StatusCode)

		var body struct {
			Success bool `json:"success"`
			Errors  []struct {
				Status int    `json:"status"`
				Detail string `json:"detail"`
			} `json:"errors"`
			Data struct {
				Validation struct {
					IsValid bool `json:"isValid"`
					Errors  []struct {
						Code string `json:"code"`
					} `json:"errors"`
				} `json:"validation"`
			} `json:"data"`
		}
		decodeBody(t, response, &body)
		assert.False(t, body.Success)
		require.NotEmpty(t, body.Errors)
		assert.Equal(t, 422, body.Errors[0].Status)
		assert.False(t, body.Data.Validation.IsValid)
		require.NotEmpty(t, body.Data.Validation.Errors)
		assert.Equal(t, "duplicate_node_id", body.Data.Validation.Errors[0].Code)
	})

	t.Run("name collisions return 409", func(t *testing.T) {
		createDefinitionViaAPI(t, app, "Order Fulfilment")

		response := doRequest(t, app, http.MethodPost, "/definitions/", web.CreateDefinitionRequest{
			Name:      "Order Fulfilment",
			GraphBody: json.RawMessage(decisionGraph),
		}, testTenant)
		assert.Equal(t, http.StatusConflict, response.StatusCode)
	})
}

func TestGetDefinition(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	created := createDefinitionViaAPI(t, app, "Invoice Approval")

	response := doRequest(t, app, http.MethodGet, "/definitions/"+created.ID, nil, testTenant)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var fetched models.WorkflowDefinition
	decodeData(t, response, &fetched)
	assert.Equal(t, created.ID, fetched.ID)

	response = doRequest(t, app, http.MethodGet, "/definitions/missing", nil, testTenant)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)

	// Failures ride in the same envelope, with the problem inside errors[].
	var failure struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Errors  []struct {
			Status int    `json:"status"`
			Type   string `json:"type"`
		} `json:"errors"`
	}
	decodeBody(t, response, &failure)
	assert.False(t, failure.Success)
	assert.NotEmpty(t, failure.Message)
	require.Len(t, failure.Errors, 1)
	assert.Equal(t, http.StatusNotFound, failure.Errors[0].Status)

	// Another tenant cannot see the row.
	response = doRequest(t, app, http.MethodGet, "/definitions/"+created.ID, nil, "tenant-b")
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestListDefinitions(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	createDefinitionViaAPI(t, app, "Invoice Approval")
	created := createDefinitionViaAPI(t, app, "Order Fulfilment")

	response := doRequest(t, app, http.MethodPost, "/definitions/"+created.ID+"/archive", nil, testTenant)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var page services.ListDefinitionsResponse

	response = doRequest(t, app, http.MethodGet, "/definitions/", nil, testTenant)
	require.Equal(t, http.StatusOK, response.StatusCode)
	decodeData(t, response, &page)
	assert.Equal(t, int64(1), page.TotalCount)

	response = doRequest(t, app, http.MethodGet, "/definitions/?include_archived=true&page_size=1", nil, testTenant)
	require.Equal(t, http.StatusOK, response.StatusCode)
	decodeData(t, response, &page)
	assert.Equal(t, int64(2), page.TotalCount)
	assert.Len(t, page.Items, 1)
	assert.True(t, page.HasNextPage)

	response = doRequest(t, app, http.MethodGet, "/definitions/?page=bogus", nil, testTenant)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestPublishLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	app, _, store := setupTestApp(t)

	created := createDefinitionViaAPI(t, app, "Invoice Approval")

	t.Run("publish", func(t *testing.T) {
		response := doRequest(t, app, http.MethodPost, "/definitions/"+created.ID+"/publish", web.PublishDefinitionRequest{
			PublishedBy: "release-bot@acme.test",
		}, testTenant)
		require.Equal(t, http.StatusOK, response.StatusCode)

		var published models.WorkflowDefinition
		decodeData(t, response, &published)
		assert.True(t, published.IsPublished)
	})

	t.Run("publish without published_by is a 400", func(t *testing.T) {
		response := doRequest(t, app, http.MethodPost, "/definitions/"+created.ID+"/publish", web.PublishDefinitionRequest{}, testTenant)
		assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	})

	t.Run("graph updates on a published definition are a 409", func(t *testing.T) {
		response := doRequest(t, app, http.MethodPut, "/definitions/"+created.ID+"/graph", web.UpdateGraphRequest{
			GraphBody: json.RawMessage(incompleteGraph),
		}, testTenant)
		assert.Equal(t, http.StatusConflict, response.StatusCode)
	})

	t.Run("metadata updates still work", func(t *testing.T) {
		description := "updated while published"
		response := doRequest(t, app, http.MethodPatch, "/definitions/"+created.ID, web.UpdateMetadataRequest{
			Description: &description,
		}, testTenant)
		require.Equal(t, http.StatusOK, response.StatusCode)

		var updated models.WorkflowDefinition
		decodeData(t, response, &updated)
		assert.Equal(t, description, updated.Description)
	})

	t.Run("unpublish with active instances is a 409", func(t *testing.T) {
		instance := &models.Instance{
			TenantID:          testTenant,
			DefinitionID:      created.ID,
			DefinitionVersion: 1,
			Status:            models.InstanceStatusRunning,
		}
		require.NoError(t, store.Instances().Save(context.Background(), instance))

		response := doRequest(t, app, http.MethodPost, "/definitions/"+created.ID+"/unpublish", web.UnpublishDefinitionRequest{}, testTenant)
		assert.Equal(t, http.StatusConflict, response.StatusCode)
	})

	t.Run("forced unpublish succeeds", func(t *testing.T) {
		response := doRequest(t, app, http.MethodPost, "/definitions/"+created.ID+"/unpublish", web.UnpublishDefinitionRequest{
			Force:       true,
			RequestedBy: "admin@acme.test",
		}, testTenant)
		require.Equal(t, http.StatusOK, response.StatusCode)

		var unpublished models.WorkflowDefinition
		decodeData(t, response, &unpublished)
		assert.False(t, unpublished.IsPublished)
	})
}

func TestCreateDefinitionVersionOverHTTP(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	created := createDefinitionViaAPI(t, app, "Invoice Approval")

	response := doRequest(t, app, http.MethodPost, "/definitions/"+created.ID+"/versions", web.CreateVersionRequest{
		VersionNotes: "second iteration",
	}, testTenant)
	require.Equal(t, http.StatusCreated, response.StatusCode)

	var fork models.WorkflowDefinition
	decodeData(t, response, &fork)
	assert.Equal(t, 2, fork.Version)
	require.NotNil(t, fork.ParentID)
	assert.Equal(t, created.ID, *fork.ParentID)
}

func TestGetDefinitionUsage(t *testing.T) {
	t.Parallel()

	app, _, store := setupTestApp(t)

	created := createDefinitionViaAPI(t, app, "Invoice Approval")

	require.NoError(t, store.Instances().Save(context.Background(), &models.Instance{
		TenantID:          testTenant,
		DefinitionID:      created.ID,
		DefinitionVersion: 1,
		Status:            models.InstanceStatusRunning,
	}))

	response := doRequest(t, app, http.MethodGet, "/definitions/"+created.ID+"/usage", nil, testTenant)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var usage models.UsageCounts
	decodeData(t, response, &usage)
	assert.Equal(t, 1, usage.Running)
	assert.Equal(t, 1, usage.ActiveInstanceCount)
}

func TestValidateGraphEndpoint(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	response := doRequest(t, app, http.MethodPost, "/definitions/validate", web.ValidateGraphRequest{
		GraphBody: json.RawMessage(incompleteGraph),
		Strict:    true,
	}, testTenant)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var result struct {
		IsValid bool `json:"isValid"`
		Errors  []struct {
			Code   string `json:"code"`
			NodeID string `json:"node_id"`
		} `json:"errors"`
	}
	decodeData(t, response, &result)
	assert.False(t, result.IsValid)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, "missing_branch", result.Errors[0].Code)
	assert.Equal(t, "gw", result.Errors[0].NodeID)

	response = doRequest(t, app, http.MethodPost, "/definitions/validate", web.ValidateGraphRequest{
		GraphBody: json.RawMessage(incompleteGraph),
	}, testTenant)
	require.Equal(t, http.StatusOK, response.StatusCode)
	decodeData(t, response, &result)
	assert.True(t, result.IsValid)
}

func TestGetDeadLetters(t *testing.T) {
	t.Parallel()

	app, _, store := setupTestApp(t)
	ctx := context.Background()

	record := &models.OutboxRecord{
		TenantID:       testTenant,
		EventType:      "definition.published",
		EventData:      json.RawMessage(`{}`),
		IdempotencyKey: "definition.published:def-1:v1",
	}
	require.NoError(t, store.Outbox().Enqueue(ctx, record))
	require.NoError(t, store.Outbox().MarkFailed(ctx, record.ID, "broker unavailable", 1))

	response := doRequest(t, app, http.MethodGet, "/outbox/dead-letters", nil, testTenant)
	require.Equal(t, http.StatusOK, response.StatusCode)

	var body struct {
		Count   int                    `json:"count"`
		Records []*models.OutboxRecord `json:"records"`
	}
	decodeData(t, response, &body)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Records, 1)
	assert.Equal(t, record.ID, body.Records[0].ID)

	// Dead letters are tenant-scoped.
	response = doRequest(t, app, http.MethodGet, "/outbox/dead-letters", nil, "tenant-b")
	require.Equal(t, http.StatusOK, response.StatusCode)
	decodeData(t, response, &body)
	assert.Zero(t, body.Count)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	response := doRequest(t, app, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, response.StatusCode)

	var body struct {
		Status string `json:"status"`
	}
	decodeBody(t, response, &body)
	assert.Equal(t, "healthy", body.Status)
}
