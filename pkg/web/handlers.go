// Package web provides HTTP handlers and REST API endpoints for definition lifecycle management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/veridianhq/veridian/pkg/services"
)

type APIHandlers struct {
	definitionService *services.Definition
	validator         *validator.Validate
}

func NewAPIHandlers(definitionService *services.Definition, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		definitionService: definitionService,
		validator:         validator,
	}
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	req, err := h.parseListDefinitionsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.definitionService.List(c.Context(), tenantID(c), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, result)
}

// parseListDefinitionsRequest parses and validates query parameters for listing definitions.
func (h *APIHandlers) parseListDefinitionsRequest(c fiber.Ctx) (*services.ListDefinitionsRequest, error) {
	req := &services.ListDefinitionsRequest{}

	if pageStr := c.Query("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, err
		}

		req.Page = page
	}

	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		pageSize, err := strconv.Atoi(pageSizeStr)
		if err != nil {
			return nil, err
		}

		req.PageSize = pageSize
	}

	if includeArchivedStr := c.Query("include_archived"); includeArchivedStr != "" {
		includeArchived, err := strconv.ParseBool(includeArchivedStr)
		if err != nil {
			return nil, err
		}

		req.IncludeArchived = includeArchived
	}

	if publishedStr := c.Query("published"); publishedStr != "" {
		published, err := strconv.ParseBool(publishedStr)
		if err != nil {
			return nil, err
		}

		req.Published = &published
	}

	req.Search = c.Query("search")

	return req, nil
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	definition, err := h.definitionService.FetchByID(c.Context(), tenantID(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, definition)
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.definitionService.CreateDraft(c.Context(), tenantID(c), services.CreateDraftRequest{
		Name:        req.Name,
		GraphBody:   req.GraphBody,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusCreated, created)
}

func (h *APIHandlers) UpdateDefinitionGraph(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	var req UpdateGraphRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.definitionService.UpdateDraft(c.Context(), tenantID(c), id, req.GraphBody)
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, updated)
}

func (h *APIHandlers) UpdateDefinitionMetadata(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	var req UpdateMetadataRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.definitionService.UpdateMetadata(c.Context(), tenantID(c), id, services.UpdateMetadataRequest{
		Description:  req.Description,
		Tags:         req.Tags,
		PublishNotes: req.PublishNotes,
		VersionNotes: req.VersionNotes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, updated)
}

func (h *APIHandlers) PublishDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	var req PublishDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	published, err := h.definitionService.Publish(c.Context(), tenantID(c), id, services.PublishRequest{
		PublishedBy:  req.PublishedBy,
		PublishNotes: req.PublishNotes,
		GraphBody:    req.GraphBody,
		Force:        req.Force,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, published)
}

func (h *APIHandlers) UnpublishDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	var req UnpublishDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	unpublished, err := h.definitionService.Unpublish(c.Context(), tenantID(c), id, services.UnpublishRequest{
		Force:       req.Force,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, unpublished)
}

func (h *APIHandlers) ArchiveDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	archived, err := h.definitionService.Archive(c.Context(), tenantID(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, archived)
}

func (h *APIHandlers) UnarchiveDefinition(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	restored, err := h.definitionService.Unarchive(c.Context(), tenantID(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, restored)
}

func (h *APIHandlers) CreateDefinitionVersion(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	var req CreateVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.definitionService.CreateNewVersion(c.Context(), tenantID(c), id, services.CreateVersionRequest{
		GraphBody:    req.GraphBody,
		VersionNotes: req.VersionNotes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusCreated, created)
}

func (h *APIHandlers) GetDefinitionUsage(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Definition ID is required")
	}

	usage, err := h.definitionService.GetUsage(c.Context(), tenantID(c), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, usage)
}

func (h *APIHandlers) ValidateGraph(c fiber.Ctx) error {
	var req ValidateGraphRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result := h.definitionService.ValidateGraph(c.Context(), req.GraphBody, req.Strict)

	return respond(c, fiber.StatusOK, result)
}

func (h *APIHandlers) GetDeadLetters(c fiber.Ctx) error {
	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	records, err := h.definitionService.ListDeadLetters(c.Context(), tenantID(c), limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return respond(c, fiber.StatusOK, fiber.Map{"records": records, "count": len(records)})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.definitionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Veridian API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Veridian API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
