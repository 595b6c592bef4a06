// Package web provides HTTP request and response types for the definition API.
package web

import (
	"encoding/json"

	"github.com/moogar0880/problems"
)

// Envelope is the uniform response wrapper every endpoint returns: success
// payloads ride in Data, failures carry RFC 7807 problem objects in Errors.
type Envelope struct {
	Success bool                       `json:"success"`
	Data    any                        `json:"data,omitempty"`
	Message string                     `json:"message,omitempty"`
	Errors  []*problems.Problem `json:"errors,omitempty"`
}

// CreateDefinitionRequest represents the request body for creating a new draft definition.
type CreateDefinitionRequest struct {
	Name        string          `json:"name"        validate:"required,min=3"`
	GraphBody   json.RawMessage `json:"graph_body"  validate:"required"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags,omitempty"`
}

// UpdateGraphRequest replaces the graph body of a draft definition.
type UpdateGraphRequest struct {
	GraphBody json.RawMessage `json:"graph_body" validate:"required"`
}

// UpdateMetadataRequest represents a partial update of the always-mutable
// metadata fields. Absent fields are left untouched.
type UpdateMetadataRequest struct {
	Description  *string  `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	PublishNotes *string  `json:"publish_notes,omitempty"`
	VersionNotes *string  `json:"version_notes,omitempty"`
}

// PublishDefinitionRequest represents the request body for publishing.
type PublishDefinitionRequest struct {
	PublishedBy  string          `json:"published_by" validate:"required"`
	PublishNotes string          `json:"publish_notes,omitempty"`
	GraphBody    json.RawMessage `json:"graph_body,omitempty"`
	Force        bool            `json:"force"`
}

// UnpublishDefinitionRequest represents the request body for unpublishing.
type UnpublishDefinitionRequest struct {
	Force       bool   `json:"force"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// CreateVersionRequest represents the request body for forking a new version.
type CreateVersionRequest struct {
	GraphBody    json.RawMessage `json:"graph_body,omitempty"`
	VersionNotes string          `json:"version_notes,omitempty"`
}

// ValidateGraphRequest represents the request body for stateless validation.
type ValidateGraphRequest struct {
	GraphBody json.RawMessage `json:"graph_body" validate:"required"`
	Strict    bool            `json:"strict"`
}
