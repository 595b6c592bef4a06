// Package models defines the core domain models for tenant-scoped workflow definitions.
package models

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"
	"time"
)

// WorkflowDefinition is a named, versioned workflow graph owned by a single tenant.
//
// The graph body becomes immutable the moment the definition is published;
// metadata fields (description, tags, notes) stay mutable through every
// lifecycle stage.
//
// Revision counts the event-emitting lifecycle transitions the row has gone
// through (publish, unpublish, archive, unarchive). It distinguishes a new
// transition from a retry of an earlier one when deriving outbox keys.
type WorkflowDefinition struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Name         string          `json:"name"          validate:"required,min=3"`
	Version      int             `json:"version"       validate:"min=1"`
	Revision     int             `json:"revision"`
	GraphBody    json.RawMessage `json:"graph_body"`
	IsPublished  bool            `json:"is_published"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	PublishedBy  string          `json:"published_by,omitempty"`
	IsArchived   bool            `json:"is_archived"`
	ArchivedAt   *time.Time      `json:"archived_at,omitempty"`
	ParentID     *string         `json:"parent_id,omitempty"`
	Description  string          `json:"description"`
	Tags         []string        `json:"tags,omitempty"`
	PublishNotes string          `json:"publish_notes,omitempty"`
	VersionNotes string          `json:"version_notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsDraft reports whether the definition is editable.
func (d *WorkflowDefinition) IsDraft() bool {
	return !d.IsPublished
}

// Clone returns a deep copy of the definition.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}

	clone := *d
	clone.GraphBody = slices.Clone(d.GraphBody)
	clone.Tags = slices.Clone(d.Tags)
	clone.PublishedAt = copyTimePointer(d.PublishedAt)
	clone.ArchivedAt = copyTimePointer(d.ArchivedAt)
	clone.ParentID = copyStringPointer(d.ParentID)

	return &clone
}

// GraphBodiesEqual compares two serialized graph bodies structurally, so that
// formatting-only differences (whitespace, key order) do not count as drift.
func GraphBodiesEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}

	var left, right any

	if err := json.Unmarshal(a, &left); err != nil {
		return false
	}

	if err := json.Unmarshal(b, &right); err != nil {
		return false
	}

	return reflect.DeepEqual(left, right)
}

func copyTimePointer(original *time.Time) *time.Time {
	if original == nil {
		return nil
	}

	value := *original

	return &value
}

func copyStringPointer(original *string) *string {
	if original == nil {
		return nil
	}

	value := *original

	return &value
}
