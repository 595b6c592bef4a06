package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/veridianhq/veridian/pkg/models"
	"github.com/veridianhq/veridian/pkg/persistence"
)

type definitionRepository struct {
	p    *Persistence
	inTx bool
}

func (r *definitionRepository) GetByID(_ context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, persistence.NewDefinitionError("GetByID", tenantID, id, err)
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	definition, exists := r.p.state.definitions[scopedKey(tenantID, id)]
	if !exists {
		return nil, nil
	}

	return definition.Clone(), nil
}

// GetByIDForUpdate is GetByID here: the store mutex held by the transaction
// already serializes concurrent writers.
func (r *definitionRepository) GetByIDForUpdate(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	return r.GetByID(ctx, tenantID, id)
}

func (r *definitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	if err := validateTenant(definition.TenantID); err != nil {
		return persistence.NewDefinitionError("Save", definition.TenantID, definition.ID, err)
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	now := time.Now().UTC()

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate definition ID: %w", err)
		}

		definition.ID = id.String()
	}

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	key := scopedKey(definition.TenantID, definition.ID)

	// Storage-boundary immutability guard: a published graph body can never
	// be replaced, regardless of which code path attempts the write.
	if existing, exists := r.p.state.definitions[key]; exists {
		if existing.IsPublished && !models.GraphBodiesEqual(existing.GraphBody, definition.GraphBody) {
			return persistence.NewDefinitionError("Save", definition.TenantID, definition.ID, persistence.ErrPublishedImmutable)
		}
	}

	for _, other := range r.p.state.definitions {
		if other.TenantID == definition.TenantID &&
			other.ID != definition.ID &&
			other.Name == definition.Name &&
			other.Version == definition.Version {
			return persistence.NewDefinitionError("Save", definition.TenantID, definition.ID, persistence.ErrDefinitionAlreadyExists)
		}
	}

	r.p.state.definitions[key] = definition.Clone()

	return nil
}

func (r *definitionRepository) List(_ context.Context, tenantID string, opts persistence.ListDefinitionsOptions) (*persistence.DefinitionPage, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, persistence.NewDefinitionError("List", tenantID, "", err)
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	search := strings.ToLower(opts.Search)

	matches := make([]*models.WorkflowDefinition, 0)

	for _, definition := range r.p.state.definitions {
		if definition.TenantID != tenantID {
			continue
		}

		if definition.IsArchived && !opts.IncludeArchived {
			continue
		}

		if opts.Published != nil && definition.IsPublished != *opts.Published {
			continue
		}

		if search != "" &&
			!strings.Contains(strings.ToLower(definition.Name), search) &&
			!strings.Contains(strings.ToLower(definition.Description), search) {
			continue
		}

		matches = append(matches, definition.Clone())
	}

	// Newest first, id as tiebreaker for a stable page boundary.
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}

		return matches[i].ID < matches[j].ID
	})

	total := int64(len(matches))

	if opts.Offset > 0 {
		if opts.Offset >= len(matches) {
			matches = nil
		} else {
			matches = matches[opts.Offset:]
		}
	}

	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	return &persistence.DefinitionPage{Items: matches, TotalCount: total}, nil
}

func (r *definitionRepository) MaxVersion(_ context.Context, tenantID, name string) (int, error) {
	if err := validateTenant(tenantID); err != nil {
		return 0, persistence.NewDefinitionError("MaxVersion", tenantID, "", err)
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	maxVersion := 0

	for _, definition := range r.p.state.definitions {
		if definition.TenantID == tenantID && definition.Name == name && definition.Version > maxVersion {
			maxVersion = definition.Version
		}
	}

	return maxVersion, nil
}
