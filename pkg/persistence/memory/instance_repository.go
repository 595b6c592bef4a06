package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/veridianhq/veridian/pkg/models"
	"github.com/veridianhq/veridian/pkg/persistence"
)

type instanceRepository struct {
	p    *Persistence
	inTx bool
}

func (r *instanceRepository) GetByID(_ context.Context, tenantID, id string) (*models.Instance, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	instance, exists := r.p.state.instances[scopedKey(tenantID, id)]
	if !exists {
		return nil, nil
	}

	return instance.Clone(), nil
}

func (r *instanceRepository) Save(_ context.Context, instance *models.Instance) error {
	if err := validateTenant(instance.TenantID); err != nil {
		return err
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	if instance.StartedAt.IsZero() {
		instance.StartedAt = time.Now().UTC()
	}

	r.p.state.instances[scopedKey(instance.TenantID, instance.ID)] = instance.Clone()

	return nil
}

func (r *instanceRepository) ActiveCounts(_ context.Context, tenantID, definitionID string) (models.ActiveCounts, error) {
	counts := models.ActiveCounts{}

	if err := validateTenant(tenantID); err != nil {
		return counts, err
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	for _, instance := range r.p.state.instances {
		if instance.TenantID != tenantID || instance.DefinitionID != definitionID {
			continue
		}

		switch instance.Status {
		case models.InstanceStatusRunning:
			counts.Running++
		case models.InstanceStatusSuspended:
			counts.Suspended++
		}
	}

	return counts, nil
}

func (r *instanceRepository) UsageCounts(_ context.Context, tenantID string, definitionIDs []string) (map[string]*models.UsageCounts, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	wanted := make(map[string]bool, len(definitionIDs))
	usage := make(map[string]*models.UsageCounts, len(definitionIDs))

	for _, id := range definitionIDs {
		wanted[id] = true
		usage[id] = &models.UsageCounts{}
	}

	for _, instance := range r.p.state.instances {
		if instance.TenantID != tenantID || !wanted[instance.DefinitionID] {
			continue
		}

		counts := usage[instance.DefinitionID]

		switch instance.Status {
		case models.InstanceStatusRunning:
			counts.Running++
		case models.InstanceStatusSuspended:
			counts.Suspended++
		case models.InstanceStatusCompleted:
			counts.Completed++
		}
	}

	for _, counts := range usage {
		counts.ActiveInstanceCount = counts.Running + counts.Suspended
	}

	return usage, nil
}

func (r *instanceRepository) ListActive(_ context.Context, tenantID, definitionID string) ([]*models.Instance, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	active := make([]*models.Instance, 0)

	for _, instance := range r.p.state.instances {
		if instance.TenantID == tenantID && instance.DefinitionID == definitionID && instance.Status.IsActive() {
			active = append(active, instance.Clone())
		}
	}

	sort.Slice(active, func(i, j int) bool {
		if !active[i].StartedAt.Equal(active[j].StartedAt) {
			return active[i].StartedAt.Before(active[j].StartedAt)
		}

		return active[i].ID < active[j].ID
	})

	return active, nil
}

func (r *instanceRepository) CancelInstance(_ context.Context, tenantID, instanceID, cancelledBy string) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}

	unlock := lock(r.p, r.inTx)
	defer unlock()

	instance, exists := r.p.state.instances[scopedKey(tenantID, instanceID)]
	if !exists {
		return &persistence.InstanceError{Op: "CancelInstance", TenantID: tenantID, InstanceID: instanceID, Err: persistence.ErrInstanceNotFound}
	}

	if !instance.Status.IsActive() {
		return &persistence.InstanceError{Op: "CancelInstance", TenantID: tenantID, InstanceID: instanceID, Err: persistence.ErrInstanceNotActive}
	}

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusCancelled
	instance.CompletedAt = &now
	instance.CancelledBy = cancelledBy

	return nil
}
