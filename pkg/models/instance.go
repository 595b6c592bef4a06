package models

import "time"

// InstanceStatus represents the runtime state of a workflow instance. This
// core only reads statuses and, under force-unpublish, moves active instances
// to Cancelled; everything else belongs to the execution engine.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "Running"
	InstanceStatusSuspended InstanceStatus = "Suspended"
	InstanceStatusCompleted InstanceStatus = "Completed"
	InstanceStatusCancelled InstanceStatus = "Cancelled"
	InstanceStatusFailed    InstanceStatus = "Failed"
)

// IsActive reports whether the status counts against unpublish gating.
func (s InstanceStatus) IsActive() bool {
	return s == InstanceStatusRunning || s == InstanceStatusSuspended
}

// Instance is a single execution of a published definition. Instances stay
// permanently bound to the definition version they started under.
type Instance struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	DefinitionID      string         `json:"definition_id"`
	DefinitionVersion int            `json:"definition_version"`
	Status            InstanceStatus `json:"status"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CancelledBy       string         `json:"cancelled_by,omitempty"`
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}

	clone := *i
	clone.CompletedAt = copyTimePointer(i.CompletedAt)

	return &clone
}

// ActiveCounts aggregates the instances that block unpublishing.
type ActiveCounts struct {
	Running   int `json:"running"`
	Suspended int `json:"suspended"`
}

// Total returns the active-instance count used by unpublish gating.
func (c ActiveCounts) Total() int {
	return c.Running + c.Suspended
}

// UsageCounts is the per-definition aggregation exposed by GetUsage and
// attached to every listing row.
type UsageCounts struct {
	Running             int `json:"running_count"`
	Suspended           int `json:"suspended_count"`
	Completed           int `json:"completed_count"`
	ActiveInstanceCount int `json:"active_instance_count"`
}
