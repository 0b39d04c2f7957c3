// Package cloud defines the provider capabilities the scanner and the
// remediation engine depend on. Implementations live in subpackages.
package cloud

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/database/models"
)

// Account is a resolved CloudAccount with its external id opened.
type Account struct {
	ID         uuid.UUID
	AccountID  string
	RoleARN    string
	ExternalID string
	Regions    []string
}

// ResourceDescriptor is what an inspector observed about one resource.
// Fields that do not apply to a service are left zero.
type ResourceDescriptor struct {
	ResourceID   string            `json:"resource_id"`
	Service      string            `json:"service"`
	Region       string            `json:"region"`
	ResourceType string            `json:"resource_type,omitempty"` // instance type, DB class, LB type
	State        string            `json:"state,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`

	LaunchedAt     time.Time `json:"launched_at,omitempty"`
	StateChangedAt time.Time `json:"state_changed_at,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at,omitempty"`

	// Utilization over the lookback window
	IdleDays      int     `json:"idle_days,omitempty"`
	AvgCPUPercent float64 `json:"avg_cpu_percent,omitempty"`
	Connections   float64 `json:"connections,omitempty"`

	StorageGB          float64 `json:"storage_gb,omitempty"`
	ObjectCount        int64   `json:"object_count,omitempty"`
	HasLifecyclePolicy bool    `json:"has_lifecycle_policy,omitempty"`
	SourceExists       bool    `json:"source_exists,omitempty"` // snapshots: source instance still present
	AttachedTargets    int     `json:"attached_targets,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}

// Target addresses the resource an action operates on.
type Target struct {
	ResourceID string
	Service    string
	Region     string
}

// ResourceInspector enumerates one service in one region.
type ResourceInspector interface {
	Service() string
	Inspect(ctx context.Context, account Account, region string) ([]ResourceDescriptor, error)
}

// ActionExecutor performs or simulates one kind of action on one service.
// Simulate must never mutate the resource.
type ActionExecutor interface {
	Service() string
	Kind() models.ActionKind
	Simulate(ctx context.Context, account Account, target Target) (string, error)
	Execute(ctx context.Context, account Account, target Target) (string, error)
}

// AccountResolver loads a CloudAccount and opens its secrets.
type AccountResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (Account, error)
}
