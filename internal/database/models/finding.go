package models

import (
	"time"

	"github.com/google/uuid"
)

type FindingStatus string

const (
	FindingStatusOpen       FindingStatus = "open"
	FindingStatusSnoozed    FindingStatus = "snoozed"
	FindingStatusRemediated FindingStatus = "remediated"
	FindingStatusDismissed  FindingStatus = "dismissed"
)

// Finding types produced by the classifiers.
const (
	FindingIdleInstance           = "idle_instance"
	FindingStoppedInstance        = "stopped_instance"
	FindingOverProvisioned        = "over_provisioned"
	FindingUnusedBucket           = "unused_bucket"
	FindingOrphanedBucket         = "orphaned_bucket"
	FindingLifecyclePolicyMissing = "lifecycle_policy_missing"
	FindingUnusedDatabase         = "unused_database"
	FindingUnusedSnapshot         = "unused_snapshot"
	FindingIdleLoadBalancer       = "idle_load_balancer"
)

// Finding is a cost-optimization opportunity on one resource. Everything but
// the status fields is fixed at classification time.
type Finding struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AccountID  uuid.UUID `gorm:"type:uuid;index;not null" json:"account_id"`
	ScanJobID  uuid.UUID `gorm:"type:uuid;index" json:"scan_job_id"`
	ScanStepID uuid.UUID `gorm:"type:uuid;index" json:"scan_step_id"`

	ResourceID   string `gorm:"not null;index" json:"resource_id"`
	ResourceType string `json:"resource_type,omitempty"`
	Service      string `gorm:"not null;index" json:"service"`
	Region       string `gorm:"not null" json:"region"`
	FindingType  string `gorm:"not null;index" json:"finding_type"`
	Title        string `gorm:"not null" json:"title"`

	Confidence              Confidence `gorm:"type:varchar(16);not null;index" json:"confidence"`
	EstimatedMonthlySavings float64    `gorm:"not null;default:0" json:"estimated_monthly_savings"`
	CurrentMonthlyCost      float64    `gorm:"not null;default:0" json:"current_monthly_cost"`

	// Unix seconds, UTC
	DetectedAt   int64 `gorm:"not null;index" json:"detected_at"`
	SnoozedUntil int64 `json:"snoozed_until,omitempty"`

	Status FindingStatus `gorm:"not null;index;default:'open'" json:"status"`

	// JSON object of the signals that produced the finding
	Evidence string `gorm:"type:text" json:"evidence,omitempty"`
}

func (Finding) TableName() string {
	return "findings"
}
