package models

import "github.com/google/uuid"

type PlanStatus string

const (
	PlanStatusDraft            PlanStatus = "draft"
	PlanStatusValidated        PlanStatus = "validated"
	PlanStatusAwaitingApproval PlanStatus = "awaiting_approval"
	PlanStatusApproved         PlanStatus = "approved"
	PlanStatusExecuting        PlanStatus = "executing"
	PlanStatusCompleted        PlanStatus = "completed"
	PlanStatusFailed           PlanStatus = "failed"
)

type ActionKind string

const (
	ActionTerminate      ActionKind = "terminate"
	ActionDelete         ActionKind = "delete"
	ActionDeleteSnapshot ActionKind = "delete_snapshot"
)

type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusSimulated ActionStatus = "simulated"
	ActionStatusSucceeded ActionStatus = "succeeded"
	ActionStatusFailed    ActionStatus = "failed"
)

// RemediationPlan targets a fixed set of findings chosen at creation.
type RemediationPlan struct {
	Base
	FindingIDs []uuid.UUID `gorm:"type:jsonb;serializer:json;not null" json:"finding_ids"`
	DryRun     bool        `gorm:"not null" json:"dry_run"`
	Status     PlanStatus  `gorm:"not null;index;default:'draft'" json:"status"`

	CreatedBy  string `gorm:"not null" json:"created_by"`
	ApprovedBy string `json:"approved_by,omitempty"`
	ExecutedBy string `json:"executed_by,omitempty"`

	// Unix seconds, UTC
	ValidatedAt  int64 `json:"validated_at,omitempty"`
	ApprovedAt   int64 `json:"approved_at,omitempty"`
	ScheduledFor int64 `json:"scheduled_for,omitempty"`
	StartedAt    int64 `json:"started_at,omitempty"`
	CompletedAt  int64 `json:"completed_at,omitempty"`

	Error  string `json:"error,omitempty"`
	TaskID string `json:"task_id,omitempty"`

	Actions []RemediationAction `gorm:"foreignKey:PlanID" json:"actions,omitempty"`
}

func (RemediationPlan) TableName() string {
	return "remediation_plans"
}

type RemediationAction struct {
	Base
	PlanID           uuid.UUID    `gorm:"type:uuid;index;not null" json:"plan_id"`
	Position         int          `gorm:"not null" json:"position"`
	FindingID        uuid.UUID    `gorm:"type:uuid;index;not null" json:"finding_id"`
	AccountID        uuid.UUID    `gorm:"type:uuid;not null" json:"account_id"`
	Kind             ActionKind   `gorm:"not null" json:"kind"`
	Service          string       `gorm:"not null" json:"service"`
	Region           string       `gorm:"not null" json:"region"`
	TargetResourceID string       `gorm:"not null" json:"target_resource_id"`
	Status           ActionStatus `gorm:"not null;default:'pending'" json:"status"`

	SimulationResult string `json:"simulation_result,omitempty"`
	Result           string `json:"result,omitempty"`
	Error            string `json:"error,omitempty"`
	ExecutedAt       int64  `json:"executed_at,omitempty"`
}

func (RemediationAction) TableName() string {
	return "remediation_actions"
}
