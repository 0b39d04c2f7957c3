package models

import (
	"fmt"

	"github.com/google/uuid"
)

type ScanJobStatus string

const (
	ScanJobStatusPending   ScanJobStatus = "pending"
	ScanJobStatusRunning   ScanJobStatus = "running"
	ScanJobStatusCompleted ScanJobStatus = "completed"
)

type ScanStepStatus string

const (
	ScanStepStatusPending   ScanStepStatus = "pending"
	ScanStepStatusRunning   ScanStepStatus = "running"
	ScanStepStatusCompleted ScanStepStatus = "completed"
	ScanStepStatusFailed    ScanStepStatus = "failed"
)

func (s ScanStepStatus) Terminal() bool {
	return s == ScanStepStatusCompleted || s == ScanStepStatusFailed
}

// Failure reasons recorded on a failed step.
const (
	StepErrorTimeout    = "timeout"
	StepErrorCancelled  = "cancelled"
	StepErrorDependency = "dependency"
)

// ScanUnit is one (service, region) pair of a scan.
type ScanUnit struct {
	Service string `json:"service"`
	Region  string `json:"region"`
}

func (u ScanUnit) String() string {
	return fmt.Sprintf("%s/%s", u.Service, u.Region)
}

type ScanJob struct {
	Base
	AccountID uuid.UUID     `gorm:"type:uuid;index;not null" json:"account_id"`
	Units     []ScanUnit    `gorm:"type:jsonb;serializer:json" json:"units"`
	Status    ScanJobStatus `gorm:"not null;index;default:'pending'" json:"status"`

	CancelRequested bool       `gorm:"default:false" json:"cancel_requested"`
	RequestedBy     string     `json:"requested_by"`
	ScheduleID      *uuid.UUID `gorm:"type:uuid" json:"schedule_id,omitempty"`

	// Execution (unix seconds, UTC)
	StartedAt   int64 `json:"started_at,omitempty"`
	CompletedAt int64 `json:"completed_at,omitempty"`

	// Asynq task ID for tracking
	TaskID string `gorm:"index" json:"task_id,omitempty"`

	Account *CloudAccount `gorm:"foreignKey:AccountID" json:"-"`
	Steps   []ScanStep    `gorm:"foreignKey:JobID" json:"steps,omitempty"`
}

func (ScanJob) TableName() string {
	return "scan_jobs"
}

type ScanStep struct {
	Base
	JobID    uuid.UUID      `gorm:"type:uuid;index;not null" json:"job_id"`
	Position int            `gorm:"not null" json:"position"`
	Service  string         `gorm:"not null" json:"service"`
	Region   string         `gorm:"not null" json:"region"`
	Status   ScanStepStatus `gorm:"not null;index;default:'pending'" json:"status"`

	ResourceCount int    `gorm:"default:0" json:"resource_count"`
	FindingsCount int    `gorm:"default:0" json:"findings_count"`
	ErrorCode     string `json:"error_code,omitempty"`
	Error         string `json:"error,omitempty"`

	StartedAt   int64 `json:"started_at,omitempty"`
	CompletedAt int64 `json:"completed_at,omitempty"`
}

func (ScanStep) TableName() string {
	return "scan_steps"
}

func (s *ScanStep) Unit() ScanUnit {
	return ScanUnit{Service: s.Service, Region: s.Region}
}
