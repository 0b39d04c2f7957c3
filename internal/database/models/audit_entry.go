package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrAuditImmutable = errors.New("audit entries are append-only")

// AuditEntry records one state change. Rows are inserted once and never updated or deleted.
type AuditEntry struct {
	ID uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`

	// Unix microseconds, UTC. Strictly increasing per writer process.
	Timestamp int64 `gorm:"not null;index" json:"timestamp"`

	Actor       string `gorm:"not null" json:"actor"`
	Action      string `gorm:"not null;index" json:"action"`
	Description string `json:"description,omitempty"`
	FromStatus  string `json:"from_status,omitempty"`
	ToStatus    string `json:"to_status,omitempty"`

	ScanJobID  *uuid.UUID `gorm:"type:uuid;index" json:"scan_job_id,omitempty"`
	ScanStepID *uuid.UUID `gorm:"type:uuid" json:"scan_step_id,omitempty"`
	PlanID     *uuid.UUID `gorm:"type:uuid;index" json:"plan_id,omitempty"`
	ActionID   *uuid.UUID `gorm:"type:uuid" json:"action_id,omitempty"`
	FindingID  *uuid.UUID `gorm:"type:uuid;index" json:"finding_id,omitempty"`
}

func (AuditEntry) TableName() string {
	return "audit_entries"
}

func (e *AuditEntry) Time() time.Time {
	return time.UnixMicro(e.Timestamp).UTC()
}

func (e *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *AuditEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

func (e *AuditEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}
