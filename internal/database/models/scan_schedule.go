package models

import "github.com/google/uuid"

// ScanSchedule is a recurring scan of a fixed set of units.
type ScanSchedule struct {
	Base
	AccountID uuid.UUID  `gorm:"type:uuid;index;not null" json:"account_id"`
	Name      string     `gorm:"size:255;not null" json:"name"`
	CronExpr  string     `gorm:"size:100;not null" json:"cron_expr"` // e.g., "0 2 * * *" (2 AM daily)
	Units     []ScanUnit `gorm:"type:jsonb;serializer:json" json:"units"`
	IsEnabled bool       `gorm:"not null;index" json:"is_enabled"`
	CreatedBy string     `json:"created_by"`

	// Timing (Unix timestamps, UTC)
	NextRunAt     int64      `gorm:"index" json:"next_run_at"`
	LastRunAt     *int64     `json:"last_run_at,omitempty"`
	LastScanJobID *uuid.UUID `gorm:"type:uuid" json:"last_scan_job_id,omitempty"`

	Account *CloudAccount `gorm:"foreignKey:AccountID" json:"-"`
}

func (ScanSchedule) TableName() string {
	return "scan_schedules"
}
