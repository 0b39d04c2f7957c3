package dto

import "github.com/google/uuid"

type CreateScheduleRequest struct {
	AccountID uuid.UUID     `json:"account_id" validate:"required"`
	Name      string        `json:"name" validate:"required,max=255"`
	CronExpr  string        `json:"cron_expr" validate:"required,cron"`
	Units     []ScanUnitDTO `json:"units" validate:"required,min=1,max=200,dive"`
}

// UpdateScheduleRequest applies only the fields that are set.
type UpdateScheduleRequest struct {
	Name      *string       `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	CronExpr  *string       `json:"cron_expr,omitempty" validate:"omitempty,cron"`
	Units     []ScanUnitDTO `json:"units,omitempty" validate:"omitempty,min=1,max=200,dive"`
	IsEnabled *bool         `json:"is_enabled,omitempty"`
}
