package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreatePlanRequest struct {
	FindingIDs []uuid.UUID `json:"finding_ids" validate:"max=500"`
	// DryRun defaults to true. Only an explicit false produces an executable plan.
	DryRun *bool `json:"dry_run,omitempty"`
}

func (r CreatePlanRequest) IsDryRun() bool {
	return r.DryRun == nil || *r.DryRun
}

type SchedulePlanRequest struct {
	At time.Time `json:"at" validate:"required"`
}
