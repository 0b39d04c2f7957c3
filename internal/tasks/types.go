package tasks

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeScanRun            = "scan:run"
	TypeRemediationExecute = "remediation:execute"
	TypeSchedulerTick      = "scheduler:tick"
)

// ScanRunPayload names a persisted scan job to run
type ScanRunPayload struct {
	ScanID uuid.UUID `json:"scan_id"`
}

func NewScanRunTask(payload ScanRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeScanRun, data), nil
}

// RemediationExecutePayload names an approved plan to execute
type RemediationExecutePayload struct {
	PlanID uuid.UUID `json:"plan_id"`
}

func NewRemediationExecuteTask(payload RemediationExecutePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRemediationExecute, data), nil
}

// SchedulerTickPayload is empty - the tick checks every schedule
type SchedulerTickPayload struct{}

func NewSchedulerTickTask() *asynq.Task {
	return asynq.NewTask(TypeSchedulerTick, nil)
}
