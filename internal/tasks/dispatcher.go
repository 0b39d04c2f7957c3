package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-reclaim/internal/remediation"
	"github.com/hugh/go-reclaim/internal/scan"
	"github.com/hugh/go-reclaim/pkg/queue"
)

const (
	scanTaskTimeout = 30 * time.Minute
	planTaskTimeout = time.Hour
)

// Enqueuer is the part of *asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher sends scan jobs and scheduled plans to the worker through asynq.
type Dispatcher struct {
	client Enqueuer
}

var (
	_ scan.Dispatcher           = (*Dispatcher)(nil)
	_ remediation.PlanScheduler = (*Dispatcher)(nil)
)

func NewDispatcher(client Enqueuer) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch enqueues scan:run. Running a job twice is harmless, so failures are retried.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID uuid.UUID) (string, error) {
	task, err := NewScanRunTask(ScanRunPayload{ScanID: jobID})
	if err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue(queue.QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(scanTaskTimeout),
	)
	if err != nil {
		return "", fmt.Errorf("enqueueing scan: %w", err)
	}
	return info.ID, nil
}

// SchedulePlan enqueues remediation:execute for at. Execution is never retried.
func (d *Dispatcher) SchedulePlan(ctx context.Context, planID uuid.UUID, at time.Time) (string, error) {
	task, err := NewRemediationExecuteTask(RemediationExecutePayload{PlanID: planID})
	if err != nil {
		return "", fmt.Errorf("creating task: %w", err)
	}
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue(queue.QueueCritical),
		asynq.ProcessAt(at),
		asynq.MaxRetry(0),
		asynq.Timeout(planTaskTimeout),
	)
	if err != nil {
		return "", fmt.Errorf("enqueueing plan: %w", err)
	}
	return info.ID, nil
}
