// Package scan runs scan jobs: one step per (service, region) unit, executed
// on a bounded pool and recorded step by step in the audit log.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/classifier"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/telemetry"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Dispatcher hands a persisted job to whatever will call Run for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID) (taskID string, err error)
}

type Options struct {
	Concurrency      int
	InspectorTimeout time.Duration
	// Inspector calls per second allowed against one account. Zero disables throttling.
	AccountRPS   float64
	AccountBurst int
}

type Orchestrator struct {
	db          *gorm.DB
	audit       *audit.Log
	registry    *cloud.Registry
	classifiers *classifier.Registry
	accounts    cloud.AccountResolver
	dispatcher  Dispatcher
	metrics     *telemetry.Metrics
	opts        Options
	logger      *slog.Logger
	now         func() time.Time

	limitersMu sync.Mutex
	limiters   map[uuid.UUID]*rate.Limiter
}

func NewOrchestrator(
	db *gorm.DB,
	log *audit.Log,
	registry *cloud.Registry,
	classifiers *classifier.Registry,
	accounts cloud.AccountResolver,
	opts Options,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.InspectorTimeout <= 0 {
		opts.InspectorTimeout = 2 * time.Minute
	}
	return &Orchestrator{
		db:          db,
		audit:       log,
		registry:    registry,
		classifiers: classifiers,
		accounts:    accounts,
		metrics:     metrics,
		opts:        opts,
		logger:      logger.With("component", "scan"),
		now:         time.Now,
		limiters:    make(map[uuid.UUID]*rate.Limiter),
	}
}

// SetDispatcher sets where started jobs are sent. Without one, StartScan only
// persists the job and the caller is responsible for Run.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// StartScan validates the units against the account and persists a pending job.
func (o *Orchestrator) StartScan(ctx context.Context, accountID uuid.UUID, units []models.ScanUnit, actor string) (*models.ScanJob, error) {
	return o.start(ctx, accountID, units, actor, nil)
}

// StartScheduled is StartScan on behalf of a schedule.
func (o *Orchestrator) StartScheduled(ctx context.Context, schedule *models.ScanSchedule) (*models.ScanJob, error) {
	return o.start(ctx, schedule.AccountID, schedule.Units, audit.ActorScheduler, &schedule.ID)
}

func (o *Orchestrator) start(ctx context.Context, accountID uuid.UUID, units []models.ScanUnit, actor string, scheduleID *uuid.UUID) (*models.ScanJob, error) {
	var account models.CloudAccount
	if err := o.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrAccountNotFound
		}
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if err := o.validateUnits(&account, units); err != nil {
		return nil, err
	}

	job := &models.ScanJob{
		AccountID:   accountID,
		Units:       units,
		Status:      models.ScanJobStatusPending,
		RequestedBy: actor,
		ScheduleID:  scheduleID,
	}
	for i, u := range units {
		job.Steps = append(job.Steps, models.ScanStep{
			Position: i,
			Service:  u.Service,
			Region:   u.Region,
			Status:   models.ScanStepStatusPending,
		})
	}

	err := o.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("creating scan job: %w", err)
		}
		e := audit.Transition(actor, "scan.created", "", string(models.ScanJobStatusPending))
		e.ScanJobID = audit.Ref(job.ID)
		e.Description = fmt.Sprintf("%d units on account %s", len(units), account.AccountID)
		return w.Append(e)
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("scan created", "scan_id", job.ID, "account_id", account.AccountID, "units", len(units), "actor", actor)

	if o.dispatcher == nil {
		return job, nil
	}

	taskID, err := o.dispatcher.Dispatch(ctx, job.ID)
	if err != nil {
		o.logger.Error("failed to dispatch scan", "scan_id", job.ID, "error", err)
		if abortErr := o.abort(context.WithoutCancel(ctx), job.ID, fmt.Sprintf("dispatch failed: %v", err)); abortErr != nil {
			o.logger.Error("failed to abort undispatched scan", "scan_id", job.ID, "error", abortErr)
		}
		return nil, apperr.ErrDependency.Wrap(fmt.Errorf("dispatching scan: %w", err))
	}

	if err := o.db.WithContext(ctx).Model(&models.ScanJob{}).Where("id = ?", job.ID).Update("task_id", taskID).Error; err != nil {
		o.logger.Warn("failed to record task id", "scan_id", job.ID, "error", err)
	}
	job.TaskID = taskID
	return job, nil
}

func (o *Orchestrator) validateUnits(account *models.CloudAccount, units []models.ScanUnit) error {
	if len(units) == 0 {
		return apperr.ErrInvalidScanTarget.Withf("at least one unit is required")
	}
	seen := make(map[models.ScanUnit]bool, len(units))
	for _, u := range units {
		if _, ok := o.registry.Inspector(u.Service); !ok {
			return apperr.ErrInvalidScanTarget.Withf("unsupported service %q", u.Service)
		}
		if !account.Authorizes(u.Region) {
			return apperr.ErrInvalidScanTarget.Withf("region %q is not authorized for account %s", u.Region, account.AccountID)
		}
		if seen[u] {
			return apperr.ErrInvalidScanTarget.Withf("duplicate unit %s", u)
		}
		seen[u] = true
	}
	return nil
}

// GetStatus returns the job with its steps in unit order.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	var job models.ScanJob
	err := o.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&job, "id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrScanNotFound
		}
		return nil, fmt.Errorf("loading scan job: %w", err)
	}
	return &job, nil
}

// List returns recent jobs, newest first, optionally for one account.
func (o *Orchestrator) List(ctx context.Context, accountID *uuid.UUID, limit int) ([]models.ScanJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := o.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("created_at DESC").
		Limit(limit)
	if accountID != nil {
		q = q.Where("account_id = ?", *accountID)
	}
	var jobs []models.ScanJob
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing scan jobs: %w", err)
	}
	return jobs, nil
}

// CancelScan fails every step that has not finished and completes the job.
// Inspector calls already in flight are left to drain and their results are
// discarded. Cancelling a completed job returns it unchanged.
func (o *Orchestrator) CancelScan(ctx context.Context, jobID uuid.UUID, actor string) (*models.ScanJob, error) {
	job, err := o.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.ScanJobStatusCompleted {
		return job, nil
	}

	var cancelled []models.ScanStep
	err = o.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		if err := tx.Model(&models.ScanJob{}).Where("id = ?", jobID).Update("cancel_requested", true).Error; err != nil {
			return fmt.Errorf("flagging cancel: %w", err)
		}
		var err error
		cancelled, err = o.failOpenSteps(tx, w, jobID, models.StepErrorCancelled, "cancelled by "+actor, actor)
		if err != nil {
			return err
		}
		return o.completeJob(tx, w, jobID, actor, "scan.cancelled")
	})
	if err != nil {
		return nil, err
	}

	for _, s := range cancelled {
		o.metrics.ScanStep(s.Service, string(models.ScanStepStatusFailed), 0)
	}
	o.logger.Info("scan cancelled", "scan_id", jobID, "steps_cancelled", len(cancelled), "actor", actor)
	return o.GetStatus(ctx, jobID)
}

// abort fails every open step with a dependency error and completes the job.
func (o *Orchestrator) abort(ctx context.Context, jobID uuid.UUID, reason string) error {
	return o.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		if _, err := o.failOpenSteps(tx, w, jobID, models.StepErrorDependency, reason, audit.ActorSystem); err != nil {
			return err
		}
		return o.completeJob(tx, w, jobID, audit.ActorSystem, "scan.completed")
	})
}

// failOpenSteps moves every pending or running step of the job to failed,
// reading step state through tx so concurrent transitions are respected.
func (o *Orchestrator) failOpenSteps(tx *gorm.DB, w *audit.Writer, jobID uuid.UUID, code, reason, actor string) ([]models.ScanStep, error) {
	var open []models.ScanStep
	if err := tx.Where("job_id = ? AND status IN ?", jobID, []models.ScanStepStatus{
		models.ScanStepStatusPending,
		models.ScanStepStatusRunning,
	}).Order("position ASC").Find(&open).Error; err != nil {
		return nil, fmt.Errorf("loading open steps: %w", err)
	}

	now := o.now().Unix()
	var failed []models.ScanStep
	for _, step := range open {
		ok, err := updateStep(tx, step.ID, step.Status, models.ScanStepStatusFailed, map[string]interface{}{
			"error_code":   code,
			"error":        reason,
			"completed_at": now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := w.Append(stepEntry(actor, &step, step.Status, models.ScanStepStatusFailed, code+": "+reason)); err != nil {
			return nil, err
		}
		failed = append(failed, step)
	}
	return failed, nil
}

// completeJob moves the job to completed unless it already is.
func (o *Orchestrator) completeJob(tx *gorm.DB, w *audit.Writer, jobID uuid.UUID, actor, action string) error {
	var job models.ScanJob
	if err := tx.Select("id", "status").First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("loading scan job: %w", err)
	}
	if job.Status == models.ScanJobStatusCompleted {
		return nil
	}

	if err := tx.Model(&models.ScanJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":       models.ScanJobStatusCompleted,
		"completed_at": o.now().Unix(),
	}).Error; err != nil {
		return fmt.Errorf("completing scan job: %w", err)
	}
	e := audit.Transition(actor, action, string(job.Status), string(models.ScanJobStatusCompleted))
	e.ScanJobID = audit.Ref(jobID)
	return w.Append(e)
}

// updateStep applies a conditional status change. It reports false when the
// step was no longer in from.
func updateStep(tx *gorm.DB, stepID uuid.UUID, from, to models.ScanStepStatus, fields map[string]interface{}) (bool, error) {
	fields["status"] = to
	res := tx.Model(&models.ScanStep{}).Where("id = ? AND status = ?", stepID, from).Updates(fields)
	if res.Error != nil {
		return false, fmt.Errorf("updating scan step: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func stepEntry(actor string, step *models.ScanStep, from, to models.ScanStepStatus, description string) models.AuditEntry {
	e := audit.Transition(actor, "scan_step."+string(to), string(from), string(to))
	e.ScanJobID = audit.Ref(step.JobID)
	e.ScanStepID = audit.Ref(step.ID)
	e.Description = description
	return e
}

func (o *Orchestrator) limiter(accountID uuid.UUID) *rate.Limiter {
	o.limitersMu.Lock()
	defer o.limitersMu.Unlock()

	l, ok := o.limiters[accountID]
	if !ok {
		limit, burst := rate.Inf, o.opts.AccountBurst
		if o.opts.AccountRPS > 0 {
			limit = rate.Limit(o.opts.AccountRPS)
		}
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(limit, burst)
		o.limiters[accountID] = l
	}
	return l
}
