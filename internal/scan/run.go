package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errDiscarded aborts a step transaction whose step was failed underneath it.
var errDiscarded = errors.New("step no longer running")

// Run executes every pending step of a job and completes it. It is safe to
// call again for a job that was interrupted: steps left running by the
// previous attempt are failed and pending ones are picked up.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.ScanJobStatusCompleted {
		o.logger.Info("scan already completed, nothing to run", "scan_id", jobID)
		return nil
	}

	// Results must be recorded even when ctx is cancelled mid-step.
	persist := context.WithoutCancel(ctx)

	if err := o.markRunning(persist, job); err != nil {
		return err
	}

	account, err := o.accounts.Resolve(ctx, job.AccountID)
	if err != nil {
		o.logger.Error("failed to resolve account", "scan_id", jobID, "error", err)
		return o.abort(persist, jobID, fmt.Sprintf("resolving account: %v", err))
	}

	limiter := o.limiter(job.AccountID)

	// Not errgroup.WithContext: a failed step must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for _, step := range job.Steps {
		if step.Status != models.ScanStepStatusPending {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o.runStep(ctx, persist, account, limiter, step)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan %s interrupted: %w", jobID, err)
	}
	return o.finish(persist, jobID)
}

func (o *Orchestrator) markRunning(ctx context.Context, job *models.ScanJob) error {
	return o.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		res := tx.Model(&models.ScanJob{}).
			Where("id = ? AND status = ?", job.ID, models.ScanJobStatusPending).
			Updates(map[string]interface{}{
				"status":     models.ScanJobStatusRunning,
				"started_at": o.now().Unix(),
			})
		if res.Error != nil {
			return fmt.Errorf("starting scan job: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			e := audit.Transition(audit.ActorSystem, "scan.running", string(models.ScanJobStatusPending), string(models.ScanJobStatusRunning))
			e.ScanJobID = audit.Ref(job.ID)
			return w.Append(e)
		}

		// Retry of an interrupted attempt.
		for _, step := range job.Steps {
			if step.Status != models.ScanStepStatusRunning {
				continue
			}
			ok, err := updateStep(tx, step.ID, models.ScanStepStatusRunning, models.ScanStepStatusFailed, map[string]interface{}{
				"error_code":   models.StepErrorDependency,
				"error":        "interrupted before completion",
				"completed_at": o.now().Unix(),
			})
			if err != nil {
				return err
			}
			if ok {
				if err := w.Append(stepEntry(audit.ActorSystem, &step, models.ScanStepStatusRunning, models.ScanStepStatusFailed, "interrupted before completion")); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// finish completes the job once no step is left open.
func (o *Orchestrator) finish(ctx context.Context, jobID uuid.UUID) error {
	return o.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		var open int64
		if err := tx.Model(&models.ScanStep{}).
			Where("job_id = ? AND status IN ?", jobID, []models.ScanStepStatus{models.ScanStepStatusPending, models.ScanStepStatusRunning}).
			Count(&open).Error; err != nil {
			return fmt.Errorf("counting open steps: %w", err)
		}
		if open > 0 {
			return fmt.Errorf("scan %s still has %d open steps", jobID, open)
		}
		return o.completeJob(tx, w, jobID, audit.ActorSystem, "scan.completed")
	})
}

func (o *Orchestrator) runStep(ctx, persist context.Context, account cloud.Account, limiter *rate.Limiter, step models.ScanStep) {
	log := o.logger.With("scan_id", step.JobID, "unit", step.Unit().String())
	start := o.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("scan step panicked", "panic", r)
			o.failStep(persist, log, &step, models.StepErrorDependency, fmt.Sprintf("panic: %v", r), start)
		}
	}()

	started, err := o.startStep(persist, &step)
	if err != nil {
		log.Error("failed to start step", "error", err)
		return
	}
	if !started {
		// Cancelled before a worker reached it.
		log.Debug("step no longer pending, skipping")
		return
	}

	descriptors, err := o.inspect(ctx, account, limiter, &step)
	if err != nil {
		code := models.StepErrorDependency
		if errors.Is(err, apperr.ErrTimeout) {
			code = models.StepErrorTimeout
		}
		log.Warn("inspection failed", "error_code", code, "error", err)
		o.failStep(persist, log, &step, code, err.Error(), start)
		return
	}

	findings := o.classifiers.ClassifyAll(account.ID, step.Service, descriptors)
	o.completeStep(persist, log, &step, len(descriptors), findings, start)
}

func (o *Orchestrator) startStep(ctx context.Context, step *models.ScanStep) (bool, error) {
	var started bool
	err := o.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		ok, err := updateStep(tx, step.ID, models.ScanStepStatusPending, models.ScanStepStatusRunning, map[string]interface{}{
			"started_at": o.now().Unix(),
		})
		if err != nil || !ok {
			return err
		}
		started = true
		return w.Append(stepEntry(audit.ActorSystem, step, models.ScanStepStatusPending, models.ScanStepStatusRunning, ""))
	})
	return started, err
}

// inspect calls the unit's inspector under the account throttle and the
// inspector timeout. Running out of time is reported as apperr.ErrTimeout.
func (o *Orchestrator) inspect(ctx context.Context, account cloud.Account, limiter *rate.Limiter, step *models.ScanStep) ([]cloud.ResourceDescriptor, error) {
	inspector, ok := o.registry.Inspector(step.Service)
	if !ok {
		return nil, fmt.Errorf("no inspector registered for %s", step.Service)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.InspectorTimeout)
	defer cancel()

	timedOut := func(err error) bool {
		return errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
	}

	if err := limiter.Wait(callCtx); err != nil {
		if timedOut(err) {
			return nil, apperr.ErrTimeout.Wrap(err)
		}
		return nil, fmt.Errorf("waiting for account throttle: %w", err)
	}

	descriptors, err := inspector.Inspect(callCtx, account, step.Region)
	if err != nil {
		if timedOut(err) {
			return nil, apperr.ErrTimeout.Wrap(fmt.Errorf("%s after %s: %w", step.Unit(), o.opts.InspectorTimeout, err))
		}
		return nil, fmt.Errorf("inspecting %s: %w", step.Unit(), err)
	}
	return descriptors, nil
}

func (o *Orchestrator) failStep(ctx context.Context, log *slog.Logger, step *models.ScanStep, code, reason string, start time.Time) {
	err := o.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		ok, err := updateStep(tx, step.ID, models.ScanStepStatusRunning, models.ScanStepStatusFailed, map[string]interface{}{
			"error_code":   code,
			"error":        reason,
			"completed_at": o.now().Unix(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return errDiscarded
		}
		return w.Append(stepEntry(audit.ActorSystem, step, models.ScanStepStatusRunning, models.ScanStepStatusFailed, code+": "+reason))
	})
	switch {
	case errors.Is(err, errDiscarded):
		log.Info("discarding late failure of cancelled step", "error_code", code)
	case err != nil:
		log.Error("failed to record step failure", "error", err)
	default:
		o.metrics.ScanStep(step.Service, string(models.ScanStepStatusFailed), o.now().Sub(start))
	}
}

// refreshFinding updates the observation columns of an existing finding.
// It reports false when no finding with f's id exists yet.
func refreshFinding(tx *gorm.DB, f *models.Finding) (bool, error) {
	res := tx.Model(&models.Finding{}).Where("id = ?", f.ID).Updates(map[string]interface{}{
		"title":                     f.Title,
		"resource_type":             f.ResourceType,
		"confidence":                f.Confidence,
		"estimated_monthly_savings": f.EstimatedMonthlySavings,
		"current_monthly_cost":      f.CurrentMonthlyCost,
		"evidence":                  f.Evidence,
	})
	if res.Error != nil {
		return false, fmt.Errorf("refreshing finding for %s: %w", f.ResourceID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// completeStep stores the step's findings and completes it in one
// transaction. A finding already stored under the same id keeps its status,
// identity and first detection; only the estimate and evidence are refreshed.
func (o *Orchestrator) completeStep(ctx context.Context, log *slog.Logger, step *models.ScanStep, resources int, findings []models.Finding, start time.Time) {
	var inserted []models.Finding
	err := o.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		ok, err := updateStep(tx, step.ID, models.ScanStepStatusRunning, models.ScanStepStatusCompleted, map[string]interface{}{
			"resource_count": resources,
			"findings_count": len(findings),
			"completed_at":   o.now().Unix(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return errDiscarded
		}

		inserted = inserted[:0]
		for i := range findings {
			f := findings[i]
			f.ScanJobID = step.JobID
			f.ScanStepID = step.ID

			refreshed, err := refreshFinding(tx, &f)
			if err != nil {
				return err
			}
			if refreshed {
				continue
			}

			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&f)
			if res.Error != nil {
				return fmt.Errorf("storing finding for %s: %w", f.ResourceID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}

			e := audit.Transition(audit.ActorSystem, "finding.detected", "", string(f.Status))
			e.ScanJobID = audit.Ref(step.JobID)
			e.ScanStepID = audit.Ref(step.ID)
			e.FindingID = audit.Ref(f.ID)
			e.Description = f.Title
			if err := w.Append(e); err != nil {
				return err
			}
			inserted = append(inserted, f)
		}

		return w.Append(stepEntry(audit.ActorSystem, step, models.ScanStepStatusRunning, models.ScanStepStatusCompleted,
			fmt.Sprintf("%d resources, %d findings", resources, len(findings))))
	})

	switch {
	case errors.Is(err, errDiscarded):
		log.Info("discarding late result of cancelled step", "resources", resources, "findings", len(findings))
	case err != nil:
		log.Error("failed to record step result", "error", err)
		o.failStep(ctx, log, step, models.StepErrorDependency, fmt.Sprintf("recording result: %v", err), start)
	default:
		for _, f := range inserted {
			o.metrics.FindingDetected(f.Service, f.Confidence.String())
		}
		o.metrics.ScanStep(step.Service, string(models.ScanStepStatusCompleted), o.now().Sub(start))
		log.Info("scan step completed", "resources", resources, "findings", len(findings), "new_findings", len(inserted))
	}
}
