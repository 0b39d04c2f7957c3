// Package remediation turns findings into plans and drives each plan through
// validation, approval and sequential execution.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/cloud"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/findings"
	"github.com/hugh/go-reclaim/internal/telemetry"
	"gorm.io/gorm"
)

// Outcome statuses in reports. Skipped actions never ran because an earlier one failed.
const (
	OutcomeSimulated = "simulated"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// PlanScheduler enqueues an approved plan for execution at a later time.
type PlanScheduler interface {
	SchedulePlan(ctx context.Context, planID uuid.UUID, at time.Time) (taskID string, err error)
}

type Options struct {
	ExecutorTimeout time.Duration
}

type ActionOutcome struct {
	ActionID         uuid.UUID         `json:"action_id"`
	FindingID        uuid.UUID         `json:"finding_id"`
	Kind             models.ActionKind `json:"kind"`
	TargetResourceID string            `json:"target_resource_id"`
	Status           string            `json:"status"`
	Message          string            `json:"message,omitempty"`
	Error            string            `json:"error,omitempty"`
}

type ValidationReport struct {
	PlanID  uuid.UUID         `json:"plan_id"`
	Valid   bool              `json:"valid"`
	Status  models.PlanStatus `json:"status"`
	Actions []ActionOutcome   `json:"actions"`
}

type ExecutionReport struct {
	PlanID  uuid.UUID         `json:"plan_id"`
	Status  models.PlanStatus `json:"status"`
	Actions []ActionOutcome   `json:"actions"`
}

type Engine struct {
	db        *gorm.DB
	audit     *audit.Log
	registry  *cloud.Registry
	accounts  cloud.AccountResolver
	locker    FindingLocker
	scheduler PlanScheduler
	metrics   *telemetry.Metrics
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(
	db *gorm.DB,
	log *audit.Log,
	registry *cloud.Registry,
	accounts cloud.AccountResolver,
	locker FindingLocker,
	opts Options,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Engine {
	if opts.ExecutorTimeout <= 0 {
		opts.ExecutorTimeout = time.Minute
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Engine{
		db:       db,
		audit:    log,
		registry: registry,
		accounts: accounts,
		locker:   locker,
		metrics:  metrics,
		opts:     opts,
		logger:   logger.With("component", "remediation"),
		now:      time.Now,
	}
}

func (e *Engine) SetScheduler(s PlanScheduler) {
	e.scheduler = s
}

func (e *Engine) GetPlan(ctx context.Context, id uuid.UUID) (*models.RemediationPlan, error) {
	return loadPlan(e.db.WithContext(ctx), id)
}

// ListPlans returns the newest plans first. An empty status lists all.
func (e *Engine) ListPlans(ctx context.Context, status models.PlanStatus, limit int) ([]models.RemediationPlan, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := e.db.WithContext(ctx).Model(&models.RemediationPlan{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var plans []models.RemediationPlan
	if err := q.Order("created_at DESC").Limit(limit).Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	return plans, nil
}

// ValidatePlan simulates every action. Only when all simulations succeed does
// the plan move on to awaiting approval. Otherwise nothing is recorded.
func (e *Engine) ValidatePlan(ctx context.Context, id uuid.UUID, actor string) (*ValidationReport, error) {
	plan, err := e.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.PlanStatusDraft {
		return nil, apperr.ErrInvalidPlanState.Withf("plan is %s, validation needs draft", plan.Status)
	}

	report := &ValidationReport{PlanID: plan.ID, Valid: true, Status: plan.Status}
	accounts := make(map[uuid.UUID]cloud.Account)
	for _, a := range plan.Actions {
		out := outcome(a)
		msg, err := e.call(ctx, accounts, a, false)
		if err != nil {
			out.Status, out.Error = OutcomeFailed, err.Error()
			report.Valid = false
		} else {
			out.Status, out.Message = OutcomeSimulated, msg
		}
		e.metrics.ActionOutcome(string(a.Kind), "simulate", out.Status)
		report.Actions = append(report.Actions, out)
	}

	if !report.Valid {
		e.logger.Warn("plan validation failed", "plan_id", plan.ID, "actor", actor)
		return report, nil
	}

	persist := context.WithoutCancel(ctx)
	err = e.audit.Transact(persist, func(tx *gorm.DB, w *audit.Writer) error {
		for i, a := range plan.Actions {
			res := tx.Model(&models.RemediationAction{}).
				Where("id = ? AND status = ?", a.ID, models.ActionStatusPending).
				Updates(map[string]interface{}{
					"status":            models.ActionStatusSimulated,
					"simulation_result": report.Actions[i].Message,
				})
			if res.Error != nil {
				return fmt.Errorf("updating action: %w", res.Error)
			}
			if err := w.Append(actionEntry(actor, &a, models.ActionStatusPending, models.ActionStatusSimulated, report.Actions[i].Message)); err != nil {
				return err
			}
		}
		if err := movePlan(tx, w, plan.ID, actor, models.PlanStatusDraft, models.PlanStatusValidated, map[string]interface{}{
			"validated_at": e.now().Unix(),
		}); err != nil {
			return err
		}
		return movePlan(tx, w, plan.ID, audit.ActorSystem, models.PlanStatusValidated, models.PlanStatusAwaitingApproval, nil)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.PlanTransition(string(models.PlanStatusValidated))
	e.metrics.PlanTransition(string(models.PlanStatusAwaitingApproval))
	e.logger.Info("plan validated", "plan_id", plan.ID, "actions", len(plan.Actions), "actor", actor)
	report.Status = models.PlanStatusAwaitingApproval
	return report, nil
}

// ApprovePlan records the operator's consent. Dry-run plans can never be approved.
func (e *Engine) ApprovePlan(ctx context.Context, id uuid.UUID, actor string) (*models.RemediationPlan, error) {
	plan, err := e.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.DryRun {
		return nil, apperr.ErrApprovalRequiresExplicitConsent
	}
	if plan.Status != models.PlanStatusAwaitingApproval {
		return nil, apperr.ErrInvalidPlanState.Withf("plan is %s, approval needs awaiting_approval", plan.Status)
	}
	if err := e.checkExecuting(ctx, plan); err != nil {
		return nil, err
	}

	err = e.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		if err := checkRemediated(tx, plan.FindingIDs); err != nil {
			return err
		}
		return movePlan(tx, w, plan.ID, actor, models.PlanStatusAwaitingApproval, models.PlanStatusApproved, map[string]interface{}{
			"approved_by": actor,
			"approved_at": e.now().Unix(),
		})
	})
	if err != nil {
		return nil, err
	}

	e.metrics.PlanTransition(string(models.PlanStatusApproved))
	e.logger.Info("plan approved", "plan_id", plan.ID, "actor", actor)
	return e.GetPlan(ctx, id)
}

// ExecutePlan runs the actions of an approved plan in order. The first
// failure fails the plan. Actions already done stay done.
func (e *Engine) ExecutePlan(ctx context.Context, id uuid.UUID, actor string) (*ExecutionReport, error) {
	plan, err := e.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.DryRun {
		return nil, apperr.ErrApprovalRequiresExplicitConsent.Withf("dry-run plans are never executed")
	}
	if plan.Status != models.PlanStatusApproved {
		return nil, apperr.ErrInvalidPlanState.Withf("plan is %s, execution needs approved", plan.Status)
	}

	if err := e.locker.Acquire(ctx, plan.ID, plan.FindingIDs); err != nil {
		return nil, err
	}
	persist := context.WithoutCancel(ctx)
	defer func() {
		if err := e.locker.Release(persist, plan.ID, plan.FindingIDs); err != nil {
			e.logger.Error("failed to release finding locks", "plan_id", plan.ID, "error", err)
		}
	}()

	if err := e.checkExecuting(ctx, plan); err != nil {
		return nil, err
	}

	err = e.audit.Transact(persist, func(tx *gorm.DB, w *audit.Writer) error {
		if err := checkRemediated(tx, plan.FindingIDs); err != nil {
			return err
		}
		return movePlan(tx, w, plan.ID, actor, models.PlanStatusApproved, models.PlanStatusExecuting, map[string]interface{}{
			"executed_by": actor,
			"started_at":  e.now().Unix(),
		})
	})
	if err != nil {
		return nil, err
	}
	e.metrics.PlanTransition(string(models.PlanStatusExecuting))
	log := e.logger.With("plan_id", plan.ID, "actor", actor)
	log.Info("plan executing", "actions", len(plan.Actions))

	report := &ExecutionReport{PlanID: plan.ID, Status: models.PlanStatusExecuting}
	accounts := make(map[uuid.UUID]cloud.Account)
	var failure error

	for i := range plan.Actions {
		a := &plan.Actions[i]
		out := outcome(*a)
		if failure != nil {
			out.Status = OutcomeSkipped
			report.Actions = append(report.Actions, out)
			continue
		}

		// Actions run to completion even if the caller goes away.
		msg, err := e.call(persist, accounts, *a, true)
		if err != nil {
			failure = fmt.Errorf("action %d (%s %s): %w", a.Position, a.Kind, a.TargetResourceID, err)
			out.Status, out.Error = OutcomeFailed, err.Error()
			if recErr := e.recordFailure(persist, plan, a, actor, err, failure); recErr != nil {
				return nil, recErr
			}
			log.Warn("action failed, halting plan", "action_id", a.ID, "kind", a.Kind, "target", a.TargetResourceID, "error", err)
		} else {
			out.Status, out.Message = OutcomeSucceeded, msg
			if recErr := e.recordSuccess(persist, a, actor, msg); recErr != nil {
				return nil, recErr
			}
			log.Info("action succeeded", "action_id", a.ID, "kind", a.Kind, "target", a.TargetResourceID)
		}
		e.metrics.ActionOutcome(string(a.Kind), "execute", out.Status)
		report.Actions = append(report.Actions, out)
	}

	if failure != nil {
		report.Status = models.PlanStatusFailed
		e.metrics.PlanTransition(string(models.PlanStatusFailed))
		return report, nil
	}

	err = e.audit.Transact(persist, func(tx *gorm.DB, w *audit.Writer) error {
		return movePlan(tx, w, plan.ID, actor, models.PlanStatusExecuting, models.PlanStatusCompleted, map[string]interface{}{
			"completed_at": e.now().Unix(),
		})
	})
	if err != nil {
		return nil, err
	}
	e.metrics.PlanTransition(string(models.PlanStatusCompleted))
	log.Info("plan completed")
	report.Status = models.PlanStatusCompleted
	return report, nil
}

// SchedulePlan queues an approved plan for execution at a future time.
func (e *Engine) SchedulePlan(ctx context.Context, id uuid.UUID, at time.Time, actor string) (*models.RemediationPlan, error) {
	if e.scheduler == nil {
		return nil, apperr.ErrDependency.Withf("no plan scheduler configured")
	}
	if !at.After(e.now()) {
		return nil, apperr.ErrInvalidInput.Withf("scheduled time must be in the future")
	}
	plan, err := e.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.DryRun {
		return nil, apperr.ErrApprovalRequiresExplicitConsent.Withf("dry-run plans are never executed")
	}
	if plan.Status != models.PlanStatusApproved {
		return nil, apperr.ErrInvalidPlanState.Withf("plan is %s, scheduling needs approved", plan.Status)
	}

	taskID, err := e.scheduler.SchedulePlan(ctx, plan.ID, at)
	if err != nil {
		return nil, apperr.ErrDependency.Wrap(fmt.Errorf("enqueueing plan: %w", err))
	}

	err = e.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		if err := tx.Model(&models.RemediationPlan{}).Where("id = ?", plan.ID).Updates(map[string]interface{}{
			"scheduled_for": at.Unix(),
			"task_id":       taskID,
		}).Error; err != nil {
			return fmt.Errorf("updating plan: %w", err)
		}
		entry := audit.Transition(actor, "plan.scheduled", string(plan.Status), string(plan.Status))
		entry.PlanID = audit.Ref(plan.ID)
		entry.Description = "execution scheduled for " + at.UTC().Format(time.RFC3339)
		return w.Append(entry)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("plan scheduled", "plan_id", plan.ID, "at", at.UTC(), "task_id", taskID, "actor", actor)
	return e.GetPlan(ctx, id)
}

// call runs one action through its executor, simulating unless execute is set.
func (e *Engine) call(ctx context.Context, accounts map[uuid.UUID]cloud.Account, a models.RemediationAction, execute bool) (string, error) {
	executor, ok := e.registry.Executor(a.Service, a.Kind)
	if !ok {
		return "", apperr.ErrNoRemediationMapping.Withf("no %s executor for %s", a.Kind, a.Service)
	}

	account, ok := accounts[a.AccountID]
	if !ok {
		resolved, err := e.accounts.Resolve(ctx, a.AccountID)
		if err != nil {
			return "", err
		}
		accounts[a.AccountID] = resolved
		account = resolved
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.ExecutorTimeout)
	defer cancel()

	target := cloud.Target{ResourceID: a.TargetResourceID, Service: a.Service, Region: a.Region}
	var msg string
	var err error
	if execute {
		msg, err = executor.Execute(callCtx, account, target)
	} else {
		msg, err = executor.Simulate(callCtx, account, target)
	}
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", apperr.ErrTimeout.Wrap(err)
	}
	return msg, err
}

func (e *Engine) recordSuccess(ctx context.Context, a *models.RemediationAction, actor, msg string) error {
	return e.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		if err := tx.Model(&models.RemediationAction{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
			"status":      models.ActionStatusSucceeded,
			"result":      msg,
			"executed_at": e.now().Unix(),
		}).Error; err != nil {
			return fmt.Errorf("updating action: %w", err)
		}
		if err := w.Append(actionEntry(actor, a, a.Status, models.ActionStatusSucceeded, msg)); err != nil {
			return err
		}

		var f models.Finding
		if err := tx.Select("id", "status").First(&f, "id = ?", a.FindingID).Error; err != nil {
			return fmt.Errorf("loading finding: %w", err)
		}
		if f.Status == models.FindingStatusRemediated {
			return nil
		}
		if err := tx.Model(&models.Finding{}).Where("id = ?", f.ID).Updates(map[string]interface{}{
			"status":        models.FindingStatusRemediated,
			"snoozed_until": 0,
		}).Error; err != nil {
			return fmt.Errorf("updating finding: %w", err)
		}
		entry := findings.Entry(actor, f.ID, f.Status, models.FindingStatusRemediated, fmt.Sprintf("%s %s", a.Kind, a.TargetResourceID))
		entry.PlanID = audit.Ref(a.PlanID)
		entry.ActionID = audit.Ref(a.ID)
		return w.Append(entry)
	})
}

func (e *Engine) recordFailure(ctx context.Context, plan *models.RemediationPlan, a *models.RemediationAction, actor string, cause, planErr error) error {
	return e.audit.Transact(ctx, func(tx *gorm.DB, w *audit.Writer) error {
		if err := tx.Model(&models.RemediationAction{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
			"status":      models.ActionStatusFailed,
			"error":       cause.Error(),
			"executed_at": e.now().Unix(),
		}).Error; err != nil {
			return fmt.Errorf("updating action: %w", err)
		}
		if err := w.Append(actionEntry(actor, a, a.Status, models.ActionStatusFailed, cause.Error())); err != nil {
			return err
		}
		return movePlan(tx, w, plan.ID, actor, models.PlanStatusExecuting, models.PlanStatusFailed, map[string]interface{}{
			"error":        planErr.Error(),
			"completed_at": e.now().Unix(),
		})
	})
}

// checkExecuting fails when another executing plan shares a finding with plan.
func (e *Engine) checkExecuting(ctx context.Context, plan *models.RemediationPlan) error {
	var executing []models.RemediationPlan
	if err := e.db.WithContext(ctx).Select("id", "finding_ids").
		Where("status = ? AND id <> ?", models.PlanStatusExecuting, plan.ID).
		Find(&executing).Error; err != nil {
		return fmt.Errorf("loading executing plans: %w", err)
	}
	for _, other := range executing {
		for _, id := range plan.FindingIDs {
			if slices.Contains(other.FindingIDs, id) {
				return apperr.ErrFindingLocked.Withf("finding %s is in executing plan %s", id, other.ID)
			}
		}
	}
	return nil
}

// checkRemediated fails when any of ids has already been remediated.
func checkRemediated(tx *gorm.DB, ids []uuid.UUID) error {
	var done []models.Finding
	if err := tx.Select("id").
		Where("id IN ? AND status = ?", ids, models.FindingStatusRemediated).
		Find(&done).Error; err != nil {
		return fmt.Errorf("loading findings: %w", err)
	}
	if len(done) > 0 {
		return apperr.ErrFindingAlreadyRemediated.Withf("finding %s was remediated by another plan", done[0].ID)
	}
	return nil
}

// movePlan applies a conditional status change and its audit entry.
func movePlan(tx *gorm.DB, w *audit.Writer, planID uuid.UUID, actor string, from, to models.PlanStatus, fields map[string]interface{}) error {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["status"] = to
	res := tx.Model(&models.RemediationPlan{}).Where("id = ? AND status = ?", planID, from).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("updating plan: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return apperr.ErrInvalidPlanState.Withf("plan %s is no longer %s", planID, from)
	}
	entry := audit.Transition(actor, "plan."+string(to), string(from), string(to))
	entry.PlanID = audit.Ref(planID)
	return w.Append(entry)
}

func actionEntry(actor string, a *models.RemediationAction, from, to models.ActionStatus, description string) models.AuditEntry {
	entry := audit.Transition(actor, "action."+string(to), string(from), string(to))
	entry.PlanID = audit.Ref(a.PlanID)
	entry.ActionID = audit.Ref(a.ID)
	entry.FindingID = audit.Ref(a.FindingID)
	entry.Description = description
	return entry
}

func outcome(a models.RemediationAction) ActionOutcome {
	return ActionOutcome{
		ActionID:         a.ID,
		FindingID:        a.FindingID,
		Kind:             a.Kind,
		TargetResourceID: a.TargetResourceID,
	}
}

func loadPlan(db *gorm.DB, id uuid.UUID) (*models.RemediationPlan, error) {
	var plan models.RemediationPlan
	err := db.Preload("Actions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrPlanNotFound
		}
		return nil, fmt.Errorf("loading plan: %w", err)
	}
	return &plan, nil
}
