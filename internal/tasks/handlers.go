package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/audit"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/remediation"
	"github.com/hugh/go-reclaim/pkg/util"
	"gorm.io/gorm"
)

type ScanRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
	StartScheduled(ctx context.Context, schedule *models.ScanSchedule) (*models.ScanJob, error)
}

type PlanExecutor interface {
	ExecutePlan(ctx context.Context, id uuid.UUID, actor string) (*remediation.ExecutionReport, error)
}

type SnoozeReopener interface {
	ReopenExpiredSnoozes(ctx context.Context, now time.Time) (int, error)
}

type Handler struct {
	db       *gorm.DB
	logger   *slog.Logger
	scans    ScanRunner
	plans    PlanExecutor
	findings SnoozeReopener
	now      func() time.Time
}

func NewHandler(db *gorm.DB, logger *slog.Logger, scans ScanRunner, plans PlanExecutor, findings SnoozeReopener) *Handler {
	return &Handler{
		db:       db,
		logger:   logger.With("component", "tasks"),
		scans:    scans,
		plans:    plans,
		findings: findings,
		now:      time.Now,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeScanRun, h.HandleScanRun)
	mux.HandleFunc(TypeRemediationExecute, h.HandleRemediationExecute)
	mux.HandleFunc(TypeSchedulerTick, h.HandleSchedulerTick)
}

func (h *Handler) HandleScanRun(ctx context.Context, t *asynq.Task) error {
	var payload ScanRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	h.logger.Info("running scan", "scan_id", payload.ScanID)
	if err := h.scans.Run(ctx, payload.ScanID); err != nil {
		if errors.Is(err, apperr.ErrScanNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func (h *Handler) HandleRemediationExecute(ctx context.Context, t *asynq.Task) error {
	var payload RemediationExecutePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	log := h.logger.With("plan_id", payload.PlanID)
	log.Info("executing scheduled plan")

	report, err := h.plans.ExecutePlan(ctx, payload.PlanID, audit.ActorScheduler)
	if err != nil {
		switch apperr.ClassOf(err) {
		case apperr.ClassConflict, apperr.ClassDependency:
			// Locked findings clear once the other plan finishes.
			return err
		default:
			log.Error("scheduled plan rejected", "error", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
	}

	log.Info("scheduled plan finished", "status", report.Status, "actions", len(report.Actions))
	return nil
}

// HandleSchedulerTick starts every due schedule, advances it to its next
// occurrence and reopens expired snoozes.
func (h *Handler) HandleSchedulerTick(ctx context.Context, t *asynq.Task) error {
	if len(t.Payload()) > 0 {
		var payload SchedulerTickPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
	}

	now := h.now().UTC()

	var due []models.ScanSchedule
	if err := h.db.WithContext(ctx).
		Where("is_enabled = ? AND next_run_at <= ?", true, now.Unix()).
		Order("next_run_at ASC").
		Find(&due).Error; err != nil {
		return fmt.Errorf("loading due schedules: %w", err)
	}

	for i := range due {
		h.runSchedule(ctx, &due[i], now)
	}

	if h.findings != nil {
		if _, err := h.findings.ReopenExpiredSnoozes(ctx, now); err != nil {
			h.logger.Error("failed to reopen expired snoozes", "error", err)
		}
	}
	return nil
}

func (h *Handler) runSchedule(ctx context.Context, schedule *models.ScanSchedule, now time.Time) {
	log := h.logger.With("schedule_id", schedule.ID, "schedule", schedule.Name)

	updates := map[string]interface{}{}
	next, err := util.NextCronTime(schedule.CronExpr, now)
	if err != nil {
		log.Error("disabling schedule with invalid cron expression", "cron", schedule.CronExpr, "error", err)
		updates["is_enabled"] = false
	} else {
		updates["next_run_at"] = next.Unix()

		job, err := h.scans.StartScheduled(ctx, schedule)
		if err != nil {
			log.Error("failed to start scheduled scan", "error", err)
		} else {
			updates["last_run_at"] = now.Unix()
			updates["last_scan_job_id"] = job.ID
			log.Info("scheduled scan started", "scan_id", job.ID, "next_run_at", next)
		}
	}

	if err := h.db.WithContext(ctx).Model(&models.ScanSchedule{}).
		Where("id = ?", schedule.ID).
		Updates(updates).Error; err != nil {
		log.Error("failed to update schedule", "error", err)
	}
}
