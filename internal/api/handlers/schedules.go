package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/api/dto"
	"github.com/hugh/go-reclaim/internal/api/middleware"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/scan"
	"github.com/hugh/go-reclaim/pkg/util"
	"gorm.io/gorm"
)

// Schedules firing more often than this would stack scans of the same units.
const minScheduleInterval = 15 * time.Minute

type ScheduleHandler struct {
	db           *gorm.DB
	orchestrator *scan.Orchestrator
	logger       *slog.Logger
}

func NewScheduleHandler(db *gorm.DB, o *scan.Orchestrator, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{db: db, orchestrator: o, logger: logger}
}

// Create handles POST /api/v1/schedules
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateScheduleRequest
	if !decode(w, r, &req) {
		return
	}

	units := toUnits(req.Units)
	if err := h.checkSchedule(r, req.AccountID, req.CronExpr, units); err != nil {
		writeError(w, h.logger, err, "Failed to create schedule")
		return
	}

	nextRun, err := util.NextCronTime(req.CronExpr, time.Now())
	if err != nil {
		writeError(w, h.logger, apperr.ErrInvalidInput.Withf("%v", err), "")
		return
	}

	schedule := models.ScanSchedule{
		AccountID: req.AccountID,
		Name:      req.Name,
		CronExpr:  req.CronExpr,
		Units:     units,
		IsEnabled: true,
		CreatedBy: middleware.GetActor(r.Context()),
		NextRunAt: nextRun.Unix(),
	}
	if err := h.db.WithContext(r.Context()).Create(&schedule).Error; err != nil {
		writeError(w, h.logger, err, "Failed to create schedule")
		return
	}

	h.logger.Info("schedule created", "schedule_id", schedule.ID, "cron", schedule.CronExpr, "next_run_at", schedule.NextRunAt)
	writeJSON(w, http.StatusCreated, schedule)
}

// List handles GET /api/v1/schedules
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryID(r, "account_id")
	if err != nil {
		writeError(w, h.logger, err, "")
		return
	}

	q := h.db.WithContext(r.Context()).Order("created_at DESC")
	if accountID != nil {
		q = q.Where("account_id = ?", *accountID)
	}
	var schedules []models.ScanSchedule
	if err := q.Find(&schedules).Error; err != nil {
		writeError(w, h.logger, err, "Failed to fetch schedules")
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

// Get handles GET /api/v1/schedules/{id}
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "schedule")
	if !ok {
		return
	}
	schedule, err := h.load(r, id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to fetch schedule")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// Update handles PUT /api/v1/schedules/{id}. A new cron expression or
// re-enabling recomputes the next run from now.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "schedule")
	if !ok {
		return
	}
	schedule, err := h.load(r, id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to fetch schedule")
		return
	}

	var req dto.UpdateScheduleRequest
	if !decode(w, r, &req) {
		return
	}

	reschedule := false
	if req.Name != nil {
		schedule.Name = *req.Name
	}
	if req.CronExpr != nil {
		schedule.CronExpr = *req.CronExpr
		reschedule = true
	}
	if req.Units != nil {
		schedule.Units = toUnits(req.Units)
	}
	if req.IsEnabled != nil {
		reschedule = reschedule || (*req.IsEnabled && !schedule.IsEnabled)
		schedule.IsEnabled = *req.IsEnabled
	}

	if err := h.checkSchedule(r, schedule.AccountID, schedule.CronExpr, schedule.Units); err != nil {
		writeError(w, h.logger, err, "Failed to update schedule")
		return
	}
	if reschedule {
		nextRun, err := util.NextCronTime(schedule.CronExpr, time.Now())
		if err != nil {
			writeError(w, h.logger, apperr.ErrInvalidInput.Withf("%v", err), "")
			return
		}
		schedule.NextRunAt = nextRun.Unix()
	}

	if err := h.db.WithContext(r.Context()).Save(schedule).Error; err != nil {
		writeError(w, h.logger, err, "Failed to update schedule")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// Delete handles DELETE /api/v1/schedules/{id}
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "schedule")
	if !ok {
		return
	}

	result := h.db.WithContext(r.Context()).Where("id = ?", id).Delete(&models.ScanSchedule{})
	if result.Error != nil {
		writeError(w, h.logger, result.Error, "Failed to delete schedule")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, h.logger, apperr.ErrScheduleNotFound, "")
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Schedule deleted"})
}

// Trigger handles POST /api/v1/schedules/{id}/trigger by starting the
// schedule's scan now. NextRunAt is left alone.
func (h *ScheduleHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "schedule")
	if !ok {
		return
	}
	schedule, err := h.load(r, id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to fetch schedule")
		return
	}

	job, err := h.orchestrator.StartScheduled(r.Context(), schedule)
	if err != nil {
		writeError(w, h.logger, err, "Failed to start scan")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *ScheduleHandler) load(r *http.Request, id uuid.UUID) (*models.ScanSchedule, error) {
	var schedule models.ScanSchedule
	if err := h.db.WithContext(r.Context()).First(&schedule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrScheduleNotFound
		}
		return nil, err
	}
	return &schedule, nil
}

// checkSchedule rejects schedules that could never start a scan: unknown
// accounts, unauthorized regions and crons that fire too often.
func (h *ScheduleHandler) checkSchedule(r *http.Request, accountID uuid.UUID, cronExpr string, units []models.ScanUnit) error {
	var account models.CloudAccount
	if err := h.db.WithContext(r.Context()).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrAccountNotFound
		}
		return err
	}
	for _, u := range units {
		if !account.Authorizes(u.Region) {
			return apperr.ErrInvalidScanTarget.Withf("region %s is not authorized for account %s", u.Region, account.AccountID)
		}
	}

	interval, err := util.MinCronInterval(cronExpr, time.Now())
	if err != nil {
		return apperr.ErrInvalidInput.Withf("%v", err)
	}
	if interval < minScheduleInterval {
		return apperr.ErrInvalidInput.Withf("schedule fires every %s, minimum is %s", interval, minScheduleInterval)
	}
	return nil
}

func toUnits(in []dto.ScanUnitDTO) []models.ScanUnit {
	units := make([]models.ScanUnit, len(in))
	for i, u := range in {
		units[i] = models.ScanUnit{Service: u.Service, Region: u.Region}
	}
	return units
}
