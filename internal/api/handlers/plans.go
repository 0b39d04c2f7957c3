package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hugh/go-reclaim/internal/api/dto"
	"github.com/hugh/go-reclaim/internal/api/middleware"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/remediation"
)

var planStatuses = map[string]models.PlanStatus{
	string(models.PlanStatusDraft):            models.PlanStatusDraft,
	string(models.PlanStatusValidated):        models.PlanStatusValidated,
	string(models.PlanStatusAwaitingApproval): models.PlanStatusAwaitingApproval,
	string(models.PlanStatusApproved):         models.PlanStatusApproved,
	string(models.PlanStatusExecuting):        models.PlanStatusExecuting,
	string(models.PlanStatusCompleted):        models.PlanStatusCompleted,
	string(models.PlanStatusFailed):           models.PlanStatusFailed,
}

type PlanHandler struct {
	engine *remediation.Engine
	logger *slog.Logger
}

func NewPlanHandler(engine *remediation.Engine, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{engine: engine, logger: logger}
}

// Create handles POST /api/v1/plans. Plans are dry runs unless the request
// sets dry_run to false.
func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreatePlanRequest
	if !decode(w, r, &req) {
		return
	}

	plan, err := h.engine.CreatePlan(r.Context(), req.FindingIDs, req.IsDryRun(), middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to create plan")
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

// List handles GET /api/v1/plans
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	var status models.PlanStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, ok := planStatuses[raw]
		if !ok {
			writeError(w, h.logger, apperr.ErrInvalidInput.Withf("unknown status %q", raw), "")
			return
		}
		status = s
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	plans, err := h.engine.ListPlans(r.Context(), status, limit)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list plans")
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// Get handles GET /api/v1/plans/{id}
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plan")
	if !ok {
		return
	}
	plan, err := h.engine.GetPlan(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to load plan")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// Validate handles POST /api/v1/plans/{id}/validate. A plan whose simulation
// fails is reported with valid=false and left in draft.
func (h *PlanHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plan")
	if !ok {
		return
	}
	report, err := h.engine.ValidatePlan(r.Context(), id, middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to validate plan")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Approve handles POST /api/v1/plans/{id}/approve
func (h *PlanHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plan")
	if !ok {
		return
	}
	plan, err := h.engine.ApprovePlan(r.Context(), id, middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to approve plan")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// Execute handles POST /api/v1/plans/{id}/execute. It runs synchronously and
// returns the per-action report, including when the plan failed.
func (h *PlanHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plan")
	if !ok {
		return
	}
	report, err := h.engine.ExecutePlan(r.Context(), id, middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to execute plan")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Schedule handles POST /api/v1/plans/{id}/schedule
func (h *PlanHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plan")
	if !ok {
		return
	}
	var req dto.SchedulePlanRequest
	if !decode(w, r, &req) {
		return
	}

	plan, err := h.engine.SchedulePlan(r.Context(), id, req.At, middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to schedule plan")
		return
	}
	writeJSON(w, http.StatusAccepted, plan)
}

// Script handles GET /api/v1/plans/{id}/script
func (h *PlanHandler) Script(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plan")
	if !ok {
		return
	}
	script, err := h.engine.GenerateScript(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to render script")
		return
	}

	w.Header().Set("Content-Type", "text/x-shellscript; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="plan-`+id.String()+`.sh"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(script))
}
