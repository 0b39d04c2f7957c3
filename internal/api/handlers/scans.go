package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hugh/go-reclaim/internal/api/dto"
	"github.com/hugh/go-reclaim/internal/api/middleware"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/scan"
)

type ScanHandler struct {
	orchestrator *scan.Orchestrator
	logger       *slog.Logger
}

func NewScanHandler(o *scan.Orchestrator, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{orchestrator: o, logger: logger}
}

// Create handles POST /api/v1/scans. The job runs asynchronously, so the
// response is 202 with the job in its pending state.
func (h *ScanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateScanRequest
	if !decode(w, r, &req) {
		return
	}

	expanded := req.Expand()
	units := make([]models.ScanUnit, len(expanded))
	for i, u := range expanded {
		units[i] = models.ScanUnit{Service: u.Service, Region: u.Region}
	}

	job, err := h.orchestrator.StartScan(r.Context(), req.AccountID, units, middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to start scan")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// List handles GET /api/v1/scans
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, err := queryID(r, "account_id")
	if err != nil {
		writeError(w, h.logger, err, "")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.orchestrator.List(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list scans")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Get handles GET /api/v1/scans/{id}
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "scan")
	if !ok {
		return
	}
	job, err := h.orchestrator.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to load scan")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Cancel handles POST /api/v1/scans/{id}/cancel
func (h *ScanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "scan")
	if !ok {
		return
	}
	job, err := h.orchestrator.CancelScan(r.Context(), id, middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to cancel scan")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
