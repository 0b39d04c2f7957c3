package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/api/dto"
	"github.com/hugh/go-reclaim/internal/api/middleware"
	"github.com/hugh/go-reclaim/internal/apperr"
	"github.com/hugh/go-reclaim/internal/database/models"
	"github.com/hugh/go-reclaim/internal/findings"
)

var findingStatuses = map[string]models.FindingStatus{
	string(models.FindingStatusOpen):       models.FindingStatusOpen,
	string(models.FindingStatusSnoozed):    models.FindingStatusSnoozed,
	string(models.FindingStatusDismissed):  models.FindingStatusDismissed,
	string(models.FindingStatusRemediated): models.FindingStatusRemediated,
}

type FindingHandler struct {
	findings *findings.Service
	logger   *slog.Logger
}

func NewFindingHandler(svc *findings.Service, logger *slog.Logger) *FindingHandler {
	return &FindingHandler{findings: svc, logger: logger}
}

// List handles GET /api/v1/findings
//
// Query: account_id, scan_id, service, type, confidence, status, sort
// (savings|confidence|detected), page, per_page.
func (h *FindingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := parseFindingFilter(r)
	if err != nil {
		writeError(w, h.logger, err, "")
		return
	}
	sort, err := findings.ParseSort(q.Get("sort"))
	if err != nil {
		writeError(w, h.logger, err, "")
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pagination := dto.PaginationParams{Page: page, PerPage: perPage}
	pagination.Normalize()

	list, total, err := h.findings.List(r.Context(), filter, sort, findings.Page{
		Offset: pagination.Offset(),
		Limit:  pagination.PerPage,
	})
	if err != nil {
		writeError(w, h.logger, err, "Failed to list findings")
		return
	}

	writeJSON(w, http.StatusOK, dto.NewPaginatedResponse(list, total, pagination))
}

func parseFindingFilter(r *http.Request) (findings.Filter, error) {
	q := r.URL.Query()
	var filter findings.Filter
	var err error

	if filter.AccountID, err = queryID(r, "account_id"); err != nil {
		return filter, err
	}
	if filter.ScanJobID, err = queryID(r, "scan_id"); err != nil {
		return filter, err
	}
	filter.Service = q.Get("service")
	filter.FindingType = q.Get("type")

	if raw := q.Get("confidence"); raw != "" {
		if filter.Confidence, err = models.ParseConfidence(raw); err != nil {
			return filter, apperr.ErrInvalidInput.Withf("%v", err)
		}
	}
	if raw := q.Get("status"); raw != "" {
		status, ok := findingStatuses[raw]
		if !ok {
			return filter, apperr.ErrInvalidInput.Withf("unknown status %q", raw)
		}
		filter.Status = status
	}
	return filter, nil
}

// Get handles GET /api/v1/findings/{id}
func (h *FindingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "finding")
	if !ok {
		return
	}
	finding, err := h.findings.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to load finding")
		return
	}
	writeJSON(w, http.StatusOK, finding)
}

// Snooze handles POST /api/v1/findings/{id}/snooze. An empty body snoozes for
// the default period.
func (h *FindingHandler) Snooze(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "finding")
	if !ok {
		return
	}

	var req dto.SnoozeRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	var until time.Time
	if req.Until != nil {
		until = *req.Until
	}

	finding, err := h.findings.Snooze(r.Context(), id, until, middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, "Failed to snooze finding")
		return
	}
	writeJSON(w, http.StatusOK, finding)
}

// Dismiss handles POST /api/v1/findings/{id}/dismiss
func (h *FindingHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.statusOp(w, r, h.findings.Dismiss, "Failed to dismiss finding")
}

// Reopen handles POST /api/v1/findings/{id}/reopen
func (h *FindingHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.statusOp(w, r, h.findings.Reopen, "Failed to reopen finding")
}

func (h *FindingHandler) statusOp(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, string) (*models.Finding, error), fallback string) {
	id, ok := pathID(w, r, "finding")
	if !ok {
		return
	}
	finding, err := op(r.Context(), id, middleware.GetActor(r.Context()))
	if err != nil {
		writeError(w, h.logger, err, fallback)
		return
	}
	writeJSON(w, http.StatusOK, finding)
}
