package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hugh/go-reclaim/internal/audit"
)

type AuditHandler struct {
	log    *audit.Log
	logger *slog.Logger
}

func NewAuditHandler(log *audit.Log, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{log: log, logger: logger}
}

// List handles GET /api/v1/audit?scan_id=|plan_id=|finding_id=. At least one
// id is required; entries come back in write order.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	var scope audit.Scope
	var err error
	if scope.ScanJobID, err = queryID(r, "scan_id"); err != nil {
		writeError(w, h.logger, err, "")
		return
	}
	if scope.PlanID, err = queryID(r, "plan_id"); err != nil {
		writeError(w, h.logger, err, "")
		return
	}
	if scope.FindingID, err = queryID(r, "finding_id"); err != nil {
		writeError(w, h.logger, err, "")
		return
	}

	entries, err := h.log.List(r.Context(), scope)
	if err != nil {
		writeError(w, h.logger, err, "Failed to read audit log")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
