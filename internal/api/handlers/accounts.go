package handlers

import (
	"log/slog"
	"net/http"

	"github.com/hugh/go-reclaim/internal/accounts"
	"github.com/hugh/go-reclaim/internal/api/dto"
	"github.com/hugh/go-reclaim/internal/api/middleware"
)

type AccountHandler struct {
	accounts *accounts.Service
	logger   *slog.Logger
}

func NewAccountHandler(svc *accounts.Service, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: svc, logger: logger}
}

// List handles GET /api/v1/accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.accounts.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err, "Failed to list accounts")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Create handles POST /api/v1/accounts
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateAccountRequest
	if !decode(w, r, &req) {
		return
	}

	account, err := h.accounts.Create(r.Context(), accounts.CreateInput{
		Name:       req.Name,
		AccountID:  req.AccountID,
		RoleARN:    req.RoleARN,
		ExternalID: req.ExternalID,
		Regions:    req.Regions,
		CreatedBy:  middleware.GetActor(r.Context()),
	})
	if err != nil {
		writeError(w, h.logger, err, "Failed to create account")
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// Get handles GET /api/v1/accounts/{id}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "account")
	if !ok {
		return
	}
	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to load account")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Delete handles DELETE /api/v1/accounts/{id}
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "account")
	if !ok {
		return
	}
	if err := h.accounts.Delete(r.Context(), id); err != nil {
		writeError(w, h.logger, err, "Failed to delete account")
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Account deleted"})
}

// Verify handles POST /api/v1/accounts/{id}/verify by assuming the role once.
func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "account")
	if !ok {
		return
	}
	account, err := h.accounts.Verify(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to verify account")
		return
	}
	writeJSON(w, http.StatusOK, account)
}
