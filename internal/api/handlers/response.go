package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/api/dto"
	"github.com/hugh/go-reclaim/internal/api/validation"
	"github.com/hugh/go-reclaim/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an apperr class to an HTTP status. Unclassified errors are 500s.
func statusFor(err error) int {
	switch apperr.ClassOf(err) {
	case apperr.ClassInput:
		if errors.Is(err, apperr.ErrFindingNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case apperr.ClassNotFound:
		return http.StatusNotFound
	case apperr.ClassDependency:
		if errors.Is(err, apperr.ErrTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case apperr.ClassConflict:
		return http.StatusConflict
	case apperr.ClassInvariant:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "code"}. Internal details of unclassified
// errors are logged, never returned.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(fallback, "error", err)
		writeJSON(w, status, dto.ErrorResponse{Error: fallback})
		return
	}

	var ae *apperr.Error
	errors.As(err, &ae)
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error(), Code: ae.Code})
}

// decode reads a JSON body into v and validates it. It writes the 400 itself
// and returns false when the request cannot proceed.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body", Code: apperr.ErrInvalidInput.Code})
		return false
	}
	if errs := validation.Struct(v); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Code: apperr.ErrInvalidInput.Code, Details: errs})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid " + what + " ID", Code: apperr.ErrInvalidInput.Code})
		return uuid.Nil, false
	}
	return id, true
}

// queryID parses an optional uuid query parameter.
func queryID(r *http.Request, key string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.ErrInvalidInput.Withf("%s must be a UUID", key)
	}
	return &id, nil
}
