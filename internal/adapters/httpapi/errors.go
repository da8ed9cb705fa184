package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"cyclekeeper/internal/blob"
	"cyclekeeper/pkg/domain"
)

// Error codes carried in the "error" field of error responses.
const (
	codeInvalidInput        = "invalid_input"
	codeMissingPrerequisite = "missing_prerequisite"
	codeStageNotReached     = "stage_not_reached"
	codeNotFound            = "not_found"
	codeUnsupported         = "unsupported"
	codeInternal            = "internal_error"
)

type errorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err onto a status and error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	ctx := r.Context()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx))
	} else {
		h.logger.WarnContext(ctx, "request rejected",
			"error", err,
			"status", status,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx))
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse) {
	var validation domain.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, errorResponse{Error: codeInvalidInput, Message: validation.Error(), Fields: validation.Fields}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, errorResponse{Error: codeInvalidInput, Message: err.Error()}
	case errors.Is(err, domain.ErrMissingPrerequisite):
		return http.StatusUnprocessableEntity, errorResponse{Error: codeMissingPrerequisite, Message: err.Error()}
	case errors.Is(err, domain.ErrStageNotReached):
		return http.StatusUnprocessableEntity, errorResponse{Error: codeStageNotReached, Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: codeNotFound, Message: err.Error()}
	case errors.Is(err, blob.ErrUnsupported):
		return http.StatusNotImplemented, errorResponse{Error: codeUnsupported, Message: "operation not supported by the artifact store"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: codeInternal, Message: "internal server error"}
	}
}
