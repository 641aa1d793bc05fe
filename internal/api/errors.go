package api

import (
	"errors"
	"net/http"

	"github.com/davidahmann/creditgate/internal/approval"
	"github.com/davidahmann/creditgate/internal/auth"
	"github.com/davidahmann/creditgate/internal/intake"
	"github.com/davidahmann/creditgate/internal/workflow"
)

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrAlreadyRunning),
		errors.Is(err, workflow.ErrNotReady),
		errors.Is(err, approval.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, intake.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingBearer), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrExternalService):
		return http.StatusBadGateway
	case errors.Is(err, approval.ErrApprovalTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
