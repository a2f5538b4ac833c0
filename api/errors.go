package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/reward-engine/generic"
)

// statusFor maps engine errors to HTTP status codes. Order matters: the
// more specific sentinels are checked before ErrInvalidInput.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrMissingActor), errors.Is(err, generic.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrTierInUse), errors.Is(err, generic.ErrOrderAlreadyPaid), errors.Is(err, generic.ErrDuplicate):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors get a generic
// message; details are echoed only outside production.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
		h.logger(r).Error("request failed", zap.Error(err))
	}
	var details error
	if !h.production {
		details = err
	}
	writeError(w, status, message, details)
}
