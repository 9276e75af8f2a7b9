package httpx

import (
	"errors"
	"net/http"

	"github.com/vitacare-erp/vitacare/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrUnitNotFound):
		Problem(w, http.StatusBadRequest, "Validation Failed", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrStateConflict):
		Problem(w, http.StatusConflict, "State Conflict", shared.UserSafeMessage(err))
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
