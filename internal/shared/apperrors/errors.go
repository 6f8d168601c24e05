package apperrors

import (
	"errors"
	"net/http"
)

// Error taxonomy shared by every booking component. Callers wrap these with
// fmt.Errorf("...: %w", ErrX) and classify with errors.Is.
var (
	ErrConflict           = errors.New("conflict")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrExternalTimeout    = errors.New("external timeout")
	ErrStaleCallback      = errors.New("stale callback")
	ErrForbidden          = errors.New("forbidden")
	ErrInvariantViolation = errors.New("invariant violation")
)

// HTTPStatus maps an error from the taxonomy onto an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrExternalTimeout):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns a short machine-readable name for the error class.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrExternalTimeout):
		return "EXTERNAL_TIMEOUT"
	case errors.Is(err, ErrStaleCallback):
		return "STALE_CALLBACK"
	case errors.Is(err, ErrInvariantViolation):
		return "INVARIANT_VIOLATION"
	default:
		return "INTERNAL"
	}
}
