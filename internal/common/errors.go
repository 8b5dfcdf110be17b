package common

import (
	stderrors "errors"
	"net/http"
)

// Error taxonomy shared by the ledger, producer and chat packages. Call sites
// wrap these with github.com/pkg/errors; callers match with errors.Is.
var (
	// ErrValidation: missing or contradictory request parameters.
	ErrValidation = stderrors.New("validation error")
	// ErrInvalidState: append/finalize on a terminal or foreign-claimed stream.
	ErrInvalidState = stderrors.New("invalid state")
	// ErrProvider: the model call failed.
	ErrProvider = stderrors.New("provider error")
	// ErrAsset: attachment upload or resolution failed.
	ErrAsset = stderrors.New("asset error")
	// ErrNotFound: a referenced thread, message, breakpoint or stream is absent.
	ErrNotFound = stderrors.New("not found")
)

// HTTPStatus maps an error from the taxonomy to an HTTP status and a
// business code for the response envelope.
func HTTPStatus(err error) (int, int) {
	switch {
	case stderrors.Is(err, ErrValidation):
		return http.StatusBadRequest, 10001
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound, 40400
	case stderrors.Is(err, ErrInvalidState):
		return http.StatusConflict, 40900
	case stderrors.Is(err, ErrProvider):
		return http.StatusBadGateway, 50200
	default:
		return http.StatusInternalServerError, 50000
	}
}
