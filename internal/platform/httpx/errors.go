// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/lilas/backoffice/internal/shared"
)

// StatusFor maps a domain error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrBranchNotFound):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrCarrier):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	problem := ProblemDetail{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Code:   shared.CodeOf(err),
	}
	if status != http.StatusInternalServerError {
		problem.Detail = err.Error()
		var verr *shared.ValidationError
		if errors.As(err, &verr) {
			problem.Fields = verr.Fields
		}
	}
	JSON(w, status, problem)
}

// Fail logs server side failures and writes the problem response.
func Fail(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	if logger != nil && StatusFor(err) >= http.StatusInternalServerError {
		logger.Error(op+" failed", slog.Any("error", err))
	}
	RespondError(w, err)
}
