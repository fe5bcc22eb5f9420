// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/treasury/internal/shared"
)

// ErrUnauthorized signals a request without tenant/actor identity.
var ErrUnauthorized = errors.New("unauthorized")

type errorMapping struct {
	err    error
	status int
	title  string
}

var errorMappings = []errorMapping{
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found"},
	{shared.ErrInsufficientFunds, http.StatusConflict, "Insufficient Funds"},
	{shared.ErrConstraint, http.StatusConflict, "Constraint Violation"},
	{shared.ErrIdempotencyConflict, http.StatusConflict, "Duplicate Request"},
	{shared.ErrPeriodClosed, http.StatusUnprocessableEntity, "Period Closed"},
	{shared.ErrNoOpenPeriod, http.StatusUnprocessableEntity, "No Open Period"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
}

// RespondError maps domain errors to HTTP responses using RFC7807. It reports
// whether err was an expected domain error; unexpected errors get a blank detail.
func RespondError(w http.ResponseWriter, err error) bool {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeProblem(w, ProblemDetail{
				Title:  m.title,
				Status: m.status,
				Detail: err.Error(),
				Kind:   kindOf(err),
			})
			return true
		}
	}
	writeProblem(w, ProblemDetail{
		Title:  "Internal Error",
		Status: http.StatusInternalServerError,
		Kind:   "internal",
	})
	return false
}

func kindOf(err error) string {
	if errors.Is(err, ErrUnauthorized) {
		return "unauthorized"
	}
	return shared.KindOf(err)
}
