package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/treasury/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{shared.Errorf(shared.ErrValidation, "amount must be positive"), http.StatusBadRequest, "validation"},
		{fmt.Errorf("vouchers: %w", shared.ErrNotFound), http.StatusNotFound, "not_found"},
		{shared.Errorf(shared.ErrInsufficientFunds, "bank#1 short"), http.StatusConflict, "insufficient_funds"},
		{shared.Errorf(shared.ErrConstraint, "overlap"), http.StatusConflict, "constraint_violation"},
		{shared.Errorf(shared.ErrPeriodClosed, "closed"), http.StatusUnprocessableEntity, "period_closed"},
		{shared.Errorf(shared.ErrNoOpenPeriod, "none"), http.StatusUnprocessableEntity, "no_open_period"},
		{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		assert.True(t, RespondError(rr, tc.err))
		assert.Equal(t, tc.status, rr.Code)

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, tc.kind, body.Kind)
		assert.Equal(t, tc.err.Error(), body.Detail)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	assert.False(t, RespondError(rr, errors.New("dial tcp: refused")))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "refused")
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}
