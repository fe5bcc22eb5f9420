package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `treasury_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `treasury_http_request_duration_seconds_bucket{route="/test"`)
}

func TestRecordVoucher(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordVoucher("receipt", "create", "success")
	metrics.RecordVoucher("receipt", "create", "success")
	metrics.RecordVoucher("payment", "create", "insufficient_funds")

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.voucherOps.WithLabelValues("receipt", "create", "success")))
	assert.True(t, strings.Contains(scrape(t, metrics), `treasury_voucher_operations_total{kind="payment",op="create",outcome="insufficient_funds"} 1`))

	var nilMetrics *Metrics
	nilMetrics.RecordVoucher("receipt", "create", "success")
	rr := httptest.NewRecorder()
	nilMetrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
