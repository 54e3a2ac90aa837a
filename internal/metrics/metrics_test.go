package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestDomainCountersAreExposed(t *testing.T) {
	m := New()
	m.ObserveReservation(ReservationApplied)
	m.ObserveReservation(ReservationInsufficient)
	m.ObserveCompensation(CompensationDeleted)
	m.ObserveRestock()
	m.ObserveValuationRepair()

	body := scrape(t, m)
	require.Contains(t, body, `lounge_stock_reservations_total{outcome="applied"} 1`)
	require.Contains(t, body, `lounge_stock_reservations_total{outcome="insufficient"} 1`)
	require.Contains(t, body, `lounge_compensations_total{outcome="deleted"} 1`)
	require.Contains(t, body, "lounge_restocks_total 1")
	require.Contains(t, body, "lounge_valuation_repairs_total 1")
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/stock/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stock/abc", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, m)
	require.True(t, strings.Contains(body, `lounge_http_requests_total{code="418",route="/api/stock/:id"} 1`), body)
	require.Contains(t, body, `lounge_http_request_duration_seconds_bucket{route="/api/stock/:id"`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveReservation(ReservationError)
	m.ObserveCompensation(CompensationFailed)
	m.ObserveSettlement("confirmed")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
