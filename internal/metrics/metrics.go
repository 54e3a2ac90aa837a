// Package metrics exposes the Prometheus collectors of the lounge back-office.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reservation outcomes.
const (
	ReservationApplied      = "applied"
	ReservationInsufficient = "insufficient"
	ReservationError        = "error"
	ReservationReplayed     = "replayed"
	ReservationCancelled    = "cancelled"
)

// Compensation outcomes.
const (
	CompensationDeleted  = "deleted"
	CompensationReverted = "reverted"
	CompensationFailed   = "failed"
	CompensationEnqueued = "enqueued"
)

// Metrics groups the registry with the domain and HTTP collectors.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reservations    *prometheus.CounterVec
	compensations   *prometheus.CounterVec
	restocks        prometheus.Counter
	settlements     *prometheus.CounterVec
	repairs         prometheus.Counter
}

// New builds a dedicated registry with every collector registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lounge_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lounge_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lounge_stock_reservations_total",
			Help: "Stock reservations by outcome.",
		}, []string{"outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lounge_compensations_total",
			Help: "Compensating actions by outcome.",
		}, []string{"outcome"}),
		restocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lounge_restocks_total",
			Help: "Applied deliveries.",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lounge_pending_settlements_total",
			Help: "Pending rows settled by result.",
		}, []string{"result"}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lounge_valuation_repairs_total",
			Help: "Stock items whose derived valuation was recomputed after a mismatch.",
		}),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration, m.reservations, m.compensations, m.restocks, m.settlements, m.repairs)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and latency per gin route pattern.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveReservation counts a reservation attempt.
func (m *Metrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

// ObserveCompensation counts a compensating action.
func (m *Metrics) ObserveCompensation(outcome string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

// ObserveRestock counts an applied delivery.
func (m *Metrics) ObserveRestock() {
	if m == nil {
		return
	}
	m.restocks.Inc()
}

// ObserveSettlement counts a settled pending row ("confirmed", "deleted" or "skipped").
func (m *Metrics) ObserveSettlement(result string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(result).Inc()
}

// ObserveValuationRepair counts a recomputed valuation.
func (m *Metrics) ObserveValuationRepair() {
	if m == nil {
		return
	}
	m.repairs.Inc()
}
