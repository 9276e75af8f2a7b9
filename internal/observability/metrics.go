package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	ordersFulfilled    prometheus.Counter
	orderShortages     prometheus.Counter
	batchesAllocated   prometheus.Counter
	stockRestoredUnits prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vitacare_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vitacare_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	ordersFulfilled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vitacare_orders_fulfilled_total",
		Help: "Sale orders committed with all lines allocated.",
	})
	orderShortages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vitacare_order_shortages_total",
		Help: "Sale orders rejected for insufficient stock.",
	})
	batchesAllocated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vitacare_batches_allocated_total",
		Help: "Batch rows drawn from during fulfillment or transfer completion.",
	})
	stockRestored := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vitacare_stock_restored_units_total",
		Help: "Base units credited back to the ledger by restorations.",
	})
	registry.MustRegister(requests, duration, ordersFulfilled, orderShortages, batchesAllocated, stockRestored)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		ordersFulfilled:    ordersFulfilled,
		orderShortages:     orderShortages,
		batchesAllocated:   batchesAllocated,
		stockRestoredUnits: stockRestored,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// OrderFulfilled increments the fulfilled order counter.
func (m *Metrics) OrderFulfilled() {
	if m != nil {
		m.ordersFulfilled.Inc()
	}
}

// OrderShortage increments the shortage counter.
func (m *Metrics) OrderShortage() {
	if m != nil {
		m.orderShortages.Inc()
	}
}

// BatchesAllocated adds to the allocated batch counter.
func (m *Metrics) BatchesAllocated(n int) {
	if m != nil && n > 0 {
		m.batchesAllocated.Add(float64(n))
	}
}

// StockRestored adds credited base units to the restoration counter.
func (m *Metrics) StockRestored(units int64) {
	if m != nil && units > 0 {
		m.stockRestoredUnits.Add(float64(units))
	}
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
