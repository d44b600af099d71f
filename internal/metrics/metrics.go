// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts settlement attempts by kind and final status.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_engine_settlements_total",
		Help: "Total settlements by kind and final status",
	}, []string{"kind", "status"})

	// SettlementLatency tracks submit-to-terminal latency.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_engine_settlement_latency_seconds",
		Help:    "Time from first submission to a terminal status",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 90},
	}, []string{"kind"})

	// FeesCollected sums quoted fees of confirmed settlements, in the base asset.
	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_engine_fees_collected_total",
		Help: "Fees collected in base-asset units",
	}, []string{"policy"})

	// FloorFeesApplied counts quotes where the minimum fee dominated.
	FloorFeesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_engine_floor_fees_total",
		Help: "Fee quotes where the minimum fee was applied",
	}, []string{"policy"})

	// PartialFailures counts fee legs that failed after a confirmed payment.
	PartialFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_engine_partial_failures_total",
		Help: "Fee legs that failed after the payment confirmed",
	})

	// Rejections counts requests refused before submission, by reason.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_engine_rejections_total",
		Help: "Settlements rejected before submission",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps addresses out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
