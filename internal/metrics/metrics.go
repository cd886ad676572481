// Package metrics provides Prometheus instrumentation for the prediction
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsTotal counts accepted bets, partitioned by direction.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_bets_total",
		Help: "Total number of bets accepted",
	}, []string{"direction"})

	// BetVolume accumulates net wager volume, partitioned by direction.
	BetVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_bet_volume_total",
		Help: "Cumulative net wager volume in token units",
	}, []string{"direction"})

	// RoundTransitions counts scheduler transitions: closed, live, bidding.
	RoundTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_round_transitions_total",
		Help: "Round lifecycle transitions performed by advance",
	}, []string{"transition"})

	// ClaimsTotal counts successful winnings collections.
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_claims_total",
		Help: "Total number of successful claims",
	})

	// ClaimAmount accumulates tokens paid out through claims.
	ClaimAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_claim_amount_total",
		Help: "Cumulative winnings paid out in token units",
	})

	// Paused tracks whether betting and advancing are disabled.
	Paused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_paused",
		Help: "1 when the engine is paused, 0 otherwise",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "updown_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "updown_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
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

		// Use the raw path for the label; the route surface is small and
		// fixed enough that cardinality stays bounded.
		path := r.URL.Path
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
