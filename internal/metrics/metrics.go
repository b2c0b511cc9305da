// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"fmt"
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
	// BalanceMutations counts committed balance changes by operation.
	BalanceMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_balance_mutations_total",
		Help: "Committed balance mutations",
	}, []string{"op"})

	// BalanceRejections counts debits refused for insufficient funds.
	BalanceRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_insufficient_funds_total",
		Help: "Debits rejected for insufficient funds",
	})

	// WalletTransitions counts wallet transaction state changes.
	WalletTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_wallet_transitions_total",
		Help: "Wallet transaction transitions by kind and resulting status",
	}, []string{"kind", "status"})

	// PositionTrades counts trades applied to the position book.
	PositionTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_position_trades_total",
		Help: "Trades applied to the position book",
	}, []string{"side"})

	// PositionConflicts counts optimistic-version retries on position writes.
	PositionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_position_version_conflicts_total",
		Help: "Optimistic concurrency conflicts on position writes",
	})

	// HoldsCreated counts escrow holds created by kind.
	HoldsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_escrow_holds_created_total",
		Help: "Escrow holds created",
	}, []string{"kind"})

	// HoldResolutions counts escrow resolutions by status and trigger.
	HoldResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_escrow_resolutions_total",
		Help: "Escrow holds resolved",
	}, []string{"status", "trigger"})

	// SweepLatency tracks background sweep duration.
	SweepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_escrow_sweep_seconds",
		Help:    "Expired-hold sweep duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// NotificationFailures counts swallowed notification errors.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_notification_failures_total",
		Help: "Notification emissions that failed and were discarded",
	}, []string{"category"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
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

// Hijack hands the connection to protocol upgrades such as WebSocket.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}
