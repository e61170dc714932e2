// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SalesTotal counts committed sales, partitioned by role and whether
	// the player came from the unsold pool.
	SalesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_sales_total",
		Help: "Total number of players sold",
	}, []string{"role", "late"})

	// SalePrice tracks the distribution of winning bids per role.
	SalePrice = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_sale_price_tokens",
		Help:    "Winning bid in tokens",
		Buckets: []float64{20, 40, 60, 80, 100, 150, 200, 300, 400},
	}, []string{"role"})

	// UnsoldTotal counts players passed without a sale.
	UnsoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_unsold_total",
		Help: "Total number of players marked unsold",
	})

	// BidRejections counts violations reported by the bid validator.
	BidRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bid_rejections_total",
		Help: "Bid validation violations by code",
	}, []string{"code"})

	// PersistenceFailures counts store writes that were rolled back.
	PersistenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_persistence_failures_total",
		Help: "Store writes that failed and were reverted in memory",
	}, []string{"op"})

	// PlayersRemaining tracks players not yet put up for auction.
	PlayersRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_players_remaining",
		Help: "Players still to be auctioned",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics. The
// response is wrapped with chi's WrapResponseWriter so Hijack and Flush still
// reach the server's writer for WebSocket upgrades.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()

		status := ww.Status()
		if status == 0 {
			// Nothing written through the wrapper: implicit 200 or a hijacked upgrade.
			status = http.StatusOK
			if r.Header.Get("Upgrade") != "" {
				status = http.StatusSwitchingProtocols
			}
		}

		// Prefer the route pattern to keep label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}
