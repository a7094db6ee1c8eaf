// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Watcher metrics
	NotificationsReceived prometheus.Counter
	SignaturesPolled      prometheus.Counter
	SignaturesDeduped     prometheus.Counter
	TransactionFetchFails prometheus.Counter
	WatchedWallets        *prometheus.GaugeVec

	// Signal metrics
	SignalsClassified *prometheus.CounterVec
	Decisions         *prometheus.CounterVec

	// Position metrics
	Buys          *prometheus.CounterVec
	Exits         *prometheus.CounterVec
	OpenPositions prometheus.Gauge
	RealizedPnL   prometheus.Counter

	// Watchlist metrics
	WatchlistSize      prometheus.Gauge
	WatchlistEvictions *prometheus.CounterVec

	// Provider metrics
	QuoteCalls       *prometheus.CounterVec
	LiquidityLookups *prometheus.CounterVec
	RPCCallLatency   *prometheus.HistogramVec

	// Notification metrics
	NotificationsDropped prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastHeartbeat prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "alpha_mirror"
	}

	return &Metrics{
		// Watcher metrics
		NotificationsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "ws_notifications_total",
			Help:      "Total number of logs notifications received over WebSocket",
		}),
		SignaturesPolled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "signatures_polled_total",
			Help:      "Total number of signatures returned by the polling backstop",
		}),
		SignaturesDeduped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "signatures_deduped_total",
			Help:      "Total number of signatures dropped as already processed",
		}),
		TransactionFetchFails: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "transaction_fetch_failures_total",
			Help:      "Total number of transactions that could not be fetched",
		}),
		WatchedWallets: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "wallets",
			Help:      "Number of watched wallets by role",
		}, []string{"role"}),

		// Signal metrics
		SignalsClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signals",
			Name:      "classified_total",
			Help:      "Total number of buy signals classified by wallet role",
		}, []string{"role"}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Total number of admission decisions by provenance and reason",
		}, []string{"provenance", "reason"}),

		// Position metrics
		Buys: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "buys_total",
			Help:      "Total number of executed buys by mode",
		}, []string{"mode"}),
		Exits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "exits_total",
			Help:      "Total number of executed sells by exit reason",
		}, []string{"reason"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "open",
			Help:      "Current number of open positions",
		}),
		RealizedPnL: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "realized_pnl_sol_total",
			Help:      "Sum of positive realized PnL in SOL",
		}),

		// Watchlist metrics
		WatchlistSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "entries",
			Help:      "Current number of deferred admission entries",
		}),
		WatchlistEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchlist",
			Name:      "evictions_total",
			Help:      "Total number of watchlist entries removed by cause",
		}, []string{"cause"}),

		// Provider metrics
		QuoteCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "calls_total",
			Help:      "Total number of quote requests by outcome",
		}, []string{"outcome"}),
		LiquidityLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "lookups_total",
			Help:      "Total number of liquidity lookups by source and status",
		}, []string{"source", "status"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Total number of notifications dropped by the rate limiter or a full queue",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastHeartbeat: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_heartbeat_timestamp",
			Help:      "Unix timestamp of the last heartbeat",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordNotification counts a WebSocket logs notification.
func RecordNotification() {
	DefaultMetrics.NotificationsReceived.Inc()
}

// RecordPolled counts signatures returned by a poll.
func RecordPolled(n int) {
	DefaultMetrics.SignaturesPolled.Add(float64(n))
}

// RecordDeduped counts a signature skipped as already seen.
func RecordDeduped() {
	DefaultMetrics.SignaturesDeduped.Inc()
}

// RecordFetchFailure counts a transaction that could not be fetched.
func RecordFetchFailure() {
	DefaultMetrics.TransactionFetchFails.Inc()
}

// UpdateWatchedWallets sets the wallet gauges.
func UpdateWatchedWallets(active, candidates int) {
	DefaultMetrics.WatchedWallets.WithLabelValues("active").Set(float64(active))
	DefaultMetrics.WatchedWallets.WithLabelValues("candidate").Set(float64(candidates))
}

// RecordSignal counts a classified buy signal.
func RecordSignal(role string) {
	DefaultMetrics.SignalsClassified.WithLabelValues(role).Inc()
}

// RecordDecision counts an admission outcome. An empty reason means accepted.
func RecordDecision(provenance, reason string) {
	if reason == "" {
		reason = "accepted"
	}
	DefaultMetrics.Decisions.WithLabelValues(provenance, reason).Inc()
}

// RecordBuy counts an executed buy.
func RecordBuy(mode string) {
	DefaultMetrics.Buys.WithLabelValues(mode).Inc()
}

// RecordExit counts an executed sell and its realized PnL.
func RecordExit(reason string, pnlSOL float64) {
	DefaultMetrics.Exits.WithLabelValues(reason).Inc()
	if pnlSOL > 0 {
		DefaultMetrics.RealizedPnL.Add(pnlSOL)
	}
}

// UpdateOpenPositions sets the open positions gauge.
func UpdateOpenPositions(n int) {
	DefaultMetrics.OpenPositions.Set(float64(n))
}

// UpdateWatchlistSize sets the watchlist gauge.
func UpdateWatchlistSize(n int) {
	DefaultMetrics.WatchlistSize.Set(float64(n))
}

// RecordWatchlistEviction counts a removed watchlist entry.
func RecordWatchlistEviction(cause string) {
	DefaultMetrics.WatchlistEvictions.WithLabelValues(cause).Inc()
}

// RecordQuote counts a quote request outcome.
func RecordQuote(outcome string) {
	DefaultMetrics.QuoteCalls.WithLabelValues(outcome).Inc()
}

// RecordLiquidity counts a liquidity lookup.
func RecordLiquidity(source, status string) {
	DefaultMetrics.LiquidityLookups.WithLabelValues(source, status).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordNotificationDropped counts a notification that was not delivered.
func RecordNotificationDropped() {
	DefaultMetrics.NotificationsDropped.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHeartbeat stamps the heartbeat gauge.
func RecordHeartbeat(t time.Time) {
	DefaultMetrics.LastHeartbeat.Set(float64(t.Unix()))
}
