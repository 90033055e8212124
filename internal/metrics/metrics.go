package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Settlement engine collectors. Labels stay low-cardinality: never label by
// record id or trade hash.

var (
	// Schedulers
	SchedulerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Total scheduler ticks by outcome",
	}, []string{"scheduler", "result"})

	SchedulerTickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "settlement",
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Scheduler tick duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"scheduler"})

	// Rebalancing lifecycle
	RebalancingRecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "rebalancing",
		Name:      "records_processed_total",
		Help:      "Rebalancing records handled per stage and outcome",
	}, []string{"stage", "outcome"})

	RebalancingCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "rebalancing",
		Name:      "created_total",
		Help:      "Rebalancing records opened from completed trades",
	})

	RebalancingStuckTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "rebalancing",
		Name:      "stuck_total",
		Help:      "Records moved to STUCK after the retry window elapsed",
	}, []string{"stage"})

	RebalancingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "rebalancing",
		Name:      "transitions_total",
		Help:      "Status transitions written by the engine",
	}, []string{"to"})

	SlippageBps = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "settlement",
		Subsystem: "rebalancing",
		Name:      "slippage_bps",
		Help:      "Observed quote slippage in basis points",
		Buckets:   []float64{-100, -25, 0, 25, 50, 100, 150, 200, 300, 500, 1000},
	})

	// Transfers
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "transfer",
		Name:      "total",
		Help:      "Outbound transfers by network type, trade type and result",
	}, []string{"network_type", "trade_type", "result"})

	TransferLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "settlement",
		Subsystem: "transfer",
		Name:      "duration_seconds",
		Help:      "Outbound transfer duration including confirmation wait",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"network_type"})

	// Nonce sequencer
	NonceRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "nonce",
		Name:      "refresh_total",
		Help:      "Nonce refresh attempts by network and result",
	}, []string{"network", "result"})

	NonceCachedSigners = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "settlement",
		Subsystem: "nonce",
		Name:      "cached_signers",
		Help:      "Signers currently held by the nonce sequencer",
	})

	NonceResetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "nonce",
		Name:      "resets_total",
		Help:      "Signer evictions after failed sends",
	}, []string{"network"})

	// Queue
	QueueEnqueueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "queue",
		Name:      "enqueue_total",
		Help:      "Enqueue attempts by queue and result",
	}, []string{"queue", "result"})

	// Database pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "settlement",
		Subsystem: "db_pool",
		Name:      "open_connections",
		Help:      "Open database connections",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "settlement",
		Subsystem: "db_pool",
		Name:      "in_use",
		Help:      "Database connections in use",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "settlement",
		Subsystem: "db_pool",
		Name:      "wait_count",
		Help:      "Total waits for a database connection",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts delivered per channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by cooldown",
	}, []string{"channel", "type"})

	// External calls
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "External RPC/HTTP calls by provider, method and status class",
	}, []string{"provider", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "settlement",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Calls that had to wait for a rate-limit token",
	}, []string{"provider"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "settlement",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})
)
