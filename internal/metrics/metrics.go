package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChainRequestsTotal tracks chain RPC requests by method and status
	ChainRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanstake_chain_requests_total",
			Help: "The total number of chain RPC requests",
		},
		[]string{"method", "status"},
	)

	// EventsIngested tracks stake events appended by the watcher
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanstake_events_ingested_total",
			Help: "The total number of stake events ingested",
		},
		[]string{"event_type", "status"}, // appended, duplicate, failed
	)

	// LedgerReplaySeconds tracks time taken to replay the event log
	LedgerReplaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanstake_ledger_replay_seconds",
		Help:    "Time taken to replay the stake event log in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PoolReconciliations tracks confirmed pools reverted to pending
	PoolReconciliations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanstake_pool_reconciliations_total",
		Help: "The total number of pools reverted to pending after a failed on-chain check",
	})

	// HTTPRequestsTotal tracks API requests by route and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanstake_http_requests_total",
			Help: "The total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	// WatcherBlockLag tracks how far each pool's cursor trails the chain head
	WatcherBlockLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fanstake_watcher_block_lag",
			Help: "Blocks between the chain head and the pool's ingest cursor",
		},
		[]string{"chain_id"},
	)
)

// RecordChainRequest records a chain RPC request with the given status
func RecordChainRequest(method, status string) {
	ChainRequestsTotal.WithLabelValues(method, status).Inc()
}

// RecordEventIngested records an ingested stake event
func RecordEventIngested(eventType, status string) {
	EventsIngested.WithLabelValues(eventType, status).Inc()
}

// RecordLedgerReplay records the time taken by a ledger replay
func RecordLedgerReplay(duration float64) {
	LedgerReplaySeconds.Observe(duration)
}

// RecordHTTPRequest records an API request
func RecordHTTPRequest(route, status string) {
	HTTPRequestsTotal.WithLabelValues(route, status).Inc()
}
