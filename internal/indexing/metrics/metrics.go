package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks RPC calls per chain and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"chain", "method"},
	)

	// RPCErrorsTotal tracks RPC errors by classification
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"chain", "method", "error_type"},
	)

	// RPCRetriesTotal tracks retried RPC attempts
	RPCRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_rpc_retries_total",
			Help: "Total number of retried RPC attempts",
		},
		[]string{"chain", "method"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayer_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "method"},
	)

	// ChainLatestBlock tracks the sync head seen by the indexer
	ChainLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_chain_latest_block",
			Help: "Latest block height of the chain",
		},
		[]string{"chain"},
	)

	// IndexerLatestBlock tracks the sync marker per filter
	IndexerLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_indexer_latest_block",
			Help: "Last block synced by the event indexer",
		},
		[]string{"chain", "filter"},
	)

	// LogsIndexed counts logs persisted by the indexer
	LogsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_logs_indexed_total",
			Help: "Total number of logs persisted by the event indexer",
		},
		[]string{"chain", "filter"},
	)

	// StateItems tracks items per state machine state
	StateItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_state_items",
			Help: "Number of items currently in each state",
		},
		[]string{"machine", "state"},
	)

	// StateTransitions counts committed transitions
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_state_transitions_total",
			Help: "Total number of committed state transitions",
		},
		[]string{"machine", "from", "to"},
	)

	// RelaysSubmitted counts relay transactions by outcome
	RelaysSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_relays_total",
			Help: "Relay attempts by destination chain and outcome",
		},
		[]string{"chain", "outcome"},
	)

	// DBBatchSize tracks the number of operations per store batch
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayer_db_batch_size",
			Help:    "Number of operations per storage batch",
			Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"backend"},
	)

	// DBConnectionPoolUsage tracks postgres pool usage in percent
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayer_db_connection_pool_usage_percent",
			Help: "Percentage of open connections relative to the pool limit",
		},
	)
)
