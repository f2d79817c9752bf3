package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reconnects_total",
		Help: "Scheduled RPC reconnects by trigger reason",
	}, []string{"reason"})

	ConnectionUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connection_up",
		Help: "1 when a transport is connected",
	})

	LastBlockAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_last_block_age_seconds",
		Help: "Seconds since the last observed block header",
	})

	RPCLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_rpc_latency_seconds",
		Help:    "Upstream RPC latency per method",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	RPCErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rpc_errors_total",
		Help: "Upstream RPC failures per method",
	}, []string{"method"})

	MulticallSlotFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_multicall_slot_failures_total",
		Help: "aggregate3 sub-calls that returned success=false",
	}, []string{"call"})

	QuoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_quote_latency_seconds",
		Help:    "Time to build a quote",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	QuoteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_quote_errors_total",
		Help: "Failed or unsupported quotes",
	}, []string{"side"})

	TxBuilt = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tx_built_total",
		Help: "Signed transactions built by kind",
	}, []string{"kind"})

	TxBroadcast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tx_broadcast_total",
		Help: "Broadcast attempts by result",
	}, []string{"result"})

	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_api_requests_total",
		Help: "HTTP API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	TradeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_trade_outcomes_total",
		Help: "Settled trade transactions by side and final status",
	}, []string{"side", "status"})
)

func init() {
	prometheus.MustRegister(
		Reconnects,
		ConnectionUp,
		LastBlockAge,
		RPCLatency,
		RPCErrors,
		MulticallSlotFailures,
		QuoteLatency,
		QuoteErrors,
		TxBuilt,
		TxBroadcast,
		APIRequests,
		TradeOutcomes,
	)
}
