package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersSubmitted counts accepted order submissions by type (MARKET/LIMIT)
var OrdersSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deskrisk_orders_submitted_total",
		Help: "Total number of orders accepted by the execution ledger",
	},
	[]string{"type"},
)

// OrdersFilled counts completed fills by side
var OrdersFilled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deskrisk_orders_filled_total",
		Help: "Total number of orders filled by the execution ledger",
	},
	[]string{"side"},
)

// OrdersRejected counts validation and risk-gate rejections
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deskrisk_orders_rejected_total",
		Help: "Total number of order requests rejected before entering the ledger",
	},
	[]string{"reason"},
)

// GateRefusals counts pre-trade gate hard blocks and soft warnings
var GateRefusals = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deskrisk_gate_results_total",
		Help: "Pre-trade risk gate outcomes",
	},
	[]string{"outcome"},
)

// Valuation tick metrics
var (
	ValuationTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deskrisk_valuation_ticks_total",
			Help: "Total number of published valuation snapshots",
		},
	)

	StalePriceFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deskrisk_stale_price_fallbacks_total",
			Help: "Positions marked with the entry-price fallback for lack of a live quote",
		},
	)

	SnapshotVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskrisk_snapshot_version",
			Help: "Version of the last published valuation snapshot",
		},
	)

	BreachedNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskrisk_risk_tree_breached_nodes",
			Help: "Number of breached nodes in the last built risk tree",
		},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrdersFilled, OrdersRejected, GateRefusals)
	prometheus.MustRegister(ValuationTicks, StalePriceFallbacks, SnapshotVersion, BreachedNodes)
}
