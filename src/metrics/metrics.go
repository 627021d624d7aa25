// Package metrics is the Prometheus surface named in SPEC_FULL.md §2:
// rate-limiter saturation, broker call latency, fills processed, and OCO
// groups opened/closed. Grounded on RohanRaikwar-algo-sys-v1's
// internal/metrics package (struct-of-typed-collectors built once in a
// constructor and registered with prometheus.MustRegister) and on
// chidi150c-coinbase's metrics.go for the counter/histogram naming
// convention around order flow.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every collector this module exposes. One instance is
// built at process startup and threaded into the Broker Adapter, rate
// limiter, Watcher and OCO Manager.
type Registry struct {
	BrokerRequestsTotal  *prometheus.CounterVec
	BrokerRequestLatency *prometheus.HistogramVec
	RateLimitWaitSeconds *prometheus.HistogramVec

	FillsProcessedTotal  prometheus.Counter
	OrdersSubmittedTotal *prometheus.CounterVec

	OcoGroupsOpenedTotal prometheus.Counter
	OcoGroupsClosedTotal *prometheus.CounterVec
	OcoRollbacksTotal    prometheus.Counter

	BatchesActive prometheus.Gauge
	ItemsByStatus *prometheus.GaugeVec
}

// New builds and registers every collector. Calling it twice against the
// same prometheus.Registerer panics (prometheus.MustRegister's own
// contract) — callers build exactly one Registry per process.
func New() *Registry {
	r := &Registry{
		BrokerRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_broker_requests_total",
			Help: "Broker adapter calls, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		BrokerRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "executor_broker_request_duration_seconds",
			Help:    "Broker adapter call latency, by endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RateLimitWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "executor_ratelimit_wait_seconds",
			Help:    "Time spent waiting on a rate-limit bucket before a broker call.",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"bucket"}),
		FillsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_fills_processed_total",
			Help: "Fill rows the Watcher has applied via ApplyPoll.",
		}),
		OrdersSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_orders_submitted_total",
			Help: "Orders submitted to the broker, by role and outcome.",
		}, []string{"role", "outcome"}),
		OcoGroupsOpenedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_oco_groups_opened_total",
			Help: "OCO brackets successfully submitted.",
		}),
		OcoGroupsClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_oco_groups_closed_total",
			Help: "OCO brackets closed, by substate (TP_FILLED, SL_FILLED, MIXED, EOD).",
		}, []string{"substate"}),
		OcoRollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_oco_rollbacks_total",
			Help: "Brackets where the TP leg was rolled back after the SL leg failed.",
		}),
		BatchesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_batches_active",
			Help: "RUNNING or PAUSED batches at last metrics refresh.",
		}),
		ItemsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "executor_items_by_status",
			Help: "BatchItem count by current status.",
		}, []string{"status"}),
	}

	prometheus.MustRegister(
		r.BrokerRequestsTotal,
		r.BrokerRequestLatency,
		r.RateLimitWaitSeconds,
		r.FillsProcessedTotal,
		r.OrdersSubmittedTotal,
		r.OcoGroupsOpenedTotal,
		r.OcoGroupsClosedTotal,
		r.OcoRollbacksTotal,
		r.BatchesActive,
		r.ItemsByStatus,
	)
	return r
}
