// Package metrics wires the engine's operational counters and histograms
// to Prometheus (spec.md §6 "Observability"), generalized from the
// teacher's approach of a single registered set of collectors handed to
// every component that needs to record something.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the matching core touches. Construct
// one per process and thread it through the engine, journal, and
// settlement coordinator; all methods are safe for concurrent use
// (Prometheus collectors are).
type Metrics struct {
	MatchLatency       prometheus.Histogram
	JournalFsyncLatency prometheus.Histogram
	SettlementRetries  prometheus.Counter
	SettlementFailures prometheus.Counter
	OrdersAdmitted     *prometheus.CounterVec
	TradesExecuted     prometheus.Counter
}

// New creates and registers every collector against reg. Passing a fresh
// prometheus.NewRegistry() per test keeps tests from colliding on the
// global default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "matchcore",
			Subsystem: "engine",
			Name:      "match_latency_seconds",
			Help:      "Latency of one Submit call's matching loop, admission through final event emission.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		JournalFsyncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "matchcore",
			Subsystem: "journal",
			Name:      "fsync_latency_seconds",
			Help:      "Latency of a journal fsync call.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
		SettlementRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchcore",
			Subsystem: "settlement",
			Name:      "retries_total",
			Help:      "Count of optimistic-CAS retries attempted across all settlement legs.",
		}),
		SettlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchcore",
			Subsystem: "settlement",
			Name:      "failures_total",
			Help:      "Count of trades that exhausted settlement retries (SettlementFailed events).",
		}),
		OrdersAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Subsystem: "engine",
			Name:      "orders_admitted_total",
			Help:      "Count of orders submitted, labeled by the order's state when Submit returns.",
		}, []string{"outcome"}),
		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchcore",
			Subsystem: "engine",
			Name:      "trades_executed_total",
			Help:      "Count of trades executed across all markets.",
		}),
	}
	reg.MustRegister(m.MatchLatency, m.JournalFsyncLatency, m.SettlementRetries, m.SettlementFailures, m.OrdersAdmitted, m.TradesExecuted)
	return m
}
