// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 预留引擎的核心指标。注册进默认 Registry，由 /metrics 暴露。
var (
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_reservations_total",
		Help: "Reservation calls by outcome.",
	}, []string{"outcome"}) // outcome: success | insufficient | conflict | lock_timeout | error

	ReservationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reservation_duration_seconds",
		Help:    "End-to-end latency of reservation calls.",
		Buckets: prometheus.DefBuckets,
	})

	UnitsReserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_units_reserved_total",
		Help: "Units transitioned to RESERVED.",
	})

	UnitsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_units_swept_total",
		Help: "Expired reservations reverted by the sweeper.",
	})

	OptimisticConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_optimistic_conflicts_total",
		Help: "Version conflicts detected on unit save.",
	})

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_sweep_runs_total",
		Help: "Expiry sweep executions.",
	})
)
