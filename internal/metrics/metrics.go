package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "saltosync",
			Name:      "reconciliation_runs_total",
			Help:      "Count of reconciliation runs by result.",
		},
		[]string{"result"},
	)

	stagingMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "saltosync",
			Name:      "staging_mutations_total",
			Help:      "Count of staging table mutations by kind.",
		},
		[]string{"op"},
	)

	resolutionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "saltosync",
			Name:      "resolution_failures_total",
			Help:      "Count of identities that could not be resolved to grants.",
		},
	)

	stagingWriteErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "saltosync",
			Name:      "staging_write_errors_total",
			Help:      "Count of per-row staging write failures.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(runsTotal, stagingMutations, resolutionFailures, stagingWriteErrors)
	})
}

func IncRun(result string) {
	runsTotal.WithLabelValues(result).Inc()
}

func AddStagingMutations(op string, n int) {
	stagingMutations.WithLabelValues(op).Add(float64(n))
}

func AddResolutionFailures(n int) {
	resolutionFailures.Add(float64(n))
}

func AddStagingWriteErrors(n int) {
	stagingWriteErrors.Add(float64(n))
}
