package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roundtablehq/roundtable/models"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roundtable_runs_total",
		Help: "Completed runs by answering pipeline.",
	}, []string{"pipeline"})

	fallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roundtable_fallbacks_total",
		Help: "Runs that ended with the fallback answer.",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roundtable_run_duration_seconds",
		Help:    "Wall-clock time per run.",
		Buckets: prometheus.DefBuckets,
	})

	unitsSpentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roundtable_budget_units_spent_total",
		Help: "Budget units consumed across all runs.",
	})
)

func observeRun(a models.Answer) {
	pipeline := a.Pipeline
	if pipeline == "" {
		pipeline = "none"
	}
	runsTotal.WithLabelValues(pipeline).Inc()
	if a.Fallback {
		fallbacksTotal.Inc()
	}
	runDuration.Observe(a.Duration.Seconds())
	unitsSpentTotal.Add(a.UnitsSpent)
}
