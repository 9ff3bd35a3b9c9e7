package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(sweepRuns, sweepJobs, sweepDuration) }

var (
	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpulse_sweep_runs_total",
			Help: "Sweeps per family by outcome (ok/error).",
		},
		[]string{"family", "outcome"},
	)

	sweepJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpulse_sweep_jobs_total",
			Help: "Stale jobs handled by the sweeper per family and action.",
		},
		[]string{"family", "action"}, // action: retried, dead_lettered, skipped, error
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobpulse_sweep_duration_seconds",
			Help:    "Wall time of one family sweep.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)
)

// ObserveSweep records one finished family sweep
func ObserveSweep(family string, retried, deadLettered, skipped, errs int, took time.Duration, failed bool) {
	f := norm(family)
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	sweepRuns.WithLabelValues(f, outcome).Inc()
	sweepJobs.WithLabelValues(f, "retried").Add(float64(retried))
	sweepJobs.WithLabelValues(f, "dead_lettered").Add(float64(deadLettered))
	sweepJobs.WithLabelValues(f, "skipped").Add(float64(skipped))
	sweepJobs.WithLabelValues(f, "error").Add(float64(errs))
	sweepDuration.WithLabelValues(f).Observe(took.Seconds())
}
