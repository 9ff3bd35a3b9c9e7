package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsSubmitted, submissionsRejected, jobOutcomes) }

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpulse_jobs_submitted_total",
			Help: "Accepted job submissions per feature type and priority.",
		},
		[]string{"feature_type", "priority"},
	)

	submissionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpulse_submissions_rejected_total",
			Help: "Submissions refused by the rate limiter per feature type.",
		},
		[]string{"feature_type"},
	)

	jobOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpulse_job_outcomes_total",
			Help: "Worker results per feature type (completed/requeued/failed/dead_lettered).",
		},
		[]string{"feature_type", "outcome"},
	)
)

var priorityLabels = map[int]string{1: "1", 2: "2", 3: "3"}

func IncSubmitted(featureType string, priority int) {
	label, ok := priorityLabels[priority]
	if !ok {
		label = "unknown"
	}
	jobsSubmitted.WithLabelValues(norm(featureType), label).Inc()
}

func IncRejected(featureType string) {
	submissionsRejected.WithLabelValues(norm(featureType)).Inc()
}

func IncOutcome(featureType, outcome string) {
	jobOutcomes.WithLabelValues(norm(featureType), norm(outcome)).Inc()
}
