package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResumeRequests counts resume-request calls by internal outcome
	// (matched|unmatched). The split exists for operators only; the HTTP
	// response is identical either way.
	ResumeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboard_resume_requests_total",
			Help: "Total number of resume requests",
		},
		[]string{"outcome"},
	)

	// CodeChecks counts verification-code checks by result
	// (success|mismatch|expired|exhausted|not_found).
	CodeChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboard_code_checks_total",
			Help: "Total number of verification code checks",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks applicant sessions that are neither expired nor
	// revoked. Recomputed from the session table on every session mutation,
	// so sessions idling past expiry show until the next mutation or sweep.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboard_active_sessions",
			Help: "Applicant sessions neither revoked nor past expiry, refreshed on session activity",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboard_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
