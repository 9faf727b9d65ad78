// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mavedb",
		Name:      "variant_rows_validated_total",
		Help:      "Rows of uploaded score and count files that passed validation.",
	}, []string{"kind"})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mavedb",
		Name:      "variant_validation_failures_total",
		Help:      "Uploads rejected by the variant validator.",
	}, []string{"kind"})

	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mavedb",
		Name:      "jobs_total",
		Help:      "Background jobs by task and outcome.",
	}, []string{"task", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mavedb",
		Name:      "job_duration_seconds",
		Help:      "Background job run time.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"task"})

	URNsAssigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mavedb",
		Name:      "urns_assigned_total",
		Help:      "Permanent URNs assigned on publish.",
	}, []string{"kind"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mavedb",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})
)
