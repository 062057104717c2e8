// Package metrics provides Prometheus metrics for the crawler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "repocrawl"

var (
	// RequestsTotal counts GraphQL requests by result.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_requests_total",
			Help:      "Total number of GitHub search requests",
		},
		[]string{"status"},
	)

	// RequestDuration measures request latency.
	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "github_request_duration_seconds",
			Help:      "Duration of GitHub search requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// RetriesTotal counts backoff retries after transient failures.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_retries_total",
			Help:      "Total number of retried GitHub requests",
		},
	)

	// RateLimitRemaining tracks the last reported remaining quota.
	RateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "github_rate_limit_remaining",
			Help:      "Remaining GitHub GraphQL rate limit points",
		},
	)

	// RateLimitWaits counts quota-reset suspensions.
	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_rate_limit_waits_total",
			Help:      "Total number of waits for the rate limit window to reset",
		},
	)

	// RepositoriesFetched counts records returned by the search API.
	RepositoriesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repositories_fetched_total",
			Help:      "Total number of repositories fetched, duplicates included",
		},
	)

	// RepositoriesUpserted counts records handed to the store.
	RepositoriesUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repositories_upserted_total",
			Help:      "Total number of repositories written by batch upserts",
		},
	)

	// FlushSize observes batch sizes.
	FlushSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_batch_size",
			Help:      "Distribution of upsert batch sizes",
			Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000, 2500},
		},
	)

	// UniqueRepositories is the last authoritative count read from the store.
	UniqueRepositories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unique_repositories",
			Help:      "Unique repositories persisted, as last counted",
		},
	)

	// SlicesCompleted counts star ranges harvested to the end.
	SlicesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slices_completed_total",
			Help:      "Total number of star ranges harvested",
		},
	)

	// SlicesSaturated counts ranges that hit the per-query result ceiling.
	SlicesSaturated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slices_saturated_total",
			Help:      "Star ranges that reached the search result ceiling",
		},
	)

	// RunsTotal counts finished runs by outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of crawl runs by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records one GitHub request attempt.
func RecordRequest(status string, seconds float64) {
	RequestsTotal.WithLabelValues(status).Inc()
	RequestDuration.Observe(seconds)
}

// RecordFlush records a successful batch upsert.
func RecordFlush(n int) {
	RepositoriesUpserted.Add(float64(n))
	FlushSize.Observe(float64(n))
}

// RecordRun records a finished run.
func RecordRun(outcome string) {
	RunsTotal.WithLabelValues(outcome).Inc()
}
