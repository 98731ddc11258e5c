// Package metrics collects and exposes Prometheus metrics for the presence
// engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the counters the handlers and jobs record.
type Collector struct {
	checkins        prometheus.Counter
	checkouts       prometheus.Counter
	forcedCheckouts prometheus.Counter
	heartbeats      *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

// NewCollector registers all series on reg and returns the collector.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telework_checkins_total",
			Help: "Total successful presence check-ins.",
		}),
		checkouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telework_checkouts_total",
			Help: "Total successful self-service checkouts.",
		}),
		forcedCheckouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telework_forced_checkouts_total",
			Help: "Total successful manager-forced checkouts.",
		}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telework_heartbeats_total",
			Help: "Total successful heartbeats by resulting status.",
		}, []string{"status"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telework_rate_limited_total",
			Help: "Total requests rejected by the rate limiter, by operation.",
		}, []string{"operation"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telework_request_duration_seconds",
			Help:    "Presence operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telework_job_runs_total",
			Help: "Total background job runs by job and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telework_job_duration_seconds",
			Help:    "Background job duration in seconds by job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}

	reg.MustRegister(
		c.checkins,
		c.checkouts,
		c.forcedCheckouts,
		c.heartbeats,
		c.rateLimited,
		c.requestLatency,
		c.jobRuns,
		c.jobDuration,
	)

	return c
}

func (c *Collector) RecordCheckIn()        { c.checkins.Inc() }
func (c *Collector) RecordCheckout()       { c.checkouts.Inc() }
func (c *Collector) RecordForcedCheckout() { c.forcedCheckouts.Inc() }

func (c *Collector) RecordHeartbeat(status string) {
	c.heartbeats.WithLabelValues(status).Inc()
}

func (c *Collector) RecordRateLimited(operation string) {
	c.rateLimited.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordRequestDuration(operation string, d time.Duration) {
	c.requestLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (c *Collector) RecordJobRun(job, status string, d time.Duration) {
	c.jobRuns.WithLabelValues(job, status).Inc()
	c.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// Handler serves the Prometheus scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
