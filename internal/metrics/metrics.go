// Package metrics holds the Prometheus collectors for the sync service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Push file outcomes.
const (
	OutcomeCreated    = "created"
	OutcomeUpdated    = "updated"
	OutcomeUnchanged  = "unchanged"
	OutcomeConflict   = "conflict"
	OutcomeAutoMerged = "auto_merged"
	OutcomeForced     = "forced"
	OutcomeError      = "error"
)

// Collector owns its registry so tests can create as many as they need.
type Collector struct {
	registry *prometheus.Registry

	PushFiles    *prometheus.CounterVec
	Conflicts    *prometheus.CounterVec
	RaceRetries  prometheus.Counter
	Pulls        prometheus.Counter
	Operations   *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		PushFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specsync",
			Name:      "push_files_total",
			Help:      "Pushed files by outcome",
		}, []string{"outcome"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specsync",
			Name:      "conflicts_total",
			Help:      "Conflict records by the status they reached",
		}, []string{"status"}),
		RaceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "specsync",
			Name:      "race_retries_total",
			Help:      "Pushes that lost a conditional write and re-ran detection",
		}),
		Pulls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "specsync",
			Name:      "pulls_total",
			Help:      "Completed pulls",
		}),
		Operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "specsync",
			Name:      "operation_duration_seconds",
			Help:      "Sync core operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specsync",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "specsync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	registry.MustRegister(
		c.PushFiles, c.Conflicts, c.RaceRetries, c.Pulls, c.Operations, c.HTTPRequests, c.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Time observes the duration of op when the returned func is called.
func (c *Collector) Time(op string) func() {
	start := time.Now()
	return func() {
		c.Operations.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
