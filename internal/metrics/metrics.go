// Package metrics holds the prometheus collectors shared by the API, worker
// and retry dispatcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "todoq"

type Metrics struct {
	JobsAccepted      *prometheus.CounterVec
	JobsProcessed     *prometheus.CounterVec
	JobsRetried       prometheus.Counter
	JobsDeadLettered  prometheus.Counter
	OrphanedJobs      prometheus.Counter
	RetriesDispatched prometheus.Counter
	StuckJobs         prometheus.Gauge
	InflightHandlers  prometheus.Gauge
}

// New builds the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_accepted_total",
			Help:      "Jobs recorded as pending and published by the API.",
		}, []string{"operation"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Commands handled by the worker, by outcome.",
		}, []string{"operation", "outcome"}),
		JobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retried_total",
			Help:      "Commands scheduled for a delayed retry after a transient failure.",
		}),
		JobsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dead_lettered_total",
			Help:      "Commands published to the dead-letter topic.",
		}),
		OrphanedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_jobs_total",
			Help:      "Jobs left pending because publishing failed after the ledger commit.",
		}),
		RetriesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_dispatched_total",
			Help:      "Delayed retries republished to the jobs topic.",
		}),
		StuckJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stuck_jobs",
			Help:      "Pending jobs older than the stuck threshold at the last sweep.",
		}),
		InflightHandlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_inflight_handlers",
			Help:      "Commands currently being applied by the worker.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.JobsAccepted,
			m.JobsProcessed,
			m.JobsRetried,
			m.JobsDeadLettered,
			m.OrphanedJobs,
			m.RetriesDispatched,
			m.StuckJobs,
			m.InflightHandlers,
		)
	}
	return m
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
