// Package metrics exposes Prometheus instrumentation for the fetch pipeline
// and the scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	FetchesTotal   *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	ChannelsSaved  prometheus.Counter
	SchedulerRuns  prometheus.Counter
	SchedulerFails prometheus.Counter
}

// New registers the service metrics on a fresh registry and returns both.
// A dedicated registry keeps tests independent and the /metrics output free
// of default collectors we do not use.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tellyvault_fetches_total",
			Help: "Fetch pipeline runs by outcome",
		}, []string{"outcome"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tellyvault_fetch_duration_seconds",
			Help:    "Duration of complete fetch pipeline runs",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		ChannelsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "tellyvault_channels_saved_total",
			Help: "Channels upserted by the fetch pipeline",
		}),
		SchedulerRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "tellyvault_scheduler_runs_total",
			Help: "Scheduled task executions",
		}),
		SchedulerFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "tellyvault_scheduler_failures_total",
			Help: "Scheduled task executions that returned an error",
		}),
	}
	return m, reg
}

// RecordFetch books one pipeline run.
func (m *Metrics) RecordFetch(outcome string, seconds float64, saved int) {
	m.FetchesTotal.WithLabelValues(outcome).Inc()
	m.FetchDuration.Observe(seconds)
	if saved > 0 {
		m.ChannelsSaved.Add(float64(saved))
	}
}

// RecordSchedulerRun books one scheduled execution.
func (m *Metrics) RecordSchedulerRun(err error) {
	m.SchedulerRuns.Inc()
	if err != nil {
		m.SchedulerFails.Inc()
	}
}
