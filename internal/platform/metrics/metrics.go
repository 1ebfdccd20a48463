// Package metrics collects Prometheus metrics for the task subsystem.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the task subsystem's Prometheus metrics. All methods are
// safe on a nil receiver so callers can run without metrics wired.
type Collector struct {
	ticks          *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	stuckRecovered *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	inFlight       *prometheus.GaugeVec
	taskDuration   *prometheus.HistogramVec
}

// NewCollector creates and registers the task metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_scheduler_ticks_total",
			Help: "Total number of poll scheduler ticks",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_status_transitions_total",
			Help: "Total number of task status transitions",
		}, []string{"kind", "status"}),
		stuckRecovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_stuck_recovered_total",
			Help: "Total number of stuck running tasks recovered by a staleness sweep",
		}, []string{"kind", "action"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_store_errors_total",
			Help: "Total number of transient task store errors observed by schedulers",
		}, []string{"kind"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tasks_in_flight",
			Help: "Current number of dispatched tasks executing",
		}, []string{"kind"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasks_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"kind"}),
	}

	reg.MustRegister(c.ticks, c.transitions, c.stuckRecovered, c.storeErrors, c.inFlight, c.taskDuration)
	return c
}

// RecordTick counts one scheduler poll cycle.
func (c *Collector) RecordTick(kind string) {
	if c == nil {
		return
	}
	c.ticks.WithLabelValues(kind).Inc()
}

// RecordTransition counts one task status transition.
func (c *Collector) RecordTransition(kind, status string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(kind, status).Inc()
}

// RecordStuckRecovered counts stuck tasks recovered by a sweep.
func (c *Collector) RecordStuckRecovered(kind, action string, count int64) {
	if c == nil || count == 0 {
		return
	}
	c.stuckRecovered.WithLabelValues(kind, action).Add(float64(count))
}

// RecordStoreError counts a transient store error seen by a scheduler.
func (c *Collector) RecordStoreError(kind string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(kind).Inc()
}

// TaskStarted marks one task as executing.
func (c *Collector) TaskStarted(kind string) {
	if c == nil {
		return
	}
	c.inFlight.WithLabelValues(kind).Inc()
}

// TaskFinished marks one task as done and observes its duration.
func (c *Collector) TaskFinished(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.inFlight.WithLabelValues(kind).Dec()
	c.taskDuration.WithLabelValues(kind).Observe(d.Seconds())
}
