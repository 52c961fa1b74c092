// Package metrics holds the coordinator's Prometheus collectors.
package metrics

import (
	"os"
	"strconv"
	"time"

	apperrors "judgehub/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Task kinds used as label values.
const (
	KindSolution = "solution"
	KindInstance = "instance"
	KindRanklist = "ranklist"
)

// Metrics groups every collector so that it can be injected rather than
// reached through package state.
type Metrics struct {
	httpRequests  *prometheus.HistogramVec
	taskClaims    *prometheus.CounterVec
	taskOutcomes  *prometheus.CounterVec
	sweepRuns     *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepUpdated  prometheus.Counter
}

// Labels returns the constant labels attached to every collector.
func Labels(service string) prometheus.Labels {
	instance := os.Getenv("INSTANCE_ID")
	if instance == "" {
		instance, _ = os.Hostname()
	}
	return prometheus.Labels{"service": service, "instance": instance}
}

// New creates the collectors and registers them on reg wrapped with labels.
// A nil reg yields unregistered collectors, which tests use.
func New(reg prometheus.Registerer, labels prometheus.Labels) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "judgehub_http_request_duration_seconds",
				Help:    "HTTP request latency by route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		taskClaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judgehub_task_polls_total",
				Help: "Runner polls by task kind and result (claimed, reclaimed, empty).",
			},
			[]string{"kind", "result"},
		),
		taskOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judgehub_task_updates_total",
				Help: "Runner progress and completion calls by kind, operation and result.",
			},
			[]string{"kind", "op", "result"},
		),
		sweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "judgehub_stage_sweep_runs_total",
				Help: "Contest stage sweep runs by result.",
			},
			[]string{"result"},
		),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "judgehub_stage_sweep_duration_seconds",
			Help:    "Contest stage sweep latency.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		sweepUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "judgehub_stage_sweep_contests_updated_total",
			Help: "Contests whose status or next update was rewritten by the sweep.",
		}),
	}
	if reg != nil {
		wrapped := prometheus.WrapRegistererWith(labels, reg)
		wrapped.MustRegister(m.httpRequests, m.taskClaims, m.taskOutcomes, m.sweepRuns, m.sweepDuration, m.sweepUpdated)
	}
	return m
}

// ObserveHTTP records one request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Poll records a poll result for kind.
func (m *Metrics) Poll(kind, result string) {
	if m == nil {
		return
	}
	m.taskClaims.WithLabelValues(kind, result).Inc()
}

// TaskUpdate records a progress or completion call.
func (m *Metrics) TaskUpdate(kind, op string, err error) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(kind, op, resultOf(err)).Inc()
}

// Sweep records one stage sweep run.
func (m *Metrics) Sweep(updated int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(resultOf(err)).Inc()
	m.sweepDuration.Observe(elapsed.Seconds())
	m.sweepUpdated.Add(float64(updated))
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	if apperrors.IsConflict(err) {
		return "conflict"
	}
	return "error"
}
