package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"groups/solver"
)

type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	solvesTotal     *prometheus.CounterVec
	solveDuration   *prometheus.HistogramVec
	satisfaction    prometheus.Histogram
	students        prometheus.Histogram

	registry *prometheus.Registry
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &metrics{
		registry: reg,
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "groups_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groups_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		solvesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "groups_partitions_total",
				Help: "Partition runs by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		solveDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groups_partition_duration_seconds",
				Help:    "Time spent partitioning one request",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"strategy"},
		),
		satisfaction: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "groups_satisfaction_score",
				Help:    "Satisfaction score of successful partitions",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		),
		students: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "groups_students_per_request",
				Help:    "Eligible students per successful partition",
				Buckets: prometheus.ExponentialBuckets(2, 2, 8),
			},
		),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument counts and times every request served by h under route.
func (m *metrics) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snoop := httpsnoop.CaptureMetrics(h, w, r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(snoop.Code)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(snoop.Duration.Seconds())
	}
}

func (m *metrics) observePartition(strategy string, res *solver.Result, err error, elapsed time.Duration) {
	if res != nil {
		strategy = string(res.Strategy)
	}
	m.solveDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	m.solvesTotal.WithLabelValues(strategy, outcome(res, err)).Inc()
	if err == nil {
		m.satisfaction.Observe(res.SatisfactionScore)
		m.students.Observe(float64(res.TotalStudents))
	}
}

func outcome(res *solver.Result, err error) string {
	switch {
	case err == nil && res.Optimal:
		return "optimal"
	case err == nil:
		return "feasible"
	case errors.Is(err, solver.ErrNoSolution):
		return "no_solution"
	case isInputError(err):
		return "rejected"
	}
	return "error"
}
