package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters, gauges and histograms for the tracking pipeline.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	errorsTotal    prometheus.Counter
	controlActions *prometheus.CounterVec

	ticksTotal           prometheus.Counter
	packetsAdmittedTotal prometheus.Counter
	packetsRejectedTotal prometheus.Counter
	framesSkippedTotal   prometheus.Counter
	resultsPublished     prometheus.Counter
	resultsSuperseded    prometheus.Counter
	inertialSamplesTotal prometheus.Counter
	inertialDroppedTotal prometheus.Counter
	engineFailuresTotal  prometheus.Counter
	inertialQueueDepth   *prometheus.GaugeVec
	workerBusy           prometheus.Gauge
	trackDurationSeconds prometheus.Histogram
}

// New creates and registers Prometheus metrics for the pipeline.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slam_http_requests_total",
			Help: "Diagnostics HTTP requests by method and status code",
		}, []string{"method", "code"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_http_errors_total",
			Help: "Total number of diagnostics HTTP responses with error status (4xx or 5xx)",
		}),
		controlActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slam_control_actions_total",
			Help: "Operator control actions applied (pause, resume, reset)",
		}, []string{"action"}),
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_ticks_total",
			Help: "Total number of coordinator ticks",
		}),
		packetsAdmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_packets_admitted_total",
			Help: "Work packets handed to the tracking worker",
		}),
		packetsRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_packets_rejected_total",
			Help: "Work packets dropped because the tracking worker was busy",
		}),
		framesSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_frames_skipped_total",
			Help: "Ticks whose frame acquisition failed",
		}),
		resultsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_results_published_total",
			Help: "Tracking results published by the worker",
		}),
		resultsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_results_superseded_total",
			Help: "Tracking results overwritten before the coordinator read them",
		}),
		inertialSamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_inertial_samples_total",
			Help: "Fused inertial samples produced by the synchronizer",
		}),
		inertialDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_inertial_events_dropped_total",
			Help: "Raw inertial events discarded (out of order, late, or queue overflow)",
		}),
		engineFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slam_engine_failures_total",
			Help: "Fatal tracking engine failures",
		}),
		inertialQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "slam_inertial_queue_depth",
			Help: "Raw inertial events waiting in the synchronizer",
		}, []string{"stream"}),
		workerBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "slam_worker_busy",
			Help: "1 while a work packet is in flight, 0 otherwise",
		}),
		trackDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "slam_track_duration_seconds",
			Help:    "Wall-clock duration of tracking engine calls",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.controlActions,
		m.ticksTotal,
		m.packetsAdmittedTotal,
		m.packetsRejectedTotal,
		m.framesSkippedTotal,
		m.resultsPublished,
		m.resultsSuperseded,
		m.inertialSamplesTotal,
		m.inertialDroppedTotal,
		m.engineFailuresTotal,
		m.inertialQueueDepth,
		m.workerBusy,
		m.trackDurationSeconds,
	)

	return m
}

// IncRequests counts one served request.
func (m *Metrics) IncRequests(method string, code int) {
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncControl counts one applied control action.
func (m *Metrics) IncControl(action string) {
	m.controlActions.WithLabelValues(action).Inc()
}

// IncTicks increments the tick counter.
func (m *Metrics) IncTicks() {
	m.ticksTotal.Inc()
}

// IncAdmitted increments the admitted packets counter.
func (m *Metrics) IncAdmitted() {
	m.packetsAdmittedTotal.Inc()
}

// IncRejected increments the rejected (worker busy) packets counter.
func (m *Metrics) IncRejected() {
	m.packetsRejectedTotal.Inc()
}

// IncFramesSkipped increments the skipped frames counter.
func (m *Metrics) IncFramesSkipped() {
	m.framesSkippedTotal.Inc()
}

// IncPublished increments the published results counter.
func (m *Metrics) IncPublished() {
	m.resultsPublished.Inc()
}

// IncSuperseded increments the superseded results counter.
func (m *Metrics) IncSuperseded() {
	m.resultsSuperseded.Inc()
}

// AddInertialSamples adds n to the fused samples counter.
func (m *Metrics) AddInertialSamples(n int) {
	if n > 0 {
		m.inertialSamplesTotal.Add(float64(n))
	}
}

// AddInertialDropped adds n to the dropped inertial events counter.
func (m *Metrics) AddInertialDropped(n int) {
	if n > 0 {
		m.inertialDroppedTotal.Add(float64(n))
	}
}

// IncEngineFailures increments the engine failures counter.
func (m *Metrics) IncEngineFailures() {
	m.engineFailuresTotal.Inc()
}

// ObserveTrackDuration records one tracking engine call.
func (m *Metrics) ObserveTrackDuration(d time.Duration) {
	m.trackDurationSeconds.Observe(d.Seconds())
}

// SetQueueDepth sets the queue depth gauge for one inertial stream.
func (m *Metrics) SetQueueDepth(stream string, n int) {
	m.inertialQueueDepth.WithLabelValues(stream).Set(float64(n))
}

// SetWorkerBusy sets the worker busy gauge.
func (m *Metrics) SetWorkerBusy(busy bool) {
	v := 0.0
	if busy {
		v = 1
	}
	m.workerBusy.Set(v)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. queue depths).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
