// Package metrics provides the Prometheus collectors of the feedback server.
// Every collector lives on a private registry exposed at /metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dili"

// Metrics groups the per-component collectors
type Metrics struct {
	Registry *prometheus.Registry
	Feedback *FeedbackMetrics
	Versions *VersionMetrics
	Training *TrainingMetrics
	External *ExternalMetrics
	HTTP     *HTTPMetrics
}

// New creates every collector on a fresh registry
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	m := &Metrics{Registry: registry}
	var err error
	if m.Feedback, err = NewFeedbackMetrics(registry); err != nil {
		return nil, err
	}
	if m.Versions, err = NewVersionMetrics(registry); err != nil {
		return nil, err
	}
	if m.Training, err = NewTrainingMetrics(registry); err != nil {
		return nil, err
	}
	if m.External, err = NewExternalMetrics(registry); err != nil {
		return nil, err
	}
	if m.HTTP, err = NewHTTPMetrics(registry); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// FeedbackMetrics counts recorded feedback.
type FeedbackMetrics struct {
	Recorded *prometheus.CounterVec
}

// NewFeedbackMetrics creates and registers the feedback collectors
func NewFeedbackMetrics(registry prometheus.Registerer) (*FeedbackMetrics, error) {
	m := &FeedbackMetrics{
		Recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_recorded_total",
			Help:      "Feedback records stored, by verdict",
		}, []string{"verdict"}),
	}
	if err := registry.Register(m.Recorded); err != nil {
		return nil, fmt.Errorf("failed to register feedback metrics: %w", err)
	}
	return m, nil
}

// RecordFeedback counts one stored record. verdict is "yes", "no" or "none".
func (m *FeedbackMetrics) RecordFeedback(verdict string) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(verdict).Inc()
}

// VersionMetrics counts ledger writes.
type VersionMetrics struct {
	Transitions *prometheus.CounterVec
}

// NewVersionMetrics creates and registers the version ledger collectors
func NewVersionMetrics(registry prometheus.Registerer) (*VersionMetrics, error) {
	m := &VersionMetrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "versions_total",
			Help:      "Version ledger writes, by resulting status",
		}, []string{"status"}),
	}
	if err := registry.Register(m.Transitions); err != nil {
		return nil, fmt.Errorf("failed to register version metrics: %w", err)
	}
	return m, nil
}

// RecordStatus counts a version entering status.
func (m *VersionMetrics) RecordStatus(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

// TrainingMetrics tracks retraining runs.
type TrainingMetrics struct {
	Runs     *prometheus.CounterVec
	Duration prometheus.Histogram
	InFlight prometheus.Gauge
}

// NewTrainingMetrics creates and registers the training collectors
func NewTrainingMetrics(registry prometheus.Registerer) (*TrainingMetrics, error) {
	m := &TrainingMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_runs_total",
			Help:      "Finished training runs, by outcome",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "training_run_duration_seconds",
			Help:      "Time from trigger to terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_run_in_flight",
			Help:      "1 while a training run is in flight",
		}),
	}
	for _, c := range []prometheus.Collector{m.Runs, m.Duration, m.InFlight} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register training metrics: %w", err)
		}
	}
	return m, nil
}

// RunStarted marks a run as in flight
func (m *TrainingMetrics) RunStarted() {
	if m == nil {
		return
	}
	m.InFlight.Set(1)
}

// RunFinished records the outcome and duration of a run
func (m *TrainingMetrics) RunFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Set(0)
	m.Runs.WithLabelValues(outcome).Inc()
	m.Duration.Observe(elapsed.Seconds())
}

// ExternalMetrics tracks calls to the ML service.
type ExternalMetrics struct {
	Latency *prometheus.HistogramVec
}

// NewExternalMetrics creates and registers the external call collectors
func NewExternalMetrics(registry prometheus.Registerer) (*ExternalMetrics, error) {
	m := &ExternalMetrics{
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Latency of ML service calls, by endpoint and outcome",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"endpoint", "outcome"}),
	}
	if err := registry.Register(m.Latency); err != nil {
		return nil, fmt.Errorf("failed to register external metrics: %w", err)
	}
	return m, nil
}

// ObserveCall records one external call
func (m *ExternalMetrics) ObserveCall(endpoint string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Latency.WithLabelValues(endpoint, outcome).Observe(elapsed.Seconds())
}

// HTTPMetrics tracks API requests.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Streams  prometheus.Gauge
}

// NewHTTPMetrics creates and registers the HTTP collectors
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency, by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_streams_active",
			Help:      "Open SSE and websocket progress streams",
		}),
	}
	for _, c := range []prometheus.Collector{m.Requests, m.Duration, m.Streams} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register http metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveRequest records one handled request
func (m *HTTPMetrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, route, fmt.Sprint(status)).Inc()
	m.Duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// StreamOpened increments the open stream gauge
func (m *HTTPMetrics) StreamOpened() {
	if m == nil {
		return
	}
	m.Streams.Inc()
}

// StreamClosed decrements the open stream gauge
func (m *HTTPMetrics) StreamClosed() {
	if m == nil {
		return
	}
	m.Streams.Dec()
}
