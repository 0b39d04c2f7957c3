// Package telemetry holds the Prometheus collectors for scans, remediation and HTTP.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reclaim"

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	scanSteps        *prometheus.CounterVec
	scanStepDuration *prometheus.HistogramVec
	findingsDetected *prometheus.CounterVec

	planTransitions *prometheus.CounterVec
	actionOutcomes  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		scanSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_steps_total",
				Help:      "Scan steps reaching a terminal state",
			},
			[]string{"service", "status"},
		),
		scanStepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_step_duration_seconds",
				Help:      "Time spent inspecting and classifying one scan unit",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"service"},
		),
		findingsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "findings_detected_total",
				Help:      "Findings produced by classification",
			},
			[]string{"service", "confidence"},
		),
		planTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_transitions_total",
				Help:      "Remediation plan status transitions",
			},
			[]string{"to"},
		),
		actionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediation_actions_total",
				Help:      "Remediation action results",
			},
			[]string{"kind", "mode", "status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scanSteps,
		m.scanStepDuration,
		m.findingsDetected,
		m.planTransitions,
		m.actionOutcomes,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ScanStep(service, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scanSteps.WithLabelValues(service, status).Inc()
	m.scanStepDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

func (m *Metrics) FindingDetected(service, confidence string) {
	if m == nil {
		return
	}
	m.findingsDetected.WithLabelValues(service, confidence).Inc()
}

func (m *Metrics) PlanTransition(to string) {
	if m == nil {
		return
	}
	m.planTransitions.WithLabelValues(to).Inc()
}

// ActionOutcome records a simulate or execute result. mode is "simulate" or "execute".
func (m *Metrics) ActionOutcome(kind, mode, status string) {
	if m == nil {
		return
	}
	m.actionOutcomes.WithLabelValues(kind, mode, status).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
