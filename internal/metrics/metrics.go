// Package metrics provides the Prometheus metrics of the push router.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinywideclouds/go-push-router/internal/router"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// DispatchMetrics contains the metrics recorded per dispatched request.
type DispatchMetrics struct {
	EndpointsTotal        *prometheus.CounterVec // Endpoints by platform and final status
	BroadcastsTotal       *prometheus.CounterVec // Broadcasts by platform and status
	DispatchDuration      prometheus.Histogram   // Wall time of one Router.Dispatch
	SenderRejectionsTotal prometheus.Counter     // Dispatch calls where a sender rejected a payload
	RequestsTotal         *prometheus.CounterVec // Ingested requests by result
	UnregisteredTotal     *prometheus.CounterVec // Endpoints removed after an InvalidEndpoint outcome

	collectors []prometheus.Collector
}

// NewDispatchMetrics creates the metrics and registers them on registry.
func NewDispatchMetrics(registry prometheus.Registerer) (*DispatchMetrics, error) {
	m := &DispatchMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register dispatch metrics: %w", err)
	}
	return m, nil
}

func (m *DispatchMetrics) initMetrics() {
	m.EndpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrouter_endpoints_total",
			Help: "Total number of endpoints dispatched by platform and resulting status",
		},
		[]string{"platform", "status"},
	)
	m.BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrouter_broadcasts_total",
			Help: "Total number of broadcast payloads by platform and resulting status",
		},
		[]string{"platform", "status"},
	)
	m.DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pushrouter_dispatch_duration_seconds",
			Help:    "Time taken to dispatch one request to every platform",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
	)
	m.SenderRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrouter_sender_rejections_total",
			Help: "Total number of dispatches in which a sender rejected a payload it could not encode",
		},
	)
	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrouter_requests_total",
			Help: "Total number of ingested dispatch requests by result",
		},
		[]string{"result"}, // result: dispatched, failed
	)
	m.UnregisteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrouter_unregistered_endpoints_total",
			Help: "Total number of endpoints removed from the directory after an invalid endpoint outcome",
		},
		[]string{"platform"},
	)
	m.collectors = []prometheus.Collector{
		m.EndpointsTotal, m.BroadcastsTotal, m.DispatchDuration,
		m.SenderRejectionsTotal, m.RequestsTotal, m.UnregisteredTotal,
	}
}

func (m *DispatchMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

func (m *DispatchMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// ObserveOutcome records one Dispatch call.
func (m *DispatchMetrics) ObserveOutcome(outcome *router.Outcome, elapsed time.Duration, dispatchErr error) {
	m.DispatchDuration.Observe(elapsed.Seconds())
	if dispatchErr != nil {
		m.SenderRejectionsTotal.Inc()
	}
	if outcome == nil {
		return
	}
	for status, eps := range outcome.Statuses() {
		for _, ep := range eps {
			m.EndpointsTotal.WithLabelValues(ep.Platform, status.String()).Inc()
		}
	}
	for status, payloads := range outcome.BroadcastStatuses() {
		for platform, byType := range payloads {
			m.BroadcastsTotal.WithLabelValues(platform, status.String()).Add(float64(len(byType)))
		}
	}
}

// ObserveRequest counts an ingested request as dispatched or failed.
func (m *DispatchMetrics) ObserveRequest(err error) {
	result := "dispatched"
	if err != nil {
		result = "failed"
	}
	m.RequestsTotal.WithLabelValues(result).Inc()
}

// ObserveUnregistered counts an endpoint removed from the directory.
func (m *DispatchMetrics) ObserveUnregistered(ep dispatch.Endpoint) {
	m.UnregisteredTotal.WithLabelValues(ep.Platform).Inc()
}
