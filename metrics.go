package main

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "workflowguard"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing, which keeps the CLI replay commands free of a registry.
type Metrics struct {
	registry      *prometheus.Registry
	deliveries    *prometheus.CounterVec
	jobs          *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	apiCalls      *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	tokenRefresh  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by event type and response status",
		}, []string{"event", "status"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_total",
			Help:      "Corrective-action jobs by kind and outcome",
		}, []string{"kind", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "job_duration_seconds",
			Help:      "Corrective-action job duration by kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "api_calls_total",
			Help:      "Outbound platform API calls by method and status code",
		}, []string{"method", "status"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cancellations_total",
			Help:      "Workflow run cancellations by outcome",
		}, []string{"outcome"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_acquisitions_total",
			Help:      "Credential acquisitions by mode and outcome",
		}, []string{"mode", "outcome"}),
	}
	m.registry.MustRegister(
		m.deliveries,
		m.jobs,
		m.jobDuration,
		m.apiCalls,
		m.cancellations,
		m.tokenRefresh,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Delivery labels for events outside the handled set.
const (
	deliveryUnverified = "unverified"
	deliveryOther      = "other"
)

// ObserveDelivery counts a webhook response. event is reduced to the handled
// event types so callers cannot grow the label set.
func (m *Metrics) ObserveDelivery(event string, status int) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(deliveryEventLabel(event), strconv.Itoa(status)).Inc()
}

func deliveryEventLabel(event string) string {
	switch event {
	case "ping", "installation", "pull_request", "workflow_run", deliveryUnverified:
		return event
	}
	return deliveryOther
}

func (m *Metrics) ObserveJob(result JobResult) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if result.Err != nil {
		outcome = "failed"
	}
	kind := string(result.Job.Kind)
	m.jobs.WithLabelValues(kind, outcome).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
}

// ObserveAPICall records an outbound call. status is 0 when no response arrived.
func (m *Metrics) ObserveAPICall(method string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.apiCalls.WithLabelValues(method, label).Inc()
}

func (m *Metrics) ObserveCancellation(err error) {
	if m == nil {
		return
	}
	outcome := "canceled"
	if err != nil {
		outcome = "failed"
	}
	m.cancellations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTokenAcquisition(mode string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.tokenRefresh.WithLabelValues(mode, outcome).Inc()
}
