package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wedding_invites"

// Metrics holds the Prometheus collectors for the service
type Metrics struct {
	registry *prometheus.Registry

	// Notification metrics
	NotificationsSent   *prometheus.CounterVec
	ProviderSendSeconds *prometheus.HistogramVec
	SendAttempts        *prometheus.HistogramVec
	DispatchJobs        *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// RSVP metrics
	RSVPTotal *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry, so several instances can
// coexist in tests.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		NotificationsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Notifications processed, by provider and final status",
			},
			[]string{"provider", "status"},
		),
		ProviderSendSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_send_duration_seconds",
				Help:      "Latency of a single provider send call",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		SendAttempts: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "send_attempts",
				Help:      "Provider calls needed per recipient",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"provider"},
		),
		DispatchJobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_jobs_total",
				Help:      "Bulk dispatch jobs, by outcome",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RSVPTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rsvp_total",
				Help:      "RSVP answers recorded, by status and source",
			},
			[]string{"status", "source"},
		),
	}
}

// ObserveSend records one provider call. Safe on a nil receiver.
func (m *Metrics) ObserveSend(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderSendSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordOutcome counts a recipient's final status. Safe on a nil receiver.
func (m *Metrics) RecordOutcome(provider, status string, attempts int) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(provider, status).Inc()
	if attempts > 0 {
		m.SendAttempts.WithLabelValues(provider).Observe(float64(attempts))
	}
}

// RecordJob counts a finished dispatch job. Safe on a nil receiver.
func (m *Metrics) RecordJob(status string) {
	if m == nil {
		return
	}
	m.DispatchJobs.WithLabelValues(status).Inc()
}

// RecordRSVP counts an RSVP answer. Safe on a nil receiver.
func (m *Metrics) RecordRSVP(status, source string) {
	if m == nil {
		return
	}
	m.RSVPTotal.WithLabelValues(status, source).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
