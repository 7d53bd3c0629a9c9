// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "colorcodely"

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	WebhooksTotal      *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	NotificationsTotal *prometheus.CounterVec
	CallsTotal         *prometheus.CounterVec
	TranscribeLatency  prometheus.Histogram
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhooksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Recording webhooks received, by result",
		}, []string{"result"}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by testing center and outcome",
		}, []string{"center", "outcome"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall time of one pipeline run",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Subscriber deliveries by channel and status",
		}, []string{"channel", "status"}),
		CallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Outbound calls requested, by testing center and result",
		}, []string{"center", "result"}),
		TranscribeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcribe_latency_seconds",
			Help:      "Speech-to-text request latency",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}),
	}
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Run(center, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(center, outcome).Inc()
	m.RunDuration.Observe(took.Seconds())
}

func (m *Metrics) Notification(channel, status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) Call(center, result string) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(center, result).Inc()
}

func (m *Metrics) Transcribed(took time.Duration) {
	if m == nil {
		return
	}
	m.TranscribeLatency.Observe(took.Seconds())
}
