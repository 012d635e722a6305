package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsSent    *prometheus.CounterVec
	NotificationsFailed  *prometheus.CounterVec
	NotificationsRetried *prometheus.CounterVec
	DLQAdmissions        *prometheus.CounterVec
	NotificationLatency  *prometheus.HistogramVec
	BreakerState         *prometheus.GaugeVec
	ConsumerLag          *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of successfully dispatched notifications, by channel.",
		}, []string{"channel"}),

		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of failed dispatch attempts (whether routed to retry or to the DLQ), by channel.",
		}, []string{"channel"}),

		NotificationsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_retried_total",
			Help: "Total number of dispatch attempts routed back to the retry topic, by channel.",
		}, []string{"channel"}),

		DLQAdmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_dlq_total",
			Help: "Total number of notifications admitted to the dead-letter topic, by channel.",
		}, []string{"channel"}),

		NotificationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_processing_seconds",
			Help:    "Provider dispatch latency, from the start of the adapter call to its ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
		}, []string{"provider"}),

		ConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "consumer_lag",
			Help: "Current consumer group lag per topic.",
		}, []string{"topic"}),
	}

	reg.MustRegister(
		m.NotificationsSent,
		m.NotificationsFailed,
		m.NotificationsRetried,
		m.DLQAdmissions,
		m.NotificationLatency,
		m.BreakerState,
		m.ConsumerLag,
	)

	return m
}

// WorkerHooks returns the metric callback functions expected by worker.Hooks.
// Centralises the prometheus observation calls so the worker package stays
// metrics-agnostic.
func (m *Metrics) WorkerHooks() (
	onSent func(domain.Channel, time.Duration),
	onFailed func(domain.Channel),
) {
	onSent = func(ch domain.Channel, latency time.Duration) {
		m.NotificationsSent.WithLabelValues(string(ch)).Inc()
		m.NotificationLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
	}
	onFailed = func(ch domain.Channel) {
		m.NotificationsFailed.WithLabelValues(string(ch)).Inc()
	}
	return
}

// LagReporter is the narrow subset of *worker.Pool the lag gauge updater
// needs.
type LagReporter interface {
	Lag() map[string]int64
}

// ReportLag copies the pool's per-topic consumer lag into the Prometheus
// gauge. Call it on a short interval from main; reading kafka-go's reader
// stats is cheap so polling does not warrant its own background worker type.
func (m *Metrics) ReportLag(reporter LagReporter) {
	for topic, lag := range reporter.Lag() {
		m.ConsumerLag.WithLabelValues(topic).Set(float64(lag))
	}
}

// ReportBreakerState records the current state for one named provider.
// Values follow gobreaker's own numbering (closed=0, half-open=1, open=2) so
// they read consistently whether you trace them from the dashboard or the
// library's source.
func (m *Metrics) ReportBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
