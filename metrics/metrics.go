// Package metrics collects and exposes Prometheus metrics for the webhook
// pipeline and prebuild orchestration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records pipeline events as Prometheus metrics.
type Collector struct {
	webhooksReceived     *prometheus.CounterVec
	webhooksUnauthorized *prometheus.CounterVec
	webhooksIgnored      *prometheus.CounterVec
	prebuildsStarted     *prometheus.CounterVec
	prebuildsDeduped     prometheus.Counter
	prebuildsFailed      *prometheus.CounterVec
	statusUpdates        *prometheus.CounterVec
	sweepResolved        prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prebuildd_webhooks_received_total",
			Help: "Webhook deliveries received, by provider",
		}, []string{"provider"}),
		webhooksUnauthorized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prebuildd_webhooks_unauthorized_total",
			Help: "Webhook deliveries dismissed as unauthorized, by provider",
		}, []string{"provider"}),
		webhooksIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prebuildd_webhooks_ignored_total",
			Help: "Webhook deliveries ignored (unconfigured or policy-disabled), by provider",
		}, []string{"provider"}),
		prebuildsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prebuildd_prebuilds_started_total",
			Help: "Prebuilds started, by trigger",
		}, []string{"trigger"}),
		prebuildsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prebuildd_prebuilds_deduped_total",
			Help: "Prebuild starts answered by an existing build for the same commit",
		}),
		prebuildsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prebuildd_prebuilds_failed_total",
			Help: "Prebuild trigger failures, by trigger",
		}, []string{"trigger"}),
		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prebuildd_status_updates_total",
			Help: "Commit status writes to providers, by state",
		}, []string{"state"}),
		sweepResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prebuildd_sweep_resolved_total",
			Help: "Updatables resolved by the periodic staleness sweep",
		}),
	}

	reg.MustRegister(
		c.webhooksReceived,
		c.webhooksUnauthorized,
		c.webhooksIgnored,
		c.prebuildsStarted,
		c.prebuildsDeduped,
		c.prebuildsFailed,
		c.statusUpdates,
		c.sweepResolved,
	)

	return c
}

func (c *Collector) RecordWebhookReceived(provider string) {
	c.webhooksReceived.WithLabelValues(provider).Inc()
}

func (c *Collector) RecordWebhookUnauthorized(provider string) {
	c.webhooksUnauthorized.WithLabelValues(provider).Inc()
}

func (c *Collector) RecordWebhookIgnored(provider string) {
	c.webhooksIgnored.WithLabelValues(provider).Inc()
}

func (c *Collector) RecordPrebuildStarted(trigger string) {
	c.prebuildsStarted.WithLabelValues(trigger).Inc()
}

func (c *Collector) RecordPrebuildDeduped() {
	c.prebuildsDeduped.Inc()
}

func (c *Collector) RecordPrebuildFailed(trigger string) {
	c.prebuildsFailed.WithLabelValues(trigger).Inc()
}

func (c *Collector) RecordStatusUpdate(state string) {
	c.statusUpdates.WithLabelValues(state).Inc()
}

func (c *Collector) RecordSweepResolved() {
	c.sweepResolved.Inc()
}

// Handler returns the HTTP handler serving the registry's metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
