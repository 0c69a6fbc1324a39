// Package metrics exposes the gateway's private Prometheus registry
// (spec.md §6 GET /metrics, private-IP only), grounded on
// orbas1-Synnergy/core/system_health_logging.go's registry+named-gauges
// shape (logrus-backed structured logging dropped — the teacher's own
// cmd/engine/main.go never reaches for a logging framework, so neither
// does this component; see DESIGN.md's ambient-stack note).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the gateway's process-internal housekeeping gauges:
// nonce/token sweep counts (SPEC_FULL.md supplemented feature 4) and
// ingest/webhook throughput.
type Registry struct {
	reg *prometheus.Registry

	noncesEvicted  prometheus.Gauge
	tokensExpired  prometheus.Gauge
	ingestJobs     prometheus.Gauge
	ingestBytes    prometheus.Gauge
	ingestRoots    prometheus.Gauge
	webhookSent    *prometheus.GaugeVec
	webhookFailed  *prometheus.GaugeVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		noncesEvicted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_nonces_evicted_total",
			Help: "Total nonces purged from the replay-window cache by the periodic sweep.",
		}),
		tokensExpired: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_upload_tokens_expired_total",
			Help: "Total upload tokens purged by the periodic sweep without being consumed.",
		}),
		ingestJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_ingest_jobs_processed",
			Help: "Cumulative count of ingest jobs the background worker has processed.",
		}),
		ingestBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_ingest_bytes_total",
			Help: "Cumulative bytes ingested across all processed jobs.",
		}),
		ingestRoots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lumen_ingest_roots_recorded",
			Help: "Cumulative count of distinct root CIDs recorded by the ingest worker.",
		}),
		webhookSent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lumen_webhook_sent",
			Help: "Webhook deliveries sent successfully, by event type.",
		}, []string{"event"}),
		webhookFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lumen_webhook_failed",
			Help: "Webhook deliveries that failed, by event type.",
		}, []string{"event"}),
	}

	reg.MustRegister(m.noncesEvicted, m.tokensExpired, m.ingestJobs, m.ingestBytes,
		m.ingestRoots, m.webhookSent, m.webhookFailed)

	return m
}

func (m *Registry) SetNoncesEvicted(n uint64) {
	m.noncesEvicted.Set(float64(n))
}

func (m *Registry) SetTokensExpired(n uint64) {
	m.tokensExpired.Set(float64(n))
}

func (m *Registry) SetIngestStats(jobs, bytesTotal, roots int64) {
	m.ingestJobs.Set(float64(jobs))
	m.ingestBytes.Set(float64(bytesTotal))
	m.ingestRoots.Set(float64(roots))
}

func (m *Registry) SetWebhookCounters(sent, failed map[string]int64) {
	for event, n := range sent {
		m.webhookSent.WithLabelValues(event).Set(float64(n))
	}
	for event, n := range failed {
		m.webhookFailed.WithLabelValues(event).Set(float64(n))
	}
}

// Handler returns the promhttp handler for this registry.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
