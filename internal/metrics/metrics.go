// Package metrics exposes Prometheus collectors for signature verification
// and outbound federation fetches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors, registered on an injectable registry so
// tests can use a clean one per case.
type Metrics struct {
	registry *prometheus.Registry

	verificationsTotal *prometheus.CounterVec
	breakerOpensTotal  prometheus.Counter
	keyFetchDuration   prometheus.Histogram
}

func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: registry,

		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbor_signature_verifications_total",
				Help: "Total inbound signature verifications by outcome",
			},
			[]string{"status"},
		),
		breakerOpensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbor_breaker_opens_total",
				Help: "Total circuit breaker open transitions",
			},
		),
		keyFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arbor_key_fetch_duration_seconds",
				Help:    "Duration of outbound key and account fetches",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.verificationsTotal,
		m.breakerOpensTotal,
		m.keyFetchDuration,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordVerification counts one terminal verification outcome
// ("authenticated" or "rejected").
func (m *Metrics) RecordVerification(status string) {
	m.verificationsTotal.WithLabelValues(status).Inc()
}

// RecordBreakerOpen counts one circuit-open transition.
func (m *Metrics) RecordBreakerOpen() {
	m.breakerOpensTotal.Inc()
}

// ObserveKeyFetch records the duration of one outbound fetch.
func (m *Metrics) ObserveKeyFetch(d time.Duration) {
	m.keyFetchDuration.Observe(d.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
