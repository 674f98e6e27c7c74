// Package metrics exposes Prometheus instrumentation for the chat router.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests (and multiple servers in one
// process) never collide on the global default registerer.
type Metrics struct {
	registry         *prometheus.Registry
	chatRequests     *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "personagate",
			Name:      "chat_requests_total",
			Help:      "Chat requests by provider family and outcome.",
		}, []string{"provider", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "personagate",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream provider calls, including failed ones.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"provider"}),
	}

	reg.MustRegister(
		m.chatRequests,
		m.upstreamDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveChat counts one finished chat request.
func (m *Metrics) ObserveChat(provider, outcome string) {
	m.chatRequests.WithLabelValues(provider, outcome).Inc()
}

// ObserveUpstream records how long an upstream call took.
func (m *Metrics) ObserveUpstream(provider string, d time.Duration) {
	m.upstreamDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ChatCount returns the current counter value for one label pair.
func (m *Metrics) ChatCount(provider, outcome string) float64 {
	c, err := m.chatRequests.GetMetricWithLabelValues(provider, outcome)
	if err != nil {
		return 0
	}
	return counterValue(c)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
