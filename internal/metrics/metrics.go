// Package metrics holds the Prometheus collectors for token lifecycle and
// publish outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of collectors registered on one registry
type Metrics struct {
	registry *prometheus.Registry

	publishOutcomes   *prometheus.CounterVec
	tokenRefreshes    *prometheus.CounterVec
	applicationTokens *prometheus.CounterVec
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		publishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ebay_publish_outcomes_total",
			Help: "Listing publish outcomes by step and result.",
		}, []string{"step", "result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ebay_token_refresh_total",
			Help: "User token refresh attempts by result.",
		}, []string{"result"}),
		applicationTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ebay_application_token_issued_total",
			Help: "Client-credentials token requests by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(m.publishOutcomes, m.tokenRefreshes, m.applicationTokens)
	return m
}

// PublishOutcome counts one item outcome. step is empty for successes.
func (m *Metrics) PublishOutcome(step string, success bool) {
	result := "failure"
	if success {
		result = "success"
		step = "complete"
	}
	m.publishOutcomes.WithLabelValues(step, result).Inc()
}

// TokenRefreshed counts a user token refresh
func (m *Metrics) TokenRefreshed(result string) {
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

// ApplicationTokenIssued counts a client-credentials token request
func (m *Metrics) ApplicationTokenIssued(result string) {
	m.applicationTokens.WithLabelValues(result).Inc()
}

// Registry exposes the registry, e.g. for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
