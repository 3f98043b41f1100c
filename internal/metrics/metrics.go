// Package metrics bundles the process-wide Prometheus collectors.
//
// A single Metrics value is created at startup and threaded into the
// components that report counters. All methods are nil-safe so tests and
// tools can pass a nil *Metrics without guards at call sites.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	providerRequests *prometheus.CounterVec
	providerRetries  *prometheus.CounterVec
	breakerOpens     *prometheus.CounterVec

	eventsParsed *prometheus.CounterVec
	parseRetries *prometheus.CounterVec

	postsSent   *prometheus.CounterVec
	postsFailed *prometheus.CounterVec
	quotaDenied prometheus.Counter

	loopCycles    prometheus.Counter
	configReloads *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "provider_requests_total",
			Help:      "Provider HTTP requests by endpoint key and outcome",
		}, []string{"key", "outcome"}),
		providerRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "provider_retries_total",
			Help:      "Provider request retries by endpoint key",
		}, []string{"key"}),
		breakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "breaker_opens_total",
			Help:      "Circuit breaker trips by endpoint key",
		}, []string{"key"}),
		eventsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "events_parsed_total",
			Help:      "Play records classified, by event type",
		}, []string{"type"}),
		parseRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "parse_retries_total",
			Help:      "Records deferred because required fields were not ready yet",
		}, []string{"type"}),
		postsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "posts_sent_total",
			Help:      "Social posts delivered, by platform",
		}, []string{"platform"}),
		postsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "posts_failed_total",
			Help:      "Social posts that failed after delivery was attempted",
		}, []string{"platform"}),
		quotaDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "quota_denied_total",
			Help:      "Posts suppressed by the daily quota limiter",
		}),
		loopCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "loop_cycles_total",
			Help:      "Completed live loop poll cycles",
		}),
		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puckbot",
			Name:      "config_reloads_total",
			Help:      "Config file reload attempts by outcome",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.providerRequests,
		m.providerRetries,
		m.breakerOpens,
		m.eventsParsed,
		m.parseRetries,
		m.postsSent,
		m.postsFailed,
		m.quotaDenied,
		m.loopCycles,
		m.configReloads,
	)

	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProviderRequest records one finished provider call.
// outcome is "ok", "throttled", "server_error" or "error".
func (m *Metrics) ObserveProviderRequest(key, outcome string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(key, outcome).Inc()
}

// IncProviderRetry increments the retry counter for an endpoint key.
func (m *Metrics) IncProviderRetry(key string) {
	if m == nil {
		return
	}
	m.providerRetries.WithLabelValues(key).Inc()
}

// IncBreakerOpen increments the breaker trip counter.
func (m *Metrics) IncBreakerOpen(key string) {
	if m == nil {
		return
	}
	m.breakerOpens.WithLabelValues(key).Inc()
}

// IncEventParsed increments the classified-record counter for a type.
func (m *Metrics) IncEventParsed(eventType string) {
	if m == nil {
		return
	}
	m.eventsParsed.WithLabelValues(eventType).Inc()
}

// IncParseRetry increments the deferred-parse counter for a type.
func (m *Metrics) IncParseRetry(eventType string) {
	if m == nil {
		return
	}
	m.parseRetries.WithLabelValues(eventType).Inc()
}

// IncPostSent increments the delivered-post counter for a platform.
func (m *Metrics) IncPostSent(platform string) {
	if m == nil {
		return
	}
	m.postsSent.WithLabelValues(platform).Inc()
}

// IncPostFailed increments the failed-post counter for a platform.
func (m *Metrics) IncPostFailed(platform string) {
	if m == nil {
		return
	}
	m.postsFailed.WithLabelValues(platform).Inc()
}

// IncQuotaDenied increments the quota suppression counter.
func (m *Metrics) IncQuotaDenied() {
	if m == nil {
		return
	}
	m.quotaDenied.Inc()
}

// IncConfigReload counts one reload attempt. outcome is "applied",
// "unchanged", "invalid" or "rejected".
func (m *Metrics) IncConfigReload(outcome string) {
	if m == nil {
		return
	}
	m.configReloads.WithLabelValues(outcome).Inc()
}

// IncLoopCycle increments the live loop cycle counter.
func (m *Metrics) IncLoopCycle() {
	if m == nil {
		return
	}
	m.loopCycles.Inc()
}
