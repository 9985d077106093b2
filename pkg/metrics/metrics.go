// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway, registered
// against a private Registry rather than the global DefaultRegisterer,
// so a process that constructs more than one Gateway (or a test that
// constructs more than one Metrics) never hits a duplicate-registration
// panic.
type Metrics struct {
	// Registry is this Metrics instance's private collector registry.
	// Mount it behind promhttp.HandlerFor to expose it.
	Registry *prometheus.Registry

	// Classification metrics
	RequestsTotal *prometheus.CounterVec

	// HTTP proxy engine metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyDuration      *prometheus.HistogramVec
	ProxyRequestSize   *prometheus.HistogramVec
	ProxyResponseSize  *prometheus.HistogramVec

	// Tunnel metrics (websocket and raw TCP)
	TunnelsActive *prometheus.GaugeVec
	TunnelsTotal  *prometheus.CounterVec
	TunnelBytes   *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerState *prometheus.GaugeVec
	BreakerTrips *prometheus.CounterVec

	// Backend health metrics
	HealthChecksTotal *prometheus.CounterVec

	// Upstream error metrics, keyed by the statusmap token the failure
	// was mapped to.
	UpstreamErrors *prometheus.CounterVec
}

// New creates a new Metrics instance with all counters, gauges, and
// histograms registered under namespace (default "gateway").
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:      reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of classified requests by decision (pass, redirect, proxy, websocket, error)",
			},
			[]string{"decision"},
		),
		ProxyRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_requests_total",
				Help:      "Total number of HTTP proxy engine requests",
			},
			[]string{"method", "status"},
		),
		ProxyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proxy_duration_seconds",
				Help:      "HTTP proxy engine request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ProxyRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proxy_request_size_bytes",
				Help:      "HTTP proxy engine request body size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{},
		),
		ProxyResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proxy_response_size_bytes",
				Help:      "HTTP proxy engine response body size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{},
		),
		TunnelsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tunnels_active",
				Help:      "Number of currently open tunnels by transport (websocket, tcp)",
			},
			[]string{"transport"},
		),
		TunnelsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tunnels_total",
				Help:      "Total number of tunnels opened by transport and outcome",
			},
			[]string{"transport", "status"},
		),
		TunnelBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tunnel_bytes_total",
				Help:      "Total bytes spliced through a tunnel by transport and direction",
			},
			[]string{"transport", "direction"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per backend (0=closed, 1=half_open, 2=open)",
			},
			[]string{"backend"},
		),
		BreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_trips_total",
				Help:      "Total number of circuit breaker trips into the open state",
			},
			[]string{"backend"},
		),
		HealthChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Total number of backend health probes by outcome",
			},
			[]string{"backend", "status"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Total mapped upstream errors by statusmap token",
			},
			[]string{"token"},
		),
	}

	// The size histograms carry no labels, so their single child is
	// created up front and Gather reports them before the first request.
	m.ProxyRequestSize.WithLabelValues()
	m.ProxyResponseSize.WithLabelValues()

	return m
}

// ObserveDecision increments RequestsTotal for the classification decision
// the middleware orchestrator reached for a request.
func (m *Metrics) ObserveDecision(decision string) {
	m.RequestsTotal.WithLabelValues(decision).Inc()
}

// ObserveProxyRequest tracks one HTTP proxy engine round trip.
func (m *Metrics) ObserveProxyRequest(method string, f func() (status string, err error)) error {
	start := time.Now()

	status, err := f()
	duration := time.Since(start).Seconds()

	m.ProxyRequestsTotal.WithLabelValues(method, status).Inc()
	m.ProxyDuration.WithLabelValues(method).Observe(duration)

	return err
}

// ObserveTunnel tracks a websocket or TCP tunnel's lifetime, incrementing
// TunnelsActive for the duration of f and recording the outcome on exit.
func (m *Metrics) ObserveTunnel(transport string, f func() error) error {
	m.TunnelsActive.WithLabelValues(transport).Inc()
	defer m.TunnelsActive.WithLabelValues(transport).Dec()

	err := f()
	status := "closed"
	if err != nil {
		status = "error"
	}
	m.TunnelsTotal.WithLabelValues(transport, status).Inc()

	return err
}
