// Package server exports relay counters in the Prometheus text format.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport labels for the connection gauge.
const (
	transportTCP       = "tcp"
	transportWebSocket = "websocket"
)

// Drop reasons for the dropped counter.
const (
	dropSaturated   = "saturated"
	dropLagged      = "lagged"
	dropRateLimited = "rate_limited"
)

// Metrics groups the relay collectors. Each Metrics owns its registry so that
// several servers can coexist in one process, as they do in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	messages    *prometheus.CounterVec
	connections *prometheus.GaugeVec
	dropped     *prometheus.CounterVec
}

// NewMetrics creates and registers the relay collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Messages received from clients, by kind.",
		}, []string{"kind"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Currently connected clients, by transport.",
		}, []string{"transport"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_dropped_total",
			Help: "Messages dropped instead of delivered, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.messages,
		m.connections,
		m.dropped,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) messageReceived(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) connectionOpened(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Inc()
}

func (m *Metrics) connectionClosed(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Dec()
}

func (m *Metrics) messageDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
