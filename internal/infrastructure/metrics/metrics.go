// Package metrics exposes gateway health as Prometheus metrics.
//
// Link counters are read from the KNXnet/IP client on every scrape; HTTP
// request counters and bridge command outcomes are recorded as they
// happen.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
)

const namespace = "knxip"

// StatsSource supplies link statistics. *connection.Client satisfies it.
type StatsSource interface {
	Stats() connection.Stats
}

// Metrics owns a private registry with the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	commands     *prometheus.CounterVec
}

// New registers the link collector for src plus the Go runtime and
// process collectors. src may be nil when no link is configured.
func New(src StatsSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "commands_total",
				Help:      "MQTT commands handled by the bridge.",
			},
			[]string{"command", "result"},
		),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if src != nil {
		m.registry.MustRegister(newLinkCollector(src))
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest counts one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, s).Inc()
	m.httpDuration.WithLabelValues(method, route, s).Observe(d.Seconds())
}

// RecordCommand counts one bridge command by outcome.
func (m *Metrics) RecordCommand(command string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.commands.WithLabelValues(command, result).Inc()
}

// BrokerSource reports the MQTT session. *mqtt.Client satisfies it.
type BrokerSource interface {
	IsConnected() bool
	Reconnects() uint64
}

// WatchBroker exports the MQTT session state. Call it at most once.
func (m *Metrics) WatchBroker(b BrokerSource) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "connected",
				Help:      "1 while the broker session is up.",
			},
			func() float64 {
				if b.IsConnected() {
					return 1
				}
				return 0
			},
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "reconnects_total",
				Help:      "Broker sessions re-established after a loss.",
			},
			func() float64 { return float64(b.Reconnects()) },
		),
	)
}
