package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
)

// linkStates are reported by knxip_link_state, one series per state.
var linkStates = []connection.State{
	connection.StateUninitialized,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateIdle,
	connection.StateRequestingConnState,
	connection.StateSendingDatagram,
	connection.StateWaitingTunnelAck,
	connection.StateReceivingTunnelIndication,
	connection.StateDisconnecting,
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(connection.Stats) uint64
}

// linkCollector snapshots connection.Stats on each scrape.
type linkCollector struct {
	src      StatsSource
	state    *prometheus.Desc
	up       *prometheus.Desc
	activity *prometheus.Desc
	counters []counterDesc
}

func newLinkCollector(src StatsSource) *linkCollector {
	counter := func(name, help string, value func(connection.Stats) uint64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", name), help, []string{"mode"}, nil),
			value: value,
		}
	}
	return &linkCollector{
		src: src,
		state: prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "state"),
			"Current connection state (1 for the active state).", []string{"mode", "state"}, nil),
		up: prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "up"),
			"Whether the link is established.", []string{"mode"}, nil),
		activity: prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", "last_activity_timestamp_seconds"),
			"Unix time of the last frame sent or received.", []string{"mode"}, nil),
		counters: []counterDesc{
			counter("frames_received_total", "KNXnet/IP frames received.", func(s connection.Stats) uint64 { return s.FramesRx }),
			counter("frames_sent_total", "KNXnet/IP frames sent.", func(s connection.Stats) uint64 { return s.FramesTx }),
			counter("frames_dropped_total", "Malformed, foreign or duplicate frames dropped.", func(s connection.Stats) uint64 { return s.FramesDropped }),
			counter("acks_sent_total", "Tunneling ACKs sent.", func(s connection.Stats) uint64 { return s.AcksSent }),
			counter("acks_received_total", "Tunneling ACKs received.", func(s connection.Stats) uint64 { return s.AcksReceived }),
			counter("confirmations_total", "L_Data.con confirmations received.", func(s connection.Stats) uint64 { return s.Confirmations }),
			counter("tunnel_failures_total", "Tunnel requests that were not acknowledged.", func(s connection.Stats) uint64 { return s.TunnelFailures }),
			counter("send_errors_total", "Datagrams that failed to send.", func(s connection.Stats) uint64 { return s.SendErrors }),
			counter("errors_total", "Error events emitted.", func(s connection.Stats) uint64 { return s.ErrorsTotal }),
			counter("reconnects_total", "Successful connections after the first.", func(s connection.Stats) uint64 { return s.Reconnects }),
			counter("events_dropped_total", "Events dropped by a full dispatch queue.", func(s connection.Stats) uint64 { return s.EventsDropped }),
		},
	}
}

func (c *linkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.up
	ch <- c.activity
	for _, cd := range c.counters {
		ch <- cd.desc
	}
}

func (c *linkCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	for _, st := range linkStates {
		v := 0.0
		if st == s.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.Mode, string(st))
	}

	up := 0.0
	switch s.State {
	case connection.StateUninitialized, connection.StateConnecting, connection.StateDisconnecting, "":
	default:
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up, s.Mode)

	var last float64
	if !s.LastActivity.IsZero() {
		last = float64(s.LastActivity.UnixNano()) / 1e9
	}
	ch <- prometheus.MustNewConstMetric(c.activity, prometheus.GaugeValue, last, s.Mode)

	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(s)), s.Mode)
	}
}
