package connection

import (
	"sync/atomic"
	"time"
)

// Stats holds operational counters.
type Stats struct {
	State          State     `json:"state"`
	Mode           string    `json:"mode"`
	FramesRx       uint64    `json:"frames_rx"`
	FramesTx       uint64    `json:"frames_tx"`
	FramesDropped  uint64    `json:"frames_dropped"` // Malformed, foreign-channel or duplicate datagrams
	AcksSent       uint64    `json:"acks_sent"`
	AcksReceived   uint64    `json:"acks_received"`
	Confirmations  uint64    `json:"confirmations"`
	TunnelFailures uint64    `json:"tunnel_failures"`
	SendErrors     uint64    `json:"send_errors"`
	ErrorsTotal    uint64    `json:"errors_total"`
	Reconnects     uint64    `json:"reconnects"`     // Successful connections after the first
	EventsDropped  uint64    `json:"events_dropped"` // Events dropped due to a full dispatch queue
	ConnectedAt    time.Time `json:"connected_at"`
	LastActivity   time.Time `json:"last_activity"`
}

// counters are updated from the machine and transport goroutines.
type counters struct {
	framesRx       atomic.Uint64
	framesTx       atomic.Uint64
	framesDropped  atomic.Uint64
	acksSent       atomic.Uint64
	acksReceived   atomic.Uint64
	confirmations  atomic.Uint64
	tunnelFailures atomic.Uint64
	sendErrors     atomic.Uint64
	errorsTotal    atomic.Uint64
	connects       atomic.Uint64
	connectedAt    atomic.Int64 // Unix nanoseconds
	lastActivity   atomic.Int64 // Unix nanoseconds
}

func (c *counters) snapshot() Stats {
	s := Stats{
		FramesRx:       c.framesRx.Load(),
		FramesTx:       c.framesTx.Load(),
		FramesDropped:  c.framesDropped.Load(),
		AcksSent:       c.acksSent.Load(),
		AcksReceived:   c.acksReceived.Load(),
		Confirmations:  c.confirmations.Load(),
		TunnelFailures: c.tunnelFailures.Load(),
		SendErrors:     c.sendErrors.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
	}
	if n := c.connects.Load(); n > 1 {
		s.Reconnects = n - 1
	}
	if ns := c.connectedAt.Load(); ns != 0 {
		s.ConnectedAt = time.Unix(0, ns)
	}
	if ns := c.lastActivity.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}
