package connection

import (
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

// Mode is the active connection mode.
type Mode int

// Connection modes.
const (
	ModeTunneling Mode = iota
	ModeRouting
	// ModeMulticastFallback is routing entered after tunneling to a
	// multicast gateway address got no answer.
	ModeMulticastFallback
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeTunneling:
		return "tunneling"
	case ModeRouting:
		return "routing"
	case ModeMulticastFallback:
		return "multicast-fallback"
	default:
		return "unknown"
	}
}

// Session is the run-time state of one connection. It is owned by the
// machine goroutine.
type Session struct {
	Mode Mode

	// ChannelID is valid when HasChannel is set.
	ChannelID  uint8
	HasChannel bool

	// Sequence is the last sequence number sent; -1 before the first send.
	Sequence int

	// LastReceived is the sequence number of the last accepted indication,
	// valid when HasReceived is set.
	LastReceived uint8
	HasReceived  bool

	LastActivity time.Time
	LastSent     time.Time
	ConnectedAt  time.Time

	// Cycles counts failed connect rounds since the last success.
	Cycles int

	// Assigned is the individual address granted in the CONNECT_RESPONSE.
	Assigned address.PhysicalAddress

	// Outstanding holds sent tunneling requests awaiting L_Data.con, keyed
	// by destination. One request per destination is tracked: a second
	// write to the same address before confirmation replaces the first.
	Outstanding map[string]*frame.Frame
}

func newSession(mode Mode) *Session {
	return &Session{
		Mode:        mode,
		Sequence:    -1,
		Outstanding: make(map[string]*frame.Frame),
	}
}

// nextSequence advances the send counter, wrapping at 8 bits.
func (s *Session) nextSequence() uint8 {
	s.Sequence = (s.Sequence + 1) & 0xFF
	return uint8(s.Sequence) //nolint:gosec // masked to 8 bits
}

// rollbackSequence undoes nextSequence after a failed send. -1 and 255
// both advance to 0.
func (s *Session) rollbackSequence() {
	s.Sequence--
}

// clearChannel drops the channel and per-channel counters.
func (s *Session) clearChannel() {
	s.ChannelID = 0
	s.HasChannel = false
	s.HasReceived = false
	s.Outstanding = make(map[string]*frame.Frame)
}
