package connection

import (
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

// mode carries the behaviour that differs between tunneling and routing.
// Both share the machine's state chart.
type mode interface {
	kind() Mode
	// connect is the Connecting entry action.
	connect(m *Machine)
	// heartbeat reports whether Idle arms the connection-state timer.
	heartbeat() bool
	// outbound wraps a cEMI frame in the mode's service.
	outbound(m *Machine, c *frame.CEMI, seq uint8) *frame.Frame
	// messageCode is the primitive used for outbound telegrams.
	messageCode() frame.MessageCode
	// supportsAck reports whether sends wait for TUNNELING_ACK.
	supportsAck() bool
	// sequenced reports whether sends consume a sequence number.
	sequenced() bool
	// disconnect is the Disconnecting entry action.
	disconnect(m *Machine)
}

type tunnelingMode struct{}

func (tunnelingMode) kind() Mode { return ModeTunneling }

func (tunnelingMode) connect(m *Machine) {
	if err := m.transport().Open(m.ctx); err != nil {
		m.connectFailed(err)
		return
	}
	m.attempts = 1
	m.sendConnectRequest()
	m.arm(connectInterval, m.connectTick)
}

func (tunnelingMode) heartbeat() bool { return true }

func (tunnelingMode) outbound(m *Machine, c *frame.CEMI, seq uint8) *frame.Frame {
	return frame.NewTunnelingRequest(m.sess.ChannelID, seq, c)
}

func (tunnelingMode) messageCode() frame.MessageCode { return frame.LDataReq }

func (tunnelingMode) supportsAck() bool { return true }

func (tunnelingMode) sequenced() bool { return true }

func (tunnelingMode) disconnect(m *Machine) {
	if !m.sess.HasChannel {
		m.finishDisconnect()
		return
	}
	m.sendControl(frame.NewDisconnectRequest(m.sess.ChannelID, m.controlEndpoint()))
	m.arm(disconnectTimeout, m.finishDisconnect)
}

type routingMode struct {
	fallback bool
}

func (r routingMode) kind() Mode {
	if r.fallback {
		return ModeMulticastFallback
	}
	return ModeRouting
}

func (routingMode) connect(m *Machine) {
	if err := m.transport().Open(m.ctx); err != nil {
		m.connectFailed(err)
		return
	}
	m.transition(StateConnected)
}

func (routingMode) heartbeat() bool { return false }

func (routingMode) outbound(_ *Machine, c *frame.CEMI, _ uint8) *frame.Frame {
	return frame.NewRoutingIndication(c)
}

func (routingMode) messageCode() frame.MessageCode { return frame.LDataInd }

func (routingMode) supportsAck() bool { return false }

func (routingMode) sequenced() bool { return false }

func (routingMode) disconnect(m *Machine) { m.finishDisconnect() }
