package connection

import "errors"

// Connection errors.
//
// Protocol failures (timeouts, rejected connections, unacknowledged
// requests) are handled inside the machine and reported as events carrying
// one of these errors. Only local mistakes and missing connections are
// returned synchronously from Client methods.
var (
	// ErrNotConnected is returned when a request is made without an
	// established or establishing connection.
	ErrNotConnected = errors.New("knxip: not connected")

	// ErrProtocolTimeout is reported when the gateway does not answer within
	// a state's timeout.
	ErrProtocolTimeout = errors.New("knxip: protocol timeout")

	// ErrChannelMismatch marks a datagram addressed to another channel.
	ErrChannelMismatch = errors.New("knxip: channel mismatch")

	// ErrConnectionRejected is reported when the gateway refuses a
	// CONNECT_REQUEST.
	ErrConnectionRejected = errors.New("knxip: connection rejected")

	// ErrTunnelRequestFailed is reported when a TUNNELING_REQUEST is not
	// acknowledged, or acknowledged with an error status.
	ErrTunnelRequestFailed = errors.New("knxip: tunneling request failed")

	// ErrReadTimeout is returned by Client.Read when no GroupValue_Response
	// arrives in time.
	ErrReadTimeout = errors.New("knxip: read timeout")

	// ErrClosed is returned after Client.Close.
	ErrClosed = errors.New("knxip: client closed")
)
