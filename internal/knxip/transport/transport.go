// Package transport moves KNXnet/IP datagrams over UDP.
//
// Two transports are provided: UDP, a unicast socket used for tunneling
// (control and data endpoint share one socket), and Multicast, a socket
// joined to the KNXnet/IP routing group. Both run a receive loop that hands
// every datagram to a Handler; callers decode and dispatch.
package transport

import (
	"context"
	"errors"
	"net"
)

// Defaults.
const (
	// DefaultPort is the IANA-assigned KNXnet/IP port.
	DefaultPort = 3671

	// DefaultMulticastTTL is the hop limit recommended for routing.
	DefaultMulticastTTL = 16

	maxDatagram = 512
)

// DefaultMulticastGroup is the KNXnet/IP system setup multicast address.
var DefaultMulticastGroup = net.IPv4(224, 0, 23, 12)

// Transport errors.
var (
	// ErrNotOpen is returned by Send on a transport that is not open.
	ErrNotOpen = errors.New("transport: not open")

	// ErrNoLocalAddress is returned when no usable local IPv4 address exists.
	ErrNoLocalAddress = errors.New("transport: no local IPv4 address")
)

// Handler receives each datagram read by a transport. The slice is owned by
// the handler.
type Handler func(data []byte, from *net.UDPAddr)

// Transport is a datagram socket bound to one remote endpoint.
type Transport interface {
	// Open binds the socket and starts the receive loop. Opening an open
	// transport is a no-op.
	Open(ctx context.Context) error

	// Send writes one datagram to the remote endpoint.
	Send(ctx context.Context, data []byte) error

	// LocalAddr returns the endpoint advertised in HPAI blocks, or nil
	// while closed.
	LocalAddr() *net.UDPAddr

	// SetHandler installs the receive callback. It must be called before Open.
	SetHandler(h Handler)

	// Close stops the receive loop and releases the socket. Closing a closed
	// transport returns nil.
	Close() error
}
