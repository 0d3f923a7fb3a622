package connection

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/transport"
)

// Protocol timers.
const (
	connectInterval     = 3 * time.Second
	connectAttempts     = 3
	backoffStep         = 3 * time.Second
	maxBackoff          = 300 * time.Second
	noConnectionsCool   = 60 * time.Second
	heartbeatInterval   = 60 * time.Second
	connStateTimeout    = 1 * time.Second
	tunnelAckTimeout    = 2 * time.Second
	disconnectTimeout   = 3 * time.Second
	readResponseTimeout = 3 * time.Second
)

// DefaultRoutingAddress is the source address used in routing mode when
// none is configured.
var DefaultRoutingAddress = address.NewPhysical(15, 15, 15)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Client.
type Options struct {
	// Mode is "tunneling", "routing" or empty. Empty selects routing when
	// Gateway is unset or a multicast address, tunneling otherwise.
	Mode string

	// Gateway is the tunneling server's control endpoint, or the routing
	// multicast group. Port 0 means 3671.
	Gateway *net.UDPAddr

	// Interface and LocalIP select the local endpoint.
	Interface string
	LocalIP   net.IP

	// PhysicalAddress is the source of outbound telegrams. Zero uses the
	// address assigned by the tunneling server, or DefaultRoutingAddress.
	PhysicalAddress address.PhysicalAddress

	// NAT advertises the 0.0.0.0:0 route-back endpoint in HPAI blocks.
	NAT bool

	// MinimumDelay spaces consecutive outbound datagrams.
	MinimumDelay time.Duration

	// LocalEcho re-emits our own writes as telegram events once sent
	// (routing) or confirmed (tunneling).
	LocalEcho bool

	// MulticastTTL and MulticastLoopback tune the routing socket.
	MulticastTTL      int
	MulticastLoopback bool

	// EventQueueSize bounds the event dispatch queue.
	EventQueueSize int

	// Codec encodes values for Write and Respond. Nil uses dpt.Default.
	Codec dpt.Codec

	Logger Logger
	Clock  Clock

	// Transport overrides the socket built from the fields above.
	Transport transport.Transport
}

// ParseMode resolves a mode name.
func ParseMode(s string, gateway *net.UDPAddr) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tunneling", "tunnelling", "tunnel":
		return ModeTunneling, nil
	case "routing", "multicast":
		return ModeRouting, nil
	case "", "auto":
		if gateway == nil || gateway.IP == nil || gateway.IP.IsMulticast() {
			return ModeRouting, nil
		}
		return ModeTunneling, nil
	default:
		return 0, fmt.Errorf("knxip: unknown connection mode %q", s)
	}
}

func (o *Options) withDefaults() error {
	mode, err := ParseMode(o.Mode, o.Gateway)
	if err != nil {
		return err
	}
	if mode == ModeTunneling && (o.Gateway == nil || o.Gateway.IP == nil) {
		return fmt.Errorf("knxip: tunneling requires a gateway address")
	}
	if o.Gateway == nil {
		o.Gateway = &net.UDPAddr{IP: transport.DefaultMulticastGroup, Port: transport.DefaultPort}
	} else if o.Gateway.Port == 0 {
		g := *o.Gateway
		g.Port = transport.DefaultPort
		o.Gateway = &g
	}
	if mode == ModeTunneling {
		o.Mode = "tunneling"
	} else {
		o.Mode = "routing"
	}
	if o.Codec == nil {
		o.Codec = dpt.Default
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	return nil
}

func (o *Options) unicastTransport() transport.Transport {
	return transport.NewUDP(transport.UDPConfig{
		Remote:    o.Gateway,
		LocalIP:   o.LocalIP,
		Interface: o.Interface,
		Logger:    o.Logger,
	})
}

// multicastTransport builds the routing socket. For the tunneling fallback
// the group is the configured multicast gateway.
func (o *Options) multicastTransport() transport.Transport {
	group := &net.UDPAddr{IP: transport.DefaultMulticastGroup, Port: transport.DefaultPort}
	if o.Gateway != nil && o.Gateway.IP.IsMulticast() {
		group = o.Gateway
	}
	return transport.NewMulticast(transport.MulticastConfig{
		Group:     group,
		Interface: o.Interface,
		LocalIP:   o.LocalIP,
		TTL:       o.MulticastTTL,
		Loopback:  o.MulticastLoopback,
		Logger:    o.Logger,
	})
}
