package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// MulticastConfig configures a routing socket.
type MulticastConfig struct {
	// Group is the routing multicast endpoint. Nil means 224.0.23.12:3671.
	Group *net.UDPAddr
	// Interface names the interface to join on. Empty lets the kernel choose.
	Interface string
	// LocalIP is advertised by LocalAddr. Nil resolves it from Interface.
	LocalIP net.IP
	// TTL is the multicast hop limit. Zero means DefaultMulticastTTL.
	TTL int
	// Loopback delivers our own datagrams back to local listeners. Echoes
	// from this socket are still dropped by the receive loop.
	Loopback bool
	// WriteTimeout bounds each send when the context has no deadline.
	WriteTimeout time.Duration
	// Logger is optional.
	Logger Logger
}

// Multicast is a transport joined to the KNXnet/IP routing group.
type Multicast struct {
	cfg MulticastConfig

	mu      sync.RWMutex
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	ifi     *net.Interface
	local   *net.UDPAddr
	handler Handler
	done    chan struct{}
}

var _ Transport = (*Multicast)(nil)

// NewMulticast returns a closed routing transport.
func NewMulticast(cfg MulticastConfig) *Multicast {
	if cfg.Group == nil {
		cfg.Group = &net.UDPAddr{IP: DefaultMulticastGroup, Port: DefaultPort}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultMulticastTTL
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &Multicast{cfg: cfg}
}

// SetHandler installs the receive callback.
func (t *Multicast) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Open binds the group port, joins the group and starts reading.
func (t *Multicast) Open(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	var ifi *net.Interface
	if t.cfg.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(t.cfg.Interface); err != nil {
			return fmt.Errorf("multicast interface %q: %w", t.cfg.Interface, err)
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: t.cfg.Group.Port})
	if err != nil {
		return fmt.Errorf("listen UDP :%d: %w", t.cfg.Group.Port, err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.JoinGroup(ifi, &net.UDPAddr{IP: t.cfg.Group.IP}); err != nil {
		conn.Close()
		return fmt.Errorf("join multicast group %s: %w", t.cfg.Group.IP, err)
	}
	if ifi != nil {
		if err := pconn.SetMulticastInterface(ifi); err != nil {
			t.cfg.Logger.Warn("set multicast interface failed", "interface", ifi.Name, "error", err)
		}
	}
	if err := pconn.SetMulticastTTL(t.cfg.TTL); err != nil {
		t.cfg.Logger.Warn("set multicast TTL failed", "ttl", t.cfg.TTL, "error", err)
	}
	if err := pconn.SetMulticastLoopback(t.cfg.Loopback); err != nil {
		t.cfg.Logger.Warn("set multicast loopback failed", "error", err)
	}

	ip := t.cfg.LocalIP
	if ip == nil {
		if ip, err = LocalIPv4(t.cfg.Interface); err != nil {
			ip = net.IPv4zero
		}
	}

	t.conn, t.pconn, t.ifi = conn, pconn, ifi
	t.local = &net.UDPAddr{IP: ip.To4(), Port: t.cfg.Group.Port}
	t.done = make(chan struct{})

	go readLoop(conn, t.handler, t.filter(t.local), t.done, t.cfg.Logger)

	t.cfg.Logger.Debug("multicast transport open", "group", t.cfg.Group.String(), "ttl", t.cfg.TTL)
	return nil
}

func (t *Multicast) filter(self *net.UDPAddr) func(*net.UDPAddr) bool {
	if !t.cfg.Loopback {
		return nil
	}
	return func(from *net.UDPAddr) bool {
		return !(from.IP.Equal(self.IP) && from.Port == self.Port)
	}
}

// Send writes data to the multicast group.
func (t *Multicast) Send(ctx context.Context, data []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.conn == nil {
		return ErrNotOpen
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.cfg.WriteTimeout)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := t.conn.WriteToUDP(data, t.cfg.Group); err != nil {
		return fmt.Errorf("send to %s: %w", t.cfg.Group, err)
	}
	return nil
}

// LocalAddr returns the advertised local endpoint.
func (t *Multicast) LocalAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local
}

// Close leaves the group and releases the socket.
func (t *Multicast) Close() error {
	t.mu.Lock()
	conn, pconn, ifi, done := t.conn, t.pconn, t.ifi, t.done
	t.conn, t.pconn, t.ifi, t.local, t.done = nil, nil, nil, nil, nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := pconn.LeaveGroup(ifi, &net.UDPAddr{IP: t.cfg.Group.IP}); err != nil {
		t.cfg.Logger.Debug("leave multicast group failed", "error", err)
	}
	err := conn.Close()
	<-done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close multicast: %w", err)
	}
	return nil
}
