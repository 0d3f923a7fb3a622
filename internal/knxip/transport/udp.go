package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// UDPConfig configures a unicast tunneling socket.
type UDPConfig struct {
	// Remote is the gateway's control endpoint.
	Remote *net.UDPAddr
	// LocalIP is the address to bind and advertise. Nil resolves it with
	// LocalIPv4(Interface), falling back to the routed address of Remote.
	LocalIP net.IP
	// Interface names the network interface used to pick LocalIP.
	Interface string
	// WriteTimeout bounds each send when the context has no deadline.
	WriteTimeout time.Duration
	// Logger is optional.
	Logger Logger
}

// UDP is a unicast transport for tunneling connections.
type UDP struct {
	cfg UDPConfig

	mu      sync.RWMutex
	conn    *net.UDPConn
	local   *net.UDPAddr
	handler Handler
	accept  func(*net.UDPAddr) bool
	done    chan struct{}
}

var _ Transport = (*UDP)(nil)

// NewUDP returns a closed unicast transport.
func NewUDP(cfg UDPConfig) *UDP {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	return &UDP{cfg: cfg}
}

// SetHandler installs the receive callback.
func (t *UDP) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Open binds an ephemeral port on the local address and starts reading.
func (t *UDP) Open(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	if t.cfg.Remote == nil {
		return fmt.Errorf("transport: no remote endpoint configured")
	}

	ip := t.cfg.LocalIP
	if ip == nil {
		var err error
		if ip, err = ResolveLocalIPv4(t.cfg.Interface, t.cfg.Remote.IP); err != nil {
			return err
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
	if err != nil {
		return fmt.Errorf("listen UDP on %s: %w", ip, err)
	}
	bound, _ := conn.LocalAddr().(*net.UDPAddr)
	t.local = &net.UDPAddr{IP: ip.To4(), Port: bound.Port}
	t.conn = conn
	t.done = make(chan struct{})

	accept := t.accept
	if accept == nil {
		accept = t.filter
	}
	go readLoop(conn, t.handler, accept, t.done, t.cfg.Logger)

	t.cfg.Logger.Debug("udp transport open", "local", t.local.String(), "remote", t.cfg.Remote.String())
	return nil
}

// filter drops datagrams that do not come from the gateway's address.
func (t *UDP) filter(from *net.UDPAddr) bool {
	return from.IP.Equal(t.cfg.Remote.IP)
}

// Send writes data to the gateway.
func (t *UDP) Send(ctx context.Context, data []byte) error {
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
	if _, err := t.conn.WriteToUDP(data, t.cfg.Remote); err != nil {
		return fmt.Errorf("send to %s: %w", t.cfg.Remote, err)
	}
	return nil
}

// LocalAddr returns the bound local endpoint.
func (t *UDP) LocalAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.local
}

// Close releases the socket and waits for the receive loop to exit.
func (t *UDP) Close() error {
	t.mu.Lock()
	conn, done := t.conn, t.done
	t.conn, t.local, t.done = nil, nil, nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close UDP: %w", err)
	}
	return nil
}

// readLoop reads datagrams until conn is closed. Datagrams rejected by
// accept are dropped.
func readLoop(conn *net.UDPConn, h Handler, accept func(*net.UDPAddr) bool, done chan struct{}, log Logger) {
	defer close(done)
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("udp read failed", "error", err)
			continue
		}
		if h == nil || (accept != nil && !accept(from)) {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		h(data, from)
	}
}
