package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

var loopback = net.IPv4(127, 0, 0, 1)

// listenPeer opens a UDP socket on loopback that plays the gateway.
func listenPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: loopback})
	if err != nil {
		t.Skipf("loopback UDP unavailable: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPeer(t *testing.T, conn *net.UDPConn) ([]byte, *net.UDPAddr) {
	t.Helper()
	buf := make([]byte, maxDatagram)
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	return buf[:n], from
}

// ─── UDP ───────────────────────────────────────────────────────────

func TestUDPRoundTrip(t *testing.T) {
	peer := listenPeer(t)
	remote := peer.LocalAddr().(*net.UDPAddr)

	received := make(chan []byte, 1)
	u := NewUDP(UDPConfig{Remote: remote, LocalIP: loopback})
	u.SetHandler(func(data []byte, _ *net.UDPAddr) { received <- data })

	if err := u.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer u.Close()

	local := u.LocalAddr()
	if local == nil || !local.IP.Equal(loopback) || local.Port == 0 {
		t.Fatalf("LocalAddr() = %v, want 127.0.0.1:<ephemeral>", local)
	}

	if err := u.Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	data, from := readPeer(t, peer)
	if string(data) != "ping" {
		t.Errorf("peer got %q, want ping", data)
	}
	if from.Port != local.Port {
		t.Errorf("datagram came from port %d, want %d", from.Port, local.Port)
	}

	if _, err := peer.WriteToUDP([]byte("pong"), from); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	select {
	case got := <-received:
		if string(got) != "pong" {
			t.Errorf("handler got %q, want pong", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestUDPOpenIsIdempotent(t *testing.T) {
	peer := listenPeer(t)
	u := NewUDP(UDPConfig{Remote: peer.LocalAddr().(*net.UDPAddr), LocalIP: loopback})

	if err := u.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	first := u.LocalAddr().Port
	if err := u.Open(context.Background()); err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	if got := u.LocalAddr().Port; got != first {
		t.Errorf("second Open rebound to port %d, want %d", got, first)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if u.LocalAddr() != nil {
		t.Error("LocalAddr() after Close should be nil")
	}
}

func TestUDPSendWhenClosed(t *testing.T) {
	u := NewUDP(UDPConfig{Remote: &net.UDPAddr{IP: loopback, Port: DefaultPort}})
	if err := u.Send(context.Background(), []byte{0x06}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send() error = %v, want ErrNotOpen", err)
	}
}

func TestUDPOpenWithoutRemote(t *testing.T) {
	u := NewUDP(UDPConfig{LocalIP: loopback})
	if err := u.Open(context.Background()); err == nil {
		u.Close()
		t.Fatal("Open() without remote should fail")
	}
}

func TestUDPFilter(t *testing.T) {
	u := NewUDP(UDPConfig{Remote: &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: DefaultPort}})
	tests := []struct {
		from *net.UDPAddr
		want bool
	}{
		{&net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: DefaultPort}, true},
		{&net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 40000}, true},
		{&net.UDPAddr{IP: net.IPv4(192, 168, 1, 11), Port: DefaultPort}, false},
	}
	for _, tt := range tests {
		if got := u.filter(tt.from); got != tt.want {
			t.Errorf("filter(%v) = %v, want %v", tt.from, got, tt.want)
		}
	}
}

// ─── Multicast ─────────────────────────────────────────────────────

func TestMulticastDefaults(t *testing.T) {
	m := NewMulticast(MulticastConfig{})
	if !m.cfg.Group.IP.Equal(DefaultMulticastGroup) || m.cfg.Group.Port != DefaultPort {
		t.Errorf("default group = %v, want 224.0.23.12:3671", m.cfg.Group)
	}
	if m.cfg.TTL != DefaultMulticastTTL {
		t.Errorf("default TTL = %d, want %d", m.cfg.TTL, DefaultMulticastTTL)
	}
	if err := m.Send(context.Background(), []byte{0x06}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send() on closed transport error = %v, want ErrNotOpen", err)
	}
}

func TestMulticastEchoFilter(t *testing.T) {
	self := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: DefaultPort}

	off := NewMulticast(MulticastConfig{})
	if off.filter(self) != nil {
		t.Error("filter should be nil when loopback is disabled")
	}

	on := NewMulticast(MulticastConfig{Loopback: true})
	accept := on.filter(self)
	if accept(self) {
		t.Error("own echo accepted")
	}
	if !accept(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 6), Port: DefaultPort}) {
		t.Error("peer datagram dropped")
	}
}

// ─── Local address ─────────────────────────────────────────────────

func TestLocalIPv4UnknownInterface(t *testing.T) {
	if _, err := LocalIPv4("no-such-interface0"); !errors.Is(err, ErrNoLocalAddress) {
		t.Errorf("LocalIPv4() error = %v, want ErrNoLocalAddress", err)
	}
}

func TestRoutedIPv4Loopback(t *testing.T) {
	ip, err := RoutedIPv4(loopback)
	if err != nil {
		t.Skipf("no route to loopback: %v", err)
	}
	if !ip.IsLoopback() {
		t.Errorf("RoutedIPv4(127.0.0.1) = %v, want a loopback address", ip)
	}
}

// ─── Discovery ─────────────────────────────────────────────────────

func TestDiscover(t *testing.T) {
	peer := listenPeer(t)
	remote := peer.LocalAddr().(*net.UDPAddr)

	go func() {
		buf := make([]byte, maxDatagram)
		_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, from, err := peer.ReadFromUDP(buf)
		if err != nil {
			return
		}
		f, err := frame.Unmarshal(buf[:n])
		if err != nil || f.ServiceType() != frame.ServiceSearchRequest {
			return
		}
		resp := frame.New(&frame.SearchResponse{
			Control: frame.NewHPAI(nil),
			Device: &frame.DeviceInfo{
				Medium:       0x02,
				Address:      0x1101,
				FriendlyName: "test gateway",
				MAC:          net.HardwareAddr{0, 1, 2, 3, 4, 5},
			},
			Families: []frame.ServiceFamily{
				{ID: frame.FamilyCore, Version: 1},
				{ID: frame.FamilyTunneling, Version: 1},
			},
		})
		b, err := frame.Marshal(resp)
		if err != nil {
			return
		}
		// Answer twice; duplicates must merge.
		_, _ = peer.WriteToUDP(b, from)
		_, _ = peer.WriteToUDP(b, from)
	}()

	gws, err := Discover(context.Background(), DiscoverConfig{
		Target:  remote,
		LocalIP: loopback,
		Timeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if len(gws) != 1 {
		t.Fatalf("Discover() found %d gateways, want 1", len(gws))
	}
	gw := gws[0]
	if gw.Name != "test gateway" {
		t.Errorf("Name = %q, want test gateway", gw.Name)
	}
	if gw.Address.String() != "1.1.1" {
		t.Errorf("Address = %s, want 1.1.1", gw.Address)
	}
	if !gw.Tunneling || gw.Routing {
		t.Errorf("families tunneling=%v routing=%v, want true/false", gw.Tunneling, gw.Routing)
	}
	if !gw.Control.IP.Equal(loopback) || gw.Control.Port != remote.Port {
		t.Errorf("Control = %v, want the responding endpoint %v", gw.Control, remote)
	}
}
