package connection

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/transport"
)

// ─── Test gateways ─────────────────────────────────────────────────

// tunnelGateway answers like a tunneling server on channel 1: it accepts
// the connection, acknowledges and confirms every request.
func tunnelGateway(remote *net.UDPAddr) func(*frame.Frame) []*frame.Frame {
	var mu sync.Mutex
	var seq uint8
	return func(f *frame.Frame) []*frame.Frame {
		switch b := f.Body.(type) {
		case *frame.ConnectRequest:
			return []*frame.Frame{frame.New(&frame.ConnectResponse{
				State:        frame.ConnState{ChannelID: 1, Status: frame.StatusOK},
				DataEndpoint: frame.NewHPAI(remote),
				CRD:          &frame.CRI{ConnectionType: frame.ConnectionTunnel, Layer: 0x11, Reserved: 0x05},
			})}
		case *frame.ConnectionStateRequest:
			return []*frame.Frame{frame.New(&frame.ConnectionStateResponse{State: frame.ConnState{ChannelID: 1}})}
		case *frame.TunnelingRequest:
			con := *b.CEMI
			con.MessageCode = frame.LDataCon
			mu.Lock()
			s := seq
			seq++
			mu.Unlock()
			return []*frame.Frame{
				frame.NewTunnelingAck(1, b.State.Sequence, frame.StatusOK),
				frame.NewTunnelingRequest(1, s, &con),
			}
		case *frame.DisconnectRequest:
			return []*frame.Frame{frame.NewDisconnectResponse(1, frame.StatusOK)}
		}
		return nil
	}
}

// routedResponder answers every GroupValue_Read with the value true.
func routedResponder(f *frame.Frame) []*frame.Frame {
	c := f.CEMI()
	if c == nil || c.APDU.APCI != frame.GroupValueRead {
		return nil
	}
	resp := frame.NewGroupCEMI(frame.LDataInd, address.NewPhysical(1, 1, 9), c.GroupDestination(),
		frame.NewAPDU(frame.GroupValueResponse, []byte{1}, 1))
	return []*frame.Frame{frame.NewRoutingIndication(resp)}
}

func newTestClient(t *testing.T, mutate func(*Options)) (*Client, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	opts := Options{
		Mode:      "routing",
		Transport: tr,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, tr
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ─── Options ───────────────────────────────────────────────────────

func TestParseMode(t *testing.T) {
	unicast := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10)}
	multicast := &net.UDPAddr{IP: transport.DefaultMulticastGroup}

	tests := []struct {
		in      string
		gateway *net.UDPAddr
		want    Mode
		wantErr bool
	}{
		{in: "tunneling", want: ModeTunneling},
		{in: "Tunnel", want: ModeTunneling},
		{in: "routing", want: ModeRouting},
		{in: "multicast", want: ModeRouting},
		{in: "", want: ModeRouting},
		{in: "auto", gateway: unicast, want: ModeTunneling},
		{in: "auto", gateway: multicast, want: ModeRouting},
		{in: "serial", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in, tt.gateway)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseMode() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseMode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	t.Run("tunneling requires gateway", func(t *testing.T) {
		o := Options{Mode: "tunneling"}
		if err := o.withDefaults(); err == nil {
			t.Fatal("withDefaults() expected error")
		}
	})

	t.Run("routing defaults to the KNX group", func(t *testing.T) {
		o := Options{}
		if err := o.withDefaults(); err != nil {
			t.Fatalf("withDefaults() unexpected error: %v", err)
		}
		if o.Mode != "routing" {
			t.Errorf("Mode = %q, want routing", o.Mode)
		}
		if got := o.Gateway.String(); got != "224.0.23.12:3671" {
			t.Errorf("Gateway = %s, want 224.0.23.12:3671", got)
		}
		if o.Codec == nil || o.Logger == nil || o.Clock == nil {
			t.Error("Codec, Logger and Clock should be defaulted")
		}
	})

	t.Run("gateway port defaults to 3671", func(t *testing.T) {
		gw := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2)}
		o := Options{Gateway: gw}
		if err := o.withDefaults(); err != nil {
			t.Fatalf("withDefaults() unexpected error: %v", err)
		}
		if o.Mode != "tunneling" || o.Gateway.Port != 3671 {
			t.Errorf("Mode, port = %q, %d, want tunneling, 3671", o.Mode, o.Gateway.Port)
		}
		if gw.Port != 0 {
			t.Error("caller's address was modified")
		}
	})
}

// ─── Client ────────────────────────────────────────────────────────

func TestClientTunnelingLifecycle(t *testing.T) {
	c, tr := newTestClient(t, func(o *Options) {
		o.Mode = "tunneling"
		o.Gateway = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10).To4(), Port: 3671}
		ft := o.Transport.(*fakeTransport) //nolint:forcetypeassert // set by newTestClient
		ft.respond = tunnelGateway(ft.remote)
	})
	ctx := testContext(t)

	confirmed := make(chan Event, 1)
	c.On(EventConfirmed, func(ev Event) { confirmed <- ev })

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if s := c.Stats(); s.Mode != "tunneling" || s.State != StateIdle {
		t.Errorf("Stats() mode, state = %s, %s", s.Mode, s.State)
	}

	if err := c.Write(ctx, "1/0/1", true, "1.001"); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}
	select {
	case ev := <-confirmed:
		if ev.Destination != "1/0/1" {
			t.Errorf("confirmed Destination = %q, want 1/0/1", ev.Destination)
		}
	case <-ctx.Done():
		t.Fatal("no confirmation")
	}

	sent := tr.last(t, frame.ServiceTunnelingRequest).CEMI()
	if sent.Source != assignedAddress {
		t.Errorf("Source = %s, want %s", sent.Source, assignedAddress)
	}
	if v, err := (Event{Data: sent.APDU.Data}).Value("1.001"); err != nil || v != true {
		t.Errorf("payload = %v (%v), want true", v, err)
	}

	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() unexpected error: %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if n := tr.count(frame.ServiceDisconnectRequest); n != 1 {
		t.Errorf("DISCONNECT_REQUESTs = %d, want 1", n)
	}
}

func TestClientRead(t *testing.T) {
	c, _ := newTestClient(t, func(o *Options) {
		o.Transport.(*fakeTransport).respond = routedResponder //nolint:forcetypeassert // set by newTestClient
	})
	ctx := testContext(t)

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	ev, err := c.Read(ctx, "2/1/0")
	if err != nil {
		t.Fatalf("Read() unexpected error: %v", err)
	}
	if ev.Destination != "2/1/0" || ev.APCI != frame.GroupValueResponse {
		t.Errorf("Read() = %s", ev)
	}
	if v, err := ev.Value("1.001"); err != nil || v != true {
		t.Errorf("Value() = %v (%v), want true", v, err)
	}
}

func TestClientRequestRead(t *testing.T) {
	c, tr := newTestClient(t, func(o *Options) {
		o.Transport.(*fakeTransport).respond = routedResponder //nolint:forcetypeassert // set by newTestClient
	})
	ctx := testContext(t)

	got := make(chan Event, 1)
	c.On(EventName(frame.GroupValueResponse, "2/1/0"), func(ev Event) { got <- ev })

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	if err := c.RequestRead(ctx, "2/1/0"); err != nil {
		t.Fatalf("RequestRead() unexpected error: %v", err)
	}
	if sent := tr.last(t, frame.ServiceRoutingIndication).CEMI(); sent.APDU.APCI != frame.GroupValueRead {
		t.Errorf("sent APCI = %s, want GroupValue_Read", sent.APDU.APCI)
	}

	select {
	case ev := <-got:
		if ev.Source != address.NewPhysical(1, 1, 9) {
			t.Errorf("response source = %s", ev.Source)
		}
	case <-ctx.Done():
		t.Fatal("no response event")
	}

	if err := c.RequestRead(ctx, "not-an-address"); err == nil {
		t.Error("RequestRead() with bad address expected error")
	}
}

func TestClientReadTimeout(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestClient(t, func(o *Options) { o.Clock = clock })
	ctx := testContext(t)

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := c.Read(ctx, "2/1/0")
		errc <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for clock.pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Read() armed no timer")
		}
		time.Sleep(time.Millisecond)
	}
	clock.Advance(readResponseTimeout)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrReadTimeout) {
			t.Errorf("Read() error = %v, want ErrReadTimeout", err)
		}
	case <-ctx.Done():
		t.Fatal("Read() did not time out")
	}
}

func TestClientWriteErrors(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := testContext(t)

	tests := []struct {
		name    string
		ga      string
		value   any
		dpt     string
		wantErr error
	}{
		{name: "not connected", ga: "1/0/1", value: true, dpt: "1.001", wantErr: ErrNotConnected},
		{name: "bad group address", ga: "1/2/3/4", value: true, dpt: "1.001"},
		{name: "bad value", ga: "1/0/1", value: "warm", dpt: "9.001"},
		{name: "unknown dpt", ga: "1/0/1", value: 1, dpt: "nonsense"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Write(ctx, tt.ga, tt.value, tt.dpt)
			if err == nil {
				t.Fatal("Write() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Write() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientRoutingWriteRaw(t *testing.T) {
	c, tr := newTestClient(t, nil)
	ctx := testContext(t)

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	if err := c.WriteRaw(ctx, "3/0/7", []byte{0x0C, 0x1A}, 16); err != nil {
		t.Fatalf("WriteRaw() unexpected error: %v", err)
	}
	if err := c.Respond(ctx, "3/0/8", 42.5, "9.001"); err != nil {
		t.Fatalf("Respond() unexpected error: %v", err)
	}

	sent := tr.frames(frame.ServiceRoutingIndication)
	if len(sent) != 2 {
		t.Fatalf("ROUTING_INDICATIONs = %d, want 2", len(sent))
	}
	if c0 := sent[0].CEMI(); c0.DestinationString() != "3/0/7" || c0.APDU.APCI != frame.GroupValueWrite {
		t.Errorf("first telegram = %s %s", c0.APDU.APCI, c0.DestinationString())
	}
	if c1 := sent[1].CEMI(); c1.APDU.APCI != frame.GroupValueResponse {
		t.Errorf("second telegram APCI = %s, want GroupValue_Response", c1.APDU.APCI)
	}
}

func TestClientClose(t *testing.T) {
	c, tr := newTestClient(t, nil)
	ctx := testContext(t)

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() unexpected error: %v", err)
	}
	if tr.isOpen() {
		t.Error("transport still open after Close")
	}
	if err := c.Write(ctx, "1/0/1", true, "1.001"); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Connect(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
}
