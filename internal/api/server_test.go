package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/bridges/knx"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

// ─── Mocks ──────────────────────────────────────────────────────────

type writeCall struct {
	GA        string
	Data      []byte
	BitLength int
}

// mockLink mimics connection.Client: it parses and encodes like the real
// client, then records the call.
type mockLink struct {
	mu        sync.Mutex
	connected bool
	writeErr  error
	writes    []writeCall
	readEvent connection.Event
	readErr   error
	reads     []string
	requested []string
	handlers  map[connection.Subscription]linkHandler
	nextSub   connection.Subscription
}

type linkHandler struct {
	name string
	fn   connection.Handler
}

func newMockLink() *mockLink {
	return &mockLink{connected: true, handlers: make(map[connection.Subscription]linkHandler)}
}

func (l *mockLink) Write(_ context.Context, ga string, value any, id string) error {
	if _, err := address.ParseGroup(ga); err != nil {
		return err
	}
	data, bits, err := dpt.Encode(value, id)
	if err != nil {
		return err
	}
	return l.record(ga, data, bits)
}

func (l *mockLink) WriteRaw(_ context.Context, ga string, data []byte, bitLength int) error {
	if _, err := address.ParseGroup(ga); err != nil {
		return err
	}
	return l.record(ga, data, bitLength)
}

func (l *mockLink) record(ga string, data []byte, bits int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.writes = append(l.writes, writeCall{GA: ga, Data: data, BitLength: bits})
	return nil
}

func (l *mockLink) Read(_ context.Context, ga string) (connection.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads = append(l.reads, ga)
	if l.readErr != nil {
		return connection.Event{}, l.readErr
	}
	return l.readEvent, nil
}

func (l *mockLink) RequestRead(_ context.Context, ga string) error {
	if _, err := address.ParseGroup(ga); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.requested = append(l.requested, ga)
	return nil
}

func (l *mockLink) getRequested() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.requested...)
}

func (l *mockLink) On(name string, h connection.Handler) connection.Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSub++
	l.handlers[l.nextSub] = linkHandler{name: name, fn: h}
	return l.nextSub
}

func (l *mockLink) Off(id connection.Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, id)
}

func (l *mockLink) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *mockLink) Stats() connection.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := connection.StateUninitialized
	if l.connected {
		state = connection.StateIdle
	}
	return connection.Stats{State: state, Mode: "tunneling", FramesRx: 12, FramesTx: 4}
}

// emit delivers ev synchronously to every handler registered for its name.
func (l *mockLink) emit(ev connection.Event) {
	l.mu.Lock()
	var fns []connection.Handler
	for _, h := range l.handlers {
		if h.name == ev.Name {
			fns = append(fns, h.fn)
		}
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (l *mockLink) handlerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handlers)
}

func (l *mockLink) getWrites() []writeCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]writeCall(nil), l.writes...)
}

type mockBridge struct {
	status knx.Status
	states map[string]map[string]any
	panics bool
}

func (b *mockBridge) Status() knx.Status {
	if b.panics {
		panic("status exploded")
	}
	return b.status
}

func (b *mockBridge) DeviceState(id string) (map[string]any, bool) {
	s, ok := b.states[id]
	return s, ok
}

type mockInventory struct {
	groups  []knx.GroupRecord
	devices []knx.DeviceRecord
	err     error
}

func (m *mockInventory) GroupAddresses(context.Context) ([]knx.GroupRecord, error) {
	return m.groups, m.err
}

func (m *mockInventory) Devices(context.Context) ([]knx.DeviceRecord, error) {
	return m.devices, m.err
}

// ─── Helpers ────────────────────────────────────────────────────────

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testServer(t *testing.T, mutate func(*Deps)) (*Server, *mockLink) {
	t.Helper()

	link := newMockLink()
	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:      config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:  testLogger(),
		Link:    link,
		Version: "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, link
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return body
}

// ─── Construction ───────────────────────────────────────────────────

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{Link: newMockLink()}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without link should fail")
	}
}

func TestNewWebSocketDefaults(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.WS = config.WebSocketConfig{} })
	if srv.wsCfg.PingInterval != defaultWSPingInterval || srv.wsCfg.PongTimeout != defaultWSPongTimeout {
		t.Errorf("wsCfg = %+v, want defaults", srv.wsCfg)
	}
	if srv.wsCfg.MaxMessageSize != defaultWSMaxMessageSize {
		t.Errorf("MaxMessageSize = %d, want %d", srv.wsCfg.MaxMessageSize, defaultWSMaxMessageSize)
	}
}

func TestHealthCheck(t *testing.T) {
	srv, _ := testServer(t, nil)
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context should fail")
	}
}

func TestStartClose(t *testing.T) {
	srv, link := testServer(t, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start: %v", err)
	}
	if n := link.handlerCount(); n != 3 {
		t.Errorf("link handlers = %d, want 3", n)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if n := link.handlerCount(); n != 0 {
		t.Errorf("link handlers after Close = %d, want 0", n)
	}
}

func TestCloseWithoutStart(t *testing.T) {
	srv, _ := testServer(t, nil)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

// ─── System endpoints ───────────────────────────────────────────────

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		want      string
	}{
		{"link up", true, "ok"},
		{"link down", false, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, link := testServer(t, nil)
			link.connected = tt.connected

			w := do(t, srv, http.MethodGet, "/api/v1/health", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			body := decodeBody(t, w)
			if body["status"] != tt.want {
				t.Errorf("status = %v, want %q", body["status"], tt.want)
			}
			if body["version"] != "test" {
				t.Errorf("version = %v", body["version"])
			}
			if body["link_connected"] != tt.connected {
				t.Errorf("link_connected = %v", body["link_connected"])
			}
		})
	}
}

func TestStatus(t *testing.T) {
	t.Run("link only", func(t *testing.T) {
		srv, _ := testServer(t, nil)
		w := do(t, srv, http.MethodGet, "/api/v1/status", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		body := decodeBody(t, w)
		if _, ok := body["bridge"]; ok {
			t.Error("bridge section present without a bridge")
		}
		link, ok := body["link"].(map[string]any)
		if !ok {
			t.Fatalf("link = %v", body["link"])
		}
		if link["mode"] != "tunneling" || link["frames_rx"] != float64(12) {
			t.Errorf("link = %v", link)
		}
		if link["state"] != string(connection.StateIdle) {
			t.Errorf("link state = %v", link["state"])
		}
	})

	t.Run("with bridge", func(t *testing.T) {
		bridge := &mockBridge{status: knx.Status{BridgeID: "knx-bridge-01", Devices: 5, CommandsReceived: 3}}
		srv, _ := testServer(t, func(d *Deps) { d.Bridge = bridge })
		body := decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/status", ""))
		b, ok := body["bridge"].(map[string]any)
		if !ok {
			t.Fatalf("bridge = %v", body["bridge"])
		}
		if b["bridge_id"] != "knx-bridge-01" || b["devices"] != float64(5) || b["commands_received"] != float64(3) {
			t.Errorf("bridge = %v", b)
		}
	})
}

func TestInventory(t *testing.T) {
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inv := &mockInventory{
		groups: []knx.GroupRecord{
			{Address: "1/2/3", LastSeen: seen, MessageCount: 4, LastValue: []byte{1}, LastSource: "1.1.5"},
			{Address: "3/0/1", LastSeen: seen, MessageCount: 1, HasReadResponse: true},
		},
		devices: []knx.DeviceRecord{{Address: "1.1.5", LastSeen: seen, MessageCount: 4}},
	}

	tests := []struct {
		name       string
		inventory  InventoryReader
		wantStatus int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"listing", inv, http.StatusOK},
		{"store error", &mockInventory{err: errors.New("disk I/O error")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, func(d *Deps) { d.Inventory = tt.inventory })
			w := do(t, srv, http.MethodGet, "/api/v1/inventory", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := decodeBody(t, w)
			count := body["count"].(map[string]any)
			if count["group_addresses"] != float64(2) || count["devices"] != float64(1) {
				t.Errorf("count = %v", count)
			}
			groups := body["group_addresses"].([]any)
			first := groups[0].(map[string]any)
			if first["address"] != "1/2/3" || first["last_source"] != "1.1.5" {
				t.Errorf("first group = %v", first)
			}
		})
	}
}

func TestDeviceState(t *testing.T) {
	bridge := &mockBridge{states: map[string]map[string]any{
		"light-hall": {"on": true},
	}}

	tests := []struct {
		name       string
		bridge     BridgeView
		path       string
		wantStatus int
	}{
		{"bridge disabled", nil, "/api/v1/devices/light-hall/state", http.StatusServiceUnavailable},
		{"known device", bridge, "/api/v1/devices/light-hall/state", http.StatusOK},
		{"unknown device", bridge, "/api/v1/devices/nope/state", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, func(d *Deps) { d.Bridge = tt.bridge })
			w := do(t, srv, http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				body := decodeBody(t, w)
				state := body["state"].(map[string]any)
				if body["device_id"] != "light-hall" || state["on"] != true {
					t.Errorf("body = %v", body)
				}
			}
		})
	}
}

// ─── Group endpoints ────────────────────────────────────────────────

func TestGroupWrite(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		writeErr   error
		wantStatus int
		wantCode   string
		want       *writeCall
	}{
		{
			name:       "bool value",
			path:       "/api/v1/groups/1%2F2%2F3/write",
			body:       `{"value": true, "dpt": "1.001"}`,
			wantStatus: http.StatusOK,
			want:       &writeCall{GA: "1/2/3", Data: []byte{0x01}, BitLength: 1},
		},
		{
			name:       "scaling value",
			path:       "/api/v1/groups/1%2F2%2F4/write",
			body:       `{"value": 100, "dpt": "5.001"}`,
			wantStatus: http.StatusOK,
			want:       &writeCall{GA: "1/2/4", Data: []byte{0xFF}, BitLength: 8},
		},
		{
			name:       "two-level address",
			path:       "/api/v1/groups/1%2F234/write",
			body:       `{"value": false, "dpt": "1.001"}`,
			wantStatus: http.StatusOK,
			want:       &writeCall{GA: "1/0/234", Data: []byte{0x00}, BitLength: 1},
		},
		{
			name:       "raw payload",
			path:       "/api/v1/groups/0%2F0%2F7/write",
			body:       `{"raw": "0c1a"}`,
			wantStatus: http.StatusOK,
			want:       &writeCall{GA: "0/0/7", Data: []byte{0x0C, 0x1A}, BitLength: 0},
		},
		{
			name:       "invalid group address",
			path:       "/api/v1/groups/32%2F0%2F0/write",
			body:       `{"value": true, "dpt": "1.001"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "invalid JSON",
			path:       "/api/v1/groups/1%2F2%2F3/write",
			body:       `{"value":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "missing dpt",
			path:       "/api/v1/groups/1%2F2%2F3/write",
			body:       `{"value": true}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
		{
			name:       "bad hex",
			path:       "/api/v1/groups/1%2F2%2F3/write",
			body:       `{"raw": "zz"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
		{
			name:       "unsupported dpt",
			path:       "/api/v1/groups/1%2F2%2F3/write",
			body:       `{"value": 1, "dpt": "99.001"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
		{
			name:       "non-numeric value",
			path:       "/api/v1/groups/1%2F2%2F3/write",
			body:       `{"value": "bright", "dpt": "5.001"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
		{
			name:       "link down",
			path:       "/api/v1/groups/1%2F2%2F3/write",
			body:       `{"value": true, "dpt": "1.001"}`,
			writeErr:   connection.ErrNotConnected,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   ErrCodeUnavailable,
		},
		{
			name:       "send failure",
			path:       "/api/v1/groups/1%2F2%2F3/write",
			body:       `{"value": true, "dpt": "1.001"}`,
			writeErr:   fmt.Errorf("sending datagram: %w", errors.New("network unreachable")),
			wantStatus: http.StatusBadGateway,
			wantCode:   ErrCodeLink,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, link := testServer(t, nil)
			link.writeErr = tt.writeErr

			w := do(t, srv, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}

			writes := link.getWrites()
			if tt.want == nil {
				if len(writes) != 0 {
					t.Errorf("writes = %v, want none", writes)
				}
				body := decodeBody(t, w)
				if body["code"] != tt.wantCode {
					t.Errorf("code = %v, want %q", body["code"], tt.wantCode)
				}
				return
			}

			if len(writes) != 1 {
				t.Fatalf("writes = %v, want 1", writes)
			}
			got := writes[0]
			if got.GA != tt.want.GA || string(got.Data) != string(tt.want.Data) || got.BitLength != tt.want.BitLength {
				t.Errorf("write = %+v, want %+v", got, *tt.want)
			}
			body := decodeBody(t, w)
			if body["address"] != tt.want.GA || body["status"] != "sent" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestGroupRead(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	response := connection.Event{
		Name:        connection.EventName(frame.GroupValueResponse, "1/2/3"),
		Source:      address.NewPhysical(1, 1, 5),
		Destination: "1/2/3",
		Group:       true,
		APCI:        frame.GroupValueResponse,
		Data:        []byte{0x01},
		BitLength:   1,
		Time:        at,
	}

	tests := []struct {
		name       string
		path       string
		readErr    error
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "raw",
			path:       "/api/v1/groups/1%2F2%2F3/read",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["data"] != "01" || body["source"] != "1.1.5" || body["bit_length"] != float64(1) {
					t.Errorf("body = %v", body)
				}
				if _, ok := body["value"]; ok {
					t.Error("value present without dpt")
				}
			},
		},
		{
			name:       "decoded",
			path:       "/api/v1/groups/1%2F2%2F3/read?dpt=1.001",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["value"] != true || body["dpt"] != "1.001" {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name:       "decode failure keeps raw data",
			path:       "/api/v1/groups/1%2F2%2F3/read?dpt=9.001",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if _, ok := body["decode_error"]; !ok {
					t.Errorf("body = %v, want decode_error", body)
				}
				if body["data"] != "01" {
					t.Errorf("data = %v", body["data"])
				}
			},
		},
		{
			name:       "unknown dpt",
			path:       "/api/v1/groups/1%2F2%2F3/read?dpt=nonsense",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad address",
			path:       "/api/v1/groups/1%2F8%2F0/read",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "no response",
			path:       "/api/v1/groups/1%2F2%2F3/read",
			readErr:    fmt.Errorf("%w: 1/2/3", connection.ErrReadTimeout),
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "client closed",
			path:       "/api/v1/groups/1%2F2%2F3/read",
			readErr:    connection.ErrClosed,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, link := testServer(t, nil)
			link.readEvent = response
			link.readErr = tt.readErr

			w := do(t, srv, http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.check != nil {
				tt.check(t, decodeBody(t, w))
			}
		})
	}
}

func TestGroupReadUsesParsedAddress(t *testing.T) {
	srv, link := testServer(t, nil)
	do(t, srv, http.MethodGet, "/api/v1/groups/2%2F5/read", "")

	if len(link.reads) != 1 || link.reads[0] != "2/0/5" {
		t.Errorf("reads = %v, want [2/0/5]", link.reads)
	}
}

// ─── Middleware ─────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if id := rec.Header().Get("X-Request-ID"); id != "abc-123" {
		t.Errorf("X-Request-ID = %q, want client value", id)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"open by default", nil, "http://panel.local", "http://panel.local"},
		{"listed origin", []string{"http://panel.local"}, "http://panel.local", "http://panel.local"},
		{"other origin", []string{"http://panel.local"}, "http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, func(d *Deps) { d.Config.CORS.AllowedOrigins = tt.allowed })

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Bridge = &mockBridge{panics: true} })

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != ErrCodeInternal {
		t.Errorf("code = %v", body["code"])
	}
	if id := w.Header().Get("X-Request-ID"); id == "" || body["request_id"] != id {
		t.Errorf("request_id = %v, header = %q", body["request_id"], id)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, link := testServer(t, nil)
	big := `{"raw": "` + strings.Repeat("00", maxRequestBodySize) + `"}`

	w := do(t, srv, http.MethodPost, "/api/v1/groups/1%2F2%2F3/write", big)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(link.getWrites()) != 0 {
		t.Error("oversized body reached the link")
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := testServer(t, nil)
	if w := do(t, srv, http.MethodGet, "/api/v1/scenes", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("not wired", func(t *testing.T) {
		srv, _ := testServer(t, nil)
		if w := do(t, srv, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("wired", func(t *testing.T) {
		link := newMockLink()
		m := metrics.New(link)
		srv, _ := testServer(t, func(d *Deps) {
			d.Link = link
			d.Metrics = m
		})

		router := srv.buildRouter()
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		out := w.Body.String()
		for _, want := range []string{
			`knxip_http_requests_total{method="GET",route="/api/v1/health",status="200"} 1`,
			`knxip_link_frames_received_total{mode="tunneling"} 12`,
		} {
			if !strings.Contains(out, want) {
				t.Errorf("metrics output missing %q", want)
			}
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad address", fmt.Errorf("parsing: %w", address.ErrInvalidAddress), http.StatusBadRequest, ErrCodeBadRequest},
		{"no payload", errNoPayload, http.StatusBadRequest, ErrCodeValidation},
		{"codec", dpt.ErrEncodingFailed, http.StatusBadRequest, ErrCodeValidation},
		{"closed", connection.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"no bus", errNoBus, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"read timeout", connection.ErrReadTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"other", errors.New("network unreachable"), http.StatusBadGateway, ErrCodeLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("classify() = %d %s, want %d %s", status, code, tt.status, tt.code)
			}
		})
	}
}
