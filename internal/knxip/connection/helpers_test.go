package connection

import (
	"context"
	"errors"
	"net"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/transport"
)

// ─── Fake clock ────────────────────────────────────────────────────

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	seq   int
	fn    func()
	done  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.seq++
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	keep := c.timers[:0]
	for _, t := range c.timers {
		if t.done {
			continue
		}
		if !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
			continue
		}
		keep = append(keep, t)
	}
	c.timers = keep
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	for _, t := range due {
		t.fn()
	}
}

// pending returns the number of armed timers.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// ─── Fake transport ────────────────────────────────────────────────

var errSendFailed = errors.New("send failed")

// fakeTransport records decoded outbound frames. When respond is set it
// is called for every sent frame and its replies are delivered back.
type fakeTransport struct {
	mu       sync.Mutex
	handler  transport.Handler
	local    *net.UDPAddr
	remote   *net.UDPAddr
	sent     []*frame.Frame
	failNext int
	opens    int
	closes   int
	open     bool
	openErr  error

	respond func(f *frame.Frame) []*frame.Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		local:  &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50).To4(), Port: 50000},
		remote: &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10).To4(), Port: 3671},
	}
}

func (f *fakeTransport) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	if !f.open {
		f.opens++
		f.open = true
	}
	return nil
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return transport.ErrNotOpen
	}
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return errSendFailed
	}
	fr, err := frame.Unmarshal(data)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, fr)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		for _, reply := range respond(fr) {
			f.deliver(reply)
		}
	}
	return nil
}

func (f *fakeTransport) LocalAddr() *net.UDPAddr { return f.local }

func (f *fakeTransport) SetHandler(h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.closes++
		f.open = false
	}
	return nil
}

func (f *fakeTransport) deliver(fr *frame.Frame) {
	data, err := frame.Marshal(fr)
	if err != nil {
		panic(err)
	}
	f.deliverRaw(data)
}

func (f *fakeTransport) deliverRaw(data []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(data, f.remote)
	}
}

func (f *fakeTransport) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) frames(svc frame.ServiceType) []*frame.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*frame.Frame
	for _, fr := range f.sent {
		if fr.ServiceType() == svc {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeTransport) count(svc frame.ServiceType) int {
	return len(f.frames(svc))
}

func (f *fakeTransport) last(t *testing.T, svc frame.ServiceType) *frame.Frame {
	t.Helper()
	fs := f.frames(svc)
	if len(fs) == 0 {
		t.Fatalf("no %s sent", svc)
	}
	return fs[len(fs)-1]
}

// ─── Event recorder ────────────────────────────────────────────────

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) named(name string) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count(name string) int { return len(r.named(name)) }

// telegrams returns the names of recorded non-lifecycle events.
func (r *recorder) telegrams() []string {
	var out []string
	for _, ev := range r.all() {
		if !slices.Contains(lifecycleEvents, ev.Name) {
			out = append(out, ev.Name)
		}
	}
	return out
}

// ─── Harness ───────────────────────────────────────────────────────

var lifecycleEvents = []string{
	EventConnected, EventDisconnected, EventError, EventConfirmed, EventTunnelRequestFailed,
}

// harness runs a machine on the test goroutine against a fake transport
// and a fake clock.
type harness struct {
	t       *testing.T
	m       *Machine
	clock   *fakeClock
	tr      *fakeTransport
	emitter *Emitter
	events  *recorder
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	clock := newFakeClock()
	tr := newFakeTransport()
	opts := Options{
		Mode:      "tunneling",
		Gateway:   &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10).To4(), Port: 3671},
		Clock:     clock,
		Transport: tr,
	}
	if mutate != nil {
		mutate(&opts)
	}
	if err := opts.withDefaults(); err != nil {
		t.Fatalf("withDefaults() unexpected error: %v", err)
	}

	emitter := NewEmitter(0, nil)
	t.Cleanup(emitter.Close)
	m := newMachine(context.Background(), opts, emitter)
	m.writeSync = true

	h := &harness{t: t, m: m, clock: clock, tr: tr, emitter: emitter, events: &recorder{}}
	h.record(lifecycleEvents...)
	return h
}

// record captures events with the given names.
func (h *harness) record(names ...string) {
	for _, n := range names {
		h.emitter.On(n, h.events.add)
	}
}

// flush waits until every event emitted so far has been delivered.
func (h *harness) flush() {
	h.t.Helper()
	done := make(chan struct{})
	h.emitter.Once("test_flush", func(Event) { close(done) })
	h.emitter.Emit(Event{Name: "test_flush"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("events not delivered")
	}
}

func (h *harness) connect() {
	h.m.post(connectSignal{})
	h.m.pump()
}

func (h *harness) disconnect() {
	h.m.post(disconnectSignal{})
	h.m.pump()
}

func (h *harness) inject(body frame.Body) {
	h.tr.deliver(frame.New(body))
	h.m.pump()
}

func (h *harness) injectRaw(data []byte) {
	h.tr.deliverRaw(data)
	h.m.pump()
}

// elapse advances the clock in 100 ms steps, processing signals after
// each step.
func (h *harness) elapse(d time.Duration) {
	const step = 100 * time.Millisecond
	for done := time.Duration(0); done < d; done += step {
		h.clock.Advance(step)
		h.m.pump()
	}
}

var assignedAddress = address.NewPhysical(1, 1, 5)

// establish completes the tunnel handshake on channel.
func (h *harness) establish(channel uint8) {
	h.t.Helper()
	h.connect()
	h.inject(&frame.ConnectResponse{
		State:        frame.ConnState{ChannelID: channel, Status: frame.StatusOK},
		DataEndpoint: frame.NewHPAI(h.tr.remote),
		CRD:          &frame.CRI{ConnectionType: frame.ConnectionTunnel, Layer: 0x11, Reserved: 0x05},
	})
	h.inject(&frame.ConnectionStateResponse{State: frame.ConnState{ChannelID: channel, Status: frame.StatusOK}})
	h.expectState(StateIdle)
}

func (h *harness) send(ga string) *sendRequest {
	return h.sendContext(context.Background(), ga)
}

func (h *harness) sendContext(ctx context.Context, ga string) *sendRequest {
	cemi := frame.NewGroupWrite(frame.LDataReq, 0, address.MustParseGroup(ga), []byte{1}, 1)
	req := newSendRequest(ctx, cemi)
	h.m.post(sendSignal{req: req})
	h.m.pump()
	return req
}

func (h *harness) ack(channel, seq uint8, status frame.Status) {
	h.inject(&frame.TunnelingAck{State: frame.TunnState{ChannelID: channel, Sequence: seq, Status: status}})
}

func (h *harness) expectState(want State) {
	h.t.Helper()
	if got := h.m.State(); got != want {
		h.t.Fatalf("State() = %s, want %s", got, want)
	}
}

// result returns the outcome of a completed request.
func result(t *testing.T, req *sendRequest) error {
	t.Helper()
	select {
	case err := <-req.done:
		return err
	default:
		t.Fatal("request not completed")
		return nil
	}
}

func pending(t *testing.T, req *sendRequest) {
	t.Helper()
	select {
	case err := <-req.done:
		t.Fatalf("request completed early: %v", err)
	default:
	}
}

// indication builds an inbound group telegram.
func indication(code frame.MessageCode, ga string, data []byte) *frame.CEMI {
	return frame.NewGroupWrite(code, address.NewPhysical(1, 1, 20), address.MustParseGroup(ga), data, 0)
}

func sequenceOf(t *testing.T, f *frame.Frame) uint8 {
	t.Helper()
	b, ok := f.Body.(*frame.TunnelingRequest)
	if !ok {
		t.Fatalf("Body = %T, want *TunnelingRequest", f.Body)
	}
	return b.State.Sequence
}
