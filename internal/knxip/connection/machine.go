package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/transport"
)

// State is a connection machine state.
type State string

// Machine states.
const (
	StateUninitialized             State = "uninitialized"
	StateConnecting                State = "connecting"
	StateConnected                 State = "connected"
	StateIdle                      State = "idle"
	StateRequestingConnState       State = "requestingConnState"
	StateSendingDatagram           State = "sendingDatagram"
	StateWaitingTunnelAck          State = "waitingTunnelAck"
	StateReceivingTunnelIndication State = "receivingTunnelIndication"
	StateDisconnecting             State = "disconnecting"
)

// Transition table events. Each event has exactly one destination.
const (
	evConnect     = "connect"
	evEstablished = "established"
	evIdle        = "idle"
	evHeartbeat   = "heartbeat"
	evSend        = "send"
	evAwaitAck    = "await_ack"
	evIndicate    = "indicate"
	evDisconnect  = "disconnect"
	evReset       = "reset"
)

var eventFor = map[State]string{
	StateConnecting:                evConnect,
	StateConnected:                 evEstablished,
	StateIdle:                      evIdle,
	StateRequestingConnState:       evHeartbeat,
	StateSendingDatagram:           evSend,
	StateWaitingTunnelAck:          evAwaitAck,
	StateReceivingTunnelIndication: evIndicate,
	StateDisconnecting:             evDisconnect,
	StateUninitialized:             evReset,
}

const (
	inboxSize  = 256
	outboxSize = 256
)

func states(s ...State) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}

func newStateTable(m *Machine) *fsm.FSM {
	busy := []State{
		StateConnected, StateIdle, StateRequestingConnState, StateSendingDatagram,
		StateWaitingTunnelAck, StateReceivingTunnelIndication,
	}
	return fsm.NewFSM(
		string(StateUninitialized),
		fsm.Events{
			{Name: evConnect, Src: states(append([]State{StateUninitialized, StateDisconnecting}, busy...)...), Dst: string(StateConnecting)},
			{Name: evEstablished, Src: states(StateConnecting), Dst: string(StateConnected)},
			{Name: evIdle, Src: states(StateConnected, StateRequestingConnState, StateSendingDatagram, StateWaitingTunnelAck, StateReceivingTunnelIndication), Dst: string(StateIdle)},
			{Name: evHeartbeat, Src: states(StateIdle), Dst: string(StateRequestingConnState)},
			{Name: evSend, Src: states(StateIdle), Dst: string(StateSendingDatagram)},
			{Name: evAwaitAck, Src: states(StateSendingDatagram), Dst: string(StateWaitingTunnelAck)},
			{Name: evIndicate, Src: states(StateIdle), Dst: string(StateReceivingTunnelIndication)},
			{Name: evDisconnect, Src: states(append([]State{StateConnecting}, busy...)...), Dst: string(StateDisconnecting)},
			{Name: evReset, Src: states(append([]State{StateConnecting, StateDisconnecting}, busy...)...), Dst: string(StateUninitialized)},
		},
		fsm.Callbacks{
			"leave_state": func(_ context.Context, e *fsm.Event) { m.leaveState(State(e.Src)) },
			"enter_state": func(_ context.Context, e *fsm.Event) { m.enterState(State(e.Dst)) },
		},
	)
}

// ─── Signals ───────────────────────────────────────────────────────

// Timers, the transport and client calls talk to the machine only by
// posting signals to its inbox.
type signal any

type inboundSignal struct {
	frame *frame.Frame
	from  *net.UDPAddr
}

type sendSignal struct{ req *sendRequest }

type sendDoneSignal struct {
	req *sendRequest
	err error
}

// timerSignal runs fire if the state that armed it is still current.
type timerSignal struct {
	gen  uint64
	fire func()
}

type throttleSignal struct{}

type connectSignal struct{}

type disconnectSignal struct{}

type waitSignal struct {
	ctx    context.Context
	states []State
	ch     chan State
}

// abandoned reports whether the caller stopped waiting.
func (w waitSignal) abandoned() bool {
	return w.ctx != nil && w.ctx.Err() != nil
}

// sendRequest is one outbound telegram.
type sendRequest struct {
	ctx   context.Context
	cemi  *frame.CEMI
	frame *frame.Frame
	done  chan error
}

func newSendRequest(ctx context.Context, c *frame.CEMI) *sendRequest {
	return &sendRequest{ctx: ctx, cemi: c, done: make(chan error, 1)}
}

// complete reports the outcome once; later calls are ignored.
func (r *sendRequest) complete(err error) {
	select {
	case r.done <- err:
	default:
	}
}

func (r *sendRequest) expired() bool {
	return r.ctx != nil && r.ctx.Err() != nil
}

type outgoing struct {
	data []byte
	req  *sendRequest
}

// ─── Machine ───────────────────────────────────────────────────────

// Machine drives one KNXnet/IP connection.
//
// All fields below the inbox are owned by the machine goroutine. Timers
// armed by a state are cancelled when the state is left; signals from
// cancelled timers are recognised by their generation and ignored.
type Machine struct {
	opts    Options
	log     Logger
	clock   Clock
	emitter *Emitter
	stats   counters

	ctx     context.Context
	inbox   chan signal
	outbox  chan outgoing
	stopped chan struct{}

	state    atomic.Value // State
	modeKind atomic.Int32

	fsm  *fsm.FSM
	tr   atomic.Pointer[transportRef] // swapped on fallback, read by the writer
	mode mode
	sess *Session

	newRoutingTransport func() transport.Transport

	timers        []Timer
	gen           uint64
	pending       []State
	transitioning bool
	deferred      []signal
	waiters       []waitSignal

	throttle      []*sendRequest
	throttleTimer Timer

	attempts   int
	started    bool
	cooldown   bool
	outgoing   *sendRequest
	indication *frame.Frame

	// writeSync transmits on the machine goroutine instead of the writer.
	writeSync bool
}

// newMachine builds a stopped machine. opts must have defaults applied.
func newMachine(ctx context.Context, opts Options, emitter *Emitter) *Machine {
	m := &Machine{
		opts:    opts,
		log:     opts.Logger,
		clock:   opts.Clock,
		emitter: emitter,
		ctx:     ctx,
		inbox:   make(chan signal, inboxSize),
		outbox:  make(chan outgoing, outboxSize),
		stopped: make(chan struct{}),
	}
	m.state.Store(StateUninitialized)

	kind := ModeTunneling
	if opts.Mode == "routing" {
		kind = ModeRouting
	}
	m.sess = newSession(kind)
	m.modeKind.Store(int32(kind))

	switch {
	case opts.Transport != nil:
		m.setTransport(opts.Transport)
	case kind == ModeTunneling:
		m.setTransport(opts.unicastTransport())
	default:
		m.setTransport(opts.multicastTransport())
	}
	if kind == ModeTunneling {
		m.mode = tunnelingMode{}
	} else {
		m.mode = routingMode{}
	}
	m.newRoutingTransport = opts.multicastTransport
	m.fsm = newStateTable(m)
	return m
}

// start runs the machine and writer goroutines until ctx is cancelled.
func (m *Machine) start() {
	go m.writer()
	go m.loop()
}

func (m *Machine) loop() {
	defer close(m.stopped)
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return
		case sig := <-m.inbox:
			m.process(sig)
		}
	}
}

func (m *Machine) writer() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case o := <-m.outbox:
			m.transmit(o)
		}
	}
}

// pump processes queued signals without blocking.
func (m *Machine) pump() {
	for {
		select {
		case sig := <-m.inbox:
			m.process(sig)
		default:
			return
		}
	}
}

func (m *Machine) shutdown() {
	m.cancelTimers()
	m.stopThrottle()
	m.failPending(ErrClosed)
	if m.outgoing != nil {
		m.outgoing.complete(ErrClosed)
		m.outgoing = nil
	}
	m.closeTransport()
}

// post queues a signal. It reports false once the machine has stopped.
func (m *Machine) post(sig signal) bool {
	select {
	case m.inbox <- sig:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// State returns the current state. Safe for concurrent use.
func (m *Machine) State() State {
	return m.state.Load().(State) //nolint:forcetypeassert // only State is stored
}

// Mode returns the active connection mode. Safe for concurrent use.
func (m *Machine) Mode() Mode {
	return Mode(m.modeKind.Load())
}

func (m *Machine) current() State {
	return State(m.fsm.Current())
}

// ─── Transitions ───────────────────────────────────────────────────

// transition moves to state to. Requests made while a transition is in
// progress are queued and applied in order once it completes.
func (m *Machine) transition(to State) {
	m.pending = append(m.pending, to)
	m.run(nil)
}

// dispatch handles sig, then applies queued transitions.
func (m *Machine) dispatch(sig signal) {
	m.run(func() { m.handle(sig) })
}

// run executes fn and drains queued transitions. Whenever the machine
// settles, deferred signals it can now handle are replayed one at a time.
func (m *Machine) run(fn func()) {
	if m.transitioning {
		if fn != nil {
			fn()
		}
		return
	}
	m.transitioning = true
	defer func() { m.transitioning = false }()

	if fn != nil {
		fn()
	}
	for {
		if len(m.pending) > 0 {
			next := m.pending[0]
			m.pending = m.pending[1:]
			m.apply(next)
			continue
		}
		if sig, ok := m.nextDeferred(); ok {
			m.handle(sig)
			continue
		}
		return
	}
}

// nextDeferred pops the next signal the current state can replay. Idle
// takes them in arrival order. WaitingTunnelAck takes only acknowledgements,
// which can overtake the completion of their own send.
func (m *Machine) nextDeferred() (signal, bool) {
	switch m.current() {
	case StateIdle:
		if len(m.deferred) == 0 {
			return nil, false
		}
		sig := m.deferred[0]
		m.deferred = m.deferred[1:]
		return sig, true
	case StateWaitingTunnelAck:
		for i, sig := range m.deferred {
			if in, ok := sig.(inboundSignal); ok {
				if _, ok := in.frame.Body.(*frame.TunnelingAck); ok {
					m.deferred = slices.Delete(m.deferred, i, i+1)
					return sig, true
				}
			}
		}
	}
	return nil, false
}

func (m *Machine) apply(to State) {
	from := m.current()
	if from == to {
		// Re-entry runs the exit and entry actions again.
		m.leaveState(from)
		m.enterState(to)
		return
	}
	if err := m.fsm.Event(context.Background(), eventFor[to]); err != nil {
		m.log.Error("invalid state transition", "from", string(from), "to", string(to), "error", err)
	}
}

func (m *Machine) leaveState(State) {
	m.cancelTimers()
}

func (m *Machine) enterState(to State) {
	m.state.Store(to)
	m.log.Debug("knxip state", "state", string(to))

	switch to {
	case StateUninitialized:
		m.enterUninitialized()
	case StateConnecting:
		m.sess.clearChannel()
		m.mode.connect(m)
	case StateConnected:
		m.enterConnected()
	case StateIdle:
		m.enterIdle()
	case StateRequestingConnState:
		m.enterRequestingConnState()
	case StateSendingDatagram:
		m.enterSendingDatagram()
	case StateWaitingTunnelAck:
		m.arm(tunnelAckTimeout, m.ackTimeout)
	case StateReceivingTunnelIndication:
		m.enterReceivingIndication()
	case StateDisconnecting:
		m.mode.disconnect(m)
	}
	m.notifyWaiters(to)
}

// arm schedules fire in d, scoped to the current state.
func (m *Machine) arm(d time.Duration, fire func()) {
	gen := m.gen
	t := m.clock.AfterFunc(d, func() { m.post(timerSignal{gen: gen, fire: fire}) })
	m.timers = append(m.timers, t)
}

func (m *Machine) cancelTimers() {
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
	m.gen++
}

// deferSignal queues sig for replay. Sends whose context has ended are
// completed and dropped first, so a stalled link does not hoard them.
func (m *Machine) deferSignal(sig signal) {
	m.deferred = slices.DeleteFunc(m.deferred, func(d signal) bool {
		s, ok := d.(sendSignal)
		if !ok || !s.req.expired() {
			return false
		}
		s.req.complete(s.req.ctx.Err())
		return true
	})
	m.deferred = append(m.deferred, sig)
}

func (m *Machine) notifyWaiters(s State) {
	keep := m.waiters[:0]
	for _, w := range m.waiters {
		if w.abandoned() {
			continue
		}
		if slices.Contains(w.states, s) {
			w.ch <- s
			continue
		}
		keep = append(keep, w)
	}
	m.waiters = keep
}

// ─── Entry actions ─────────────────────────────────────────────────

func (m *Machine) enterUninitialized() {
	m.closeTransport()
	m.sess.clearChannel()
	if m.outgoing != nil {
		m.outgoing.complete(ErrNotConnected)
		m.outgoing = nil
	}
	if m.cooldown {
		m.log.Warn("gateway has no free connections, cooling down", "retry_in", noConnectionsCool.String())
		m.arm(noConnectionsCool, func() {
			m.cooldown = false
			if m.started {
				m.transition(StateConnecting)
			}
		})
		return
	}
	m.failPending(ErrNotConnected)
}

func (m *Machine) enterConnected() {
	now := m.clock.Now()
	m.sess.Cycles = 0
	m.sess.Sequence = -1
	m.sess.ConnectedAt = now
	m.stats.connects.Add(1)
	m.stats.connectedAt.Store(now.UnixNano())

	m.log.Info("knxip connected",
		"mode", m.sess.Mode.String(),
		"gateway", m.opts.Gateway.String(),
		"channel", m.sess.ChannelID,
		"address", m.sourceAddress().String(),
	)
	m.emit(Event{Name: EventConnected, Time: now})
	m.transition(StateIdle)
}

func (m *Machine) enterIdle() {
	if m.mode.heartbeat() {
		m.arm(heartbeatInterval, func() { m.transition(StateRequestingConnState) })
	}
	m.armThrottle()
}

func (m *Machine) enterRequestingConnState() {
	m.sendControl(frame.NewConnectionStateRequest(m.sess.ChannelID, m.controlEndpoint()))
	m.arm(connStateTimeout, func() {
		m.fail(fmt.Errorf("%w: no CONNECTIONSTATE_RESPONSE within %s", ErrProtocolTimeout, connStateTimeout))
		m.transition(StateConnecting)
	})
}

func (m *Machine) enterSendingDatagram() {
	req := m.outgoing
	if req == nil {
		m.transition(StateIdle)
		return
	}
	req.cemi.MessageCode = m.mode.messageCode()
	if req.cemi.Source == 0 {
		req.cemi.Source = m.sourceAddress()
	}

	var seq uint8
	if m.mode.sequenced() {
		seq = m.sess.nextSequence()
	}
	req.frame = m.mode.outbound(m, req.cemi, seq)

	data, err := frame.Marshal(req.frame)
	if err != nil {
		m.onSendDone(sendDoneSignal{req: req, err: err})
		return
	}
	m.write(outgoing{data: data, req: req})
}

func (m *Machine) enterReceivingIndication() {
	f := m.indication
	m.indication = nil
	m.transition(StateIdle)
	if f != nil {
		m.fanout(f, f.CEMI())
	}
}

// ─── Connecting ────────────────────────────────────────────────────

func (m *Machine) sendConnectRequest() {
	ep := m.controlEndpoint()
	m.sendControl(frame.NewConnectRequest(ep, ep))
}

// connectTick is the 3 s connect timer.
func (m *Machine) connectTick() {
	if m.attempts < connectAttempts {
		m.attempts++
		if m.sess.HasChannel {
			m.sendControl(frame.NewConnectionStateRequest(m.sess.ChannelID, m.controlEndpoint()))
		} else {
			m.sendConnectRequest()
		}
		m.arm(connectInterval, m.connectTick)
		return
	}
	if m.opts.Gateway.IP.IsMulticast() && m.mode.kind() == ModeTunneling {
		m.fallbackToRouting()
		return
	}
	m.connectFailed(fmt.Errorf("%w: no answer from %s after %d attempts", ErrProtocolTimeout, m.opts.Gateway, connectAttempts))
}

// connectFailed ends a connect round and schedules the next one.
func (m *Machine) connectFailed(err error) {
	m.sess.Cycles++
	delay := backoffDelay(m.sess.Cycles)
	m.log.Warn("knxip connect failed", "error", err, "cycle", m.sess.Cycles, "retry_in", delay.String())
	m.fail(err)
	m.releaseChannel()
	m.arm(delay, func() { m.transition(StateConnecting) })
}

// releaseChannel tells the gateway to drop a channel assigned during a
// connect round that never completed, then forgets it.
func (m *Machine) releaseChannel() {
	if m.sess.HasChannel && m.mode.kind() == ModeTunneling {
		m.sendControl(frame.NewDisconnectRequest(m.sess.ChannelID, m.controlEndpoint()))
	}
	m.sess.clearChannel()
}

// backoffDelay is the pause before connect round cycles+1.
func backoffDelay(cycles int) time.Duration {
	return min(time.Duration(cycles)*backoffStep, maxBackoff)
}

func (m *Machine) fallbackToRouting() {
	m.log.Info("no tunneling answer from multicast gateway, switching to routing", "gateway", m.opts.Gateway.String())
	m.closeTransport()
	m.mode = routingMode{fallback: true}
	m.sess.Mode = ModeMulticastFallback
	m.modeKind.Store(int32(ModeMulticastFallback))
	m.setTransport(m.newRoutingTransport())
	m.mode.connect(m)
}

func (m *Machine) onConnectResponse(b *frame.ConnectResponse) {
	switch b.State.Status {
	case frame.StatusOK:
		if m.sess.HasChannel {
			m.log.Debug("duplicate CONNECT_RESPONSE ignored", "channel", b.State.ChannelID)
			return
		}
		m.sess.ChannelID = b.State.ChannelID
		m.sess.HasChannel = true
		if b.CRD != nil {
			m.sess.Assigned = b.CRD.IndividualAddress()
		}
		m.log.Debug("tunnel channel assigned", "channel", b.State.ChannelID, "address", m.sess.Assigned.String())
		m.sendControl(frame.NewConnectionStateRequest(m.sess.ChannelID, m.controlEndpoint()))
	case frame.StatusNoMoreConnections:
		err := fmt.Errorf("%w: %s", ErrConnectionRejected, b.State.Status)
		m.stats.errorsTotal.Add(1)
		m.cooldown = true
		m.emit(Event{Name: EventDisconnected, Err: err, Time: m.clock.Now()})
		m.transition(StateUninitialized)
	default:
		m.fail(fmt.Errorf("%w: %s", ErrConnectionRejected, b.State.Status))
	}
}

// ─── Disconnecting ─────────────────────────────────────────────────

func (m *Machine) finishDisconnect() {
	m.closeTransport()
	m.log.Info("knxip disconnected", "gateway", m.opts.Gateway.String())
	m.emit(Event{Name: EventDisconnected, Time: m.clock.Now()})
	m.transition(StateUninitialized)
}

type transportRef struct{ transport.Transport }

// transport returns the active transport. Safe for concurrent use.
func (m *Machine) transport() transport.Transport {
	return m.tr.Load().Transport
}

// setTransport installs t and routes its datagrams to the machine.
func (m *Machine) setTransport(t transport.Transport) {
	t.SetHandler(m.onDatagram)
	m.tr.Store(&transportRef{t})
}

func (m *Machine) closeTransport() {
	if err := m.transport().Close(); err != nil {
		m.log.Debug("transport close", "error", err)
	}
}

// ─── Signal handling ───────────────────────────────────────────────

// process handles a signal taken from the inbox. Fresh datagrams pass the
// receive boundary first; replayed ones do not.
func (m *Machine) process(sig signal) {
	if in, ok := sig.(inboundSignal); ok {
		if !m.receive(in) {
			return
		}
	}
	m.dispatch(sig)
}

// receive applies channel filtering, acknowledgement and duplicate
// detection. It reports whether the datagram goes on to the state logic.
func (m *Machine) receive(in inboundSignal) bool {
	f := in.frame
	now := m.clock.Now()
	m.stats.framesRx.Add(1)
	m.stats.lastActivity.Store(now.UnixNano())
	m.sess.LastActivity = now

	ch, hasChannel := f.ChannelID()
	if hasChannel && f.ServiceType() != frame.ServiceConnectResponse && m.sess.HasChannel && ch != m.sess.ChannelID {
		m.stats.framesDropped.Add(1)
		m.log.Debug("datagram dropped", "error", ErrChannelMismatch, "channel", ch, "expected", m.sess.ChannelID, "service", f.ServiceType().String())
		return false
	}

	req, ok := f.Body.(*frame.TunnelingRequest)
	if !ok {
		return true
	}
	if !m.sess.HasChannel {
		m.stats.framesDropped.Add(1)
		m.log.Debug("tunneling request without channel dropped", "channel", ch)
		return false
	}
	m.sendControl(frame.NewTunnelingAck(ch, req.State.Sequence, frame.StatusOK))
	m.stats.acksSent.Add(1)
	if m.sess.HasReceived && req.State.Sequence == m.sess.LastReceived {
		m.stats.framesDropped.Add(1)
		m.log.Debug("duplicate tunneling request dropped", "seq", req.State.Sequence)
		return false
	}
	m.sess.LastReceived = req.State.Sequence
	m.sess.HasReceived = true
	return true
}

func (m *Machine) handle(sig signal) {
	switch s := sig.(type) {
	case timerSignal:
		if s.gen == m.gen {
			s.fire()
		}
	case throttleSignal:
		m.onThrottle()
	case connectSignal:
		m.onConnect()
	case disconnectSignal:
		m.onDisconnect()
	case waitSignal:
		if cur := m.current(); slices.Contains(s.states, cur) {
			s.ch <- cur
			return
		}
		m.waiters = append(slices.DeleteFunc(m.waiters, waitSignal.abandoned), s)
	case sendSignal:
		m.onSend(s)
	case sendDoneSignal:
		m.onSendDone(s)
	case inboundSignal:
		m.onInbound(s)
	}
}

func (m *Machine) onConnect() {
	m.started = true
	if m.current() == StateUninitialized && !m.cooldown {
		m.transition(StateConnecting)
	}
}

func (m *Machine) onDisconnect() {
	m.started = false
	wasCooling := m.cooldown
	m.cooldown = false

	switch m.current() {
	case StateUninitialized:
		if wasCooling {
			m.cancelTimers()
			m.failPending(ErrNotConnected)
		}
	case StateConnecting:
		if m.sess.HasChannel {
			// The gateway has already assigned a channel; release it.
			m.transition(StateDisconnecting)
			return
		}
		m.emit(Event{Name: EventDisconnected, Time: m.clock.Now()})
		m.transition(StateUninitialized)
	case StateDisconnecting:
	default:
		if m.outgoing != nil {
			m.outgoing.complete(ErrNotConnected)
			m.outgoing = nil
		}
		m.transition(StateDisconnecting)
	}
}

func (m *Machine) onSend(s sendSignal) {
	switch m.current() {
	case StateIdle:
		m.idleSend(s.req)
	case StateUninitialized:
		if m.cooldown {
			m.deferSignal(s)
			return
		}
		s.req.complete(ErrNotConnected)
	case StateDisconnecting:
		s.req.complete(ErrNotConnected)
	default:
		m.deferSignal(s)
	}
}

func (m *Machine) idleSend(req *sendRequest) {
	if req.expired() {
		req.complete(req.ctx.Err())
		return
	}
	if d := m.opts.MinimumDelay; d > 0 && (len(m.throttle) > 0 || m.clock.Now().Sub(m.sess.LastSent) < d) {
		m.throttle = append(m.throttle, req)
		m.armThrottle()
		return
	}
	m.outgoing = req
	m.transition(StateSendingDatagram)
}

func (m *Machine) onSendDone(s sendDoneSignal) {
	if m.current() != StateSendingDatagram || s.req != m.outgoing {
		s.req.complete(ErrNotConnected)
		return
	}
	req := s.req
	if s.err != nil {
		if m.mode.sequenced() {
			m.sess.rollbackSequence()
		}
		m.stats.sendErrors.Add(1)
		m.log.Warn("knxip send failed", "error", s.err, "destination", req.cemi.DestinationString())
		req.complete(s.err)
		m.outgoing = nil
		m.transition(StateIdle)
		return
	}

	m.sess.LastSent = m.clock.Now()
	req.complete(nil)
	if m.mode.supportsAck() {
		m.sess.Outstanding[req.cemi.DestinationString()] = req.frame
		m.transition(StateWaitingTunnelAck)
		return
	}
	m.outgoing = nil
	if m.opts.LocalEcho {
		m.fanout(req.frame, req.cemi)
	}
	m.transition(StateIdle)
}

func (m *Machine) ackTimeout() {
	err := fmt.Errorf("%w: no TUNNELING_ACK within %s: %w", ErrTunnelRequestFailed, tunnelAckTimeout, ErrProtocolTimeout)
	m.tunnelRequestFailed(err)
	m.transition(StateIdle)
}

func (m *Machine) tunnelRequestFailed(err error) {
	m.stats.tunnelFailures.Add(1)
	ev := Event{Name: EventTunnelRequestFailed, Err: err, Time: m.clock.Now()}
	if req := m.outgoing; req != nil {
		ev.Frame = req.frame
		ev.Destination = req.cemi.DestinationString()
		if m.sess.Outstanding[ev.Destination] == req.frame {
			delete(m.sess.Outstanding, ev.Destination)
		}
	}
	m.log.Warn("knxip tunneling request failed", "error", err, "destination", ev.Destination)
	m.outgoing = nil
	m.emit(ev)
}

func (m *Machine) onInbound(s inboundSignal) {
	f := s.frame
	switch m.current() {
	case StateUninitialized:
		m.log.Debug("datagram ignored while uninitialized", "service", f.ServiceType().String())
	case StateConnecting:
		m.connectingInbound(s)
	case StateIdle:
		m.idleInbound(f)
	case StateRequestingConnState:
		b, ok := f.Body.(*frame.ConnectionStateResponse)
		if !ok {
			m.deferSignal(s)
			return
		}
		if b.State.Status != frame.StatusOK {
			m.fail(fmt.Errorf("%w: connection state %s", ErrConnectionRejected, b.State.Status))
			m.transition(StateConnecting)
			return
		}
		m.transition(StateIdle)
	case StateWaitingTunnelAck:
		b, ok := f.Body.(*frame.TunnelingAck)
		if !ok {
			m.deferSignal(s)
			return
		}
		m.onTunnelingAck(b)
	case StateDisconnecting:
		if _, ok := f.Body.(*frame.DisconnectResponse); ok {
			m.finishDisconnect()
		}
	default:
		m.deferSignal(s)
	}
}

func (m *Machine) connectingInbound(s inboundSignal) {
	switch b := s.frame.Body.(type) {
	case *frame.ConnectResponse:
		m.onConnectResponse(b)
	case *frame.ConnectionStateResponse:
		if !m.sess.HasChannel {
			return
		}
		if b.State.Status != frame.StatusOK {
			m.fail(fmt.Errorf("%w: connection state %s", ErrConnectionRejected, b.State.Status))
			return
		}
		m.transition(StateConnected)
	case *frame.TunnelingAck, *frame.DisconnectResponse:
	default:
		m.deferSignal(s)
	}
}

func (m *Machine) onTunnelingAck(b *frame.TunnelingAck) {
	if m.sess.Sequence < 0 || b.State.Sequence != uint8(m.sess.Sequence) { //nolint:gosec // 0..255
		m.log.Debug("TUNNELING_ACK for other sequence ignored", "seq", b.State.Sequence, "expected", m.sess.Sequence)
		return
	}
	m.stats.acksReceived.Add(1)
	if b.State.Status != frame.StatusOK {
		m.tunnelRequestFailed(fmt.Errorf("%w: %s", ErrTunnelRequestFailed, b.State.Status))
		m.transition(StateIdle)
		return
	}
	m.outgoing = nil
	m.transition(StateIdle)
}

func (m *Machine) idleInbound(f *frame.Frame) {
	switch b := f.Body.(type) {
	case *frame.TunnelingRequest:
		switch b.CEMI.MessageCode {
		case frame.LDataInd:
			m.indication = f
			m.transition(StateReceivingTunnelIndication)
		case frame.LDataCon:
			m.confirm(b.CEMI)
		default:
			m.log.Debug("tunneling request ignored", "code", b.CEMI.MessageCode.String())
		}
	case *frame.RoutingIndication:
		if b.CEMI.MessageCode == frame.LDataInd {
			m.fanout(f, b.CEMI)
		}
	case *frame.DisconnectRequest:
		if m.mode.kind() != ModeTunneling {
			return
		}
		m.log.Info("gateway closed the tunnel, reconnecting", "channel", b.State.ChannelID)
		m.sendControl(frame.NewDisconnectResponse(b.State.ChannelID, frame.StatusOK))
		m.transition(StateConnecting)
	case *frame.RoutingLostMessage:
		m.log.Warn("router lost messages", "lost", b.Lost, "device_state", b.DeviceState)
	default:
		m.log.Debug("datagram ignored in idle", "service", f.ServiceType().String())
	}
}

// confirm matches an L_Data.con against the outstanding table.
func (m *Machine) confirm(c *frame.CEMI) {
	dest := c.DestinationString()
	sent, ok := m.sess.Outstanding[dest]
	if !ok {
		m.log.Debug("unsolicited L_Data.con", "destination", dest)
		return
	}
	delete(m.sess.Outstanding, dest)

	if c.Control.ConfirmError {
		m.stats.tunnelFailures.Add(1)
		m.emit(Event{
			Name:        EventTunnelRequestFailed,
			Destination: dest,
			Frame:       sent,
			Err:         fmt.Errorf("%w: negative confirmation from bus", ErrTunnelRequestFailed),
			Time:        m.clock.Now(),
		})
		return
	}

	m.stats.confirmations.Add(1)
	ev := Event{Name: EventConfirmed, Destination: dest, Frame: sent, Time: m.clock.Now()}
	if sc := sent.CEMI(); sc != nil {
		ev.Source = sc.Source
		ev.Group = sc.Control.GroupDestination
		ev.APCI = sc.APDU.APCI
		ev.Data = sc.APDU.Data
		ev.BitLength = sc.APDU.BitLength
		if m.opts.LocalEcho {
			defer m.fanout(sent, sc)
		}
	}
	m.emit(ev)
}

// ─── Throttle ──────────────────────────────────────────────────────

// armThrottle schedules the head of the throttle queue. The timer is not
// scoped to a state; it is re-armed each time Idle is entered.
func (m *Machine) armThrottle() {
	if len(m.throttle) == 0 || m.throttleTimer != nil {
		return
	}
	wait := max(m.opts.MinimumDelay-m.clock.Now().Sub(m.sess.LastSent), 0)
	m.throttleTimer = m.clock.AfterFunc(wait, func() { m.post(throttleSignal{}) })
}

func (m *Machine) onThrottle() {
	m.throttleTimer = nil
	if m.current() != StateIdle || len(m.throttle) == 0 {
		return
	}
	if m.clock.Now().Sub(m.sess.LastSent) < m.opts.MinimumDelay {
		m.armThrottle()
		return
	}
	req := m.throttle[0]
	m.throttle = m.throttle[1:]
	if req.expired() {
		req.complete(req.ctx.Err())
		m.armThrottle()
		return
	}
	m.outgoing = req
	m.transition(StateSendingDatagram)
}

func (m *Machine) stopThrottle() {
	if m.throttleTimer != nil {
		m.throttleTimer.Stop()
		m.throttleTimer = nil
	}
}

// failPending completes every queued send with err and drops deferred
// datagrams.
func (m *Machine) failPending(err error) {
	for _, sig := range m.deferred {
		if s, ok := sig.(sendSignal); ok {
			s.req.complete(err)
		}
	}
	m.deferred = nil
	for _, req := range m.throttle {
		req.complete(err)
	}
	m.throttle = nil
	m.stopThrottle()
}

// ─── Output ────────────────────────────────────────────────────────

// onDatagram runs on the transport's receive goroutine. Malformed and
// unmodelled datagrams are dropped here and never reach the machine, as
// are datagrams arriving while the inbox is full.
func (m *Machine) onDatagram(data []byte, from *net.UDPAddr) {
	f, err := frame.Unmarshal(data)
	if err != nil {
		m.stats.framesDropped.Add(1)
		m.log.Debug("malformed datagram dropped", "from", from.String(), "error", err)
		return
	}
	if f.Body == nil {
		m.stats.framesDropped.Add(1)
		m.log.Debug("unsupported service dropped", "from", from.String(), "service", f.ServiceType().String())
		return
	}
	select {
	case m.inbox <- inboundSignal{frame: f, from: from}:
	default:
		// The receive goroutine must not block: Close waits for it.
		m.stats.framesDropped.Add(1)
		m.log.Warn("inbox full, datagram dropped", "from", from.String(), "service", f.ServiceType().String())
	}
}

func (m *Machine) sendControl(f *frame.Frame) {
	data, err := frame.Marshal(f)
	if err != nil {
		m.log.Error("encode control frame failed", "service", f.ServiceType().String(), "error", err)
		return
	}
	m.write(outgoing{data: data})
}

func (m *Machine) write(o outgoing) {
	if m.writeSync {
		m.transmit(o)
		return
	}
	select {
	case m.outbox <- o:
	default:
		err := errors.New("knxip: send queue full")
		if o.req != nil {
			m.onSendDone(sendDoneSignal{req: o.req, err: err})
			return
		}
		m.stats.sendErrors.Add(1)
		m.log.Warn("control frame dropped", "error", err)
	}
}

// transmit sends one datagram and reports telegram sends back to the
// machine.
func (m *Machine) transmit(o outgoing) {
	err := m.transport().Send(m.ctx, o.data)
	if err == nil {
		m.stats.framesTx.Add(1)
	} else if o.req == nil {
		m.stats.sendErrors.Add(1)
		m.log.Warn("control frame send failed", "error", err)
	}
	if o.req != nil {
		m.post(sendDoneSignal{req: o.req, err: err})
	}
}

func (m *Machine) controlEndpoint() *net.UDPAddr {
	if m.opts.NAT {
		return nil
	}
	return m.transport().LocalAddr()
}

func (m *Machine) sourceAddress() address.PhysicalAddress {
	switch {
	case m.opts.PhysicalAddress != 0:
		return m.opts.PhysicalAddress
	case m.mode.kind() == ModeTunneling:
		return m.sess.Assigned
	default:
		return DefaultRoutingAddress
	}
}

func (m *Machine) emit(ev Event) {
	m.emitter.Emit(ev)
}

// fail counts err and reports it as an error event.
func (m *Machine) fail(err error) {
	m.stats.errorsTotal.Add(1)
	m.emit(Event{Name: EventError, Err: err, Time: m.clock.Now()})
}

func (m *Machine) fanout(f *frame.Frame, c *frame.CEMI) {
	if c == nil {
		return
	}
	for _, ev := range telegramEvents(f, c, m.clock.Now()) {
		m.emit(ev)
	}
}
