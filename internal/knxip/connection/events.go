package connection

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

// Event names.
const (
	EventConnected           = "connected"
	EventDisconnected        = "disconnected"
	EventError               = "error"
	EventConfirmed           = "confirmed"
	EventTunnelRequestFailed = "tunnelreqfailed"

	// EventAny is emitted for every inbound telegram.
	EventAny = "event"
)

// defaultEventQueueSize is the buffer size of the dispatch queue.
const defaultEventQueueSize = 256

// Event is delivered to handlers. Telegram events carry the link-layer
// fields; lifecycle events carry Err or Frame where relevant.
type Event struct {
	Name        string
	Source      address.PhysicalAddress
	Destination string
	Group       bool
	APCI        frame.APCI
	Data        []byte
	BitLength   int
	Frame       *frame.Frame
	Err         error
	Time        time.Time
}

// Value decodes the payload as datapoint type id.
func (e Event) Value(id string) (any, error) {
	return dpt.Decode(e.Data, id)
}

// String returns a one-line summary.
func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	if e.Destination == "" {
		return e.Name
	}
	return fmt.Sprintf("%s %s %s->%s % x", e.Name, e.APCI, e.Source, e.Destination, e.Data)
}

// EventName returns the per-destination name for apci, e.g.
// "GroupValue_Write_1/2/3".
func EventName(apci frame.APCI, dest string) string {
	return apci.String() + "_" + dest
}

// DestinationEvent returns the catch-all name for a destination, e.g.
// "event_1/2/3".
func DestinationEvent(dest string) string {
	return "event_" + dest
}

// telegramEvents builds the fan-out for one cEMI frame: event_<dest>,
// <apci>_<dest>, <apci> and event for group destinations, and only the
// last two for individual destinations.
func telegramEvents(f *frame.Frame, c *frame.CEMI, at time.Time) []Event {
	base := Event{
		Source:      c.Source,
		Destination: c.DestinationString(),
		Group:       c.Control.GroupDestination,
		APCI:        c.APDU.APCI,
		Data:        c.APDU.Data,
		BitLength:   c.APDU.BitLength,
		Frame:       f,
		Time:        at,
	}
	names := []string{c.APDU.APCI.String(), EventAny}
	if base.Group {
		names = append([]string{DestinationEvent(base.Destination), EventName(base.APCI, base.Destination)}, names...)
	}
	out := make([]Event, len(names))
	for i, n := range names {
		out[i] = base
		out[i].Name = n
	}
	return out
}

// Handler receives events.
type Handler func(Event)

// Subscription identifies a registered handler.
type Subscription uint64

type listener struct {
	id   Subscription
	fn   Handler
	once bool
}

// Emitter fans events out to named handlers.
//
// Events are queued and delivered in emission order by a single dispatcher
// goroutine, so handlers never run on the machine goroutine and may call
// back into the client. A full queue drops the event and counts it.
type Emitter struct {
	mu       sync.Mutex
	handlers map[string][]listener
	nextID   Subscription

	queue     chan Event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64

	logger Logger
}

// NewEmitter starts an emitter with a queue of size events.
func NewEmitter(size int, logger Logger) *Emitter {
	if size <= 0 {
		size = defaultEventQueueSize
	}
	if logger == nil {
		logger = nopLogger{}
	}
	e := &Emitter{
		handlers: make(map[string][]listener),
		queue:    make(chan Event, size),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger,
	}
	go e.dispatch()
	return e
}

// On registers h for events named name.
func (e *Emitter) On(name string, h Handler) Subscription {
	return e.add(name, h, false)
}

// Once registers h for the next event named name only.
func (e *Emitter) Once(name string, h Handler) Subscription {
	return e.add(name, h, true)
}

func (e *Emitter) add(name string, h Handler, once bool) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers[name] = append(e.handlers[name], listener{id: e.nextID, fn: h, once: once})
	return e.nextID
}

// Off removes a handler. Unknown subscriptions are ignored.
func (e *Emitter) Off(id Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, ls := range e.handlers {
		for i, l := range ls {
			if l.id == id {
				e.handlers[name] = append(ls[:i:i], ls[i+1:]...)
				if len(e.handlers[name]) == 0 {
					delete(e.handlers, name)
				}
				return
			}
		}
	}
}

// Emit queues ev. It reports false if the event was dropped.
func (e *Emitter) Emit(ev Event) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.queue <- ev:
		return true
	default:
		e.dropped.Add(1)
		e.logger.Warn("event queue full, dropping event", "event", ev.Name)
		return false
	}
}

// Dropped returns the number of events lost to a full queue.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops the dispatcher after delivering events already queued.
// Safe to call multiple times.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	<-e.stopped
}

func (e *Emitter) dispatch() {
	defer close(e.stopped)
	for {
		select {
		case ev := <-e.queue:
			e.deliver(ev)
		case <-e.done:
			for {
				select {
				case ev := <-e.queue:
					e.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver runs the handlers registered for ev.Name. Once handlers are
// removed before they run.
func (e *Emitter) deliver(ev Event) {
	e.mu.Lock()
	ls := e.handlers[ev.Name]
	if len(ls) == 0 {
		e.mu.Unlock()
		return
	}
	run := make([]Handler, 0, len(ls))
	keep := ls[:0:0]
	for _, l := range ls {
		run = append(run, l.fn)
		if !l.once {
			keep = append(keep, l)
		}
	}
	if len(keep) == 0 {
		delete(e.handlers, ev.Name)
	} else {
		e.handlers[ev.Name] = keep
	}
	e.mu.Unlock()

	for _, fn := range run {
		e.call(fn, ev)
	}
}

func (e *Emitter) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panic", "event", ev.Name, "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}
