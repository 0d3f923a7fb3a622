package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

// closeTimeout bounds the disconnect handshake performed by Close.
const closeTimeout = 5 * time.Second

// Client is a KNXnet/IP connection with a value-level API.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event handlers run on a dedicated dispatcher goroutine, in order.
//
// Reconnection:
//   - After Connect the client keeps the connection up until Disconnect or
//     Close, reconnecting with a growing backoff capped at five minutes.
type Client struct {
	opts    Options
	machine *Machine
	emitter *Emitter

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New builds a client. No socket is opened until Connect.
func New(opts Options) (*Client, error) {
	if err := opts.withDefaults(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	emitter := NewEmitter(opts.EventQueueSize, opts.Logger)
	m := newMachine(ctx, opts, emitter)
	m.start()
	return &Client{opts: opts, machine: m, emitter: emitter, cancel: cancel}, nil
}

// Connect starts the connection and waits until it is established or ctx
// ends. On timeout the client keeps trying in the background.
func (c *Client) Connect(ctx context.Context) error {
	if !c.machine.post(connectSignal{}) {
		return ErrClosed
	}
	if _, err := c.wait(ctx, StateIdle); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Disconnect closes the connection and waits for the handshake to finish.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.machine.post(disconnectSignal{}) {
		return ErrClosed
	}
	_, err := c.wait(ctx, StateUninitialized)
	return err
}

// wait blocks until the machine enters one of states.
func (c *Client) wait(ctx context.Context, states ...State) (State, error) {
	ch := make(chan State, 1)
	if !c.machine.post(waitSignal{ctx: ctx, states: states, ch: ch}) {
		return "", ErrClosed
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.machine.stopped:
		return "", ErrClosed
	}
}

// Write sends GroupValue_Write of value encoded as datapoint type dpt.
// It returns once the datagram has been transmitted; acknowledgement
// failures are reported as tunnelreqfailed events.
func (c *Client) Write(ctx context.Context, ga string, value any, dpt string) error {
	dst, err := address.ParseGroup(ga)
	if err != nil {
		return err
	}
	data, bits, err := c.opts.Codec.Encode(value, dpt)
	if err != nil {
		return err
	}
	return c.send(ctx, frame.GroupValueWrite, dst, data, bits)
}

// WriteRaw sends GroupValue_Write with a raw payload. bitLength 0 infers
// the inline or appended form from data.
func (c *Client) WriteRaw(ctx context.Context, ga string, data []byte, bitLength int) error {
	dst, err := address.ParseGroup(ga)
	if err != nil {
		return err
	}
	return c.send(ctx, frame.GroupValueWrite, dst, data, bitLength)
}

// Respond sends GroupValue_Response of value encoded as datapoint type dpt.
func (c *Client) Respond(ctx context.Context, ga string, value any, dpt string) error {
	dst, err := address.ParseGroup(ga)
	if err != nil {
		return err
	}
	data, bits, err := c.opts.Codec.Encode(value, dpt)
	if err != nil {
		return err
	}
	return c.send(ctx, frame.GroupValueResponse, dst, data, bits)
}

// Read sends GroupValue_Read and waits for the matching GroupValue_Response.
// It fails with ErrReadTimeout when none arrives within three seconds.
func (c *Client) Read(ctx context.Context, ga string) (Event, error) {
	dst, err := address.ParseGroup(ga)
	if err != nil {
		return Event{}, err
	}

	resp := make(chan Event, 1)
	sub := c.emitter.Once(EventName(frame.GroupValueResponse, dst.String()), func(ev Event) {
		select {
		case resp <- ev:
		default:
		}
	})
	defer c.emitter.Off(sub)

	expired := make(chan struct{})
	t := c.opts.Clock.AfterFunc(readResponseTimeout, func() { close(expired) })
	defer t.Stop()

	if err := c.send(ctx, frame.GroupValueRead, dst, nil, 0); err != nil {
		return Event{}, err
	}

	select {
	case ev := <-resp:
		return ev, nil
	case <-expired:
		return Event{}, fmt.Errorf("%w: %s", ErrReadTimeout, dst)
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-c.machine.stopped:
		return Event{}, ErrClosed
	}
}

// RequestRead sends GroupValue_Read without waiting for a response. Any
// answer arrives as a regular GroupValue_Response event.
func (c *Client) RequestRead(ctx context.Context, ga string) error {
	dst, err := address.ParseGroup(ga)
	if err != nil {
		return err
	}
	return c.send(ctx, frame.GroupValueRead, dst, nil, 0)
}

func (c *Client) send(ctx context.Context, apci frame.APCI, dst address.GroupAddress, data []byte, bits int) error {
	cemi := frame.NewGroupCEMI(frame.LDataReq, c.opts.PhysicalAddress, dst, frame.NewAPDU(apci, data, bits))
	req := newSendRequest(ctx, cemi)
	if !c.machine.post(sendSignal{req: req}) {
		return ErrClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.machine.stopped:
		return ErrClosed
	}
}

// On registers a handler for the named event.
func (c *Client) On(name string, h Handler) Subscription { return c.emitter.On(name, h) }

// Once registers a handler for the next occurrence of the named event.
func (c *Client) Once(name string, h Handler) Subscription { return c.emitter.Once(name, h) }

// Off removes a handler.
func (c *Client) Off(id Subscription) { c.emitter.Off(id) }

// State returns the connection state.
func (c *Client) State() State { return c.machine.State() }

// IsConnected reports whether the connection is established.
func (c *Client) IsConnected() bool {
	switch c.machine.State() {
	case StateUninitialized, StateConnecting, StateDisconnecting:
		return false
	default:
		return true
	}
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	s := c.machine.stats.snapshot()
	s.State = c.machine.State()
	s.Mode = c.machine.Mode().String()
	s.EventsDropped = c.emitter.Dropped()
	return s
}

// Close disconnects, stops the machine and delivers pending events. Safe
// to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.machine.State() != StateUninitialized {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			if err := c.Disconnect(ctx); err != nil {
				c.opts.Logger.Warn("knxip disconnect on close failed", "error", err)
			}
			cancel()
		}
		c.cancel()
		<-c.machine.stopped
		c.emitter.Close()
	})
	return nil
}
