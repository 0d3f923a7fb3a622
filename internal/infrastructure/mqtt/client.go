package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. paho calls it on its own
// goroutine; a returned error is logged and the message is dropped.
type MessageHandler func(topic string, payload []byte) error

// Hooks are optional callbacks wired in at Connect time.
type Hooks struct {
	Logger       Logger
	OnConnect    func()
	OnDisconnect func(err error)
}

// Client is a paho client that remembers its subscriptions and replays
// them after every reconnect, and keeps knxip/system/status current.
type Client struct {
	paho  pahomqtt.Client
	cfg   config.MQTTConfig
	hooks Hooks

	online   atomic.Bool
	sessions atomic.Uint64

	mu     sync.Mutex
	routes map[string]route
}

type route struct {
	qos     byte
	handler MessageHandler
}

func newClient(cfg config.MQTTConfig, hooks Hooks) *Client {
	c := &Client{cfg: cfg, hooks: hooks, routes: make(map[string]route)}

	opts := clientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })

	c.paho = pahomqtt.NewClient(opts)
	return c
}

// Connect dials the broker and waits until the session is up, ctx is done,
// or defaultConnectTimeout passes, whichever comes first.
func Connect(ctx context.Context, cfg config.MQTTConfig, hooks Hooks) (*Client, error) {
	c := newClient(cfg, hooks)
	if err := await(ctx, c.paho.Connect(), "connect", "", defaultConnectTimeout); err != nil {
		c.paho.Disconnect(0)
		return nil, err
	}
	// The on-connect handler runs on its own goroutine and may not have
	// fired yet.
	c.online.Store(true)
	return c, nil
}

func (c *Client) connected() {
	c.online.Store(true)
	c.sessions.Add(1)

	c.mu.Lock()
	for topic, r := range c.routes {
		c.paho.Subscribe(topic, r.qos, c.deliver(r.handler))
	}
	c.mu.Unlock()

	c.paho.Publish(Topics{}.SystemStatus(), c.qos(), true,
		newPresence(c.cfg.Broker.ClientID, presenceOnline, "").encode())

	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect()
	}
}

func (c *Client) lost(err error) {
	c.online.Store(false)
	if c.hooks.OnDisconnect != nil {
		c.hooks.OnDisconnect(err)
	}
}

// Close publishes a graceful offline status, so subscribers can tell a
// shutdown from the LWT, then disconnects.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		payload := newPresence(c.cfg.Broker.ClientID, presenceOffline, reasonShutdown).encode()
		c.paho.Publish(Topics{}.SystemStatus(), c.qos(), true, payload).WaitTimeout(defaultPublishTimeout)
	}
	c.online.Store(false)
	c.paho.Disconnect(quiesceMillis)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.online.Load() && c.paho.IsConnected()
}

// Reconnects counts sessions re-established after a loss. The initial
// connect is not counted.
func (c *Client) Reconnects() uint64 {
	if n := c.sessions.Load(); n > 1 {
		return n - 1
	}
	return 0
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS) //nolint:gosec // range checked by config.Validate
}

func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, logging returned errors and recovering panics so a
// bad message cannot take down paho's router goroutine.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	log := c.hooks.Logger
	defer func() {
		if r := recover(); r != nil && log != nil {
			log.Error("MQTT handler panicked", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil && log != nil {
		log.Warn("MQTT message rejected", "topic", topic, "error", err)
	}
}

// await blocks on a paho token. A zero limit means wait on ctx only.
func await(ctx context.Context, token pahomqtt.Token, op, topic string, limit time.Duration) error {
	var expired <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-token.Done():
	case <-ctx.Done():
		return &OpError{Op: op, Topic: topic, Err: ctx.Err()}
	case <-expired:
		return &OpError{Op: op, Topic: topic, Err: ErrTimeout}
	}
	if err := token.Error(); err != nil {
		return &OpError{Op: op, Topic: topic, Err: err}
	}
	return nil
}
