package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
)

// Stream message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeWrite       = "write"
	WSTypeRead        = "read"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels clients can subscribe to.
const (
	ChannelBusTelegram = "bus.telegram"
	ChannelLinkState   = "link.state"
)

const (
	// wsSendBufferSize is the per-client outbound queue length.
	wsSendBufferSize = 256

	// wsCommandTimeout bounds a write or read command sent over the stream.
	wsCommandTimeout = 5 * time.Second
)

var knownChannels = map[string]bool{
	ChannelBusTelegram: true,
	ChannelLinkState:   true,
}

// TelegramPayload is the payload of a bus.telegram event.
type TelegramPayload struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Service     string    `json:"service"`
	Data        string    `json:"data"` // hex
	BitLength   int       `json:"bit_length"`
}

func telegramPayload(ev connection.Event) TelegramPayload {
	return TelegramPayload{
		Timestamp:   ev.Time,
		Source:      ev.Source.String(),
		Destination: ev.Destination,
		Service:     ev.APCI.String(),
		Data:        hex.EncodeToString(ev.Data),
		BitLength:   ev.BitLength,
	}
}

// WSMessage is one stream frame in either direction. Inbound payloads are
// kept raw and decoded per message type.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels. Groups narrows bus.telegram to the
// listed destinations; empty means every group address.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Groups   []string `json:"groups,omitempty"`
}

// wsReadPayload is the payload of a read command.
type wsReadPayload struct {
	Address string `json:"address"`
}

// busCommander is the part of the link stream commands drive.
type busCommander interface {
	Write(ctx context.Context, ga string, value any, dpt string) error
	WriteRaw(ctx context.Context, ga string, data []byte, bitLength int) error
	RequestRead(ctx context.Context, ga string) error
}

// subscription is one channel a client follows. A nil groups set matches
// every destination.
type subscription struct {
	groups map[string]struct{}
}

func (s subscription) matches(key string) bool {
	if s.groups == nil || key == "" {
		return true
	}
	_, ok := s.groups[key]
	return ok
}

// Hub tracks stream clients and fans events out to them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	bus     busCommander
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected stream client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu      sync.Mutex
	send    chan []byte
	closed  bool
	dropped int
	subs    map[string]subscription

	// authErr, when set, refuses write and read commands. Subscriptions
	// stay available.
	authErr error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub. bus may be nil, in which case write and read
// commands are refused.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, bus busCommander) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		clients: make(map[*WSClient]struct{}),
	}
}

func newWSClient(h *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		subs: make(map[string]subscription),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and closes its queue. Repeated calls are
// harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if dropped := c.close(); dropped > 0 {
		h.logger.Warn("websocket client was too slow", "dropped_messages", dropped)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers payload to clients following channel whose filter
// accepts key. key is the destination group address for bus.telegram and
// empty for channels without filters.
func (h *Hub) Broadcast(channel, key string, payload any) {
	data, err := eventFrame(channel, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel, key) {
			c.enqueue(data)
		}
	}
}

func eventFrame(channel string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   raw,
	})
}

// handleWebSocket upgrades the request and starts the client pumps.
// Clients receive nothing until they subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn)
	c.authErr = s.authorize(r)
	s.hub.Register(c)

	go c.writePump()
	go c.readPump()
}

// ─── Client queue ───────────────────────────────────────────────────

// enqueue queues data unless the client is closed or its queue is full.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.dropped++
		return false
	}
}

// close shuts the queue once and returns how many messages were dropped.
func (c *WSClient) close() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return c.dropped
}

func (c *WSClient) wants(channel, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[channel]
	return ok && sub.matches(key)
}

// ─── Pumps ──────────────────────────────────────────────────────────

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Client traffic counts as liveness too.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(idle))
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	cfg := c.hub.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ─── Inbound messages ───────────────────────────────────────────────

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("", ErrCodeBadRequest, "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypeWrite:
		c.handleWrite(msg)
	case WSTypeRead:
		c.handleRead(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.replyError(msg.ID, ErrCodeBadRequest, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) handleSubscribe(msg WSMessage) {
	var req WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil || len(req.Channels) == 0 {
		c.replyError(msg.ID, ErrCodeBadRequest, "subscribe needs a channels list")
		return
	}
	for _, ch := range req.Channels {
		if !knownChannels[ch] {
			c.replyError(msg.ID, ErrCodeBadRequest, "unknown channel: "+ch)
			return
		}
	}

	var groups map[string]struct{}
	if len(req.Groups) > 0 {
		groups = make(map[string]struct{}, len(req.Groups))
		for _, s := range req.Groups {
			ga, err := address.ParseGroup(s)
			if err != nil {
				c.replyFailure(msg.ID, err)
				return
			}
			groups[ga.String()] = struct{}{}
		}
	}

	c.mu.Lock()
	for _, ch := range req.Channels {
		c.subs[ch] = subscription{groups: groups}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", req.Channels, "groups", len(groups))
	c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": req.Channels})
}

func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	var req WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.replyError(msg.ID, ErrCodeBadRequest, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range req.Channels {
		delete(c.subs, ch)
	}
	c.mu.Unlock()

	c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": req.Channels})
}

// handleWrite sends GroupValue_Write; the reply reports whether the link
// accepted it.
func (c *WSClient) handleWrite(msg WSMessage) {
	var req groupWriteRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.replyError(msg.ID, ErrCodeBadRequest, "invalid write payload")
		return
	}
	ga, ok := c.commandTarget(msg.ID, req.Address)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()
	err := writeGroup(ctx, c.hub.bus, ga, req)
	c.hub.metrics.RecordCommand("ws_write", err)
	if err != nil {
		c.replyFailure(msg.ID, err)
		return
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{"address": ga.String(), "status": "sent"})
}

// handleRead sends GroupValue_Read. The answer arrives as a bus.telegram
// event for clients following that address.
func (c *WSClient) handleRead(msg WSMessage) {
	var req wsReadPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.replyError(msg.ID, ErrCodeBadRequest, "invalid read payload")
		return
	}
	ga, ok := c.commandTarget(msg.ID, req.Address)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()
	err := c.hub.bus.RequestRead(ctx, ga.String())
	c.hub.metrics.RecordCommand("ws_read", err)
	if err != nil {
		c.replyFailure(msg.ID, err)
		return
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{"address": ga.String(), "status": "requested"})
}

var errNoBus = errors.New("bus commands are not available")

// commandTarget validates the address of a write or read command and
// replies with an error when it cannot be used.
func (c *WSClient) commandTarget(id, addr string) (address.GroupAddress, bool) {
	if c.authErr != nil {
		c.replyFailure(id, c.authErr)
		return 0, false
	}
	if c.hub.bus == nil {
		c.replyFailure(id, errNoBus)
		return 0, false
	}
	ga, err := address.ParseGroup(addr)
	if err != nil {
		c.replyFailure(id, err)
		return 0, false
	}
	return ga, true
}

func (c *WSClient) reply(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Payload = raw
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) replyError(id, code, message string) {
	c.reply(id, WSTypeError, Error{Code: code, Message: message})
}

// replyFailure reports err with the code an HTTP caller would get.
func (c *WSClient) replyFailure(id string, err error) {
	_, code := classify(err)
	c.replyError(id, code, err.Error())
}
