package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/bridges/knx"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket fallbacks for a zero config.
const (
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 // seconds
	defaultWSPongTimeout    = 10 // seconds
)

// groupReadTimeout bounds a GET /groups/{ga}/read round trip.
const groupReadTimeout = 5 * time.Second

// Link is the subset of the KNXnet/IP client used by the API.
type Link interface {
	Write(ctx context.Context, ga string, value any, dpt string) error
	WriteRaw(ctx context.Context, ga string, data []byte, bitLength int) error
	Read(ctx context.Context, ga string) (connection.Event, error)
	RequestRead(ctx context.Context, ga string) error
	On(name string, h connection.Handler) connection.Subscription
	Off(id connection.Subscription)
	IsConnected() bool
	Stats() connection.Stats
}

// BridgeView exposes bridge status and cached device state.
type BridgeView interface {
	Status() knx.Status
	DeviceState(deviceID string) (map[string]any, bool)
}

// InventoryReader lists what the gateway has seen on the bus.
type InventoryReader interface {
	GroupAddresses(ctx context.Context) ([]knx.GroupRecord, error)
	Devices(ctx context.Context) ([]knx.DeviceRecord, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Link      Link
	Bridge    BridgeView      // optional
	Inventory InventoryReader // optional
	Metrics   *metrics.Metrics
	Version   string
}

// Server is the HTTP API server for the gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	link      Link
	bridge    BridgeView
	inventory InventoryReader
	metrics   *metrics.Metrics
	version   string
	startedAt time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc

	subsMu sync.Mutex
	subs   []connection.Subscription
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Link == nil {
		return nil, fmt.Errorf("KNX link is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		link:      deps.Link,
		bridge:    deps.Bridge,
		inventory: deps.Inventory,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startedAt: time.Now(),
	}
	if s.wsCfg.MaxMessageSize <= 0 {
		s.wsCfg.MaxMessageSize = defaultWSMaxMessageSize
	}
	if s.wsCfg.PingInterval <= 0 {
		s.wsCfg.PingInterval = defaultWSPingInterval
	}
	if s.wsCfg.PongTimeout <= 0 {
		s.wsCfg.PongTimeout = defaultWSPongTimeout
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.link)
	s.hub.metrics = s.metrics
	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays link events to it and launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.subscribeLinkEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.unsubscribeLinkEvents()

	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// subscribeLinkEvents relays group telegrams and link changes to the hub.
func (s *Server) subscribeLinkEvents() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	s.subs = append(s.subs,
		s.link.On(connection.EventAny, s.relayTelegram),
		s.link.On(connection.EventConnected, s.relayLinkChange),
		s.link.On(connection.EventDisconnected, s.relayLinkChange),
	)
}

func (s *Server) unsubscribeLinkEvents() {
	s.subsMu.Lock()
	subs := s.subs
	s.subs = nil
	s.subsMu.Unlock()

	for _, sub := range subs {
		s.link.Off(sub)
	}
}

func (s *Server) relayTelegram(ev connection.Event) {
	if !ev.Group {
		return
	}
	s.hub.Broadcast(ChannelBusTelegram, ev.Destination, telegramPayload(ev))
}

func (s *Server) relayLinkChange(ev connection.Event) {
	s.hub.Broadcast(ChannelLinkState, "", map[string]any{
		"event":     ev.Name,
		"connected": s.link.IsConnected(),
	})
}
