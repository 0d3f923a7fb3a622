package knx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
)

// HealthPublisher publishes health messages, typically the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// LinkSource reports KNXnet/IP link state. *connection.Client satisfies it.
type LinkSource interface {
	IsConnected() bool
	Stats() connection.Stats
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration // default 30s
	Publisher HealthPublisher
	Link      LinkSource
	Logger    Logger
}

// HealthReporter publishes bridge health to the retained health topic,
// on a ticker and on demand.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time
	devices atomic.Int64
	log     atomic.Pointer[loggerRef]

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
	stopped  bool
	failures failureWatch
}

type loggerRef struct{ Logger }

// failureWatch tells whether a monotonic counter moved since it was last
// looked at. The first look only primes it.
type failureWatch struct {
	last   uint64
	primed bool
}

func (f *failureWatch) grew(n uint64) bool {
	moved := f.primed && n > f.last
	f.last, f.primed = n, true
	return moved
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval * time.Second
	}
	h := &HealthReporter{cfg: cfg, started: time.Now()}
	h.SetLogger(cfg.Logger)
	return h
}

// Start reports every interval until ctx is cancelled or Stop is called.
// Calling it again, or after Stop, does nothing.
func (h *HealthReporter) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.loopDone = make(chan struct{})
	go h.run(ctx, h.loopDone)
}

// Stop ends reporting and publishes a final "stopping" status. Only the
// first call has any effect.
func (h *HealthReporter) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	cancel, done := h.cancel, h.loopDone
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := h.publish(HealthStopping, ""); err != nil {
		h.logError("failed to publish stopping status", err)
	}
}

// SetDeviceCount updates the number of managed devices.
func (h *HealthReporter) SetDeviceCount(count int) {
	h.devices.Store(int64(count))
}

// SetLogger replaces the logger. nil silences the reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.log.Store(&loggerRef{logger})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.assess())
}

// LWTPayload returns the last will payload for the MQTT connection.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.cfg.BridgeID))
}

func (h *HealthReporter) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	tick := time.NewTicker(h.cfg.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// assess is degraded when either side is down, or when tunnel requests
// failed since the previous report.
func (h *HealthReporter) assess() (HealthStatus, string) {
	pub, link := h.cfg.Publisher, h.cfg.Link
	switch {
	case pub == nil || !pub.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	case link == nil || !link.IsConnected():
		return HealthDegraded, "KNX link down"
	}

	n := link.Stats().TunnelFailures
	h.mu.Lock()
	failing := h.failures.grew(n)
	h.mu.Unlock()
	if failing {
		return HealthDegraded, "tunnel requests failing"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	pub := h.cfg.Publisher
	if pub == nil {
		return nil
	}

	var (
		stats connection.Stats
		up    bool
	)
	if link := h.cfg.Link; link != nil {
		stats, up = link.Stats(), link.IsConnected()
	}

	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, status, up, stats, int(h.devices.Load()), h.started)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}
	return pub.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	if ref := h.log.Load(); ref != nil && ref.Logger != nil {
		ref.Logger.Error(msg, "error", err)
	}
}
