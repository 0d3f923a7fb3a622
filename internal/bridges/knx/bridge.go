package knx

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

// Bridge operation constants.
const (
	// commandTimeout bounds a single command send.
	commandTimeout = 5 * time.Second

	// readAllTimeout bounds a full read sweep.
	readAllTimeout = 30 * time.Second

	// interReadDelay spaces read requests so the bus is not flooded.
	interReadDelay = 50 * time.Millisecond
)

// Bridge translates between the KNX bus and MQTT:
//   - commands on knxip/command/{device_id} become group writes
//   - group telegrams become retained state on knxip/state/{device_id}
//     and raw mirrors on knxip/bus/{ga}
//   - requests on knxip/request/{id} are answered on knxip/response/{id}
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       *Config
	mqtt      MQTTClient
	link      Connector
	health    *HealthReporter
	recorder  Recorder
	telemetry Telemetry
	commands  CommandRecorder

	gaToDevice  map[string][]GAMapping
	deviceToGAs map[string]map[string]AddressConfig
	mappingMu   sync.RWMutex

	// stateCache holds the last published state per device, keyed by
	// state key.
	stateCache   map[string]map[string]any
	stateCacheMu sync.RWMutex

	subs []connection.Subscription

	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	telegramsHandled atomic.Uint64
	statesPublished  atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// Connector is the KNXnet/IP link. *connection.Client satisfies it.
type Connector interface {
	Write(ctx context.Context, ga string, value any, dpt string) error
	RequestRead(ctx context.Context, ga string) error
	On(name string, h connection.Handler) connection.Subscription
	Off(id connection.Subscription)
	IsConnected() bool
	Stats() connection.Stats
}

// MQTTClient is the broker side. *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Recorder receives every group write and response for the bus inventory.
type Recorder interface {
	RecordTelegram(source, ga string, isResponse bool, data []byte)
}

// Telemetry receives every group write and response for time-series storage.
type Telemetry interface {
	WriteTelegram(t influxdb.Telegram)
}

// CommandRecorder counts command outcomes.
type CommandRecorder interface {
	RecordCommand(command string, err error)
}

// Logger is the structured logger the bridge writes to. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded device file. Required.
	Config *Config

	// MQTTClient is the broker connection. Required.
	MQTTClient MQTTClient

	// Link is the KNXnet/IP connection. Required.
	Link Connector

	// Logger is optional.
	Logger Logger

	// Recorder, Telemetry and Metrics are optional sinks.
	Recorder  Recorder
	Telemetry Telemetry
	Metrics   CommandRecorder

	// Version is reported in health messages.
	Version string
}

// Status summarises the bridge for the HTTP API.
type Status struct {
	BridgeID         string           `json:"bridge_id"`
	Devices          int              `json:"devices"`
	MQTTConnected    bool             `json:"mqtt_connected"`
	LinkConnected    bool             `json:"link_connected"`
	Link             connection.Stats `json:"link"`
	CommandsReceived uint64           `json:"commands_received"`
	CommandsFailed   uint64           `json:"commands_failed"`
	TelegramsHandled uint64           `json:"telegrams_handled"`
	StatesPublished  uint64           `json:"states_published"`
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Link == nil {
		return nil, fmt.Errorf("KNX link is required")
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTTClient,
		link:       opts.Link,
		recorder:   opts.Recorder,
		telemetry:  opts.Telemetry,
		commands:   opts.Metrics,
		stateCache: make(map[string]map[string]any),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}
	b.gaToDevice, b.deviceToGAs = opts.Config.BuildDeviceIndex()

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   opts.Version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Link:      opts.Link,
		Logger:    opts.Logger,
	})
	b.health.SetDeviceCount(len(b.deviceToGAs))

	return b, nil
}

// Start subscribes to the link and to the command and request topics, then
// starts health reporting. When the link is already up, a read sweep is
// sent straight away; otherwise it follows the first connect.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.subs = append(b.subs,
		b.link.On(connection.EventAny, b.handleEvent),
		b.link.On(connection.EventConnected, b.handleLinkChange),
		b.link.On(connection.EventDisconnected, b.handleLinkChange),
	)

	topics := mqtt.Topics{}
	for _, topic := range []string{topics.AllCommands(), topics.AllRequests()} {
		if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logInfo("subscribed", "topic", topic)
	}

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}

	if b.link.IsConnected() {
		b.goReadAll()
	}

	b.mappingMu.RLock()
	deviceCount := len(b.deviceToGAs)
	b.mappingMu.RUnlock()

	b.logInfo("bridge started", "bridge_id", b.cfg.Bridge.ID, "devices", deviceCount)
	return nil
}

// Stop detaches from the link, aborts in-flight commands and publishes a
// final "stopping" health message.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		for _, sub := range b.subs {
			b.link.Off(sub)
		}
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// ReloadDevices swaps in a new device file, drops cached state for removed
// devices and refreshes state from the bus.
func (b *Bridge) ReloadDevices(cfg *Config) {
	gaToDevice, deviceToGAs := cfg.BuildDeviceIndex()

	b.mappingMu.Lock()
	b.cfg = cfg
	b.gaToDevice = gaToDevice
	b.deviceToGAs = deviceToGAs
	b.mappingMu.Unlock()

	b.PruneStateCache()
	b.health.SetDeviceCount(len(deviceToGAs))
	b.logInfo("devices reloaded", "devices", len(deviceToGAs))

	b.goReadAll()
}

// Status returns a snapshot for monitoring.
func (b *Bridge) Status() Status {
	b.mappingMu.RLock()
	id := b.cfg.Bridge.ID
	devices := len(b.deviceToGAs)
	b.mappingMu.RUnlock()

	return Status{
		BridgeID:         id,
		Devices:          devices,
		MQTTConnected:    b.mqtt.IsConnected(),
		LinkConnected:    b.link.IsConnected(),
		Link:             b.link.Stats(),
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		TelegramsHandled: b.telegramsHandled.Load(),
		StatesPublished:  b.statesPublished.Load(),
	}
}

// DeviceState returns a copy of the last published state of a device.
func (b *Bridge) DeviceState(deviceID string) (map[string]any, bool) {
	b.stateCacheMu.RLock()
	defer b.stateCacheMu.RUnlock()

	state, ok := b.stateCache[deviceID]
	if !ok {
		return nil, false
	}
	return maps.Clone(state), true
}

// ─── Link events ─────────────────────────────────────────────────────

func (b *Bridge) handleLinkChange(ev connection.Event) {
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
	if ev.Name == connection.EventConnected {
		b.goReadAll()
	}
}

// handleEvent processes group writes and responses. Reads carry no value
// and are ignored.
func (b *Bridge) handleEvent(ev connection.Event) {
	if !ev.Group || (ev.APCI != frame.GroupValueWrite && ev.APCI != frame.GroupValueResponse) {
		return
	}
	b.telegramsHandled.Add(1)

	ga := ev.Destination
	source := ev.Source.String()
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	if b.recorder != nil {
		b.recorder.RecordTelegram(source, ga, ev.APCI == frame.GroupValueResponse, ev.Data)
	}

	b.mappingMu.RLock()
	mappings := b.gaToDevice[ga]
	b.mappingMu.RUnlock()

	// The first mapped DPT labels the mirrored telegram.
	var busDPT string
	var busValue any
	for _, m := range mappings {
		if m.DPT == "" {
			continue
		}
		if v, err := dpt.Decode(ev.Data, m.DPT); err == nil {
			busDPT, busValue = m.DPT, v
		}
		break
	}

	b.publishBus(ev, at, busDPT, busValue)
	if b.telemetry != nil {
		b.telemetry.WriteTelegram(influxdb.Telegram{
			Destination: ga,
			Source:      source,
			Service:     ev.APCI.String(),
			DPT:         busDPT,
			Value:       busValue,
			Raw:         ev.Data,
			Time:        at,
		})
	}

	decoded := make(map[string]any, 1)
	for _, mapping := range mappings {
		value, ok := decoded[mapping.DPT]
		if !ok {
			v, err := dpt.Decode(ev.Data, mapping.DPT)
			if err != nil {
				b.logWarn("failed to decode telegram",
					"ga", ga, "dpt", mapping.DPT, "device", mapping.DeviceID, "error", err)
				continue
			}
			value = v
			decoded[mapping.DPT] = v
		}

		state, changed := b.applyState(mapping, value, at)
		if !changed {
			continue
		}
		b.publishState(mapping.DeviceID, ga, state)
	}
}

func (b *Bridge) publishBus(ev connection.Event, at time.Time, dptID string, value any) {
	msg := BusMessage{
		Timestamp:   at.UTC(),
		Source:      ev.Source.String(),
		Destination: ev.Destination,
		Service:     ev.APCI.String(),
		Data:        hex.EncodeToString(ev.Data),
		DPT:         dptID,
		Value:       value,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal bus message", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.Bus(ev.Destination), payload, 0, false); err != nil {
		b.logDebug("bus mirror publish failed", "ga", ev.Destination, "error", err)
	}
}

func (b *Bridge) publishState(deviceID, ga string, state map[string]any) {
	payload, err := json.Marshal(NewStateMessage(deviceID, ga, state))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.State(deviceID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}
	b.statesPublished.Add(1)
}

// applyState merges value into the device's cached state and returns a
// copy of the full state and whether anything changed. The retained state
// topic always carries every known key of the device.
func (b *Bridge) applyState(mapping GAMapping, value any, at time.Time) (map[string]any, bool) {
	if mapping.Function == "" {
		return nil, false
	}
	key := StateKeyForFunction(mapping.Function)

	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	state := b.stateCache[mapping.DeviceID]
	if state == nil {
		state = make(map[string]any)
		b.stateCache[mapping.DeviceID] = state
	}

	if cached, ok := state[key]; ok && valuesEqual(cached, value) {
		return nil, false
	}
	state[key] = value

	if key == "presence" {
		if v, ok := value.(bool); ok && v {
			state["last_motion"] = at.UTC().Format(time.RFC3339)
		}
	}
	return maps.Clone(state), true
}

// valuesEqual compares decoded values. Decoded types are comparable except
// byte slices.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aBytes, aIsBytes := a.([]byte)
	bBytes, bIsBytes := b.([]byte)
	if aIsBytes || bIsBytes {
		return aIsBytes && bIsBytes && slices.Equal(aBytes, bBytes)
	}
	return a == b
}

// ClearStateCache forgets all cached state so the next telegram for every
// device is published.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	b.stateCache = make(map[string]map[string]any)
	b.stateCacheMu.Unlock()
}

// PruneStateCache drops cached state for devices no longer configured.
func (b *Bridge) PruneStateCache() {
	b.mappingMu.RLock()
	defer b.mappingMu.RUnlock()

	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	for id := range b.stateCache {
		if _, ok := b.deviceToGAs[id]; !ok {
			delete(b.stateCache, id)
		}
	}
}

// ─── Read sweeps ─────────────────────────────────────────────────────

func (b *Bridge) goReadAll() {
	select {
	case <-b.done:
		return
	default:
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if _, err := b.readAllDevices(b.ctx); err != nil {
			b.logWarn("read sweep interrupted", "error", err)
		}
	}()
}

// readableAddresses returns the distinct readable group addresses, sorted.
// deviceID limits the result to one device when non-empty.
func (b *Bridge) readableAddresses(deviceID string) []string {
	b.mappingMu.RLock()
	defer b.mappingMu.RUnlock()

	seen := make(map[string]bool)
	for id, addrs := range b.deviceToGAs {
		if deviceID != "" && id != deviceID {
			continue
		}
		for _, addr := range addrs {
			if addr.HasFlag(FlagRead) {
				seen[addr.GA] = true
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// readAllDevices sends GroupValue_Read for every readable address, spaced
// by interReadDelay. Responses arrive as regular events.
func (b *Bridge) readAllDevices(ctx context.Context) (int, error) {
	return b.sendReads(ctx, b.readableAddresses(""))
}

func (b *Bridge) sendReads(ctx context.Context, gas []string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, readAllTimeout)
	defer cancel()

	sent := 0
	for i, ga := range gas {
		if i > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(interReadDelay):
			}
		}
		if err := b.link.RequestRead(ctx, ga); err != nil {
			if errors.Is(err, connection.ErrNotConnected) || errors.Is(err, connection.ErrClosed) {
				return sent, err
			}
			b.logWarn("read request failed", "ga", ga, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		b.logInfo("read requests sent", "count", sent)
	}
	return sent, nil
}

// ─── MQTT ────────────────────────────────────────────────────────────

func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	switch mqtt.Category(topic) {
	case "command":
		return b.handleCommand(topic, payload)
	case "request":
		return b.handleRequest(payload)
	default:
		return fmt.Errorf("unexpected topic %q", topic)
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topic[strings.LastIndex(topic, "/")+1:]
	}
	b.commandsReceived.Add(1)

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	b.mappingMu.RLock()
	deviceGAs, ok := b.deviceToGAs[cmd.DeviceID]
	b.mappingMu.RUnlock()

	var ga string
	var err error
	if !ok {
		err = fmt.Errorf("%w: %s", ErrUnknownDevice, cmd.DeviceID)
	} else {
		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		ga, err = b.executeCommand(ctx, cmd, deviceGAs)
		cancel()
	}

	if b.commands != nil {
		b.commands.RecordCommand(cmd.Command, err)
	}
	if err != nil {
		b.commandsFailed.Add(1)
		b.logWarn("command failed", "command_id", cmd.ID, "device_id", cmd.DeviceID, "error", err)
		b.publishAck(NewAckError(cmd, ga, errorCode(err), err.Error()))
		return nil
	}
	b.publishAck(NewAckMessage(cmd, AckAccepted, ga))
	return nil
}

// executeCommand sends the telegram for cmd and returns the group address
// it used.
func (b *Bridge) executeCommand(ctx context.Context, cmd CommandMessage, deviceGAs map[string]AddressConfig) (string, error) {
	var (
		fns   []string
		value any
	)

	switch cmd.Command {
	case "on", "off":
		fns, value = commandFunctions[cmd.Command], cmd.Command == "on"
	case "dim":
		level, err := percentParam(cmd.Parameters, "level")
		if err != nil {
			return "", err
		}
		if _, _, ok := resolveFunction(deviceGAs, "brightness"); !ok {
			// Switch-only dimmers get on/off.
			fns, value = commandFunctions["on"], level > 0
			break
		}
		fns, value = commandFunctions["dim"], level
	case "set_position":
		pos, err := percentParam(cmd.Parameters, "position")
		if err != nil {
			return "", err
		}
		fns, value = commandFunctions["set_position"], pos
	case "set_tilt":
		tilt, err := percentParam(cmd.Parameters, "tilt")
		if err != nil {
			return "", err
		}
		fns, value = commandFunctions["set_tilt"], tilt
	case "stop":
		fns, value = commandFunctions["stop"], true
	case "write":
		fn, _ := cmd.Parameters["function"].(string)
		if fn == "" {
			return "", fmt.Errorf("%w: 'function' is required", ErrInvalidParameter)
		}
		v, ok := cmd.Parameters["value"]
		if !ok {
			return "", fmt.Errorf("%w: 'value' is required", ErrInvalidParameter)
		}
		fns, value = []string{fn}, v
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Command)
	}

	addr, err := writableAddress(deviceGAs, fns)
	if err != nil {
		return "", err
	}
	if err := b.link.Write(ctx, addr.GA, value, addr.DPT); err != nil {
		return addr.GA, err
	}
	return addr.GA, nil
}

// writableAddress returns the first of fns the device can be written on.
func writableAddress(deviceGAs map[string]AddressConfig, fns []string) (AddressConfig, error) {
	for _, fn := range fns {
		if _, addr, ok := resolveFunction(deviceGAs, fn); ok && addr.HasFlag(FlagWrite) {
			return addr, nil
		}
	}
	return AddressConfig{}, fmt.Errorf("%w: %s", ErrNoAddress, strings.Join(fns, "/"))
}

func percentParam(params map[string]any, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing '%s'", ErrInvalidParameter, key)
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: '%s' must be a number", ErrInvalidParameter, key)
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("%w: '%s' must be 0-100, got %.2f", ErrInvalidParameter, key, v)
	}
	return v, nil
}

// errorCode maps a command error to the code carried in its ack.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDevice), errors.Is(err, ErrNoAddress):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameter),
		errors.Is(err, dpt.ErrEncodingFailed),
		errors.Is(err, dpt.ErrInvalidDPT):
		return ErrCodeInvalidParameters
	case errors.Is(err, address.ErrInvalidAddress):
		return ErrCodeProtocolError
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeDeviceUnreachable
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.Ack(ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) handleRequest(payload []byte) error {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	if req.RequestID == "" {
		return fmt.Errorf("request without request_id")
	}

	b.logDebug("received request", "request_id", req.RequestID, "action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case "read_state":
		resp = b.handleReadState(req)
	case "read_all":
		resp = b.handleReadAll(req)
	case "link_status":
		resp = b.handleLinkStatus(req)
	default:
		resp = errorResponse(req.RequestID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown action: %s", req.Action))
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	if err := b.mqtt.Publish(mqtt.Topics{}.Response(req.RequestID), out, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
	return nil
}

// handleReadState requests fresh values for one device and returns the
// cached state alongside.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return errorResponse(req.RequestID, ErrCodeInvalidParameters, "device_id is required")
	}

	b.mappingMu.RLock()
	_, ok := b.deviceToGAs[req.DeviceID]
	b.mappingMu.RUnlock()
	if !ok {
		return errorResponse(req.RequestID, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", req.DeviceID))
	}

	sent, err := b.sendReads(b.ctx, b.readableAddresses(req.DeviceID))
	if err != nil {
		return errorResponse(req.RequestID, errorCode(err), err.Error())
	}

	state, _ := b.DeviceState(req.DeviceID)
	return successResponse(req.RequestID, map[string]any{
		"device_id":  req.DeviceID,
		"reads_sent": sent,
		"state":      state,
	})
}

func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	sent, err := b.readAllDevices(b.ctx)
	if err != nil {
		return errorResponse(req.RequestID, errorCode(err), err.Error())
	}
	return successResponse(req.RequestID, map[string]any{
		"reads_sent": sent,
		"message":    "read requests sent, state updates will follow",
	})
}

func (b *Bridge) handleLinkStatus(req RequestMessage) ResponseMessage {
	stats := b.link.Stats()
	return successResponse(req.RequestID, map[string]any{
		"connected":       b.link.IsConnected(),
		"mode":            stats.Mode,
		"state":           string(stats.State),
		"frames_rx":       stats.FramesRx,
		"frames_tx":       stats.FramesTx,
		"tunnel_failures": stats.TunnelFailures,
		"reconnects":      stats.Reconnects,
	})
}

// ─── Logging ─────────────────────────────────────────────────────────

// SetLogger sets the logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}
