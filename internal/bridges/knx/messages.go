package knx

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
)

// ProtocolKNX identifies the protocol in published messages.
const ProtocolKNX = "knx"

// CommandMessage asks the bridge to act on a device.
// Topic: knxip/command/{device_id}
type CommandMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// DeviceID defaults to the last topic level when empty.
	DeviceID string `json:"device_id"`

	// Command is on, off, dim, set_position, set_tilt, stop or write.
	Command string `json:"command"`

	// Parameters carry command values:
	//   {"level": 50} for dim
	//   {"position": 75} for set_position
	//   {"function": "setpoint", "value": 21.5} for write
	Parameters map[string]any `json:"parameters,omitempty"`

	Source string `json:"source,omitempty"`
}

type commandAlias CommandMessage

// UnmarshalJSON accepts a missing or RFC 3339 timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	aux := &struct {
		*commandAlias
		Timestamp string `json:"timestamp"`
	}{commandAlias: (*commandAlias)(m)}

	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the telegram was handed to the bus.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout means the link did not accept the telegram in time.
	AckTimeout AckStatus = "timeout"
)

// Error codes carried in acks and responses.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
)

// AckMessage answers a command.
// Topic: knxip/ack/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address,omitempty"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAckMessage builds a successful ack.
func NewAckMessage(cmd CommandMessage, status AckStatus, ga string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  ProtocolKNX,
		Address:   ga,
	}
}

// NewAckError builds a failed ack. ErrCodeTimeout yields AckTimeout.
func NewAckError(cmd CommandMessage, ga, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, ga)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// StateMessage carries decoded device state.
// Topic: knxip/state/{device_id}, QoS 1, retained.
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// NewStateMessage builds a state message.
func NewStateMessage(deviceID, ga string, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  ProtocolKNX,
		Address:   ga,
	}
}

// BusMessage mirrors one group telegram.
// Topic: knxip/bus/{ga}, QoS 0.
type BusMessage struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Service     string    `json:"service"`
	Data        string    `json:"data"` // hex
	DPT         string    `json:"dpt,omitempty"`
	Value       any       `json:"value,omitempty"`
}

// HealthStatus is the bridge's operational status.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline" // last will
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: knxip/health, QoS 1, retained.
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version,omitempty"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Link           *LinkStatus       `json:"link,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// LinkStatus describes the KNXnet/IP connection.
type LinkStatus struct {
	Mode           string     `json:"mode"`
	State          string     `json:"state"`
	Connected      bool       `json:"connected"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics are link counters.
type BridgeStatistics struct {
	FramesReceived uint64 `json:"frames_received"`
	FramesSent     uint64 `json:"frames_sent"`
	TunnelFailures uint64 `json:"tunnel_failures"`
	Reconnects     uint64 `json:"reconnects"`
	Errors         uint64 `json:"errors"`
}

// NewHealthMessage builds a health message from link statistics.
func NewHealthMessage(bridgeID, version string, status HealthStatus, connected bool, stats connection.Stats, deviceCount int, startTime time.Time) HealthMessage {
	link := &LinkStatus{
		Mode:      stats.Mode,
		State:     string(stats.State),
		Connected: connected,
	}
	if connected && !stats.ConnectedAt.IsZero() {
		since := stats.ConnectedAt.UTC()
		link.ConnectedSince = &since
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		link.LastActivity = &last
	}

	return HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Link:          link,
		Statistics: &BridgeStatistics{
			FramesReceived: stats.FramesRx,
			FramesSent:     stats.FramesTx,
			TunnelFailures: stats.TunnelFailures,
			Reconnects:     stats.Reconnects,
			Errors:         stats.ErrorsTotal,
		},
		DevicesManaged: deviceCount,
	}
}

// NewLWTMessage builds the last will published by the broker when the
// bridge drops off without a clean disconnect.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// RequestMessage asks the bridge for an operation with a correlated
// response.
// Topic: knxip/request/{request_id}
type RequestMessage struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"` // read_state, read_all, link_status
	DeviceID   string         `json:"device_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a request.
// Topic: knxip/response/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed request.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func successResponse(requestID string, data map[string]any) ResponseMessage {
	return ResponseMessage{RequestID: requestID, Timestamp: time.Now().UTC(), Success: true, Data: data}
}

func errorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Error:     &ResponseError{Code: code, Message: message},
	}
}
