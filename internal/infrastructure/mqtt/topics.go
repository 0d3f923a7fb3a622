package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the gateway's MQTT hierarchy.
//
// Device topics are keyed by device ID: knxip/{category}/{device_id}.
// Bus topics are keyed by the topic-encoded group address: knxip/bus/1%2F2%2F3.
const (
	// TopicPrefix is the base for all gateway topics.
	TopicPrefix = "knxip"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "knxip/system"

	// TopicPrefixBus is the base for raw group telegram topics.
	TopicPrefixBus = "knxip/bus"
)

// Topics provides builders for gateway MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("light-living-main")
//	// Returns: "knxip/state/light-living-main"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// State returns the topic for device state updates.
//
// Example: knxip/state/light-living-main
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Command returns the topic for commands to a device.
//
// Example: knxip/command/light-living-main
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Ack returns the topic for command acknowledgements.
//
// Example: knxip/ack/light-living-main
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// Request returns the topic for requests to the bridge.
//
// Example: knxip/request/req-abc123
func (Topics) Request(requestID string) string {
	return fmt.Sprintf("%s/request/%s", TopicPrefix, requestID)
}

// Response returns the topic for request responses.
//
// Example: knxip/response/req-abc123
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// Health returns the bridge health topic.
//
// Example: knxip/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// =============================================================================
// Bus Topics
// =============================================================================

// Bus returns the topic carrying raw telegrams for a group address.
//
// Example: knxip/bus/1%2F2%2F3
func (Topics) Bus(ga string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixBus, EncodeAddress(ga))
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the daemon status topic. It also carries the LWT.
//
// Example: knxip/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands matches commands to every device.
//
// Pattern: knxip/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllRequests matches every bridge request.
//
// Pattern: knxip/request/+
func (Topics) AllRequests() string {
	return fmt.Sprintf("%s/request/+", TopicPrefix)
}

// AllStates matches every device state update.
//
// Pattern: knxip/state/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllBus matches every raw group telegram.
//
// Pattern: knxip/bus/+
func (Topics) AllBus() string {
	return fmt.Sprintf("%s/+", TopicPrefixBus)
}

// AllTopics returns a pattern matching all gateway topics.
//
// Pattern: knxip/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// Category returns the second topic level ("command", "request", ...), or
// "" when topic is not under TopicPrefix.
func Category(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != TopicPrefix {
		return ""
	}
	return parts[1]
}

// EncodeAddress escapes the slashes of a group address so it fits in a
// single topic level. Example: "1/2/3" → "1%2F2%2F3".
func EncodeAddress(address string) string {
	return strings.ReplaceAll(address, "/", "%2F")
}

// DecodeAddress reverses EncodeAddress.
func DecodeAddress(encoded string) string {
	return strings.ReplaceAll(encoded, "%2F", "/")
}
