package frame

import (
	"encoding/binary"
	"fmt"
)

// Header constants.
const (
	HeaderLength    = 6
	ProtocolVersion = 0x10
)

// ServiceType identifies the KNXnet/IP service carried by a frame.
type ServiceType uint16

// Service types.
const (
	ServiceSearchRequest       ServiceType = 0x0201
	ServiceSearchResponse      ServiceType = 0x0202
	ServiceDescriptionRequest  ServiceType = 0x0203
	ServiceDescriptionResponse ServiceType = 0x0204
	ServiceConnectRequest      ServiceType = 0x0205
	ServiceConnectResponse     ServiceType = 0x0206
	ServiceConnStateRequest    ServiceType = 0x0207
	ServiceConnStateResponse   ServiceType = 0x0208
	ServiceDisconnectRequest   ServiceType = 0x0209
	ServiceDisconnectResponse  ServiceType = 0x020A
	ServiceDeviceConfigRequest ServiceType = 0x0310
	ServiceDeviceConfigAck     ServiceType = 0x0311
	ServiceTunnelingRequest    ServiceType = 0x0420
	ServiceTunnelingAck        ServiceType = 0x0421
	ServiceRoutingIndication   ServiceType = 0x0530
	ServiceRoutingLostMessage  ServiceType = 0x0531
)

var serviceNames = map[ServiceType]string{
	ServiceSearchRequest:       "SEARCH_REQUEST",
	ServiceSearchResponse:      "SEARCH_RESPONSE",
	ServiceDescriptionRequest:  "DESCRIPTION_REQUEST",
	ServiceDescriptionResponse: "DESCRIPTION_RESPONSE",
	ServiceConnectRequest:      "CONNECT_REQUEST",
	ServiceConnectResponse:     "CONNECT_RESPONSE",
	ServiceConnStateRequest:    "CONNECTIONSTATE_REQUEST",
	ServiceConnStateResponse:   "CONNECTIONSTATE_RESPONSE",
	ServiceDisconnectRequest:   "DISCONNECT_REQUEST",
	ServiceDisconnectResponse:  "DISCONNECT_RESPONSE",
	ServiceDeviceConfigRequest: "DEVICE_CONFIGURATION_REQUEST",
	ServiceDeviceConfigAck:     "DEVICE_CONFIGURATION_ACK",
	ServiceTunnelingRequest:    "TUNNELING_REQUEST",
	ServiceTunnelingAck:        "TUNNELING_ACK",
	ServiceRoutingIndication:   "ROUTING_INDICATION",
	ServiceRoutingLostMessage:  "ROUTING_LOST_MESSAGE",
}

// String returns the service name, e.g. "TUNNELING_REQUEST".
func (s ServiceType) String() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SERVICE_0x%04X", uint16(s))
}

// Known reports whether the service type is one of the defined codes.
func (s ServiceType) Known() bool {
	_, ok := serviceNames[s]
	return ok
}

// Header is the fixed 6-byte KNXnet/IP frame header.
type Header struct {
	HeaderLength    uint8
	ProtocolVersion uint8
	ServiceType     ServiceType
	TotalLength     uint16
}

func (h Header) appendTo(b []byte) []byte {
	b = append(b, h.HeaderLength, h.ProtocolVersion)
	b = binary.BigEndian.AppendUint16(b, uint16(h.ServiceType))
	return binary.BigEndian.AppendUint16(b, h.TotalLength)
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrDecoding, HeaderLength, len(b))
	}
	h := Header{
		HeaderLength:    b[0],
		ProtocolVersion: b[1],
		ServiceType:     ServiceType(binary.BigEndian.Uint16(b[2:4])),
		TotalLength:     binary.BigEndian.Uint16(b[4:6]),
	}
	if h.HeaderLength != HeaderLength {
		return Header{}, fmt.Errorf("%w: header length %d, want %d", ErrDecoding, h.HeaderLength, HeaderLength)
	}
	if h.ProtocolVersion != ProtocolVersion {
		return Header{}, fmt.Errorf("%w: protocol version 0x%02X, want 0x%02X", ErrDecoding, h.ProtocolVersion, ProtocolVersion)
	}
	if int(h.TotalLength) < HeaderLength {
		return Header{}, fmt.Errorf("%w: total length %d shorter than header", ErrDecoding, h.TotalLength)
	}
	if int(h.TotalLength) > len(b) {
		return Header{}, fmt.Errorf("%w: total length %d exceeds buffer of %d bytes", ErrDecoding, h.TotalLength, len(b))
	}
	return h, nil
}
