package frame

import (
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
)

// Frame is a decoded KNXnet/IP datagram. Body is nil for service types the
// codec does not model.
type Frame struct {
	Header Header
	Body   Body
}

// New wraps a body in a frame with a filled-in header.
func New(body Body) *Frame {
	return &Frame{
		Header: Header{
			HeaderLength:    HeaderLength,
			ProtocolVersion: ProtocolVersion,
			ServiceType:     body.Service(),
			TotalLength:     uint16(HeaderLength + body.Len()), //nolint:gosec // bounded by Marshal
		},
		Body: body,
	}
}

// ServiceType returns the frame's service type.
func (f *Frame) ServiceType() ServiceType { return f.Header.ServiceType }

// Len returns the encoded size of the frame.
func (f *Frame) Len() int {
	if f.Body == nil {
		return HeaderLength
	}
	return HeaderLength + f.Body.Len()
}

// ChannelID returns the communication channel the frame belongs to. Frames
// without a connection header report false.
func (f *Frame) ChannelID() (uint8, bool) {
	switch b := f.Body.(type) {
	case *ConnectResponse:
		return b.State.ChannelID, true
	case *ConnectionStateRequest:
		return b.State.ChannelID, true
	case *ConnectionStateResponse:
		return b.State.ChannelID, true
	case *DisconnectRequest:
		return b.State.ChannelID, true
	case *DisconnectResponse:
		return b.State.ChannelID, true
	case *TunnelingRequest:
		return b.State.ChannelID, true
	case *TunnelingAck:
		return b.State.ChannelID, true
	default:
		return 0, false
	}
}

// CEMI returns the cEMI frame carried by tunneling requests and routing
// indications, or nil.
func (f *Frame) CEMI() *CEMI {
	switch b := f.Body.(type) {
	case *TunnelingRequest:
		return b.CEMI
	case *RoutingIndication:
		return b.CEMI
	default:
		return nil
	}
}

// Describe returns the signal name the connection machine dispatches on:
// the service name, extended with the cEMI primitive for frames that
// carry one (e.g. "TUNNELING_REQUEST_L_Data.ind").
func (f *Frame) Describe() string {
	name := f.Header.ServiceType.String()
	if c := f.CEMI(); c != nil {
		return name + "_" + c.MessageCode.String()
	}
	return name
}

// String returns a one-line summary for logging.
func (f *Frame) String() string {
	var sb strings.Builder
	sb.WriteString(f.Describe())
	if ch, ok := f.ChannelID(); ok {
		fmt.Fprintf(&sb, " ch=%d", ch)
	}
	switch b := f.Body.(type) {
	case *TunnelingRequest:
		fmt.Fprintf(&sb, " seq=%d", b.State.Sequence)
	case *TunnelingAck:
		fmt.Fprintf(&sb, " seq=%d status=%s", b.State.Sequence, b.State.Status)
	case *ConnectResponse:
		fmt.Fprintf(&sb, " status=%s", b.State.Status)
	case *ConnectionStateResponse:
		fmt.Fprintf(&sb, " status=%s", b.State.Status)
	}
	if c := f.CEMI(); c != nil && c.MessageCode.IsLData() {
		fmt.Fprintf(&sb, " %s %s->%s", c.APDU.APCI, c.Source, c.DestinationString())
	}
	return sb.String()
}

// Marshal encodes a frame. The header's total length is recomputed from the
// body; header and protocol version default to the standard values.
func Marshal(f *Frame) ([]byte, error) {
	if f == nil || f.Body == nil {
		return nil, fmt.Errorf("%w: frame without body", ErrEncoding)
	}
	if f.Header.ServiceType != 0 && f.Header.ServiceType != f.Body.Service() {
		return nil, fmt.Errorf("%w: header service %s does not match body %s", ErrEncoding, f.Header.ServiceType, f.Body.Service())
	}
	n := f.Len()
	if n > math.MaxUint16 {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrEncoding, n)
	}

	h := Header{
		HeaderLength:    HeaderLength,
		ProtocolVersion: ProtocolVersion,
		ServiceType:     f.Body.Service(),
		TotalLength:     uint16(n),
	}
	buf := h.appendTo(make([]byte, 0, n))
	buf, err := f.Body.appendTo(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) != n {
		return nil, fmt.Errorf("%w: %s encoded to %d bytes, expected %d", ErrEncoding, h.ServiceType, len(buf), n)
	}
	return buf, nil
}

// Unmarshal decodes a datagram. Bytes past the header's total length are
// ignored.
func Unmarshal(b []byte) (*Frame, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return nil, err
	}
	body, err := decodeBody(h.ServiceType, b[HeaderLength:h.TotalLength])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.ServiceType, err)
	}
	return &Frame{Header: h, Body: body}, nil
}

// NewConnectRequest builds a link-layer tunnel CONNECT_REQUEST.
func NewConnectRequest(control, data *net.UDPAddr) *Frame {
	return New(&ConnectRequest{Control: NewHPAI(control), Tunnel: NewHPAI(data), CRI: TunnelCRI()})
}

// NewConnectionStateRequest builds a heartbeat for channel.
func NewConnectionStateRequest(channel uint8, control *net.UDPAddr) *Frame {
	return New(&ConnectionStateRequest{State: ConnState{ChannelID: channel}, Control: NewHPAI(control)})
}

// NewDisconnectRequest builds a DISCONNECT_REQUEST for channel.
func NewDisconnectRequest(channel uint8, control *net.UDPAddr) *Frame {
	return New(&DisconnectRequest{State: ConnState{ChannelID: channel}, Control: NewHPAI(control)})
}

// NewDisconnectResponse builds a DISCONNECT_RESPONSE for channel.
func NewDisconnectResponse(channel uint8, status Status) *Frame {
	return New(&DisconnectResponse{State: ConnState{ChannelID: channel, Status: status}})
}

// NewTunnelingRequest wraps a cEMI frame for channel with sequence number seq.
func NewTunnelingRequest(channel, seq uint8, cemi *CEMI) *Frame {
	return New(&TunnelingRequest{State: TunnState{ChannelID: channel, Sequence: seq}, CEMI: cemi})
}

// NewTunnelingAck acknowledges sequence number seq on channel.
func NewTunnelingAck(channel, seq uint8, status Status) *Frame {
	return New(&TunnelingAck{State: TunnState{ChannelID: channel, Sequence: seq, Status: status}})
}

// NewRoutingIndication wraps a cEMI frame for multicast.
func NewRoutingIndication(cemi *CEMI) *Frame {
	return New(&RoutingIndication{CEMI: cemi})
}

// NewSearchRequest builds a discovery SEARCH_REQUEST answering to discovery.
func NewSearchRequest(discovery *net.UDPAddr) *Frame {
	return New(&SearchRequest{Discovery: NewHPAI(discovery)})
}

// NewGroupWrite builds a GroupValue_Write cEMI frame.
func NewGroupWrite(code MessageCode, src address.PhysicalAddress, dst address.GroupAddress, data []byte, bits int) *CEMI {
	return NewGroupCEMI(code, src, dst, NewAPDU(GroupValueWrite, data, bits))
}
