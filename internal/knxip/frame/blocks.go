package frame

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
)

// Block sizes.
const (
	hpaiLength      = 8
	criLength       = 4
	connStateLength = 2
	tunnStateLength = 4
)

// HostProtocol is the transport named by an HPAI.
type HostProtocol uint8

// Host protocols.
const (
	ProtocolUDP HostProtocol = 0x01
	ProtocolTCP HostProtocol = 0x02
)

// HPAI is a host protocol address information block: an IPv4 endpoint.
type HPAI struct {
	Protocol HostProtocol
	IP       net.IP
	Port     uint16
}

// NewHPAI returns a UDP endpoint block. A nil addr yields the 0.0.0.0:0
// route-back endpoint used behind NAT.
func NewHPAI(addr *net.UDPAddr) *HPAI {
	h := &HPAI{Protocol: ProtocolUDP, IP: net.IPv4zero.To4()}
	if addr != nil {
		if ip4 := addr.IP.To4(); ip4 != nil {
			h.IP = ip4
		}
		h.Port = uint16(addr.Port) //nolint:gosec // UDP ports fit 16 bits
	}
	return h
}

// Len returns the encoded size of the block.
func (h *HPAI) Len() int { return hpaiLength }

// UDPAddr returns the endpoint as a net.UDPAddr.
func (h *HPAI) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: h.IP, Port: int(h.Port)}
}

// String returns "ip:port".
func (h *HPAI) String() string {
	return h.UDPAddr().String()
}

func (h *HPAI) appendTo(b []byte) ([]byte, error) {
	if h.Protocol != ProtocolUDP {
		return nil, fmt.Errorf("%w: %w: protocol 0x%02X", ErrEncoding, ErrUnsupportedProtocol, uint8(h.Protocol))
	}
	ip := h.IP.To4()
	if ip == nil {
		if h.IP != nil {
			return nil, fmt.Errorf("%w: HPAI address %v is not IPv4", ErrEncoding, h.IP)
		}
		ip = net.IPv4zero.To4()
	}
	b = append(b, hpaiLength, byte(h.Protocol))
	b = append(b, ip...)
	return binary.BigEndian.AppendUint16(b, h.Port), nil
}

func decodeHPAI(b []byte) (*HPAI, error) {
	if len(b) < hpaiLength {
		return nil, fmt.Errorf("%w: HPAI needs %d bytes, got %d", ErrDecoding, hpaiLength, len(b))
	}
	if b[0] != hpaiLength {
		return nil, fmt.Errorf("%w: HPAI structure length %d", ErrDecoding, b[0])
	}
	proto := HostProtocol(b[1])
	if proto != ProtocolUDP {
		return nil, fmt.Errorf("%w: %w: protocol 0x%02X", ErrDecoding, ErrUnsupportedProtocol, b[1])
	}
	return &HPAI{
		Protocol: proto,
		IP:       net.IPv4(b[2], b[3], b[4], b[5]).To4(),
		Port:     binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

// ConnectionType is the kind of connection requested in a CRI.
type ConnectionType uint8

// Connection types.
const (
	ConnectionDeviceManagement ConnectionType = 0x03
	ConnectionTunnel           ConnectionType = 0x04
	ConnectionRemoteLogging    ConnectionType = 0x06
	ConnectionRemoteConfig     ConnectionType = 0x07
	ConnectionObjectServer     ConnectionType = 0x08
)

// Layer is the KNX layer requested for a tunnel connection.
type Layer uint8

// Tunnel layers.
const (
	LayerLink       Layer = 0x02
	LayerRaw        Layer = 0x04
	LayerBusMonitor Layer = 0x80
)

// CRI is a connection request information block. In a CONNECT_RESPONSE the
// same layout carries the connection response data block, where Layer and
// Reserved hold the individual address assigned to the tunnel.
type CRI struct {
	ConnectionType ConnectionType
	Layer          Layer
	Reserved       uint8
}

// TunnelCRI returns the CRI for a link-layer tunnel.
func TunnelCRI() *CRI {
	return &CRI{ConnectionType: ConnectionTunnel, Layer: LayerLink}
}

// Len returns the encoded size of the block.
func (c *CRI) Len() int { return criLength }

// IndividualAddress interprets the block as a CRD and returns the tunnel's
// assigned individual address.
func (c *CRI) IndividualAddress() address.PhysicalAddress {
	return address.PhysicalFromBytes([2]byte{byte(c.Layer), c.Reserved})
}

func (c *CRI) appendTo(b []byte) []byte {
	return append(b, criLength, byte(c.ConnectionType), byte(c.Layer), c.Reserved)
}

func decodeCRI(b []byte) (*CRI, error) {
	if len(b) < criLength {
		return nil, fmt.Errorf("%w: CRI needs %d bytes, got %d", ErrDecoding, criLength, len(b))
	}
	if b[0] != criLength {
		return nil, fmt.Errorf("%w: CRI structure length %d", ErrDecoding, b[0])
	}
	return &CRI{ConnectionType: ConnectionType(b[1]), Layer: Layer(b[2]), Reserved: b[3]}, nil
}

// Status is a KNXnet/IP status or error code.
type Status uint8

// Status codes.
const (
	StatusOK                  Status = 0x00
	StatusHostProtocolType    Status = 0x01
	StatusVersionNotSupported Status = 0x02
	StatusSequenceNumber      Status = 0x04
	StatusConnectionID        Status = 0x21
	StatusConnectionType      Status = 0x22
	StatusConnectionOption    Status = 0x23
	StatusNoMoreConnections   Status = 0x24
	StatusDataConnection      Status = 0x26
	StatusKNXConnection       Status = 0x27
	StatusTunnelingLayer      Status = 0x29
)

var statusNames = map[Status]string{
	StatusOK:                  "E_NO_ERROR",
	StatusHostProtocolType:    "E_HOST_PROTOCOL_TYPE",
	StatusVersionNotSupported: "E_VERSION_NOT_SUPPORTED",
	StatusSequenceNumber:      "E_SEQUENCE_NUMBER",
	StatusConnectionID:        "E_CONNECTION_ID",
	StatusConnectionType:      "E_CONNECTION_TYPE",
	StatusConnectionOption:    "E_CONNECTION_OPTION",
	StatusNoMoreConnections:   "E_NO_MORE_CONNECTIONS",
	StatusDataConnection:      "E_DATA_CONNECTION",
	StatusKNXConnection:       "E_KNX_CONNECTION",
	StatusTunnelingLayer:      "E_TUNNELLING_LAYER",
}

// String returns the symbolic status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("E_0x%02X", uint8(s))
}

// ConnState is the channel id and status pair carried by connect,
// connection-state and disconnect frames. In requests Status is reserved.
type ConnState struct {
	ChannelID uint8
	Status    Status
}

// Len returns the encoded size of the block.
func (c ConnState) Len() int { return connStateLength }

func (c ConnState) appendTo(b []byte) []byte {
	return append(b, c.ChannelID, byte(c.Status))
}

func decodeConnState(b []byte) (ConnState, error) {
	if len(b) < connStateLength {
		return ConnState{}, fmt.Errorf("%w: connection state needs %d bytes, got %d", ErrDecoding, connStateLength, len(b))
	}
	return ConnState{ChannelID: b[0], Status: Status(b[1])}, nil
}

// TunnState is the connection header of tunneling requests and acks.
// Status is reserved in requests.
type TunnState struct {
	ChannelID uint8
	Sequence  uint8
	Status    Status
}

// Len returns the encoded size of the block.
func (t TunnState) Len() int { return tunnStateLength }

func (t TunnState) appendTo(b []byte) []byte {
	return append(b, tunnStateLength, t.ChannelID, t.Sequence, byte(t.Status))
}

func decodeTunnState(b []byte) (TunnState, error) {
	if len(b) < tunnStateLength {
		return TunnState{}, fmt.Errorf("%w: tunneling header needs %d bytes, got %d", ErrDecoding, tunnStateLength, len(b))
	}
	if b[0] != tunnStateLength {
		return TunnState{}, fmt.Errorf("%w: tunneling header length %d", ErrDecoding, b[0])
	}
	return TunnState{ChannelID: b[1], Sequence: b[2], Status: Status(b[3])}, nil
}
