package frame

import (
	"encoding/binary"
	"fmt"
)

// Body is the service-specific part of a frame.
type Body interface {
	// Service returns the service type the body is sent under.
	Service() ServiceType
	// Len returns the encoded size of the body.
	Len() int

	appendTo(b []byte) ([]byte, error)
}

func missing(svc ServiceType, what string) error {
	return fmt.Errorf("%w: %s without %s", ErrEncoding, svc, what)
}

// ConnectRequest opens a tunnel connection.
type ConnectRequest struct {
	Control *HPAI
	Tunnel  *HPAI
	CRI     *CRI
}

func (*ConnectRequest) Service() ServiceType { return ServiceConnectRequest }

func (r *ConnectRequest) Len() int { return hpaiLength*2 + criLength }

func (r *ConnectRequest) appendTo(b []byte) ([]byte, error) {
	switch {
	case r.Control == nil:
		return nil, missing(r.Service(), "control endpoint")
	case r.Tunnel == nil:
		return nil, missing(r.Service(), "tunnel endpoint")
	case r.CRI == nil:
		return nil, missing(r.Service(), "CRI")
	}
	b, err := r.Control.appendTo(b)
	if err != nil {
		return nil, err
	}
	if b, err = r.Tunnel.appendTo(b); err != nil {
		return nil, err
	}
	return r.CRI.appendTo(b), nil
}

// ConnectResponse answers a ConnectRequest. DataEndpoint and CRD are only
// present when State.Status is StatusOK.
type ConnectResponse struct {
	State        ConnState
	DataEndpoint *HPAI
	CRD          *CRI
}

func (*ConnectResponse) Service() ServiceType { return ServiceConnectResponse }

func (r *ConnectResponse) Len() int {
	n := connStateLength
	if r.DataEndpoint != nil {
		n += hpaiLength
	}
	if r.CRD != nil {
		n += criLength
	}
	return n
}

func (r *ConnectResponse) appendTo(b []byte) ([]byte, error) {
	if r.CRD != nil && r.DataEndpoint == nil {
		return nil, missing(r.Service(), "data endpoint before CRD")
	}
	b = r.State.appendTo(b)
	if r.DataEndpoint != nil {
		var err error
		if b, err = r.DataEndpoint.appendTo(b); err != nil {
			return nil, err
		}
	}
	if r.CRD != nil {
		b = r.CRD.appendTo(b)
	}
	return b, nil
}

// ConnectionStateRequest is the tunnel heartbeat.
type ConnectionStateRequest struct {
	State   ConnState
	Control *HPAI
}

func (*ConnectionStateRequest) Service() ServiceType { return ServiceConnStateRequest }

func (r *ConnectionStateRequest) Len() int { return connStateLength + hpaiLength }

func (r *ConnectionStateRequest) appendTo(b []byte) ([]byte, error) {
	if r.Control == nil {
		return nil, missing(r.Service(), "control endpoint")
	}
	return r.Control.appendTo(r.State.appendTo(b))
}

// ConnectionStateResponse answers a heartbeat.
type ConnectionStateResponse struct {
	State ConnState
}

func (*ConnectionStateResponse) Service() ServiceType { return ServiceConnStateResponse }

func (r *ConnectionStateResponse) Len() int { return connStateLength }

func (r *ConnectionStateResponse) appendTo(b []byte) ([]byte, error) {
	return r.State.appendTo(b), nil
}

// DisconnectRequest closes a tunnel. Either side may send it.
type DisconnectRequest struct {
	State   ConnState
	Control *HPAI
}

func (*DisconnectRequest) Service() ServiceType { return ServiceDisconnectRequest }

func (r *DisconnectRequest) Len() int { return connStateLength + hpaiLength }

func (r *DisconnectRequest) appendTo(b []byte) ([]byte, error) {
	if r.Control == nil {
		return nil, missing(r.Service(), "control endpoint")
	}
	return r.Control.appendTo(r.State.appendTo(b))
}

// DisconnectResponse answers a DisconnectRequest.
type DisconnectResponse struct {
	State ConnState
}

func (*DisconnectResponse) Service() ServiceType { return ServiceDisconnectResponse }

func (r *DisconnectResponse) Len() int { return connStateLength }

func (r *DisconnectResponse) appendTo(b []byte) ([]byte, error) {
	return r.State.appendTo(b), nil
}

// TunnelingRequest carries a cEMI frame over a tunnel.
type TunnelingRequest struct {
	State TunnState
	CEMI  *CEMI
}

func (*TunnelingRequest) Service() ServiceType { return ServiceTunnelingRequest }

func (r *TunnelingRequest) Len() int {
	if r.CEMI == nil {
		return tunnStateLength
	}
	return tunnStateLength + r.CEMI.Len()
}

func (r *TunnelingRequest) appendTo(b []byte) ([]byte, error) {
	if r.CEMI == nil {
		return nil, missing(r.Service(), "cEMI")
	}
	return r.CEMI.appendTo(r.State.appendTo(b))
}

// TunnelingAck acknowledges a TunnelingRequest by sequence number.
type TunnelingAck struct {
	State TunnState
}

func (*TunnelingAck) Service() ServiceType { return ServiceTunnelingAck }

func (r *TunnelingAck) Len() int { return tunnStateLength }

func (r *TunnelingAck) appendTo(b []byte) ([]byte, error) {
	return r.State.appendTo(b), nil
}

// RoutingIndication carries a cEMI frame over multicast.
type RoutingIndication struct {
	CEMI *CEMI
}

func (*RoutingIndication) Service() ServiceType { return ServiceRoutingIndication }

func (r *RoutingIndication) Len() int {
	if r.CEMI == nil {
		return 0
	}
	return r.CEMI.Len()
}

func (r *RoutingIndication) appendTo(b []byte) ([]byte, error) {
	if r.CEMI == nil {
		return nil, missing(r.Service(), "cEMI")
	}
	return r.CEMI.appendTo(b)
}

// RoutingLostMessage reports frames a router dropped because of overflow.
type RoutingLostMessage struct {
	DeviceState uint8
	Lost        uint16
}

func (*RoutingLostMessage) Service() ServiceType { return ServiceRoutingLostMessage }

func (r *RoutingLostMessage) Len() int { return 4 }

func (r *RoutingLostMessage) appendTo(b []byte) ([]byte, error) {
	b = append(b, 4, r.DeviceState)
	return binary.BigEndian.AppendUint16(b, r.Lost), nil
}

// SearchRequest asks servers on the discovery endpoint to identify
// themselves.
type SearchRequest struct {
	Discovery *HPAI
}

func (*SearchRequest) Service() ServiceType { return ServiceSearchRequest }

func (r *SearchRequest) Len() int { return hpaiLength }

func (r *SearchRequest) appendTo(b []byte) ([]byte, error) {
	if r.Discovery == nil {
		return nil, missing(r.Service(), "discovery endpoint")
	}
	return r.Discovery.appendTo(b)
}

// SearchResponse identifies a server found by a SearchRequest.
type SearchResponse struct {
	Control  *HPAI
	Device   *DeviceInfo
	Families []ServiceFamily
}

func (*SearchResponse) Service() ServiceType { return ServiceSearchResponse }

func (r *SearchResponse) Len() int { return hpaiLength + deviceInfoLength + familiesLen(r.Families) }

func (r *SearchResponse) appendTo(b []byte) ([]byte, error) {
	switch {
	case r.Control == nil:
		return nil, missing(r.Service(), "control endpoint")
	case r.Device == nil:
		return nil, missing(r.Service(), "device info")
	}
	b, err := r.Control.appendTo(b)
	if err != nil {
		return nil, err
	}
	if b, err = r.Device.appendTo(b); err != nil {
		return nil, err
	}
	return appendFamilies(b, r.Families)
}

// DescriptionRequest asks a known server for its description.
type DescriptionRequest struct {
	Control *HPAI
}

func (*DescriptionRequest) Service() ServiceType { return ServiceDescriptionRequest }

func (r *DescriptionRequest) Len() int { return hpaiLength }

func (r *DescriptionRequest) appendTo(b []byte) ([]byte, error) {
	if r.Control == nil {
		return nil, missing(r.Service(), "control endpoint")
	}
	return r.Control.appendTo(b)
}

// DescriptionResponse answers a DescriptionRequest.
type DescriptionResponse struct {
	Device   *DeviceInfo
	Families []ServiceFamily
}

func (*DescriptionResponse) Service() ServiceType { return ServiceDescriptionResponse }

func (r *DescriptionResponse) Len() int { return deviceInfoLength + familiesLen(r.Families) }

func (r *DescriptionResponse) appendTo(b []byte) ([]byte, error) {
	if r.Device == nil {
		return nil, missing(r.Service(), "device info")
	}
	b, err := r.Device.appendTo(b)
	if err != nil {
		return nil, err
	}
	return appendFamilies(b, r.Families)
}

// decodeBody parses the body of a known service. It returns nil, nil for
// service types without a model.
func decodeBody(svc ServiceType, b []byte) (Body, error) {
	switch svc {
	case ServiceConnectRequest:
		ctrl, err := decodeHPAI(b)
		if err != nil {
			return nil, err
		}
		tun, err := decodeHPAI(b[hpaiLength:])
		if err != nil {
			return nil, err
		}
		cri, err := decodeCRI(b[2*hpaiLength:])
		if err != nil {
			return nil, err
		}
		return &ConnectRequest{Control: ctrl, Tunnel: tun, CRI: cri}, nil

	case ServiceConnectResponse:
		st, err := decodeConnState(b)
		if err != nil {
			return nil, err
		}
		r := &ConnectResponse{State: st}
		rest := b[connStateLength:]
		if len(rest) == 0 {
			return r, nil
		}
		if r.DataEndpoint, err = decodeHPAI(rest); err != nil {
			return nil, err
		}
		if rest = rest[hpaiLength:]; len(rest) > 0 {
			if r.CRD, err = decodeCRI(rest); err != nil {
				return nil, err
			}
		}
		return r, nil

	case ServiceConnStateRequest, ServiceDisconnectRequest:
		st, err := decodeConnState(b)
		if err != nil {
			return nil, err
		}
		ctrl, err := decodeHPAI(b[connStateLength:])
		if err != nil {
			return nil, err
		}
		if svc == ServiceConnStateRequest {
			return &ConnectionStateRequest{State: st, Control: ctrl}, nil
		}
		return &DisconnectRequest{State: st, Control: ctrl}, nil

	case ServiceConnStateResponse, ServiceDisconnectResponse:
		st, err := decodeConnState(b)
		if err != nil {
			return nil, err
		}
		if svc == ServiceConnStateResponse {
			return &ConnectionStateResponse{State: st}, nil
		}
		return &DisconnectResponse{State: st}, nil

	case ServiceTunnelingRequest:
		st, err := decodeTunnState(b)
		if err != nil {
			return nil, err
		}
		cemi, err := decodeCEMI(b[tunnStateLength:])
		if err != nil {
			return nil, err
		}
		return &TunnelingRequest{State: st, CEMI: cemi}, nil

	case ServiceTunnelingAck:
		st, err := decodeTunnState(b)
		if err != nil {
			return nil, err
		}
		return &TunnelingAck{State: st}, nil

	case ServiceRoutingIndication:
		cemi, err := decodeCEMI(b)
		if err != nil {
			return nil, err
		}
		return &RoutingIndication{CEMI: cemi}, nil

	case ServiceRoutingLostMessage:
		if len(b) < 4 || b[0] != 4 {
			return nil, fmt.Errorf("%w: malformed ROUTING_LOST_MESSAGE", ErrDecoding)
		}
		return &RoutingLostMessage{DeviceState: b[1], Lost: binary.BigEndian.Uint16(b[2:4])}, nil

	case ServiceSearchRequest, ServiceDescriptionRequest:
		ep, err := decodeHPAI(b)
		if err != nil {
			return nil, err
		}
		if svc == ServiceSearchRequest {
			return &SearchRequest{Discovery: ep}, nil
		}
		return &DescriptionRequest{Control: ep}, nil

	case ServiceSearchResponse:
		ctrl, err := decodeHPAI(b)
		if err != nil {
			return nil, err
		}
		dev, families, err := decodeDIBs(b[hpaiLength:])
		if err != nil {
			return nil, err
		}
		return &SearchResponse{Control: ctrl, Device: dev, Families: families}, nil

	case ServiceDescriptionResponse:
		dev, families, err := decodeDIBs(b)
		if err != nil {
			return nil, err
		}
		return &DescriptionResponse{Device: dev, Families: families}, nil

	default:
		return nil, nil
	}
}
