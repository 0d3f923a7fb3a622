package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
)

// MessageCode is the cEMI message code.
type MessageCode uint8

// cEMI message codes.
const (
	LRawReq      MessageCode = 0x10
	LDataReq     MessageCode = 0x11
	LPollDataReq MessageCode = 0x13
	LPollDataCon MessageCode = 0x25
	LDataInd     MessageCode = 0x29
	LBusmonInd   MessageCode = 0x2B
	LRawInd      MessageCode = 0x2D
	LDataCon     MessageCode = 0x2E
	LRawCon      MessageCode = 0x2F
)

var messageCodeNames = map[MessageCode]string{
	LRawReq:      "L_Raw.req",
	LDataReq:     "L_Data.req",
	LPollDataReq: "L_Poll_Data.req",
	LPollDataCon: "L_Poll_Data.con",
	LDataInd:     "L_Data.ind",
	LBusmonInd:   "L_Busmon.ind",
	LRawInd:      "L_Raw.ind",
	LDataCon:     "L_Data.con",
	LRawCon:      "L_Raw.con",
}

// String returns the cEMI primitive name, e.g. "L_Data.ind".
func (m MessageCode) String() string {
	if name, ok := messageCodeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("cEMI(0x%02X)", uint8(m))
}

// IsLData reports whether the code carries an L_Data frame.
func (m MessageCode) IsLData() bool {
	return m == LDataReq || m == LDataInd || m == LDataCon
}

// Priority is the 2-bit frame priority.
type Priority uint8

// Frame priorities.
const (
	PrioritySystem Priority = 0
	PriorityNormal Priority = 1
	PriorityUrgent Priority = 2
	PriorityLow    Priority = 3
)

// Control is the two control bytes of an L_Data cEMI frame.
//
// Byte 1 (bit 7 first): frame type, reserved, repeat, broadcast, priority
// (2 bits), acknowledge request, confirm.
// Byte 2: destination address type, hop count (3 bits), extended frame
// format (4 bits).
type Control struct {
	StandardFrame    bool
	Reserved         bool
	DoNotRepeat      bool
	Broadcast        bool
	Priority         Priority
	AckRequest       bool
	ConfirmError     bool
	GroupDestination bool
	HopCount         uint8
	ExtendedFormat   uint8
}

// DefaultControl returns the control field used for outgoing group
// telegrams: standard frame, no repeat, broadcast, low priority, group
// destination and hop count 6 (0xBC 0xE0).
func DefaultControl() Control {
	return Control{
		StandardFrame:    true,
		DoNotRepeat:      true,
		Broadcast:        true,
		Priority:         PriorityLow,
		GroupDestination: true,
		HopCount:         6,
	}
}

func bit(v bool, pos uint) byte {
	if v {
		return 1 << pos
	}
	return 0
}

// Bytes packs the control field.
func (c Control) Bytes() ([2]byte, error) {
	if c.Priority > PriorityLow {
		return [2]byte{}, fmt.Errorf("%w: priority %d exceeds 2 bits", ErrEncoding, c.Priority)
	}
	if c.HopCount > 7 {
		return [2]byte{}, fmt.Errorf("%w: hop count %d exceeds 3 bits", ErrEncoding, c.HopCount)
	}
	if c.ExtendedFormat > 0x0F {
		return [2]byte{}, fmt.Errorf("%w: extended frame format %d exceeds 4 bits", ErrEncoding, c.ExtendedFormat)
	}
	b1 := bit(c.StandardFrame, 7) | bit(c.Reserved, 6) | bit(c.DoNotRepeat, 5) | bit(c.Broadcast, 4) |
		byte(c.Priority)<<2 | bit(c.AckRequest, 1) | bit(c.ConfirmError, 0)
	b2 := bit(c.GroupDestination, 7) | c.HopCount<<4 | c.ExtendedFormat
	return [2]byte{b1, b2}, nil
}

// ControlFromBytes unpacks a control field.
func ControlFromBytes(b [2]byte) Control {
	return Control{
		StandardFrame:    b[0]&0x80 != 0,
		Reserved:         b[0]&0x40 != 0,
		DoNotRepeat:      b[0]&0x20 != 0,
		Broadcast:        b[0]&0x10 != 0,
		Priority:         Priority(b[0] >> 2 & 0x03),
		AckRequest:       b[0]&0x02 != 0,
		ConfirmError:     b[0]&0x01 != 0,
		GroupDestination: b[1]&0x80 != 0,
		HopCount:         b[1] >> 4 & 0x07,
		ExtendedFormat:   b[1] & 0x0F,
	}
}

// CEMI is a common External Message Interface frame.
//
// For L_Data message codes the link-layer fields (Control, Source,
// Destination, APDU) are populated. Other message codes keep everything
// after the additional information in Raw.
type CEMI struct {
	MessageCode    MessageCode
	AdditionalInfo []byte
	Control        Control
	Source         address.PhysicalAddress
	Destination    uint16
	APDU           APDU
	Raw            []byte
}

// NewGroupCEMI returns an L_Data frame addressed to a group with the
// default control field. The APDU is stored in canonical form.
func NewGroupCEMI(code MessageCode, src address.PhysicalAddress, dst address.GroupAddress, apdu APDU) *CEMI {
	return &CEMI{
		MessageCode: code,
		Control:     DefaultControl(),
		Source:      src,
		Destination: uint16(dst),
		APDU:        apdu.Canonical(),
	}
}

// GroupDestination returns the destination as a group address.
func (c *CEMI) GroupDestination() address.GroupAddress {
	return address.GroupAddress(c.Destination)
}

// PhysicalDestination returns the destination as an individual address.
func (c *CEMI) PhysicalDestination() address.PhysicalAddress {
	return address.PhysicalAddress(c.Destination)
}

// DestinationString formats the destination according to the control
// field's address type.
func (c *CEMI) DestinationString() string {
	if c.Control.GroupDestination {
		return c.GroupDestination().String()
	}
	return c.PhysicalDestination().String()
}

// Len returns the encoded size of the cEMI frame.
func (c *CEMI) Len() int {
	n := 2 + len(c.AdditionalInfo)
	if !c.MessageCode.IsLData() {
		return n + len(c.Raw)
	}
	return n + 6 + c.APDU.Len()
}

func (c *CEMI) appendTo(b []byte) ([]byte, error) {
	if len(c.AdditionalInfo) > 0xFF {
		return nil, fmt.Errorf("%w: additional info of %d bytes", ErrEncoding, len(c.AdditionalInfo))
	}
	b = append(b, byte(c.MessageCode), byte(len(c.AdditionalInfo)))
	b = append(b, c.AdditionalInfo...)
	if !c.MessageCode.IsLData() {
		return append(b, c.Raw...), nil
	}

	ctrl, err := c.Control.Bytes()
	if err != nil {
		return nil, err
	}
	b = append(b, ctrl[0], ctrl[1])
	b = binary.BigEndian.AppendUint16(b, uint16(c.Source))
	b = binary.BigEndian.AppendUint16(b, c.Destination)
	return c.APDU.appendTo(b)
}

func decodeCEMI(b []byte) (*CEMI, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: cEMI needs 2 bytes, got %d", ErrDecoding, len(b))
	}
	c := &CEMI{MessageCode: MessageCode(b[0])}
	infoLen := int(b[1])
	if len(b) < 2+infoLen {
		return nil, fmt.Errorf("%w: cEMI additional info of %d bytes truncated", ErrDecoding, infoLen)
	}
	if infoLen > 0 {
		c.AdditionalInfo = append([]byte(nil), b[2:2+infoLen]...)
	}
	rest := b[2+infoLen:]

	if !c.MessageCode.IsLData() {
		if len(rest) > 0 {
			c.Raw = append([]byte(nil), rest...)
		}
		return c, nil
	}

	if len(rest) < 6 {
		return nil, fmt.Errorf("%w: L_Data needs 6 bytes of addressing, got %d", ErrDecoding, len(rest))
	}
	c.Control = ControlFromBytes([2]byte{rest[0], rest[1]})
	c.Source = address.PhysicalAddress(binary.BigEndian.Uint16(rest[2:4]))
	c.Destination = binary.BigEndian.Uint16(rest[4:6])
	apdu, err := decodeAPDU(rest[6:])
	if err != nil {
		return nil, err
	}
	c.APDU = apdu
	return c, nil
}
