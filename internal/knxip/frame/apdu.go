package frame

import "fmt"

// APCI is the 4-bit application-layer service code.
type APCI uint8

// Application services.
const (
	GroupValueRead APCI = iota
	GroupValueResponse
	GroupValueWrite
	PhysicalAddressWrite
	PhysicalAddressRead
	PhysicalAddressResponse
	ADCRead
	ADCResponse
	MemoryRead
	MemoryResponse
	MemoryWrite
	UserMemory
	DeviceDescriptorRead
	DeviceDescriptorResponse
	Restart
	OtherAPCI
)

var apciNames = [...]string{
	"GroupValue_Read",
	"GroupValue_Response",
	"GroupValue_Write",
	"PhysicalAddress_Write",
	"PhysicalAddress_Read",
	"PhysicalAddress_Response",
	"ADC_Read",
	"ADC_Response",
	"Memory_Read",
	"Memory_Response",
	"Memory_Write",
	"UserMemory",
	"DeviceDescriptor_Read",
	"DeviceDescriptor_Response",
	"Restart",
	"OTHER",
}

// String returns the service name used in event names, e.g. "GroupValue_Write".
func (a APCI) String() string {
	if int(a) < len(apciNames) {
		return apciNames[a]
	}
	return fmt.Sprintf("APCI(%d)", uint8(a))
}

// APDU size limits.
const (
	apduMinLength  = 3
	apduMaxLength  = 17
	apduMaxPayload = apduMaxLength - apduMinLength
	inlineBits     = 6
	inlineMax      = 0x3F
	tpciMax        = 0x3F
	apciMax        = 0x0F
)

// APDU is the transport and application protocol data unit of an L_Data frame.
//
// Payloads of up to six bits travel inline in the APCI byte; longer payloads
// are appended after it. BitLength, when non-zero, decides the form: six or
// fewer bits go inline, anything longer takes ceil(BitLength/8) bytes. With a
// zero BitLength the form is inferred from Data: a single byte no larger than
// 63 goes inline and anything else is appended.
type APDU struct {
	TPCI      uint8
	APCI      APCI
	Data      []byte
	BitLength int
}

// inline reports whether the payload travels in the APCI byte.
func (a *APDU) inline() bool {
	if a.BitLength > 0 {
		return a.BitLength <= inlineBits
	}
	return len(a.Data) == 0 || (len(a.Data) == 1 && a.Data[0] <= inlineMax)
}

// Len returns the encoded size of the APDU including its length byte.
func (a *APDU) Len() int {
	if a.inline() {
		return apduMinLength
	}
	if a.BitLength > 0 {
		return apduMinLength + (a.BitLength+7)/8
	}
	return apduMinLength + len(a.Data)
}

func (a *APDU) appendTo(b []byte) ([]byte, error) {
	if a.TPCI > tpciMax {
		return nil, fmt.Errorf("%w: TPCI 0x%02X exceeds 6 bits", ErrEncoding, a.TPCI)
	}
	if a.APCI > apciMax {
		return nil, fmt.Errorf("%w: APCI %d exceeds 4 bits", ErrEncoding, a.APCI)
	}
	n := a.Len()
	if n > apduMaxLength {
		return nil, fmt.Errorf("%w: APDU of %d bytes exceeds %d (%d payload bytes max)", ErrEncoding, n, apduMaxLength, apduMaxPayload)
	}

	hi := a.TPCI<<2 | byte(a.APCI>>2)&0x03
	lo := byte(a.APCI&0x03) << 6

	if n == apduMinLength {
		var v byte
		switch len(a.Data) {
		case 0:
		case 1:
			v = a.Data[0]
		default:
			return nil, fmt.Errorf("%w: %d payload bytes for a %d-bit value", ErrEncoding, len(a.Data), a.BitLength)
		}
		if v > inlineMax {
			return nil, fmt.Errorf("%w: inline value 0x%02X exceeds 6 bits", ErrEncoding, v)
		}
		return append(b, byte(n-2), hi, lo|v), nil
	}

	if want := n - apduMinLength; len(a.Data) != want {
		return nil, fmt.Errorf("%w: %d payload bytes, bit length %d needs %d", ErrEncoding, len(a.Data), a.BitLength, want)
	}
	b = append(b, byte(n-2), hi, lo)
	return append(b, a.Data...), nil
}

func decodeAPDU(b []byte) (APDU, error) {
	if len(b) < apduMinLength {
		return APDU{}, fmt.Errorf("%w: APDU needs %d bytes, got %d", ErrDecoding, apduMinLength, len(b))
	}
	n := int(b[0]) + 2
	if n < apduMinLength {
		return APDU{}, fmt.Errorf("%w: APDU length byte %d", ErrDecoding, b[0])
	}
	if n > len(b) {
		return APDU{}, fmt.Errorf("%w: APDU declares %d bytes, %d available", ErrDecoding, n, len(b))
	}

	a := APDU{
		TPCI: b[1] >> 2,
		APCI: APCI((b[1]&0x03)<<2 | b[2]>>6),
	}
	if n == apduMinLength {
		a.Data = []byte{b[2] & inlineMax}
		a.BitLength = inlineBits
		return a, nil
	}
	a.Data = append([]byte(nil), b[3:n]...)
	a.BitLength = 8 * len(a.Data)
	return a, nil
}

// NewAPDU returns a canonical APDU for apci carrying data of the given bit
// length (0 to infer it from data).
func NewAPDU(apci APCI, data []byte, bits int) APDU {
	return APDU{APCI: apci, Data: data, BitLength: bits}.Canonical()
}

// Canonical returns the APDU in the form Unmarshal produces: inline payloads
// as one byte with a 6-bit length, appended payloads with a whole-byte bit
// length. Invalid payloads are returned unchanged so encoding reports them.
func (a APDU) Canonical() APDU {
	if a.inline() {
		switch len(a.Data) {
		case 0:
			a.Data = []byte{0}
		case 1:
		default:
			return a
		}
		a.BitLength = inlineBits
		return a
	}
	if a.BitLength == 0 {
		a.BitLength = 8 * len(a.Data)
	} else {
		a.BitLength = 8 * ((a.BitLength + 7) / 8)
	}
	return a
}
