package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestAPDULength(t *testing.T) {
	tests := []struct {
		name string
		apdu APDU
		want int
	}{
		{"read without payload", APDU{APCI: GroupValueRead}, 3},
		{"1-bit hint", APDU{APCI: GroupValueWrite, Data: []byte{1}, BitLength: 1}, 3},
		{"6-bit hint", APDU{APCI: GroupValueWrite, Data: []byte{0x3F}, BitLength: 6}, 3},
		{"8-bit hint small value", APDU{APCI: GroupValueWrite, Data: []byte{5}, BitLength: 8}, 4},
		{"16-bit hint", APDU{APCI: GroupValueWrite, Data: []byte{1, 2}, BitLength: 16}, 5},
		{"24-bit hint", APDU{APCI: GroupValueWrite, Data: []byte{1, 2, 3}, BitLength: 24}, 6},
		{"112-bit hint", APDU{APCI: GroupValueWrite, Data: make([]byte, 14), BitLength: 112}, 17},
		{"heuristic inline", APDU{APCI: GroupValueWrite, Data: []byte{63}}, 3},
		{"heuristic appended byte", APDU{APCI: GroupValueWrite, Data: []byte{64}}, 4},
		{"heuristic two bytes", APDU{APCI: GroupValueWrite, Data: []byte{0, 1}}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apdu.Len(); got != tt.want {
				t.Errorf("Len() = %d, want %d", got, tt.want)
			}
			b, err := tt.apdu.appendTo(nil)
			if err != nil {
				t.Fatalf("appendTo() unexpected error: %v", err)
			}
			if len(b) != tt.want {
				t.Errorf("encoded %d bytes, want %d", len(b), tt.want)
			}
			if int(b[0]) != tt.want-2 {
				t.Errorf("length byte = %d, want %d", b[0], tt.want-2)
			}
		})
	}
}

func TestAPDUEncoding(t *testing.T) {
	tests := []struct {
		name string
		apdu APDU
		want []byte
	}{
		{"switch on", APDU{APCI: GroupValueWrite, Data: []byte{1}, BitLength: 1}, []byte{0x01, 0x00, 0x81}},
		{"switch off", APDU{APCI: GroupValueWrite, Data: []byte{0}, BitLength: 1}, []byte{0x01, 0x00, 0x80}},
		{"read", APDU{APCI: GroupValueRead}, []byte{0x01, 0x00, 0x00}},
		{"response true", APDU{APCI: GroupValueResponse, Data: []byte{1}, BitLength: 1}, []byte{0x01, 0x00, 0x41}},
		{"temperature", APDU{APCI: GroupValueWrite, Data: []byte{0x0C, 0x66}, BitLength: 16}, []byte{0x03, 0x00, 0x80, 0x0C, 0x66}},
		{"memory read", APDU{APCI: MemoryRead, Data: []byte{0x01}, BitLength: 6}, []byte{0x01, 0x02, 0x01}},
		{"restart", APDU{APCI: Restart}, []byte{0x01, 0x03, 0x80}},
		{"numbered TPCI", APDU{TPCI: 0x10, APCI: GroupValueRead}, []byte{0x01, 0x40, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.apdu.appendTo(nil)
			if err != nil {
				t.Fatalf("appendTo() unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("appendTo() = %x, want %x", got, tt.want)
			}

			back, err := decodeAPDU(got)
			if err != nil {
				t.Fatalf("decodeAPDU() unexpected error: %v", err)
			}
			if back.APCI != tt.apdu.APCI || back.TPCI != tt.apdu.TPCI {
				t.Errorf("decoded TPCI/APCI = %d/%s, want %d/%s", back.TPCI, back.APCI, tt.apdu.TPCI, tt.apdu.APCI)
			}
		})
	}
}

func TestAPDUEncodingErrors(t *testing.T) {
	tests := []struct {
		name string
		apdu APDU
	}{
		{"15 payload bytes", APDU{APCI: GroupValueWrite, Data: make([]byte, 15)}},
		{"bit length beyond 14 bytes", APDU{APCI: GroupValueWrite, Data: make([]byte, 15), BitLength: 120}},
		{"inline value too large", APDU{APCI: GroupValueWrite, Data: []byte{0x40}, BitLength: 6}},
		{"hint disagrees with data", APDU{APCI: GroupValueWrite, Data: []byte{1}, BitLength: 16}},
		{"two bytes for inline hint", APDU{APCI: GroupValueWrite, Data: []byte{1, 2}, BitLength: 4}},
		{"TPCI overflow", APDU{TPCI: 0x40, APCI: GroupValueWrite}},
		{"APCI overflow", APDU{APCI: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.apdu.appendTo(nil); !errors.Is(err, ErrEncoding) {
				t.Errorf("appendTo() error = %v, want ErrEncoding", err)
			}
		})
	}
}

func TestAPCIString(t *testing.T) {
	if got := GroupValueWrite.String(); got != "GroupValue_Write" {
		t.Errorf("String() = %q", got)
	}
	if got := DeviceDescriptorResponse.String(); got != "DeviceDescriptor_Response" {
		t.Errorf("String() = %q", got)
	}
	if got := APCI(20).String(); got != "APCI(20)" {
		t.Errorf("String() = %q", got)
	}
}

func TestControlField(t *testing.T) {
	b, err := DefaultControl().Bytes()
	if err != nil {
		t.Fatalf("Bytes() unexpected error: %v", err)
	}
	if b != [2]byte{0xBC, 0xE0} {
		t.Errorf("DefaultControl().Bytes() = %x, want bce0", b)
	}

	for _, raw := range [][2]byte{{0xBC, 0xE0}, {0xB0, 0x60}, {0x9E, 0x5F}, {0xFF, 0xFF}, {0x00, 0x00}} {
		c := ControlFromBytes(raw)
		again, err := c.Bytes()
		if err != nil {
			t.Fatalf("Bytes() unexpected error for %x: %v", raw, err)
		}
		if again != raw {
			t.Errorf("ControlFromBytes(%x).Bytes() = %x", raw, again)
		}
	}

	c := ControlFromBytes([2]byte{0xB4, 0x60})
	if c.Priority != PriorityNormal || c.GroupDestination || c.HopCount != 6 {
		t.Errorf("ControlFromBytes(b460) = %+v", c)
	}
}
