package address

import (
	"errors"
	"testing"
)

func TestParsePhysical(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    [2]byte
		wantErr bool
	}{
		{name: "backbone coupler", input: "1.0.0", want: [2]byte{0x10, 0x00}},
		{name: "device on line", input: "1.1.20", want: [2]byte{0x11, 0x14}},
		{name: "maximum", input: "15.15.255", want: [2]byte{0xFF, 0xFF}},
		{name: "zero", input: "0.0.0", want: [2]byte{0x00, 0x00}},
		{name: "area too high", input: "16.0.0", wantErr: true},
		{name: "line too high", input: "15.17.13", wantErr: true},
		{name: "device too high", input: "0.0.256", wantErr: true},
		{name: "empty device", input: "0.0.", wantErr: true},
		{name: "two parts", input: "1.1", wantErr: true},
		{name: "group notation", input: "1/1/1", wantErr: true},
		{name: "negative", input: "-1.0.0", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, KindPhysical)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %v", tt.input, got)
				}
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("Parse(%q) error = %v, want ErrInvalidAddress", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseGroup(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    Kind
		want    [2]byte
		wantErr bool
	}{
		{name: "three level", input: "1/0/50", kind: KindGroup, want: [2]byte{0x08, 0x32}},
		{name: "three level all fields", input: "1/2/3", kind: KindGroup, want: [2]byte{0x0A, 0x03}},
		{name: "three level maximum", input: "31/7/255", kind: KindGroup, want: [2]byte{0xFF, 0xFF}},
		{name: "two level", input: "1/515", kind: KindGroupTwoLevel, want: [2]byte{0x0A, 0x03}},
		{name: "two level maximum", input: "31/2047", kind: KindGroupTwoLevel, want: [2]byte{0xFF, 0xFF}},
		{name: "main too high", input: "32/0/0", kind: KindGroup, wantErr: true},
		{name: "middle too high", input: "0/8/0", kind: KindGroup, wantErr: true},
		{name: "sub too high", input: "0/0/256", kind: KindGroup, wantErr: true},
		{name: "two level sub too high", input: "0/2048", kind: KindGroupTwoLevel, wantErr: true},
		{name: "two level text as three level", input: "1/515", kind: KindGroup, wantErr: true},
		{name: "empty component", input: "1//3", kind: KindGroup, wantErr: true},
		{name: "physical notation", input: "1.2.3", kind: KindGroup, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, tt.kind)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Errorf("Parse(%q) error = %v, want ErrInvalidAddress", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

// Every 16-bit value is a valid address in each notation, so the whole
// space is checked.
func TestFormatRoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindPhysical, KindGroup, KindGroupTwoLevel} {
		t.Run(kind.String(), func(t *testing.T) {
			seen := make(map[string]uint16, 1<<16)
			for v := range 1 << 16 {
				b := [2]byte{byte(v >> 8), byte(v)}
				text := Format(b, kind)
				if prev, dup := seen[text]; dup {
					t.Fatalf("Format(%#04x) = %q, same as %#04x", v, text, prev)
				}
				seen[text] = uint16(v) //nolint:gosec // < 1<<16
				got, err := Parse(text, kind)
				if err != nil {
					t.Fatalf("Parse(%q) unexpected error: %v", text, err)
				}
				if got != b {
					t.Fatalf("Parse(Format(%#04x)) = %#v via %q", v, got, text)
				}
			}
		})
	}
}

func TestTypedAddressRoundTrip(t *testing.T) {
	for area := range 16 {
		for line := range 16 {
			for dev := range 256 {
				pa := NewPhysical(uint8(area), uint8(line), uint8(dev)) //nolint:gosec // in range
				got, err := ParsePhysical(pa.String())
				if err != nil || got != pa {
					t.Fatalf("ParsePhysical(%q) = %v, %v; want %v", pa.String(), got, err, pa)
				}
				if int(pa.Area()) != area || int(pa.Line()) != line || int(pa.Device()) != dev {
					t.Fatalf("components of %s = %d.%d.%d", pa, pa.Area(), pa.Line(), pa.Device())
				}
			}
		}
	}
	for main := range 32 {
		for middle := range 8 {
			for sub := range 256 {
				ga := NewGroup(uint8(main), uint8(middle), uint8(sub)) //nolint:gosec // in range
				got, err := ParseGroup(ga.String())
				if err != nil || got != ga {
					t.Fatalf("ParseGroup(%q) = %v, %v; want %v", ga.String(), got, err, ga)
				}
				if two, err := ParseGroup(ga.TwoLevel()); err != nil || two != ga {
					t.Fatalf("ParseGroup(%q) = %v, %v; want %v", ga.TwoLevel(), two, err, ga)
				}
				if int(ga.Main()) != main || int(ga.Middle()) != middle || int(ga.Sub()) != sub {
					t.Fatalf("components of %s = %d/%d/%d", ga, ga.Main(), ga.Middle(), ga.Sub())
				}
			}
		}
	}
}

func TestGroupAddressComponents(t *testing.T) {
	ga := NewGroup(5, 3, 200)
	if ga.Main() != 5 || ga.Middle() != 3 || ga.Sub() != 200 {
		t.Errorf("components = %d/%d/%d, want 5/3/200", ga.Main(), ga.Middle(), ga.Sub())
	}
	if ga.String() != "5/3/200" {
		t.Errorf("String() = %q, want 5/3/200", ga.String())
	}
	if GroupFromBytes(ga.Bytes()) != ga {
		t.Error("GroupFromBytes(Bytes()) did not round trip")
	}

	pa := NewPhysical(1, 1, 250)
	if pa.String() != "1.1.250" {
		t.Errorf("String() = %q, want 1.1.250", pa.String())
	}
}

func TestGroupURLEncoding(t *testing.T) {
	ga := MustParseGroup("1/2/3")
	encoded := ga.URLEncode()
	if encoded != "1%2F2%2F3" {
		t.Errorf("URLEncode() = %q, want 1%%2F2%%2F3", encoded)
	}

	got, err := ParseGroupFromURL(encoded)
	if err != nil {
		t.Fatalf("ParseGroupFromURL() unexpected error: %v", err)
	}
	if got != ga {
		t.Errorf("ParseGroupFromURL() = %v, want %v", got, ga)
	}

	if _, err := ParseGroupFromURL("%zz"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("ParseGroupFromURL(bad) error = %v, want ErrInvalidAddress", err)
	}
}
