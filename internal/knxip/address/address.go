// Package address parses and formats KNX individual (physical) and group
// addresses and converts them to and from their 2-byte wire form.
//
// Individual addresses use dotted notation "area.line.device" and encode as
// (area<<4|line) followed by device. Group addresses use the 3-level
// notation "main/middle/sub" and encode as (main<<3|middle) followed by sub.
// The 2-level notation "main/sub" is accepted as an alternative view of the
// same 16 bits.
package address

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidAddress is returned when an address string is malformed or a
// component is out of range.
var ErrInvalidAddress = errors.New("knx: invalid address")

// Kind selects the textual notation used by Parse and Format.
type Kind uint8

const (
	// KindPhysical is the dotted individual address notation (a.b.c).
	KindPhysical Kind = iota
	// KindGroup is the 3-level group address notation (a/b/c).
	KindGroup
	// KindGroupTwoLevel is the 2-level group address notation (a/b).
	KindGroupTwoLevel
)

// String returns the notation name.
func (k Kind) String() string {
	switch k {
	case KindPhysical:
		return "physical"
	case KindGroup:
		return "group"
	case KindGroupTwoLevel:
		return "group-2level"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Component limits.
const (
	maxArea   = 15
	maxLine   = 15
	maxDevice = 255

	maxMain     = 31
	maxMiddle   = 7
	maxSub      = 255
	maxSubTwoLv = 2047
)

// PhysicalAddress is a KNX individual address.
//
// Layout: AAAA LLLL DDDD DDDD
type PhysicalAddress uint16

// GroupAddress is a KNX group address.
//
// Layout: MMMM MSSS SSSS SSSS
type GroupAddress uint16

// NewPhysical builds an individual address from its components. Components
// are masked to their field widths.
func NewPhysical(area, line, device uint8) PhysicalAddress {
	return PhysicalAddress(uint16(area&0x0F)<<12 | uint16(line&0x0F)<<8 | uint16(device))
}

// NewGroup builds a 3-level group address from its components. Components
// are masked to their field widths.
func NewGroup(main, middle, sub uint8) GroupAddress {
	return GroupAddress(uint16(main&0x1F)<<11 | uint16(middle&0x07)<<8 | uint16(sub))
}

// Area returns the area component (0-15).
func (a PhysicalAddress) Area() uint8 { return uint8(a >> 12) } //nolint:gosec // 4 bits

// Line returns the line component (0-15).
func (a PhysicalAddress) Line() uint8 { return uint8(a>>8) & 0x0F } //nolint:gosec // masked

// Device returns the device component (0-255).
func (a PhysicalAddress) Device() uint8 { return uint8(a) } //nolint:gosec // low byte

// String returns the dotted notation, e.g. "1.1.20".
func (a PhysicalAddress) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Area(), a.Line(), a.Device())
}

// Bytes returns the wire form, high byte first.
func (a PhysicalAddress) Bytes() [2]byte {
	return [2]byte{byte(a >> 8), byte(a)}
}

// Main returns the main group (0-31).
func (g GroupAddress) Main() uint8 { return uint8(g >> 11) } //nolint:gosec // 5 bits

// Middle returns the middle group (0-7).
func (g GroupAddress) Middle() uint8 { return uint8(g>>8) & 0x07 } //nolint:gosec // masked

// Sub returns the 3-level sub group (0-255).
func (g GroupAddress) Sub() uint8 { return uint8(g) } //nolint:gosec // low byte

// String returns the 3-level notation, e.g. "1/2/3".
func (g GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", g.Main(), g.Middle(), g.Sub())
}

// TwoLevel returns the 2-level notation, e.g. "1/515".
func (g GroupAddress) TwoLevel() string {
	return fmt.Sprintf("%d/%d", g.Main(), uint16(g)&0x07FF)
}

// Bytes returns the wire form, high byte first.
func (g GroupAddress) Bytes() [2]byte {
	return [2]byte{byte(g >> 8), byte(g)}
}

// URLEncode returns the group address escaped for use as a single MQTT
// topic or URL path segment, e.g. "1%2F2%2F3".
func (g GroupAddress) URLEncode() string {
	return url.PathEscape(g.String())
}

// PhysicalFromBytes decodes an individual address from its wire form.
func PhysicalFromBytes(b [2]byte) PhysicalAddress {
	return PhysicalAddress(uint16(b[0])<<8 | uint16(b[1]))
}

// GroupFromBytes decodes a group address from its wire form.
func GroupFromBytes(b [2]byte) GroupAddress {
	return GroupAddress(uint16(b[0])<<8 | uint16(b[1]))
}

// ParsePhysical parses a dotted individual address such as "1.1.20".
func ParsePhysical(s string) (PhysicalAddress, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: expected area.line.device, got %q", ErrInvalidAddress, s)
	}
	area, err := component(parts[0], maxArea)
	if err != nil {
		return 0, fmt.Errorf("%w: area in %q: %v", ErrInvalidAddress, s, err)
	}
	line, err := component(parts[1], maxLine)
	if err != nil {
		return 0, fmt.Errorf("%w: line in %q: %v", ErrInvalidAddress, s, err)
	}
	device, err := component(parts[2], maxDevice)
	if err != nil {
		return 0, fmt.Errorf("%w: device in %q: %v", ErrInvalidAddress, s, err)
	}
	return PhysicalAddress(area<<12 | line<<8 | device), nil
}

// ParseGroup parses a 3-level ("1/2/3") or 2-level ("1/515") group address.
//
// Example:
//
//	ga, err := address.ParseGroup("1/0/50")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(ga.Bytes()) // [8 50]
func ParseGroup(s string) (GroupAddress, error) {
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 3:
		main, err := component(parts[0], maxMain)
		if err != nil {
			return 0, fmt.Errorf("%w: main group in %q: %v", ErrInvalidAddress, s, err)
		}
		middle, err := component(parts[1], maxMiddle)
		if err != nil {
			return 0, fmt.Errorf("%w: middle group in %q: %v", ErrInvalidAddress, s, err)
		}
		sub, err := component(parts[2], maxSub)
		if err != nil {
			return 0, fmt.Errorf("%w: sub group in %q: %v", ErrInvalidAddress, s, err)
		}
		return GroupAddress(main<<11 | middle<<8 | sub), nil
	case 2:
		main, err := component(parts[0], maxMain)
		if err != nil {
			return 0, fmt.Errorf("%w: main group in %q: %v", ErrInvalidAddress, s, err)
		}
		sub, err := component(parts[1], maxSubTwoLv)
		if err != nil {
			return 0, fmt.Errorf("%w: sub group in %q: %v", ErrInvalidAddress, s, err)
		}
		return GroupAddress(main<<11 | sub), nil
	default:
		return 0, fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidAddress, s)
	}
}

// MustParseGroup is ParseGroup for constants known to be valid. It panics
// on malformed input.
func MustParseGroup(s string) GroupAddress {
	ga, err := ParseGroup(s)
	if err != nil {
		panic(err)
	}
	return ga
}

// ParseGroupFromURL parses a group address escaped with URLEncode.
func ParseGroupFromURL(encoded string) (GroupAddress, error) {
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return 0, fmt.Errorf("%w: URL decode failed: %w", ErrInvalidAddress, err)
	}
	return ParseGroup(decoded)
}

// Parse converts address text of the given kind to its 2-byte wire form.
func Parse(s string, kind Kind) ([2]byte, error) {
	switch kind {
	case KindPhysical:
		a, err := ParsePhysical(s)
		if err != nil {
			return [2]byte{}, err
		}
		return a.Bytes(), nil
	case KindGroup, KindGroupTwoLevel:
		if want := levels(kind); strings.Count(s, "/")+1 != want {
			return [2]byte{}, fmt.Errorf("%w: %q is not a %d-level group address", ErrInvalidAddress, s, want)
		}
		g, err := ParseGroup(s)
		if err != nil {
			return [2]byte{}, err
		}
		return g.Bytes(), nil
	default:
		return [2]byte{}, fmt.Errorf("%w: unknown kind %s", ErrInvalidAddress, kind)
	}
}

// Format converts a 2-byte wire address to text of the given kind.
func Format(b [2]byte, kind Kind) string {
	switch kind {
	case KindGroup:
		return GroupFromBytes(b).String()
	case KindGroupTwoLevel:
		return GroupFromBytes(b).TwoLevel()
	default:
		return PhysicalFromBytes(b).String()
	}
}

func levels(kind Kind) int {
	if kind == KindGroupTwoLevel {
		return 2
	}
	return 3
}

// component parses one decimal address component and checks its upper bound.
func component(s string, limit uint64) (uint16, error) {
	if s == "" {
		return 0, errors.New("empty component")
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if v > limit {
		return 0, fmt.Errorf("%d out of range 0-%d", v, limit)
	}
	return uint16(v), nil //nolint:gosec // bounded by limit
}
