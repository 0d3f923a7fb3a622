package frame

import (
	"bytes"
	"fmt"
	"net"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
)

// Description information block types.
const (
	dibDeviceInfo      = 0x01
	dibServiceFamilies = 0x02

	deviceInfoLength = 54
	friendlyNameSize = 30
)

// DeviceInfo is the device hardware DIB returned by search and description
// responses.
type DeviceInfo struct {
	Medium       uint8
	Status       uint8
	Address      address.PhysicalAddress
	ProjectID    uint16
	Serial       [6]byte
	Multicast    net.IP
	MAC          net.HardwareAddr
	FriendlyName string
}

// ServiceFamily is one entry of the supported service families DIB.
type ServiceFamily struct {
	ID      uint8
	Version uint8
}

// Service family identifiers.
const (
	FamilyCore             uint8 = 0x02
	FamilyDeviceManagement uint8 = 0x03
	FamilyTunneling        uint8 = 0x04
	FamilyRouting          uint8 = 0x05
)

func (d *DeviceInfo) appendTo(b []byte) ([]byte, error) {
	if len(d.FriendlyName) > friendlyNameSize {
		return nil, fmt.Errorf("%w: friendly name longer than %d bytes", ErrEncoding, friendlyNameSize)
	}
	mcast := d.Multicast.To4()
	if mcast == nil {
		mcast = net.IPv4zero.To4()
	}
	mac := make([]byte, 6)
	copy(mac, d.MAC)

	b = append(b, deviceInfoLength, dibDeviceInfo, d.Medium, d.Status)
	b = append(b, byte(d.Address>>8), byte(d.Address), byte(d.ProjectID>>8), byte(d.ProjectID))
	b = append(b, d.Serial[:]...)
	b = append(b, mcast...)
	b = append(b, mac...)
	name := make([]byte, friendlyNameSize)
	copy(name, d.FriendlyName)
	return append(b, name...), nil
}

func decodeDeviceInfo(b []byte) (*DeviceInfo, error) {
	if len(b) < deviceInfoLength {
		return nil, fmt.Errorf("%w: device info DIB needs %d bytes, got %d", ErrDecoding, deviceInfoLength, len(b))
	}
	d := &DeviceInfo{
		Medium:    b[2],
		Status:    b[3],
		Address:   address.PhysicalFromBytes([2]byte{b[4], b[5]}),
		ProjectID: uint16(b[6])<<8 | uint16(b[7]),
		Multicast: net.IPv4(b[14], b[15], b[16], b[17]).To4(),
		MAC:       net.HardwareAddr(append([]byte(nil), b[18:24]...)),
	}
	copy(d.Serial[:], b[8:14])
	name := b[24:54]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	d.FriendlyName = string(name)
	return d, nil
}

func familiesLen(f []ServiceFamily) int { return 2 + 2*len(f) }

func appendFamilies(b []byte, f []ServiceFamily) ([]byte, error) {
	n := familiesLen(f)
	if n > 0xFF {
		return nil, fmt.Errorf("%w: %d service families", ErrEncoding, len(f))
	}
	b = append(b, byte(n), dibServiceFamilies)
	for _, sf := range f {
		b = append(b, sf.ID, sf.Version)
	}
	return b, nil
}

// decodeDIBs walks the description blocks at b. Unknown block types are
// skipped.
func decodeDIBs(b []byte) (*DeviceInfo, []ServiceFamily, error) {
	var (
		dev      *DeviceInfo
		families []ServiceFamily
	)
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, nil, fmt.Errorf("%w: trailing DIB byte", ErrDecoding)
		}
		n := int(b[0])
		if n < 2 || n > len(b) {
			return nil, nil, fmt.Errorf("%w: DIB length %d with %d bytes left", ErrDecoding, n, len(b))
		}
		switch b[1] {
		case dibDeviceInfo:
			d, err := decodeDeviceInfo(b[:n])
			if err != nil {
				return nil, nil, err
			}
			dev = d
		case dibServiceFamilies:
			for i := 2; i+1 < n; i += 2 {
				families = append(families, ServiceFamily{ID: b[i], Version: b[i+1]})
			}
		}
		b = b[n:]
	}
	return dev, families, nil
}
