package transport

import (
	"fmt"
	"net"
)

// Logger is the subset of *slog.Logger used by transports.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// LocalIPv4 returns the first IPv4 address of the named interface. With an
// empty name the first up, non-loopback interface carrying an IPv4 address
// is used.
func LocalIPv4(name string) (net.IP, error) {
	var ifaces []net.Interface
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("%w: interface %q: %v", ErrNoLocalAddress, name, err)
		}
		ifaces = []net.Interface{*ifi}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoLocalAddress, err)
		}
		ifaces = all
	}

	for _, ifi := range ifaces {
		if name == "" && (ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0) {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					return ip4, nil
				}
			}
		}
	}
	if name != "" {
		return nil, fmt.Errorf("%w: interface %q has no IPv4 address", ErrNoLocalAddress, name)
	}
	return nil, ErrNoLocalAddress
}

// RoutedIPv4 returns the local address the kernel would use to reach remote.
// No packet is sent.
func RoutedIPv4(remote net.IP) (net.IP, error) {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: remote, Port: DefaultPort})
	if err != nil {
		return nil, fmt.Errorf("%w: route to %s: %v", ErrNoLocalAddress, remote, err)
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil {
		return nil, ErrNoLocalAddress
	}
	return addr.IP.To4(), nil
}

// ResolveLocalIPv4 picks the address to bind: the named interface when set,
// else the route towards remote, else the first usable interface.
func ResolveLocalIPv4(iface string, remote net.IP) (net.IP, error) {
	if iface != "" {
		return LocalIPv4(iface)
	}
	if remote != nil && !remote.IsMulticast() {
		if ip, err := RoutedIPv4(remote); err == nil {
			return ip, nil
		}
	}
	return LocalIPv4("")
}
