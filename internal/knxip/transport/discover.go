package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

// DiscoverConfig configures a gateway search.
type DiscoverConfig struct {
	// Interface and LocalIP select the local endpoint, as for UDPConfig.
	Interface string
	LocalIP   net.IP
	// Target is where SEARCH_REQUEST is sent. Nil means the routing group.
	Target *net.UDPAddr
	// Timeout bounds the search when ctx has no deadline. Zero means 3s.
	Timeout time.Duration
}

// Gateway is a KNXnet/IP server that answered a search.
type Gateway struct {
	Control   *net.UDPAddr
	Name      string
	Address   address.PhysicalAddress
	MAC       net.HardwareAddr
	Multicast net.IP
	Tunneling bool
	Routing   bool
}

// Discover sends SEARCH_REQUEST and collects SEARCH_RESPONSE datagrams until
// ctx is done or the timeout elapses. Duplicate answers are merged by
// control endpoint.
func Discover(ctx context.Context, cfg DiscoverConfig) ([]Gateway, error) {
	target := cfg.Target
	if target == nil {
		target = &net.UDPAddr{IP: DefaultMulticastGroup, Port: DefaultPort}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		mu    sync.Mutex
		found = make(map[string]Gateway)
	)
	u := NewUDP(UDPConfig{Remote: target, LocalIP: cfg.LocalIP, Interface: cfg.Interface})
	u.accept = func(*net.UDPAddr) bool { return true }
	u.SetHandler(func(data []byte, from *net.UDPAddr) {
		f, err := frame.Unmarshal(data)
		if err != nil {
			return
		}
		resp, ok := f.Body.(*frame.SearchResponse)
		if !ok || resp.Control == nil {
			return
		}
		gw := gatewayFromResponse(resp, from)
		mu.Lock()
		found[gw.Control.String()] = gw
		mu.Unlock()
	})

	if err := u.Open(ctx); err != nil {
		return nil, err
	}
	defer u.Close()

	req, err := frame.Marshal(frame.NewSearchRequest(u.LocalAddr()))
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	if err := u.Send(ctx, req); err != nil {
		return nil, err
	}

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]Gateway, 0, len(found))
	for _, gw := range found {
		out = append(out, gw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Control.String() < out[j].Control.String() })
	return out, nil
}

func gatewayFromResponse(resp *frame.SearchResponse, from *net.UDPAddr) Gateway {
	control := resp.Control.UDPAddr()
	if control.IP == nil || control.IP.IsUnspecified() || control.Port == 0 {
		control = from
	}
	gw := Gateway{Control: control}
	if d := resp.Device; d != nil {
		gw.Name = d.FriendlyName
		gw.Address = d.Address
		gw.MAC = d.MAC
		gw.Multicast = d.Multicast
	}
	for _, fam := range resp.Families {
		switch fam.ID {
		case frame.FamilyTunneling:
			gw.Tunneling = true
		case frame.FamilyRouting:
			gw.Routing = true
		}
	}
	return gw
}
