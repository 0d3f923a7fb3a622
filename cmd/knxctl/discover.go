package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/transport"
)

// gatewayInfo is the printable form of a search response.
type gatewayInfo struct {
	Name      string   `json:"name"`
	Endpoint  string   `json:"endpoint"`
	Address   string   `json:"address"`
	MAC       string   `json:"mac,omitempty"`
	Multicast string   `json:"multicast,omitempty"`
	Services  []string `json:"services"`
}

func newDiscoverCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Search for KNXnet/IP servers",
		Long: `Discover multicasts a SEARCH_REQUEST and lists every server that answers
before the timeout. With --gateway the request is sent unicast instead.`,
		Example: `  knxctl discover
  knxctl discover -i eth0 -t 2s -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := transport.DiscoverConfig{
				Interface: v.GetString(keyInterface),
				Timeout:   v.GetDuration(keyTimeout),
			}
			if s := v.GetString(keyLocalIP); s != "" {
				cfg.LocalIP = net.ParseIP(s)
			}
			if host := v.GetString(keyGateway); host != "" {
				addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, fmt.Sprint(v.GetInt(keyPort))))
				if err != nil {
					return fmt.Errorf("resolving gateway: %w", err)
				}
				cfg.Target = addr
			}

			gateways, err := transport.Discover(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			p := newPrinter(cmd.OutOrStdout(), v.GetString(keyOutput))
			if len(gateways) == 0 && p.format == "text" {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no gateways found")
				return err
			}
			for _, gw := range gateways {
				info := describeGateway(gw)
				line := fmt.Sprintf("%s  %s  %s  [%s]", info.Endpoint, info.Address, info.Name, strings.Join(info.Services, ","))
				if err := p.print(info, line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}

func describeGateway(gw transport.Gateway) gatewayInfo {
	info := gatewayInfo{
		Name:     gw.Name,
		Address:  gw.Address.String(),
		Services: []string{},
	}
	if gw.Control != nil {
		info.Endpoint = gw.Control.String()
	}
	if len(gw.MAC) > 0 {
		info.MAC = gw.MAC.String()
	}
	if gw.Multicast != nil {
		info.Multicast = gw.Multicast.String()
	}
	if gw.Tunneling {
		info.Services = append(info.Services, "tunneling")
	}
	if gw.Routing {
		info.Services = append(info.Services, "routing")
	}
	return info
}
