package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/transport"
)

// envPrefix namespaces environment overrides (KNXCTL_GATEWAY, ...).
const envPrefix = "KNXCTL"

// envKeyReplacer maps flag names onto variable names (local-ip -> LOCAL_IP).
var envKeyReplacer = strings.NewReplacer("-", "_")

// Viper keys shared by the link commands.
const (
	keyGateway   = "gateway"
	keyPort      = "port"
	keyMode      = "mode"
	keyInterface = "interface"
	keyLocalIP   = "local-ip"
	keyPhysical  = "physical-address"
	keyNAT       = "nat"
	keyTimeout   = "timeout"
	keyOutput    = "output"
	keyVerbose   = "verbose"
)

// newRootCmd builds the command tree. Each call gets its own viper
// instance so tests can run commands in isolation.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "knxctl",
		Short: "KNXnet/IP command-line client",
		Long: `knxctl reads and writes KNX group values over KNXnet/IP, follows bus
traffic, searches for gateways and decodes captured frames.

Examples:
  # Find KNXnet/IP servers on the local network
  knxctl discover

  # Switch a light through a tunneling server
  knxctl write 1/2/3 true --dpt 1.001 --gateway 192.168.1.50

  # Read a temperature over routing multicast
  knxctl read 3/1/0 --dpt 9.001 --mode routing

  # Print every telegram on the bus
  knxctl monitor

  # Decode frames from a Wireshark capture
  knxctl dump capture.pcap

  # Issue a token for the daemon's bus endpoints
  knxctl token --secret "$SECRET"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.knxctl.yaml)")
	pf.StringP(keyGateway, "g", "", "Gateway IP address (empty selects routing multicast)")
	pf.IntP(keyPort, "p", transport.DefaultPort, "Gateway UDP port")
	pf.StringP(keyMode, "m", "auto", "Connection mode (auto, tunneling, routing)")
	pf.StringP(keyInterface, "i", "", "Network interface for multicast and discovery")
	pf.String(keyLocalIP, "", "Local IP address to bind to")
	pf.String(keyPhysical, "", "Source individual address (e.g. 1.1.250)")
	pf.Bool(keyNAT, false, "Advertise a NAT route-back endpoint when tunneling")
	pf.DurationP(keyTimeout, "t", 5*time.Second, "Operation timeout")
	pf.StringP(keyOutput, "o", "text", "Output format (text, json)")
	pf.BoolP(keyVerbose, "v", false, "Enable debug logging")

	//nolint:errcheck // flags are declared above
	v.BindPFlags(pf)

	cmd.AddCommand(
		newReadCmd(v),
		newWriteCmd(v),
		newMonitorCmd(v),
		newDiscoverCmd(v),
		newDecodeCmd(v),
		newDumpCmd(v),
		newTokenCmd(v),
	)
	return cmd
}

func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".knxctl")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicit file must exist; the default one is optional.
		if cfgFile != "" {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
	}

	switch v.GetString(keyOutput) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format %q", v.GetString(keyOutput))
	}
	return nil
}

// newLogger writes to stderr so command output stays machine-readable.
func newLogger(v *viper.Viper) *logging.Logger {
	level := "warn"
	if v.GetBool(keyVerbose) {
		level = "debug"
	}
	return logging.NewService("knxctl", config.LoggingConfig{Level: level, Format: "text", Output: "stderr"}, version)
}

// linkOptions maps the persistent flags onto client options.
func linkOptions(v *viper.Viper, log connection.Logger) (connection.Options, error) {
	opts := connection.Options{
		Interface: v.GetString(keyInterface),
		NAT:       v.GetBool(keyNAT),
		Logger:    log,
	}

	if host := v.GetString(keyGateway); host != "" {
		ip := net.ParseIP(host)
		if ip == nil {
			addrs, err := net.LookupIP(host)
			if err != nil || len(addrs) == 0 {
				return connection.Options{}, fmt.Errorf("resolving gateway %q: %w", host, err)
			}
			ip = addrs[0]
		}
		opts.Gateway = &net.UDPAddr{IP: ip, Port: v.GetInt(keyPort)}
	}

	mode, err := connection.ParseMode(v.GetString(keyMode), opts.Gateway)
	if err != nil {
		return connection.Options{}, err
	}
	opts.Mode = mode.String()

	if s := v.GetString(keyLocalIP); s != "" {
		ip := net.ParseIP(s)
		if ip == nil {
			return connection.Options{}, fmt.Errorf("invalid local IP %q", s)
		}
		opts.LocalIP = ip
	}
	if s := v.GetString(keyPhysical); s != "" {
		pa, err := address.ParsePhysical(s)
		if err != nil {
			return connection.Options{}, err
		}
		opts.PhysicalAddress = pa
	}
	return opts, nil
}

// connect opens a link and waits for it to come up within the timeout.
func connect(ctx context.Context, v *viper.Viper) (*connection.Client, error) {
	log := newLogger(v)
	opts, err := linkOptions(v, log)
	if err != nil {
		return nil, err
	}
	client, err := connection.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, v.GetDuration(keyTimeout))
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("connect: %w", err)
	}
	log.Debug("link up", "mode", opts.Mode, "gateway", gatewayString(opts.Gateway))
	return client, nil
}

func gatewayString(addr *net.UDPAddr) string {
	if addr == nil {
		return net.JoinHostPort(transport.DefaultMulticastGroup.String(), strconv.Itoa(transport.DefaultPort))
	}
	return addr.String()
}
