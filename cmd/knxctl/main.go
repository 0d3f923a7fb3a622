// knxctl - command-line client for KNXnet/IP installations
//
// knxctl talks to a KNX bus through a tunneling server or the routing
// multicast group, the same way knxipd does, and offers offline tools for
// inspecting captured traffic.
//
// Settings come from flags, a YAML file (--config, default
// $HOME/.knxctl.yaml) or KNXCTL_* environment variables, e.g.
// KNXCTL_GATEWAY=192.168.1.50.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
