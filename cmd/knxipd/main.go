// knxipd - KNXnet/IP gateway daemon
//
// knxipd keeps a KNXnet/IP connection (tunneling or routing) to a KNX
// installation and exposes it to the rest of the building:
//   - MQTT bridge: device state, commands and a raw bus mirror
//   - HTTP API: status, bus inventory, group value read and write
//   - WebSocket stream of every group telegram
//   - Prometheus metrics and optional InfluxDB telemetry
//
// Configuration is read from configs/knxipd.yaml, or the path in KNXIP_CONFIG.
// SIGHUP reloads the bridge device file without dropping the link.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-knxip/migrations"

	"github.com/nerrad567/gray-logic-knxip/internal/api"
	"github.com/nerrad567/gray-logic-knxip/internal/bridges/knx"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/connection"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/frame"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/knxipd.yaml"

// linkStatsInterval is how often link counters are written to InfluxDB.
const linkStatsInterval = time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting knxipd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	//nolint:errcheck // Best-effort flush of the log file
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Bus inventory database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	inventory := knx.NewInventory(db.DB)
	inventory.SetLogger(log)
	if startErr := inventory.Start(); startErr != nil {
		return fmt.Errorf("starting bus inventory: %w", startErr)
	}
	defer inventory.Stop()

	// InfluxDB telemetry (optional)
	influxClient, err := connectInfluxDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// KNXnet/IP link
	opts, err := linkOptions(cfg, log)
	if err != nil {
		return fmt.Errorf("building link options: %w", err)
	}
	link, err := connection.New(opts)
	if err != nil {
		return fmt.Errorf("creating KNXnet/IP client: %w", err)
	}
	defer func() {
		log.Info("closing KNXnet/IP link")
		//nolint:errcheck // Close always returns nil
		link.Close()
	}()

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.GetConnectTimeout())
	if connErr := link.Connect(connectCtx); connErr != nil {
		// The client keeps retrying in the background.
		log.Warn("KNXnet/IP link not up yet", "error", connErr)
	} else {
		log.Info("KNXnet/IP link connected", "mode", link.Stats().Mode, "gateway", opts.Gateway.String())
	}
	connectCancel()

	m := metrics.New(link)

	// MQTT bridge (optional)
	var bridge *knx.Bridge
	if cfg.Bridge.Enabled {
		mqttClient, mqttErr := connectMQTT(ctx, cfg, log)
		if mqttErr != nil {
			return mqttErr
		}
		m.WatchBroker(mqttClient)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()

		bridge, err = startBridge(ctx, cfg, link, mqttClient, inventory, influxClient, m, log)
		if err != nil {
			return fmt.Errorf("starting KNX bridge: %w", err)
		}
		defer func() {
			log.Info("stopping KNX bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("KNX bridge disabled; recording bus traffic only")
		sub := link.On(connection.EventAny, recordTelegram(inventory))
		defer link.Off(sub)
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		if ip := net.ParseIP(cfg.API.Host); cfg.API.Auth.Secret == "" && (ip == nil || !ip.IsLoopback()) {
			log.Warn("api.auth.secret is empty, bus commands are accepted from any client", "host", cfg.API.Host)
		}
		deps := api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log,
			Link:      link,
			Inventory: inventory,
			Metrics:   m,
			Version:   version,
		}
		if bridge != nil {
			deps.Bridge = bridge
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if influxClient != nil {
		go writeLinkStats(ctx, link, influxClient)
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	waitForShutdown(ctx, cfg, bridge, log)

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// waitForShutdown blocks until ctx ends, reloading the device file on SIGHUP.
func waitForShutdown(ctx context.Context, cfg *config.Config, bridge *knx.Bridge, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if fresh, err := config.Load(getConfigPath()); err != nil {
				log.Error("reloading config failed, keeping log level", "error", err)
			} else if fresh.Logging.Level != cfg.Logging.Level {
				log.SetLevel(fresh.Logging.Level)
				cfg.Logging.Level = fresh.Logging.Level
				log.Info("log level changed", "level", fresh.Logging.Level)
			}
			if bridge == nil {
				continue
			}
			bridgeCfg, err := knx.LoadConfig(cfg.Bridge.ConfigFile)
			if err != nil {
				log.Error("reloading device file failed, keeping current devices", "error", err)
				continue
			}
			bridge.ReloadDevices(bridgeCfg)
			log.Info("device file reloaded", "devices", len(bridgeCfg.Devices))
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses KNXIP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("KNXIP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// linkOptions maps the gateway section onto client options.
func linkOptions(cfg *config.Config, log *logging.Logger) (connection.Options, error) {
	g := cfg.Gateway
	opts := connection.Options{
		Mode:              g.Mode,
		Gateway:           cfg.GatewayAddr(),
		Interface:         g.Interface,
		NAT:               g.NAT,
		MinimumDelay:      cfg.GetMinimumDelay(),
		LocalEcho:         g.LocalEcho,
		MulticastTTL:      g.MulticastTTL,
		MulticastLoopback: g.MulticastLoopback,
		EventQueueSize:    g.EventQueueSize,
		Logger:            log,
	}
	if g.LocalIP != "" {
		opts.LocalIP = net.ParseIP(g.LocalIP)
	}
	if g.PhysicalAddress != "" {
		pa, err := address.ParsePhysical(g.PhysicalAddress)
		if err != nil {
			return connection.Options{}, err
		}
		opts.PhysicalAddress = pa
	}
	return opts, nil
}

// connectInfluxDB returns nil when telemetry is disabled.
func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.Options{
		Site: cfg.Site.ID,
		OnError: func(err error) {
			log.Error("InfluxDB write error", "error", err)
		},
	})
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

func connectMQTT(ctx context.Context, cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.Hooks{
		Logger:    log,
		OnConnect: func() { log.Info("MQTT session up") },
		OnDisconnect: func(err error) {
			log.Warn("MQTT connection lost", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT client started",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// startBridge loads the device file and starts the MQTT bridge.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	link *connection.Client,
	mqttClient *mqtt.Client,
	inventory *knx.Inventory,
	influxClient *influxdb.Client,
	m *metrics.Metrics,
	log *logging.Logger,
) (*knx.Bridge, error) {
	bridgeCfg, err := knx.LoadConfig(cfg.Bridge.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("loading device file: %w", err)
	}
	log.Info("device file loaded",
		"path", cfg.Bridge.ConfigFile,
		"devices", len(bridgeCfg.Devices),
	)

	opts := knx.BridgeOptions{
		Config:     bridgeCfg,
		MQTTClient: mqttClient,
		Link:       link,
		Logger:     log,
		Recorder:   inventory,
		Metrics:    m,
		Version:    version,
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := knx.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating KNX bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("KNX bridge started", "bridge_id", bridgeCfg.Bridge.ID)
	return bridge, nil
}

// recordTelegram feeds group writes and responses into the inventory when
// the bridge is not doing so.
func recordTelegram(inv *knx.Inventory) connection.Handler {
	return func(ev connection.Event) {
		if !ev.Group {
			return
		}
		switch ev.APCI {
		case frame.GroupValueWrite, frame.GroupValueResponse:
			inv.RecordTelegram(ev.Source.String(), ev.Destination, ev.APCI == frame.GroupValueResponse, ev.Data)
		}
	}
}

// writeLinkStats samples link counters into InfluxDB until ctx ends.
func writeLinkStats(ctx context.Context, link *connection.Client, influx *influxdb.Client) {
	ticker := time.NewTicker(linkStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := link.Stats()
			influx.WriteLinkStats(s.Mode, string(s.State), map[string]uint64{
				"frames_rx":       s.FramesRx,
				"frames_tx":       s.FramesTx,
				"frames_dropped":  s.FramesDropped,
				"tunnel_failures": s.TunnelFailures,
				"send_errors":     s.SendErrors,
				"reconnects":      s.Reconnects,
				"events_dropped":  s.EventsDropped,
				"influx_failures": influx.WriteFailures(),
			})
		}
	}
}

// healthCheck verifies the infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
