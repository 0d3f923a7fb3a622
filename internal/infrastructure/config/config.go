package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
)

// Config is the knxipd configuration file.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// GatewayConfig contains the KNXnet/IP connection settings.
type GatewayConfig struct {
	// Mode is "tunneling", "routing" or "auto". Auto picks routing when Host
	// is empty or a multicast group.
	Mode string `yaml:"mode"`

	// Host is the tunneling server address or the routing multicast group.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Interface names the network interface to bind; LocalIP overrides it.
	Interface string `yaml:"interface"`
	LocalIP   string `yaml:"local_ip"`

	// PhysicalAddress is the source of outbound telegrams ("area.line.device").
	// Empty uses the address assigned by the tunneling server.
	PhysicalAddress string `yaml:"physical_address"`

	NAT               bool `yaml:"nat"`
	MinimumDelayMs    int  `yaml:"minimum_delay_ms"`
	LocalEcho         bool `yaml:"local_echo"`
	MulticastTTL      int  `yaml:"multicast_ttl"`
	MulticastLoopback bool `yaml:"multicast_loopback"`
	EventQueueSize    int  `yaml:"event_queue_size"`

	// ConnectTimeout bounds the initial connection attempt at startup, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
}

// BridgeConfig contains MQTT bridge settings.
type BridgeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ConfigFile string `yaml:"config_file"` // Path to the device mapping file
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APIAuthConfig guards bus commands (group write and read, stream write
// and read) with HS256 bearer tokens. An empty secret leaves them open,
// which is only sensible while the API listens on loopback.
type APIAuthConfig struct {
	Secret string `yaml:"secret"`
}

// minAuthSecretLen is the shortest accepted HMAC secret, in bytes.
const minAuthSecretLen = 32

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains live event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"` // Seconds
	PongTimeout    int    `yaml:"pong_timeout"`  // Seconds
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"` // stdout, stderr or file
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // Megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // Days
	Compress   bool   `yaml:"compress"`
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then KNXIP_* environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "KNX/IP Gateway",
		},
		Gateway: GatewayConfig{
			Mode:           "auto",
			Port:           3671,
			MulticastTTL:   16,
			ConnectTimeout: 10,
		},
		Bridge: BridgeConfig{
			ConfigFile: "./configs/knx-bridge.yaml",
		},
		Database: DatabaseConfig{
			Path:        "./data/knxip.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "knxip-gateway",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/knxipd.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
	}
}

// envOverride binds one KNXIP_* variable to a config field.
type envOverride struct {
	key string
	set func(v string) error
}

func envString(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func envInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func envBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

// applyEnvOverrides applies every set KNXIP_* variable. Credentials are
// expected to come from here rather than the file.
func applyEnvOverrides(cfg *Config) error {
	overrides := []envOverride{
		{"KNXIP_GATEWAY_MODE", envString(&cfg.Gateway.Mode)},
		{"KNXIP_GATEWAY_HOST", envString(&cfg.Gateway.Host)},
		{"KNXIP_GATEWAY_PORT", envInt(&cfg.Gateway.Port)},
		{"KNXIP_GATEWAY_INTERFACE", envString(&cfg.Gateway.Interface)},
		{"KNXIP_GATEWAY_LOCAL_IP", envString(&cfg.Gateway.LocalIP)},
		{"KNXIP_GATEWAY_PHYSICAL_ADDRESS", envString(&cfg.Gateway.PhysicalAddress)},
		{"KNXIP_GATEWAY_NAT", envBool(&cfg.Gateway.NAT)},
		{"KNXIP_BRIDGE_ENABLED", envBool(&cfg.Bridge.Enabled)},
		{"KNXIP_DATABASE_PATH", envString(&cfg.Database.Path)},
		{"KNXIP_MQTT_HOST", envString(&cfg.MQTT.Broker.Host)},
		{"KNXIP_MQTT_PORT", envInt(&cfg.MQTT.Broker.Port)},
		{"KNXIP_MQTT_CLIENT_ID", envString(&cfg.MQTT.Broker.ClientID)},
		{"KNXIP_MQTT_USERNAME", envString(&cfg.MQTT.Auth.Username)},
		{"KNXIP_MQTT_PASSWORD", envString(&cfg.MQTT.Auth.Password)},
		{"KNXIP_API_HOST", envString(&cfg.API.Host)},
		{"KNXIP_API_PORT", envInt(&cfg.API.Port)},
		{"KNXIP_API_AUTH_SECRET", envString(&cfg.API.Auth.Secret)},
		{"KNXIP_INFLUXDB_ENABLED", envBool(&cfg.InfluxDB.Enabled)},
		{"KNXIP_INFLUXDB_URL", envString(&cfg.InfluxDB.URL)},
		{"KNXIP_INFLUXDB_TOKEN", envString(&cfg.InfluxDB.Token)},
		{"KNXIP_LOG_LEVEL", envString(&cfg.Logging.Level)},
	}
	for _, o := range overrides {
		v, ok := os.LookupEnv(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.set(v); err != nil {
			return fmt.Errorf("parsing %s=%q: %w", o.key, v, err)
		}
	}
	return nil
}

// Validate reports every problem at once, joined by "; ".
func (c *Config) Validate() error {
	var errs []string
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	errs = append(errs, c.Gateway.validate()...)
	if c.Bridge.Enabled && c.Bridge.ConfigFile == "" {
		errs = append(errs, "bridge.config_file is required when the bridge is enabled")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Enabled {
		if !validPort(c.API.Port) {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 {
			errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be positive")
		}
		if n := len(c.API.Auth.Secret); n > 0 && n < minAuthSecretLen {
			errs = append(errs, fmt.Sprintf("api.auth.secret must be at least %d bytes", minAuthSecretLen))
		}
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	errs = append(errs, c.Logging.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (l LoggingConfig) validate() []string {
	switch strings.ToLower(l.Output) {
	case "", "stdout", "stderr":
		return nil
	case "file":
		if l.File.Path == "" {
			return []string{"logging.file.path is required for file output"}
		}
		return nil
	default:
		return []string{"logging.output must be stdout, stderr, or file"}
	}
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func (g GatewayConfig) validate() []string {
	var errs []string

	mode := strings.ToLower(g.Mode)
	switch mode {
	case "", "auto", "tunneling", "routing":
	default:
		errs = append(errs, "gateway.mode must be auto, tunneling, or routing")
	}
	if mode == "tunneling" && g.Host == "" {
		errs = append(errs, "gateway.host is required for tunneling")
	}
	if g.Host != "" && net.ParseIP(g.Host) == nil {
		errs = append(errs, "gateway.host must be an IP address")
	}
	if g.LocalIP != "" && net.ParseIP(g.LocalIP) == nil {
		errs = append(errs, "gateway.local_ip must be an IP address")
	}
	if !validPort(g.Port) {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if g.PhysicalAddress != "" {
		if _, err := address.ParsePhysical(g.PhysicalAddress); err != nil {
			errs = append(errs, fmt.Sprintf("gateway.physical_address: %v", err))
		}
	}
	if g.MinimumDelayMs < 0 {
		errs = append(errs, "gateway.minimum_delay_ms must not be negative")
	}
	if g.MulticastTTL < 0 || g.MulticastTTL > 255 {
		errs = append(errs, "gateway.multicast_ttl must be between 0 and 255")
	}
	return errs
}

// GatewayAddr returns the configured gateway endpoint, or nil when no host
// is set.
func (c *Config) GatewayAddr() *net.UDPAddr {
	ip := net.ParseIP(c.Gateway.Host)
	if ip == nil {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: c.Gateway.Port}
}

// GetMinimumDelay returns the spacing between outbound telegrams.
func (c *Config) GetMinimumDelay() time.Duration {
	return time.Duration(c.Gateway.MinimumDelayMs) * time.Millisecond
}

// GetConnectTimeout returns the startup connection timeout.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Gateway.ConnectTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
