package knx

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-knxip/internal/knxip/address"
	"github.com/nerrad567/gray-logic-knxip/internal/knxip/dpt"
)

// Address flags.
const (
	FlagRead     = "read"     // the bridge may send GroupValue_Read
	FlagWrite    = "write"    // the bridge may send GroupValue_Write
	FlagTransmit = "transmit" // the device reports state on this address
)

const defaultHealthInterval = 30

// Config is the bridge device file.
type Config struct {
	Bridge  BridgeConfig   `yaml:"bridge"`
	Devices []DeviceConfig `yaml:"devices"`
}

// BridgeConfig holds bridge identity and health settings.
type BridgeConfig struct {
	// ID identifies this bridge in health messages.
	ID string `yaml:"id"`

	// HealthInterval is how often health is published, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// DeviceConfig maps one device's functions to group addresses.
type DeviceConfig struct {
	DeviceID  string                   `yaml:"device_id"`
	Type      string                   `yaml:"type"`
	Addresses map[string]AddressConfig `yaml:"addresses"`
}

// AddressConfig is a single function → group address mapping.
type AddressConfig struct {
	GA    string   `yaml:"ga"`    // 3-level or 2-level group address
	DPT   string   `yaml:"dpt"`   // e.g. "9.001"; defaults from the function table
	Flags []string `yaml:"flags"` // read, write, transmit; defaults from the function table
}

// GAMapping is the device side of one group address.
type GAMapping struct {
	DeviceID string
	Function string
	DPT      string
	Type     string
}

// LoadConfig reads the device file at path, fills DPTs and flags the
// file leaves out, applies KNXIP_BRIDGE_* overrides and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{Bridge: BridgeConfig{ID: "knx-bridge-01", HealthInterval: defaultHealthInterval}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing device file: %w", err)
	}

	cfg.applyFunctionDefaults()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFunctionDefaults() {
	for _, dev := range c.Devices {
		for fn, addr := range dev.Addresses {
			if addr.DPT == "" {
				addr.DPT = DefaultDPTForFunction(fn)
			}
			if len(addr.Flags) == 0 {
				addr.Flags = DefaultFlagsForFunction(fn)
			}
			dev.Addresses[fn] = addr
		}
	}
}

// applyEnvOverrides lets a container change bridge identity and cadence
// without editing the device file.
func (c *Config) applyEnvOverrides() error {
	if id, ok := os.LookupEnv("KNXIP_BRIDGE_ID"); ok && id != "" {
		c.Bridge.ID = id
	}
	raw, ok := os.LookupEnv("KNXIP_BRIDGE_HEALTH_INTERVAL")
	if !ok || raw == "" {
		return nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parsing KNXIP_BRIDGE_HEALTH_INTERVAL=%q: %w", raw, err)
	}
	c.Bridge.HealthInterval = secs
	return nil
}

// Validate checks the device file and reports every problem at once.
func (c *Config) Validate() error {
	var p problems

	if c.Bridge.ID == "" {
		p.add("bridge.id", "required")
	}
	if c.Bridge.HealthInterval < 1 {
		p.add("bridge.health_interval", "must be at least 1s")
	}

	firstUse := make(map[string]int, len(c.Devices))
	for i, dev := range c.Devices {
		at := fmt.Sprintf("devices[%d]", i)
		if dev.DeviceID == "" {
			p.add(at+".device_id", "required")
			continue
		}
		if prev, dup := firstUse[dev.DeviceID]; dup {
			p.add(at+".device_id", fmt.Sprintf("%q already used by devices[%d]", dev.DeviceID, prev))
		} else {
			firstUse[dev.DeviceID] = i
		}
		if dev.Type == "" {
			p.add(at+".type", "required")
		}
		if len(dev.Addresses) == 0 {
			p.add(at+".addresses", "empty")
		}
		p.checkAddresses(at+".addresses", dev.Addresses)
	}
	return p.err()
}

// problems collects validation failures as "path: reason".
type problems []string

func (p *problems) add(path, reason string) {
	*p = append(*p, path+": "+reason)
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("invalid device file: %s", strings.Join(p, "; "))
}

func (p *problems) checkAddresses(at string, addresses map[string]AddressConfig) {
	// Sorted so the message is stable.
	for _, fn := range slices.Sorted(maps.Keys(addresses)) {
		addr := addresses[fn]
		path := at + "." + fn

		switch {
		case addr.GA == "":
			p.add(path+".ga", "required")
		case !validGroup(addr.GA):
			p.add(path+".ga", fmt.Sprintf("invalid group address %q", addr.GA))
		}

		if addr.DPT == "" {
			p.add(path+".dpt", "required")
		} else if _, err := dpt.BitLength(addr.DPT); err != nil {
			p.add(path+".dpt", fmt.Sprintf("unsupported %q", addr.DPT))
		}

		for _, flag := range addr.Flags {
			if !slices.Contains(knownFlags, flag) {
				p.add(path+".flags", fmt.Sprintf("unknown flag %q", flag))
			}
		}
	}
}

var knownFlags = []string{FlagRead, FlagWrite, FlagTransmit}

func validGroup(s string) bool {
	_, err := address.ParseGroup(s)
	return err == nil
}

// GetHealthInterval returns the health interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// BuildDeviceIndex creates the lookup maps the bridge routes with.
//
// gaToDevice holds every address that carries state back (transmit or
// read); one group address may feed several devices. deviceToGAs holds
// every address of every device by function name. Group addresses are
// normalised to 3-level form so lookups match telegram destinations.
func (c *Config) BuildDeviceIndex() (gaToDevice map[string][]GAMapping, deviceToGAs map[string]map[string]AddressConfig) {
	gaToDevice = make(map[string][]GAMapping)
	deviceToGAs = make(map[string]map[string]AddressConfig)

	for _, dev := range c.Devices {
		deviceToGAs[dev.DeviceID] = make(map[string]AddressConfig, len(dev.Addresses))

		for fn, addr := range dev.Addresses {
			if ga, err := address.ParseGroup(addr.GA); err == nil {
				addr.GA = ga.String()
			}
			deviceToGAs[dev.DeviceID][fn] = addr

			if addr.HasFlag(FlagTransmit) || addr.HasFlag(FlagRead) {
				gaToDevice[addr.GA] = append(gaToDevice[addr.GA], GAMapping{
					DeviceID: dev.DeviceID,
					Function: fn,
					DPT:      addr.DPT,
					Type:     dev.Type,
				})
			}
		}
	}
	return gaToDevice, deviceToGAs
}

// HasFlag reports whether the address carries flag.
func (a AddressConfig) HasFlag(flag string) bool {
	return slices.Contains(a.Flags, flag)
}
