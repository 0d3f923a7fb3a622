package knx

import (
	"fmt"
	"strings"
)

// FunctionDef describes a recognised device function.
type FunctionDef struct {
	Name     string   // canonical name, e.g. "switch"
	StateKey string   // key in published state, e.g. "on"
	DPT      string   // default datapoint type
	Flags    []string // default flags
	Aliases  []string
}

var (
	writeOnly    = []string{FlagWrite}
	readTransmit = []string{FlagRead, FlagTransmit}
)

// CanonicalFunctions lists every function the bridge understands. Every
// default DPT is one the value codec implements.
var CanonicalFunctions = []FunctionDef{
	// Lighting
	{Name: "switch", StateKey: "on", DPT: "1.001", Flags: writeOnly, Aliases: []string{"on_off", "switching"}},
	{Name: "switch_status", StateKey: "on", DPT: "1.001", Flags: readTransmit, Aliases: []string{"switch_feedback"}},
	{Name: "brightness", StateKey: "level", DPT: "5.001", Flags: writeOnly, Aliases: []string{"dim", "dimming", "level"}},
	{Name: "brightness_status", StateKey: "level", DPT: "5.001", Flags: readTransmit, Aliases: []string{"dim_status", "dim_feedback"}},
	{Name: "color_temperature", StateKey: "color_temp", DPT: "7.600", Flags: writeOnly, Aliases: []string{"ct", "colour_temperature", "color_temp"}},                      //nolint:misspell // DPT 7.600 name
	{Name: "color_temperature_status", StateKey: "color_temp", DPT: "7.600", Flags: readTransmit, Aliases: []string{"colour_temperature_status", "color_temp_status"}}, //nolint:misspell // DPT 7.600 name
	{Name: "rgb", StateKey: "rgb", DPT: "232.600", Flags: writeOnly, Aliases: []string{"colour"}},
	{Name: "rgb_status", StateKey: "rgb", DPT: "232.600", Flags: readTransmit},
	{Name: "dimming_control", StateKey: "dimming_control", DPT: "3.007", Flags: writeOnly, Aliases: []string{"relative_dimming"}},

	// Blinds
	{Name: "position", StateKey: "position", DPT: "5.001", Flags: writeOnly, Aliases: []string{"blind_position", "height"}},
	{Name: "position_status", StateKey: "position", DPT: "5.001", Flags: readTransmit, Aliases: []string{"position_feedback"}},
	{Name: "slat", StateKey: "tilt", DPT: "5.001", Flags: writeOnly, Aliases: []string{"tilt", "angle"}},
	{Name: "slat_status", StateKey: "tilt", DPT: "5.001", Flags: readTransmit, Aliases: []string{"tilt_status"}},
	{Name: "move", StateKey: "moving", DPT: "1.008", Flags: writeOnly, Aliases: []string{"up_down"}},
	{Name: "stop", StateKey: "stop", DPT: "1.007", Flags: writeOnly, Aliases: []string{"step", "step_stop"}},
	{Name: "blind_control", StateKey: "blind_control", DPT: "3.008", Flags: writeOnly, Aliases: []string{"relative_position"}},

	// Climate
	{Name: "temperature", StateKey: "temperature", DPT: "9.001", Flags: readTransmit, Aliases: []string{"actual_temperature", "temp", "room_temperature"}},
	{Name: "setpoint", StateKey: "setpoint", DPT: "9.001", Flags: []string{FlagWrite, FlagRead}, Aliases: []string{"target_temperature"}},
	{Name: "setpoint_status", StateKey: "setpoint", DPT: "9.001", Flags: readTransmit},
	{Name: "heating", StateKey: "heating", DPT: "1.001", Flags: readTransmit, Aliases: []string{"heat_demand"}},
	{Name: "cooling", StateKey: "cooling", DPT: "1.001", Flags: readTransmit, Aliases: []string{"cool_demand"}},
	{Name: "valve", StateKey: "valve", DPT: "5.001", Flags: writeOnly, Aliases: []string{"valve_position", "heating_output"}},
	{Name: "valve_status", StateKey: "valve", DPT: "5.001", Flags: readTransmit},
	{Name: "humidity", StateKey: "humidity", DPT: "9.007", Flags: readTransmit, Aliases: []string{"rh", "relative_humidity"}},

	// Sensors
	{Name: "presence", StateKey: "presence", DPT: "1.018", Flags: readTransmit, Aliases: []string{"motion", "occupancy"}},
	{Name: "lux", StateKey: "lux", DPT: "9.004", Flags: readTransmit, Aliases: []string{"illuminance", "light_level"}},
	{Name: "co2", StateKey: "co2", DPT: "9.008", Flags: readTransmit, Aliases: []string{"air_quality"}},
	{Name: "wind_speed", StateKey: "wind_speed", DPT: "9.005", Flags: readTransmit, Aliases: []string{"wind"}},
	{Name: "rain", StateKey: "rain", DPT: "1.005", Flags: readTransmit},
	{Name: "alarm", StateKey: "alarm", DPT: "1.005", Flags: readTransmit, Aliases: []string{"fault"}},

	// Metering
	{Name: "power", StateKey: "power", DPT: "14.056", Flags: readTransmit, Aliases: []string{"active_power"}},
	{Name: "voltage", StateKey: "voltage", DPT: "14.027", Flags: readTransmit},
	{Name: "current", StateKey: "current", DPT: "14.019", Flags: readTransmit},
	{Name: "active_energy", StateKey: "energy", DPT: "13.010", Flags: readTransmit, Aliases: []string{"energy_kwh"}},
	{Name: "counter", StateKey: "counter", DPT: "12.001", Flags: readTransmit, Aliases: []string{"pulses"}},

	// Scenes and generic values
	{Name: "scene_number", StateKey: "scene", DPT: "17.001", Flags: []string{FlagWrite, FlagTransmit}, Aliases: []string{"scene"}},
	{Name: "scene_control", StateKey: "scene_control", DPT: "18.001", Flags: writeOnly},
	{Name: "text", StateKey: "text", DPT: "16.000", Flags: []string{FlagWrite, FlagTransmit}, Aliases: []string{"display"}},
	{Name: "enable", StateKey: "enable", DPT: "1.003", Flags: writeOnly},
	{Name: "open_close", StateKey: "open_close", DPT: "1.009", Flags: writeOnly, Aliases: []string{"contact"}},
	{Name: "trigger", StateKey: "trigger", DPT: "1.017", Flags: writeOnly},
	{Name: "percentage", StateKey: "percentage", DPT: "5.004", Flags: writeOnly},
}

// Push button inputs and their LEDs are numbered; see init.
const (
	buttonInputs = 8
	buttonLEDs   = 4
)

var (
	functionByName  map[string]*FunctionDef
	functionByAlias map[string]*FunctionDef
)

func init() {
	for n := 1; n <= buttonInputs; n++ {
		name := fmt.Sprintf("button_%d", n)
		CanonicalFunctions = append(CanonicalFunctions, FunctionDef{
			Name: name, StateKey: name, DPT: "1.001", Flags: []string{FlagWrite, FlagTransmit},
		})
		if n <= buttonLEDs {
			CanonicalFunctions = append(CanonicalFunctions, FunctionDef{
				Name: name + "_led", StateKey: name + "_led", DPT: "1.001", Flags: writeOnly,
			})
		}
	}

	functionByName = make(map[string]*FunctionDef, len(CanonicalFunctions))
	functionByAlias = make(map[string]*FunctionDef, len(CanonicalFunctions))
	for i := range CanonicalFunctions {
		fn := &CanonicalFunctions[i]
		functionByName[fn.Name] = fn
		for _, alias := range fn.Aliases {
			functionByAlias[alias] = fn
		}
	}
}

// LookupFunction resolves a canonical name, an alias, or a channel
// prefixed name ("ch_a_switch"). It returns nil when none match.
func LookupFunction(name string) *FunctionDef {
	if fn, ok := functionByName[name]; ok {
		return fn
	}
	if fn, ok := functionByAlias[name]; ok {
		return fn
	}
	if prefix, canon, known := NormalizeChannelFunction(name); prefix != "" && known {
		return functionByName[canon]
	}
	return nil
}

// NormalizeFunction resolves a name to its canonical form.
func NormalizeFunction(name string) (canonical string, known bool) {
	if _, ok := functionByName[name]; ok {
		return name, true
	}
	if fn, ok := functionByAlias[name]; ok {
		return fn.Name, true
	}
	return name, false
}

// channelPrefixes mark functions of multi-channel actuators.
var channelPrefixes = func() []string {
	var out []string
	for c := 'a'; c <= 'l'; c++ {
		out = append(out, "ch_"+string(c)+"_")
	}
	for c := 'a'; c <= 'h'; c++ {
		out = append(out, "channel_"+string(c)+"_")
	}
	return out
}()

// NormalizeChannelFunction splits "ch_a_switch" into "ch_a_" and
// "switch". prefix is empty when name has no channel prefix.
func NormalizeChannelFunction(name string) (prefix string, canonical string, known bool) {
	lower := strings.ToLower(name)
	for _, p := range channelPrefixes {
		if base, ok := strings.CutPrefix(lower, p); ok {
			canon, isKnown := NormalizeFunction(base)
			return p, canon, isKnown
		}
	}
	return "", name, false
}

// StateKeyForFunction returns the state key a function reports under.
// Channel functions keep their prefix ("ch_a_switch" → "ch_a_on");
// unknown functions report under their own name.
func StateKeyForFunction(name string) string {
	if fn, ok := functionByName[name]; ok {
		return fn.StateKey
	}
	if fn, ok := functionByAlias[name]; ok {
		return fn.StateKey
	}
	if prefix, canon, known := NormalizeChannelFunction(name); prefix != "" && known {
		return prefix + functionByName[canon].StateKey
	}
	return name
}

// DefaultDPTForFunction returns the default DPT, or "" when unknown.
func DefaultDPTForFunction(name string) string {
	if fn := LookupFunction(name); fn != nil {
		return fn.DPT
	}
	return ""
}

// DefaultFlagsForFunction returns a copy of the default flags, or nil
// when unknown.
func DefaultFlagsForFunction(name string) []string {
	if fn := LookupFunction(name); fn != nil {
		return append([]string(nil), fn.Flags...)
	}
	return nil
}

// commandFunctions lists, per command, the functions tried in order.
var commandFunctions = map[string][]string{
	"on":           {"switch"},
	"off":          {"switch"},
	"dim":          {"brightness"},
	"set_position": {"position"},
	"set_tilt":     {"slat"},
	"stop":         {"stop", "move"},
}

// resolveFunction finds the address for fn among a device's addresses,
// accepting aliases on either side.
func resolveFunction(addresses map[string]AddressConfig, fn string) (string, AddressConfig, bool) {
	if addr, ok := addresses[fn]; ok {
		return fn, addr, true
	}
	want, _ := NormalizeFunction(fn)
	for name, addr := range addresses {
		if canon, _ := NormalizeFunction(name); canon == want {
			return name, addr, true
		}
	}
	return "", AddressConfig{}, false
}
