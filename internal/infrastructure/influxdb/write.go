package influxdb

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTelegram = "knx_telegram"
	MeasurementLink     = "knx_link"
)

// Telegram is one group telegram observed on the bus.
type Telegram struct {
	Destination string // group address, e.g. "1/2/3"
	Source      string // individual address, e.g. "1.1.20"
	Service     string // GroupValue_Write or GroupValue_Response
	DPT         string // empty when the address has no configured type
	Value       any    // decoded value, nil when not decoded
	Raw         []byte
	Time        time.Time
}

// WriteTelegram records a bus telegram.
//
// Numeric values land in the float field "value", booleans in "bool",
// and anything else in "text". The raw payload is always kept as hex.
func (c *Client) WriteTelegram(t Telegram) {
	if !c.IsConnected() {
		return
	}
	if t.Time.IsZero() {
		t.Time = time.Now()
	}
	c.writer.WritePoint(telegramPoint(t))
}

// WriteLinkStats records a snapshot of the link counters.
//
//	client.WriteLinkStats("tunneling", "idle", map[string]uint64{"frames_rx": 120})
func (c *Client) WriteLinkStats(mode, state string, counters map[string]uint64) {
	if !c.IsConnected() || len(counters) == 0 {
		return
	}

	fields := make(map[string]any, len(counters))
	for k, v := range counters {
		fields[k] = v
	}
	c.writer.WritePoint(write.NewPoint(
		MeasurementLink,
		map[string]string{"mode": mode, "state": state},
		fields,
		time.Now(),
	))
}

func telegramPoint(t Telegram) *write.Point {
	tags := map[string]string{
		"ga":      t.Destination,
		"source":  t.Source,
		"service": t.Service,
	}
	if t.DPT != "" {
		tags["dpt"] = t.DPT
	}

	fields := map[string]any{"raw": hex.EncodeToString(t.Raw)}
	if t.Value != nil {
		key, v := fieldFor(t.Value)
		fields[key] = v
	}
	return write.NewPoint(MeasurementTelegram, tags, fields, t.Time)
}

// fieldFor picks the field a decoded value is stored under. Field types
// must stay stable per measurement, so every number becomes a float.
func fieldFor(v any) (string, any) {
	switch n := v.(type) {
	case bool:
		return "bool", n
	case float64:
		return "value", n
	case float32:
		return "value", float64(n)
	case int8:
		return "value", float64(n)
	case int16:
		return "value", float64(n)
	case int32:
		return "value", float64(n)
	case int64:
		return "value", float64(n)
	case int:
		return "value", float64(n)
	case uint8:
		return "value", float64(n)
	case uint16:
		return "value", float64(n)
	case uint32:
		return "value", float64(n)
	case uint64:
		return "value", float64(n)
	case string:
		return "text", n
	default:
		return "text", fmt.Sprintf("%+v", n)
	}
}
