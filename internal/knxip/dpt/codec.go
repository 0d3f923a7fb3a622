package dpt

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Codec is the value codec contract used by the connection client.
type Codec interface {
	Encode(value any, id string) (data []byte, bitLength int, err error)
	Decode(data []byte, id string) (any, error)
}

// Default is the Codec backed by this package's encoders.
var Default Codec = codec{}

type codec struct{}

func (codec) Encode(value any, id string) ([]byte, int, error) { return Encode(value, id) }
func (codec) Decode(data []byte, id string) (any, error)       { return Decode(data, id) }

// Parse splits an identifier into main and sub numbers. It accepts "9.001",
// "DPT9.001", "DPT-9", "DPST-9-1" and a bare main number such as "9".
func Parse(id string) (main, sub int, err error) {
	s := strings.TrimSpace(strings.ToUpper(id))
	s = strings.TrimPrefix(s, "DPST-")
	s = strings.TrimPrefix(s, "DPT-")
	s = strings.TrimPrefix(s, "DPT")
	s = strings.ReplaceAll(s, "-", ".")
	if s == "" {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidDPT, id)
	}
	parts := strings.SplitN(s, ".", 2)
	main, err = strconv.Atoi(parts[0])
	if err != nil || main <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidDPT, id)
	}
	if len(parts) == 2 {
		sub, err = strconv.Atoi(parts[1])
		if err != nil || sub < 0 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidDPT, id)
		}
	}
	return main, sub, nil
}

// BitLength returns the payload size in bits of a datapoint type.
func BitLength(id string) (int, error) {
	main, _, err := Parse(id)
	if err != nil {
		return 0, err
	}
	switch main {
	case 1:
		return 1, nil
	case 2:
		return 2, nil
	case 3:
		return 4, nil
	case 5, 6, 17, 18:
		return 8, nil
	case 7, 8, 9:
		return 16, nil
	case 232:
		return 24, nil
	case 12, 13, 14:
		return 32, nil
	case 16:
		return 8 * stringBytes, nil
	default:
		return 0, fmt.Errorf("%w: DPT %d not supported", ErrInvalidDPT, main)
	}
}

// Encode converts value to the payload of datapoint type id and returns the
// payload with its bit length. Numeric values may be any Go integer or float
// type or a numeric string.
func Encode(value any, id string) ([]byte, int, error) {
	main, sub, err := Parse(id)
	if err != nil {
		return nil, 0, err
	}
	bits, err := BitLength(id)
	if err != nil {
		return nil, 0, err
	}
	if value == nil {
		return nil, 0, fmt.Errorf("%w: nil value for DPT %s", ErrEncodingFailed, id)
	}

	var data []byte
	switch main {
	case 1:
		b, err := toBool(value)
		if err != nil {
			return nil, 0, err
		}
		data = EncodeBool(b)
	case 2:
		n, err := toInt(value, 0, 3)
		if err != nil {
			return nil, 0, err
		}
		data = []byte{byte(n)}
	case 3:
		switch v := value.(type) {
		case StepControl:
			data = EncodeStepControl(v)
		case map[string]any:
			inc, _ := toBool(v["increase"])
			steps, err := toInt(v["steps"], 0, 7)
			if err != nil {
				return nil, 0, err
			}
			data = EncodeStepControl(StepControl{Increase: inc, Steps: uint8(steps)})
		default:
			n, err := toInt(value, 0, 15)
			if err != nil {
				return nil, 0, err
			}
			data = []byte{byte(n)}
		}
	case 5:
		f, err := toFloat(value)
		if err != nil {
			return nil, 0, err
		}
		switch sub {
		case 1:
			data = EncodeScaling(f)
		case 3:
			data = EncodeAngle(f)
		default:
			n, err := toInt(value, 0, 255)
			if err != nil {
				return nil, 0, err
			}
			data = []byte{byte(n)}
		}
	case 6:
		n, err := toInt(value, math.MinInt8, math.MaxInt8)
		if err != nil {
			return nil, 0, err
		}
		data = []byte{byte(int8(n))}
	case 7:
		n, err := toInt(value, 0, math.MaxUint16)
		if err != nil {
			return nil, 0, err
		}
		data = binary.BigEndian.AppendUint16(nil, uint16(n))
	case 8:
		n, err := toInt(value, math.MinInt16, math.MaxInt16)
		if err != nil {
			return nil, 0, err
		}
		data = binary.BigEndian.AppendUint16(nil, uint16(int16(n)))
	case 9:
		f, err := toFloat(value)
		if err != nil {
			return nil, 0, err
		}
		if data, err = EncodeFloat16(f); err != nil {
			return nil, 0, err
		}
	case 12:
		n, err := toInt(value, 0, math.MaxUint32)
		if err != nil {
			return nil, 0, err
		}
		data = binary.BigEndian.AppendUint32(nil, uint32(n))
	case 13:
		n, err := toInt(value, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, 0, err
		}
		data = binary.BigEndian.AppendUint32(nil, uint32(int32(n)))
	case 14:
		f, err := toFloat(value)
		if err != nil {
			return nil, 0, err
		}
		data = EncodeFloat32(f)
	case 16:
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}
		if data, err = EncodeString(s); err != nil {
			return nil, 0, err
		}
	case 17:
		n, err := toInt(value, 0, sceneMax)
		if err != nil {
			return nil, 0, err
		}
		data = []byte{byte(n)}
	case 18:
		var c SceneControl
		switch v := value.(type) {
		case SceneControl:
			c = v
		case map[string]any:
			n, err := toInt(v["scene"], 0, sceneMax)
			if err != nil {
				return nil, 0, err
			}
			c.Scene = uint8(n)
			c.Learn, _ = toBool(v["learn"])
		default:
			n, err := toInt(value, 0, sceneMax)
			if err != nil {
				return nil, 0, err
			}
			c.Scene = uint8(n)
		}
		if data, err = EncodeSceneControl(c); err != nil {
			return nil, 0, err
		}
	case 232:
		switch v := value.(type) {
		case RGB:
			data = EncodeRGB(v)
		case map[string]any:
			var c [3]uint8
			for i, k := range []string{"r", "g", "b"} {
				n, err := toInt(v[k], 0, 255)
				if err != nil {
					return nil, 0, err
				}
				c[i] = uint8(n)
			}
			data = EncodeRGB(RGB{R: c[0], G: c[1], B: c[2]})
		default:
			return nil, 0, fmt.Errorf("%w: DPT232 needs RGB, got %T", ErrEncodingFailed, value)
		}
	}
	return data, bits, nil
}

// Decode converts a payload of datapoint type id to a Go value.
//
// Result types: bool (1), uint8 (2, 5.xxx raw, 17), StepControl (3),
// float64 (5.001, 5.003, 9, 14), int8 (6), uint16 (7), int16 (8),
// uint32 (12), int32 (13), string (16), SceneControl (18), RGB (232).
func Decode(data []byte, id string) (any, error) {
	main, sub, err := Parse(id)
	if err != nil {
		return nil, err
	}
	need := func(n int) error {
		if len(data) < n {
			return fmt.Errorf("%w: DPT %s requires %d bytes, got %d", ErrDecodingFailed, id, n, len(data))
		}
		return nil
	}

	switch main {
	case 1:
		return DecodeBool(data)
	case 2:
		if err := need(1); err != nil {
			return nil, err
		}
		return data[0] & 0x03, nil
	case 3:
		return DecodeStepControl(data)
	case 5:
		switch sub {
		case 1:
			return DecodeScaling(data)
		case 3:
			return DecodeAngle(data)
		}
		if err := need(1); err != nil {
			return nil, err
		}
		return data[0], nil
	case 6:
		if err := need(1); err != nil {
			return nil, err
		}
		return int8(data[0]), nil
	case 7:
		if err := need(2); err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint16(data), nil
	case 8:
		if err := need(2); err != nil {
			return nil, err
		}
		return int16(binary.BigEndian.Uint16(data)), nil
	case 9:
		return DecodeFloat16(data)
	case 12:
		if err := need(4); err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint32(data), nil
	case 13:
		if err := need(4); err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(data)), nil
	case 14:
		return DecodeFloat32(data)
	case 16:
		return DecodeString(data)
	case 17:
		return DecodeScene(data)
	case 18:
		return DecodeSceneControl(data)
	case 232:
		return DecodeRGB(data)
	default:
		return nil, fmt.Errorf("%w: DPT %d not supported", ErrInvalidDPT, main)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "on", "yes":
			return true, nil
		case "0", "false", "off", "no":
			return false, nil
		}
		return false, fmt.Errorf("%w: %q is not a boolean", ErrEncodingFailed, b)
	}
	f, err := toFloat(v)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrEncodingFailed, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: unsupported value type %T", ErrEncodingFailed, v)
	}
}

func toInt(v any, lo, hi int64) (int64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	n := int64(math.Round(f))
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %v outside %d to %d", ErrEncodingFailed, v, lo, hi)
	}
	return n, nil
}
