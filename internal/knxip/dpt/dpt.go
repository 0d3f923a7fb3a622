package dpt

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Encoding limits.
const (
	scalingMax = 255
	angleMax   = 360

	float16MaxExponent = 15
	float16Invalid     = 0x7FFF
	float16Max         = 670433.28
	float16Min         = -671088.64

	sceneMax  = 63
	sceneMask = 0x3F

	stringBytes = 14
)

// ID is a datapoint type identifier in "main.sub" form, e.g. "9.001".
type ID string

// Common datapoint types.
const (
	Switch    ID = "1.001"
	Bool      ID = "1.002"
	Enable    ID = "1.003"
	Step      ID = "1.007"
	UpDown    ID = "1.008"
	OpenClose ID = "1.009"
	Start     ID = "1.010"
	Trigger   ID = "1.017"

	SwitchControl ID = "2.001"

	DimmingControl ID = "3.007"
	BlindControl   ID = "3.008"

	Scaling    ID = "5.001"
	Angle      ID = "5.003"
	PercentU8  ID = "5.004"
	Counter8   ID = "5.010"
	Percent8   ID = "6.001"
	Pulses16   ID = "7.001"
	Delta16    ID = "8.001"

	Temperature ID = "9.001"
	Lux         ID = "9.004"
	WindSpeed   ID = "9.005"
	Humidity    ID = "9.007"
	AirQuality  ID = "9.008"

	Counter32   ID = "12.001"
	Signed32    ID = "13.001"
	Power       ID = "14.056"
	String      ID = "16.000"
	SceneNumber ID = "17.001"
	SceneCtrl   ID = "18.001"
	ColourRGB   ID = "232.600"
)

// StepControl is the payload of DPT 3.007 and 3.008.
type StepControl struct {
	Increase bool  `json:"increase"`
	Steps    uint8 `json:"steps"`
}

// SceneControl is the payload of DPT 18.001.
type SceneControl struct {
	Scene uint8 `json:"scene"`
	Learn bool  `json:"learn"`
}

// RGB is the payload of DPT 232.600.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// EncodeBool encodes DPT 1.xxx.
func EncodeBool(v bool) []byte {
	if v {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeBool decodes DPT 1.xxx. Only bit 0 is significant.
func DecodeBool(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0]&0x01 != 0, nil
}

// EncodeStepControl encodes DPT 3.007/3.008: direction in bit 3, step code in
// bits 0-2 (0 means stop).
func EncodeStepControl(c StepControl) []byte {
	var v byte
	if c.Increase {
		v = 0x08
	}
	return []byte{v | c.Steps&0x07}
}

// DecodeStepControl decodes DPT 3.007/3.008.
func DecodeStepControl(data []byte) (StepControl, error) {
	if len(data) < 1 {
		return StepControl{}, fmt.Errorf("%w: DPT3 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return StepControl{Increase: data[0]&0x08 != 0, Steps: data[0] & 0x07}, nil
}

// EncodeScaling encodes a percentage (DPT 5.001), clamping to 0-100.
func EncodeScaling(percent float64) []byte {
	percent = math.Max(0, math.Min(100, percent))
	return []byte{uint8(math.Round(percent * scalingMax / 100))}
}

// DecodeScaling decodes DPT 5.001 to a percentage.
func DecodeScaling(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * 100 / scalingMax, nil
}

// EncodeAngle encodes degrees (DPT 5.003), clamping to 0-360.
func EncodeAngle(deg float64) []byte {
	deg = math.Max(0, math.Min(angleMax, deg))
	return []byte{uint8(math.Round(deg * scalingMax / angleMax))}
}

// DecodeAngle decodes DPT 5.003 to degrees.
func DecodeAngle(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 angle requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * angleMax / scalingMax, nil
}

// EncodeFloat16 encodes the KNX 2-byte float (DPT 9.xxx).
//
//	Byte 0: MEEE EMMM
//	Byte 1: MMMM MMMM
//
// value = 0.01 × M × 2^E, M a 12-bit two's complement mantissa whose sign
// bit is bit 15.
func EncodeFloat16(value float64) ([]byte, error) {
	if math.IsNaN(value) || value < float16Min || value > float16Max {
		return nil, fmt.Errorf("%w: DPT9 value %.2f outside %.2f to %.2f", ErrEncodingFailed, value, float16Min, float16Max)
	}

	for exp := 0; exp <= float16MaxExponent; exp++ {
		m := math.Round(value * 100 / float64(int(1)<<exp))
		if m < -2048 || m > 2047 {
			continue
		}
		mant := int16(m)
		raw := uint16(exp)<<11 | uint16(mant)&0x07FF //nolint:gosec // exp bounded, mantissa masked
		if mant < 0 {
			raw |= 0x8000
		}
		return []byte{byte(raw >> 8), byte(raw)}, nil
	}
	return nil, fmt.Errorf("%w: DPT9 exponent overflow for %.2f", ErrEncodingFailed, value)
}

// DecodeFloat16 decodes DPT 9.xxx. 0x7FFF is the invalid-data sentinel.
func DecodeFloat16(data []byte) (float64, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}
	raw := binary.BigEndian.Uint16(data)
	if raw == float16Invalid {
		return 0, fmt.Errorf("%w: DPT9 invalid value 0x7FFF", ErrDecodingFailed)
	}
	exp := (raw >> 11) & 0x0F
	mant := int(raw & 0x07FF)
	if raw&0x8000 != 0 {
		mant -= 2048
	}
	return float64(mant) * float64(int(1)<<exp) / 100, nil
}

// EncodeFloat32 encodes DPT 14.xxx.
func EncodeFloat32(value float64) []byte {
	return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(value)))
}

// DecodeFloat32 decodes DPT 14.xxx.
func DecodeFloat32(data []byte) (float64, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: DPT14 requires 4 bytes, got %d", ErrDecodingFailed, len(data))
	}
	return float64(math.Float32frombits(binary.BigEndian.Uint32(data))), nil
}

// EncodeString encodes DPT 16.000: up to 14 ASCII characters, zero padded.
func EncodeString(s string) ([]byte, error) {
	if len(s) > stringBytes {
		return nil, fmt.Errorf("%w: DPT16 string longer than %d bytes", ErrEncodingFailed, stringBytes)
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return nil, fmt.Errorf("%w: DPT16 string is not ASCII", ErrEncodingFailed)
		}
	}
	out := make([]byte, stringBytes)
	copy(out, s)
	return out, nil
}

// DecodeString decodes DPT 16.000, dropping trailing padding.
func DecodeString(data []byte) (string, error) {
	if len(data) < 1 {
		return "", fmt.Errorf("%w: DPT16 payload empty", ErrDecodingFailed)
	}
	return strings.TrimRight(string(data), "\x00"), nil
}

// EncodeScene encodes DPT 17.001 (scene 0-63).
func EncodeScene(scene uint8) ([]byte, error) {
	if scene > sceneMax {
		return nil, fmt.Errorf("%w: DPT17 scene must be 0-%d, got %d", ErrEncodingFailed, sceneMax, scene)
	}
	return []byte{scene}, nil
}

// DecodeScene decodes DPT 17.001.
func DecodeScene(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT17 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0] & sceneMask, nil
}

// EncodeSceneControl encodes DPT 18.001: learn flag in bit 7.
func EncodeSceneControl(c SceneControl) ([]byte, error) {
	b, err := EncodeScene(c.Scene)
	if err != nil {
		return nil, fmt.Errorf("%w: DPT18 scene must be 0-%d, got %d", ErrEncodingFailed, sceneMax, c.Scene)
	}
	if c.Learn {
		b[0] |= 0x80
	}
	return b, nil
}

// DecodeSceneControl decodes DPT 18.001.
func DecodeSceneControl(data []byte) (SceneControl, error) {
	if len(data) < 1 {
		return SceneControl{}, fmt.Errorf("%w: DPT18 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return SceneControl{Scene: data[0] & sceneMask, Learn: data[0]&0x80 != 0}, nil
}

// EncodeRGB encodes DPT 232.600.
func EncodeRGB(c RGB) []byte { return []byte{c.R, c.G, c.B} }

// DecodeRGB decodes DPT 232.600.
func DecodeRGB(data []byte) (RGB, error) {
	if len(data) < 3 {
		return RGB{}, fmt.Errorf("%w: DPT232 requires 3 bytes, got %d", ErrDecodingFailed, len(data))
	}
	return RGB{R: data[0], G: data[1], B: data[2]}, nil
}
