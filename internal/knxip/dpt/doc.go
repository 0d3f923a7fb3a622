// Package dpt converts between Go values and KNX datapoint type (DPT)
// payloads.
//
// Each DPT has a fixed bit length which the frame codec uses to decide
// whether the payload travels inline in the APCI byte (six bits or fewer)
// or is appended after it.
//
// # Supported Types
//
//   - 1.xxx: boolean (1 bit)
//   - 2.xxx: controlled boolean (2 bits)
//   - 3.007, 3.008: dimming / blind step control (4 bits)
//   - 5.001 scaling, 5.003 angle, 5.xxx unsigned (8 bits)
//   - 6.xxx signed 8-bit, 7.xxx unsigned 16-bit, 8.xxx signed 16-bit
//   - 9.xxx: 2-byte float (temperature, lux, humidity)
//   - 12.xxx, 13.xxx: 32-bit counters
//   - 14.xxx: 4-byte IEEE float
//   - 16.xxx: 14-character string
//   - 17.001, 18.001: scene number and scene control
//   - 232.600: RGB colour
//
// # Usage
//
//	data, bits, err := dpt.Encode(21.5, "9.001")
//	value, err := dpt.Decode(data, "9.001")
package dpt
