package dpt

import "errors"

// Value codec errors.
var (
	// ErrInvalidDPT is returned when a datapoint type identifier is
	// malformed or not supported.
	ErrInvalidDPT = errors.New("dpt: invalid datapoint type")

	// ErrEncodingFailed is returned when a value cannot be represented in
	// the requested datapoint type.
	ErrEncodingFailed = errors.New("dpt: encoding failed")

	// ErrDecodingFailed is returned when a payload is too short or holds a
	// sentinel value.
	ErrDecodingFailed = errors.New("dpt: decoding failed")
)
