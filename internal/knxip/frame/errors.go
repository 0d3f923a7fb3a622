package frame

import "errors"

// Codec errors. Detailed errors wrap one of these and can be matched with
// errors.Is.
var (
	// ErrDecoding is returned when a buffer cannot be parsed as a frame.
	ErrDecoding = errors.New("knxip: decoding failed")

	// ErrEncoding is returned when a frame cannot be serialised, for example
	// because a required block is missing or a field is out of range.
	ErrEncoding = errors.New("knxip: encoding failed")

	// ErrUnsupportedProtocol is returned for HPAI blocks using a host
	// protocol other than UDP over IPv4.
	ErrUnsupportedProtocol = errors.New("knxip: unsupported host protocol")
)
