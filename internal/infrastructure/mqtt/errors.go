package mqtt

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected    = errors.New("mqtt: not connected to broker")
	ErrInvalidTopic    = errors.New("mqtt: empty topic")
	ErrInvalidQoS      = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
	ErrNilHandler      = errors.New("mqtt: nil message handler")
	ErrTimeout         = errors.New("mqtt: broker did not answer in time")
)

// OpError reports a broker operation that failed after validation passed.
// Err is either ErrTimeout, a context error, or the error paho returned.
type OpError struct {
	Op    string
	Topic string
	Err   error
}

func (e *OpError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("mqtt %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mqtt %s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
