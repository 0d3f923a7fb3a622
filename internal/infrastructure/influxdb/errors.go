package influxdb

import (
	"errors"
	"fmt"
)

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	ErrClosed    = errors.New("influxdb: client closed")
	ErrUnhealthy = errors.New("influxdb: server reports unhealthy")
)

// WriteError is passed to Options.OnError for every batch the write API
// gave up on. The points in that batch are lost.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("influxdb: batch write: %v", e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }
