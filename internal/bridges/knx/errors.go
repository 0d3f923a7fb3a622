package knx

import "errors"

// Domain errors for the KNX bridge.
var (
	// ErrUnknownDevice is returned for commands to a device that has no
	// mapping in the device file.
	ErrUnknownDevice = errors.New("knx bridge: unknown device")

	// ErrUnknownCommand is returned for an unrecognised command name.
	ErrUnknownCommand = errors.New("knx bridge: unknown command")

	// ErrNoAddress is returned when a device has no group address for the
	// function a command needs.
	ErrNoAddress = errors.New("knx bridge: no group address for function")

	// ErrInvalidParameter is returned when a command parameter is missing
	// or out of range.
	ErrInvalidParameter = errors.New("knx bridge: invalid parameter")
)
