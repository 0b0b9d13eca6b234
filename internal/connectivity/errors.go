package connectivity

import "errors"

// Domain errors for the connectivity subsystem.
var (
	// ErrInvalidIdent is returned when an object is created without an identifier.
	ErrInvalidIdent = errors.New("connectivity: invalid identifier")

	// ErrAlreadyRegistered is returned when a device ident is already registered
	// or a network is already attached to a device.
	ErrAlreadyRegistered = errors.New("connectivity: already registered")

	// ErrNotRegistered is returned when an operation needs a registered object.
	ErrNotRegistered = errors.New("connectivity: not registered")

	// ErrNoDriver is returned when no driver handles the object's type.
	ErrNoDriver = errors.New("connectivity: no driver for type")

	// ErrDriverExists is returned when a driver for the type is already registered.
	ErrDriverExists = errors.New("connectivity: driver already registered")

	// ErrProbeFailed is returned when a driver rejects an object.
	ErrProbeFailed = errors.New("connectivity: driver probe failed")

	// ErrInterfaceNotFound is returned when an interface name or index
	// cannot be resolved.
	ErrInterfaceNotFound = errors.New("connectivity: interface not found")

	// ErrReleased is returned when an operation targets a released object.
	ErrReleased = errors.New("connectivity: object released")

	// ErrUnknownCommand is returned when a device command is not recognised.
	ErrUnknownCommand = errors.New("connectivity: unknown command")

	// ErrUnsupported is returned for interface control on unsupported platforms.
	ErrUnsupported = errors.New("connectivity: not supported on this platform")
)
