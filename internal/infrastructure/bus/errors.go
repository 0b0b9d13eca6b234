package bus

import "errors"

// Domain errors for bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the bus cannot be reached.
	ErrConnectionFailed = errors.New("bus: connection failed")

	// ErrInvalidBus is returned when the configured bus is neither system nor session.
	ErrInvalidBus = errors.New("bus: invalid bus selection")

	// ErrMatchFailed is returned when a match rule cannot be registered.
	ErrMatchFailed = errors.New("bus: adding match rule failed")

	// ErrNotConnected is returned when operating on a closed client.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrSignature is returned when a bus message has an unexpected signature.
	ErrSignature = errors.New("bus: unexpected message signature")
)
