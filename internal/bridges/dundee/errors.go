package dundee

import "errors"

// Domain errors for the DUN bridge package.
var (
	// ErrSignatureMismatch is returned when an inbound message does not
	// carry the expected argument signature.
	ErrSignatureMismatch = errors.New("dundee: signature does not match")

	// ErrNoInterface is returned when a Settings bag has no Interface key.
	ErrNoInterface = errors.New("dundee: settings have no interface")

	// ErrInterfaceUnresolved is returned when the settings interface name
	// does not resolve to a local interface index.
	ErrInterfaceUnresolved = errors.New("dundee: interface cannot be resolved")

	// ErrInvalidSettings is returned when the Settings value or one of its
	// recognised keys has the wrong type.
	ErrInvalidSettings = errors.New("dundee: invalid settings")

	// ErrBusUnavailable is returned when match rules or ownership queries
	// cannot be set up at start.
	ErrBusUnavailable = errors.New("dundee: bus unavailable")

	// ErrQueryFailed is returned when GetDevices fails or times out.
	ErrQueryFailed = errors.New("dundee: device query failed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("dundee: bridge already started")
)
