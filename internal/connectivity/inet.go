package connectivity

import (
	"fmt"
	"net"
)

// Inet controls local network interfaces.
type Inet interface {
	// IfIndex resolves an interface name to its kernel index.
	IfIndex(name string) (int, error)

	// IfUp sets IFF_UP on the interface.
	IfUp(index int) error

	// IfDown clears IFF_UP on the interface.
	IfDown(index int) error
}

// SystemInet controls the host's interfaces.
type SystemInet struct{}

// IfIndex resolves name through the kernel interface table.
func (SystemInet) IfIndex(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return -1, fmt.Errorf("%w: %s: %w", ErrInterfaceNotFound, name, err)
	}
	return iface.Index, nil
}

// IfUp brings the interface up.
func (SystemInet) IfUp(index int) error {
	return setInterfaceUp(index, true)
}

// IfDown brings the interface down.
func (SystemInet) IfDown(index int) error {
	return setInterfaceUp(index, false)
}

func interfaceName(index int) (string, error) {
	iface, err := net.InterfaceByIndex(index)
	if err != nil {
		return "", fmt.Errorf("%w: index %d: %w", ErrInterfaceNotFound, index, err)
	}
	return iface.Name, nil
}
