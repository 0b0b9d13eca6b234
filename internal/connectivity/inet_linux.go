//go:build linux

package connectivity

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setInterfaceUp toggles IFF_UP with SIOCGIFFLAGS/SIOCSIFFLAGS.
func setInterfaceUp(index int, up bool) error {
	name, err := interfaceName(index)
	if err != nil {
		return err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("opening control socket: %w", err)
	}
	defer unix.Close(fd) //nolint:errcheck // best-effort close

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("interface %s: %w", name, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("reading flags of %s: %w", name, err)
	}

	flags := ifr.Uint16()
	if up {
		if flags&unix.IFF_UP != 0 {
			return nil
		}
		flags |= unix.IFF_UP
	} else {
		if flags&unix.IFF_UP == 0 {
			return nil
		}
		flags &^= unix.IFF_UP
	}

	ifr.SetUint16(flags)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("setting flags of %s: %w", name, err)
	}
	return nil
}
