package dundee

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Settings is the IPv4 configuration of one device.
// A Settings value is replaced as a whole on every Settings update.
type Settings struct {
	// Interface is the local interface name reported by the daemon.
	Interface string

	// IfaceIndex is the resolved kernel index of Interface.
	IfaceIndex int

	// Address and Gateway are IPv4 address strings.
	Address string
	Gateway string

	// Nameservers keeps the order received. Duplicates are kept.
	Nameservers []string
}

// NameserverString returns the nameservers joined by single spaces.
func (s *Settings) NameserverString() string {
	return strings.Join(s.Nameservers, " ")
}

// InterfaceResolver maps an interface name to its index.
type InterfaceResolver func(name string) (int, error)

// ParseSettings decodes a Settings property bag.
//
// Recognised keys are Interface, Address, Gateway and DomainNameServers.
// Other keys are ignored. A recognised key holding the wrong type fails
// the whole parse, as does a missing or unresolvable Interface.
//
// Parameters:
//   - value: The variant payload, expected to be map[string]dbus.Variant
//   - resolve: Resolves the interface name to an index
//
// Returns:
//   - *Settings: Fully resolved settings
//   - error: ErrInvalidSettings, ErrNoInterface or ErrInterfaceUnresolved
func ParseSettings(value any, resolve InterfaceResolver) (*Settings, error) {
	bag, ok := value.(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("%w: value is %T, want a{sv}", ErrInvalidSettings, value)
	}

	s := &Settings{IfaceIndex: -1}
	haveInterface := false

	for key, v := range bag {
		switch key {
		case SettingInterface:
			name, ok := v.Value().(string)
			if !ok {
				return nil, typeError(key, v)
			}
			s.Interface = name
			haveInterface = true

		case SettingAddress:
			addr, ok := v.Value().(string)
			if !ok {
				return nil, typeError(key, v)
			}
			s.Address = addr

		case SettingGateway:
			gw, ok := v.Value().(string)
			if !ok {
				return nil, typeError(key, v)
			}
			s.Gateway = gw

		case SettingDomainNameServers:
			servers, ok := v.Value().([]string)
			if !ok {
				return nil, typeError(key, v)
			}
			s.Nameservers = append([]string(nil), servers...)
		}
	}

	if !haveInterface {
		return nil, ErrNoInterface
	}

	index, err := resolve(s.Interface)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInterfaceUnresolved, s.Interface, err)
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInterfaceUnresolved, s.Interface)
	}
	s.IfaceIndex = index

	return s, nil
}

func typeError(key string, v dbus.Variant) error {
	return fmt.Errorf("%w: %s has signature %s", ErrInvalidSettings, key, v.Signature())
}
