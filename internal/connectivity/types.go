package connectivity

import "time"

// DeviceType classifies device objects. Drivers are matched by type.
type DeviceType string

// Device types.
const (
	DeviceTypeBluetooth DeviceType = "bluetooth"
)

// NetworkType classifies network objects. Drivers are matched by type.
type NetworkType string

// Network types.
const (
	NetworkTypeBluetoothDUN NetworkType = "bluetooth_dun"
)

// IPConfigMethod is how a network obtains its IPv4 configuration.
type IPConfigMethod string

// IPv4 configuration methods.
const (
	IPConfigMethodUnknown IPConfigMethod = "unknown"
	IPConfigMethodOff     IPConfigMethod = "off"
	IPConfigMethodFixed   IPConfigMethod = "fixed"
	IPConfigMethodManual  IPConfigMethod = "manual"
	IPConfigMethodDHCP    IPConfigMethod = "dhcp"
)

// IPAddress is an IPv4 address assignment.
type IPAddress struct {
	Local   string `json:"local"`
	Gateway string `json:"gateway,omitempty"`
}

// PropertyPath is the string property carrying the originating object path.
const PropertyPath = "Path"

// DeviceStatus is a point-in-time copy of a device object.
type DeviceStatus struct {
	Ident      string          `json:"ident"`
	Type       DeviceType      `json:"type"`
	Path       string          `json:"path,omitempty"`
	Powered    bool            `json:"powered"`
	Registered bool            `json:"registered"`
	Networks   []NetworkStatus `json:"networks"`
}

// NetworkStatus is a point-in-time copy of a network object.
type NetworkStatus struct {
	Ident       string         `json:"ident"`
	Type        NetworkType    `json:"type"`
	Name        string         `json:"name"`
	Group       string         `json:"group,omitempty"`
	Path        string         `json:"path,omitempty"`
	Available   bool           `json:"available"`
	Connected   bool           `json:"connected"`
	Index       int            `json:"index"`
	Method      IPConfigMethod `json:"method"`
	Address     IPAddress      `json:"address"`
	Nameservers []string       `json:"nameservers"`
}

// EventKind identifies a state change reported to observers.
type EventKind string

// Event kinds.
const (
	EventDeviceRegistered    EventKind = "device.registered"
	EventDeviceUnregistered  EventKind = "device.unregistered"
	EventDevicePowered       EventKind = "device.powered"
	EventNetworkAdded        EventKind = "network.added"
	EventNetworkRemoved      EventKind = "network.removed"
	EventNetworkConnected    EventKind = "network.connected"
	EventNetworkDisconnected EventKind = "network.disconnected"
	EventNetworkUpdated      EventKind = "network.updated"
)

// Event describes a change to a device or one of its networks.
type Event struct {
	Kind    EventKind      `json:"kind"`
	Device  DeviceStatus   `json:"device"`
	Network *NetworkStatus `json:"network,omitempty"`
	Time    time.Time      `json:"time"`
}

// Observer receives connectivity events.
// OnEvent is called synchronously by the goroutine that caused the change.
type Observer interface {
	OnEvent(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) {
	f(ev)
}

// DeviceDriver handles device objects of one DeviceType.
type DeviceDriver interface {
	Name() string
	Type() DeviceType
	Probe(dev *Device) error
	Remove(dev *Device)
	Enable(dev *Device) error
	Disable(dev *Device) error
}

// NetworkDriver handles network objects of one NetworkType.
type NetworkDriver interface {
	Name() string
	Type() NetworkType
	Probe(nw *Network) error
	Remove(nw *Network)
	Connect(nw *Network) error
	Disconnect(nw *Network) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds operational counters.
type Stats struct {
	DevicesCreated      uint64 `json:"devices_created"`
	DevicesReleased     uint64 `json:"devices_released"`
	DevicesRegistered   uint64 `json:"devices_registered"`
	DevicesUnregistered uint64 `json:"devices_unregistered"`
	NetworksCreated     uint64 `json:"networks_created"`
	NetworksReleased    uint64 `json:"networks_released"`
	NetworksAttached    uint64 `json:"networks_attached"`
	NetworksDetached    uint64 `json:"networks_detached"`
	Connects            uint64 `json:"connects"`
	Disconnects         uint64 `json:"disconnects"`
	IfUps               uint64 `json:"if_ups"`
	IfDowns             uint64 `json:"if_downs"`
	DoubleReleases      uint64 `json:"double_releases"`
	ActiveDevices       int    `json:"active_devices"`
}
