package dundee

import (
	"time"

	"github.com/godbus/dbus/v5"
)

// Bus names and interfaces exposed by the dundee daemon.
const (
	// ServiceName is the daemon's well-known bus name.
	ServiceName = "org.ofono.dundee"

	// ManagerInterface is implemented by the object at ManagerPath.
	ManagerInterface = ServiceName + ".Manager"

	// DeviceInterface is implemented by every device object.
	DeviceInterface = ServiceName + ".Device"

	// ManagerPath is the object path of the manager.
	ManagerPath = dbus.ObjectPath("/")
)

// Members used on the daemon's interfaces.
const (
	MemberGetDevices      = "GetDevices"
	MemberDeviceAdded     = "DeviceAdded"
	MemberDeviceRemoved   = "DeviceRemoved"
	MemberPropertyChanged = "PropertyChanged"
)

// Full signal names as they appear in dbus.Signal.Name.
const (
	signalDeviceAdded     = ManagerInterface + "." + MemberDeviceAdded
	signalDeviceRemoved   = ManagerInterface + "." + MemberDeviceRemoved
	signalPropertyChanged = DeviceInterface + "." + MemberPropertyChanged
	methodGetDevices      = ManagerInterface + "." + MemberGetDevices
)

// Expected message signatures.
const (
	SignatureDeviceAdded     = "oa{sv}"
	SignatureDeviceRemoved   = "o"
	SignaturePropertyChanged = "sv"
	SignatureGetDevices      = "a(oa{sv})"
)

// Device property keys.
const (
	PropertyActive   = "Active"
	PropertySettings = "Settings"
	PropertyName     = "Name"
)

// Keys of the Settings property bag.
const (
	SettingInterface         = "Interface"
	SettingAddress           = "Address"
	SettingGateway           = "Gateway"
	SettingDomainNameServers = "DomainNameServers"
)

// DefaultGetDevicesTimeout bounds the wait for the GetDevices reply.
const DefaultGetDevicesTimeout = 40 * time.Second

// protocolName is the protocol segment of MQTT topics.
const protocolName = "dun"
