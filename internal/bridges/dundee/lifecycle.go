package dundee

import (
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/dunbridge/internal/connectivity"
)

// Subsystem is the part of the connectivity manager the bridge drives.
// Satisfied by *connectivity.Manager.
type Subsystem interface {
	RegisterDeviceDriver(driver connectivity.DeviceDriver) error
	UnregisterDeviceDriver(driver connectivity.DeviceDriver)
	RegisterNetworkDriver(driver connectivity.NetworkDriver) error
	UnregisterNetworkDriver(driver connectivity.NetworkDriver)

	CreateDevice(ident string, typ connectivity.DeviceType) (*connectivity.Device, error)
	RegisterDevice(dev *connectivity.Device) error
	UnregisterDevice(dev *connectivity.Device)
	ReleaseDevice(dev *connectivity.Device)

	CreateNetwork(ident string, typ connectivity.NetworkType) (*connectivity.Network, error)
	ReleaseNetwork(nw *connectivity.Network)

	IfIndex(name string) (int, error)
	IfUp(index int) error
	IfDown(index int) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// identFromPath returns the final segment of an object path, or "" when
// the path is not absolute.
func identFromPath(path dbus.ObjectPath) string {
	p := string(path)
	if !strings.HasPrefix(p, "/") {
		return ""
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

// Lifecycle creates, connects, disconnects and destroys the connectivity
// objects of a record.
type Lifecycle struct {
	sub Subsystem

	logger   Logger
	loggerMu sync.RWMutex
}

// NewLifecycle creates a Lifecycle driving sub.
func NewLifecycle(sub Subsystem) *Lifecycle {
	return &Lifecycle{sub: sub}
}

// SetLogger sets the logger.
func (l *Lifecycle) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

// Create builds the device and network objects for rec.
//
// A device that fails to register is released and rec stays inert. A
// network that fails to attach is released and rec keeps its device
// without a network. Neither is retried.
func (l *Lifecycle) Create(rec *Record) {
	if rec.device != nil {
		return
	}

	ident := identFromPath(rec.path)
	if ident == "" {
		l.logWarn("device path has no identifier", "path", rec.path)
		return
	}

	dev, err := l.sub.CreateDevice(ident, connectivity.DeviceTypeBluetooth)
	if err != nil {
		l.logError("creating DUN device", "path", rec.path, "error", err)
		return
	}
	dev.SetIdent(ident)
	dev.SetString(connectivity.PropertyPath, string(rec.path))
	dev.SetData(rec)

	if err := l.sub.RegisterDevice(dev); err != nil {
		l.logError("registering DUN device", "path", rec.path, "error", err)
		l.sub.ReleaseDevice(dev)
		return
	}
	rec.device = dev
	rec.state = stateDeviceOK

	nw, err := l.sub.CreateNetwork(string(rec.path), connectivity.NetworkTypeBluetoothDUN)
	if err != nil {
		l.logError("creating DUN network", "path", rec.path, "error", err)
		return
	}
	nw.SetData(rec)
	nw.SetString(connectivity.PropertyPath, string(rec.path))
	nw.SetName(rec.name)
	nw.SetGroup(ident)
	nw.SetAvailable(true)

	if err := dev.AddNetwork(nw); err != nil {
		l.logError("attaching DUN network", "path", rec.path, "error", err)
		l.sub.ReleaseNetwork(nw)
		return
	}
	rec.network = nw
	rec.state = stateNetworkOK

	l.logDebug("DUN device created", "path", rec.path, "ident", ident)
}

// Destroy tears down rec's objects in reverse order. Safe for a record in
// any state and safe to call twice.
func (l *Lifecycle) Destroy(rec *Record) {
	if rec.device == nil {
		return
	}
	dev := rec.device

	dev.SetPowered(false)

	if rec.network != nil {
		dev.RemoveNetwork(rec.network)
		l.sub.ReleaseNetwork(rec.network)
		rec.network = nil
	}

	l.sub.UnregisterDevice(dev)
	l.sub.ReleaseDevice(dev)
	rec.device = nil
	rec.state = stateCreated

	l.logDebug("DUN device destroyed", "path", rec.path)
}

// Connect brings the interface up and pushes rec's settings into its
// network. No-op without settings or without a network.
func (l *Lifecycle) Connect(rec *Record) {
	if rec.settings == nil || rec.network == nil {
		l.logDebug("activation without settings or network ignored",
			"path", rec.path, "has_settings", rec.settings != nil, "has_network", rec.network != nil)
		return
	}
	s := rec.settings

	if err := l.sub.IfUp(s.IfaceIndex); err != nil {
		l.logWarn("bringing interface up", "path", rec.path, "index", s.IfaceIndex, "error", err)
	}

	nw := rec.network
	nw.SetIndex(s.IfaceIndex)
	nw.SetIPv4Method(connectivity.IPConfigMethodFixed)
	nw.SetIPAddress(connectivity.IPAddress{Local: s.Address, Gateway: s.Gateway})
	nw.SetNameservers(s.Nameservers)
	nw.SetConnected(true)

	l.logInfo("DUN network connected",
		"path", rec.path,
		"interface", s.Interface,
		"address", s.Address,
		"nameservers", s.NameserverString())
}

// Disconnect marks rec's network disconnected and brings the interface
// down. No-op without a network.
func (l *Lifecycle) Disconnect(rec *Record) {
	if rec.network == nil {
		return
	}
	rec.network.SetConnected(false)

	if rec.settings == nil {
		return
	}
	if err := l.sub.IfDown(rec.settings.IfaceIndex); err != nil {
		l.logWarn("bringing interface down", "path", rec.path, "index", rec.settings.IfaceIndex, "error", err)
	}
	l.logInfo("DUN network disconnected", "path", rec.path)
}

// Rename pushes rec's name into its network.
func (l *Lifecycle) Rename(rec *Record) {
	if rec.network == nil {
		return
	}
	rec.network.SetName(rec.name)
	rec.network.Update()
}

func (l *Lifecycle) getLogger() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

func (l *Lifecycle) logInfo(msg string, keysAndValues ...any) {
	if logger := l.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (l *Lifecycle) logWarn(msg string, keysAndValues ...any) {
	if logger := l.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (l *Lifecycle) logError(msg string, keysAndValues ...any) {
	if logger := l.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

func (l *Lifecycle) logDebug(msg string, keysAndValues ...any) {
	if logger := l.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
