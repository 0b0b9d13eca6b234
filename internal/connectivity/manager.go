package connectivity

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// managerStats holds the atomic counters behind Stats.
type managerStats struct {
	devicesCreated      atomic.Uint64
	devicesReleased     atomic.Uint64
	devicesRegistered   atomic.Uint64
	devicesUnregistered atomic.Uint64
	networksCreated     atomic.Uint64
	networksReleased    atomic.Uint64
	networksAttached    atomic.Uint64
	networksDetached    atomic.Uint64
	connects            atomic.Uint64
	disconnects         atomic.Uint64
	ifUps               atomic.Uint64
	ifDowns             atomic.Uint64
	doubleReleases      atomic.Uint64
}

// Manager is the registry of device and network objects and their drivers.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	inet Inet

	mu             sync.RWMutex
	deviceDrivers  map[DeviceType]DeviceDriver
	networkDrivers map[NetworkType]NetworkDriver
	devices        map[string]*Device
	observers      []Observer

	stats managerStats

	// now is replaceable in tests.
	now func() time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates a Manager that controls interfaces through inet.
func NewManager(inet Inet) *Manager {
	if inet == nil {
		inet = SystemInet{}
	}
	return &Manager{
		inet:           inet,
		deviceDrivers:  make(map[DeviceType]DeviceDriver),
		networkDrivers: make(map[NetworkType]NetworkDriver),
		devices:        make(map[string]*Device),
		now:            time.Now,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

// AddObserver registers an observer for connectivity events.
func (m *Manager) AddObserver(o Observer) {
	if o == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// =============================================================================
// Drivers
// =============================================================================

// RegisterDeviceDriver installs the driver for its device type.
func (m *Manager) RegisterDeviceDriver(driver DeviceDriver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.deviceDrivers[driver.Type()]; exists {
		return fmt.Errorf("%w: device type %s", ErrDriverExists, driver.Type())
	}
	m.deviceDrivers[driver.Type()] = driver
	return nil
}

// UnregisterDeviceDriver removes the driver if it is the one installed.
func (m *Manager) UnregisterDeviceDriver(driver DeviceDriver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.deviceDrivers[driver.Type()]; ok && current == driver {
		delete(m.deviceDrivers, driver.Type())
	}
}

// RegisterNetworkDriver installs the driver for its network type.
func (m *Manager) RegisterNetworkDriver(driver NetworkDriver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.networkDrivers[driver.Type()]; exists {
		return fmt.Errorf("%w: network type %s", ErrDriverExists, driver.Type())
	}
	m.networkDrivers[driver.Type()] = driver
	return nil
}

// UnregisterNetworkDriver removes the driver if it is the one installed.
func (m *Manager) UnregisterNetworkDriver(driver NetworkDriver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.networkDrivers[driver.Type()]; ok && current == driver {
		delete(m.networkDrivers, driver.Type())
	}
}

func (m *Manager) networkDriver(typ NetworkType) (NetworkDriver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	driver, ok := m.networkDrivers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: network type %s", ErrNoDriver, typ)
	}
	return driver, nil
}

// =============================================================================
// Devices
// =============================================================================

// CreateDevice allocates an unregistered device object.
func (m *Manager) CreateDevice(ident string, typ DeviceType) (*Device, error) {
	if ident == "" {
		return nil, ErrInvalidIdent
	}
	m.stats.devicesCreated.Add(1)
	return &Device{
		mgr:      m,
		ident:    ident,
		typ:      typ,
		props:    make(map[string]string),
		networks: make(map[string]*Network),
	}, nil
}

// RegisterDevice makes a device visible and probes its driver.
//
// Returns:
//   - ErrReleased if the device was released
//   - ErrAlreadyRegistered if a device with the same ident is registered
//   - ErrNoDriver if no driver handles the device type
//   - ErrProbeFailed if the driver rejects the device
func (m *Manager) RegisterDevice(dev *Device) error {
	if dev == nil {
		return ErrInvalidIdent
	}
	if dev.isReleased() {
		return ErrReleased
	}

	key := dev.Ident()

	m.mu.Lock()
	if _, exists := m.devices[key]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: device %s", ErrAlreadyRegistered, key)
	}
	driver, ok := m.deviceDrivers[dev.Type()]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: device type %s", ErrNoDriver, dev.Type())
	}
	m.devices[key] = dev
	m.mu.Unlock()

	if err := driver.Probe(dev); err != nil {
		m.mu.Lock()
		delete(m.devices, key)
		m.mu.Unlock()
		return fmt.Errorf("%w: device %s: %w", ErrProbeFailed, key, err)
	}

	dev.markRegistered(key, driver)
	m.stats.devicesRegistered.Add(1)
	m.logDebug("device registered", "ident", key, "driver", driver.Name())
	m.notify(EventDeviceRegistered, dev, nil)

	return nil
}

// UnregisterDevice removes a registered device. Networks still attached are
// detached first. No-op for an unregistered device.
func (m *Manager) UnregisterDevice(dev *Device) {
	if dev == nil || !dev.Registered() {
		return
	}

	for _, nw := range dev.Networks() {
		dev.RemoveNetwork(nw)
	}

	key, driver, ok := dev.markUnregistered()
	if !ok {
		return
	}

	m.mu.Lock()
	if current, exists := m.devices[key]; exists && current == dev {
		delete(m.devices, key)
	}
	m.mu.Unlock()

	if driver != nil {
		driver.Remove(dev)
	}

	m.stats.devicesUnregistered.Add(1)
	m.logDebug("device unregistered", "ident", key)
	m.notify(EventDeviceUnregistered, dev, nil)
}

// ReleaseDevice drops the caller's reference. A device still registered is
// unregistered first. Releasing twice is counted and logged.
func (m *Manager) ReleaseDevice(dev *Device) {
	if dev == nil {
		return
	}
	m.UnregisterDevice(dev)

	if dev.markReleased() {
		m.stats.doubleReleases.Add(1)
		m.logWarn("device released twice", "ident", dev.Ident())
		return
	}
	m.stats.devicesReleased.Add(1)
}

// EnableDevice asks the device's driver to enable it.
func (m *Manager) EnableDevice(ident string) error {
	dev, driver, err := m.registeredDevice(ident)
	if err != nil {
		return err
	}
	return driver.Enable(dev)
}

// DisableDevice asks the device's driver to disable it.
func (m *Manager) DisableDevice(ident string) error {
	dev, driver, err := m.registeredDevice(ident)
	if err != nil {
		return err
	}
	return driver.Disable(dev)
}

func (m *Manager) registeredDevice(ident string) (*Device, DeviceDriver, error) {
	m.mu.RLock()
	dev, ok := m.devices[ident]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: device %s", ErrNotRegistered, ident)
	}
	driver := dev.currentDriver()
	if driver == nil {
		return nil, nil, fmt.Errorf("%w: device %s", ErrNotRegistered, ident)
	}
	return dev, driver, nil
}

// =============================================================================
// Networks
// =============================================================================

// CreateNetwork allocates a detached network object.
func (m *Manager) CreateNetwork(ident string, typ NetworkType) (*Network, error) {
	if ident == "" {
		return nil, ErrInvalidIdent
	}
	m.stats.networksCreated.Add(1)
	return &Network{
		mgr:    m,
		ident:  ident,
		typ:    typ,
		props:  make(map[string]string),
		index:  -1,
		method: IPConfigMethodUnknown,
	}, nil
}

// ReleaseNetwork drops the caller's reference. A network still attached is
// removed from its device first.
func (m *Manager) ReleaseNetwork(nw *Network) {
	if nw == nil {
		return
	}
	if dev := nw.Device(); dev != nil {
		dev.RemoveNetwork(nw)
	}

	if nw.markReleased() {
		m.stats.doubleReleases.Add(1)
		m.logWarn("network released twice", "ident", nw.Ident())
		return
	}
	m.stats.networksReleased.Add(1)
}

// ConnectNetwork asks the network driver to connect the named network.
func (m *Manager) ConnectNetwork(deviceIdent, networkIdent string) error {
	nw, driver, err := m.attachedNetwork(deviceIdent, networkIdent)
	if err != nil {
		return err
	}
	return driver.Connect(nw)
}

// DisconnectNetwork asks the network driver to disconnect the named network.
func (m *Manager) DisconnectNetwork(deviceIdent, networkIdent string) error {
	nw, driver, err := m.attachedNetwork(deviceIdent, networkIdent)
	if err != nil {
		return err
	}
	return driver.Disconnect(nw)
}

func (m *Manager) attachedNetwork(deviceIdent, networkIdent string) (*Network, NetworkDriver, error) {
	m.mu.RLock()
	dev, ok := m.devices[deviceIdent]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: device %s", ErrNotRegistered, deviceIdent)
	}
	for _, nw := range dev.Networks() {
		if nw.Ident() != networkIdent {
			continue
		}
		if driver := nw.currentDriver(); driver != nil {
			return nw, driver, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: network %s", ErrNotRegistered, networkIdent)
}

// =============================================================================
// Interface control
// =============================================================================

// IfIndex resolves an interface name to its index.
func (m *Manager) IfIndex(name string) (int, error) {
	if name == "" {
		return -1, fmt.Errorf("%w: empty name", ErrInterfaceNotFound)
	}
	return m.inet.IfIndex(name)
}

// IfUp brings the interface with the given index up.
func (m *Manager) IfUp(index int) error {
	if index < 0 {
		return fmt.Errorf("%w: index %d", ErrInterfaceNotFound, index)
	}
	m.stats.ifUps.Add(1)
	return m.inet.IfUp(index)
}

// IfDown brings the interface with the given index down.
func (m *Manager) IfDown(index int) error {
	if index < 0 {
		return fmt.Errorf("%w: index %d", ErrInterfaceNotFound, index)
	}
	m.stats.ifDowns.Add(1)
	return m.inet.IfDown(index)
}

// =============================================================================
// Queries
// =============================================================================

// Snapshot returns the status of every registered device ordered by ident.
func (m *Manager) Snapshot() []DeviceStatus {
	m.mu.RLock()
	devices := make([]*Device, 0, len(m.devices))
	for _, dev := range m.devices {
		devices = append(devices, dev)
	}
	m.mu.RUnlock()

	statuses := make([]DeviceStatus, 0, len(devices))
	for _, dev := range devices {
		statuses = append(statuses, dev.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Ident < statuses[j].Ident
	})
	return statuses
}

// Device returns the status of one registered device.
func (m *Manager) Device(ident string) (DeviceStatus, bool) {
	m.mu.RLock()
	dev, ok := m.devices[ident]
	m.mu.RUnlock()
	if !ok {
		return DeviceStatus{}, false
	}
	return dev.Status(), true
}

// Stats returns a copy of the operational counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	active := len(m.devices)
	m.mu.RUnlock()

	return Stats{
		DevicesCreated:      m.stats.devicesCreated.Load(),
		DevicesReleased:     m.stats.devicesReleased.Load(),
		DevicesRegistered:   m.stats.devicesRegistered.Load(),
		DevicesUnregistered: m.stats.devicesUnregistered.Load(),
		NetworksCreated:     m.stats.networksCreated.Load(),
		NetworksReleased:    m.stats.networksReleased.Load(),
		NetworksAttached:    m.stats.networksAttached.Load(),
		NetworksDetached:    m.stats.networksDetached.Load(),
		Connects:            m.stats.connects.Load(),
		Disconnects:         m.stats.disconnects.Load(),
		IfUps:               m.stats.ifUps.Load(),
		IfDowns:             m.stats.ifDowns.Load(),
		DoubleReleases:      m.stats.doubleReleases.Load(),
		ActiveDevices:       active,
	}
}

// notify builds an event and delivers it to every observer.
func (m *Manager) notify(kind EventKind, dev *Device, nw *Network) {
	m.mu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	if len(observers) == 0 {
		return
	}

	ev := Event{
		Kind:   kind,
		Device: dev.Status(),
		Time:   m.now().UTC(),
	}
	if nw != nil {
		status := nw.Status()
		ev.Network = &status
	}

	for _, o := range observers {
		o.OnEvent(ev)
	}
}

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (m *Manager) logWarn(msg string, keysAndValues ...any) {
	if logger := m.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
