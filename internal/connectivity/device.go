package connectivity

import (
	"fmt"
	"sort"
	"sync"
)

// Device is a device object: one interface the subsystem can bring networks up on.
//
// Devices are allocated with Manager.CreateDevice, made visible with
// Manager.RegisterDevice, and must be released with Manager.ReleaseDevice.
type Device struct {
	mgr *Manager

	mu         sync.RWMutex
	ident      string
	typ        DeviceType
	props      map[string]string
	data       any
	powered    bool
	registered bool
	released   bool
	regKey     string
	driver     DeviceDriver
	networks   map[string]*Network
}

// Ident returns the device identifier.
func (d *Device) Ident() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ident
}

// SetIdent changes the identifier. Only effective before registration.
func (d *Device) SetIdent(ident string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registered || ident == "" {
		return
	}
	d.ident = ident
}

// Type returns the device type.
func (d *Device) Type() DeviceType {
	return d.typ
}

// SetString sets a string property.
func (d *Device) SetString(key, value string) {
	d.mu.Lock()
	d.props[key] = value
	d.mu.Unlock()
}

// GetString returns a string property, or "" if unset.
func (d *Device) GetString(key string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.props[key]
}

// SetData attaches an opaque owner value to the device.
func (d *Device) SetData(data any) {
	d.mu.Lock()
	d.data = data
	d.mu.Unlock()
}

// Data returns the value set with SetData.
func (d *Device) Data() any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.data
}

// Powered reports the last powered state set on the device.
func (d *Device) Powered() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.powered
}

// Registered reports whether the device is registered with its manager.
func (d *Device) Registered() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.registered
}

// SetPowered records the powered state and notifies observers on change.
func (d *Device) SetPowered(powered bool) {
	d.mu.Lock()
	changed := d.powered != powered
	d.powered = powered
	notify := changed && d.registered
	d.mu.Unlock()

	if notify {
		d.mgr.notify(EventDevicePowered, d, nil)
	}
}

// AddNetwork attaches a network to the device.
//
// The network driver for the network's type is probed first; on failure
// the network stays detached and the caller still owns it.
func (d *Device) AddNetwork(nw *Network) error {
	if nw == nil {
		return fmt.Errorf("%w: nil network", ErrInvalidIdent)
	}
	if d.isReleased() || nw.isReleased() {
		return ErrReleased
	}
	if nw.Device() != nil {
		return fmt.Errorf("%w: network %s already attached", ErrAlreadyRegistered, nw.Ident())
	}

	driver, err := d.mgr.networkDriver(nw.Type())
	if err != nil {
		return err
	}
	if err := driver.Probe(nw); err != nil {
		return fmt.Errorf("%w: network %s: %w", ErrProbeFailed, nw.Ident(), err)
	}

	d.mu.Lock()
	if _, exists := d.networks[nw.Ident()]; exists {
		d.mu.Unlock()
		driver.Remove(nw)
		return fmt.Errorf("%w: network %s", ErrAlreadyRegistered, nw.Ident())
	}
	d.networks[nw.Ident()] = nw
	d.mu.Unlock()

	nw.attach(d, driver)
	d.mgr.stats.networksAttached.Add(1)
	d.mgr.notify(EventNetworkAdded, d, nw)

	return nil
}

// RemoveNetwork detaches a network from the device. No-op if not attached.
func (d *Device) RemoveNetwork(nw *Network) {
	if nw == nil {
		return
	}

	d.mu.Lock()
	current, exists := d.networks[nw.Ident()]
	if !exists || current != nw {
		d.mu.Unlock()
		return
	}
	delete(d.networks, nw.Ident())
	d.mu.Unlock()

	if driver := nw.detach(); driver != nil {
		driver.Remove(nw)
	}
	d.mgr.stats.networksDetached.Add(1)
	d.mgr.notify(EventNetworkRemoved, d, nw)
}

// Networks returns the attached networks ordered by identifier.
func (d *Device) Networks() []*Network {
	d.mu.RLock()
	networks := make([]*Network, 0, len(d.networks))
	for _, nw := range d.networks {
		networks = append(networks, nw)
	}
	d.mu.RUnlock()

	sort.Slice(networks, func(i, j int) bool {
		return networks[i].Ident() < networks[j].Ident()
	})
	return networks
}

// Status returns a snapshot of the device and its networks.
func (d *Device) Status() DeviceStatus {
	networks := d.Networks()

	d.mu.RLock()
	status := DeviceStatus{
		Ident:      d.ident,
		Type:       d.typ,
		Path:       d.props[PropertyPath],
		Powered:    d.powered,
		Registered: d.registered,
		Networks:   make([]NetworkStatus, 0, len(networks)),
	}
	d.mu.RUnlock()

	for _, nw := range networks {
		status.Networks = append(status.Networks, nw.Status())
	}
	return status
}

func (d *Device) isReleased() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.released
}

// markRegistered records the registration key and driver.
func (d *Device) markRegistered(key string, driver DeviceDriver) {
	d.mu.Lock()
	d.registered = true
	d.regKey = key
	d.driver = driver
	d.mu.Unlock()
}

// markUnregistered clears registration and returns the driver that held it.
func (d *Device) markUnregistered() (string, DeviceDriver, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.registered {
		return "", nil, false
	}
	key, driver := d.regKey, d.driver
	d.registered = false
	d.regKey = ""
	d.driver = nil
	return key, driver, true
}

// markReleased flips the released flag and reports whether it was already set.
func (d *Device) markReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	already := d.released
	d.released = true
	return already
}

func (d *Device) currentDriver() DeviceDriver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.driver
}
