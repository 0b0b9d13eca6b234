package connectivity

import (
	"slices"
	"sync"
)

// Network is a connectable profile attached to a Device.
//
// Networks are allocated with Manager.CreateNetwork, attached with
// Device.AddNetwork and must be released with Manager.ReleaseNetwork.
type Network struct {
	mgr *Manager

	mu          sync.RWMutex
	ident       string
	typ         NetworkType
	name        string
	group       string
	props       map[string]string
	data        any
	available   bool
	index       int
	method      IPConfigMethod
	address     IPAddress
	nameservers []string
	connected   bool
	released    bool
	device      *Device
	driver      NetworkDriver
}

// Ident returns the network identifier.
func (n *Network) Ident() string {
	return n.ident
}

// Type returns the network type.
func (n *Network) Type() NetworkType {
	return n.typ
}

// SetName sets the display name. Call Update to publish the change.
func (n *Network) SetName(name string) {
	n.mu.Lock()
	n.name = name
	n.mu.Unlock()
}

// Name returns the display name.
func (n *Network) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// SetGroup sets the grouping key used to cluster networks of one device.
func (n *Network) SetGroup(group string) {
	n.mu.Lock()
	n.group = group
	n.mu.Unlock()
}

// Group returns the grouping key.
func (n *Network) Group() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.group
}

// SetString sets a string property.
func (n *Network) SetString(key, value string) {
	n.mu.Lock()
	n.props[key] = value
	n.mu.Unlock()
}

// GetString returns a string property, or "" if unset.
func (n *Network) GetString(key string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.props[key]
}

// SetData attaches an opaque owner value to the network.
func (n *Network) SetData(data any) {
	n.mu.Lock()
	n.data = data
	n.mu.Unlock()
}

// Data returns the value set with SetData.
func (n *Network) Data() any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.data
}

// SetAvailable marks the network as in range / usable.
func (n *Network) SetAvailable(available bool) {
	n.mu.Lock()
	n.available = available
	n.mu.Unlock()
}

// Available reports availability.
func (n *Network) Available() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.available
}

// SetIndex sets the local interface index the network runs over.
func (n *Network) SetIndex(index int) {
	n.mu.Lock()
	n.index = index
	n.mu.Unlock()
}

// Index returns the interface index, -1 if unset.
func (n *Network) Index() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.index
}

// SetIPv4Method sets how IPv4 configuration is obtained.
func (n *Network) SetIPv4Method(method IPConfigMethod) {
	n.mu.Lock()
	n.method = method
	n.mu.Unlock()
}

// IPv4Method returns the IPv4 configuration method.
func (n *Network) IPv4Method() IPConfigMethod {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.method
}

// SetIPAddress sets the IPv4 address assignment.
func (n *Network) SetIPAddress(addr IPAddress) {
	n.mu.Lock()
	n.address = addr
	n.mu.Unlock()
}

// IPAddress returns the IPv4 address assignment.
func (n *Network) IPAddress() IPAddress {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.address
}

// SetNameservers replaces the DNS server list. Order is preserved.
func (n *Network) SetNameservers(servers []string) {
	n.mu.Lock()
	n.nameservers = slices.Clone(servers)
	n.mu.Unlock()
}

// Nameservers returns a copy of the DNS server list.
func (n *Network) Nameservers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.nameservers)
}

// SetConnected reports the connection state. Observers are notified when
// the state changes on an attached network.
func (n *Network) SetConnected(connected bool) {
	n.mu.Lock()
	changed := n.connected != connected
	n.connected = connected
	dev := n.device
	n.mu.Unlock()

	if !changed || dev == nil {
		return
	}

	if connected {
		n.mgr.stats.connects.Add(1)
		n.mgr.notify(EventNetworkConnected, dev, n)
	} else {
		n.mgr.stats.disconnects.Add(1)
		n.mgr.notify(EventNetworkDisconnected, dev, n)
	}
}

// Connected reports the connection state.
func (n *Network) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

// Update publishes property changes (name, group) to observers.
func (n *Network) Update() {
	dev := n.Device()
	if dev == nil {
		return
	}
	n.mgr.notify(EventNetworkUpdated, dev, n)
}

// Device returns the device the network is attached to, or nil.
func (n *Network) Device() *Device {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.device
}

// Status returns a snapshot of the network.
func (n *Network) Status() NetworkStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return NetworkStatus{
		Ident:       n.ident,
		Type:        n.typ,
		Name:        n.name,
		Group:       n.group,
		Path:        n.props[PropertyPath],
		Available:   n.available,
		Connected:   n.connected,
		Index:       n.index,
		Method:      n.method,
		Address:     n.address,
		Nameservers: slices.Clone(n.nameservers),
	}
}

func (n *Network) isReleased() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.released
}

func (n *Network) attach(dev *Device, driver NetworkDriver) {
	n.mu.Lock()
	n.device = dev
	n.driver = driver
	n.mu.Unlock()
}

// detach clears the device link and returns the driver that probed the network.
func (n *Network) detach() NetworkDriver {
	n.mu.Lock()
	defer n.mu.Unlock()
	driver := n.driver
	n.device = nil
	n.driver = nil
	return driver
}

func (n *Network) currentDriver() NetworkDriver {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.driver
}

func (n *Network) markReleased() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	already := n.released
	n.released = true
	return already
}
