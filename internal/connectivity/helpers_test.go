package connectivity

import (
	"errors"
	"sync"
)

// fakeInet records interface control calls.
type fakeInet struct {
	mu      sync.Mutex
	indexes map[string]int
	ups     []int
	downs   []int
	upErr   error
}

func newFakeInet() *fakeInet {
	return &fakeInet{indexes: map[string]int{"dun0": 7, "dun1": 8}}
}

func (f *fakeInet) IfIndex(name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.indexes[name]
	if !ok {
		return -1, ErrInterfaceNotFound
	}
	return idx, nil
}

func (f *fakeInet) IfUp(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups = append(f.ups, index)
	return f.upErr
}

func (f *fakeInet) IfDown(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs = append(f.downs, index)
	return nil
}

// testDeviceDriver is a DeviceDriver with configurable probe result.
type testDeviceDriver struct {
	mu       sync.Mutex
	probeErr error
	probed   []string
	removed  []string
	enabled  int
}

func (d *testDeviceDriver) Name() string     { return "test" }
func (d *testDeviceDriver) Type() DeviceType { return DeviceTypeBluetooth }

func (d *testDeviceDriver) Probe(dev *Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probed = append(d.probed, dev.Ident())
	return d.probeErr
}

func (d *testDeviceDriver) Remove(dev *Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, dev.Ident())
}

func (d *testDeviceDriver) Enable(*Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled++
	return nil
}

func (d *testDeviceDriver) Disable(*Device) error { return nil }

// testNetworkDriver is a NetworkDriver with configurable probe result.
type testNetworkDriver struct {
	mu         sync.Mutex
	probeErr   error
	removed    int
	connects   int
	disconnect int
}

func (d *testNetworkDriver) Name() string      { return "test-network" }
func (d *testNetworkDriver) Type() NetworkType { return NetworkTypeBluetoothDUN }

func (d *testNetworkDriver) Probe(*Network) error { return d.probeErr }

func (d *testNetworkDriver) Remove(*Network) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed++
}

func (d *testNetworkDriver) Connect(*Network) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	return nil
}

func (d *testNetworkDriver) Disconnect(*Network) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnect++
	return nil
}

// eventRecorder collects events delivered to it.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

var errProbe = errors.New("probe rejected")

// newTestManager returns a manager with both test drivers installed.
func newTestManager(t interface {
	Helper()
	Fatalf(string, ...any)
}) (*Manager, *fakeInet, *testDeviceDriver, *testNetworkDriver) {
	t.Helper()

	inet := newFakeInet()
	m := NewManager(inet)
	dd := &testDeviceDriver{}
	nd := &testNetworkDriver{}
	if err := m.RegisterDeviceDriver(dd); err != nil {
		t.Fatalf("RegisterDeviceDriver() error = %v", err)
	}
	if err := m.RegisterNetworkDriver(nd); err != nil {
		t.Fatalf("RegisterNetworkDriver() error = %v", err)
	}
	return m, inet, dd, nd
}
