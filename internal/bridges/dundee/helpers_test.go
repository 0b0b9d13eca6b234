package dundee

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/dunbridge/internal/connectivity"
	"github.com/nerrad567/dunbridge/internal/infrastructure/bus"
)

var errNoSuchInterface = errors.New("no such interface")

// fakeInet implements connectivity.Inet without touching the host.
type fakeInet struct {
	mu      sync.Mutex
	indexes map[string]int
	ups     []int
	downs   []int
}

func newFakeInet() *fakeInet {
	return &fakeInet{indexes: map[string]int{"eth0": 2, "dun0": 5, "dun1": 6, "dun2": 7}}
}

func (f *fakeInet) IfIndex(name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.indexes[name]
	if !ok {
		return -1, errNoSuchInterface
	}
	return idx, nil
}

func (f *fakeInet) IfUp(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups = append(f.ups, index)
	return nil
}

func (f *fakeInet) IfDown(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs = append(f.downs, index)
	return nil
}

func (f *fakeInet) upCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.ups...)
}

func (f *fakeInet) downCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.downs...)
}

// eventRecorder collects connectivity events.
type eventRecorder struct {
	mu     sync.Mutex
	events []connectivity.Event
}

func (r *eventRecorder) OnEvent(ev connectivity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(kind connectivity.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// testEnv is a dispatcher wired to a real connectivity manager.
type testEnv struct {
	mgr        *connectivity.Manager
	inet       *fakeInet
	events     *eventRecorder
	lifecycle  *Lifecycle
	dispatcher *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	inet := newFakeInet()
	mgr := connectivity.NewManager(inet)
	events := &eventRecorder{}
	mgr.AddObserver(events)

	lc := NewLifecycle(mgr)
	if err := mgr.RegisterDeviceDriver(&deviceDriver{lc: lc}); err != nil {
		t.Fatalf("RegisterDeviceDriver() error = %v", err)
	}
	if err := mgr.RegisterNetworkDriver(&networkDriver{lc: lc}); err != nil {
		t.Fatalf("RegisterNetworkDriver() error = %v", err)
	}

	return &testEnv{
		mgr:        mgr,
		inet:       inet,
		events:     events,
		lifecycle:  lc,
		dispatcher: NewDispatcher(lc, mgr.IfIndex),
	}
}

// assertBalanced checks every allocated object was released exactly once.
func assertBalanced(t *testing.T, mgr *connectivity.Manager) {
	t.Helper()

	s := mgr.Stats()
	if s.DevicesCreated != s.DevicesReleased {
		t.Errorf("devices created/released = %d/%d", s.DevicesCreated, s.DevicesReleased)
	}
	if s.NetworksCreated != s.NetworksReleased {
		t.Errorf("networks created/released = %d/%d", s.NetworksCreated, s.NetworksReleased)
	}
	if s.DoubleReleases != 0 {
		t.Errorf("DoubleReleases = %d, want 0", s.DoubleReleases)
	}
	if s.ActiveDevices != 0 {
		t.Errorf("ActiveDevices = %d, want 0", s.ActiveDevices)
	}
}

// =============================================================================
// Message builders
// =============================================================================

func settingsBag(iface, address, gateway string, nameservers ...string) map[string]dbus.Variant {
	bag := map[string]dbus.Variant{
		SettingInterface: dbus.MakeVariant(iface),
		SettingAddress:   dbus.MakeVariant(address),
		SettingGateway:   dbus.MakeVariant(gateway),
	}
	if nameservers != nil {
		bag[SettingDomainNameServers] = dbus.MakeVariant(nameservers)
	}
	return bag
}

func deviceAddedSignal(path dbus.ObjectPath, props map[string]dbus.Variant) *dbus.Signal {
	if props == nil {
		props = map[string]dbus.Variant{}
	}
	return &dbus.Signal{
		Sender: ":1.7",
		Path:   ManagerPath,
		Name:   signalDeviceAdded,
		Body:   []interface{}{path, props},
	}
}

func deviceRemovedSignal(path dbus.ObjectPath) *dbus.Signal {
	return &dbus.Signal{
		Sender: ":1.7",
		Path:   ManagerPath,
		Name:   signalDeviceRemoved,
		Body:   []interface{}{path},
	}
}

func propertyChangedSignal(path dbus.ObjectPath, key string, value interface{}) *dbus.Signal {
	return &dbus.Signal{
		Sender: ":1.7",
		Path:   path,
		Name:   signalPropertyChanged,
		Body:   []interface{}{key, dbus.MakeVariant(value)},
	}
}

func ownerChangedSignal(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Sender: bus.DaemonName,
		Path:   "/org/freedesktop/DBus",
		Name:   bus.NameOwnerChangedSignal,
		Body:   []interface{}{name, oldOwner, newOwner},
	}
}

// getDevicesBody builds a reply body the way godbus decodes a(oa{sv}).
func getDevicesBody(entries ...deviceEntry) []interface{} {
	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		props := e.Properties
		if props == nil {
			props = map[string]dbus.Variant{}
		}
		rows = append(rows, []interface{}{e.Path, props})
	}
	return []interface{}{rows}
}

// wireReplyBody encodes entries as a GetDevices method return and decodes
// it again, so the body has exactly the shape godbus hands to a Call.
func wireReplyBody(t *testing.T, entries ...deviceEntry) []interface{} {
	t.Helper()

	msg := &dbus.Message{
		Type: dbus.TypeMethodReply,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldReplySerial: dbus.MakeVariant(uint32(1)),
			dbus.FieldSignature:   dbus.MakeVariant(dbus.SignatureOf(entries)),
		},
		Body: []interface{}{entries},
	}

	var buf bytes.Buffer
	if err := msg.EncodeTo(&buf, binary.LittleEndian); err != nil {
		t.Fatalf("EncodeTo() error = %v", err)
	}
	decoded, err := dbus.DecodeMessage(&buf)
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	return decoded.Body
}

// =============================================================================
// MockBus
// =============================================================================

// MockBus implements BusClient for testing.
type MockBus struct {
	mu        sync.Mutex
	signals   chan *dbus.Signal
	owned     bool
	ownerErr  error
	watchErr  error
	watches   []string
	removed   int
	calls     []*dbus.Call
	closeOnce sync.Once
}

func NewMockBus(owned bool) *MockBus {
	return &MockBus{
		signals: make(chan *dbus.Signal, 64),
		owned:   owned,
	}
}

func (m *MockBus) Signals() <-chan *dbus.Signal {
	return m.signals
}

func (m *MockBus) WatchService(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watches = append(m.watches, "owner:"+name)
	return nil
}

func (m *MockBus) WatchSignal(sender, iface, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchErr != nil {
		return m.watchErr
	}
	m.watches = append(m.watches, sender+":"+iface+"."+member)
	return nil
}

func (m *MockBus) RemoveMatches() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed++
	m.watches = nil
	return nil
}

func (m *MockBus) NameHasOwner(string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned, m.ownerErr
}

func (m *MockBus) CallAsync(ctx context.Context, dest string, path dbus.ObjectPath, method string, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	call := &dbus.Call{
		Destination: dest,
		Path:        path,
		Method:      method,
		Args:        args,
		Done:        ch,
	}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	return call
}

// Emit delivers a signal to the bridge.
func (m *MockBus) Emit(sig *dbus.Signal) {
	m.signals <- sig
}

// Lose closes the signal channel as godbus does on connection loss.
func (m *MockBus) Lose() {
	m.closeOnce.Do(func() { close(m.signals) })
}

// Complete finishes call i with the given body or error.
func (m *MockBus) Complete(i int, body []interface{}, err error) {
	m.mu.Lock()
	call := m.calls[i]
	m.mu.Unlock()

	call.Body = body
	call.Err = err
	call.Done <- call
}

func (m *MockBus) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockBus) RemovedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed
}

func (m *MockBus) WatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
