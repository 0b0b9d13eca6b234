package dundee

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
)

// deviceEntry is one element of the GetDevices reply.
type deviceEntry struct {
	Path       dbus.ObjectPath
	Properties map[string]dbus.Variant
}

// Dispatcher validates inbound messages and routes them to the current
// registry and the lifecycle manager.
//
// Every handler runs on the event loop. Only the counters are read from
// other goroutines.
type Dispatcher struct {
	lc      *Lifecycle
	resolve InterfaceResolver
	reg     *Registry

	protocolErrors atomic.Uint64
	devices        atomic.Int64
	connected      atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDispatcher creates a Dispatcher. resolve maps Settings interface
// names to indexes.
func NewDispatcher(lc *Lifecycle, resolve InterfaceResolver) *Dispatcher {
	return &Dispatcher{lc: lc, resolve: resolve}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// ServiceAppeared starts a new registry lifetime and returns the registry
// the device query must populate. A registry still open is closed first.
func (d *Dispatcher) ServiceAppeared() *Registry {
	if d.reg != nil {
		d.reg.Close()
	}
	d.reg = NewRegistry(d.lc.Destroy)
	d.updateCounts()
	return d.reg
}

// ServiceVanished tears down every tracked device and drops the registry.
func (d *Dispatcher) ServiceVanished() {
	if d.reg == nil {
		return
	}
	n := d.reg.Len()
	d.reg.Close()
	d.reg = nil
	d.updateCounts()
	d.logInfo("dundee service gone, devices torn down", "devices", n)
}

// HandleSignal routes a DeviceAdded, DeviceRemoved or PropertyChanged
// signal. Other signals are ignored.
func (d *Dispatcher) HandleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case signalDeviceAdded:
		d.handleDeviceAdded(sig)
	case signalDeviceRemoved:
		d.handleDeviceRemoved(sig)
	case signalPropertyChanged:
		d.handlePropertyChanged(sig)
	default:
		return
	}
	d.updateCounts()
}

// HandleGetDevicesReply populates reg from a completed GetDevices call.
// A reply for a registry that is no longer current is dropped.
func (d *Dispatcher) HandleGetDevicesReply(reg *Registry, call *dbus.Call) error {
	if reg == nil || reg != d.reg || reg.Closed() {
		d.logDebug("dropping GetDevices reply for stale registry")
		return nil
	}

	if call.Err != nil {
		d.logError("GetDevices failed", "error", call.Err)
		return fmt.Errorf("%w: %w", ErrQueryFailed, call.Err)
	}

	entries, err := decodeDeviceList(call.Body)
	if err != nil {
		d.protocolErrors.Add(1)
		d.logWarn("dundee signature does not match",
			"member", MemberGetDevices, "expected", SignatureGetDevices, "error", err)
		return err
	}

	for _, e := range entries {
		d.addDevice(reg, e.Path, e.Properties)
	}
	d.updateCounts()

	d.logInfo("DUN devices enumerated", "reported", len(entries), "tracked", reg.Len())
	return nil
}

// ProtocolErrors returns the number of dropped malformed messages.
func (d *Dispatcher) ProtocolErrors() uint64 {
	return d.protocolErrors.Load()
}

// Devices returns the number of tracked devices.
func (d *Dispatcher) Devices() int {
	return int(d.devices.Load())
}

// Connected returns the number of tracked devices with a connected network.
func (d *Dispatcher) Connected() int {
	return int(d.connected.Load())
}

func (d *Dispatcher) handleDeviceAdded(sig *dbus.Signal) {
	if err := d.checkSignature(MemberDeviceAdded, sig.Path, sig.Body, SignatureDeviceAdded); err != nil {
		return
	}
	if d.reg == nil {
		return
	}
	path := sig.Body[0].(dbus.ObjectPath)
	props := sig.Body[1].(map[string]dbus.Variant)
	d.addDevice(d.reg, path, props)
}

func (d *Dispatcher) handleDeviceRemoved(sig *dbus.Signal) {
	if err := d.checkSignature(MemberDeviceRemoved, sig.Path, sig.Body, SignatureDeviceRemoved); err != nil {
		return
	}
	if d.reg == nil {
		return
	}
	path := sig.Body[0].(dbus.ObjectPath)
	if d.reg.Remove(path) {
		d.logInfo("DUN device removed", "path", path)
	}
}

func (d *Dispatcher) handlePropertyChanged(sig *dbus.Signal) {
	if err := d.checkSignature(MemberPropertyChanged, sig.Path, sig.Body, SignaturePropertyChanged); err != nil {
		return
	}
	if d.reg == nil {
		return
	}
	rec, ok := d.reg.Lookup(sig.Path)
	if !ok {
		return
	}
	key := sig.Body[0].(string)
	value := sig.Body[1].(dbus.Variant)
	d.applyProperty(rec, key, value, false)
}

// addDevice is shared by DeviceAdded and the GetDevices reply. A path
// already tracked is left untouched.
func (d *Dispatcher) addDevice(reg *Registry, path dbus.ObjectPath, props map[string]dbus.Variant) {
	if _, exists := reg.Lookup(path); exists {
		d.logDebug("DUN device already tracked", "path", path)
		return
	}

	rec := newRecord(path)
	for key, value := range props {
		d.applyProperty(rec, key, value, true)
	}

	if !reg.Insert(rec) {
		return
	}
	d.lc.Create(rec)

	if rec.active {
		d.lc.Connect(rec)
	}
	d.logInfo("DUN device added", "path", path, "name", rec.name, "active", rec.active)
}

// applyProperty updates rec from one property. When initial is set the
// record is still being built and no transitions are driven.
func (d *Dispatcher) applyProperty(rec *Record, key string, value dbus.Variant, initial bool) {
	switch key {
	case PropertyActive:
		active, ok := value.Value().(bool)
		if !ok {
			d.propertyTypeError(rec, key, value)
			return
		}
		rec.active = active
		if initial {
			return
		}
		if active {
			d.lc.Connect(rec)
		} else {
			d.lc.Disconnect(rec)
		}

	case PropertySettings:
		settings, err := ParseSettings(value.Value(), d.resolve)
		if err != nil {
			if errors.Is(err, ErrInvalidSettings) {
				d.protocolErrors.Add(1)
			}
			d.logWarn("settings update discarded", "path", rec.path, "error", err)
			return
		}
		rec.settings = settings

	case PropertyName:
		name, ok := value.Value().(string)
		if !ok {
			d.propertyTypeError(rec, key, value)
			return
		}
		rec.name = name
		if !initial {
			d.lc.Rename(rec)
		}
	}
}

func (d *Dispatcher) propertyTypeError(rec *Record, key string, value dbus.Variant) {
	d.protocolErrors.Add(1)
	d.logWarn("property has unexpected type",
		"path", rec.path, "property", key, "signature", value.Signature().String())
}

// decodeDeviceList checks a GetDevices reply body against a(oa{sv}).
// Structs arrive from godbus as []interface{}, so the shape is checked
// element by element.
func decodeDeviceList(body []interface{}) ([]deviceEntry, error) {
	if len(body) != 1 {
		return nil, fmt.Errorf("%w: %s reply has %d arguments, want 1",
			ErrSignatureMismatch, MemberGetDevices, len(body))
	}
	rows, ok := body[0].([][]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s reply has %q, want %q",
			ErrSignatureMismatch, MemberGetDevices, dbus.SignatureOf(body...).String(), SignatureGetDevices)
	}

	entries := make([]deviceEntry, 0, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("%w: %s entry %d has %d fields, want 2",
				ErrSignatureMismatch, MemberGetDevices, i, len(row))
		}
		path, okPath := row[0].(dbus.ObjectPath)
		props, okProps := row[1].(map[string]dbus.Variant)
		if !okPath || !okProps {
			return nil, fmt.Errorf("%w: %s entry %d has (%s), want (oa{sv})",
				ErrSignatureMismatch, MemberGetDevices, i, dbus.SignatureOf(row...).String())
		}
		entries = append(entries, deviceEntry{Path: path, Properties: props})
	}
	return entries, nil
}

// checkSignature counts and logs a protocol error when body does not
// match want.
func (d *Dispatcher) checkSignature(member string, path dbus.ObjectPath, body []interface{}, want string) error {
	got := dbus.SignatureOf(body...).String()
	if got == want {
		return nil
	}
	d.protocolErrors.Add(1)
	d.logWarn("dundee signature does not match",
		"member", member, "path", path, "signature", got, "expected", want)
	return fmt.Errorf("%w: %s has %q, want %q", ErrSignatureMismatch, member, got, want)
}

func (d *Dispatcher) updateCounts() {
	if d.reg == nil {
		d.devices.Store(0)
		d.connected.Store(0)
		return
	}
	d.devices.Store(int64(d.reg.Len()))
	d.connected.Store(int64(d.reg.Connected()))
}

func (d *Dispatcher) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

func (d *Dispatcher) logInfo(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logError(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	if logger := d.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
