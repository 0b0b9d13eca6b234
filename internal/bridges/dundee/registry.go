package dundee

import (
	"sort"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/dunbridge/internal/connectivity"
)

// recordState tracks how far the paired objects of a record were built.
type recordState int

const (
	// stateCreated: no device object; the record is inert.
	stateCreated recordState = iota

	// stateDeviceOK: device registered, no network attached.
	stateDeviceOK

	// stateNetworkOK: device registered and network attached.
	stateNetworkOK
)

func (s recordState) String() string {
	switch s {
	case stateDeviceOK:
		return "device-ok"
	case stateNetworkOK:
		return "network-ok"
	default:
		return "created"
	}
}

// Record is one tracked modem device, keyed by its object path.
//
// A record exclusively owns its device and network objects. The network
// is only set while the device is.
type Record struct {
	path     dbus.ObjectPath
	name     string
	active   bool
	settings *Settings

	state   recordState
	device  *connectivity.Device
	network *connectivity.Network
}

func newRecord(path dbus.ObjectPath) *Record {
	return &Record{path: path}
}

// Path returns the device object path.
func (r *Record) Path() dbus.ObjectPath { return r.path }

// Name returns the last reported display name.
func (r *Record) Name() string { return r.name }

// Active reports the last Active value received.
func (r *Record) Active() bool { return r.active }

// Settings returns the installed settings, or nil.
func (r *Record) Settings() *Settings { return r.settings }

// Connected reports whether the record's network is connected.
func (r *Record) Connected() bool {
	return r.network != nil && r.network.Connected()
}

// Registry maps object paths to records for one lifetime of the daemon
// on the bus. It is owned by the event loop and is not safe for
// concurrent use.
type Registry struct {
	records map[dbus.ObjectPath]*Record
	release func(*Record)
	closed  bool
}

// NewRegistry creates an empty registry. release is called exactly once
// for every record leaving the registry.
func NewRegistry(release func(*Record)) *Registry {
	if release == nil {
		release = func(*Record) {}
	}
	return &Registry{
		records: make(map[dbus.ObjectPath]*Record),
		release: release,
	}
}

// Insert adds rec. It reports false, leaving the registry unchanged, when
// the path is already present or the registry is closed.
func (r *Registry) Insert(rec *Record) bool {
	if r.closed {
		return false
	}
	if _, exists := r.records[rec.path]; exists {
		return false
	}
	r.records[rec.path] = rec
	return true
}

// Lookup returns the record for path.
func (r *Registry) Lookup(path dbus.ObjectPath) (*Record, bool) {
	rec, ok := r.records[path]
	return rec, ok
}

// Remove releases and deletes the record for path. No-op if absent.
func (r *Registry) Remove(path dbus.ObjectPath) bool {
	rec, ok := r.records[path]
	if !ok {
		return false
	}
	delete(r.records, path)
	r.release(rec)
	return true
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.records)
}

// Paths returns the tracked paths in sorted order.
func (r *Registry) Paths() []dbus.ObjectPath {
	paths := make([]dbus.ObjectPath, 0, len(r.records))
	for p := range r.records {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// Connected returns the number of records with a connected network.
func (r *Registry) Connected() int {
	n := 0
	for _, rec := range r.records {
		if rec.Connected() {
			n++
		}
	}
	return n
}

// Close releases every record and rejects further inserts.
func (r *Registry) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for _, path := range r.Paths() {
		r.Remove(path)
	}
}

// Closed reports whether Close was called.
func (r *Registry) Closed() bool {
	return r.closed
}
