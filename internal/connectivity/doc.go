// Package connectivity is the local network-connectivity subsystem that
// protocol bridges mirror their devices into.
//
// It keeps a passive registry of device objects (a physical or logical
// interface) and network objects (a connectable profile on a device), and
// exposes the calls a bridge needs to drive them: create, register,
// unregister, attach networks, push IPv4 configuration and report
// connected/disconnected. Interface control (name to index resolution,
// link up/down) goes through the Inet interface.
//
// # Drivers
//
// Every device type and network type must have a registered driver before
// objects of that type can be registered. Drivers are probed on
// registration and removed on unregistration. Enable/Disable and
// Connect/Disconnect requests from API clients are dispatched to the
// driver; bridges whose lifecycle is driven by an external daemon register
// inert drivers.
//
// # Observers
//
// State changes are delivered synchronously to registered Observers as
// Events. Observers that perform I/O (SQLite history, MQTT publishing)
// should be wrapped in an AsyncObserver so the caller's event loop never
// blocks.
//
// # Thread Safety
//
// Manager, Device and Network are safe for concurrent use. Snapshots
// returned by Snapshot, Device and Status are copies.
package connectivity
