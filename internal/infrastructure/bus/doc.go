// Package bus wraps github.com/godbus/dbus/v5 for the bridge.
//
// It owns one connection to the system or session bus and provides:
//   - Match registration for service ownership changes and for signals
//     of a remote service
//   - A single buffered channel carrying every matched signal
//   - Asynchronous method calls bounded by a context deadline
//
// Signals are delivered in arrival order to one consumer. When the
// connection is lost godbus closes the signal channel; consumers treat
// a closed channel as bus loss.
//
// Usage:
//
//	client, err := bus.Connect(cfg.DBus)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.WatchService("org.ofono.dundee"); err != nil {
//	    return err
//	}
//	for sig := range client.Signals() {
//	    ...
//	}
package bus
