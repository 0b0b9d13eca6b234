// Package dundee tracks DUN modem devices published by the dundee daemon
// and mirrors each one into the connectivity subsystem.
//
// # Architecture
//
// The bridge sits between two object models:
//
//	┌─────────────────┐  D-Bus   ┌─────────────────┐   calls   ┌─────────────────┐
//	│  dundee daemon  │─────────►│  DUN Bridge     │──────────►│  connectivity   │
//	│ org.ofono.dundee│◄─────────│  (this pkg)     │           │  Manager        │
//	└─────────────────┘GetDevices└─────────────────┘           └─────────────────┘
//
// # Key Responsibilities
//
//   - Watch the daemon's bus name and rebuild state each time it appears
//   - Enumerate devices with Manager.GetDevices and follow DeviceAdded,
//     DeviceRemoved and Device.PropertyChanged signals
//   - Check the signature of every inbound message before decoding it
//   - Decode the Settings property bag into interface index, address,
//     gateway and nameservers
//   - Create, connect, disconnect and destroy the paired device and
//     network objects for each modem
//
// # Device States
//
// A tracked device moves through these states:
//
//	UNKNOWN ──added──► REGISTERED ──Settings──► CONFIGURED ──Active=true──► CONNECTED
//	                                                 ▲                          │
//	                                                 └───────Active=false───────┘
//
// DeviceRemoved returns any state to UNKNOWN. When the daemon leaves the
// bus every device is torn down and the registry is discarded.
//
// The daemon sends Settings before Active=true. Activation without
// settings is a no-op at the network layer.
//
// # Thread Safety
//
// All registry and record state is owned by the Bridge event loop
// goroutine. Bridge, HealthReporter and the counters they expose are safe
// for concurrent use.
package dundee
