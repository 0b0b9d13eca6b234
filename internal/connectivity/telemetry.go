package connectivity

import "time"

// Measurements written by TelemetryRecorder.
const (
	MeasurementConnection = "dun_connection"
	MeasurementDevice     = "dun_device"
)

// PointWriter writes one time-series point. Satisfied by *influxdb.Client.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// TelemetryRecorder is an Observer that writes connection and registration
// changes as time-series points.
//
// dun_connection carries connected (bool) and interface_index (int) fields
// tagged by device and network. dun_device carries registered and powered.
type TelemetryRecorder struct {
	w PointWriter
}

// NewTelemetryRecorder creates a recorder writing to w.
func NewTelemetryRecorder(w PointWriter) *TelemetryRecorder {
	return &TelemetryRecorder{w: w}
}

// OnEvent writes the point for ev, if any.
func (t *TelemetryRecorder) OnEvent(ev Event) {
	switch ev.Kind {
	case EventNetworkConnected, EventNetworkDisconnected:
		if ev.Network == nil {
			return
		}
		tags := map[string]string{
			"device":  ev.Device.Ident,
			"network": ev.Network.Ident,
		}
		fields := map[string]interface{}{
			"connected":       ev.Network.Connected,
			"interface_index": ev.Network.Index,
		}
		if ev.Network.Address.Local != "" {
			fields["address"] = ev.Network.Address.Local
		}
		t.w.WritePoint(MeasurementConnection, tags, fields, ev.Time)

	case EventDeviceRegistered, EventDeviceUnregistered, EventDevicePowered:
		tags := map[string]string{"device": ev.Device.Ident}
		fields := map[string]interface{}{
			"registered": ev.Kind != EventDeviceUnregistered,
			"powered":    ev.Device.Powered,
		}
		t.w.WritePoint(MeasurementDevice, tags, fields, ev.Time)
	}
}
