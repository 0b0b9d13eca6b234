package connectivity

import (
	"testing"
	"time"
)

type writtenPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]interface{}
	at          time.Time
}

type mockPointWriter struct {
	points []writtenPoint
}

func (m *mockPointWriter) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	m.points = append(m.points, writtenPoint{measurement, tags, fields, timestamp})
}

func TestTelemetryRecorder(t *testing.T) {
	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		ev          Event
		measurement string
		fields      map[string]interface{}
	}{
		{
			name:        "connected",
			ev:          connectedEvent("dev0", at),
			measurement: MeasurementConnection,
			fields:      map[string]interface{}{"connected": true, "interface_index": 7, "address": "10.0.0.2"},
		},
		{
			name:        "registered",
			ev:          Event{Kind: EventDeviceRegistered, Device: DeviceStatus{Ident: "dev0"}, Time: at},
			measurement: MeasurementDevice,
			fields:      map[string]interface{}{"registered": true, "powered": false},
		},
		{
			name:        "unregistered",
			ev:          Event{Kind: EventDeviceUnregistered, Device: DeviceStatus{Ident: "dev0"}, Time: at},
			measurement: MeasurementDevice,
			fields:      map[string]interface{}{"registered": false, "powered": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &mockPointWriter{}
			NewTelemetryRecorder(w).OnEvent(tt.ev)

			if len(w.points) != 1 {
				t.Fatalf("wrote %d points, want 1", len(w.points))
			}
			p := w.points[0]
			if p.measurement != tt.measurement {
				t.Errorf("measurement = %s, want %s", p.measurement, tt.measurement)
			}
			if p.tags["device"] != "dev0" {
				t.Errorf("device tag = %q", p.tags["device"])
			}
			if !p.at.Equal(at) {
				t.Errorf("timestamp = %v, want %v", p.at, at)
			}
			for k, want := range tt.fields {
				if p.fields[k] != want {
					t.Errorf("field %s = %v, want %v", k, p.fields[k], want)
				}
			}
		})
	}
}

func TestTelemetryRecorder_IgnoresOtherEvents(t *testing.T) {
	w := &mockPointWriter{}
	r := NewTelemetryRecorder(w)

	r.OnEvent(Event{Kind: EventNetworkUpdated, Device: DeviceStatus{Ident: "dev0"}})
	r.OnEvent(Event{Kind: EventNetworkConnected, Device: DeviceStatus{Ident: "dev0"}})

	if len(w.points) != 0 {
		t.Errorf("wrote %d points, want 0", len(w.points))
	}
}
