package dundee

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockPublisher implements HealthPublisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	messages  []publishedMessage
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

// staticStats implements StatsSource.
type staticStats BridgeStats

func (s staticStats) Stats() BridgeStats { return BridgeStats(s) }

func decodeHealth(t *testing.T, msg publishedMessage) HealthMessage {
	t.Helper()
	var hm HealthMessage
	if err := json.Unmarshal(msg.payload, &hm); err != nil {
		t.Fatalf("unmarshal health message: %v", err)
	}
	return hm
}

func TestNewHealthReporter_Defaults(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{BridgeID: "dun-01", Version: "1.0.0"})

	if hr.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", hr.interval, defaultHealthInterval)
	}
	if hr.bridgeID != "dun-01" {
		t.Errorf("bridgeID = %q, want dun-01", hr.bridgeID)
	}

	// No publisher: publishing is a no-op.
	if err := hr.PublishNow(); err != nil {
		t.Errorf("PublishNow() error = %v", err)
	}
}

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		stats      BridgeStats
		wantStatus HealthStatus
		wantReason string
	}{
		{
			name:       "healthy",
			connected:  true,
			stats:      BridgeStats{ServicePresent: true, Devices: 2},
			wantStatus: HealthHealthy,
		},
		{
			name:       "mqtt down",
			connected:  false,
			stats:      BridgeStats{ServicePresent: true},
			wantStatus: HealthDegraded,
			wantReason: "MQTT disconnected",
		},
		{
			name:       "bus lost",
			connected:  true,
			stats:      BridgeStats{BusLost: true},
			wantStatus: HealthDegraded,
			wantReason: "bus connection lost",
		},
		{
			name:       "service absent",
			connected:  true,
			stats:      BridgeStats{},
			wantStatus: HealthDegraded,
			wantReason: "dundee service not present",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hr := NewHealthReporter(HealthReporterConfig{
				Publisher: newMockPublisher(tt.connected),
				Source:    staticStats(tt.stats),
			})

			status, reason := hr.determineStatus()
			if status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status, tt.wantStatus)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	pub := newMockPublisher(true)
	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:   "dun-01",
		InstanceID: "abc",
		Version:    "1.2.3",
		Publisher:  pub,
		Source: staticStats(BridgeStats{
			ServicePresent:  true,
			Devices:         3,
			Connected:       1,
			SignalsReceived: 42,
			ProtocolErrors:  2,
			QueriesIssued:   1,
		}),
	})

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := pub.getMessages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.topic != "graylogic/health/dun" {
		t.Errorf("topic = %q, want graylogic/health/dun", msg.topic)
	}
	if msg.qos != 1 || !msg.retained {
		t.Errorf("qos/retained = %d/%v, want 1/true", msg.qos, msg.retained)
	}

	hm := decodeHealth(t, msg)
	if hm.Status != HealthHealthy || hm.Bridge != "dun-01" || hm.Instance != "abc" || hm.Version != "1.2.3" {
		t.Errorf("message = %+v", hm)
	}
	if hm.DevicesManaged != 3 || hm.DevicesConnected != 1 || !hm.ServicePresent {
		t.Errorf("device counts = %d/%d present=%v", hm.DevicesManaged, hm.DevicesConnected, hm.ServicePresent)
	}
	if hm.Statistics == nil || hm.Statistics.SignalsReceived != 42 || hm.Statistics.ProtocolErrors != 2 {
		t.Errorf("statistics = %+v", hm.Statistics)
	}
}

func TestHealthReporter_PublishError(t *testing.T) {
	pub := newMockPublisher(true)
	pub.err = errors.New("not connected")
	hr := NewHealthReporter(HealthReporterConfig{Publisher: pub})

	if err := hr.PublishStarting(); err == nil {
		t.Error("PublishStarting() error = nil, want error")
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	pub := newMockPublisher(true)
	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "dun-01",
		Interval:  10 * time.Millisecond,
		Publisher: pub,
		Source:    staticStats(BridgeStats{ServicePresent: true}),
	})

	if err := hr.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}

	hr.Start(context.Background())
	waitFor(t, "periodic reports", func() bool { return len(pub.getMessages()) >= 3 })

	hr.Stop()
	hr.Stop()

	msgs := pub.getMessages()
	if first := decodeHealth(t, msgs[0]); first.Status != HealthStarting {
		t.Errorf("first status = %s, want starting", first.Status)
	}
	if last := decodeHealth(t, msgs[len(msgs)-1]); last.Status != HealthStopping {
		t.Errorf("last status = %s, want stopping", last.Status)
	}
}

// mockMetrics implements MetricsWriter.
type mockMetrics struct {
	mu     sync.Mutex
	points []map[string]interface{}
	tags   []map[string]string
}

func (m *mockMetrics) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if measurement != "dun_bridge" {
		return
	}
	m.tags = append(m.tags, tags)
	m.points = append(m.points, fields)
}

func TestHealthReporter_WritesMetrics(t *testing.T) {
	metrics := &mockMetrics{}
	hr := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "dun-01",
		Publisher: newMockPublisher(true),
		Source:    staticStats(BridgeStats{ServicePresent: true, Devices: 2, Connected: 1}),
		Metrics:   metrics,
	})

	if err := hr.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.points) != 1 {
		t.Fatalf("points = %d, want 1", len(metrics.points))
	}
	if metrics.tags[0]["bridge"] != "dun-01" {
		t.Errorf("bridge tag = %q", metrics.tags[0]["bridge"])
	}
	fields := metrics.points[0]
	if fields["healthy"] != true || fields["devices"] != 2 || fields["connected"] != 1 {
		t.Errorf("fields = %v", fields)
	}
}
