package connectivity

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// MockPublisher records publish calls.
type MockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *MockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic, payload, qos, retained})
	return m.err
}

// captureLogger records error messages.
type captureLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Warn(string, ...any)  {}
func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestStatePublisher_PublishesRetainedState(t *testing.T) {
	pub := &MockPublisher{}
	p := NewStatePublisher(pub, 1)

	ev := Event{
		Kind: EventNetworkConnected,
		Device: DeviceStatus{
			Ident: "dev0",
			Path:  "/dev0",
			Networks: []NetworkStatus{{
				Ident:     "dev0",
				Connected: true,
				Address:   IPAddress{Local: "10.0.0.2"},
			}},
		},
		Time: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
	p.OnEvent(ev)

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	msg := pub.published[0]
	if msg.topic != "graylogic/state/dun/dev0" {
		t.Errorf("topic = %q, want graylogic/state/dun/dev0", msg.topic)
	}
	if !msg.retained || msg.qos != 1 {
		t.Errorf("retained/qos = %v/%d, want true/1", msg.retained, msg.qos)
	}

	var decoded StateMessage
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if decoded.Event != EventNetworkConnected {
		t.Errorf("Event = %s, want network.connected", decoded.Event)
	}
	if decoded.Time != "2026-10-16T12:00:00Z" {
		t.Errorf("Time = %q", decoded.Time)
	}
	if len(decoded.Device.Networks) != 1 || !decoded.Device.Networks[0].Connected {
		t.Errorf("Networks = %+v, want one connected network", decoded.Device.Networks)
	}
}

func TestStatePublisher_ClearsOnUnregister(t *testing.T) {
	pub := &MockPublisher{}
	p := NewStatePublisher(pub, 0)

	p.OnEvent(Event{Kind: EventDeviceUnregistered, Device: DeviceStatus{Ident: "dev0"}})

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	if len(pub.published[0].payload) != 0 || !pub.published[0].retained {
		t.Errorf("unregister should publish an empty retained payload, got %q retained=%v",
			pub.published[0].payload, pub.published[0].retained)
	}
}

func TestStatePublisher_LogsPublishError(t *testing.T) {
	pub := &MockPublisher{err: errors.New("not connected")}
	logger := &captureLogger{}
	p := NewStatePublisher(pub, 0)
	p.SetLogger(logger)

	p.OnEvent(Event{Kind: EventDeviceRegistered, Device: DeviceStatus{Ident: "dev0"}})

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
}
