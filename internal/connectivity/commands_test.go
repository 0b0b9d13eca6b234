package connectivity

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/dunbridge/internal/infrastructure/mqtt"
)

// attachedDevice registers dev0 with one network net0.
func attachedDevice(t *testing.T) (*Manager, *testDeviceDriver, *testNetworkDriver) {
	t.Helper()

	m, _, dd, nd := newTestManager(t)
	dev, _ := m.CreateDevice("dev0", DeviceTypeBluetooth)
	if err := m.RegisterDevice(dev); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}
	nw, _ := m.CreateNetwork("net0", NetworkTypeBluetoothDUN)
	if err := dev.AddNetwork(nw); err != nil {
		t.Fatalf("AddNetwork() error = %v", err)
	}
	return m, dd, nd
}

func TestParseCommand(t *testing.T) {
	for _, name := range []string{"enable", "disable", "connect", "disconnect"} {
		cmd, err := ParseCommand(name)
		if err != nil || string(cmd) != name {
			t.Errorf("ParseCommand(%q) = %q, %v", name, cmd, err)
		}
	}
	if _, err := ParseCommand("reboot"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("ParseCommand(reboot) error = %v, want ErrUnknownCommand", err)
	}
}

func TestManagerApply(t *testing.T) {
	m, dd, nd := attachedDevice(t)

	if err := m.Apply("dev0", CommandEnable, ""); err != nil {
		t.Fatalf("Apply(enable) error = %v", err)
	}
	if dd.enabled != 1 {
		t.Errorf("Enable calls = %d, want 1", dd.enabled)
	}
	if err := m.Apply("dev0", CommandDisable, ""); err != nil {
		t.Errorf("Apply(disable) error = %v", err)
	}

	if err := m.Apply("dev0", CommandConnect, ""); err != nil {
		t.Fatalf("Apply(connect) error = %v", err)
	}
	if err := m.Apply("dev0", CommandConnect, "net0"); err != nil {
		t.Fatalf("Apply(connect net0) error = %v", err)
	}
	if nd.connects != 2 {
		t.Errorf("Connect calls = %d, want 2", nd.connects)
	}
	if err := m.Apply("dev0", CommandDisconnect, ""); err != nil {
		t.Fatalf("Apply(disconnect) error = %v", err)
	}
	if nd.disconnect != 1 {
		t.Errorf("Disconnect calls = %d, want 1", nd.disconnect)
	}
}

func TestManagerApply_Errors(t *testing.T) {
	m, _, _ := attachedDevice(t)

	bare, _ := m.CreateDevice("dev1", DeviceTypeBluetooth)
	if err := m.RegisterDevice(bare); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	tests := []struct {
		name    string
		ident   string
		cmd     Command
		network string
		wantErr error
	}{
		{"unknown device", "missing", CommandEnable, "", ErrNotRegistered},
		{"unknown command", "dev0", Command("reboot"), "", ErrUnknownCommand},
		{"unknown network", "dev0", CommandConnect, "net9", ErrNotRegistered},
		{"device without network", "dev1", CommandConnect, "", ErrNotRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Apply(tt.ident, tt.cmd, tt.network)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Apply() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// mockSubscriber records subscriptions.
type mockSubscriber struct {
	topics   []string
	handler  mqtt.MessageHandler
	unsubbed []string
	err      error
}

func (s *mockSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, topic)
	s.handler = handler
	return nil
}

func (s *mockSubscriber) Unsubscribe(topic string) error {
	s.unsubbed = append(s.unsubbed, topic)
	return nil
}

func decodeAck(t *testing.T, msg publishedMessage) AckMessage {
	t.Helper()
	var ack AckMessage
	if err := json.Unmarshal(msg.payload, &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	return ack
}

func TestCommandHandler_Subscribe(t *testing.T) {
	m, _, nd := attachedDevice(t)
	pub := &MockPublisher{}
	sub := &mockSubscriber{}
	h := NewCommandHandler(m, pub, 1)

	if err := h.Subscribe(sub); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if len(sub.topics) != 1 || sub.topics[0] != "graylogic/command/dun/+" {
		t.Fatalf("subscribed topics = %v", sub.topics)
	}

	payload := []byte(`{"id":"cmd-1","command":"connect","source":"api"}`)
	if err := sub.handler("graylogic/command/dun/dev0", payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if nd.connects != 1 {
		t.Errorf("Connect calls = %d, want 1", nd.connects)
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d acks, want 1", len(pub.published))
	}
	if pub.published[0].topic != "graylogic/ack/dun/dev0" {
		t.Errorf("ack topic = %q", pub.published[0].topic)
	}
	ack := decodeAck(t, pub.published[0])
	if ack.Status != AckAccepted || ack.CommandID != "cmd-1" || ack.Device != "dev0" || ack.Protocol != "dun" {
		t.Errorf("ack = %+v", ack)
	}
	if ack.Error != nil {
		t.Errorf("accepted ack carries error %+v", ack.Error)
	}

	if err := h.Unsubscribe(sub); err != nil || len(sub.unsubbed) != 1 {
		t.Errorf("Unsubscribe() = %v, unsubscribed %v", err, sub.unsubbed)
	}
}

func TestCommandHandler_SubscribeError(t *testing.T) {
	h := NewCommandHandler(nil, nil, 0)
	if err := h.Subscribe(&mockSubscriber{err: errors.New("not connected")}); err == nil {
		t.Error("Subscribe() should fail when the client rejects the subscription")
	}
}

func TestCommandHandler_FailedAcks(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		payload  string
		wantCode string
	}{
		{"malformed json", "graylogic/command/dun/dev0", `{`, AckCodeInvalidCommand},
		{"unknown command", "graylogic/command/dun/dev0", `{"command":"reboot"}`, AckCodeInvalidCommand},
		{"unknown device", "graylogic/command/dun/dev9", `{"command":"enable"}`, AckCodeDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := attachedDevice(t)
			pub := &MockPublisher{}
			h := NewCommandHandler(m, pub, 1)

			if err := h.HandleMessage(tt.topic, []byte(tt.payload)); err == nil {
				t.Fatal("HandleMessage() should fail")
			}
			if len(pub.published) != 1 {
				t.Fatalf("published %d acks, want 1", len(pub.published))
			}
			ack := decodeAck(t, pub.published[0])
			if ack.Status != AckFailed {
				t.Errorf("Status = %q, want failed", ack.Status)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("Error = %+v, want code %s", ack.Error, tt.wantCode)
			}
		})
	}
}

func TestCommandHandler_DriverError(t *testing.T) {
	pub := &MockPublisher{}
	h := NewCommandHandler(failingCommander{}, pub, 0)

	if err := h.HandleMessage("graylogic/command/dun/dev0", []byte(`{"command":"enable"}`)); err == nil {
		t.Fatal("HandleMessage() should fail")
	}
	ack := decodeAck(t, pub.published[0])
	if ack.Error == nil || ack.Error.Code != AckCodeDriverError {
		t.Errorf("Error = %+v, want DRIVER_ERROR", ack.Error)
	}
}

type failingCommander struct{}

func (failingCommander) Apply(string, Command, string) error {
	return errors.New("modem busy")
}

func TestCommandHandler_TopicWithoutDevice(t *testing.T) {
	pub := &MockPublisher{}
	h := NewCommandHandler(failingCommander{}, pub, 0)

	err := h.HandleMessage("graylogic/command", []byte(`{"command":"enable"}`))
	if !errors.Is(err, ErrInvalidIdent) {
		t.Errorf("HandleMessage() error = %v, want ErrInvalidIdent", err)
	}
	if len(pub.published) != 0 {
		t.Errorf("published %d acks, want 0", len(pub.published))
	}
}

func TestCommandHandler_AckPublishError(t *testing.T) {
	m, _, _ := attachedDevice(t)
	logger := &captureLogger{}
	h := NewCommandHandler(m, &MockPublisher{err: errors.New("not connected")}, 0)
	h.SetLogger(logger)

	if err := h.HandleMessage("graylogic/command/dun/dev0", []byte(`{"command":"enable"}`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
}
