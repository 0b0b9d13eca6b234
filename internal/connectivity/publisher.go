package connectivity

import (
	"encoding/json"
	"sync"

	"github.com/nerrad567/dunbridge/internal/infrastructure/mqtt"
)

// mqttProtocol is the protocol segment of the bridge topics this package publishes.
const mqttProtocol = "dun"

// Publisher is the subset of the MQTT client used to mirror state.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StatePublisher mirrors device state to retained MQTT topics.
//
// Each registered device has one retained message on
// graylogic/state/dun/{ident}. Unregistration clears it with an empty
// retained payload.
type StatePublisher struct {
	pub Publisher
	qos byte

	logger   Logger
	loggerMu sync.RWMutex
}

// StateMessage is the payload published for a device.
type StateMessage struct {
	Event  EventKind    `json:"event"`
	Device DeviceStatus `json:"device"`
	Time   string       `json:"timestamp"`
}

// NewStatePublisher creates a StatePublisher that publishes with the given QoS.
func NewStatePublisher(pub Publisher, qos byte) *StatePublisher {
	return &StatePublisher{pub: pub, qos: qos}
}

// SetLogger sets the logger for publish failures.
func (p *StatePublisher) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// OnEvent publishes the device state carried by ev.
func (p *StatePublisher) OnEvent(ev Event) {
	topic := mqtt.Topics{}.BridgeState(mqttProtocol, ev.Device.Ident)

	if ev.Kind == EventDeviceUnregistered {
		if err := p.pub.Publish(topic, nil, p.qos, true); err != nil {
			p.logError("clearing device state", "topic", topic, "error", err)
		}
		return
	}

	payload, err := json.Marshal(StateMessage{
		Event:  ev.Kind,
		Device: ev.Device,
		Time:   ev.Time.Format(timeLayout),
	})
	if err != nil {
		p.logError("encoding device state", "ident", ev.Device.Ident, "error", err)
		return
	}

	if err := p.pub.Publish(topic, payload, p.qos, true); err != nil {
		p.logError("publishing device state", "topic", topic, "error", err)
	}
}

func (p *StatePublisher) logError(msg string, keysAndValues ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
