package connectivity

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/dunbridge/internal/infrastructure/mqtt"
)

// Command is an operator request dispatched to a device's drivers.
type Command string

// Supported commands.
const (
	CommandEnable     Command = "enable"
	CommandDisable    Command = "disable"
	CommandConnect    Command = "connect"
	CommandDisconnect Command = "disconnect"
)

// ParseCommand validates a command name.
func ParseCommand(name string) (Command, error) {
	switch c := Command(name); c {
	case CommandEnable, CommandDisable, CommandConnect, CommandDisconnect:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

// Apply dispatches cmd to the drivers of the registered device ident.
// Connect and disconnect target the named network, or every attached
// network when network is empty.
func (m *Manager) Apply(ident string, cmd Command, network string) error {
	switch cmd {
	case CommandEnable:
		return m.EnableDevice(ident)
	case CommandDisable:
		return m.DisableDevice(ident)
	case CommandConnect, CommandDisconnect:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	apply := m.ConnectNetwork
	if cmd == CommandDisconnect {
		apply = m.DisconnectNetwork
	}
	if network != "" {
		return apply(ident, network)
	}

	dev, _, err := m.registeredDevice(ident)
	if err != nil {
		return err
	}
	networks := dev.Networks()
	if len(networks) == 0 {
		return fmt.Errorf("%w: device %s has no network", ErrNotRegistered, ident)
	}
	for _, nw := range networks {
		if err := apply(ident, nw.Ident()); err != nil {
			return err
		}
	}
	return nil
}

// Commander applies commands. Satisfied by *Manager.
type Commander interface {
	Apply(ident string, cmd Command, network string) error
}

// Subscriber is the subset of the MQTT client used to receive commands.
// Satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// CommandMessage is received on graylogic/command/dun/{ident}.
type CommandMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`

	// Network optionally selects one network of the device.
	Network string `json:"network,omitempty"`

	// Source indicates where the command originated ("api", "automation").
	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckAccepted indicates the drivers accepted the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be applied.
	AckFailed AckStatus = "failed"
)

// Ack error codes.
const (
	AckCodeInvalidCommand = "INVALID_COMMAND"
	AckCodeDeviceNotFound = "DEVICE_NOT_FOUND"
	AckCodeDriverError    = "DRIVER_ERROR"
)

// AckMessage is published on graylogic/ack/dun/{ident}.
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains details for a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandHandler applies commands received over MQTT and acknowledges
// each one.
type CommandHandler struct {
	cmd Commander
	pub Publisher
	qos byte

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCommandHandler creates a CommandHandler. pub may be nil to skip acks.
func NewCommandHandler(cmd Commander, pub Publisher, qos byte) *CommandHandler {
	return &CommandHandler{cmd: cmd, pub: pub, qos: qos}
}

// SetLogger sets the logger.
func (h *CommandHandler) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Subscribe registers the handler for every DUN device command topic.
func (h *CommandHandler) Subscribe(sub Subscriber) error {
	if err := sub.Subscribe(mqtt.Topics{}.BridgeCommands(mqttProtocol), h.qos, h.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// Unsubscribe removes the command subscription.
func (h *CommandHandler) Unsubscribe(sub Subscriber) error {
	return sub.Unsubscribe(mqtt.Topics{}.BridgeCommands(mqttProtocol))
}

// HandleMessage parses and applies one command. The returned error is
// logged by the MQTT client.
func (h *CommandHandler) HandleMessage(topic string, payload []byte) error {
	ident := mqtt.AddressFromTopic(topic)
	if ident == "" {
		return fmt.Errorf("%w: command topic %q has no device", ErrInvalidIdent, topic)
	}

	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.ack(ident, msg, fmt.Errorf("%w: %w", ErrUnknownCommand, err))
		return fmt.Errorf("parsing command: %w", err)
	}

	cmd, err := ParseCommand(msg.Command)
	if err == nil {
		err = h.cmd.Apply(ident, cmd, msg.Network)
	}
	h.ack(ident, msg, err)

	if err != nil {
		return fmt.Errorf("applying %s to %s: %w", msg.Command, ident, err)
	}
	h.logInfo("command applied", "device", ident, "command", msg.Command, "source", msg.Source)
	return nil
}

func (h *CommandHandler) ack(ident string, msg CommandMessage, err error) {
	if h.pub == nil {
		return
	}

	ack := AckMessage{
		CommandID: msg.ID,
		Timestamp: time.Now().UTC(),
		Device:    ident,
		Status:    AckAccepted,
		Protocol:  mqttProtocol,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ackCode(err), Message: err.Error()}
	}

	payload, mErr := json.Marshal(ack)
	if mErr != nil {
		h.logError("encoding ack", "device", ident, "error", mErr)
		return
	}
	topic := mqtt.Topics{}.BridgeAck(mqttProtocol, ident)
	if pErr := h.pub.Publish(topic, payload, h.qos, false); pErr != nil {
		h.logError("publishing ack", "topic", topic, "error", pErr)
	}
}

func ackCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return AckCodeInvalidCommand
	case errors.Is(err, ErrNotRegistered):
		return AckCodeDeviceNotFound
	default:
		return AckCodeDriverError
	}
}

func (h *CommandHandler) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

func (h *CommandHandler) logInfo(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (h *CommandHandler) logError(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
