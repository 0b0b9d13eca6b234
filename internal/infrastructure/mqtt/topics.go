package mqtt

import "strings"

// Topic roots. Bridge topics are flat: graylogic/{category}/{protocol}/{ident}.
const (
	topicRoot   = "graylogic"
	topicSystem = topicRoot + "/system"
)

// Topics builds the bridge's topic names.
type Topics struct{}

// BridgeState is the retained state topic of one device,
// e.g. graylogic/state/dun/dev0.
func (Topics) BridgeState(protocol, ident string) string {
	return join("state", protocol, ident)
}

// BridgeAck carries command acknowledgements for one device,
// e.g. graylogic/ack/dun/dev0.
func (Topics) BridgeAck(protocol, ident string) string {
	return join("ack", protocol, ident)
}

// BridgeCommands matches every device command of a bridge,
// e.g. graylogic/command/dun/+.
func (Topics) BridgeCommands(protocol string) string {
	return join("command", protocol, "+")
}

// BridgeHealth is the retained health topic of a bridge,
// e.g. graylogic/health/dun.
func (Topics) BridgeHealth(protocol string) string {
	return join("health", protocol)
}

// SystemStatus carries the online/offline document and the will.
func (Topics) SystemStatus() string {
	return topicSystem + "/status"
}

func join(levels ...string) string {
	return topicRoot + "/" + strings.Join(levels, "/")
}

// AddressFromTopic returns the device ident of a bridge topic, or "" when
// the topic has fewer than four levels.
func AddressFromTopic(topic string) string {
	levels := strings.Split(topic, "/")
	if len(levels) < 4 {
		return ""
	}
	return levels[len(levels)-1]
}
