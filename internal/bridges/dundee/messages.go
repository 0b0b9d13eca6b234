package dundee

import (
	"time"

	"github.com/nerrad567/dunbridge/internal/infrastructure/mqtt"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running but cannot track
	// devices (daemon absent, bus lost or MQTT down).
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/dun
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the configured bridge identifier.
	Bridge string `json:"bridge"`

	// Instance identifies this process run.
	Instance string `json:"instance,omitempty"`

	// Timestamp is when the status was generated (UTC).
	Timestamp time.Time `json:"timestamp"`

	Status  HealthStatus `json:"status"`
	Version string       `json:"version"`

	UptimeSeconds int64 `json:"uptime_seconds"`

	// ServicePresent is true while the dundee daemon owns its bus name.
	ServicePresent bool `json:"service_present"`

	DevicesManaged   int `json:"devices_managed"`
	DevicesConnected int `json:"devices_connected"`

	Statistics *HealthStatistics `json:"statistics,omitempty"`

	// Reason explains a degraded status.
	Reason string `json:"reason,omitempty"`
}

// HealthStatistics contains operational counters.
type HealthStatistics struct {
	SignalsReceived uint64 `json:"signals_received"`
	ProtocolErrors  uint64 `json:"protocol_errors"`
	QueriesIssued   uint64 `json:"queries_issued"`
	QueriesFailed   uint64 `json:"queries_failed"`
}

// NewHealthMessage builds a health message from bridge counters.
func NewHealthMessage(bridgeID, instance, version string, status HealthStatus, stats BridgeStats, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:           bridgeID,
		Instance:         instance,
		Timestamp:        time.Now().UTC(),
		Status:           status,
		Version:          version,
		UptimeSeconds:    int64(time.Since(startTime).Seconds()),
		ServicePresent:   stats.ServicePresent,
		DevicesManaged:   stats.Devices,
		DevicesConnected: stats.Connected,
		Statistics: &HealthStatistics{
			SignalsReceived: stats.SignalsReceived,
			ProtocolErrors:  stats.ProtocolErrors,
			QueriesIssued:   stats.QueriesIssued,
			QueriesFailed:   stats.QueriesFailed,
		},
	}
}

// HealthTopic returns the MQTT topic for health status.
// Example: graylogic/health/dun
func HealthTopic() string {
	return mqtt.Topics{}.BridgeHealth(protocolName)
}
