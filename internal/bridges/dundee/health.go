package dundee

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID  string
	instance  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    StatsSource
	metrics   MetricsWriter

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// MetricsWriter records bridge counters as a time series.
// Satisfied by *influxdb.Client.
type MetricsWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time)
}

// StatsSource provides bridge counters. Satisfied by *Bridge.
type StatsSource interface {
	Stats() BridgeStats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// InstanceID identifies this process run.
	InstanceID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Source provides bridge counters.
	Source StatsSource

	// Metrics optionally receives a dun_bridge point per report.
	Metrics MetricsWriter
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		instance:  cfg.InstanceID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	h.writeMetrics(status)
	return h.publishStatus(status, reason)
}

// writeMetrics records the current counters when a MetricsWriter is set.
func (h *HealthReporter) writeMetrics(status HealthStatus) {
	if h.metrics == nil {
		return
	}
	stats := h.stats()
	h.metrics.WritePoint("dun_bridge",
		map[string]string{"bridge": h.bridgeID},
		map[string]interface{}{
			"healthy":          status == HealthHealthy,
			"service_present":  stats.ServicePresent,
			"bus_lost":         stats.BusLost,
			"devices":          stats.Devices,
			"connected":        stats.Connected,
			"signals_received": stats.SignalsReceived,
			"protocol_errors":  stats.ProtocolErrors,
			"queries_issued":   stats.QueriesIssued,
			"queries_failed":   stats.QueriesFailed,
		},
		time.Now(),
	)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	stats := h.stats()
	if stats.BusLost {
		return HealthDegraded, "bus connection lost"
	}
	if !stats.ServicePresent {
		return HealthDegraded, "dundee service not present"
	}

	return HealthHealthy, ""
}

func (h *HealthReporter) stats() BridgeStats {
	if h.source == nil {
		return BridgeStats{}
	}
	return h.source.Stats()
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	msg := NewHealthMessage(h.bridgeID, h.instance, h.version, status, h.stats(), h.startTime)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
