package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/dunbridge/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Logger receives asynchronous write failures.
type Logger interface {
	Error(msg string, args ...any)
}

// Client writes bridge telemetry into one bucket. Writes are batched and
// never block the caller; a failed batch is logged, not returned.
//
// A nil or closed Client drops writes.
type Client struct {
	client influxdb2.Client
	writer api.WriteAPI
	closed atomic.Bool
}

// Connect pings the server and prepares the batched writer for
// cfg.Org/cfg.Bucket. logger may be nil.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go logWriteErrors(c.writer.Errors(), logger)
	return c, nil
}

// clientOptions applies the batch settings, falling back to defaults for
// unset or negative values.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// logWriteErrors drains the writer's error channel until Close.
func logWriteErrors(errs <-chan error, logger Logger) {
	for err := range errs {
		if logger != nil {
			logger.Error("InfluxDB write failed", "error", err)
		}
	}
}

// WritePoint queues one point. Points without fields are dropped.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if c == nil || c.writer == nil || c.closed.Load() || len(fields) == 0 {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil || c.client == nil || c.closed.Load() {
		return ErrNotConnected
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := c.client.Ping(pingCtx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Close sends queued points and releases the client. Later calls and
// calls on a nil client return nil.
func (c *Client) Close() error {
	if c == nil || c.client == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writer.Flush()
	c.client.Close()
	return nil
}
