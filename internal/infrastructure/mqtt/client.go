package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/dunbridge/internal/infrastructure/config"
)

const (
	connectTimeout   = 10 * time.Second
	operationTimeout = 5 * time.Second
	keepAlive        = 60 * time.Second

	// disconnectQuiesceMillis lets in-flight acks and state clears drain.
	disconnectQuiesceMillis = 1000
)

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Client is the bridge's broker session. It carries retained device state,
// command acks and health reports out, and the device command subscription
// in. The subscription survives reconnects.
//
// All methods are safe for concurrent use.
type Client struct {
	paho     pahomqtt.Client
	broker   string
	clientID string
	qos      byte
	logger   Logger

	mu        sync.RWMutex
	connected bool
	subs      map[string]subscription
}

// Connect opens a session with the broker named in cfg. The broker holds a
// retained "offline" will on the system status topic; each (re)connect
// replaces it with "online". logger may be nil.
func Connect(cfg config.MQTTConfig, logger Logger) (*Client, error) {
	c := newClient(cfg, logger)

	opts := clientOptions(cfg)
	opts.SetWill(Topics{}.SystemStatus(), string(statusPayload(c.clientID, statusOffline, reasonUnexpected)), 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logWarn("MQTT reconnecting", "broker", c.broker)
	})

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The connect handler runs on its own goroutine and may lag behind.
	c.setConnected(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig, logger Logger) *Client {
	return &Client{
		broker:   brokerURL(cfg.Broker),
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS), //nolint:gosec // validated 0-2
		logger:   logger,
		subs:     make(map[string]subscription),
	}
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// clientOptions maps the MQTT config section onto paho options. Sessions
// are clean; subscriptions are restored by the client itself.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// sessionUp runs on every successful (re)connect.
func (c *Client) sessionUp() {
	c.setConnected(true)
	c.resubscribe()

	token := c.paho.Publish(Topics{}.SystemStatus(), c.qos, true, statusPayload(c.clientID, statusOnline, ""))
	if err := await(token, operationTimeout, ErrPublishFailed); err != nil {
		c.logWarn("publishing online status", "error", err)
	}
	c.logInfo("MQTT connected", "broker", c.broker, "client_id", c.clientID)
}

func (c *Client) sessionLost(err error) {
	c.setConnected(false)
	c.logWarn("MQTT connection lost", "broker", c.broker, "error", err)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Close announces a graceful shutdown on the status topic and disconnects.
// Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.paho.Publish(Topics{}.SystemStatus(), c.qos, true, statusPayload(c.clientID, statusOffline, reasonShutdown))
		if err := await(token, operationTimeout, ErrPublishFailed); err != nil {
			c.logWarn("publishing offline status", "error", err)
		}
	}

	c.paho.Disconnect(disconnectQuiesceMillis)
	c.setConnected(false)
	return nil
}

// IsConnected reports whether the session is up.
func (c *Client) IsConnected() bool {
	if c.paho == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.paho.IsConnected()
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}
