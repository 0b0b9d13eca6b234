package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/dunbridge/internal/infrastructure/config"
)

// Well-known names of the message bus itself.
const (
	// DaemonName is the bus daemon's own name.
	DaemonName = "org.freedesktop.DBus"

	// DaemonInterface is the bus daemon's interface.
	DaemonInterface = "org.freedesktop.DBus"

	// NameOwnerChangedMember is the signal emitted when a name changes owner.
	NameOwnerChangedMember = "NameOwnerChanged"

	// NameOwnerChangedSignal is the full signal name as seen in dbus.Signal.Name.
	NameOwnerChangedSignal = DaemonInterface + "." + NameOwnerChangedMember

	// nameOwnerChangedSignature is the body signature of NameOwnerChanged.
	nameOwnerChangedSignature = "sss"

	// signalBufferSize is the capacity of the signal channel.
	signalBufferSize = 128
)

// Client wraps a godbus connection with match tracking.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Signals() has a single logical consumer.
type Client struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal

	// matches holds every registered rule so they can be removed on Close.
	matches [][]dbus.MatchOption
	mu      sync.Mutex
	closed  bool
}

// Connect opens a connection to the configured bus.
//
// When cfg.Address is set it is dialled directly; otherwise the standard
// system or session bus address is used.
//
// Parameters:
//   - cfg: D-Bus configuration from config.yaml
//
// Returns:
//   - *Client: Connected client with an empty match set
//   - error: ErrInvalidBus or ErrConnectionFailed
func Connect(cfg config.DBusConfig) (*Client, error) {
	var (
		conn *dbus.Conn
		err  error
	)

	switch {
	case cfg.Address != "":
		conn, err = dbus.Connect(cfg.Address)
	case strings.EqualFold(cfg.Bus, config.BusSession):
		conn, err = dbus.ConnectSessionBus()
	case cfg.Bus == "" || strings.EqualFold(cfg.Bus, config.BusSystem):
		conn, err = dbus.ConnectSystemBus()
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBus, cfg.Bus)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		conn:    conn,
		signals: make(chan *dbus.Signal, signalBufferSize),
	}
	conn.Signal(c.signals)

	return c, nil
}

// Signals returns the channel carrying every matched signal.
// The channel is closed when the connection is lost or closed.
func (c *Client) Signals() <-chan *dbus.Signal {
	return c.signals
}

// WatchService subscribes to ownership changes of a well-known name.
func (c *Client) WatchService(name string) error {
	return c.addMatch(
		dbus.WithMatchSender(DaemonName),
		dbus.WithMatchInterface(DaemonInterface),
		dbus.WithMatchMember(NameOwnerChangedMember),
		dbus.WithMatchArg(0, name),
	)
}

// WatchSignal subscribes to a signal emitted by sender on any object path.
func (c *Client) WatchSignal(sender, iface, member string) error {
	return c.addMatch(
		dbus.WithMatchSender(sender),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(member),
	)
}

func (c *Client) addMatch(options ...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotConnected
	}
	if err := c.conn.AddMatchSignal(options...); err != nil {
		return fmt.Errorf("%w: %w", ErrMatchFailed, err)
	}
	c.matches = append(c.matches, options)
	return nil
}

// RemoveMatches removes every rule added through this client.
// Errors from individual removals are collected and returned together.
func (c *Client) RemoveMatches() error {
	c.mu.Lock()
	matches := c.matches
	c.matches = nil
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil
	}

	var errs []string
	for _, options := range matches {
		if err := c.conn.RemoveMatchSignal(options...); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("removing match rules: %s", strings.Join(errs, "; "))
	}
	return nil
}

// NameHasOwner asks the bus daemon whether name currently has an owner.
func (c *Client) NameHasOwner(name string) (bool, error) {
	var owned bool
	err := c.conn.BusObject().Call(DaemonInterface+".NameHasOwner", 0, name).Store(&owned)
	if err != nil {
		return false, fmt.Errorf("querying owner of %s: %w", name, err)
	}
	return owned, nil
}

// CallAsync issues a method call without waiting for the reply.
//
// The completed call is sent on ch. When ctx expires first, the call
// completes with ctx's error.
//
// Parameters:
//   - ctx: Bounds the wait for the reply
//   - dest: Destination bus name
//   - path: Object path on the destination
//   - method: Fully qualified method (interface.Member)
//   - ch: Buffered channel receiving the completed call
//   - args: Method arguments
func (c *Client) CallAsync(ctx context.Context, dest string, path dbus.ObjectPath, method string, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	return c.conn.Object(dest, path).GoWithContext(ctx, method, 0, ch, args...)
}

// HealthCheck reports whether the connection is still usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("bus health check: %w", ctx.Err())
	default:
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed || !c.conn.Connected() {
		return ErrNotConnected
	}
	return nil
}

// Close removes match rules and closes the connection. Safe to call twice.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	_ = c.RemoveMatches() //nolint:errcheck // best-effort before close

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.conn.RemoveSignal(c.signals)
	return c.conn.Close()
}

// OwnerChange is a decoded NameOwnerChanged signal.
type OwnerChange struct {
	Name     string
	OldOwner string
	NewOwner string
}

// Vanished reports whether the previous owner released the name.
func (o OwnerChange) Vanished() bool {
	return o.OldOwner != ""
}

// Appeared reports whether a new owner acquired the name.
func (o OwnerChange) Appeared() bool {
	return o.NewOwner != ""
}

// ParseOwnerChange decodes a NameOwnerChanged signal.
// A replaced owner reports both Vanished and Appeared.
func ParseOwnerChange(sig *dbus.Signal) (OwnerChange, error) {
	if sig == nil || sig.Name != NameOwnerChangedSignal {
		return OwnerChange{}, fmt.Errorf("%w: not %s", ErrSignature, NameOwnerChangedSignal)
	}
	if got := dbus.SignatureOf(sig.Body...).String(); got != nameOwnerChangedSignature {
		return OwnerChange{}, fmt.Errorf("%w: %s has %q, want %q",
			ErrSignature, NameOwnerChangedMember, got, nameOwnerChangedSignature)
	}
	return OwnerChange{
		Name:     sig.Body[0].(string),
		OldOwner: sig.Body[1].(string),
		NewOwner: sig.Body[2].(string),
	}, nil
}
