package dundee

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nerrad567/dunbridge/internal/infrastructure/bus"
)

// replyBufferSize is the capacity of the GetDevices completion channel.
const replyBufferSize = 8

// BusClient is the bus surface used by the bridge.
// Satisfied by *bus.Client.
type BusClient interface {
	// Signals carries every matched signal. It is closed on bus loss.
	Signals() <-chan *dbus.Signal

	// WatchService subscribes to ownership changes of name.
	WatchService(name string) error

	// WatchSignal subscribes to a signal from sender.
	WatchSignal(sender, iface, member string) error

	// RemoveMatches drops every subscription.
	RemoveMatches() error

	// NameHasOwner reports whether name is currently owned.
	NameHasOwner(name string) (bool, error)

	// CallAsync issues a method call; the completed call is sent on ch.
	CallAsync(ctx context.Context, dest string, path dbus.ObjectPath, method string, ch chan *dbus.Call, args ...interface{}) *dbus.Call
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Bus is the connected bus client.
	Bus BusClient

	// Subsystem is the connectivity manager devices are mirrored into.
	Subsystem Subsystem

	// Service is the daemon's bus name. Default: ServiceName.
	Service string

	// GetDevicesTimeout bounds the device query. Default: 40s.
	GetDevicesTimeout time.Duration

	// Logger is optional structured logger.
	Logger Logger
}

// pendingQuery is an in-flight GetDevices call and the registry it populates.
type pendingQuery struct {
	reg    *Registry
	cancel context.CancelFunc
}

// BridgeStats contains counters for health and the API.
type BridgeStats struct {
	ServicePresent  bool   `json:"service_present"`
	Devices         int    `json:"devices"`
	Connected       int    `json:"connected"`
	SignalsReceived uint64 `json:"signals_received"`
	ProtocolErrors  uint64 `json:"protocol_errors"`
	QueriesIssued   uint64 `json:"queries_issued"`
	QueriesFailed   uint64 `json:"queries_failed"`
	BusLost         bool   `json:"bus_lost"`
}

// Bridge runs the event loop that keeps the connectivity subsystem in
// step with the dundee daemon.
//
// All signal and reply handling happens on one goroutine started by
// Start. Public methods other than Start and Stop only read counters.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bus        BusClient
	sub        Subsystem
	service    string
	timeout    time.Duration
	lifecycle  *Lifecycle
	dispatcher *Dispatcher
	devDriver  *deviceDriver
	netDriver  *networkDriver

	// Loop-owned state.
	replies chan *dbus.Call
	pending map[*dbus.Call]pendingQuery

	started         atomic.Bool
	servicePresent  atomic.Bool
	busLost         atomic.Bool
	signalsReceived atomic.Uint64
	queriesIssued   atomic.Uint64
	queriesFailed   atomic.Uint64

	// Shutdown coordination. cancel is nil until Start succeeds and again
	// once Stop has taken it.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("bus client is required")
	}
	if opts.Subsystem == nil {
		return nil, fmt.Errorf("connectivity subsystem is required")
	}

	service := opts.Service
	if service == "" {
		service = ServiceName
	}
	timeout := opts.GetDevicesTimeout
	if timeout <= 0 {
		timeout = DefaultGetDevicesTimeout
	}

	lc := NewLifecycle(opts.Subsystem)
	dispatcher := NewDispatcher(lc, opts.Subsystem.IfIndex)

	b := &Bridge{
		bus:        opts.Bus,
		sub:        opts.Subsystem,
		service:    service,
		timeout:    timeout,
		lifecycle:  lc,
		dispatcher: dispatcher,
		devDriver:  &deviceDriver{lc: lc},
		netDriver:  &networkDriver{lc: lc},
		replies:    make(chan *dbus.Call, replyBufferSize),
		pending:    make(map[*dbus.Call]pendingQuery),
	}
	if opts.Logger != nil {
		b.SetLogger(opts.Logger)
	}

	return b, nil
}

// SetLogger sets the logger for the bridge and its components.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.lifecycle.SetLogger(logger)
	b.dispatcher.SetLogger(logger)
}

// Start registers the driver shims and bus subscriptions, then starts the
// event loop. If the daemon already owns its name the device query is
// issued immediately.
//
// Any setup failure unwinds what was registered and is returned.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := b.sub.RegisterDeviceDriver(b.devDriver); err != nil {
		b.started.Store(false)
		return fmt.Errorf("registering device driver: %w", err)
	}
	if err := b.sub.RegisterNetworkDriver(b.netDriver); err != nil {
		b.sub.UnregisterDeviceDriver(b.devDriver)
		b.started.Store(false)
		return fmt.Errorf("registering network driver: %w", err)
	}

	present, err := b.watch()
	if err != nil {
		_ = b.bus.RemoveMatches() //nolint:errcheck // unwinding after failure
		b.unregisterDrivers()
		b.started.Store(false)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelMu.Lock()
	b.cancel = cancel
	b.cancelMu.Unlock()

	b.wg.Add(1)
	go b.run(loopCtx, present)

	b.logInfo("DUN bridge started", "service", b.service, "service_present", present)
	return nil
}

// watch adds the match rules and reports whether the service is present.
func (b *Bridge) watch() (bool, error) {
	if err := b.bus.WatchService(b.service); err != nil {
		return false, fmt.Errorf("%w: watching %s: %w", ErrBusUnavailable, b.service, err)
	}

	signals := []struct{ iface, member string }{
		{ManagerInterface, MemberDeviceAdded},
		{ManagerInterface, MemberDeviceRemoved},
		{DeviceInterface, MemberPropertyChanged},
	}
	for _, s := range signals {
		if err := b.bus.WatchSignal(b.service, s.iface, s.member); err != nil {
			return false, fmt.Errorf("%w: watching %s.%s: %w", ErrBusUnavailable, s.iface, s.member, err)
		}
	}

	present, err := b.bus.NameHasOwner(b.service)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}
	return present, nil
}

// Stop ends the event loop, tears down every tracked device and removes
// the driver shims and subscriptions. Safe to call multiple times; a call
// before Start does nothing.
func (b *Bridge) Stop() {
	b.cancelMu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.cancelMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	b.wg.Wait()
	b.logInfo("DUN bridge stopped")
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		ServicePresent:  b.servicePresent.Load(),
		Devices:         b.dispatcher.Devices(),
		Connected:       b.dispatcher.Connected(),
		SignalsReceived: b.signalsReceived.Load(),
		ProtocolErrors:  b.dispatcher.ProtocolErrors(),
		QueriesIssued:   b.queriesIssued.Load(),
		QueriesFailed:   b.queriesFailed.Load(),
		BusLost:         b.busLost.Load(),
	}
}

// ServicePresent reports whether the daemon currently owns its bus name.
func (b *Bridge) ServicePresent() bool {
	return b.servicePresent.Load()
}

// run is the event loop.
func (b *Bridge) run(ctx context.Context, present bool) {
	defer b.wg.Done()
	defer b.shutdown()

	if present {
		b.serviceAppeared(ctx)
	}

	signals := b.bus.Signals()
	for {
		select {
		case <-ctx.Done():
			return

		case sig, ok := <-signals:
			if !ok {
				b.logWarn("bus connection lost")
				b.busLost.Store(true)
				b.serviceVanished()
				signals = nil
				continue
			}
			b.signalsReceived.Add(1)
			b.handleSignal(ctx, sig)

		case call := <-b.replies:
			b.handleReply(call)
		}
	}
}

func (b *Bridge) handleSignal(ctx context.Context, sig *dbus.Signal) {
	if sig.Name != bus.NameOwnerChangedSignal {
		b.dispatcher.HandleSignal(sig)
		return
	}

	change, err := bus.ParseOwnerChange(sig)
	if err != nil {
		b.dispatcher.protocolErrors.Add(1)
		b.logWarn("dropping malformed owner change", "error", err)
		return
	}
	if change.Name != b.service {
		return
	}
	if change.Vanished() {
		b.serviceVanished()
	}
	if change.Appeared() {
		b.serviceAppeared(ctx)
	}
}

func (b *Bridge) serviceAppeared(ctx context.Context) {
	b.logInfo("dundee service appeared", "service", b.service)
	b.servicePresent.Store(true)
	reg := b.dispatcher.ServiceAppeared()
	b.queryDevices(ctx, reg)
}

func (b *Bridge) serviceVanished() {
	if b.servicePresent.Swap(false) {
		b.logInfo("dundee service vanished", "service", b.service)
	}
	b.dispatcher.ServiceVanished()
}

// queryDevices issues GetDevices for reg. The reply arrives on b.replies.
func (b *Bridge) queryDevices(ctx context.Context, reg *Registry) {
	qctx, cancel := context.WithTimeout(ctx, b.timeout)
	call := b.bus.CallAsync(qctx, b.service, ManagerPath, methodGetDevices, b.replies)
	b.queriesIssued.Add(1)
	if call == nil {
		cancel()
		b.queriesFailed.Add(1)
		b.logError("GetDevices could not be sent", "service", b.service)
		return
	}
	b.pending[call] = pendingQuery{reg: reg, cancel: cancel}
}

func (b *Bridge) handleReply(call *dbus.Call) {
	pq, ok := b.pending[call]
	if !ok {
		return
	}
	delete(b.pending, call)
	pq.cancel()

	if err := b.dispatcher.HandleGetDevicesReply(pq.reg, call); err != nil {
		if errors.Is(err, ErrQueryFailed) {
			b.queriesFailed.Add(1)
		}
	}
}

// shutdown runs on the loop goroutine when it exits.
func (b *Bridge) shutdown() {
	for call, pq := range b.pending {
		pq.cancel()
		delete(b.pending, call)
	}
	b.serviceVanished()

	if err := b.bus.RemoveMatches(); err != nil {
		b.logWarn("removing bus matches", "error", err)
	}
	b.unregisterDrivers()
}

func (b *Bridge) unregisterDrivers() {
	b.sub.UnregisterNetworkDriver(b.netDriver)
	b.sub.UnregisterDeviceDriver(b.devDriver)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
