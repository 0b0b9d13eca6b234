package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/dunbridge/internal/connectivity"
	"github.com/nerrad567/dunbridge/internal/infrastructure/config"
	"github.com/nerrad567/dunbridge/internal/infrastructure/logging"
)

// Feed message types. Clients send watch, unwatch and ping; the server sends
// snapshot once on connect, then event, ack, pong and error.
const (
	feedWatch    = "watch"
	feedUnwatch  = "unwatch"
	feedPing     = "ping"
	feedPong     = "pong"
	feedSnapshot = "snapshot"
	feedEvent    = "event"
	feedAck      = "ack"
	feedError    = "error"
)

// feedQueueSize is the number of messages buffered per watcher.
const feedQueueSize = 64

// FeedMessage is one frame on the device feed.
type FeedMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`

	// Filters carried by watch and unwatch.
	Devices []string `json:"devices,omitempty"`
	Events  []string `json:"events,omitempty"`
}

// Hub fans connectivity events out to websocket watchers.
// It is registered with the connectivity manager as an observer.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	watchers map[*watcher]struct{}
}

// watcher is one feed connection. Empty filters match everything.
type watcher struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte

	mu      sync.RWMutex
	closed  bool
	devices map[string]bool
	events  map[string]bool
	dropped int
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates a hub with no watchers.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		watchers: make(map[*watcher]struct{}),
	}
}

// Run disconnects every watcher once ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	all := h.watchers
	h.watchers = make(map[*watcher]struct{})
	h.mu.Unlock()

	for w := range all {
		w.close()
	}
}

// OnEvent forwards ev to every watcher whose filters match it.
func (h *Hub) OnEvent(ev connectivity.Event) {
	data, err := json.Marshal(FeedMessage{
		Type:      feedEvent,
		EventType: string(ev.Kind),
		Timestamp: ev.Time.UTC().Format(time.RFC3339),
		Payload:   ev,
	})
	if err != nil {
		h.logger.Error("encoding feed event", "kind", ev.Kind, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*watcher, 0, len(h.watchers))
	for w := range h.watchers {
		targets = append(targets, w)
	}
	h.mu.RUnlock()

	for _, w := range targets {
		if w.matches(ev.Device.Ident, string(ev.Kind)) {
			w.enqueue(data)
		}
	}
}

// WatcherCount returns the number of connected watchers.
func (h *Hub) WatcherCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

func (h *Hub) add(w *watcher) {
	h.mu.Lock()
	h.watchers[w] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(w *watcher) {
	h.mu.Lock()
	delete(h.watchers, w)
	h.mu.Unlock()
	w.close()
}

func newWatcher(hub *Hub, conn *websocket.Conn) *watcher {
	return &watcher{
		hub:     hub,
		conn:    conn,
		out:     make(chan []byte, feedQueueSize),
		devices: make(map[string]bool),
		events:  make(map[string]bool),
	}
}

// handleWebSocket upgrades the request and starts the watcher's pumps. The
// first frame is a snapshot of the registered devices.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	wt := newWatcher(s.hub, conn)
	wt.reply(FeedMessage{Type: feedSnapshot, Payload: s.conn.Snapshot()})
	s.hub.add(wt)
	s.logger.Debug("feed watcher connected", "remote", r.RemoteAddr, "watchers", s.hub.WatcherCount())

	go wt.writeLoop(s.wsCfg)
	go wt.readLoop(s.wsCfg)
}

func (w *watcher) readLoop(cfg config.WebSocketConfig) {
	defer w.hub.remove(w)

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	w.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // a failed deadline surfaces on the next read
	w.conn.SetReadDeadline(time.Now().Add(wait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.hub.logger.Warn("feed read failed", "error", err)
			}
			return
		}
		w.handle(data)
	}
}

func (w *watcher) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		w.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	for {
		select {
		case data, ok := <-w.out:
			//nolint:errcheck // a failed deadline surfaces on the write
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // connection is going away
				w.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			//nolint:errcheck // a failed deadline surfaces on the write
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *watcher) handle(data []byte) {
	var msg FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		w.reply(FeedMessage{Type: feedError, Payload: errorPayload("malformed frame")})
		return
	}

	switch msg.Type {
	case feedWatch, feedUnwatch:
		if len(msg.Devices) == 0 && len(msg.Events) == 0 {
			w.reply(FeedMessage{Type: feedError, ID: msg.ID, Payload: errorPayload(msg.Type + " needs devices or events")})
			return
		}
		w.setFilters(msg.Devices, msg.Events, msg.Type == feedWatch)
		w.reply(FeedMessage{Type: feedAck, ID: msg.ID, Devices: w.filterList(w.devices), Events: w.filterList(w.events)})
	case feedPing:
		w.reply(FeedMessage{Type: feedPong, ID: msg.ID})
	default:
		w.reply(FeedMessage{Type: feedError, ID: msg.ID, Payload: errorPayload("unknown frame type " + msg.Type)})
	}
}

func (w *watcher) setFilters(devices, events []string, add bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range devices {
		if add {
			w.devices[d] = true
		} else {
			delete(w.devices, d)
		}
	}
	for _, e := range events {
		if add {
			w.events[e] = true
		} else {
			delete(w.events, e)
		}
	}
}

func (w *watcher) filterList(set map[string]bool) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (w *watcher) matches(ident, kind string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.devices) > 0 && !w.devices[ident] {
		return false
	}
	return len(w.events) == 0 || w.events[kind]
}

func (w *watcher) reply(msg FeedMessage) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	w.enqueue(data)
}

// enqueue drops the frame when the watcher is closed or its queue is full.
func (w *watcher) enqueue(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.out <- data:
	default:
		w.dropped++
		if w.dropped == 1 {
			w.hub.logger.Warn("feed watcher falling behind, dropping events")
		}
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.out)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
