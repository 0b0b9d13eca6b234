package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/dunbridge/internal/bridges/dundee"
	"github.com/nerrad567/dunbridge/internal/connectivity"
)

// History limits for GET /devices/{ident}/history.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleListDevices returns every device known to the connectivity manager.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.conn.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by identifier.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "ident")

	dev, ok := s.conn.Device(ident)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceHistory returns recorded connection events, newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50, max 200)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "connection history is disabled")
		return
	}

	ident := chi.URLParam(r, "ident")
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.GetHistory(r.Context(), ident, limit)
	if err != nil {
		s.logger.Error("loading connection history", "device", ident, "error", err)
		writeInternalError(w, "failed to load connection history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":  ident,
		"history": entries,
		"count":   len(entries),
	})
}

// handleDeviceCommand applies enable, disable, connect or disconnect.
//
// Query parameters:
//   - network: restrict connect/disconnect to one network
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	ident := chi.URLParam(r, "ident")

	cmd, err := connectivity.ParseCommand(chi.URLParam(r, "command"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	network := r.URL.Query().Get("network")
	if err := s.conn.Apply(ident, cmd, network); err != nil {
		switch {
		case errors.Is(err, connectivity.ErrNotRegistered):
			writeNotFound(w, err.Error())
		default:
			s.logger.Warn("device command failed", "device", ident, "command", cmd, "error", err)
			writeError(w, http.StatusBadGateway, ErrCodeDriverError, err.Error())
		}
		return
	}

	s.logger.Info("device command applied", "device", ident, "command", cmd,
		"request_id", requestID(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device":  ident,
		"command": cmd,
		"status":  "accepted",
	})
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Timestamp     string              `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Runtime       RuntimeMetrics      `json:"runtime"`
	Feed          FeedStats           `json:"feed"`
	Connectivity  connectivity.Stats  `json:"connectivity"`
	Bridge        *dundee.BridgeStats `json:"bridge,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// FeedStats describes the websocket device feed.
type FeedStats struct {
	Watchers int `json:"watchers"`
}

// handleStats returns connectivity and bridge counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := StatsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / (1 << 20),
			NumGC:         mem.NumGC,
		},
		Feed:         FeedStats{Watchers: s.hub.WatcherCount()},
		Connectivity: s.conn.Stats(),
	}
	if s.bridge != nil {
		stats := s.bridge.Stats()
		resp.Bridge = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}
