package connectivity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyWriteTimeout bounds one history insert made from an observer.
	historyWriteTimeout = 5 * time.Second

	// timeLayout is how timestamps are stored and published.
	timeLayout = time.RFC3339
)

// HistoryEntry is one recorded connectivity change for a device.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	DeviceIdent    string    `json:"device_ident"`
	Path           string    `json:"path"`
	Event          EventKind `json:"event"`
	Address        string    `json:"address,omitempty"`
	Gateway        string    `json:"gateway,omitempty"`
	Nameservers    []string  `json:"nameservers,omitempty"`
	InterfaceIndex int       `json:"interface_index"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves connection history.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordEvent persists the change described by ev.
	RecordEvent(ctx context.Context, ev Event) error

	// GetHistory returns recent entries for the device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - ident: Device identifier
	//   - limit: Maximum entries to return (default 50, max 200)
	GetHistory(ctx context.Context, ident string, limit int) ([]HistoryEntry, error)
}

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
//
// It writes to the connection_history table created by the migrations.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a history repository on an open database.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordEvent inserts one history row.
func (r *SQLiteHistoryRepository) RecordEvent(ctx context.Context, ev Event) error {
	if ev.Device.Ident == "" {
		return fmt.Errorf("%w: device ident is required", ErrInvalidIdent)
	}

	created := ev.Time
	if created.IsZero() {
		created = time.Now()
	}

	var address, gateway, nameservers string
	index := -1
	if ev.Network != nil {
		address = ev.Network.Address.Local
		gateway = ev.Network.Address.Gateway
		nameservers = strings.Join(ev.Network.Nameservers, " ")
		index = ev.Network.Index
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_history
			(device_ident, path, event, address, gateway, nameservers, interface_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Device.Ident,
		ev.Device.Path,
		string(ev.Kind),
		address,
		gateway,
		nameservers,
		index,
		created.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting connection history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a device ordered newest first.
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, ident string, limit int) ([]HistoryEntry, error) {
	if ident == "" {
		return nil, fmt.Errorf("%w: device ident is required", ErrInvalidIdent)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_ident, path, event, address, gateway, nameservers, interface_index, created_at
		 FROM connection_history
		 WHERE device_ident = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		ident,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying connection history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var event, nameservers, createdAt string

		if err := rows.Scan(&entry.ID, &entry.DeviceIdent, &entry.Path, &event,
			&entry.Address, &entry.Gateway, &nameservers, &entry.InterfaceIndex, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning connection history: %w", err)
		}

		entry.Event = EventKind(event)
		entry.Nameservers = strings.Fields(nameservers)

		timestamp, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes entries older than olderThan and returns the count.
func (r *SQLiteHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM connection_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting connection history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

// HistoryRecorder is an Observer that persists registration and connection
// changes. Other event kinds are ignored.
type HistoryRecorder struct {
	repo HistoryRepository

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHistoryRecorder creates a recorder writing to repo.
func NewHistoryRecorder(repo HistoryRepository) *HistoryRecorder {
	return &HistoryRecorder{repo: repo}
}

// SetLogger sets the logger for write failures.
func (h *HistoryRecorder) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// OnEvent records ev if it is a registration or connection change.
func (h *HistoryRecorder) OnEvent(ev Event) {
	switch ev.Kind {
	case EventDeviceRegistered, EventDeviceUnregistered,
		EventNetworkConnected, EventNetworkDisconnected:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := h.repo.RecordEvent(ctx, ev); err != nil {
		h.loggerMu.RLock()
		logger := h.logger
		h.loggerMu.RUnlock()
		if logger != nil {
			logger.Error("recording connection history", "ident", ev.Device.Ident, "event", ev.Kind, "error", err)
		}
	}
}
