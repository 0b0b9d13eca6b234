package connectivity

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupHistoryTestDB creates an in-memory SQLite database with the connection_history table.
func setupHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE connection_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_ident TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			gateway TEXT NOT NULL DEFAULT '',
			nameservers TEXT NOT NULL DEFAULT '',
			interface_index INTEGER NOT NULL DEFAULT -1,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_connection_history_device ON connection_history(device_ident, created_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func connectedEvent(ident string, at time.Time) Event {
	return Event{
		Kind:   EventNetworkConnected,
		Device: DeviceStatus{Ident: ident, Path: "/" + ident},
		Network: &NetworkStatus{
			Ident:       ident,
			Connected:   true,
			Index:       7,
			Address:     IPAddress{Local: "10.0.0.2", Gateway: "10.0.0.1"},
			Nameservers: []string{"8.8.8.8", "8.8.4.4"},
		},
		Time: at,
	}
}

func TestRecordEvent(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	at := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	if err := repo.RecordEvent(ctx, connectedEvent("dev0", at)); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "dev0", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	e := entries[0]
	if e.Event != EventNetworkConnected || e.Path != "/dev0" {
		t.Errorf("event/path = %s/%s", e.Event, e.Path)
	}
	if e.Address != "10.0.0.2" || e.Gateway != "10.0.0.1" || e.InterfaceIndex != 7 {
		t.Errorf("address/gateway/index = %s/%s/%d", e.Address, e.Gateway, e.InterfaceIndex)
	}
	if !slices.Equal(e.Nameservers, []string{"8.8.8.8", "8.8.4.4"}) {
		t.Errorf("Nameservers = %v", e.Nameservers)
	}
	if !e.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, at)
	}
}

func TestRecordEvent_WithoutNetwork(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	ev := Event{Kind: EventDeviceRegistered, Device: DeviceStatus{Ident: "dev0"}}
	if err := repo.RecordEvent(ctx, ev); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "dev0", 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 || entries[0].InterfaceIndex != -1 || len(entries[0].Nameservers) != 0 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRecordEvent_EmptyIdent(t *testing.T) {
	repo := NewSQLiteHistoryRepository(setupHistoryTestDB(t))

	err := repo.RecordEvent(context.Background(), Event{Kind: EventDeviceRegistered})
	if !errors.Is(err, ErrInvalidIdent) {
		t.Errorf("RecordEvent() error = %v, want ErrInvalidIdent", err)
	}
	if _, err := repo.GetHistory(context.Background(), "", 1); !errors.Is(err, ErrInvalidIdent) {
		t.Errorf("GetHistory() error = %v, want ErrInvalidIdent", err)
	}
}

func TestGetHistory_NewestFirstAndLimit(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := repo.RecordEvent(ctx, connectedEvent("dev0", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}
	_ = repo.RecordEvent(ctx, connectedEvent("dev1", base))

	entries, err := repo.GetHistory(ctx, "dev0", 3)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries length = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Errorf("entries not newest first at %d", i)
		}
	}
	if !entries[0].CreatedAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("newest entry = %v", entries[0].CreatedAt)
	}
}

func TestPruneHistory(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	_ = repo.RecordEvent(ctx, connectedEvent("dev0", now.Add(-48*time.Hour)))
	_ = repo.RecordEvent(ctx, connectedEvent("dev0", now))

	deleted, err := repo.PruneHistory(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.PruneHistory(ctx, 0); err == nil {
		t.Error("PruneHistory(0) expected error")
	}
}

func TestHistoryRecorder_FiltersEvents(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	rec := NewHistoryRecorder(repo)

	rec.OnEvent(Event{Kind: EventDeviceRegistered, Device: DeviceStatus{Ident: "dev0"}})
	rec.OnEvent(Event{Kind: EventNetworkUpdated, Device: DeviceStatus{Ident: "dev0"}})
	rec.OnEvent(Event{Kind: EventNetworkAdded, Device: DeviceStatus{Ident: "dev0"}})
	rec.OnEvent(connectedEvent("dev0", time.Now()))

	entries, err := repo.GetHistory(context.Background(), "dev0", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries length = %d, want 2", len(entries))
	}
}

func TestHistoryRecorder_LogsFailure(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteHistoryRepository(db)
	rec := NewHistoryRecorder(repo)
	logger := &captureLogger{}
	rec.SetLogger(logger)

	db.Close()
	rec.OnEvent(Event{Kind: EventDeviceRegistered, Device: DeviceStatus{Ident: "dev0"}})

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1", len(logger.errors))
	}
}
