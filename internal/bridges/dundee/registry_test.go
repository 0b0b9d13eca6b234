package dundee

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestRegistry_InsertLookupRemove(t *testing.T) {
	var released []dbus.ObjectPath
	reg := NewRegistry(func(r *Record) { released = append(released, r.path) })

	if !reg.Insert(newRecord("/dev0")) {
		t.Fatal("Insert() = false for new path")
	}
	if reg.Insert(newRecord("/dev0")) {
		t.Error("Insert() = true for duplicate path")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}

	if _, ok := reg.Lookup("/dev0"); !ok {
		t.Error("Lookup(/dev0) not found")
	}
	if _, ok := reg.Lookup("/dev1"); ok {
		t.Error("Lookup(/dev1) found")
	}

	if !reg.Remove("/dev0") {
		t.Error("Remove(/dev0) = false")
	}
	if reg.Remove("/dev0") {
		t.Error("second Remove(/dev0) = true")
	}
	if len(released) != 1 {
		t.Errorf("released %d records, want 1", len(released))
	}
}

func TestRegistry_Close(t *testing.T) {
	released := 0
	reg := NewRegistry(func(*Record) { released++ })

	for _, p := range []dbus.ObjectPath{"/c", "/a", "/b"} {
		reg.Insert(newRecord(p))
	}

	paths := reg.Paths()
	if len(paths) != 3 || paths[0] != "/a" || paths[2] != "/c" {
		t.Errorf("Paths() = %v, want sorted [/a /b /c]", paths)
	}

	reg.Close()
	reg.Close()

	if released != 3 {
		t.Errorf("released = %d, want 3", released)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d after Close, want 0", reg.Len())
	}
	if !reg.Closed() {
		t.Error("Closed() = false")
	}
	if reg.Insert(newRecord("/d")) {
		t.Error("Insert() after Close = true")
	}
}

func TestRecordState_String(t *testing.T) {
	tests := []struct {
		state recordState
		want  string
	}{
		{stateCreated, "created"},
		{stateDeviceOK, "device-ok"},
		{stateNetworkOK, "network-ok"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
