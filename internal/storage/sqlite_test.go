package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// newTestStore creates a store backed by a file in a temp dir. A file
// (rather than :memory:) exercises the same open path as production.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bridge.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testDevice(id string) *Device {
	now := time.Now().Truncate(time.Millisecond)
	return &Device{
		ID:           id,
		Platform:     "android",
		AppName:      "DemoApp",
		AppVersion:   "2.0.1",
		Capabilities: []string{"state", "network"},
		FirstSeen:    now,
		LastSeen:     now,
	}
}

func TestSaveAndGetDevice(t *testing.T) {
	store := newTestStore(t)

	want := testDevice("device-1")
	if err := store.SaveDevice(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.GetDevice("device-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected device, got nil")
	}
	if got.Platform != "android" || got.AppName != "DemoApp" || got.AppVersion != "2.0.1" {
		t.Errorf("unexpected device fields: %+v", got)
	}
	if len(got.Capabilities) != 2 || got.Capabilities[0] != "state" {
		t.Errorf("unexpected capabilities: %v", got.Capabilities)
	}
	if !got.FirstSeen.Equal(want.FirstSeen) {
		t.Errorf("first_seen mismatch: want %v, got %v", want.FirstSeen, got.FirstSeen)
	}
}

func TestGetDeviceMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetDevice("never-seen")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown device, got %+v", got)
	}
}

func TestSaveDevicePreservesFirstSeen(t *testing.T) {
	store := newTestStore(t)

	original := testDevice("device-1")
	if err := store.SaveDevice(original); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// A reconnect saves again with a later first_seen; the stored row
	// must keep the original first_seen and take the new last_seen.
	reconnect := testDevice("device-1")
	reconnect.AppVersion = "2.0.2"
	reconnect.FirstSeen = original.FirstSeen.Add(time.Hour)
	reconnect.LastSeen = original.LastSeen.Add(time.Hour)
	if err := store.SaveDevice(reconnect); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := store.GetDevice("device-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.FirstSeen.Equal(original.FirstSeen) {
		t.Errorf("first_seen was overwritten: want %v, got %v", original.FirstSeen, got.FirstSeen)
	}
	if !got.LastSeen.Equal(reconnect.LastSeen) {
		t.Errorf("last_seen not updated: want %v, got %v", reconnect.LastSeen, got.LastSeen)
	}
	if got.AppVersion != "2.0.2" {
		t.Errorf("app_version not updated: got %q", got.AppVersion)
	}
}

func TestListDevicesOrderedByRecency(t *testing.T) {
	store := newTestStore(t)

	older := testDevice("older")
	older.LastSeen = time.Now().Add(-time.Hour)
	newer := testDevice("newer")

	if err := store.SaveDevice(older); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.SaveDevice(newer); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	devices, err := store.ListDevices()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].ID != "newer" || devices[1].ID != "older" {
		t.Errorf("expected recency order [newer older], got [%s %s]", devices[0].ID, devices[1].ID)
	}
}

func TestUpdateLastSeen(t *testing.T) {
	store := newTestStore(t)

	device := testDevice("device-1")
	if err := store.SaveDevice(device); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	later := device.LastSeen.Add(5 * time.Minute)
	if err := store.UpdateLastSeen("device-1", later); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := store.GetDevice("device-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.LastSeen.Equal(later) {
		t.Errorf("last_seen not updated: want %v, got %v", later, got.LastSeen)
	}
}

func TestUpdateLastSeenMissingDevice(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateLastSeen("never-seen", time.Now())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestDeleteDeviceIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveDevice(testDevice("device-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.DeleteDevice("device-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.DeleteDevice("device-1"); err != nil {
		t.Fatalf("second delete should be idempotent: %v", err)
	}

	got, err := store.GetDevice("device-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected device to be deleted")
	}
}

func TestRecordCommandAndQueryWindow(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordCommand("device-1", "ping", 12*time.Millisecond, true); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordCommand("device-1", "get_app_state", 40*time.Millisecond, true); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordCommand("device-1", "slow_thing", 10*time.Second, false); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	total, failures, err := store.QueryCommandWindow(time.Hour)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 commands in window, got %d", total)
	}
	if failures != 1 {
		t.Errorf("expected 1 failure in window, got %d", failures)
	}
}

func TestMetricsCleanup(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordCommand("device-1", "ping", time.Millisecond, true); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	// Retention in the future relative to the rows: everything goes.
	deleted, err := store.Cleanup(-time.Minute)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted row, got %d", deleted)
	}

	total, _, err := store.QueryCommandWindow(time.Hour)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if total != 0 {
		t.Errorf("expected empty metrics after cleanup, got %d", total)
	}
}
