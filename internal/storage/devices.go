package storage

// devices.go contains SQLiteStore methods for device history records.
// A row is written when a device completes handshake and its last_seen
// column is refreshed while the device stays connected.

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// Device is one device connection history record.
type Device struct {
	ID           string
	Platform     string
	AppName      string
	AppVersion   string
	Capabilities []string
	FirstSeen    time.Time
	LastSeen     time.Time
}

// DeviceHistory defines the interface for persisting device records.
// Implemented by SQLiteStore. Implementations must be safe for
// concurrent access.
type DeviceHistory interface {
	// SaveDevice persists a device record. An existing record with the
	// same ID is updated in place, preserving its first_seen timestamp.
	SaveDevice(device *Device) error

	// GetDevice retrieves a device record by ID.
	// Returns nil, nil if the device has never been seen.
	GetDevice(id string) (*Device, error)

	// ListDevices returns all device records, most recently seen first.
	ListDevices() ([]*Device, error)

	// UpdateLastSeen refreshes the last_seen timestamp for a device.
	// Returns ErrDeviceNotFound if the device has no record.
	UpdateLastSeen(id string, t time.Time) error

	// DeleteDevice removes a device record. Idempotent.
	DeleteDevice(id string) error
}

// SaveDevice persists a device record to the database.
func (s *SQLiteStore) SaveDevice(device *Device) error {
	if device == nil {
		return errors.New("device cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving device %s (%s %s)", device.ID, device.AppName, device.Platform)

	caps, err := json.Marshal(device.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	// ON CONFLICT keeps first_seen from the original row so reconnects
	// don't erase when the device was first paired with this bridge.
	const query = `
		INSERT INTO devices
			(id, platform, app_name, app_version, capabilities, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			platform = excluded.platform,
			app_name = excluded.app_name,
			app_version = excluded.app_version,
			capabilities = excluded.capabilities,
			last_seen = excluded.last_seen
	`

	_, err = s.db.Exec(query,
		device.ID,
		device.Platform,
		device.AppName,
		device.AppVersion,
		string(caps),
		device.FirstSeen.Format(time.RFC3339Nano),
		device.LastSeen.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save device: %w", err)
	}

	return nil
}

// GetDevice retrieves a device record by ID.
// Returns nil, nil if the device has never been seen.
func (s *SQLiteStore) GetDevice(id string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, platform, app_name, app_version, capabilities, first_seen, last_seen
		FROM devices
		WHERE id = ?
	`

	device, err := scanDevice(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	return device, nil
}

// ListDevices returns all device records, most recently seen first.
func (s *SQLiteStore) ListDevices() ([]*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, platform, app_name, app_version, capabilities, first_seen, last_seen
		FROM devices
		ORDER BY last_seen DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return devices, nil
}

// UpdateLastSeen refreshes the last_seen timestamp for a device.
// Returns ErrDeviceNotFound if the device has no record.
func (s *SQLiteStore) UpdateLastSeen(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE devices SET last_seen = ? WHERE id = ?`

	result, err := s.db.Exec(query, t.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// DeleteDevice removes a device record. Returns nil if the record does
// not exist (idempotent).
func (s *SQLiteStore) DeleteDevice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM devices WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanDevice.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice reads one device row into a Device struct.
func scanDevice(row rowScanner) (*Device, error) {
	var (
		device    Device
		caps      string
		firstSeen string
		lastSeen  string
	)

	if err := row.Scan(&device.ID, &device.Platform, &device.AppName,
		&device.AppVersion, &caps, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(caps), &device.Capabilities); err != nil {
		return nil, fmt.Errorf("parse capabilities: %w", err)
	}

	var err error
	if device.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen: %w", err)
	}
	if device.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}

	return &device, nil
}
