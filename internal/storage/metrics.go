package storage

// metrics.go contains SQLiteStore methods for command round-trip metrics.
// The bridge records one row per completed command; the summaries feed
// the status CLI and help spot a misbehaving device or slow method.

import (
	"fmt"
	"time"
)

// CommandMetrics defines the interface for command metrics collection.
type CommandMetrics interface {
	// RecordCommand stores one completed command round-trip.
	// ok is false for timeouts, disconnects, and remote errors.
	RecordCommand(deviceID, method string, duration time.Duration, ok bool) error

	// QueryCommandWindow returns totals for commands recorded within the
	// window ending now.
	QueryCommandWindow(window time.Duration) (total, failures int, err error)

	// Cleanup deletes metric rows older than the retention period.
	Cleanup(retention time.Duration) (deleted int64, err error)
}

// RecordCommand stores one completed command round-trip.
func (s *SQLiteStore) RecordCommand(deviceID, method string, duration time.Duration, ok bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO command_metrics (device_id, method, duration_ms, ok, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`

	okInt := 0
	if ok {
		okInt = 1
	}

	_, err := s.db.Exec(query, deviceID, method, duration.Milliseconds(), okInt,
		time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

// QueryCommandWindow returns totals for commands recorded within the
// window ending now.
func (s *SQLiteStore) QueryCommandWindow(window time.Duration) (total, failures int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window).Format(time.RFC3339Nano)

	const query = `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), 0)
		FROM command_metrics
		WHERE recorded_at >= ?
	`

	if err := s.db.QueryRow(query, cutoff).Scan(&total, &failures); err != nil {
		return 0, 0, fmt.Errorf("query command window: %w", err)
	}
	return total, failures, nil
}

// Cleanup deletes metric rows older than the retention period.
func (s *SQLiteStore) Cleanup(retention time.Duration) (deleted int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).Format(time.RFC3339Nano)

	result, err := s.db.Exec(`DELETE FROM command_metrics WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup metrics: %w", err)
	}

	return result.RowsAffected()
}
