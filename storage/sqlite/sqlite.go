// Package sqlite stores enriched readings in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/storage"
	"github.com/c360/sensorstream/telemetry"
)

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	id          TEXT PRIMARY KEY,
	device_id   TEXT NOT NULL,
	temperature REAL NOT NULL,
	humidity    REAL NOT NULL,
	ts          INTEGER NOT NULL,
	is_anomaly  INTEGER NOT NULL DEFAULT 0,
	alerts      TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings(device_id, ts DESC);
`

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Counter = (*Store)(nil)
)

// Open opens or creates the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLiteStore", "Open", "open database")
	}

	// a single connection keeps ":memory:" databases alive and serializes
	// writers, which SQLite requires anyway
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.WrapFatal(err, "SQLiteStore", "Open", "enable WAL")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.WrapFatal(err, "SQLiteStore", "Open", "create schema")
	}

	return &Store{db: db}, nil
}

// Insert writes e under a new id.
func (s *Store) Insert(ctx context.Context, e telemetry.EnrichedReading) (string, error) {
	alerts := e.Alerts
	if alerts == nil {
		alerts = []telemetry.Alert{}
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return "", errors.WrapInvalid(err, "SQLiteStore", "Insert", "marshal alerts")
	}

	id := storage.NewID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO readings (id, device_id, temperature, humidity, ts, is_anomaly, alerts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, e.DeviceID, e.Temperature, e.Humidity, e.Timestamp.UnixMilli(), boolToInt(e.IsAnomaly), string(alertsJSON))
	if err != nil {
		return "", storage.PersistError(err, "SQLiteStore", "Insert", "insert reading")
	}

	return id, nil
}

// Recent returns up to limit readings of deviceID, newest first.
func (s *Store) Recent(ctx context.Context, deviceID string, limit int) ([]telemetry.EnrichedReading, error) {
	if limit <= 0 {
		return []telemetry.EnrichedReading{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, temperature, humidity, ts, is_anomaly, alerts
		FROM readings
		WHERE device_id = ?
		ORDER BY ts DESC, rowid DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, storage.PersistError(err, "SQLiteStore", "Recent", "query readings")
	}
	defer rows.Close()

	out, err := scanReadings(rows)
	if err != nil {
		return nil, storage.PersistError(err, "SQLiteStore", "Recent", "scan readings")
	}
	return out, nil
}

// Count returns the number of stored readings per device.
func (s *Store) Count(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_id, COUNT(*) FROM readings GROUP BY device_id`)
	if err != nil {
		return nil, storage.PersistError(err, "SQLiteStore", "Count", "query counts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var device string
		var n int
		if err := rows.Scan(&device, &n); err != nil {
			return nil, err
		}
		counts[device] = n
	}
	return counts, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func scanReadings(rows *sql.Rows) ([]telemetry.EnrichedReading, error) {
	out := []telemetry.EnrichedReading{}
	for rows.Next() {
		var (
			e          telemetry.EnrichedReading
			tsMillis   int64
			anomaly    int
			alertsJSON string
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Temperature, &e.Humidity, &tsMillis, &anomaly, &alertsJSON); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(tsMillis).UTC()
		e.IsAnomaly = anomaly != 0
		if err := json.Unmarshal([]byte(alertsJSON), &e.Alerts); err != nil {
			return nil, fmt.Errorf("reading %s alerts: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
