// Package storage defines the persistence boundary of the pipeline.
//
// The pipeline only ever writes one enriched reading at a time and reads
// back the last N readings of a device. Backends live in subpackages:
//
//   - memory: per-device rings, for tests and single-node demos
//   - sqlite: an embedded SQLite file (modernc.org/sqlite, no cgo)
//   - dynamo: an AWS DynamoDB table keyed by device and timestamp
//
// All implementations must be safe for concurrent use.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/telemetry"
)

// Store persists enriched readings.
type Store interface {
	// Insert stores e and returns the id assigned to it. e.ID is ignored.
	Insert(ctx context.Context, e telemetry.EnrichedReading) (string, error)

	// Recent returns up to limit readings of deviceID, newest first.
	Recent(ctx context.Context, deviceID string, limit int) ([]telemetry.EnrichedReading, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Counter is implemented by stores that can report how many readings they
// hold per device.
type Counter interface {
	Count(ctx context.Context) (map[string]int, error)
}

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendDynamo = "dynamodb"
)

// Backends lists the accepted backend names.
func Backends() []string {
	return []string{BackendMemory, BackendSQLite, BackendDynamo}
}

// NewID returns a fresh reading id.
func NewID() string {
	return uuid.NewString()
}

// PersistError classifies a backend failure as transient, so the caller
// retries and, if that fails too, skips publishing.
func PersistError(err error, backend, method, action string) error {
	if err == nil {
		return nil
	}
	if errors.IsInvalid(err) {
		return errors.WrapInvalid(err, backend, method, action)
	}
	return errors.WrapTransient(err, backend, method, action)
}
