/*
Package storage implements the durable per-visitor state and the experiment event sink.

Visitor state is a flat key/value space partitioned by visitor (device) id. It holds
browsing signals, the stable session id and experiment assignments. Three backends
implement KV: SQLite (default, modernc.org/sqlite, CGo-free), BadgerDB and an in-memory
map. Impressions and conversions are written to the SQLite event tables.

All backends degrade gracefully: if the database cannot be opened the storage is
disabled and operations become no-ops that report absence rather than failing.
The one exception is SetIfAbsent, which returns ErrDisabled so callers never
mistake an unstored value for a persisted one.
*/
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// ErrDisabled is returned by SetIfAbsent when the backend failed to initialize.
// Callers that need the value to stick must treat it as unpersisted.
var ErrDisabled = errors.New("storage: backend disabled")

// KV is the durable per-visitor key/value substrate.
type KV interface {
	// Init opens the backend and runs migrations.
	Init() error

	// Get returns the value stored under key for the visitor, or ErrNotFound.
	Get(ctx context.Context, visitorID, key string) ([]byte, error)

	// Set stores value under key for the visitor (last write wins).
	Set(ctx context.Context, visitorID, key string, value []byte) error

	// SetIfAbsent stores value only if key is unset. It returns the value that is
	// stored after the call and whether this call created it. A disabled backend
	// returns ErrDisabled.
	SetIfAbsent(ctx context.Context, visitorID, key string, value []byte) ([]byte, bool, error)

	// Close releases the backend.
	Close() error
}

// EventSink receives experiment impressions and conversions.
type EventSink interface {
	// RecordImpression stores one assignment impression.
	RecordImpression(ctx context.Context, imp Impression) error

	// UpdateConversion marks the impression for (experiment, session, variant) as
	// converted. A later call overwrites the earlier value.
	UpdateConversion(ctx context.Context, conv Conversion) error

	// Tally aggregates impressions and conversions per variant.
	Tally(ctx context.Context, experimentID string) ([]VariantTally, error)
}

// Storage is a backend that provides both visitor state and the event sink.
type Storage interface {
	KV
	EventSink
}
