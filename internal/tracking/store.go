package tracking

import (
	"context"
	"encoding/json"

	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// WriteExpectation tells a backend what it must verify before applying a
// write, giving the row indexer its optimistic-concurrency guard (spec
// §4.5's "compare-and-swap on the tracking record").
type WriteExpectation int

const (
	// ExpectInsert requires no record currently exists for the key.
	ExpectInsert WriteExpectation = iota
	// ExpectUpdate requires the record currently stored matches the one
	// most recently read by this caller (backend-defined: a version
	// stamp, an updated_at comparison, or the full prior record,
	// whichever the backend already tracks).
	ExpectUpdate
)

// Store is the tracking store's sole persistence surface. By construction
// it never exposes a bare Put: every mutation is Precommit (stage) or
// Commit (finalize), matching the three/four-phase row-indexing protocol
// (spec §3.6, §4.5).
type Store interface {
	// GetTracking returns the current record, or ErrNotFound.
	GetTracking(ctx context.Context, sourceID string, key value.KeyValue) (*Record, error)

	// PrecommitTracking stages rec, verifying expect against the
	// backend's current state; returns ErrConflict on mismatch.
	PrecommitTracking(ctx context.Context, sourceID string, key value.KeyValue, expect WriteExpectation, rec *Record) error

	// CommitTracking finalizes rec as the new committed state,
	// verifying expect the same way PrecommitTracking does.
	CommitTracking(ctx context.Context, sourceID string, key value.KeyValue, expect WriteExpectation, rec *Record) error

	// DeleteTracking removes the record entirely (used after a commit
	// that produced no target output, per spec §3.4).
	DeleteTracking(ctx context.Context, sourceID string, key value.KeyValue, expect WriteExpectation) error

	// ScanTracking iterates every record for a source, used by the
	// source indexer's orphan-deletion sweep.
	ScanTracking(ctx context.Context, sourceID string) (RecordIterator, error)

	// GetSourceState/PutSourceState persist a per-flow, per-source
	// opaque blob (e.g. a connector's change-feed cursor) alongside the
	// tracking table, keyed by an arbitrary string key.
	GetSourceState(ctx context.Context, sourceID, key string) (json.RawMessage, error)
	PutSourceState(ctx context.Context, sourceID, key string, val json.RawMessage) error
}

// RecordIterator walks every (key, record) pair for one source. Next
// returns false once exhausted or on error; Err reports which.
type RecordIterator interface {
	Next(ctx context.Context) bool
	Key() value.KeyValue
	Record() *Record
	Err() error
	Close() error
}
