// Package connector defines the two contracts the engine's core consumes
// from the out-of-scope connector layer (spec §1, §6.1): SourceExecutor,
// read by the source indexer to list and fetch source rows, and
// TargetFactory, driven by the setup engine and target reconciler to
// manage a target's schema and mutations. Per-connector protocol details
// (Google Drive, Postgres, Notion, Neo4j, Kuzu, SurrealDB, FalkorDB) live
// outside this package; it only fixes the seam.
package connector

import (
	"context"
	"errors"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// ErrNotExist is GetValue's explicit representation of "this key does not
// exist", distinguished from a transport error so row processing can
// treat a deletion as data, not failure (spec §6.1, "NonExistence is an
// explicit value").
var ErrNotExist = errors.New("connector: key does not exist")

// ErrChangeStreamUnsupported is returned by ChangeStream when a connector
// offers no change feed; change streams are optional per spec §4.6.
var ErrChangeStreamUnsupported = errors.New("connector: change stream not supported")

// ListOptions configures SourceExecutor.List.
type ListOptions struct {
	// IncludeOrdinal asks the connector to report Ordinal per key; some
	// connectors can only do this at extra cost (e.g. a stat() call per
	// file) so it is opt-in.
	IncludeOrdinal bool
}

// ListedKey is one key surfaced by a listing, with whichever versioning
// signal the connector can provide (spec §6.1: "ordinal is µs-since-epoch
// or a connector-defined monotone"). Both Ordinal and ContentFP may be
// nil: spec §9's first Open Question covers that fallback.
type ListedKey struct {
	Key       value.KeyValue
	Ordinal   *int64
	ContentFP *fingerprint.Fingerprint
}

// GetValueResult is GetValue's result. Exists distinguishes a real zero
// value from ErrNotExist's "not there at all".
type GetValueResult struct {
	Value     value.Value
	Exists    bool
	Ordinal   *int64
	ContentFP *fingerprint.Fingerprint
}

// Change is one change-stream event: a key plus its newly observed
// version signal, in the same shape List reports.
type Change struct {
	Key       value.KeyValue
	Ordinal   *int64
	ContentFP *fingerprint.Fingerprint
	Deleted   bool
}

// BatchHandler is called once per batch a List call produces; returning
// an error stops the listing. Modeled as a callback rather than a
// channel so a connector can apply its own prefetch bound without the
// caller needing to drain a channel promptly (spec §4.6: "bounded
// prefetch; no full-materialization").
type BatchHandler func(ctx context.Context, batch []ListedKey) error

// SourceExecutor is what the source indexer consumes from a connector
// (spec §6.1).
type SourceExecutor interface {
	// List streams the full key listing in batches via onBatch.
	List(ctx context.Context, opts ListOptions, onBatch BatchHandler) error

	// GetValue fetches one key's current value. A missing key is
	// reported as (GetValueResult{Exists: false}, nil), not an error;
	// ErrNotExist is available for callers that prefer a sentinel error.
	GetValue(ctx context.Context, key value.KeyValue, opts ListOptions) (GetValueResult, error)

	// ChangeStream returns a channel of Changes, closed when ctx is
	// canceled or the connector's feed ends. Returns
	// ErrChangeStreamUnsupported if the connector offers no feed.
	ChangeStream(ctx context.Context) (<-chan Change, error)
}

// Key addresses one configured resource a TargetFactory manages setup
// state for (spec §3.5, §6.1): the committed tracking table, an optional
// source-state table, or one export target.
type Key struct {
	FactoryName string
	ResourceKey string
}

// SetupChange classifies how a resource's desired state relates to its
// committed state (spec §4.8).
type SetupChange int

const (
	SetupNoChange SetupChange = iota
	SetupCreate
	SetupUpdate
	SetupDelete
	SetupInvalid
)

func (c SetupChange) String() string {
	switch c {
	case SetupNoChange:
		return "no_change"
	case SetupCreate:
		return "create"
	case SetupUpdate:
		return "update"
	case SetupDelete:
		return "delete"
	case SetupInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Compatibility is a factory's declared verdict on whether an existing
// resource's state can absorb a desired-state change in place (spec
// §4.8).
type Compatibility int

const (
	Compatible Compatibility = iota
	PartialCompatible
	NotCompatible
)

// TargetFactory is what the setup engine and reconciler consume from a
// target connector (spec §6.1).
type TargetFactory interface {
	Name() string

	// CheckSetupStatus compares desired against existing (nil means no
	// committed state) and classifies the delta.
	CheckSetupStatus(ctx context.Context, key Key, desired, existing []byte) (SetupChange, error)

	// CheckStateCompatibility reports whether existing can be altered in
	// place to reach desired without a full rebuild.
	CheckStateCompatibility(ctx context.Context, desired, existing []byte) (Compatibility, error)

	// ApplySetupChanges physically applies the given resources' changes
	// (create/alter/drop), called between setup.Stage and setup.Commit.
	ApplySetupChanges(ctx context.Context, changes []ResourceChange) error

	// ApplyMutation issues a batch of upserts/deletes; must be
	// idempotent with respect to primary key (spec §4.7).
	ApplyMutation(ctx context.Context, mutations []Mutation) ([]MutationOutcome, error)
}

// ResourceChange is one resource's computed delta, passed to
// ApplySetupChanges.
type ResourceChange struct {
	Key           Key
	Change        SetupChange
	Desired       []byte
	Existing      []byte
	Compatibility Compatibility
}

// Mutation is one queued upsert or delete for a target.
type Mutation struct {
	Key    value.KeyValue
	Delete bool
	Value  value.Struct
}

// MutationOutcome reports one mutation's result.
type MutationOutcome struct {
	Key value.KeyValue
	Err error
}

// QueryTarget is the optional read-side capability a vector-backed (or
// otherwise similarity-searchable) target may expose; never called
// during indexing (spec §4.7).
type QueryTarget interface {
	QueryTopK(ctx context.Context, namespace string, query []float32, topK int, metric string) ([]QueryMatch, error)
}

// QueryMatch is one similarity-search result.
type QueryMatch struct {
	Key   value.KeyValue
	Score float64
}
