// Package rowindexer implements the per-row four-phase protocol
// (evaluate, precommit, apply, commit) that brings one source row's
// tracking record and target exports up to date with a given
// SourceVersion.
package rowindexer

import (
	"context"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/memo"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// Outcome reports what Run actually did, distinct from an error: a skip
// is not a failure.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ExportRow is one row an evaluation produced for a single export
// target: a primary key plus the struct to upsert under it.
type ExportRow struct {
	Key   value.KeyValue
	Value value.Struct
}

// TargetExports groups a row's evaluation output by target.
type TargetExports map[tracking.TargetID][]ExportRow

// SourceFetcher retrieves the current value of a source row, along with
// a content fingerprint used when the connector provides no reliable
// ordinal (ProcessedSourceFP). A missing row may be reported as
// connector.ErrNotExist, which the Indexer treats as a deletion.
type SourceFetcher interface {
	FetchValue(ctx context.Context, key value.KeyValue) (value.Value, fingerprint.Fingerprint, error)
}

// EvaluateFunc runs the compiled operation DAG for one source value and
// returns its exports grouped by target, recording memoized results in
// memoStore; precommit then encodes memoStore's entries into
// Record.MemoizationInfo. It is the seam between rowindexer and the
// eval/flow packages: rowindexer knows nothing about ExecutionPlan
// shapes, only the (exports, memo store) contract spec §4.4 promises.
type EvaluateFunc func(ctx context.Context, sourceValue value.Value, memoStore *memo.Store) (TargetExports, error)

// TargetMutation is one queued upsert or delete for a target, produced
// by the precommit diff.
type TargetMutation struct {
	Target tracking.TargetID
	Key    value.KeyValue
	Delete bool
	// Value is the row to upsert; zero value when Delete is true.
	Value value.Struct
}

// MutationResult reports one mutation's outcome; Err nil means success.
type MutationResult struct {
	Target tracking.TargetID
	Key    value.KeyValue
	Err    error
}

// TargetApplier issues the queued mutations to their targets.
// Implementations (internal/target.Reconciler) group by target and order
// by create_order internally; rowindexer only needs the aggregate outcome.
type TargetApplier interface {
	ApplyMutations(ctx context.Context, mutations []TargetMutation) ([]MutationResult, error)
}
