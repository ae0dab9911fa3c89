// Package factorybase holds the per-row mutation-batching helper shared
// by every concrete target factory, grounded on
// _examples/original_source/src/ops/factory_bases.rs's
// StorageFactoryBase::apply_mutation: the base handles collecting
// per-action outcomes and isolating one mutation's panic/error from the
// rest of the batch, so each factory (pgtarget, neo4jtarget,
// vectortarget) only implements the single-row SQL/Cypher/HTTP call.
package factorybase

import (
	"context"
	"fmt"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
)

// ApplyOne issues one mutation against a concrete target connection.
type ApplyOne func(ctx context.Context, m connector.Mutation) error

// ApplyBatched runs apply over every mutation in the batch, capturing
// each mutation's own error independently (spec §4.7: "returns per-action
// outcomes; a partial failure is retried at the action level") rather
// than aborting the whole batch on the first failure.
func ApplyBatched(ctx context.Context, mutations []connector.Mutation, apply ApplyOne) []connector.MutationOutcome {
	out := make([]connector.MutationOutcome, len(mutations))
	for i, m := range mutations {
		out[i] = connector.MutationOutcome{Key: m.Key, Err: runOne(ctx, m, apply)}
	}
	return out
}

// runOne isolates a panicking ApplyOne implementation (a third-party
// client library panicking on a malformed payload, say) into an error
// result rather than taking the whole batch down.
func runOne(ctx context.Context, m connector.Mutation, apply ApplyOne) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factorybase: mutation panicked: %v", r)
		}
	}()
	return apply(ctx, m)
}
