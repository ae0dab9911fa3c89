// Package target implements the target reconciler (spec §4.7): it
// receives a row indexer's queued mutations grouped by target, batches
// them by connection, orders dependent targets (nodes before
// relationships on upsert, the reverse on delete), and calls each
// target's connector.TargetFactory.ApplyMutation.
package target

import (
	"context"
	"fmt"
	"sort"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/rowindexer"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
)

// Binding wires one flow's export target to its factory and declares
// where it sits in the dependency order: lower CreateOrder values are
// upserted first and deleted last (spec §4.7, §4.8 — "nodes before
// relationships", "relationship data is cleared before node data").
type Binding struct {
	Target        tracking.TargetID
	Factory       connector.TargetFactory
	ConnectionKey string
	CreateOrder   int
}

// Reconciler applies one flow update's queued mutations across its
// bound targets.
type Reconciler struct {
	bindings map[tracking.TargetID]Binding
}

// NewReconciler returns a Reconciler for the given target bindings.
func NewReconciler(bindings ...Binding) *Reconciler {
	m := make(map[tracking.TargetID]Binding, len(bindings))
	for _, b := range bindings {
		m[b.Target] = b
	}
	return &Reconciler{bindings: m}
}

// ApplyMutations implements rowindexer.TargetApplier. Mutations are
// grouped by target, ordered by CreateOrder (ascending for upserts,
// descending for deletes so a relationship's delete always precedes its
// endpoint nodes' delete within the same batch), and dispatched to each
// target's factory. A connection-sharing concern (spec's "groups by
// connection") is left to each factory's own client, since a shared Go
// *sql.DB/driver session is already pooled beneath the interface.
func (r *Reconciler) ApplyMutations(ctx context.Context, mutations []rowindexer.TargetMutation) ([]rowindexer.MutationResult, error) {
	byTarget := make(map[tracking.TargetID][]rowindexer.TargetMutation)
	for _, m := range mutations {
		byTarget[m.Target] = append(byTarget[m.Target], m)
	}

	targets := make([]tracking.TargetID, 0, len(byTarget))
	for t := range byTarget {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool {
		return r.order(targets[i]) < r.order(targets[j])
	})

	var results []rowindexer.MutationResult

	// Upserts first, in ascending create_order (dependent nodes before
	// relationships that reference them).
	for _, t := range targets {
		b, ok := r.bindings[t]
		if !ok {
			return nil, fmt.Errorf("target: no binding for target %q", t)
		}
		var upserts []connector.Mutation
		for _, m := range byTarget[t] {
			if !m.Delete {
				upserts = append(upserts, connector.Mutation{Key: m.Key, Value: m.Value})
			}
		}
		if len(upserts) == 0 {
			continue
		}
		outcomes, err := b.Factory.ApplyMutation(ctx, upserts)
		if err != nil {
			return nil, fmt.Errorf("target: %s: apply upserts: %w", t, err)
		}
		results = append(results, toResults(t, outcomes)...)
	}

	// Deletes in descending create_order (relationships before the nodes
	// they connect).
	for i := len(targets) - 1; i >= 0; i-- {
		t := targets[i]
		b := r.bindings[t]
		var deletes []connector.Mutation
		for _, m := range byTarget[t] {
			if m.Delete {
				deletes = append(deletes, connector.Mutation{Key: m.Key, Delete: true})
			}
		}
		if len(deletes) == 0 {
			continue
		}
		outcomes, err := b.Factory.ApplyMutation(ctx, deletes)
		if err != nil {
			return nil, fmt.Errorf("target: %s: apply deletes: %w", t, err)
		}
		results = append(results, toResults(t, outcomes)...)
	}

	return results, nil
}

func (r *Reconciler) order(t tracking.TargetID) int {
	if b, ok := r.bindings[t]; ok {
		return b.CreateOrder
	}
	return 0
}

func toResults(t tracking.TargetID, outcomes []connector.MutationOutcome) []rowindexer.MutationResult {
	out := make([]rowindexer.MutationResult, len(outcomes))
	for i, o := range outcomes {
		out[i] = rowindexer.MutationResult{Target: t, Key: o.Key, Err: o.Err}
	}
	return out
}

var _ rowindexer.TargetApplier = (*Reconciler)(nil)
