// Package eval implements the engine's evaluator: given a compiled
// ExecutionPlan, a source value, and a memoization handle, it fills a
// Scope tree with the resulting output values, side-effect free with
// respect to export targets (spec §4.4).
package eval

import (
	"context"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/memo"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// ExecutionPlan is a compiled DAG of Nodes, rooted at Root. Each scope
// (the root and every ForEach child scope) owns its own set of declared
// output fields and named collectors.
type ExecutionPlan struct {
	Root []Node
	// Fields lists the output fields this scope must end up writing
	// exactly once (spec's single-definition invariant).
	Fields []string
	// Collectors lists the named collectors this scope owns.
	Collectors []string
}

// Node is one step of a scope's DAG: a Transform, ForEach, or Collect.
type Node interface {
	isNode()
}

// TransformFunc is a deterministic pure function over typed inputs. The
// evaluator computes its input fingerprint, reserves memoization, and
// either serves a cached Output or runs Func and stores the result.
type TransformFunc func(ctx context.Context, inputs []value.Value) (value.Value, error)

// TransformNode writes OutputField in the current scope from Func applied
// to the current scope's InputFields, memoized by (memo key fingerprint of
// the inputs, LogicFingerprint).
type TransformNode struct {
	InputFields     []string
	OutputField     string
	Func            TransformFunc
	LogicFingerprint fingerprint.Fingerprint
	// TTL optionally bounds how long a memoization entry for this
	// transform remains valid; nil means no expiry.
	TTL *int64 // nanoseconds; pointer distinguishes "unset" from zero
	// CanReuse implements the state-function optimization (spec §4.3);
	// nil disables it for this transform.
	CanReuse memo.CanReuseFunc
}

func (*TransformNode) isNode() {}

// ForEachNode iterates the rows of TableField (a value.KTable/UTable/
// LTable in the current scope) and runs Child in a fresh child scope per
// row; child scopes run concurrently with no ordering guarantee.
type ForEachNode struct {
	TableField string
	Child      *ExecutionPlan
}

func (*ForEachNode) isNode() {}

// CollectNode appends a struct, built from CollectFields of the current
// scope, to CollectorName in AncestorScope levels up from the current
// scope (0 = current scope). If AutoUUIDField is non-empty, that field is
// populated with a stable UUID derived from fingerprinting the remaining
// fields.
type CollectNode struct {
	CollectorName  string
	CollectFields  []string
	AncestorScope  int
	AutoUUIDField  string
}

func (*CollectNode) isNode() {}
