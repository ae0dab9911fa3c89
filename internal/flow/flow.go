// Package flow holds the flow definition types and the logic-fingerprint
// computation of spec §6.3: a canonical description of the compiled
// eval.ExecutionPlan — operation kinds, field names, and each transform's
// own logic fingerprint — hashed with the same Fingerprinter §4.1 uses,
// so a function version bump invalidates exactly the memo/tracking
// entries the spec requires.
package flow

import (
	"sort"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/eval"
	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
)

// node-kind tags fed to Fingerprinter.Scalar, local to this package's
// plan walk (distinct namespace from value.ScalarKind).
const (
	tagTransformNode byte = iota
	tagForEachNode
	tagCollectNode
	tagFieldName
)

// SourceBinding wires one configured data source to the executor and
// plan that process its rows.
type SourceBinding struct {
	SourceID string
	Executor connector.SourceExecutor

	// RootField names the scope field the source's raw fetched value is
	// written to before evaluation; "content" when empty. A source
	// returning a pre-structured value.Struct is still written whole
	// under this one field — downstream transforms project out whatever
	// sub-fields they need, rather than the engine guessing a field-by-
	// field flattening.
	RootField string
}

func (s SourceBinding) rootField() string {
	if s.RootField == "" {
		return "content"
	}
	return s.RootField
}

// TargetBinding wires one declared export target to its factory,
// mirroring internal/target.Binding's shape but scoped to flow
// definition rather than reconciliation.
type TargetBinding struct {
	Target        tracking.TargetID
	ResourceType  string
	Factory       connector.TargetFactory
	ConnectionKey string
	CreateOrder   int

	// Collector names the per-scope collector (spec's "named per-scope
	// append-only list of structs, consumed by exports") whose
	// accumulated rows this target exports.
	Collector string

	// KeyFields names which of the collector's struct fields form this
	// target's primary key, in key order: one name yields a scalar
	// value.KeyValue, more than one a composite (value.NewKeyStruct).
	KeyFields []string
}

// Flow is one configured pipeline: a compiled plan, its sources, and its
// declared export targets.
type Flow struct {
	Name    string
	Plan    *eval.ExecutionPlan
	Sources []SourceBinding
	Targets []TargetBinding
}

// LogicFingerprint computes the flow's process_logic_fingerprint (spec
// §6.3): walking the compiled plan's operation kinds, field names, and
// each transform's own LogicFingerprint in declaration order (never
// sorted — node order is semantically significant for a DAG, unlike a
// struct's field set).
func (f *Flow) LogicFingerprint() fingerprint.Fingerprint {
	fp := fingerprint.New()
	walkPlan(fp, f.Plan)
	return fp.Sum()
}

func walkPlan(fp *fingerprint.Fingerprinter, plan *eval.ExecutionPlan) {
	fields := append([]string(nil), plan.Fields...)
	sort.Strings(fields)
	fp.BeginSeq(len(fields))
	for _, name := range fields {
		fp.Scalar(tagFieldName, []byte(name))
	}
	fp.End()

	collectors := append([]string(nil), plan.Collectors...)
	sort.Strings(collectors)
	fp.BeginSeq(len(collectors))
	for _, name := range collectors {
		fp.Scalar(tagFieldName, []byte(name))
	}
	fp.End()

	fp.BeginSeq(len(plan.Root))
	for _, node := range plan.Root {
		walkNode(fp, node)
	}
	fp.End()
}

func walkNode(fp *fingerprint.Fingerprinter, node eval.Node) {
	switch n := node.(type) {
	case *eval.TransformNode:
		fp.Scalar(tagTransformNode, nil)
		fp.BeginSeq(len(n.InputFields))
		for _, name := range n.InputFields {
			fp.Scalar(tagFieldName, []byte(name))
		}
		fp.End()
		fp.Field(n.OutputField)
		fp.Scalar(tagFieldName, n.LogicFingerprint.Bytes())

	case *eval.ForEachNode:
		fp.Scalar(tagForEachNode, nil)
		fp.Field(n.TableField)
		walkPlan(fp, n.Child)

	case *eval.CollectNode:
		fp.Scalar(tagCollectNode, nil)
		fp.Field(n.CollectorName)
		fp.BeginSeq(len(n.CollectFields))
		for _, name := range n.CollectFields {
			fp.Scalar(tagFieldName, []byte(name))
		}
		fp.End()
		fp.Scalar(tagFieldName, []byte(n.AutoUUIDField))
	}
}
