package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cocoindex-io/cocoindex-go/internal/engineerr"
	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/memo"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// Evaluate runs plan's nodes against scope, reading inputs already
// written in scope or an ancestor, writing outputs into scope, and
// appending to collectors. It is side-effect-free with respect to export
// targets: every mutation lands in scope or memoStore, never in a target
// connection (spec §4.4's invariant (b)).
func Evaluate(ctx context.Context, plan *ExecutionPlan, scope *Scope, memoStore *memo.Store) error {
	for _, node := range plan.Root {
		if err := evalNode(ctx, node, scope, memoStore); err != nil {
			return err
		}
	}
	return nil
}

func evalNode(ctx context.Context, node Node, scope *Scope, memoStore *memo.Store) error {
	switch n := node.(type) {
	case *TransformNode:
		return evalTransform(ctx, n, scope, memoStore)
	case *ForEachNode:
		return evalForEach(ctx, n, scope, memoStore)
	case *CollectNode:
		return evalCollect(n, scope)
	default:
		return engineerr.New(engineerr.KindFatalInternal, "eval.evalNode", fmt.Errorf("unknown node type %T", node))
	}
}

func evalTransform(ctx context.Context, n *TransformNode, scope *Scope, memoStore *memo.Store) error {
	inputs := make([]value.Value, len(n.InputFields))
	for i, field := range n.InputFields {
		v, ok := scope.Read(field)
		if !ok {
			return engineerr.New(engineerr.KindFatalInternal, "eval.evalTransform", fmt.Errorf("input field %q not yet written", field))
		}
		inputs[i] = v
	}

	memoKeyFP := fingerprintInputs(inputs)

	if memoStore != nil {
		release := memoStore.Reserve(memoKeyFP)
		defer release()

		if n.CanReuse != nil {
			if entry, ok, err := memoStore.LookupWithStates(ctx, memoKeyFP, n.LogicFingerprint, n.CanReuse); err != nil {
				return engineerr.New(engineerr.KindHost, "eval.evalTransform", err)
			} else if ok {
				out, err := value.Unmarshal(entry.Output)
				if err != nil {
					return engineerr.New(engineerr.KindFatalInternal, "eval.evalTransform", err)
				}
				return scope.Write(n.OutputField, out)
			}
		} else if entry, ok, err := memoStore.Lookup(ctx, memoKeyFP, n.LogicFingerprint); err != nil {
			return engineerr.New(engineerr.KindHost, "eval.evalTransform", err)
		} else if ok {
			out, err := value.Unmarshal(entry.Output)
			if err != nil {
				return engineerr.New(engineerr.KindFatalInternal, "eval.evalTransform", err)
			}
			return scope.Write(n.OutputField, out)
		}
	}

	out, err := n.Func(ctx, inputs)
	if err != nil {
		return engineerr.New(engineerr.KindClient, "eval.evalTransform", err)
	}

	if memoStore != nil {
		encoded, encErr := value.Marshal(out)
		if encErr != nil {
			return engineerr.New(engineerr.KindFatalInternal, "eval.evalTransform", encErr)
		}
		entry := memo.Entry{MemoKeyFP: memoKeyFP, LogicFP: n.LogicFingerprint, Output: encoded}
		if n.TTL != nil {
			d := time.Duration(*n.TTL)
			entry.TTL = &d
		}
		if putErr := memoStore.Put(ctx, entry); putErr != nil {
			return engineerr.New(engineerr.KindHost, "eval.evalTransform", putErr)
		}
	}

	return scope.Write(n.OutputField, out)
}

func evalForEach(ctx context.Context, n *ForEachNode, scope *Scope, memoStore *memo.Store) error {
	tableVal, ok := scope.Read(n.TableField)
	if !ok {
		return engineerr.New(engineerr.KindFatalInternal, "eval.evalForEach", fmt.Errorf("table field %q not yet written", n.TableField))
	}

	rows, err := rowsOf(tableVal)
	if err != nil {
		return engineerr.New(engineerr.KindFatalInternal, "eval.evalForEach", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			child := scope.Child()
			for _, f := range row.Fields {
				if err := child.Write(f.Name, f.Value); err != nil {
					return err
				}
			}
			return Evaluate(gctx, n.Child, child, memoStore)
		})
	}
	return g.Wait()
}

func evalCollect(n *CollectNode, scope *Scope) error {
	target := scope.Ancestor(n.AncestorScope)
	if target == nil {
		return engineerr.New(engineerr.KindFatalInternal, "eval.evalCollect", fmt.Errorf("ancestor scope %d not found", n.AncestorScope))
	}

	fields := make([]value.Field, 0, len(n.CollectFields)+1)
	for _, name := range n.CollectFields {
		v, ok := scope.Read(name)
		if !ok {
			return engineerr.New(engineerr.KindFatalInternal, "eval.evalCollect", fmt.Errorf("collect field %q not yet written", name))
		}
		fields = append(fields, value.Field{Name: name, Value: v})
	}

	if n.AutoUUIDField != "" {
		acc := fingerprint.Zero
		for _, f := range fields {
			acc = fingerprint.Combine(acc, value.Fingerprint(f.Value))
		}
		id := uuid.NewSHA1(uuid.NameSpaceOID, acc.Bytes())
		fields = append(fields, value.Field{
			Name:  n.AutoUUIDField,
			Value: value.Scalar{Kind: value.KindUUID, UUID: id},
		})
	}

	target.Append(n.CollectorName, value.Struct{Fields: fields})
	return nil
}

func fingerprintInputs(inputs []value.Value) fingerprint.Fingerprint {
	f := fingerprint.New()
	f.BeginSeq(len(inputs))
	for _, in := range inputs {
		value.WriteTo(f, in)
	}
	f.End()
	return f.Sum()
}

func rowsOf(v value.Value) ([]value.Row, error) {
	switch t := v.(type) {
	case value.KTable:
		return t.Rows, nil
	case value.UTable:
		return t.Rows, nil
	case value.LTable:
		return t.Rows, nil
	default:
		return nil, fmt.Errorf("eval: ForEach field is not a table (%T)", v)
	}
}
