package eval

import (
	"context"
	"testing"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/memo"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

func strVal(s string) value.Value { return value.Scalar{Kind: value.KindStr, Str: s} }

func getField(s value.Struct, name string) value.Scalar {
	v, ok := s.Get(name)
	if !ok {
		panic("missing field " + name)
	}
	return v.(value.Scalar)
}

func upperFunc(_ context.Context, inputs []value.Value) (value.Value, error) {
	s := inputs[0].(value.Scalar).Str
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return value.Scalar{Kind: value.KindStr, Str: string(out)}, nil
}

func TestEvaluateTransformWritesOutput(t *testing.T) {
	scope := NewRootScope()
	if err := scope.Write("name", strVal("alice")); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	plan := &ExecutionPlan{
		Root: []Node{
			&TransformNode{
				InputFields:      []string{"name"},
				OutputField:      "upper",
				Func:             upperFunc,
				LogicFingerprint: fingerprint.Of(1, []byte("upper")),
			},
		},
	}

	store := memo.NewStore("src", nil, nil)
	if err := Evaluate(context.Background(), plan, scope, store); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	out, ok := scope.Read("upper")
	if !ok {
		t.Fatal("expected upper to be written")
	}
	if out.(value.Scalar).Str != "ALICE" {
		t.Fatalf("got %q", out.(value.Scalar).Str)
	}
}

func TestEvaluateTransformMemoizesSecondCall(t *testing.T) {
	calls := 0
	countingFunc := func(_ context.Context, inputs []value.Value) (value.Value, error) {
		calls++
		return upperFunc(context.Background(), inputs)
	}

	logicFP := fingerprint.Of(2, []byte("counting"))
	store := memo.NewStore("src", nil, nil)

	for i := 0; i < 2; i++ {
		scope := NewRootScope()
		if err := scope.Write("name", strVal("bob")); err != nil {
			t.Fatalf("seed write: %v", err)
		}
		plan := &ExecutionPlan{
			Root: []Node{
				&TransformNode{
					InputFields:      []string{"name"},
					OutputField:      "upper",
					Func:             countingFunc,
					LogicFingerprint: logicFP,
				},
			},
		}
		if err := Evaluate(context.Background(), plan, scope, store); err != nil {
			t.Fatalf("Evaluate iteration %d: %v", i, err)
		}
	}

	if calls != 1 {
		t.Fatalf("expected 1 underlying call due to memoization, got %d", calls)
	}
}

func TestEvaluateForEachFansOutPerRow(t *testing.T) {
	rows := []value.Row{
		{Value: value.Struct{Fields: []value.Field{{Name: "name", Value: strVal("x")}}}},
		{Value: value.Struct{Fields: []value.Field{{Name: "name", Value: strVal("y")}}}},
		{Value: value.Struct{Fields: []value.Field{{Name: "name", Value: strVal("z")}}}},
	}

	root := NewRootScope()
	if err := root.Write("items", value.KTable{Rows: rows}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	childPlan := &ExecutionPlan{
		Root: []Node{
			&TransformNode{
				InputFields:      []string{"name"},
				OutputField:      "upper",
				Func:             upperFunc,
				LogicFingerprint: fingerprint.Of(3, []byte("child")),
			},
			&CollectNode{
				CollectorName: "out",
				CollectFields: []string{"upper"},
				AncestorScope: 1,
			},
		},
	}

	plan := &ExecutionPlan{
		Root: []Node{
			&ForEachNode{TableField: "items", Child: childPlan},
		},
	}

	store := memo.NewStore("src", nil, nil)
	if err := Evaluate(context.Background(), plan, root, store); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	collected := root.Collected("out")
	if len(collected) != 3 {
		t.Fatalf("expected 3 collected rows, got %d", len(collected))
	}
	seen := map[string]bool{}
	for _, row := range collected {
		seen[getField(row, "upper").Str] = true
	}
	for _, want := range []string{"X", "Y", "Z"} {
		if !seen[want] {
			t.Fatalf("missing collected value %q in %v", want, collected)
		}
	}
}

func TestEvaluateCollectAutoUUIDIsStable(t *testing.T) {
	scope := NewRootScope()
	if err := scope.Write("name", strVal("same")); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	plan := &ExecutionPlan{
		Root: []Node{
			&CollectNode{
				CollectorName: "out",
				CollectFields: []string{"name"},
				AncestorScope: 0,
				AutoUUIDField: "id",
			},
		},
	}

	if err := evalCollect(plan.Root[0].(*CollectNode), scope); err != nil {
		t.Fatalf("evalCollect: %v", err)
	}

	scope2 := NewRootScope()
	if err := scope2.Write("name", strVal("same")); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	if err := evalCollect(plan.Root[0].(*CollectNode), scope2); err != nil {
		t.Fatalf("evalCollect: %v", err)
	}

	id1 := getField(scope.Collected("out")[0], "id").UUID
	id2 := getField(scope2.Collected("out")[0], "id").UUID
	if id1 != id2 {
		t.Fatalf("expected stable UUID for identical fields, got %v != %v", id1, id2)
	}
}

func TestEvaluateDoubleWriteIsFatal(t *testing.T) {
	scope := NewRootScope()
	if err := scope.Write("out", strVal("a")); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	plan := &ExecutionPlan{
		Root: []Node{
			&TransformNode{
				InputFields:      []string{"out"},
				OutputField:      "out",
				Func:             upperFunc,
				LogicFingerprint: fingerprint.Of(4, []byte("dup")),
			},
		},
	}
	store := memo.NewStore("src", nil, nil)
	err := Evaluate(context.Background(), plan, scope, store)
	if err == nil {
		t.Fatal("expected double-write error")
	}
}
