package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cocoindex-io/cocoindex-go/internal/eval"
	"github.com/cocoindex-io/cocoindex-go/internal/flow"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

func TestEvaluateFuncGroupsExportsByTarget(t *testing.T) {
	// The plan's only input is the source's raw value, written whole
	// under the source binding's RootField; collecting that same field
	// name back out exercises the evaluate -> collect -> export path
	// without a projecting transform in between.
	plan := &eval.ExecutionPlan{
		Collectors: []string{"rows"},
		Root: []eval.Node{
			&eval.CollectNode{CollectorName: "rows", CollectFields: []string{"id"}},
		},
	}

	f := &flow.Flow{
		Name: "docs",
		Plan: plan,
		Targets: []flow.TargetBinding{
			{Target: tracking.TargetID("chunks_table"), Collector: "rows", KeyFields: []string{"id"}},
		},
	}

	src := flow.SourceBinding{SourceID: "docs", RootField: "id"}
	evalFn := f.EvaluateFunc(src)

	sourceValue := value.Scalar{Kind: value.KindStr, Str: "doc-1"}
	exports, err := evalFn(context.Background(), sourceValue, nil)
	require.NoError(t, err)
	require.Len(t, exports["chunks_table"], 1)

	row := exports["chunks_table"][0]
	got, ok := row.Value.Get("id")
	require.True(t, ok)
	require.Equal(t, "doc-1", got.(value.Scalar).Str)

	wantKey, err := value.NewKeyScalar(sourceValue)
	require.NoError(t, err)
	require.True(t, row.Key.Equal(wantKey))
}
