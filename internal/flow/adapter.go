package flow

import (
	"context"
	"fmt"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/eval"
	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/memo"
	"github.com/cocoindex-io/cocoindex-go/internal/rowindexer"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// SourceFetcher adapts a connector.SourceExecutor into a
// rowindexer.SourceFetcher, the seam rowindexer needs and knows nothing
// about connector.GetValueResult's shape.
func SourceFetcher(src SourceBinding) rowindexer.SourceFetcher {
	return sourceFetcher{src}
}

type sourceFetcher struct{ src SourceBinding }

func (f sourceFetcher) FetchValue(ctx context.Context, key value.KeyValue) (value.Value, fingerprint.Fingerprint, error) {
	result, err := f.src.Executor.GetValue(ctx, key, connector.ListOptions{})
	if err != nil {
		return nil, fingerprint.Fingerprint{}, err
	}
	if !result.Exists {
		return nil, fingerprint.Fingerprint{}, connector.ErrNotExist
	}
	if result.ContentFP != nil {
		return result.Value, *result.ContentFP, nil
	}
	return result.Value, value.Fingerprint(result.Value), nil
}

var _ rowindexer.SourceFetcher = sourceFetcher{}

// EvaluateFunc returns the rowindexer.EvaluateFunc that runs f's plan
// for one fetched source row and groups its export-target rows by
// target, the seam between rowindexer and the eval/flow packages
// rowindexer.EvaluateFunc's own doc comment describes.
func (f *Flow) EvaluateFunc(src SourceBinding) rowindexer.EvaluateFunc {
	return func(ctx context.Context, sourceValue value.Value, memoStore *memo.Store) (rowindexer.TargetExports, error) {
		scope := eval.NewRootScope()
		if err := scope.Write(src.rootField(), sourceValue); err != nil {
			return nil, fmt.Errorf("flow: evaluate: %w", err)
		}
		if err := eval.Evaluate(ctx, f.Plan, scope, memoStore); err != nil {
			return nil, err
		}

		exports := make(rowindexer.TargetExports, len(f.Targets))
		for _, target := range f.Targets {
			if target.Collector == "" {
				continue
			}
			rows := scope.Collected(target.Collector)
			out := make([]rowindexer.ExportRow, 0, len(rows))
			for _, row := range rows {
				key, err := exportKey(target, row)
				if err != nil {
					return nil, fmt.Errorf("flow: evaluate: target %s: %w", target.Target, err)
				}
				out = append(out, rowindexer.ExportRow{Key: key, Value: row})
			}
			exports[target.Target] = out
		}
		return exports, nil
	}
}

// exportKey builds a row's primary key from target.KeyFields, the
// collected struct fields named as that target's key in key order.
func exportKey(target TargetBinding, row value.Struct) (value.KeyValue, error) {
	if len(target.KeyFields) == 0 {
		return value.KeyValue{}, fmt.Errorf("no key fields configured for target %s", target.Target)
	}
	parts := make([]value.KeyValue, 0, len(target.KeyFields))
	for _, name := range target.KeyFields {
		v, ok := row.Get(name)
		if !ok {
			return value.KeyValue{}, fmt.Errorf("key field %q not present in collected row", name)
		}
		s, ok := v.(value.Scalar)
		if !ok {
			return value.KeyValue{}, fmt.Errorf("key field %q is not a scalar (%T)", name, v)
		}
		k, err := value.NewKeyScalar(s)
		if err != nil {
			return value.KeyValue{}, fmt.Errorf("key field %q: %w", name, err)
		}
		parts = append(parts, k)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return value.NewKeyStruct(parts...), nil
}
