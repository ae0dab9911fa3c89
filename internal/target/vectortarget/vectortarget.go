// Package vectortarget is a vector-store connector.TargetFactory wrapping
// the teacher's pinecone.VectorStore interface (grounded on
// internal/platform/pinecone/vector_store.go and
// internal/platform/qdrant/vector_store.go) almost verbatim, since it
// already matches spec §4.7's QueryTarget capability shape.
package vectortarget

import (
	"context"
	"fmt"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/platform/pinecone"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// Factory is a connector.TargetFactory over one vector-store namespace.
// VectorField names the struct field carrying the embedding (a
// value.Scalar of KindVector); every other field becomes upsert metadata.
type Factory struct {
	Store       pinecone.VectorStore
	Namespace   string
	VectorField string
}

func (f *Factory) Name() string { return "vector_store" }

// CheckSetupStatus/CheckStateCompatibility follow the same byte-equality
// convention as the other factories; the physical collection/dimension is
// already reconciled at construction time by the concrete store's own
// Config (qdrant.ResolveConfigFromEnv + ValidateConfig), not by this
// factory, since the vector store's schema is a single fixed dimension
// declared once per namespace rather than a per-flow table shape.
func (f *Factory) CheckSetupStatus(_ context.Context, _ connector.Key, desired, existing []byte) (connector.SetupChange, error) {
	if existing == nil {
		if desired == nil {
			return connector.SetupNoChange, nil
		}
		return connector.SetupCreate, nil
	}
	if desired == nil {
		return connector.SetupDelete, nil
	}
	if string(desired) == string(existing) {
		return connector.SetupNoChange, nil
	}
	return connector.SetupUpdate, nil
}

func (f *Factory) CheckStateCompatibility(_ context.Context, _, _ []byte) (connector.Compatibility, error) {
	return connector.Compatible, nil
}

// ApplySetupChanges is a no-op for every change, Delete included: the
// collection and its dimension are provisioned once by the store's own
// Config, not per-flow, and Delete does not clear the namespace's points.
func (f *Factory) ApplySetupChanges(ctx context.Context, changes []connector.ResourceChange) error {
	for _, c := range changes {
		if c.Change == connector.SetupDelete {
			// The store interface only deletes by explicit ID list; with
			// no tracked id set at setup time there is nothing to clear
			// here beyond what the row indexer's own delete mutations
			// already remove row by row during normal operation.
			_ = c
		}
	}
	return nil
}

// ApplyMutation batches every row's upsert/delete into the store's own
// batch Upsert/DeleteIDs calls, since pinecone.VectorStore's contract is
// already batch-shaped (unlike the per-row SQL/Cypher factories, which go
// through factorybase.ApplyBatched instead).
func (f *Factory) ApplyMutation(ctx context.Context, mutations []connector.Mutation) ([]connector.MutationOutcome, error) {
	var upserts []pinecone.Vector
	var upsertKeys []value.KeyValue
	var deleteIDs []string
	var deleteKeys []value.KeyValue

	for _, m := range mutations {
		id := idOf(m.Key)
		if m.Delete {
			deleteIDs = append(deleteIDs, id)
			deleteKeys = append(deleteKeys, m.Key)
			continue
		}
		vec, meta, err := f.toVector(id, m.Value)
		if err != nil {
			return nil, fmt.Errorf("vectortarget: %w", err)
		}
		_ = meta
		upserts = append(upserts, vec)
		upsertKeys = append(upsertKeys, m.Key)
	}

	var outcomes []connector.MutationOutcome
	if len(upserts) > 0 {
		err := f.Store.Upsert(ctx, f.Namespace, upserts)
		for _, k := range upsertKeys {
			outcomes = append(outcomes, connector.MutationOutcome{Key: k, Err: err})
		}
	}
	if len(deleteIDs) > 0 {
		err := f.Store.DeleteIDs(ctx, f.Namespace, deleteIDs)
		for _, k := range deleteKeys {
			outcomes = append(outcomes, connector.MutationOutcome{Key: k, Err: err})
		}
	}
	return outcomes, nil
}

// QueryTopK implements connector.QueryTarget, used only for read-side
// serving and never during indexing (spec §4.7).
func (f *Factory) QueryTopK(ctx context.Context, namespace string, query []float32, topK int, _ string) ([]connector.QueryMatch, error) {
	matches, err := f.Store.QueryMatches(ctx, namespace, query, topK, nil)
	if err != nil {
		return nil, err
	}
	out := make([]connector.QueryMatch, len(matches))
	for i, m := range matches {
		k, _ := value.NewKeyScalar(value.Scalar{Kind: value.KindStr, Str: m.ID})
		out[i] = connector.QueryMatch{Key: k, Score: m.Score}
	}
	return out, nil
}

func (f *Factory) toVector(id string, s value.Struct) (pinecone.Vector, map[string]any, error) {
	vecVal, ok := s.Get(f.VectorField)
	if !ok {
		return pinecone.Vector{}, nil, fmt.Errorf("struct has no field %q to use as the embedding", f.VectorField)
	}
	vecScalar, ok := vecVal.(value.Scalar)
	if !ok || vecScalar.Kind != value.KindVector {
		return pinecone.Vector{}, nil, fmt.Errorf("field %q is not a vector scalar", f.VectorField)
	}
	values := make([]float32, len(vecScalar.Vector))
	for i, elem := range vecScalar.Vector {
		values[i] = elem.Float32
	}

	meta := make(map[string]any, len(s.Fields))
	for _, field := range s.Fields {
		if field.Name == f.VectorField {
			continue
		}
		if sc, ok := field.Value.(value.Scalar); ok {
			meta[field.Name] = scalarMetaValue(sc)
		}
	}

	return pinecone.Vector{ID: id, Values: values, Metadata: meta}, meta, nil
}

func scalarMetaValue(s value.Scalar) any {
	switch s.Kind {
	case value.KindStr:
		return s.Str
	case value.KindBool:
		return s.Bool
	case value.KindInt64:
		return s.Int64
	case value.KindFloat64:
		return s.Float64
	case value.KindFloat32:
		return float64(s.Float32)
	default:
		return nil
	}
}

func idOf(k value.KeyValue) string {
	if k.IsStruct() {
		return string(k.CanonicalJSON())
	}
	s := k.Scalar()
	if s.Kind == value.KindStr {
		return s.Str
	}
	return string(k.CanonicalJSON())
}

var _ connector.TargetFactory = (*Factory)(nil)
var _ connector.QueryTarget = (*Factory)(nil)
