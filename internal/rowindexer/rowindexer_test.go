package rowindexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/memo"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking/memstore"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

const testTarget tracking.TargetID = "files"

func fileKey(name string) value.KeyValue {
	k, err := value.NewKeyScalar(value.Scalar{Kind: value.KindStr, Str: name})
	if err != nil {
		panic(err)
	}
	return k
}

func getField(s value.Struct, name string) value.Scalar {
	v, ok := s.Get(name)
	if !ok {
		panic("missing field " + name)
	}
	return v.(value.Scalar)
}

func fileValue(name, content string) value.Value {
	return value.Struct{Fields: []value.Field{
		{Name: "name", Value: value.Scalar{Kind: value.KindStr, Str: name}},
		{Name: "content", Value: value.Scalar{Kind: value.KindStr, Str: content}},
	}}
}

// fakeSource mimics a localfs-shaped connector: an in-memory map of
// file contents addressed by name. FetchValue returns the content's
// fingerprint, or a Null value for a name that is not there.
type fakeSource struct {
	mu    sync.Mutex
	files map[string]string
}

func newFakeSource() *fakeSource { return &fakeSource{files: map[string]string{}} }

func (s *fakeSource) Put(name, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = content
}

func (s *fakeSource) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, name)
}

func (s *fakeSource) FetchValue(_ context.Context, key value.KeyValue) (value.Value, fingerprint.Fingerprint, error) {
	name := key.Scalar().Str
	s.mu.Lock()
	content, ok := s.files[name]
	s.mu.Unlock()
	if !ok {
		return value.Null{}, fingerprint.Zero, nil
	}
	return fileValue(name, content), fingerprint.Of(1, []byte(content)), nil
}

// fakeTarget records the live set of upserted rows per key, and counts
// how many upserts/deletes it has been asked to apply.
type fakeTarget struct {
	mu      sync.Mutex
	rows    map[string]value.Struct
	upserts int
	deletes int
}

func newFakeTarget() *fakeTarget { return &fakeTarget{rows: map[string]value.Struct{}} }

func (f *fakeTarget) ApplyMutations(_ context.Context, mutations []TargetMutation) ([]MutationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]MutationResult, len(mutations))
	for i, m := range mutations {
		enc := string(m.Key.Encode())
		if m.Delete {
			delete(f.rows, enc)
			f.deletes++
		} else {
			f.rows[enc] = m.Value
			f.upserts++
		}
		results[i] = MutationResult{Target: m.Target, Key: m.Key}
	}
	return results, nil
}

func (f *fakeTarget) contents() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for _, row := range f.rows {
		out[getField(row, "name").Str] = getField(row, "content").Str
	}
	return out
}

// identityEvaluate treats the source value itself as the sole export
// row for testTarget, keyed by its "name" field — standing in for a
// compiled ExecutionPlan without pulling in the eval package.
func identityEvaluate(logicTag byte) EvaluateFunc {
	return func(_ context.Context, src value.Value, _ *memo.Store) (TargetExports, error) {
		if _, ok := src.(value.Null); ok {
			return TargetExports{}, nil
		}
		s := src.(value.Struct)
		key := fileKey(getField(s, "name").Str)
		_ = logicTag
		return TargetExports{testTarget: {{Key: key, Value: s}}}, nil
	}
}

func newIndexer(store tracking.Store, src *fakeSource, tgt *fakeTarget, eval EvaluateFunc) *Indexer {
	ix := NewIndexer("fs-source", store, src, eval, tgt, nil, RetryPolicy{MaxAttempts: 5})
	ix.Clock = func() time.Time { return time.Unix(0, 0) }
	return ix
}

var logicV1 = fingerprint.Of(9, []byte("logic-v1"))
var logicV2 = fingerprint.Of(9, []byte("logic-v2"))

func TestScenario1FreshRunTwoFiles(t *testing.T) {
	store := memstore.New()
	src := newFakeSource()
	src.Put("a.md", "hi")
	src.Put("b.md", "bye")
	tgt := newFakeTarget()
	ix := newIndexer(store, src, tgt, identityEvaluate(1))

	ctx := context.Background()
	for _, name := range []string{"a.md", "b.md"} {
		outcome, err := ix.Run(ctx, fileKey(name), SourceVersion{Ordinal: 1, Kind: KindCurrentLogic, LogicFP: logicV1})
		if err != nil {
			t.Fatalf("Run(%s): %v", name, err)
		}
		if outcome != OutcomeProcessed {
			t.Fatalf("Run(%s) = %v, want Processed", name, outcome)
		}
	}

	want := map[string]string{"a.md": "hi", "b.md": "bye"}
	if got := tgt.contents(); !mapsEqual(got, want) {
		t.Fatalf("target contents = %v, want %v", got, want)
	}

	// Re-run with identical version: should skip, not re-upsert.
	upsertsBefore := tgt.upserts
	for _, name := range []string{"a.md", "b.md"} {
		outcome, err := ix.Run(ctx, fileKey(name), SourceVersion{Ordinal: 1, Kind: KindCurrentLogic, LogicFP: logicV1})
		if err != nil {
			t.Fatalf("re-run(%s): %v", name, err)
		}
		if outcome != OutcomeSkipped {
			t.Fatalf("re-run(%s) = %v, want Skipped", name, outcome)
		}
	}
	if tgt.upserts != upsertsBefore {
		t.Fatalf("expected no new upserts on unchanged re-run, got %d new", tgt.upserts-upsertsBefore)
	}
}

func TestScenario2FileMutation(t *testing.T) {
	store := memstore.New()
	src := newFakeSource()
	src.Put("a.md", "hi")
	src.Put("b.md", "bye")
	tgt := newFakeTarget()
	ix := newIndexer(store, src, tgt, identityEvaluate(1))
	ctx := context.Background()

	for _, name := range []string{"a.md", "b.md"} {
		if _, err := ix.Run(ctx, fileKey(name), SourceVersion{Ordinal: 1, Kind: KindCurrentLogic, LogicFP: logicV1}); err != nil {
			t.Fatal(err)
		}
	}

	src.Put("a.md", "hello")
	outcome, err := ix.Run(ctx, fileKey("a.md"), SourceVersion{Ordinal: 2, Kind: KindCurrentLogic, LogicFP: logicV1})
	if err != nil {
		t.Fatalf("Run after mutation: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected Processed, got %v", outcome)
	}

	want := map[string]string{"a.md": "hello", "b.md": "bye"}
	if got := tgt.contents(); !mapsEqual(got, want) {
		t.Fatalf("target contents = %v, want %v", got, want)
	}
}

func TestScenario3FileDeletion(t *testing.T) {
	store := memstore.New()
	src := newFakeSource()
	src.Put("a.md", "hi")
	src.Put("b.md", "bye")
	tgt := newFakeTarget()
	ix := newIndexer(store, src, tgt, identityEvaluate(1))
	ctx := context.Background()

	for _, name := range []string{"a.md", "b.md"} {
		if _, err := ix.Run(ctx, fileKey(name), SourceVersion{Ordinal: 1, Kind: KindCurrentLogic, LogicFP: logicV1}); err != nil {
			t.Fatal(err)
		}
	}

	src.Delete("b.md")
	outcome, err := ix.Run(ctx, fileKey("b.md"), SourceVersion{Ordinal: 2, Kind: KindDeleted, LogicFP: logicV1})
	if err != nil {
		t.Fatalf("Run deletion: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected Processed, got %v", outcome)
	}

	want := map[string]string{"a.md": "hi"}
	if got := tgt.contents(); !mapsEqual(got, want) {
		t.Fatalf("target contents = %v, want %v", got, want)
	}

	if _, err := store.GetTracking(ctx, "fs-source", fileKey("b.md")); err != tracking.ErrNotFound {
		t.Fatalf("expected tracking record for b.md to be gone, got err=%v", err)
	}
}

func TestScenario4LogicChangeReprocessesEveryRow(t *testing.T) {
	store := memstore.New()
	src := newFakeSource()
	src.Put("a.md", "hi")
	tgt := newFakeTarget()
	ix := newIndexer(store, src, tgt, identityEvaluate(1))
	ctx := context.Background()

	if _, err := ix.Run(ctx, fileKey("a.md"), SourceVersion{Ordinal: 1, Kind: KindCurrentLogic, LogicFP: logicV1}); err != nil {
		t.Fatal(err)
	}

	// Same ordinal, but a new logic fingerprint makes the existing
	// record classify as DifferentLogic, which does not outrank the
	// target's CurrentLogic, so the row is reprocessed even though the
	// file content (and hence its exported value) is unchanged.
	outcome, err := ix.Run(ctx, fileKey("a.md"), SourceVersion{Ordinal: 1, Kind: KindCurrentLogic, LogicFP: logicV2})
	if err != nil {
		t.Fatalf("Run with logic bump: %v", err)
	}
	if outcome != OutcomeProcessed {
		t.Fatalf("expected reprocess on logic change, got %v", outcome)
	}

	rec, err := store.GetTracking(ctx, "fs-source", fileKey("a.md"))
	if err != nil {
		t.Fatalf("GetTracking after logic change: %v", err)
	}
	if rec.ProcessLogicFingerprint != logicV2 {
		t.Fatalf("expected ProcessLogicFingerprint to be updated to the new logic fingerprint")
	}
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
