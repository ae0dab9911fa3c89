package sourceindexer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/rowindexer"
	"github.com/cocoindex-io/cocoindex-go/internal/sourceindexer"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking/memstore"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

func strKey(t *testing.T, s string) value.KeyValue {
	t.Helper()
	k, err := value.NewKeyScalar(value.Scalar{Kind: value.KindStr, Str: s})
	require.NoError(t, err)
	return k
}

// fakeSource lists a fixed set of keys once, with no GetValue/ChangeStream
// support — the source indexer only needs List for a full scan.
type fakeSource struct {
	keys []string
}

func (f *fakeSource) List(ctx context.Context, _ connector.ListOptions, onBatch connector.BatchHandler) error {
	batch := make([]connector.ListedKey, len(f.keys))
	for i, k := range f.keys {
		kv, _ := value.NewKeyScalar(value.Scalar{Kind: value.KindStr, Str: k})
		ordinal := int64(1)
		batch[i] = connector.ListedKey{Key: kv, Ordinal: &ordinal}
	}
	return onBatch(ctx, batch)
}

func (f *fakeSource) GetValue(context.Context, value.KeyValue, connector.ListOptions) (connector.GetValueResult, error) {
	return connector.GetValueResult{}, connector.ErrNotExist
}

func (f *fakeSource) ChangeStream(context.Context) (<-chan connector.Change, error) {
	return nil, connector.ErrChangeStreamUnsupported
}

var _ connector.SourceExecutor = (*fakeSource)(nil)

// fakeRowIndexer records every key it was asked to process and reports a
// caller-controlled outcome per key, standing in for the full
// evaluate/precommit/apply/commit pipeline so this package's tests can
// focus on fan-out, stats, and orphan-sweep behavior.
type fakeRowIndexer struct {
	mu    sync.Mutex
	calls []call
}

type call struct {
	key    value.KeyValue
	target rowindexer.SourceVersion
}

func (f *fakeRowIndexer) Run(_ context.Context, key value.KeyValue, target rowindexer.SourceVersion) (rowindexer.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{key: key, target: target})
	f.mu.Unlock()
	return rowindexer.OutcomeProcessed, nil
}

func TestRunProcessesEveryListedKey(t *testing.T) {
	source := &fakeSource{keys: []string{"a.md", "b.md"}}
	store := memstore.New()
	rowIdx := &fakeRowIndexer{}

	ix := sourceindexer.NewIndexer("src1", source, store, rowIdx, [16]byte{1})
	require.NoError(t, ix.Run(context.Background()))

	require.Len(t, rowIdx.calls, 2)
	snap := ix.Stats.Snapshot()
	require.Equal(t, int64(2), snap.Modified)
	require.Equal(t, int64(0), snap.Errored)
}

func TestRunSweepsOrphans(t *testing.T) {
	store := memstore.New()
	// Seed a tracking record for a key the next listing will not see.
	rec := &tracking.Record{ProcessOrdinal: 1, MaxProcessOrdinal: 1}
	require.NoError(t, store.CommitTracking(context.Background(), "src1", strKey(t, "gone.md"), tracking.ExpectInsert, rec))

	source := &fakeSource{keys: []string{"a.md"}}
	rowIdx := &fakeRowIndexer{}
	ix := sourceindexer.NewIndexer("src1", source, store, rowIdx, [16]byte{1})
	require.NoError(t, ix.Run(context.Background()))

	require.Len(t, rowIdx.calls, 2, "one listed key plus one orphan")

	var sawDeleted bool
	for _, c := range rowIdx.calls {
		if c.target.Kind == rowindexer.KindDeleted {
			sawDeleted = true
		}
	}
	require.True(t, sawDeleted, "orphan sweep must invoke the row indexer with a Deleted source version")

	snap := ix.Stats.Snapshot()
	require.Equal(t, int64(1), snap.Removed)
}
