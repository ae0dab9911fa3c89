// Package conformance holds a shared test suite every tracking.Store
// backend must pass, so switching backends never requires flow-definition
// changes (spec §4.2).
package conformance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

func strKey(t *testing.T, s string) value.KeyValue {
	t.Helper()
	k, err := value.NewKeyScalar(value.Scalar{Kind: value.KindStr, Str: s})
	require.NoError(t, err)
	return k
}

// RunConformance exercises Store's documented contract. newStore must
// return a fresh, empty backend instance each call.
func RunConformance(t *testing.T, newStore func() tracking.Store) {
	t.Run("GetMissingReturnsNotFound", func(t *testing.T) {
		s := newStore()
		_, err := s.GetTracking(context.Background(), "src", strKey(t, "k1"))
		require.True(t, errors.Is(err, tracking.ErrNotFound))
	})

	t.Run("InsertThenGet", func(t *testing.T) {
		s := newStore()
		rec := &tracking.Record{ProcessOrdinal: 1, MaxProcessOrdinal: 1, ProcessLogicFingerprint: fingerprint.Of(1, []byte("v1"))}
		require.NoError(t, s.CommitTracking(context.Background(), "src", strKey(t, "k1"), tracking.ExpectInsert, rec))

		got, err := s.GetTracking(context.Background(), "src", strKey(t, "k1"))
		require.NoError(t, err)
		require.Equal(t, int64(1), got.ProcessOrdinal)
	})

	t.Run("DoubleInsertConflicts", func(t *testing.T) {
		s := newStore()
		rec := &tracking.Record{ProcessOrdinal: 1, MaxProcessOrdinal: 1}
		require.NoError(t, s.CommitTracking(context.Background(), "src", strKey(t, "k1"), tracking.ExpectInsert, rec))
		err := s.CommitTracking(context.Background(), "src", strKey(t, "k1"), tracking.ExpectInsert, rec)
		require.True(t, errors.Is(err, tracking.ErrConflict))
	})

	t.Run("UpdateWithoutExistingConflicts", func(t *testing.T) {
		s := newStore()
		rec := &tracking.Record{ProcessOrdinal: 1, MaxProcessOrdinal: 1}
		err := s.CommitTracking(context.Background(), "src", strKey(t, "k1"), tracking.ExpectUpdate, rec)
		require.True(t, errors.Is(err, tracking.ErrConflict))
	})

	t.Run("UpdateAfterInsertSucceeds", func(t *testing.T) {
		s := newStore()
		rec := &tracking.Record{ProcessOrdinal: 1, MaxProcessOrdinal: 1}
		require.NoError(t, s.CommitTracking(context.Background(), "src", strKey(t, "k1"), tracking.ExpectInsert, rec))

		rec2 := &tracking.Record{ProcessOrdinal: 2, MaxProcessOrdinal: 2}
		require.NoError(t, s.CommitTracking(context.Background(), "src", strKey(t, "k1"), tracking.ExpectUpdate, rec2))

		got, err := s.GetTracking(context.Background(), "src", strKey(t, "k1"))
		require.NoError(t, err)
		require.Equal(t, int64(2), got.ProcessOrdinal)
	})

	t.Run("DeleteThenGetMisses", func(t *testing.T) {
		s := newStore()
		rec := &tracking.Record{ProcessOrdinal: 1, MaxProcessOrdinal: 1}
		require.NoError(t, s.CommitTracking(context.Background(), "src", strKey(t, "k1"), tracking.ExpectInsert, rec))
		require.NoError(t, s.DeleteTracking(context.Background(), "src", strKey(t, "k1"), tracking.ExpectUpdate))

		_, err := s.GetTracking(context.Background(), "src", strKey(t, "k1"))
		require.True(t, errors.Is(err, tracking.ErrNotFound))
	})

	t.Run("ScanTrackingVisitsEveryRow", func(t *testing.T) {
		s := newStore()
		for i, k := range []string{"k1", "k2", "k3"} {
			rec := &tracking.Record{ProcessOrdinal: int64(i), MaxProcessOrdinal: int64(i)}
			require.NoError(t, s.CommitTracking(context.Background(), "src", strKey(t, k), tracking.ExpectInsert, rec))
		}
		it, err := s.ScanTracking(context.Background(), "src")
		require.NoError(t, err)
		defer it.Close()

		seen := map[string]bool{}
		for it.Next(context.Background()) {
			seen[string(it.Key().CanonicalJSON())] = true
		}
		require.NoError(t, it.Err())
		require.Len(t, seen, 3)
	})

	t.Run("ScanTrackingIsolatesBySource", func(t *testing.T) {
		s := newStore()
		rec := &tracking.Record{ProcessOrdinal: 1, MaxProcessOrdinal: 1}
		require.NoError(t, s.CommitTracking(context.Background(), "src-a", strKey(t, "k1"), tracking.ExpectInsert, rec))
		require.NoError(t, s.CommitTracking(context.Background(), "src-b", strKey(t, "k1"), tracking.ExpectInsert, rec))

		it, err := s.ScanTracking(context.Background(), "src-a")
		require.NoError(t, err)
		defer it.Close()

		count := 0
		for it.Next(context.Background()) {
			count++
		}
		require.Equal(t, 1, count)
	})

	t.Run("SourceStateRoundTrip", func(t *testing.T) {
		s := newStore()
		_, err := s.GetSourceState(context.Background(), "src", "cursor")
		require.True(t, errors.Is(err, tracking.ErrNotFound))

		require.NoError(t, s.PutSourceState(context.Background(), "src", "cursor", json.RawMessage(`{"n":1}`)))
		got, err := s.GetSourceState(context.Background(), "src", "cursor")
		require.NoError(t, err)
		require.JSONEq(t, `{"n":1}`, string(got))
	})
}
