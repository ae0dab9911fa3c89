package memo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
)

func fp(b byte) fingerprint.Fingerprint {
	return fingerprint.Of(1, []byte{b})
}

func TestStoreLookupMiss(t *testing.T) {
	s := NewStore("src-1", nil, nil)
	_, ok, err := s.Lookup(context.Background(), fp(1), fp(2))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStorePutThenLookupHit(t *testing.T) {
	s := NewStore("src-1", nil, nil)
	e := Entry{MemoKeyFP: fp(1), LogicFP: fp(2), Output: []byte("result"), CreatedAt: time.Now()}
	require.NoError(t, s.Put(context.Background(), e))

	got, ok, err := s.Lookup(context.Background(), fp(1), fp(2))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("result"), got.Output)
}

func TestStoreLookupMissesOnDifferentLogicFP(t *testing.T) {
	s := NewStore("src-1", nil, nil)
	e := Entry{MemoKeyFP: fp(1), LogicFP: fp(2), Output: []byte("result"), CreatedAt: time.Now()}
	require.NoError(t, s.Put(context.Background(), e))

	_, ok, err := s.Lookup(context.Background(), fp(1), fp(99))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreLookupExpiredTTL(t *testing.T) {
	s := NewStore("src-1", nil, nil)
	ttl := 10 * time.Millisecond
	e := Entry{MemoKeyFP: fp(1), LogicFP: fp(2), Output: []byte("x"), CreatedAt: time.Now().Add(-time.Second), TTL: &ttl}
	require.NoError(t, s.Put(context.Background(), e))

	_, ok, err := s.Lookup(context.Background(), fp(1), fp(2))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreEntriesRoundTripThroughCodec(t *testing.T) {
	s := NewStore("src-1", nil, nil)
	require.NoError(t, s.Put(context.Background(), Entry{MemoKeyFP: fp(1), LogicFP: fp(2), Output: []byte("a"), CreatedAt: time.Now()}))
	require.NoError(t, s.Put(context.Background(), Entry{MemoKeyFP: fp(3), LogicFP: fp(4), Output: []byte("b"), States: [][]byte{{9, 9}}, CreatedAt: time.Now()}))

	data, err := EncodeEntries(s.Entries())
	require.NoError(t, err)

	decoded, err := DecodeEntries(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	reloaded := NewStore("src-1", decoded, nil)
	got, ok, err := reloaded.Lookup(context.Background(), fp(3), fp(4))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]byte{{9, 9}}, got.States)
}

func TestStoreLookupWithStatesReuse(t *testing.T) {
	s := NewStore("src-1", nil, nil)
	require.NoError(t, s.Put(context.Background(), Entry{
		MemoKeyFP: fp(1), LogicFP: fp(2), Output: []byte("cached"),
		States: [][]byte{[]byte("mtime-1")}, CreatedAt: time.Now(),
	}))

	canReuse := func(states [][]byte) (bool, [][]byte, error) {
		return true, [][]byte{[]byte("mtime-2")}, nil
	}
	got, ok, err := s.LookupWithStates(context.Background(), fp(1), fp(2), canReuse)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("cached"), got.Output)

	refreshed, ok, err := s.Lookup(context.Background(), fp(1), fp(2))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte("mtime-2")}, refreshed.States)
}

func TestStoreLookupWithStatesRejection(t *testing.T) {
	s := NewStore("src-1", nil, nil)
	require.NoError(t, s.Put(context.Background(), Entry{MemoKeyFP: fp(1), LogicFP: fp(2), Output: []byte("x"), CreatedAt: time.Now()}))

	canReuse := func(states [][]byte) (bool, [][]byte, error) { return false, nil, nil }
	_, ok, err := s.LookupWithStates(context.Background(), fp(1), fp(2), canReuse)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreInvalidate(t *testing.T) {
	s := NewStore("src-1", nil, nil)
	require.NoError(t, s.Put(context.Background(), Entry{MemoKeyFP: fp(1), LogicFP: fp(2), Output: []byte("x"), CreatedAt: time.Now()}))
	s.Invalidate(fp(1), fp(2))

	_, ok, _ := s.Lookup(context.Background(), fp(1), fp(2))
	require.False(t, ok)
}

// TestReservationSecondCallerSeesFirstResult exercises spec's
// reservation semantics: the second caller for the same memo_key_fp
// blocks until the first releases, then observes the first caller's
// committed output rather than racing to recompute it.
func TestReservationSecondCallerSeesFirstResult(t *testing.T) {
	s := NewStore("src-1", nil, nil)
	key := fp(1)

	var wg sync.WaitGroup
	var callCount int
	var mu sync.Mutex

	compute := func() {
		release := s.Reserve(key)
		defer release()

		_, ok, _ := s.Lookup(context.Background(), key, fp(2))
		if ok {
			return
		}
		mu.Lock()
		callCount++
		mu.Unlock()
		_ = s.Put(context.Background(), Entry{MemoKeyFP: key, LogicFP: fp(2), Output: []byte("computed"), CreatedAt: time.Now()})
	}

	wg.Add(2)
	go func() { defer wg.Done(); compute() }()
	go func() { defer wg.Done(); compute() }()
	wg.Wait()

	require.Equal(t, 1, callCount)
	got, ok, _ := s.Lookup(context.Background(), key, fp(2))
	require.True(t, ok)
	require.Equal(t, []byte("computed"), got.Output)
}
