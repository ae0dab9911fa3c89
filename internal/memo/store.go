package memo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
)

// ErrStatefulChild is returned when a memoized function attempts to mount
// a further stateful component; spec §4.3 forbids this and requires the
// offending entry be invalidated and the error surfaced to the caller.
var ErrStatefulChild = errors.New("memo: memoized function may not mount a stateful component")

// Store is a single row's view of its memoization entries, loaded from
// tracking.Record.MemoizationInfo at the start of an Evaluate phase and
// serialized back via Entries() at precommit. It is not safe to share
// across rows; one Store is created per row evaluation.
type Store struct {
	sourceID string
	cache    Cache // optional Redis fast path; nil disables it

	mu      sync.Mutex
	entries []Entry

	locks sync.Map // fingerprint.Fingerprint -> *sync.Mutex
}

// NewStore builds a Store seeded with a row's existing entries (decoded
// via DecodeEntries by the caller) and an optional Redis fast path.
func NewStore(sourceID string, existing []Entry, cache Cache) *Store {
	return &Store{
		sourceID: sourceID,
		cache:    cache,
		entries:  append([]Entry(nil), existing...),
	}
}

// Reserve serializes concurrent callers for the same memo_key_fp within
// this row: the first caller runs the function; a second caller for the
// same key blocks until the first calls the returned release func, then
// sees whatever the first caller wrote via Lookup/Put (spec's
// "Reservation" semantics — "the second caller sees the first caller's
// result").
func (s *Store) Reserve(memoKeyFP fingerprint.Fingerprint) (release func()) {
	lockIface, _ := s.locks.LoadOrStore(memoKeyFP, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}

// Lookup returns the cached entry for (memoKeyFP, logicFP), checking the
// Redis fast path first (if configured) and falling back to this row's
// own entries. A miss is reported (false, nil) whenever no entry matches
// or the matching entry's TTL has elapsed.
func (s *Store) Lookup(ctx context.Context, memoKeyFP, logicFP fingerprint.Fingerprint) (Entry, bool, error) {
	if s.cache != nil {
		key := CacheKey(s.sourceID, memoKeyFP, logicFP)
		if b, ok, err := s.cache.Get(ctx, key); err != nil {
			return Entry{}, false, err
		} else if ok {
			entries, err := DecodeEntries(b)
			if err == nil && len(entries) == 1 && !entries[0].Expired(time.Now()) {
				return entries[0], true, nil
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Matches(memoKeyFP, logicFP) && !e.Expired(time.Now()) {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// LookupWithStates applies the state-function optimization: if an entry
// matching (memoKeyFP, logicFP) exists, canReuse is invoked with its
// States; a true result updates the entry's States in place (without
// rerunning the memoized function) and counts as a hit.
func (s *Store) LookupWithStates(ctx context.Context, memoKeyFP, logicFP fingerprint.Fingerprint, canReuse CanReuseFunc) (Entry, bool, error) {
	entry, ok, err := s.Lookup(ctx, memoKeyFP, logicFP)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	reuse, newStates, err := canReuse(entry.States)
	if err != nil {
		return Entry{}, false, err
	}
	if !reuse {
		return Entry{}, false, nil
	}
	if newStates != nil {
		entry.States = newStates
		if putErr := s.Put(ctx, entry); putErr != nil {
			return Entry{}, false, putErr
		}
	}
	return entry, true, nil
}

// Put upserts an entry (replacing any existing entry with the same
// (MemoKeyFP, LogicFP)) and writes through to the Redis fast path when
// configured and the entry carries a TTL.
func (s *Store) Put(ctx context.Context, e Entry) error {
	s.mu.Lock()
	replaced := false
	for i, existing := range s.entries {
		if existing.Matches(e.MemoKeyFP, e.LogicFP) {
			s.entries[i] = e
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, e)
	}
	s.mu.Unlock()

	if s.cache == nil || e.TTL == nil {
		return nil
	}
	data, err := EncodeEntries([]Entry{e})
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, CacheKey(s.sourceID, e.MemoKeyFP, e.LogicFP), data, *e.TTL)
}

// Invalidate removes the entry for (memoKeyFP, logicFP), used when a
// memoized function violates the child-component restriction.
func (s *Store) Invalidate(memoKeyFP, logicFP fingerprint.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries[:0]
	for _, e := range s.entries {
		if !e.Matches(memoKeyFP, logicFP) {
			out = append(out, e)
		}
	}
	s.entries = out
}

// Entries returns the row's current entry set, for persistence into
// tracking.Record.MemoizationInfo via EncodeEntries.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}
