// Package memo implements the engine's memoization layer: a per-row,
// content-addressed cache of deterministic function outputs keyed by
// (memo_key_fp, logic_fp), with TTL expiry, per-key reservation locks, and
// an optional Redis-backed fast path in front of the tracking record's
// persisted entries.
package memo

import (
	"time"

	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
)

// Entry is one cached function result, mirroring the tracking record's
// memoization_info schema exactly (spec §4.3).
type Entry struct {
	MemoKeyFP fingerprint.Fingerprint
	LogicFP   fingerprint.Fingerprint
	Output    []byte
	// States holds auxiliary state snapshots (e.g. file mtime+size) a
	// CanReuseFunc inspects to decide whether Output is still valid
	// without rerunning the function.
	States [][]byte

	CreatedAt time.Time
	// TTL is optional; nil means the entry never expires on its own (it
	// is still invalidated by a logic fingerprint change, since lookup is
	// keyed by (memo_key_fp, logic_fp)).
	TTL *time.Duration

	// AlreadyStored is set once this entry has been durably written via a
	// commit; callers use it to avoid re-persisting an unchanged entry.
	AlreadyStored bool
}

// Expired reports whether e's TTL, if any, has elapsed as of now.
func (e Entry) Expired(now time.Time) bool {
	if e.TTL == nil {
		return false
	}
	return now.Sub(e.CreatedAt) > *e.TTL
}

// Matches reports whether e is a cache hit for the given key.
func (e Entry) Matches(memoKeyFP, logicFP fingerprint.Fingerprint) bool {
	return e.MemoKeyFP == memoKeyFP && e.LogicFP == logicFP
}

// CanReuseFunc implements the state-function optimization: given an
// entry's current States, it reports whether Output remains valid, and if
// so, the States the entry should be updated to (e.g. a fresh mtime)
// without rerunning the memoized function.
type CanReuseFunc func(states [][]byte) (canReuse bool, newStates [][]byte, err error)
