package rowindexer

import (
	"context"
	"errors"
	"reflect"

	"github.com/cocoindex-io/cocoindex-go/internal/engineerr"
	"github.com/cocoindex-io/cocoindex-go/internal/fingerprint"
	"github.com/cocoindex-io/cocoindex-go/internal/memo"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// precommit implements phase 2: re-checks for a concurrent writer, diffs
// exports against the union of committed and staged target keys, and
// stages the resulting record. It returns the staged record (so commit
// can reuse its MaxProcessOrdinal as this attempt's process_ordinal),
// the WriteExpectation commit must use (always ExpectUpdate, since the
// staged record now exists), and the mutations Apply must issue.
func (ix *Indexer) precommit(
	ctx context.Context,
	key value.KeyValue,
	existingRec *tracking.Record,
	target SourceVersion,
	srcFP fingerprint.Fingerprint,
	memoStore *memo.Store,
	exports TargetExports,
) (*tracking.Record, tracking.WriteExpectation, []TargetMutation, error) {
	fresh, err := ix.Tracking.GetTracking(ctx, ix.SourceID, key)
	if errors.Is(err, tracking.ErrNotFound) {
		fresh = nil
	} else if err != nil {
		return nil, 0, nil, engineerr.New(engineerr.KindRetryable, "rowindexer.precommit.GetTracking", err)
	}
	if !recordsEqual(existingRec, fresh) {
		return nil, 0, nil, engineerr.New(engineerr.KindRetryable, "rowindexer.precommit",
			errors.New("tracking record changed since evaluate phase"))
	}

	expect := tracking.ExpectUpdate
	rec := existingRec.Clone()
	if rec == nil {
		expect = tracking.ExpectInsert
		rec = &tracking.Record{}
	}

	processOrdinal := rec.MaxProcessOrdinal + 1
	nowMicros := ix.Clock().UnixMicro()
	if nowMicros > processOrdinal {
		processOrdinal = nowMicros
	}

	newStaging, mutations := diffExports(rec.TargetKeys, rec.StagingTargetKeys, exports, processOrdinal)

	memoBytes, err := memo.EncodeEntries(memoStore.Entries())
	if err != nil {
		return nil, 0, nil, engineerr.New(engineerr.KindFatalInternal, "rowindexer.precommit.EncodeEntries", err)
	}

	rec.MaxProcessOrdinal = processOrdinal
	rec.StagingTargetKeys = newStaging
	rec.MemoizationInfo = memoBytes

	if err := ix.Tracking.PrecommitTracking(ctx, ix.SourceID, key, expect, rec); err != nil {
		if errors.Is(err, tracking.ErrConflict) {
			return nil, 0, nil, engineerr.New(engineerr.KindRetryable, "rowindexer.PrecommitTracking", err)
		}
		return nil, 0, nil, engineerr.New(engineerr.KindHost, "rowindexer.PrecommitTracking", err)
	}

	return rec, tracking.ExpectUpdate, mutations, nil
}

// diffExports computes the new staging set and the mutations Apply must
// issue, per spec §4.5 phase 2 step 3: rows whose primary key already
// exists with an identical value fingerprint carry their old ordinal
// forward with no mutation; new or changed rows queue an upsert at
// processOrdinal; old keys absent from the new output queue a delete
// recorded with a nil fingerprint.
func diffExports(
	committed, staged map[tracking.TargetID][]tracking.TargetKeyEntry,
	exports TargetExports,
	processOrdinal int64,
) (map[tracking.TargetID][]tracking.TargetKeyEntry, []TargetMutation) {
	targets := map[tracking.TargetID]struct{}{}
	for t := range committed {
		targets[t] = struct{}{}
	}
	for t := range staged {
		targets[t] = struct{}{}
	}
	for t := range exports {
		targets[t] = struct{}{}
	}

	newStaging := make(map[tracking.TargetID][]tracking.TargetKeyEntry, len(targets))
	var mutations []TargetMutation

	for t := range targets {
		old := unionTargetKeys(committed[t], staged[t])
		seen := make(map[string]bool, len(old))

		var entries []tracking.TargetKeyEntry
		for _, row := range exports[t] {
			enc := string(row.Key.Encode())
			fp := value.Fingerprint(row.Value)

			if prior, ok := old[enc]; ok {
				seen[enc] = true
				if prior.ValueFingerprint != nil && *prior.ValueFingerprint == fp {
					entries = append(entries, prior)
					continue
				}
			}

			fpCopy := fp
			entries = append(entries, tracking.TargetKeyEntry{
				Key:              row.Key,
				ProcessOrdinal:   processOrdinal,
				ValueFingerprint: &fpCopy,
			})
			mutations = append(mutations, TargetMutation{Target: t, Key: row.Key, Value: row.Value})
		}

		for enc, prior := range old {
			if seen[enc] {
				continue
			}
			entries = append(entries, tracking.TargetKeyEntry{
				Key:            prior.Key,
				ProcessOrdinal: processOrdinal,
			})
			mutations = append(mutations, TargetMutation{Target: t, Key: prior.Key, Delete: true})
		}

		if len(entries) > 0 {
			newStaging[t] = entries
		}
	}

	return newStaging, mutations
}

func unionTargetKeys(committed, staged []tracking.TargetKeyEntry) map[string]tracking.TargetKeyEntry {
	out := make(map[string]tracking.TargetKeyEntry, len(committed)+len(staged))
	for _, e := range committed {
		out[string(e.Key.Encode())] = e
	}
	for _, e := range staged {
		out[string(e.Key.Encode())] = e
	}
	return out
}

func recordsEqual(a, b *tracking.Record) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// commit implements phase 4: re-reads to detect an overtaking commit,
// prunes staging, promotes this attempt's entries into the committed
// target-key set, and writes back (or deletes the record if nothing
// remains).
func (ix *Indexer) commit(ctx context.Context, key value.KeyValue, rec *tracking.Record, expect tracking.WriteExpectation, target SourceVersion, srcFP fingerprint.Fingerprint) (Outcome, error) {
	fresh, err := ix.Tracking.GetTracking(ctx, ix.SourceID, key)
	if errors.Is(err, tracking.ErrNotFound) {
		fresh = nil
	} else if err != nil {
		return OutcomeProcessed, engineerr.New(engineerr.KindRetryable, "rowindexer.commit.GetTracking", err)
	}
	if fresh != nil && fresh.ProcessOrdinal > rec.MaxProcessOrdinal {
		return OutcomeSkipped, nil
	}

	thisOrdinal := rec.MaxProcessOrdinal

	newTargetKeys := make(map[tracking.TargetID][]tracking.TargetKeyEntry, len(rec.TargetKeys))
	for t, entries := range rec.TargetKeys {
		newTargetKeys[t] = append([]tracking.TargetKeyEntry(nil), entries...)
	}

	prunedStaging := make(map[tracking.TargetID][]tracking.TargetKeyEntry, len(rec.StagingTargetKeys))
	for t, entries := range rec.StagingTargetKeys {
		byKey := make(map[string]tracking.TargetKeyEntry, len(newTargetKeys[t]))
		for _, e := range newTargetKeys[t] {
			byKey[string(e.Key.Encode())] = e
		}

		var kept []tracking.TargetKeyEntry
		for _, e := range entries {
			if e.ProcessOrdinal == thisOrdinal {
				enc := string(e.Key.Encode())
				if e.ValueFingerprint == nil {
					delete(byKey, enc)
				} else {
					byKey[enc] = e
				}
				continue
			}
			if e.ProcessOrdinal > rec.ProcessOrdinal {
				kept = append(kept, e)
			}
		}

		out := make([]tracking.TargetKeyEntry, 0, len(byKey))
		for _, e := range byKey {
			out = append(out, e)
		}
		if len(out) > 0 {
			newTargetKeys[t] = out
		} else {
			delete(newTargetKeys, t)
		}
		if len(kept) > 0 {
			prunedStaging[t] = kept
		}
	}

	empty := len(newTargetKeys) == 0 && len(prunedStaging) == 0
	if empty {
		if err := ix.Tracking.DeleteTracking(ctx, ix.SourceID, key, expect); err != nil {
			if errors.Is(err, tracking.ErrConflict) {
				return OutcomeProcessed, engineerr.New(engineerr.KindRetryable, "rowindexer.commit.DeleteTracking", err)
			}
			return OutcomeProcessed, engineerr.New(engineerr.KindHost, "rowindexer.commit.DeleteTracking", err)
		}
		return OutcomeProcessed, nil
	}

	final := rec.Clone()
	final.ProcessOrdinal = thisOrdinal
	final.ProcessTimeMicros = ix.Clock().UnixMicro()
	final.TargetKeys = newTargetKeys
	final.StagingTargetKeys = prunedStaging
	final.ProcessedSourceOrdinal = target.Ordinal
	final.ProcessLogicFingerprint = target.LogicFP
	if !srcFP.IsZero() {
		fp := srcFP
		final.ProcessedSourceFP = &fp
	} else {
		final.ProcessedSourceFP = nil
	}

	if err := ix.Tracking.CommitTracking(ctx, ix.SourceID, key, expect, final); err != nil {
		if errors.Is(err, tracking.ErrConflict) {
			return OutcomeProcessed, engineerr.New(engineerr.KindRetryable, "rowindexer.commit.CommitTracking", err)
		}
		return OutcomeProcessed, engineerr.New(engineerr.KindHost, "rowindexer.commit.CommitTracking", err)
	}
	return OutcomeProcessed, nil
}
