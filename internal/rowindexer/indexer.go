package rowindexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/engineerr"
	"github.com/cocoindex-io/cocoindex-go/internal/memo"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// Indexer drives the four-phase protocol for one source's rows.
type Indexer struct {
	SourceID string

	Tracking tracking.Store
	Source   SourceFetcher
	Evaluate EvaluateFunc
	Apply    TargetApplier

	// MemoCache is an optional second-tier cache shared across rows;
	// nil disables it (spec §4.3's "process-local speedup only").
	MemoCache memo.Cache

	Retry RetryPolicy

	// Clock is overridable for tests; defaults to time.Now in NewIndexer.
	Clock func() time.Time
}

// NewIndexer builds an Indexer with a real wall clock.
func NewIndexer(sourceID string, store tracking.Store, source SourceFetcher, eval EvaluateFunc, apply TargetApplier, cache memo.Cache, retry RetryPolicy) *Indexer {
	return &Indexer{
		SourceID:  sourceID,
		Tracking:  store,
		Source:    source,
		Evaluate:  eval,
		Apply:     apply,
		MemoCache: cache,
		Retry:     retry,
		Clock:     time.Now,
	}
}

// Run brings key up to date with target, retrying retryable phase
// failures with backoff. It returns OutcomeSkipped (not an error) when
// existing progress already covers target, or when a concurrent writer
// commits an equal-or-newer version first.
func (ix *Indexer) Run(ctx context.Context, key value.KeyValue, target SourceVersion) (Outcome, error) {
	attempts := 0
	for {
		outcome, err := ix.attempt(ctx, key, target)
		if err == nil {
			return outcome, nil
		}
		if !engineerr.Retryable(err) {
			return OutcomeProcessed, err
		}
		attempts++
		if !shouldRetry(ix.Retry, attempts, true) {
			return OutcomeProcessed, fmt.Errorf("rowindexer: exhausted retries: %w", err)
		}
		wait := computeBackoff(ix.Retry, attempts)
		select {
		case <-ctx.Done():
			return OutcomeProcessed, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// attempt runs phases 1-4 once. A retryable error anywhere aborts the
// attempt; Run's loop restarts from phase 1, since the tracking record
// may have changed underneath.
func (ix *Indexer) attempt(ctx context.Context, key value.KeyValue, target SourceVersion) (Outcome, error) {
	// Phase 1 — Evaluate.
	existingRec, existing, err := ix.readExisting(ctx, key, target)
	if err != nil {
		return OutcomeProcessed, err
	}
	if existing.ShouldSkip(target) {
		return OutcomeSkipped, nil
	}

	// A row reported as connector.ErrNotExist is a deletion: it is not
	// evaluated, and its previous exports are diffed away as deletes.
	sourceValue, srcFP, err := ix.Source.FetchValue(ctx, key)
	missing := errors.Is(err, connector.ErrNotExist)
	if err != nil && !missing {
		return OutcomeProcessed, engineerr.New(engineerr.KindRetryable, "rowindexer.FetchValue", err)
	}

	var existingEntries []memo.Entry
	if existingRec != nil && len(existingRec.MemoizationInfo) > 0 {
		existingEntries, err = memo.DecodeEntries(existingRec.MemoizationInfo)
		if err != nil {
			return OutcomeProcessed, engineerr.New(engineerr.KindFatalInternal, "rowindexer.DecodeEntries", err)
		}
	}
	memoStore := memo.NewStore(ix.SourceID, existingEntries, ix.MemoCache)

	exports := TargetExports{}
	if !missing {
		exports, err = ix.Evaluate(ctx, sourceValue, memoStore)
		if err != nil {
			return OutcomeProcessed, err
		}
	}

	// Phase 2 — Precommit.
	rec, expect, mutations, err := ix.precommit(ctx, key, existingRec, target, srcFP, memoStore, exports)
	if err != nil {
		return OutcomeProcessed, err
	}

	// Phase 3 — Apply.
	results, err := ix.Apply.ApplyMutations(ctx, mutations)
	if err != nil {
		return OutcomeProcessed, engineerr.New(engineerr.KindRetryable, "rowindexer.ApplyMutations", err)
	}
	for _, r := range results {
		if r.Err != nil {
			return OutcomeProcessed, engineerr.New(engineerr.KindRetryable, "rowindexer.ApplyMutations",
				fmt.Errorf("target %s key mutation failed: %w", r.Target, r.Err))
		}
	}

	// Phase 4 — Commit.
	outcome, err := ix.commit(ctx, key, rec, expect, target, srcFP)
	if err != nil {
		return OutcomeProcessed, err
	}
	return outcome, nil
}

// readExisting derives the existing row's SourceVersion by comparing its
// stored logic fingerprint against target's: a match means the row was
// last processed under today's logic (KindCurrentLogic); a mismatch
// means it is stale relative to a logic change (KindDifferentLogic),
// even though its ordinal may be unchanged.
func (ix *Indexer) readExisting(ctx context.Context, key value.KeyValue, target SourceVersion) (*tracking.Record, SourceVersion, error) {
	rec, err := ix.Tracking.GetTracking(ctx, ix.SourceID, key)
	if errors.Is(err, tracking.ErrNotFound) {
		return nil, SourceVersion{Kind: KindNonExistent}, nil
	}
	if err != nil {
		return nil, SourceVersion{}, engineerr.New(engineerr.KindRetryable, "rowindexer.GetTracking", err)
	}
	kind := KindDifferentLogic
	if rec.ProcessLogicFingerprint == target.LogicFP {
		kind = KindCurrentLogic
	}
	return rec, SourceVersion{
		Ordinal: rec.ProcessedSourceOrdinal,
		Kind:    kind,
		LogicFP: rec.ProcessLogicFingerprint,
	}, nil
}
