// Package admin implements the operator admin surface of spec §6.4:
// update, drop, setup_status, apply_setup. It returns structured results
// rather than exit codes — a CLI wrapper (cmd/cocoindexctl) is a thin
// shell around one Operator method, grounded on cmd/main.go's own
// env-var-gated startup with no CLI framework.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/platform/logger"
	"github.com/cocoindex-io/cocoindex-go/internal/scheduler"
	"github.com/cocoindex-io/cocoindex-go/internal/setup"
	"github.com/cocoindex-io/cocoindex-go/internal/sourceindexer"
	"github.com/cocoindex-io/cocoindex-go/internal/tracking"
	"github.com/cocoindex-io/cocoindex-go/internal/value"
)

// ResourceDef is one target resource's declared desired state: the input
// to setup_status/apply_setup's per-resource SetupChange computation
// (spec §4.8).
type ResourceDef struct {
	Key     setup.ResourceKey
	Desired json.RawMessage
}

// SourceDef wires one flow source's indexing cycle into the operator
// surface; *sourceindexer.Indexer already implements the full
// list/fan-out/orphan-sweep cycle, so admin only needs to drive it.
type SourceDef struct {
	SourceID string
	Indexer  *sourceindexer.Indexer
}

// Operator is the engine's administrative surface for one configured
// flow.
type Operator struct {
	FlowName  string
	Setup     *setup.Engine
	Tracking  tracking.Store
	Resources []ResourceDef
	Sources   []SourceDef
	Log       *logger.Logger

	// PollInterval is the scheduler tick used by Update's LiveMode;
	// defaults to 30s when zero.
	PollInterval time.Duration
}

func (op *Operator) pollInterval() time.Duration {
	if op.PollInterval > 0 {
		return op.PollInterval
	}
	return 30 * time.Second
}

// UpdateOptions configures Update (spec §6.4).
type UpdateOptions struct {
	// LiveMode keeps each source's cycle running on a
	// scheduler.Scheduler until ctx is canceled, instead of a single
	// pass.
	LiveMode bool
	// FullReprocess clears every source's tracking records first, so
	// the next cycle reprocesses every row regardless of its current
	// SourceVersion.
	FullReprocess bool
	// ReportToStdout additionally logs a per-source stats line after
	// each one-shot cycle (ignored in LiveMode, where cycles repeat
	// indefinitely and there is no single completion point to report).
	ReportToStdout bool
}

// SourceResult is one source's outcome from a single Update call.
type SourceResult struct {
	SourceID string
	Stats    sourceindexer.Snapshot
	Err      error
}

// UpdateResult is Update's return value: one SourceResult per configured
// source.
type UpdateResult struct {
	Flow    string
	Sources []SourceResult
}

// Update runs every configured source's indexing cycle, grounded on
// internal/jobs/worker.go's Start(ctx) generalized through
// internal/scheduler. In LiveMode it launches a Scheduler per source and
// returns immediately with each source's stats as of the call (they keep
// changing as the schedulers keep running); otherwise it runs one cycle
// per source synchronously and returns their final stats.
func (op *Operator) Update(ctx context.Context, opts UpdateOptions) (UpdateResult, error) {
	if opts.FullReprocess {
		for _, s := range op.Sources {
			if err := op.clearTracking(ctx, s.SourceID); err != nil {
				return UpdateResult{}, fmt.Errorf("admin: update: full reprocess: %s: %w", s.SourceID, err)
			}
		}
	}

	result := UpdateResult{Flow: op.FlowName}
	for _, s := range op.Sources {
		if opts.LiveMode {
			sched := scheduler.NewScheduler(s.SourceID, op.pollInterval(), s.Indexer.Run, op.Log)
			sched.Start(ctx)
			result.Sources = append(result.Sources, SourceResult{SourceID: s.SourceID, Stats: s.Indexer.Stats.Snapshot()})
			continue
		}

		err := s.Indexer.Run(ctx)
		snap := s.Indexer.Stats.Snapshot()
		if opts.ReportToStdout && op.Log != nil {
			op.Log.Info("source update complete",
				"flow", op.FlowName, "source", s.SourceID,
				"added", snap.Added, "modified", snap.Modified, "removed", snap.Removed,
				"unchanged", snap.Unchanged, "skipped", snap.Skipped, "errored", snap.Errored)
		}
		result.Sources = append(result.Sources, SourceResult{SourceID: s.SourceID, Stats: snap, Err: err})
	}
	return result, nil
}

// clearTracking deletes every tracking record for sourceID, the
// mechanism behind FullReprocess: with no committed record, the next
// cycle's readExisting reports KindNonExistent for every row, so nothing
// is skipped as already-current.
func (op *Operator) clearTracking(ctx context.Context, sourceID string) error {
	iter, err := op.Tracking.ScanTracking(ctx, sourceID)
	if err != nil {
		return err
	}
	defer iter.Close()

	var keys []value.KeyValue
	for iter.Next(ctx) {
		keys = append(keys, iter.Key())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	for _, key := range keys {
		if err := op.Tracking.DeleteTracking(ctx, sourceID, key, tracking.ExpectUpdate); err != nil &&
			!errors.Is(err, tracking.ErrNotFound) {
			return err
		}
	}
	return nil
}

// ResourceSetupInfo is one resource's computed setup status (spec
// §6.4's setup_status).
type ResourceSetupInfo struct {
	Key           setup.ResourceKey
	Change        connector.SetupChange
	Compatibility connector.Compatibility
	Description   string
}

// SetupStatus reports every configured resource's current SetupChange
// against its committed state, without staging or applying anything
// (spec §6.4).
func (op *Operator) SetupStatus(ctx context.Context) ([]ResourceSetupInfo, error) {
	infos := make([]ResourceSetupInfo, 0, len(op.Resources))
	for _, r := range op.Resources {
		change, compat, err := op.Setup.ResourceStatus(ctx, r.Key, r.Desired)
		if err != nil {
			return nil, fmt.Errorf("admin: setup_status: %s: %w", r.Key.ResourceType, err)
		}
		infos = append(infos, ResourceSetupInfo{
			Key:           r.Key,
			Change:        change,
			Compatibility: compat,
			Description:   describeChange(r.Key, change, compat),
		})
	}
	return infos, nil
}

func describeChange(key setup.ResourceKey, change connector.SetupChange, compat connector.Compatibility) string {
	switch change {
	case connector.SetupNoChange:
		return fmt.Sprintf("%s %s is up to date", key.ResourceType, key.Target.ResourceKey)
	case connector.SetupCreate:
		return fmt.Sprintf("%s %s will be created", key.ResourceType, key.Target.ResourceKey)
	case connector.SetupUpdate:
		return fmt.Sprintf("%s %s will be updated in place", key.ResourceType, key.Target.ResourceKey)
	case connector.SetupDelete:
		return fmt.Sprintf("%s %s will be dropped", key.ResourceType, key.Target.ResourceKey)
	case connector.SetupInvalid:
		return fmt.Sprintf("%s %s needs a full rebuild (compatibility=%v); run drop then apply_setup",
			key.ResourceType, key.Target.ResourceKey, compat)
	default:
		return fmt.Sprintf("%s %s: unknown change", key.ResourceType, key.Target.ResourceKey)
	}
}

// ApplySetup runs the two-phase stage/commit protocol (spec §4.8) across
// every configured resource, bringing committed state in line with each
// ResourceDef's Desired.
func (op *Operator) ApplySetup(ctx context.Context) ([]connector.ResourceChange, error) {
	seenVersion, err := op.Setup.CurrentVersion(ctx, op.FlowName)
	if err != nil {
		return nil, fmt.Errorf("admin: apply_setup: %w", err)
	}

	updates := make([]setup.ResourceUpdate, len(op.Resources))
	for i, r := range op.Resources {
		updates[i] = setup.ResourceUpdate{Key: r.Key, Desired: r.Desired}
	}

	newVersion, changes, err := op.Setup.StageChangesForFlow(ctx, op.FlowName, seenVersion, updates)
	if err != nil {
		return nil, fmt.Errorf("admin: apply_setup: stage: %w", err)
	}
	if err := op.Setup.CommitChangesForFlow(ctx, op.FlowName, newVersion, updates, changes, nil); err != nil {
		return nil, fmt.Errorf("admin: apply_setup: commit: %w", err)
	}
	return changes, nil
}

// Drop removes every configured resource and clears every source's
// tracking records (spec §6.4), by staging a nil-Desired update for each
// resource — the same "nil desired against a present committed state
// means Delete" convention every target factory's CheckSetupStatus
// already implements — then committing with deleteVersion set to clear
// the flow's own version row.
func (op *Operator) Drop(ctx context.Context) error {
	seenVersion, err := op.Setup.CurrentVersion(ctx, op.FlowName)
	if err != nil {
		return fmt.Errorf("admin: drop: %w", err)
	}

	updates := make([]setup.ResourceUpdate, len(op.Resources))
	for i, r := range op.Resources {
		updates[i] = setup.ResourceUpdate{Key: r.Key, Desired: nil}
	}

	newVersion, changes, err := op.Setup.StageChangesForFlow(ctx, op.FlowName, seenVersion, updates)
	if err != nil {
		return fmt.Errorf("admin: drop: stage: %w", err)
	}
	dropped := int64(0)
	if err := op.Setup.CommitChangesForFlow(ctx, op.FlowName, newVersion, updates, changes, &dropped); err != nil {
		return fmt.Errorf("admin: drop: commit: %w", err)
	}

	for _, s := range op.Sources {
		if err := op.clearTracking(ctx, s.SourceID); err != nil {
			return fmt.Errorf("admin: drop: clear tracking: %s: %w", s.SourceID, err)
		}
	}
	return nil
}
