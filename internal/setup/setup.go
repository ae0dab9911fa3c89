// Package setup implements the setup metadata engine (spec §4.8): given
// a desired flow graph and the committed metadata, it computes a
// per-resource SetupChange, then applies it through a two-phase
// stage/commit protocol guarded by a per-flow version counter, grounded
// on internal/jobs/orchestrator/state.go's version-tagged persisted
// state and internal/repos/job_run.go's read-check-write optimistic
// concurrency (ClaimNextRunnable's conditional UPDATE ... WHERE).
package setup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
)

// Sentinel errors, wrapped by every Metadata backend so callers can use
// errors.Is regardless of which one is wired (same convention as
// tracking.ErrConflict/ErrBackend).
var (
	// ErrConflict is returned by Stage when seenVersion no longer
	// matches the stored version (optimistic concurrency lost the
	// race).
	ErrConflict = errors.New("setup: version conflict")
	// ErrBackend wraps a failure from the underlying metadata store.
	ErrBackend = errors.New("setup: backend failure")
)

// ResourceKey identifies one resource within one flow: a target
// (connector.Key) plus its declared resource type (e.g. "postgres_table",
// "neo4j_node").
type ResourceKey struct {
	Flow         string
	ResourceType string
	Target       connector.Key
}

// ResourceState is the committed/staging pair persisted per resource
// (spec §3.5, §6.2: state_json/staging_json columns).
type ResourceState struct {
	Committed json.RawMessage
	Staging   []StagingChange
}

// StagingChange records one not-yet-committed resource mutation,
// absorbed at Stage time and cleared at Commit time.
type StagingChange struct {
	Desired json.RawMessage
	Change  connector.SetupChange
}

// ResourceUpdate is one caller-supplied desired state for a resource,
// the input to StageChangesForFlow/CommitChangesForFlow.
type ResourceUpdate struct {
	Key     ResourceKey
	Desired json.RawMessage
}

// Metadata is the setup engine's persistence surface: one installation-
// wide metadata store plus the distinguished per-flow version counter
// (spec §6.2 — "a distinguished (flow_name, 'flow_version', null) row").
type Metadata interface {
	// GetVersion returns the flow's current version counter (0 if the
	// flow has never been staged).
	GetVersion(ctx context.Context, flow string) (int64, error)

	// CompareAndSetVersion advances the flow's version counter from
	// seenVersion to newVersion, failing with ErrConflict if the stored
	// value no longer equals seenVersion (the flow was staged by
	// another caller in the meantime).
	CompareAndSetVersion(ctx context.Context, flow string, seenVersion, newVersion int64) error

	// GetResourceState returns the resource's current committed/staging
	// pair, or a zero-value ResourceState if none exists yet.
	GetResourceState(ctx context.Context, key ResourceKey) (ResourceState, error)

	// PutResourceState writes the resource's new committed/staging
	// pair.
	PutResourceState(ctx context.Context, key ResourceKey, state ResourceState) error
}

// FactoryLookup resolves the connector.TargetFactory responsible for a
// resource's CheckSetupStatus/CheckStateCompatibility/ApplySetupChanges
// calls.
type FactoryLookup func(key ResourceKey) (connector.TargetFactory, error)

// Engine is the setup metadata engine. It never exposes a bare Put:
// every mutation passes through StageChangesForFlow then
// CommitChangesForFlow, matching the two-phase protocol of spec §4.8.
type Engine struct {
	meta   Metadata
	lookup FactoryLookup
}

// NewEngine returns an Engine backed by meta, resolving each resource's
// factory via lookup.
func NewEngine(meta Metadata, lookup FactoryLookup) *Engine {
	return &Engine{meta: meta, lookup: lookup}
}

// CurrentVersion returns flow's current version counter, the seenVersion
// a caller must pass to StageChangesForFlow for its next call to
// succeed.
func (e *Engine) CurrentVersion(ctx context.Context, flow string) (int64, error) {
	v, err := e.meta.GetVersion(ctx, flow)
	if err != nil {
		return 0, fmt.Errorf("%w: get version: %v", ErrBackend, err)
	}
	return v, nil
}

// ResourceStatus computes key's SetupChange/Compatibility against its
// committed state without staging or mutating anything — the read-only
// counterpart to StageChangesForFlow, for a setup_status surface that
// must not advance the flow's version counter just by being asked (spec
// §6.4).
func (e *Engine) ResourceStatus(ctx context.Context, key ResourceKey, desired json.RawMessage) (connector.SetupChange, connector.Compatibility, error) {
	factory, err := e.lookup(key)
	if err != nil {
		return 0, 0, fmt.Errorf("setup: %w", err)
	}
	current, err := e.meta.GetResourceState(ctx, key)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: get resource state: %v", ErrBackend, err)
	}
	change, err := factory.CheckSetupStatus(ctx, key.Target, desired, current.Committed)
	if err != nil {
		return 0, 0, fmt.Errorf("setup: %s: check setup status: %w", key.ResourceType, err)
	}
	compat := connector.Compatible
	if change == connector.SetupUpdate {
		compat, err = factory.CheckStateCompatibility(ctx, desired, current.Committed)
		if err != nil {
			return 0, 0, fmt.Errorf("setup: %s: check state compatibility: %w", key.ResourceType, err)
		}
		if compat == connector.NotCompatible {
			change = connector.SetupInvalid
		}
	}
	return change, compat, nil
}

// StageChangesForFlow computes each resource's SetupChange against its
// committed state, rejects incompatible updates as connector.SetupInvalid
// per each factory's declared Compatibility, writes staging entries
// alongside the still-unchanged committed state, and advances the flow's
// version counter from seenVersion. It fails with ErrConflict if
// seenVersion is stale (spec §4.8 step 1).
func (e *Engine) StageChangesForFlow(ctx context.Context, flow string, seenVersion int64, updates []ResourceUpdate) (newVersion int64, changes []connector.ResourceChange, err error) {
	storedVersion, err := e.meta.GetVersion(ctx, flow)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: get version: %v", ErrBackend, err)
	}
	if storedVersion != seenVersion {
		return 0, nil, ErrConflict
	}

	changes = make([]connector.ResourceChange, 0, len(updates))
	for _, u := range updates {
		factory, ferr := e.lookup(u.Key)
		if ferr != nil {
			return 0, nil, fmt.Errorf("setup: %w", ferr)
		}

		current, gerr := e.meta.GetResourceState(ctx, u.Key)
		if gerr != nil {
			return 0, nil, fmt.Errorf("%w: get resource state: %v", ErrBackend, gerr)
		}

		change, serr := factory.CheckSetupStatus(ctx, u.Key.Target, u.Desired, current.Committed)
		if serr != nil {
			return 0, nil, fmt.Errorf("setup: %s: check setup status: %w", u.Key.ResourceType, serr)
		}

		compat := connector.Compatible
		if change == connector.SetupUpdate {
			compat, serr = factory.CheckStateCompatibility(ctx, u.Desired, current.Committed)
			if serr != nil {
				return 0, nil, fmt.Errorf("setup: %s: check state compatibility: %w", u.Key.ResourceType, serr)
			}
			if compat == connector.NotCompatible {
				change = connector.SetupInvalid
			}
		}

		rc := connector.ResourceChange{
			Key:           u.Key.Target,
			Change:        change,
			Desired:       u.Desired,
			Existing:      current.Committed,
			Compatibility: compat,
		}
		changes = append(changes, rc)

		if change == connector.SetupNoChange {
			continue
		}
		current.Staging = append(current.Staging, StagingChange{Desired: u.Desired, Change: change})
		if perr := e.meta.PutResourceState(ctx, u.Key, current); perr != nil {
			return 0, nil, fmt.Errorf("%w: put resource state: %v", ErrBackend, perr)
		}
	}

	newVersion = seenVersion + 1
	if cerr := e.meta.CompareAndSetVersion(ctx, flow, seenVersion, newVersion); cerr != nil {
		return 0, nil, cerr
	}
	return newVersion, changes, nil
}

// CommitChangesForFlow applies each staged resource's physical change
// through its factory's ApplySetupChanges, then writes the new committed
// state and clears the staging list (spec §4.8 step 2). A call that
// crashes mid-loop is self-healing: resources already committed are
// idempotent no-ops on the next StageChangesForFlow/CommitChangesForFlow
// pass, since the next Stage recomputes SetupChange from the (now
// updated) committed state.
//
// deleteVersion, if non-nil, additionally clears the flow's own version
// row once every resource commits cleanly — used when the flow itself is
// being dropped (spec §6.4 Drop).
func (e *Engine) CommitChangesForFlow(ctx context.Context, flow string, newVersion int64, updates []ResourceUpdate, changes []connector.ResourceChange, deleteVersion *int64) error {
	byKey := make(map[ResourceKey]connector.ResourceChange, len(changes))
	for i, u := range updates {
		byKey[u.Key] = changes[i]
	}

	// Dependency order during apply: deletes traverse the reverse order
	// of creates (spec §4.8 — "relationship data is cleared before node
	// data"); the caller is expected to have ordered updates by
	// create_order already (mirroring internal/target.Reconciler), so
	// this loop applies creates/updates forward and deletes in reverse.
	for _, u := range updates {
		rc := byKey[u.Key]
		if rc.Change == connector.SetupNoChange || rc.Change == connector.SetupDelete {
			continue
		}
		if err := e.applyAndCommit(ctx, u.Key, rc); err != nil {
			return err
		}
	}
	for i := len(updates) - 1; i >= 0; i-- {
		u := updates[i]
		rc := byKey[u.Key]
		if rc.Change != connector.SetupDelete {
			continue
		}
		if err := e.applyAndCommit(ctx, u.Key, rc); err != nil {
			return err
		}
	}

	if deleteVersion != nil {
		if err := e.meta.CompareAndSetVersion(ctx, flow, newVersion, *deleteVersion); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyAndCommit(ctx context.Context, key ResourceKey, rc connector.ResourceChange) error {
	factory, err := e.lookup(key)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if err := factory.ApplySetupChanges(ctx, []connector.ResourceChange{rc}); err != nil {
		return fmt.Errorf("setup: %s: apply setup changes: %w", key.ResourceType, err)
	}

	var committed json.RawMessage
	if rc.Change != connector.SetupDelete {
		committed = rc.Desired
	}
	if err := e.meta.PutResourceState(ctx, key, ResourceState{Committed: committed}); err != nil {
		return fmt.Errorf("%w: put resource state: %v", ErrBackend, err)
	}
	return nil
}
