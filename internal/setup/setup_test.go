package setup_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cocoindex-io/cocoindex-go/internal/connector"
	"github.com/cocoindex-io/cocoindex-go/internal/setup"
)

// fakeFactory is a minimal connector.TargetFactory recording its applied
// changes, used to assert apply_setup idempotence without a real
// database/driver.
type fakeFactory struct {
	applied []connector.ResourceChange
}

func (f *fakeFactory) Name() string { return "fake" }

func (f *fakeFactory) CheckSetupStatus(_ context.Context, _ connector.Key, desired, existing []byte) (connector.SetupChange, error) {
	if existing == nil {
		if desired == nil {
			return connector.SetupNoChange, nil
		}
		return connector.SetupCreate, nil
	}
	if desired == nil {
		return connector.SetupDelete, nil
	}
	if string(desired) == string(existing) {
		return connector.SetupNoChange, nil
	}
	return connector.SetupUpdate, nil
}

func (f *fakeFactory) CheckStateCompatibility(context.Context, []byte, []byte) (connector.Compatibility, error) {
	return connector.Compatible, nil
}

func (f *fakeFactory) ApplySetupChanges(_ context.Context, changes []connector.ResourceChange) error {
	f.applied = append(f.applied, changes...)
	return nil
}

func (f *fakeFactory) ApplyMutation(context.Context, []connector.Mutation) ([]connector.MutationOutcome, error) {
	return nil, nil
}

func resourceKey(flow string) setup.ResourceKey {
	return setup.ResourceKey{Flow: flow, ResourceType: "fake", Target: connector.Key{FactoryName: "fake", ResourceKey: "r1"}}
}

func TestStageThenCommitCreatesResource(t *testing.T) {
	meta := setup.NewMemMetadata()
	factory := &fakeFactory{}
	eng := setup.NewEngine(meta, func(setup.ResourceKey) (connector.TargetFactory, error) { return factory, nil })

	key := resourceKey("f1")
	desired := json.RawMessage(`{"a":1}`)
	updates := []setup.ResourceUpdate{{Key: key, Desired: desired}}

	newVersion, changes, err := eng.StageChangesForFlow(context.Background(), "f1", 0, updates)
	require.NoError(t, err)
	require.Equal(t, int64(1), newVersion)
	require.Len(t, changes, 1)
	require.Equal(t, connector.SetupCreate, changes[0].Change)

	require.NoError(t, eng.CommitChangesForFlow(context.Background(), "f1", newVersion, updates, changes, nil))
	require.Len(t, factory.applied, 1)

	state, err := meta.GetResourceState(context.Background(), key)
	require.NoError(t, err)
	require.JSONEq(t, string(desired), string(state.Committed))
}

func TestStageIsIdempotentAfterCommit(t *testing.T) {
	meta := setup.NewMemMetadata()
	factory := &fakeFactory{}
	eng := setup.NewEngine(meta, func(setup.ResourceKey) (connector.TargetFactory, error) { return factory, nil })

	key := resourceKey("f1")
	desired := json.RawMessage(`{"a":1}`)
	updates := []setup.ResourceUpdate{{Key: key, Desired: desired}}

	v1, changes1, err := eng.StageChangesForFlow(context.Background(), "f1", 0, updates)
	require.NoError(t, err)
	require.NoError(t, eng.CommitChangesForFlow(context.Background(), "f1", v1, updates, changes1, nil))

	// Re-staging the identical desired state against the new committed
	// state is a NoChange, and applying it again is a no-op: apply_setup
	// is idempotent (spec §4.8's "self-healing" guarantee).
	v2, changes2, err := eng.StageChangesForFlow(context.Background(), "f1", v1, updates)
	require.NoError(t, err)
	require.Equal(t, v1+1, v2)
	require.Equal(t, connector.SetupNoChange, changes2[0].Change)

	require.NoError(t, eng.CommitChangesForFlow(context.Background(), "f1", v2, updates, changes2, nil))
	require.Len(t, factory.applied, 1, "ApplySetupChanges must not be called again for a NoChange resource")
}

func TestStageRejectsStaleVersion(t *testing.T) {
	meta := setup.NewMemMetadata()
	factory := &fakeFactory{}
	eng := setup.NewEngine(meta, func(setup.ResourceKey) (connector.TargetFactory, error) { return factory, nil })

	key := resourceKey("f1")
	updates := []setup.ResourceUpdate{{Key: key, Desired: json.RawMessage(`{"a":1}`)}}

	_, _, err := eng.StageChangesForFlow(context.Background(), "f1", 0, updates)
	require.NoError(t, err)

	_, _, err = eng.StageChangesForFlow(context.Background(), "f1", 0, updates)
	require.ErrorIs(t, err, setup.ErrConflict)
}

func TestUpdateRequiresCompatibility(t *testing.T) {
	meta := setup.NewMemMetadata()
	factory := &fakeFactory{}
	eng := setup.NewEngine(meta, func(setup.ResourceKey) (connector.TargetFactory, error) { return factory, nil })

	key := resourceKey("f1")
	first := []setup.ResourceUpdate{{Key: key, Desired: json.RawMessage(`{"a":1}`)}}
	v1, c1, err := eng.StageChangesForFlow(context.Background(), "f1", 0, first)
	require.NoError(t, err)
	require.NoError(t, eng.CommitChangesForFlow(context.Background(), "f1", v1, first, c1, nil))

	second := []setup.ResourceUpdate{{Key: key, Desired: json.RawMessage(`{"a":2}`)}}
	_, changes, err := eng.StageChangesForFlow(context.Background(), "f1", v1, second)
	require.NoError(t, err)
	require.Equal(t, connector.SetupUpdate, changes[0].Change)
}
