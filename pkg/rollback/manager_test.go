package rollback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

type fakeModels struct {
	models map[string]*registry.Model
}

func (f *fakeModels) Get(_ context.Context, modelID string) (*registry.Model, error) {
	m, ok := f.models[modelID]
	if !ok {
		return nil, apierror.NotFound("model %s not found", modelID)
	}
	out := *m
	return &out, nil
}

func (f *fakeModels) UpdateStatus(_ context.Context, modelID string, status types.ModelStatus) error {
	m, ok := f.models[modelID]
	if !ok {
		return apierror.NotFound("model %s not found", modelID)
	}
	if status == types.ModelStatusCurrent {
		for id, other := range f.models {
			if id != modelID && other.UseCase == m.UseCase && other.Status == types.ModelStatusCurrent {
				other.Status = types.ModelStatusDeprecated
			}
		}
	}
	m.Status = status
	return nil
}

func (f *fakeModels) ReplaceConfig(_ context.Context, modelID string, config types.Document) error {
	m, ok := f.models[modelID]
	if !ok {
		return apierror.NotFound("model %s not found", modelID)
	}
	m.Config = config.Clone()
	return nil
}

type fakeRecorder struct {
	modelID string
	traffic int
	reason  string
	calls   int
}

func (f *fakeRecorder) RecordRollback(_ context.Context, modelID string, trafficPercentage int, reason string) error {
	f.calls++
	f.modelID = modelID
	f.traffic = trafficPercentage
	f.reason = reason
	return nil
}

func newTestManager(models map[string]*registry.Model) (*Manager, *MemorySnapshotStore, *fakeRecorder) {
	snapshots := NewMemorySnapshotStore()
	recorder := &fakeRecorder{}
	manager := NewManager(&fakeModels{models: models}, snapshots, nil, recorder, logging.Discard())
	return manager, snapshots, recorder
}

func TestSnapshotThenRollbackRestoresConfig(t *testing.T) {
	ctx := context.Background()
	m1 := &registry.Model{
		ID: "m1", UseCase: "foundation_layer", Status: types.ModelStatusCurrent,
		Config: types.Document{
			"endpoint":           "http://ep/generate",
			"traffic_percentage": 100,
			"artifact_uri":       "s3://models/m1",
		},
	}
	models := map[string]*registry.Model{"m1": m1}
	manager, _, recorder := newTestManager(models)

	snapshotID, err := manager.Snapshot(ctx, "m1")
	require.NoError(t, err)
	require.NotEmpty(t, snapshotID)

	// Mutate state after the snapshot: demote and change configuration.
	m1.Status = types.ModelStatusDeprecated
	m1.Config = types.Document{"endpoint": "http://other/generate", "extra": true}

	require.NoError(t, manager.Rollback(ctx, "m1", snapshotID))

	assert.Equal(t, types.ModelStatusCurrent, m1.Status)
	assert.Equal(t, "http://ep/generate", m1.Endpoint())
	_, hasExtra := m1.Config["extra"]
	assert.False(t, hasExtra, "restore must be exact, not a merge")

	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, 100, recorder.traffic)
	assert.Contains(t, recorder.reason, snapshotID)
}

func TestRollbackUsesLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	m1 := &registry.Model{
		ID: "m1", UseCase: "foundation_layer", Status: types.ModelStatusCurrent,
		Config: types.Document{"endpoint": "http://v1"},
	}
	manager, _, _ := newTestManager(map[string]*registry.Model{"m1": m1})

	_, err := manager.Snapshot(ctx, "m1")
	require.NoError(t, err)

	m1.Config = types.Document{"endpoint": "http://v2"}
	_, err = manager.Snapshot(ctx, "m1")
	require.NoError(t, err)

	m1.Config = types.Document{"endpoint": "http://broken"}
	require.NoError(t, manager.Rollback(ctx, "m1", ""))

	assert.Equal(t, "http://v2", m1.Endpoint())
}

func TestRollbackMissingSnapshot(t *testing.T) {
	manager, _, _ := newTestManager(map[string]*registry.Model{})

	err := manager.Rollback(context.Background(), "m1", "nope")
	require.Error(t, err)
	assert.True(t, apierror.IsNotFound(err))
}

func TestRollbackRejectsForeignSnapshot(t *testing.T) {
	ctx := context.Background()
	m1 := &registry.Model{ID: "m1", UseCase: "a", Status: types.ModelStatusCurrent}
	m2 := &registry.Model{ID: "m2", UseCase: "b", Status: types.ModelStatusCurrent}
	manager, _, _ := newTestManager(map[string]*registry.Model{"m1": m1, "m2": m2})

	snapshotID, err := manager.Snapshot(ctx, "m1")
	require.NoError(t, err)

	err = manager.Rollback(ctx, "m2", snapshotID)
	require.Error(t, err)
	assert.True(t, apierror.IsInvalidArgument(err))
}

func TestSnapshotUnknownModel(t *testing.T) {
	manager, _, _ := newTestManager(map[string]*registry.Model{})

	_, err := manager.Snapshot(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, apierror.IsNotFound(err))
}
