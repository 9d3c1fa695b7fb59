package deployment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/inferlog"
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

func (f *fakeModels) UpdateConfig(_ context.Context, modelID string, patch types.Document) error {
	m, ok := f.models[modelID]
	if !ok {
		return apierror.NotFound("model %s not found", modelID)
	}
	m.Config = m.Config.Merge(patch)
	return nil
}

type fakeHealth struct {
	byModel map[string]*inferlog.AggregateMetrics
}

func (f *fakeHealth) Aggregate(_ context.Context, modelID string, _ time.Duration) (*inferlog.AggregateMetrics, error) {
	if agg, ok := f.byModel[modelID]; ok {
		return agg, nil
	}
	return &inferlog.AggregateMetrics{}, nil
}

type fakeSnapshots struct {
	models      *fakeModels
	captured    map[string]types.Document
	rollbacks   int
	rolledModel string
}

func (f *fakeSnapshots) Snapshot(_ context.Context, modelID string) (string, error) {
	m, ok := f.models.models[modelID]
	if !ok {
		return "", apierror.NotFound("model %s not found", modelID)
	}
	id := uuid.NewString()
	if f.captured == nil {
		f.captured = map[string]types.Document{}
	}
	f.captured[id] = m.Config.Clone()
	return id, nil
}

func (f *fakeSnapshots) Rollback(_ context.Context, modelID, snapshotID string) error {
	config, ok := f.captured[snapshotID]
	if !ok {
		return apierror.NotFound("snapshot %s not found", snapshotID)
	}
	m, ok := f.models.models[modelID]
	if !ok {
		return apierror.NotFound("model %s not found", modelID)
	}
	f.rollbacks++
	f.rolledModel = modelID
	m.Config = config.Clone()
	return f.models.UpdateStatus(context.Background(), modelID, types.ModelStatusCurrent)
}

type memoryLog struct {
	deployments map[string]*Deployment
}

func (l *memoryLog) Begin(_ context.Context, modelID string, strategy types.DeploymentStrategy) (*Deployment, error) {
	for _, d := range l.deployments {
		if d.ModelID == modelID && d.Status == types.DeploymentInProgress {
			return nil, apierror.Conflict("a deployment for model %s is already in progress", modelID)
		}
	}
	d := &Deployment{
		ID:       uuid.NewString(),
		ModelID:  modelID,
		Strategy: strategy,
		Status:   types.DeploymentInProgress,
	}
	if l.deployments == nil {
		l.deployments = map[string]*Deployment{}
	}
	l.deployments[d.ID] = d
	return d, nil
}

func (l *memoryLog) SetTraffic(_ context.Context, deploymentID string, percent int) error {
	l.deployments[deploymentID].TrafficPercentage = percent
	return nil
}

func (l *memoryLog) Finish(_ context.Context, deploymentID string, status types.DeploymentStatus, reason string) error {
	d := l.deployments[deploymentID]
	d.Status = status
	if reason != "" {
		d.RollbackReason = &reason
	}
	return nil
}

type fixture struct {
	manager   *Manager
	models    *fakeModels
	health    *fakeHealth
	snapshots *fakeSnapshots
	log       *memoryLog
}

func newFixture() *fixture {
	models := &fakeModels{models: map[string]*registry.Model{
		"m1": {
			ID: "m1", UseCase: "foundation_layer", Status: types.ModelStatusCurrent,
			Config: types.Document{"endpoint": "http://m1", "traffic_percentage": 100},
		},
		"m2": {
			ID: "m2", UseCase: "foundation_layer", Status: types.ModelStatusCandidate,
			Config: types.Document{"endpoint": "http://m2"},
		},
	}}
	health := &fakeHealth{byModel: map[string]*inferlog.AggregateMetrics{}}
	snapshots := &fakeSnapshots{models: models}
	log := &memoryLog{}

	manager := NewManager(models, health, snapshots, log, logging.Discard())
	manager.sleep = func(context.Context, time.Duration) error { return nil }
	return &fixture{manager: manager, models: models, health: health, snapshots: snapshots, log: log}
}

func TestDeployBlueGreenCompletes(t *testing.T) {
	f := newFixture()

	outcome, err := f.manager.Deploy(context.Background(), "m2", "m1", types.StrategyBlueGreen)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	assert.Equal(t, types.ModelStatusCurrent, f.models.models["m2"].Status)
	assert.Equal(t, types.ModelStatusDeprecated, f.models.models["m1"].Status)
	assert.Equal(t, 100, f.models.models["m2"].TrafficPercentage())

	d := f.log.deployments[outcome.DeploymentID]
	assert.Equal(t, types.DeploymentCompleted, d.Status)
	assert.Equal(t, 100, d.TrafficPercentage)
	assert.Zero(t, f.snapshots.rollbacks)
}

func TestDeployCanaryRollsBackOnErrorRate(t *testing.T) {
	f := newFixture()
	// 25 errors out of 200 inferences: 12.5% > 10% threshold.
	f.health.byModel["m2"] = &inferlog.AggregateMetrics{Total: 200, Errors: 25, AvgLatencyMS: 300}

	outcome, err := f.manager.Deploy(context.Background(), "m2", "m1", types.StrategyCanary)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Reason, "error rate")

	d := f.log.deployments[outcome.DeploymentID]
	assert.Equal(t, types.DeploymentRolledBack, d.Status)
	require.NotNil(t, d.RollbackReason)
	assert.Contains(t, *d.RollbackReason, "error rate")
	// Only the 5% canary step ran.
	assert.Equal(t, 5, d.TrafficPercentage)

	assert.Equal(t, types.ModelStatusCurrent, f.models.models["m1"].Status)
	assert.NotEqual(t, types.ModelStatusCurrent, f.models.models["m2"].Status)
	assert.Equal(t, 1, f.snapshots.rollbacks)
	assert.Equal(t, "m1", f.snapshots.rolledModel)
}

func TestDeployRollsBackOnLatency(t *testing.T) {
	f := newFixture()
	f.health.byModel["m2"] = &inferlog.AggregateMetrics{Total: 50, AvgLatencyMS: 8000}

	outcome, err := f.manager.Deploy(context.Background(), "m2", "m1", types.StrategyAllAtOnce)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Reason, "latency")
}

func TestDeployZeroEventsIsNotAnIssue(t *testing.T) {
	f := newFixture()
	f.health.byModel["m2"] = &inferlog.AggregateMetrics{Total: 0}

	outcome, err := f.manager.Deploy(context.Background(), "m2", "m1", types.StrategyAllAtOnce)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestDeployCancellationRollsBack(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.manager.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	outcome, err := f.manager.Deploy(ctx, "m2", "m1", types.StrategyBlueGreen)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, reasonCancelled, outcome.Reason)

	d := f.log.deployments[outcome.DeploymentID]
	assert.Equal(t, types.DeploymentRolledBack, d.Status)
	assert.Equal(t, types.ModelStatusCurrent, f.models.models["m1"].Status)
}

func TestDeploySerializedPerModel(t *testing.T) {
	f := newFixture()
	_, err := f.log.Begin(context.Background(), "m2", types.StrategyCanary)
	require.NoError(t, err)

	_, err = f.manager.Deploy(context.Background(), "m2", "m1", types.StrategyCanary)
	require.Error(t, err)
	assert.True(t, apierror.IsConflict(err))
}

func TestDeployUnknownModel(t *testing.T) {
	f := newFixture()

	_, err := f.manager.Deploy(context.Background(), "ghost", "m1", types.StrategyCanary)
	require.Error(t, err)
	assert.True(t, apierror.IsNotFound(err))
}

func TestDeployRejectsRollbackStrategy(t *testing.T) {
	f := newFixture()

	_, err := f.manager.Deploy(context.Background(), "m2", "m1", types.StrategyRollback)
	require.Error(t, err)
}

func TestDeployPartialTrafficKeepsTesting(t *testing.T) {
	f := newFixture()

	var statuses []types.ModelStatus
	f.manager.sleep = func(context.Context, time.Duration) error {
		statuses = append(statuses, f.models.models["m2"].Status)
		return nil
	}

	outcome, err := f.manager.Deploy(context.Background(), "m2", "m1", types.StrategyCanary)
	require.NoError(t, err)
	require.True(t, outcome.Success)

	// testing during 5/25/50, current at 100
	require.Len(t, statuses, 4)
	assert.Equal(t, types.ModelStatusTesting, statuses[0])
	assert.Equal(t, types.ModelStatusTesting, statuses[2])
	assert.Equal(t, types.ModelStatusCurrent, statuses[3])
}

func TestScheduleShapes(t *testing.T) {
	blueGreen, err := Schedule(types.StrategyBlueGreen)
	require.NoError(t, err)
	require.Len(t, blueGreen, 5)
	assert.Equal(t, 10, blueGreen[0].Percent)
	assert.Equal(t, 300*time.Second, blueGreen[0].Observe)

	canary, err := Schedule(types.StrategyCanary)
	require.NoError(t, err)
	require.Len(t, canary, 4)
	assert.Equal(t, 5, canary[0].Percent)
	assert.Equal(t, 900*time.Second, canary[0].Observe)
	assert.Equal(t, 100, canary[3].Percent)

	allAtOnce, err := Schedule(types.StrategyAllAtOnce)
	require.NoError(t, err)
	require.Len(t, allAtOnce, 1)
	assert.Equal(t, 100, allAtOnce[0].Percent)
	assert.Equal(t, 60*time.Second, allAtOnce[0].Observe)

	_, err = Schedule("weighted")
	require.Error(t, err)
}
