package metaloop

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/deployment"
	"github.com/questforge-ai/modelplane/pkg/discovery"
	"github.com/questforge-ai/modelplane/pkg/guardrails"
	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

type fakeModels struct {
	currents    map[string]*registry.Model
	candidates  map[string][]registry.Model
	registered  []registry.RegisterParams
	performance map[string]types.Document
	configs     map[string]types.Document
}

func newFakeModels() *fakeModels {
	return &fakeModels{
		currents:    map[string]*registry.Model{},
		candidates:  map[string][]registry.Model{},
		performance: map[string]types.Document{},
		configs:     map[string]types.Document{},
	}
}

func (f *fakeModels) UseCasesWithCurrent(context.Context) ([]string, error) {
	var out []string
	for useCase := range f.currents {
		out = append(out, useCase)
	}
	return out, nil
}

func (f *fakeModels) GetCurrent(_ context.Context, useCase string) (*registry.Model, error) {
	if m, ok := f.currents[useCase]; ok {
		clone := *m
		return &clone, nil
	}
	return nil, apierror.NotFound("no current model for use case %s", useCase)
}

func (f *fakeModels) ListCandidates(_ context.Context, useCase string) ([]registry.Model, error) {
	return f.candidates[useCase], nil
}

func (f *fakeModels) Register(_ context.Context, params registry.RegisterParams) (string, error) {
	f.registered = append(f.registered, params)
	return fmt.Sprintf("disc-%d", len(f.registered)), nil
}

func (f *fakeModels) UpdatePerformance(_ context.Context, modelID string, metrics types.Document) error {
	f.performance[modelID] = metrics
	return nil
}

func (f *fakeModels) UpdateConfig(_ context.Context, modelID string, patch types.Document) error {
	f.configs[modelID] = f.configs[modelID].Merge(patch)
	return nil
}

type fakeMetrics struct {
	aggregates map[string]*inferlog.AggregateMetrics
	outputs    map[string][]string
}

func (f *fakeMetrics) Aggregate(_ context.Context, modelID string, _ time.Duration) (*inferlog.AggregateMetrics, error) {
	if agg, ok := f.aggregates[modelID]; ok {
		return agg, nil
	}
	return &inferlog.AggregateMetrics{}, nil
}

func (f *fakeMetrics) Query(_ context.Context, params inferlog.QueryParams) ([]inferlog.InferenceLog, error) {
	var logs []inferlog.InferenceLog
	for _, output := range f.outputs[params.ModelID] {
		logs = append(logs, inferlog.InferenceLog{ModelID: params.ModelID, Output: output})
	}
	return logs, nil
}

type fakeMonitor struct {
	results map[string]*guardrails.Result
	seen    map[string][]string
}

func (f *fakeMonitor) Monitor(_ context.Context, modelID string, outputs []string) *guardrails.Result {
	if f.seen == nil {
		f.seen = map[string][]string{}
	}
	f.seen[modelID] = outputs
	if r, ok := f.results[modelID]; ok {
		return r
	}
	return &guardrails.Result{Compliant: true}
}

type fakeChecker struct {
	better map[string]string
}

func (f *fakeChecker) CheckForBetter(_ context.Context, useCase, _ string) (bool, string, error) {
	if id, ok := f.better[useCase]; ok {
		return true, id, nil
	}
	return false, "", nil
}

type fakeDeployer struct {
	deployed [][2]string
	outcome  *deployment.Outcome
}

func (f *fakeDeployer) Deploy(_ context.Context, newID, currentID string, _ types.DeploymentStrategy) (*deployment.Outcome, error) {
	f.deployed = append(f.deployed, [2]string{newID, currentID})
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &deployment.Outcome{DeploymentID: "d1", Success: true}, nil
}

type staticScanner struct {
	candidates []discovery.Candidate
}

func (s *staticScanner) Name() string { return "static" }

func (s *staticScanner) Scan(context.Context, string) ([]discovery.Candidate, error) {
	return s.candidates, nil
}

func currentModel(id, useCase string) *registry.Model {
	return &registry.Model{
		ID:      id,
		Name:    "model-" + id,
		Kind:    types.ModelKindSelfServed,
		UseCase: useCase,
		Status:  types.ModelStatusCurrent,
		Version: "1",
	}
}

func newTestLoop(models ModelSource, metrics MetricsSource, monitor OutputMonitor,
	checker BetterChecker, deployer Deployer, scanners []discovery.Scanner) *Loop {
	l := NewLoop(models, metrics, monitor, checker, deployer, scanners, time.Hour, nil)
	l.sleep = func(context.Context, time.Duration) error { return nil }
	return l
}

func TestCycleHealthyQuietState(t *testing.T) {
	models := newFakeModels()
	models.currents["interaction_layer"] = currentModel("m1", "interaction_layer")
	metrics := &fakeMetrics{
		aggregates: map[string]*inferlog.AggregateMetrics{
			"m1": {Total: 100, Errors: 2, AvgLatencyMS: 150},
		},
		outputs: map[string][]string{"m1": {"a friendly reply", "another friendly reply"}},
	}

	loop := newTestLoop(models, metrics, &fakeMonitor{}, &fakeChecker{}, &fakeDeployer{}, nil)
	report, err := loop.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.UseCases)
	assert.Empty(t, report.Decisions)

	// Measured health landed on the model record.
	perf := models.performance["m1"]
	require.NotNil(t, perf)
	rate, _ := perf.Float("error_rate")
	assert.InDelta(t, 0.02, rate, 1e-9)
}

func TestCycleRegistersDiscoveredCandidates(t *testing.T) {
	models := newFakeModels()
	models.currents["interaction_layer"] = currentModel("m1", "interaction_layer")
	models.candidates["interaction_layer"] = []registry.Model{
		{Name: "already-known", Version: "2"},
	}

	scanner := &staticScanner{candidates: []discovery.Candidate{
		{Name: "already-known", Kind: types.ModelKindHosted, Provider: "p", Version: "2"},
		{Name: "brand-new", Kind: types.ModelKindHosted, Provider: "p", Version: "1"},
		{Name: "model-m1", Kind: types.ModelKindHosted, Provider: "p", Version: "1"},
	}}

	loop := newTestLoop(models, &fakeMetrics{}, &fakeMonitor{}, &fakeChecker{}, &fakeDeployer{}, []discovery.Scanner{scanner})
	report, err := loop.RunCycle(context.Background())
	require.NoError(t, err)

	// Only the genuinely new model is registered.
	assert.Equal(t, 1, report.Registered)
	require.Len(t, models.registered, 1)
	assert.Equal(t, "brand-new", models.registered[0].Name)
	assert.Equal(t, "interaction_layer", models.registered[0].UseCase)
}

func TestCycleGuardrailsFreezeBlocksDeployment(t *testing.T) {
	models := newFakeModels()
	models.currents["interaction_layer"] = currentModel("m1", "interaction_layer")
	metrics := &fakeMetrics{outputs: map[string][]string{"m1": {"bad output"}}}

	monitor := &fakeMonitor{results: map[string]*guardrails.Result{
		"m1": {
			Compliant: false,
			Violations: []guardrails.Violation{
				{ModelID: "m1", Category: types.CategorySafety, Severity: types.SeverityCritical},
			},
		},
	}}
	checker := &fakeChecker{better: map[string]string{"interaction_layer": "cand-9"}}
	deployer := &fakeDeployer{}

	loop := newTestLoop(models, metrics, monitor, checker, deployer, nil)
	report, err := loop.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Decisions, 2)
	// Critical guardrails decision sorts before the deployment decision.
	assert.Equal(t, DecisionRollback, report.Decisions[0].Type)
	assert.True(t, report.Decisions[0].Implemented)
	assert.Equal(t, DecisionDeployModel, report.Decisions[1].Type)
	assert.False(t, report.Decisions[1].Implemented)
	assert.Contains(t, report.Decisions[1].Error, "skipped")
	assert.Empty(t, deployer.deployed)
}

func TestCycleDeploysBetterCandidate(t *testing.T) {
	models := newFakeModels()
	models.currents["story_generation"] = currentModel("m1", "story_generation")
	checker := &fakeChecker{better: map[string]string{"story_generation": "cand-2"}}
	deployer := &fakeDeployer{}

	loop := newTestLoop(models, &fakeMetrics{}, &fakeMonitor{}, checker, deployer, nil)
	report, err := loop.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Decisions, 1)
	assert.Equal(t, DecisionDeployModel, report.Decisions[0].Type)
	assert.True(t, report.Decisions[0].Implemented)
	require.Len(t, deployer.deployed, 1)
	assert.Equal(t, [2]string{"cand-2", "m1"}, deployer.deployed[0])
}

func TestCycleDegradedHealthAdjustsParameters(t *testing.T) {
	models := newFakeModels()
	models.currents["interaction_layer"] = currentModel("m1", "interaction_layer")
	metrics := &fakeMetrics{
		aggregates: map[string]*inferlog.AggregateMetrics{
			"m1": {Total: 50, Errors: 10, AvgLatencyMS: 300},
		},
	}

	loop := newTestLoop(models, metrics, &fakeMonitor{}, &fakeChecker{}, &fakeDeployer{}, nil)
	report, err := loop.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Decisions, 1)
	d := report.Decisions[0]
	assert.Equal(t, DecisionAdjustParameters, d.Type)
	assert.True(t, d.Implemented)
	assert.Contains(t, d.Reason, "error rate")

	tempCap, ok := models.configs["m1"].Float(configKeyTemperatureCap)
	require.True(t, ok)
	assert.Equal(t, 0.7, tempCap)
}

func TestCycleZeroTrafficNoDecisions(t *testing.T) {
	models := newFakeModels()
	models.currents["interaction_layer"] = currentModel("m1", "interaction_layer")

	loop := newTestLoop(models, &fakeMetrics{}, &fakeMonitor{}, &fakeChecker{}, &fakeDeployer{}, nil)
	report, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Decisions)
	assert.Empty(t, models.performance)
}

func TestRunStopsOnCancel(t *testing.T) {
	models := newFakeModels()
	loop := newTestLoop(models, &fakeMetrics{}, &fakeMonitor{}, &fakeChecker{}, &fakeDeployer{}, nil)

	cycles := 0
	loop.sleep = func(ctx context.Context, _ time.Duration) error {
		cycles++
		if cycles >= 3 {
			return context.Canceled
		}
		return nil
	}

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, cycles)
}
