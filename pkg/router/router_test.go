package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

type fakeModels struct {
	current    map[string]*registry.Model
	candidates map[string][]registry.Model
}

func (f *fakeModels) GetCurrent(_ context.Context, useCase string) (*registry.Model, error) {
	if m, ok := f.current[useCase]; ok {
		return m, nil
	}
	return nil, apierror.NotFound("no current model for use case %s", useCase)
}

func (f *fakeModels) ListCandidates(_ context.Context, useCase string) ([]registry.Model, error) {
	return f.candidates[useCase], nil
}

type fakeMetrics struct {
	byModel map[string]*inferlog.AggregateMetrics
}

func (f *fakeMetrics) Aggregate(_ context.Context, modelID string, _ time.Duration) (*inferlog.AggregateMetrics, error) {
	if agg, ok := f.byModel[modelID]; ok {
		return agg, nil
	}
	return &inferlog.AggregateMetrics{}, nil
}

func model(id string, kind types.ModelKind, status types.ModelStatus, metrics types.Document) registry.Model {
	return registry.Model{
		ID: id, Name: id, Kind: kind, UseCase: "foundation_layer",
		Status: status, Metrics: metrics,
	}
}

func TestSelectFallbackWhenUseCaseEmpty(t *testing.T) {
	r := NewRouter(&fakeModels{}, &fakeMetrics{}, nil, logging.Discard())

	decision, err := r.Select(context.Background(), "foundation", nil, types.PriorityBalanced)
	require.NoError(t, err)
	assert.True(t, decision.Fallback)
	assert.Equal(t, FallbackModelID, decision.ModelID)
}

func TestSelectKeepsCurrentOnTie(t *testing.T) {
	current := model("m-current", types.ModelKindSelfServed, types.ModelStatusCurrent, nil)
	candidate := model("m-cand", types.ModelKindSelfServed, types.ModelStatusCandidate, nil)

	r := NewRouter(&fakeModels{
		current:    map[string]*registry.Model{"foundation_layer": &current},
		candidates: map[string][]registry.Model{"foundation_layer": {candidate}},
	}, &fakeMetrics{}, nil, logging.Discard())

	decision, err := r.Select(context.Background(), "foundation", nil, types.PriorityBalanced)
	require.NoError(t, err)
	assert.Equal(t, "m-current", decision.ModelID)
	assert.Contains(t, decision.Rationale, "current model retained")
}

func TestSelectPrefersHigherQualityCandidate(t *testing.T) {
	current := model("m-current", types.ModelKindSelfServed, types.ModelStatusCurrent,
		types.Document{"coherence": 0.5, "relevance": 0.5, "creativity": 0.5})
	candidate := model("m-cand", types.ModelKindSelfServed, types.ModelStatusCandidate,
		types.Document{"coherence": 0.95, "relevance": 0.95, "creativity": 0.95})

	r := NewRouter(&fakeModels{
		current:    map[string]*registry.Model{"foundation_layer": &current},
		candidates: map[string][]registry.Model{"foundation_layer": {candidate}},
	}, &fakeMetrics{}, nil, logging.Discard())

	decision, err := r.Select(context.Background(), "foundation", nil, types.PriorityQuality)
	require.NoError(t, err)
	assert.Equal(t, "m-cand", decision.ModelID)
	assert.NotNil(t, decision.Model)
}

func TestSelectCostPriorityFavorsSelfServed(t *testing.T) {
	hosted := model("m-hosted", types.ModelKindHosted, types.ModelStatusCurrent,
		types.Document{"total_price": 0.01, "coherence": 0.9, "relevance": 0.9, "creativity": 0.9})
	selfServed := model("m-self", types.ModelKindSelfServed, types.ModelStatusCandidate,
		types.Document{"coherence": 0.7, "relevance": 0.7, "creativity": 0.7})

	r := NewRouter(&fakeModels{
		current:    map[string]*registry.Model{"foundation_layer": &hosted},
		candidates: map[string][]registry.Model{"foundation_layer": {selfServed}},
	}, &fakeMetrics{}, nil, logging.Discard())

	decision, err := r.Select(context.Background(), "foundation", nil, types.PriorityCost)
	require.NoError(t, err)
	assert.Equal(t, "m-self", decision.ModelID)
}

func TestSelectLatencyBuckets(t *testing.T) {
	fast := model("m-fast", types.ModelKindSelfServed, types.ModelStatusCandidate, nil)
	slow := model("m-slow", types.ModelKindSelfServed, types.ModelStatusCurrent, nil)
	fast.UseCase, slow.UseCase = "interaction_layer", "interaction_layer"

	metrics := &fakeMetrics{byModel: map[string]*inferlog.AggregateMetrics{
		"m-fast": {Total: 100, AvgLatencyMS: 80},
		"m-slow": {Total: 100, AvgLatencyMS: 2500},
	}}

	r := NewRouter(&fakeModels{
		current:    map[string]*registry.Model{"interaction_layer": &slow},
		candidates: map[string][]registry.Model{"interaction_layer": {fast}},
	}, metrics, nil, logging.Discard())

	// The interaction profile is latency-heavy, so the fast candidate wins.
	decision, err := r.Select(context.Background(), "interaction", nil, types.PriorityBalanced)
	require.NoError(t, err)
	assert.Equal(t, "m-fast", decision.ModelID)
}

func TestSelectRejectsUnknownPriority(t *testing.T) {
	r := NewRouter(&fakeModels{}, &fakeMetrics{}, nil, logging.Discard())

	_, err := r.Select(context.Background(), "foundation", nil, "urgent")
	require.Error(t, err)
}

func TestCheckForBetter(t *testing.T) {
	current := model("m1", types.ModelKindSelfServed, types.ModelStatusCurrent,
		types.Document{"coherence": 0.5, "relevance": 0.5, "creativity": 0.5})
	better := model("m2", types.ModelKindSelfServed, types.ModelStatusCandidate,
		types.Document{"benchmark": 0.95, "coherence": 0.95, "relevance": 0.95, "creativity": 0.95})

	r := NewRouter(&fakeModels{
		current:    map[string]*registry.Model{"foundation_layer": &current},
		candidates: map[string][]registry.Model{"foundation_layer": {better}},
	}, &fakeMetrics{}, nil, logging.Discard())

	found, id, err := r.CheckForBetter(context.Background(), "foundation_layer", "m1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "m2", id)

	// Stale caller view: nothing to compare.
	found, _, err = r.CheckForBetter(context.Background(), "foundation_layer", "m-old")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWeightsNormalized(t *testing.T) {
	for _, useCase := range []string{"foundation_layer", "story_generation", "interaction_layer", "coordination_layer"} {
		for _, priority := range []types.Priority{types.PriorityCost, types.PriorityBalanced, types.PriorityQuality} {
			w := weightsFor(useCase, priority)
			sum := w.Performance + w.Cost + w.Latency + w.Quality
			assert.InDelta(t, 1.0, sum, 1e-9, "use case %s priority %s", useCase, priority)
		}
	}
}
