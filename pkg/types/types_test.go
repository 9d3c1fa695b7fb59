package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUseCaseForLayer(t *testing.T) {
	cases := map[string]string{
		"foundation":       "foundation_layer",
		"customization":    "customization_layer",
		"interaction":      "interaction_layer",
		"coordination":     "coordination_layer",
		"story_generation": "story_generation",
		"srl_gold_tier":    "srl_gold_tier",
		"dialogue":         "dialogue",
	}

	for layer, want := range cases {
		t.Run(layer, func(t *testing.T) {
			assert.Equal(t, want, UseCaseForLayer(layer))
		})
	}
}

func TestSRLTier(t *testing.T) {
	assert.Equal(t, "srl_gold_tier", SRLTierGold.UseCase())
	assert.Equal(t, "srl_bronze_tier", SRLTierBronze.UseCase())

	assert.True(t, IsSRLUseCase("srl_gold_tier"))
	assert.True(t, IsSRLUseCase("srl_silver_tier"))
	assert.False(t, IsSRLUseCase("foundation_layer"))
	assert.False(t, IsSRLUseCase("srl_gold"))
}

func TestModelStatusValidate(t *testing.T) {
	for _, s := range []ModelStatus{
		ModelStatusCandidate, ModelStatusTesting, ModelStatusCurrent,
		ModelStatusDeprecated, ModelStatusNeedsReview, ModelStatusFailed,
	} {
		assert.NoError(t, s.Validate())
	}
	assert.Error(t, ModelStatus("shipped").Validate())
}

func TestDeploymentStrategyValidate(t *testing.T) {
	assert.NoError(t, StrategyBlueGreen.Validate())
	assert.NoError(t, StrategyCanary.Validate())
	assert.NoError(t, StrategyAllAtOnce.Validate())
	assert.Error(t, StrategyRollback.Validate(), "rollback is internal only")
	assert.Error(t, DeploymentStrategy("yolo").Validate())
}

func TestSeverity(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))

	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityLow, SeverityCritical))
	assert.Equal(t, SeverityHigh, MaxSeverity(SeverityHigh, SeverityMedium))

	assert.Equal(t, SeverityCritical, SeverityForScore(0.95))
	assert.Equal(t, SeverityHigh, SeverityForScore(0.8))
	assert.Equal(t, SeverityMedium, SeverityForScore(0.6))
	assert.Equal(t, SeverityLow, SeverityForScore(0.5))
}

func TestDocumentAccessors(t *testing.T) {
	raw := []byte(`{"endpoint":"http://ep/generate","lora_rank":64,"score":0.82,"blocked":false}`)

	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))

	endpoint, ok := doc.String("endpoint")
	require.True(t, ok)
	assert.Equal(t, "http://ep/generate", endpoint)

	rank, ok := doc.Int("lora_rank")
	require.True(t, ok)
	assert.Equal(t, 64, rank)

	score, ok := doc.Float("score")
	require.True(t, ok)
	assert.InDelta(t, 0.82, score, 1e-9)

	blocked, ok := doc.Bool("blocked")
	require.True(t, ok)
	assert.False(t, blocked)

	_, ok = doc.Float("missing")
	assert.False(t, ok)
}

func TestDocumentMerge(t *testing.T) {
	base := Document{"endpoint": "http://old", "traffic_percentage": 100}
	patch := Document{"traffic_percentage": 25, "traffic_shifted_at": "2026-01-01T00:00:00Z"}

	merged := base.Merge(patch)

	// receiver untouched
	assert.Equal(t, 100, base["traffic_percentage"])

	pct, ok := merged.Int("traffic_percentage")
	require.True(t, ok)
	assert.Equal(t, 25, pct)
	endpoint, _ := merged.String("endpoint")
	assert.Equal(t, "http://old", endpoint)

	var nilDoc Document
	out := nilDoc.Merge(Document{"a": 1})
	v, ok := out.Int("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestDocumentSQLRoundTrip(t *testing.T) {
	doc := Document{"endpoint": "http://ep", "lora_rank": float64(64)}

	val, err := doc.Value()
	require.NoError(t, err)

	var back Document
	require.NoError(t, back.Scan(val))
	assert.Equal(t, doc, back)

	var fromNil Document
	require.NoError(t, fromNil.Scan(nil))
	assert.Nil(t, fromNil)
}

func TestGenerateRequestCachingAllowed(t *testing.T) {
	req := &GenerateRequest{}
	assert.True(t, req.CachingAllowed())

	no := false
	req.UseCache = &no
	assert.False(t, req.CachingAllowed())

	yes := true
	req.UseCache = &yes
	assert.True(t, req.CachingAllowed())
}
