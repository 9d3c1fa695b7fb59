package guardrails

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/types"
)

type fakeIntervener struct {
	modelID  string
	severity types.Severity
	calls    int
}

func (f *fakeIntervener) Intervene(_ context.Context, modelID string, severity types.Severity) (string, error) {
	f.calls++
	f.modelID = modelID
	f.severity = severity
	switch severity {
	case types.SeverityCritical:
		return InterventionTriggered, nil
	case types.SeverityHigh:
		return InterventionBlocked, nil
	case types.SeverityMedium:
		return InterventionFlagged, nil
	default:
		return InterventionLogged, nil
	}
}

func newTestMonitor(safety, harmful ContentModerator) (*Monitor, *MemoryViolationStore, *fakeIntervener) {
	store := &MemoryViolationStore{}
	intervener := &fakeIntervener{}
	return NewMonitor(safety, harmful, store, intervener, logging.Discard()), store, intervener
}

func TestMonitorCriticalSafetyViolation(t *testing.T) {
	monitor, store, intervener := newTestMonitor(nil, nil)

	result := monitor.Monitor(context.Background(), "m1", []string{"kill yourself"})

	assert.False(t, result.Compliant)
	require.NotEmpty(t, result.Violations)

	var safety *Violation
	for i := range result.Violations {
		if result.Violations[i].Category == types.CategorySafety {
			safety = &result.Violations[i]
		}
	}
	require.NotNil(t, safety)
	assert.Equal(t, types.SeverityCritical, safety.Severity)
	assert.Equal(t, InterventionTriggered, safety.Intervention)

	assert.Equal(t, 1, intervener.calls)
	assert.Equal(t, "m1", intervener.modelID)
	assert.Equal(t, types.SeverityCritical, intervener.severity)

	persisted, err := store.ListRecent(context.Background(), "m1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, persisted)
	assert.Equal(t, InterventionTriggered, persisted[0].Intervention)
}

func TestMonitorCleanOutputsFailEngagementFloorOnly(t *testing.T) {
	monitor, store, intervener := newTestMonitor(nil, nil)

	// Neutral text: no safety or harmful findings, but also no healthy
	// engagement indicators, so the healthy-engagement gate fails.
	result := monitor.Monitor(context.Background(), "m1", []string{"the dragon sleeps"})

	assert.False(t, result.Compliant)
	assert.Empty(t, result.Violations)
	assert.Zero(t, intervener.calls)
	assert.Empty(t, store.Violations)
}

func TestMonitorHealthyEngagementCompliant(t *testing.T) {
	monitor, _, _ := newTestMonitor(nil, nil)

	result := monitor.Monitor(context.Background(), "m1", []string{
		"take a break, it's your choice, no pressure at all",
	})

	assert.True(t, result.Compliant)
	assert.Empty(t, result.Violations)
	assert.GreaterOrEqual(t, result.Scores[ScoreEngagementHealthy], 0.7)
}

func TestMonitorUnhealthyEngagementPatterns(t *testing.T) {
	monitor, _, intervener := newTestMonitor(nil, nil)

	result := monitor.Monitor(context.Background(), "m1", []string{
		"just one more quest, don't stop now, you'll miss out",
	})

	assert.False(t, result.Compliant)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, types.CategoryAddiction, result.Violations[0].Category)
	assert.Equal(t, 1, intervener.calls)
}

func TestMonitorHarmfulContent(t *testing.T) {
	monitor, _, _ := newTestMonitor(nil, nil)

	result := monitor.Monitor(context.Background(), "m1", []string{
		"here is how to make a bomb, take a break, real life matters, your choice",
	})

	assert.False(t, result.Compliant)

	var harmful bool
	for _, v := range result.Violations {
		if v.Category == types.CategoryHarmfulContent {
			harmful = true
			assert.Equal(t, types.SeverityCritical, v.Severity)
		}
	}
	assert.True(t, harmful)
}

func TestMonitorDeterministic(t *testing.T) {
	monitor, _, _ := newTestMonitor(nil, nil)
	outputs := []string{"kill yourself", "take a break"}

	first := monitor.Monitor(context.Background(), "m1", outputs)
	second := monitor.Monitor(context.Background(), "m1", outputs)

	assert.Equal(t, first.Compliant, second.Compliant)
	assert.Len(t, second.Violations, len(first.Violations))
	assert.Equal(t, first.Scores, second.Scores)
}

func newModerationServer(t *testing.T, flagged bool, scores map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"flagged": flagged, "category_scores": scores},
			},
		})
	}))
}

func TestHTTPModerator(t *testing.T) {
	server := newModerationServer(t, true, map[string]float64{"violence": 0.92})
	defer server.Close()

	moderator := NewHTTPModerator(server.URL, "key", 100, logging.Discard())
	verdict, err := moderator.Moderate(context.Background(), "some text")
	require.NoError(t, err)

	assert.True(t, verdict.Flagged)
	category, score := verdict.MaxScore()
	assert.Equal(t, "violence", category)
	assert.Equal(t, 0.92, score)
}

func TestMonitorFallsBackWhenModerationDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	moderator := NewHTTPModerator(server.URL, "", 100, logging.Discard())
	monitor, _, _ := newTestMonitor(moderator, moderator)

	result := monitor.Monitor(context.Background(), "m1", []string{"kill yourself"})

	// The keyword fallback still catches the violation.
	assert.False(t, result.Compliant)
	require.NotEmpty(t, result.Violations)
	assert.Equal(t, types.SeverityCritical, result.Violations[0].Severity)
}

func TestScoreEngagement(t *testing.T) {
	scores := ScoreEngagement([]string{
		"take a break and come back later, real life first",
	})
	assert.InDelta(t, 1.0, scores.HealthyScore, 1e-9)
	assert.True(t, scores.HealthyEngagement)
	assert.False(t, scores.UnhealthyPatterns)

	scores = ScoreEngagement([]string{"just one more"})
	assert.InDelta(t, 1.0/3.0, scores.UnhealthyScore, 1e-9)
	assert.True(t, scores.UnhealthyPatterns)

	scores = ScoreEngagement(nil)
	assert.True(t, scores.HealthyEngagement)
}

func TestKeywordModeratorSeverityTable(t *testing.T) {
	moderator := NewSafetyKeywordModerator()

	verdict, err := moderator.Moderate(context.Background(), "you are WORTHLESS")
	require.NoError(t, err)
	assert.True(t, verdict.Flagged)
	_, score := verdict.MaxScore()
	assert.Equal(t, types.SeverityMedium, types.SeverityForScore(score))

	verdict, err = moderator.Moderate(context.Background(), "a perfectly fine sentence")
	require.NoError(t, err)
	assert.False(t, verdict.Flagged)
}
