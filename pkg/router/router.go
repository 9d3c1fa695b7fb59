package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// FallbackModelID is the sentinel decision when the registry has no model for
// the requested use case.
const FallbackModelID = "fallback"

// Decision is the outcome of one routing pass. Immutable once returned.
type Decision struct {
	ModelID   string
	ModelName string
	Model     *registry.Model
	Priority  types.Priority
	Rationale string
	// Fallback means no model exists for the use case; the caller should
	// serve its static fallback.
	Fallback bool
}

// ModelSource is the slice of the registry the router reads.
type ModelSource interface {
	GetCurrent(ctx context.Context, useCase string) (*registry.Model, error)
	ListCandidates(ctx context.Context, useCase string) ([]registry.Model, error)
}

// MetricsSource supplies recent measured performance per model.
type MetricsSource interface {
	Aggregate(ctx context.Context, modelID string, window time.Duration) (*inferlog.AggregateMetrics, error)
}

// RequestCounter reports how many requests a model has served, used to break
// score ties toward the less-loaded model.
type RequestCounter interface {
	RequestCount(modelID string) int64
}

// CostBenefitRouter selects the model for a request by scoring candidates on
// performance, cost efficiency, latency, and quality.
type CostBenefitRouter struct {
	models   ModelSource
	metrics  MetricsSource
	counters RequestCounter
	logger   logging.Interface

	window            time.Duration
	costBaselinePer1K float64
}

// NewRouter creates a CostBenefitRouter. counters may be nil.
func NewRouter(models ModelSource, metrics MetricsSource, counters RequestCounter, logger logging.Interface) *CostBenefitRouter {
	return &CostBenefitRouter{
		models:            models,
		metrics:           metrics,
		counters:          counters,
		logger:            logger,
		window:            time.Hour,
		costBaselinePer1K: 0.001,
	}
}

// Select scores the current model and all candidates for the task's use case
// and returns the best. The current model wins ties: a candidate must score
// strictly higher to displace it.
func (r *CostBenefitRouter) Select(ctx context.Context, taskType string, _ types.Document, priority types.Priority) (*Decision, error) {
	if err := priority.Validate(); err != nil {
		return nil, err
	}
	useCase := types.UseCaseForLayer(taskType)

	current, candidates := r.fetch(ctx, useCase)
	if current == nil && len(candidates) == 0 {
		return &Decision{
			ModelID:   FallbackModelID,
			Priority:  priority,
			Rationale: fmt.Sprintf("no model registered for use case %s", useCase),
			Fallback:  true,
		}, nil
	}

	weights := weightsFor(useCase, priority)

	var currentScore float64
	if current != nil {
		currentScore = r.score(ctx, current, weights)
	}

	best := current
	bestScore := currentScore
	for i := range candidates {
		candidate := &candidates[i]
		score := r.score(ctx, candidate, weights)
		if best == nil || score > bestScore || (score == bestScore && r.lessLoaded(candidate, best)) {
			best, bestScore = candidate, score
		}
	}

	rationale := fmt.Sprintf("score %.3f with weights %s for %s", bestScore, weights, useCase)
	if current != nil && best.ID == current.ID {
		rationale = "current model retained: " + rationale
	}

	return &Decision{
		ModelID:   best.ID,
		ModelName: best.Name,
		Model:     best,
		Priority:  priority,
		Rationale: rationale,
	}, nil
}

// CheckForBetter reports whether any candidate for the use case outscores the
// given current model.
func (r *CostBenefitRouter) CheckForBetter(ctx context.Context, useCase, currentModelID string) (bool, string, error) {
	current, candidates := r.fetch(ctx, useCase)
	if current == nil || current.ID != currentModelID {
		// The caller's view of "current" is stale; nothing to compare against.
		return false, "", nil
	}

	weights := weightsFor(useCase, types.PriorityBalanced)
	currentScore := r.score(ctx, current, weights)

	var bestID string
	bestScore := currentScore
	for i := range candidates {
		if score := r.score(ctx, &candidates[i], weights); score > bestScore {
			bestID, bestScore = candidates[i].ID, score
		}
	}
	return bestID != "", bestID, nil
}

// fetch loads the current model and candidates, treating read failures as an
// empty view. Routing degrades to fallback rather than surfacing store errors
// on the inference hot path.
func (r *CostBenefitRouter) fetch(ctx context.Context, useCase string) (*registry.Model, []registry.Model) {
	current, err := r.models.GetCurrent(ctx, useCase)
	if err != nil {
		current = nil
	}

	candidates, err := r.models.ListCandidates(ctx, useCase)
	if err != nil {
		r.logger.WithError(err).WithField("use_case", useCase).
			Warn("Failed to list candidates, routing among current only")
		candidates = nil
	}
	return current, candidates
}

func (r *CostBenefitRouter) score(ctx context.Context, m *registry.Model, w Weights) float64 {
	agg := r.aggregate(ctx, m.ID)

	return w.Performance*r.performanceScore(m, agg) +
		w.Cost*r.costScore(m) +
		w.Latency*latencyScore(agg) +
		w.Quality*qualityScore(m)
}

func (r *CostBenefitRouter) aggregate(ctx context.Context, modelID string) *inferlog.AggregateMetrics {
	if r.metrics == nil {
		return nil
	}
	agg, err := r.metrics.Aggregate(ctx, modelID, r.window)
	if err != nil {
		return nil
	}
	return agg
}

// performanceScore blends the declared benchmark with recent measured
// accuracy, half and half when both exist.
func (r *CostBenefitRouter) performanceScore(m *registry.Model, agg *inferlog.AggregateMetrics) float64 {
	declared, ok := m.Metrics.Float("benchmark")
	if !ok {
		declared, ok = m.Metrics.Float(inferlog.MetricAccuracy)
	}
	if !ok {
		declared = 0.5
	}

	if agg == nil || agg.Total == 0 {
		return clamp01(declared)
	}
	return clamp01(0.5*declared + 0.5*agg.AvgQuality)
}

// costScore is 1 for self-served models (no per-token cost) and decays
// hosted models against the price baseline.
func (r *CostBenefitRouter) costScore(m *registry.Model) float64 {
	if m.Kind == types.ModelKindSelfServed {
		return 1
	}

	price, ok := m.Metrics.Float("total_price")
	if !ok {
		in, _ := m.Metrics.Float("input_price_per_1k")
		out, _ := m.Metrics.Float("output_price_per_1k")
		price = in + out
	}
	if price <= 0 {
		return 1
	}

	score := 1 - price/r.costBaselinePer1K
	if score < 0 {
		return 0
	}
	return score
}

// latencyScore buckets measured average latency. No measurements score the
// middle bucket.
func latencyScore(agg *inferlog.AggregateMetrics) float64 {
	if agg == nil || agg.Total == 0 {
		return 0.6
	}

	switch latency := agg.AvgLatencyMS; {
	case latency < 100:
		return 1.0
	case latency < 200:
		return 0.8
	case latency < 500:
		return 0.6
	case latency < 1000:
		return 0.4
	default:
		return 0.2
	}
}

// qualityScore averages the declared coherence, relevance, and creativity.
func qualityScore(m *registry.Model) float64 {
	var sum float64
	var n int
	for _, key := range []string{inferlog.MetricCoherence, inferlog.MetricRelevance, inferlog.MetricCreativity} {
		if v, ok := m.Metrics.Float(key); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return clamp01(sum / float64(n))
}

func (r *CostBenefitRouter) lessLoaded(a, b *registry.Model) bool {
	if r.counters == nil {
		return false
	}
	return r.counters.RequestCount(a.ID) < r.counters.RequestCount(b.ID)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Weights are the per-axis scoring weights, normalized to sum to 1.
type Weights struct {
	Performance float64
	Cost        float64
	Latency     float64
	Quality     float64
}

// String renders the weights for rationale messages.
func (w Weights) String() string {
	return fmt.Sprintf("{perf=%.2f cost=%.2f lat=%.2f qual=%.2f}",
		w.Performance, w.Cost, w.Latency, w.Quality)
}

func (w Weights) normalized() Weights {
	sum := w.Performance + w.Cost + w.Latency + w.Quality
	if sum == 0 {
		return defaultWeights
	}
	return Weights{
		Performance: w.Performance / sum,
		Cost:        w.Cost / sum,
		Latency:     w.Latency / sum,
		Quality:     w.Quality / sum,
	}
}

var defaultWeights = Weights{Performance: 0.3, Cost: 0.2, Latency: 0.2, Quality: 0.3}

// weightsFor picks the weight profile for the use case and shifts it for the
// requested priority, then normalizes.
func weightsFor(useCase string, priority types.Priority) Weights {
	w := defaultWeights

	switch {
	case strings.Contains(useCase, "story") || strings.Contains(useCase, "narrative"):
		w = Weights{Performance: 0.3, Cost: 0.1, Latency: 0.1, Quality: 0.5}
	case strings.Contains(useCase, "dialogue") || strings.Contains(useCase, "interaction"):
		w = Weights{Performance: 0.2, Cost: 0.1, Latency: 0.4, Quality: 0.3}
	case strings.Contains(useCase, "decision") || strings.Contains(useCase, "reasoning") ||
		strings.Contains(useCase, "coordination"):
		w = Weights{Performance: 0.4, Cost: 0.1, Latency: 0.1, Quality: 0.4}
	}

	switch priority {
	case types.PriorityCost:
		w.Cost += 0.3
	case types.PriorityQuality:
		w.Quality += 0.3
	}

	return w.normalized()
}
