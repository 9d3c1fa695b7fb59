package guardrails

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Per-category score keys in Result.Scores.
const (
	ScoreSafety             = "safety"
	ScoreHarmful            = "harmful_content"
	ScoreEngagementHealthy  = "engagement_healthy"
	ScoreEngagementUnhealty = "engagement_unhealthy"
)

// Result is the outcome of one monitoring pass over a batch of outputs.
type Result struct {
	Compliant  bool               `json:"compliant"`
	Violations []Violation        `json:"violations"`
	Scores     map[string]float64 `json:"per_category_scores"`
	// Reason is set when compliance could not be attested (axis failure).
	Reason string `json:"reason,omitempty"`
}

// Monitor scores model outputs on the safety, engagement, and harmful-content
// axes. Scoring is pure; state changes happen through the Intervener hook and
// violations are persisted best-effort.
type Monitor struct {
	safety          ContentModerator
	harmful         ContentModerator
	safetyFallback  *KeywordModerator
	harmfulFallback *KeywordModerator
	violations      ViolationStore
	intervener      Intervener
	logger          logging.Interface
}

// NewMonitor creates a Monitor. The moderators may be nil, in which case the
// keyword tables are used directly; intervener and violations may be nil to
// disable side effects (pure scoring).
func NewMonitor(safety, harmful ContentModerator, violations ViolationStore, intervener Intervener, logger logging.Interface) *Monitor {
	return &Monitor{
		safety:          safety,
		harmful:         harmful,
		safetyFallback:  NewSafetyKeywordModerator(),
		harmfulFallback: NewHarmfulKeywordModerator(),
		violations:      violations,
		intervener:      intervener,
		logger:          logger,
	}
}

// Monitor scores the outputs and, when violations are found, applies the
// intervention for the most severe finding and persists every violation with
// the decision taken. Axis failures never escape; they yield a non-compliant
// result with a reason.
func (m *Monitor) Monitor(ctx context.Context, modelID string, outputs []string) *Result {
	result := &Result{Scores: map[string]float64{}}

	var (
		mu              sync.Mutex
		safetyFindings  []Violation
		harmfulFindings []Violation
		safetyMax       float64
		harmfulMax      float64
		axisErrs        error
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		findings, max, err := m.moderatePass(groupCtx, modelID, outputs,
			m.safety, m.safetyFallback, types.CategorySafety)
		mu.Lock()
		defer mu.Unlock()
		safetyFindings, safetyMax = findings, max
		if err != nil {
			axisErrs = multierror.Append(axisErrs, fmt.Errorf("safety: %w", err))
		}
		return nil
	})

	group.Go(func() error {
		findings, max, err := m.moderatePass(groupCtx, modelID, outputs,
			m.harmful, m.harmfulFallback, types.CategoryHarmfulContent)
		mu.Lock()
		defer mu.Unlock()
		harmfulFindings, harmfulMax = findings, max
		if err != nil {
			axisErrs = multierror.Append(axisErrs, fmt.Errorf("harmful content: %w", err))
		}
		return nil
	})

	engagement := ScoreEngagement(outputs)
	_ = group.Wait()

	result.Scores[ScoreSafety] = safetyMax
	result.Scores[ScoreHarmful] = harmfulMax
	result.Scores[ScoreEngagementHealthy] = engagement.HealthyScore
	result.Scores[ScoreEngagementUnhealty] = engagement.UnhealthyScore

	result.Violations = append(result.Violations, safetyFindings...)
	result.Violations = append(result.Violations, harmfulFindings...)
	if engagement.UnhealthyPatterns {
		severity := types.SeverityMedium
		if engagement.UnhealthyScore > 0.5 {
			severity = types.SeverityHigh
		}
		result.Violations = append(result.Violations, Violation{
			ModelID:  modelID,
			Category: types.CategoryAddiction,
			Severity: severity,
			Details: types.Document{
				"unhealthy_score": engagement.UnhealthyScore,
				"healthy_score":   engagement.HealthyScore,
			},
		})
	}

	result.Compliant = len(safetyFindings) == 0 &&
		len(harmfulFindings) == 0 &&
		engagement.HealthyEngagement

	if axisErrs != nil {
		result.Compliant = false
		result.Reason = fmt.Sprintf("cannot attest compliance: %v", axisErrs)
	}

	if len(result.Violations) > 0 {
		m.actOn(ctx, modelID, result)
	}

	return result
}

// actOn applies the intervention for the most severe violation and persists
// all of them with the decision taken.
func (m *Monitor) actOn(ctx context.Context, modelID string, result *Result) {
	overall := types.SeverityLow
	for _, v := range result.Violations {
		overall = types.MaxSeverity(overall, v.Severity)
	}

	intervention := InterventionLogged
	if m.intervener != nil {
		label, err := m.intervener.Intervene(ctx, modelID, overall)
		intervention = label
		if err != nil {
			m.logger.WithError(err).WithField("model_id", modelID).
				Error("Guardrails intervention failed")
		}
	}

	for i := range result.Violations {
		result.Violations[i].Intervention = intervention
		if m.violations == nil {
			continue
		}
		if err := m.violations.Record(ctx, &result.Violations[i]); err != nil {
			m.logger.WithError(err).WithField("model_id", modelID).
				Warn("Failed to persist guardrails violation")
		}
	}
}

// moderatePass runs the moderator over each output in parallel, falling back
// to the keyword table per output when the backend is unavailable. The
// returned max is the highest category score observed across all outputs.
func (m *Monitor) moderatePass(ctx context.Context, modelID string, outputs []string,
	moderator ContentModerator, fallback *KeywordModerator, category types.ViolationCategory) ([]Violation, float64, error) {

	var (
		mu       sync.Mutex
		findings []Violation
		maxScore float64
		errs     error
	)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, output := range outputs {
		output := output
		group.Go(func() error {
			verdict, err := m.moderate(groupCtx, output, moderator, fallback)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, err)
				return nil
			}

			topCategory, top := verdict.MaxScore()
			if top > maxScore {
				maxScore = top
			}
			if !verdict.Flagged {
				return nil
			}

			findings = append(findings, Violation{
				ModelID:  modelID,
				Category: category,
				Severity: types.SeverityForScore(top),
				Details: types.Document{
					"flagged_category": topCategory,
					"category_scores":  verdict.CategoryScores,
				},
				OutputSample: truncateSample(output),
			})
			return nil
		})
	}
	_ = group.Wait()

	return findings, maxScore, errs
}

func (m *Monitor) moderate(ctx context.Context, output string,
	moderator ContentModerator, fallback *KeywordModerator) (*ModerationResult, error) {

	if moderator == nil {
		return fallback.Moderate(ctx, output)
	}

	verdict, err := moderator.Moderate(ctx, output)
	if err == nil {
		return verdict, nil
	}

	m.logger.WithError(err).Warn("Moderation backend failed, using keyword fallback")
	return fallback.Moderate(ctx, output)
}

const maxSampleLen = 500

func truncateSample(output string) string {
	if len(output) <= maxSampleLen {
		return output
	}
	return output[:maxSampleLen]
}
