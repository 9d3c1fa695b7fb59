package guardrails

import (
	"context"
	"strings"
)

// ModerationResult is one moderation verdict for a single output.
type ModerationResult struct {
	Flagged        bool
	CategoryScores map[string]float64
}

// MaxScore returns the highest category score, with its category name.
func (r *ModerationResult) MaxScore() (string, float64) {
	var category string
	var max float64
	for c, s := range r.CategoryScores {
		if s > max || category == "" {
			category, max = c, s
		}
	}
	return category, max
}

// ContentModerator scores a single output. The production implementation is
// an external moderation API; tests and the offline fallback use the keyword
// table.
type ContentModerator interface {
	Moderate(ctx context.Context, input string) (*ModerationResult, error)
}

// keywordRule pairs a matched phrase with the category and score it implies.
type keywordRule struct {
	phrase   string
	category string
	score    float64
}

// Safety keyword table, used when the moderation backend is unavailable or
// the operator selects the offline provider. Scores follow the severity
// buckets: >0.9 critical, >0.7 high, >0.5 medium.
var safetyKeywordRules = []keywordRule{
	{"kill yourself", "self-harm", 0.95},
	{"kys", "self-harm", 0.95},
	{"hurt yourself", "self-harm", 0.92},
	{"end your life", "self-harm", 0.95},
	{"kill them", "violence", 0.8},
	{"i will hurt you", "violence/threat", 0.8},
	{"deserve to die", "violence", 0.8},
	{"hate you all", "harassment", 0.6},
	{"worthless", "harassment", 0.55},
}

// Harmful-content keyword table, separate from safety per the monitoring
// contract: it covers instructions and exploitation rather than directed harm.
var harmfulKeywordRules = []keywordRule{
	{"how to make a bomb", "illicit/weapons", 0.95},
	{"build a weapon", "illicit/weapons", 0.85},
	{"steal credit card", "illicit/fraud", 0.85},
	{"give me your password", "exploitation", 0.75},
	{"share your address", "privacy", 0.72},
	{"drugs for sale", "illicit", 0.6},
}

// KeywordModerator is the deterministic offline moderator backed by a fixed
// phrase table.
type KeywordModerator struct {
	rules []keywordRule
}

// NewSafetyKeywordModerator returns the offline safety moderator.
func NewSafetyKeywordModerator() *KeywordModerator {
	return &KeywordModerator{rules: safetyKeywordRules}
}

// NewHarmfulKeywordModerator returns the offline harmful-content moderator.
func NewHarmfulKeywordModerator() *KeywordModerator {
	return &KeywordModerator{rules: harmfulKeywordRules}
}

// Moderate scans the input for table phrases. The result carries the score of
// every matched category; no match means not flagged.
func (m *KeywordModerator) Moderate(_ context.Context, input string) (*ModerationResult, error) {
	lowered := strings.ToLower(input)

	result := &ModerationResult{CategoryScores: map[string]float64{}}
	for _, rule := range m.rules {
		if !strings.Contains(lowered, rule.phrase) {
			continue
		}
		result.Flagged = true
		if rule.score > result.CategoryScores[rule.category] {
			result.CategoryScores[rule.category] = rule.score
		}
	}
	return result, nil
}

var _ ContentModerator = (*KeywordModerator)(nil)
