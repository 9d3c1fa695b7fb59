package types

// ViolationCategory classifies a guardrails violation.
type ViolationCategory string

const (
	CategorySafety         ViolationCategory = "safety"
	CategoryAddiction      ViolationCategory = "addiction"
	CategoryHarmfulContent ViolationCategory = "harmful_content"
	CategoryBias           ViolationCategory = "bias"
)

// Severity orders guardrails violations for intervention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// SeverityForScore buckets a moderation score into a severity.
// Scores at or below the medium bound are low.
func SeverityForScore(score float64) Severity {
	switch {
	case score > 0.9:
		return SeverityCritical
	case score > 0.7:
		return SeverityHigh
	case score > 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
