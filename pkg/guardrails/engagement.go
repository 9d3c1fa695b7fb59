package guardrails

import "strings"

// Heuristic indicators for engagement health. Healthy phrases encourage
// breaks, acknowledge real life, and respect player boundaries; unhealthy
// phrases manipulate, create FOMO, or feed obsession.
var (
	healthyIndicators = []string{
		"take a break",
		"rest",
		"come back later",
		"real life",
		"your choice",
		"no pressure",
		"whenever you're ready",
		"step away",
		"up to you",
	}

	unhealthyIndicators = []string{
		"just one more",
		"don't stop now",
		"can't leave now",
		"you'll miss out",
		"everyone else is",
		"last chance",
		"you have to",
		"keep playing",
		"don't let them down",
	}
)

const (
	indicatorsPerOutput     = 3
	healthyEngagementFloor  = 0.7
	unhealthyPatternCeiling = 0.3
)

// EngagementScores summarizes the engagement-health pass over a batch of
// outputs.
type EngagementScores struct {
	HealthyScore      float64
	UnhealthyScore    float64
	HealthyEngagement bool
	UnhealthyPatterns bool
}

// ScoreEngagement counts indicator hits across the outputs. Each output can
// contribute up to three hits per direction; scores are hits over that cap.
func ScoreEngagement(outputs []string) EngagementScores {
	if len(outputs) == 0 {
		return EngagementScores{HealthyEngagement: true}
	}

	var healthyHits, unhealthyHits int
	for _, output := range outputs {
		lowered := strings.ToLower(output)
		healthyHits += countHits(lowered, healthyIndicators)
		unhealthyHits += countHits(lowered, unhealthyIndicators)
	}

	denominator := float64(indicatorsPerOutput * len(outputs))
	scores := EngagementScores{
		HealthyScore:   float64(healthyHits) / denominator,
		UnhealthyScore: float64(unhealthyHits) / denominator,
	}
	scores.HealthyEngagement = scores.HealthyScore >= healthyEngagementFloor
	scores.UnhealthyPatterns = scores.UnhealthyScore > unhealthyPatternCeiling
	return scores
}

func countHits(lowered string, indicators []string) int {
	hits := 0
	for _, indicator := range indicators {
		if strings.Contains(lowered, indicator) {
			hits++
			if hits == indicatorsPerOutput {
				break
			}
		}
	}
	return hits
}
