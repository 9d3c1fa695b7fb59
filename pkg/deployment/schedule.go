package deployment

import (
	"time"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Step is one traffic stage of a rollout: shift to Percent, then observe.
type Step struct {
	Percent int
	Observe time.Duration
}

// Schedule returns the traffic steps for a strategy.
func Schedule(strategy types.DeploymentStrategy) ([]Step, error) {
	switch strategy {
	case types.StrategyBlueGreen:
		return []Step{
			{10, 300 * time.Second},
			{25, 300 * time.Second},
			{50, 300 * time.Second},
			{75, 300 * time.Second},
			{100, 300 * time.Second},
		}, nil

	case types.StrategyCanary:
		return []Step{
			{5, 900 * time.Second},
			{25, 300 * time.Second},
			{50, 300 * time.Second},
			{100, 300 * time.Second},
		}, nil

	case types.StrategyAllAtOnce:
		return []Step{
			{100, 60 * time.Second},
		}, nil

	default:
		return nil, apierror.InvalidArgument("unknown deployment strategy: %s", strategy)
	}
}
