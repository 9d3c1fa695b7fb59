package types

import "fmt"

// DeploymentStrategy selects the rollout state machine.
type DeploymentStrategy string

const (
	StrategyBlueGreen DeploymentStrategy = "blue_green"
	StrategyCanary    DeploymentStrategy = "canary"
	StrategyAllAtOnce DeploymentStrategy = "all_at_once"
	// StrategyRollback marks the synthetic deployment record written when a
	// snapshot is restored.
	StrategyRollback DeploymentStrategy = "rollback"
)

// Validate validates whether this strategy can be requested by callers.
// The rollback pseudo-strategy is internal and not requestable.
func (s DeploymentStrategy) Validate() error {
	switch s {
	case StrategyBlueGreen, StrategyCanary, StrategyAllAtOnce:
		return nil
	default:
		return fmt.Errorf("unknown deployment strategy: %s", s)
	}
}

// DeploymentStatus is the lifecycle status of a Deployment.
type DeploymentStatus string

const (
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentCompleted  DeploymentStatus = "completed"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

// Terminal reports whether no further transitions are possible.
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentCompleted || s == DeploymentFailed || s == DeploymentRolledBack
}

// FineTuneStatus is the lifecycle status of a fine-tune job.
type FineTuneStatus string

const (
	FineTunePreparing  FineTuneStatus = "preparing"
	FineTuneTraining   FineTuneStatus = "training"
	FineTuneValidating FineTuneStatus = "validating"
	FineTunePromoted   FineTuneStatus = "promoted"
	FineTuneFailed     FineTuneStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s FineTuneStatus) Terminal() bool {
	return s == FineTunePromoted || s == FineTuneFailed
}
