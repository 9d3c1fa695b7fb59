package guardrails

import (
	"context"

	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Intervention labels recorded on persisted violations.
const (
	InterventionTriggered = "triggered" // rollback invoked
	InterventionBlocked   = "blocked"   // model marked needs_review, outputs blocked
	InterventionFlagged   = "flagged"   // flagged for close monitoring
	InterventionLogged    = "logged"
)

// ModelRegistry is the slice of the registry the intervention policy needs.
type ModelRegistry interface {
	UpdateStatus(ctx context.Context, modelID string, status types.ModelStatus) error
	UpdateConfig(ctx context.Context, modelID string, patch types.Document) error
}

// RollbackInvoker restores a model to its most recent stable snapshot. An
// empty snapshot id selects the latest.
type RollbackInvoker interface {
	Rollback(ctx context.Context, modelID, snapshotID string) error
}

// Intervener acts on the most severe finding of a monitoring pass. The
// monitor itself stays a pure scorer; all state changes happen here.
type Intervener interface {
	Intervene(ctx context.Context, modelID string, severity types.Severity) (string, error)
}

// Policy is the default tiered intervention: critical rolls the model back,
// high blocks its outputs and marks it for review, medium flags, low logs.
type Policy struct {
	registry ModelRegistry
	rollback RollbackInvoker
	logger   logging.Interface
}

// NewPolicy creates the default intervention policy.
func NewPolicy(reg ModelRegistry, rollback RollbackInvoker, logger logging.Interface) *Policy {
	return &Policy{registry: reg, rollback: rollback, logger: logger}
}

// Intervene applies the tier for the given severity and returns the label to
// persist on the violations.
func (p *Policy) Intervene(ctx context.Context, modelID string, severity types.Severity) (string, error) {
	switch severity {
	case types.SeverityCritical:
		p.logger.WithField("model_id", modelID).
			Error("Critical guardrails violation, rolling back model")
		if err := p.rollback.Rollback(ctx, modelID, ""); err != nil {
			return InterventionTriggered, err
		}
		return InterventionTriggered, nil

	case types.SeverityHigh:
		p.logger.WithField("model_id", modelID).
			Warn("High-severity guardrails violation, blocking model outputs")
		if err := p.registry.UpdateStatus(ctx, modelID, types.ModelStatusNeedsReview); err != nil {
			return InterventionBlocked, err
		}
		err := p.registry.UpdateConfig(ctx, modelID, types.Document{
			registry.ConfigKeyBlockOutputs: true,
		})
		return InterventionBlocked, err

	case types.SeverityMedium:
		p.logger.WithField("model_id", modelID).
			Warn("Guardrails violation flagged for close monitoring")
		return InterventionFlagged, nil

	default:
		return InterventionLogged, nil
	}
}

var _ Intervener = (*Policy)(nil)
