package types

import (
	"fmt"
	"strings"
)

// ModelKind distinguishes hosted API models from models we serve ourselves.
type ModelKind string

const (
	ModelKindHosted     ModelKind = "hosted"
	ModelKindSelfServed ModelKind = "self_served"
)

// Validate validates whether this ModelKind is known.
func (k ModelKind) Validate() error {
	switch k {
	case ModelKindHosted, ModelKindSelfServed:
		return nil
	default:
		return fmt.Errorf("unknown model kind: %s", k)
	}
}

// ModelStatus is the lifecycle status of a model record.
type ModelStatus string

const (
	ModelStatusCandidate   ModelStatus = "candidate"
	ModelStatusTesting     ModelStatus = "testing"
	ModelStatusCurrent     ModelStatus = "current"
	ModelStatusDeprecated  ModelStatus = "deprecated"
	ModelStatusNeedsReview ModelStatus = "needs_review"
	ModelStatusFailed      ModelStatus = "failed"
)

// Validate validates whether this ModelStatus is known.
func (s ModelStatus) Validate() error {
	switch s {
	case ModelStatusCandidate, ModelStatusTesting, ModelStatusCurrent,
		ModelStatusDeprecated, ModelStatusNeedsReview, ModelStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown model status: %s", s)
	}
}

// String implements fmt.Stringer.
func (s ModelStatus) String() string { return string(s) }

// Game layers served by the control plane. Each maps to a registry use case
// via UseCaseForLayer.
const (
	LayerFoundation    = "foundation"
	LayerCustomization = "customization"
	LayerInteraction   = "interaction"
	LayerCoordination  = "coordination"
)

// UseCaseForLayer maps a request-time layer name to its registry use case.
// The four game layers map to their `<layer>_layer` tag; anything else
// (story_generation, srl_gold_tier, ...) is already a use case and passes
// through unchanged.
func UseCaseForLayer(layer string) string {
	switch layer {
	case LayerFoundation, LayerCustomization, LayerInteraction, LayerCoordination:
		return layer + "_layer"
	default:
		return layer
	}
}

// SRLTier names a fine-tuned SRL adapter tier.
type SRLTier string

const (
	SRLTierGold   SRLTier = "gold"
	SRLTierSilver SRLTier = "silver"
	SRLTierBronze SRLTier = "bronze"
)

// UseCase returns the registry use case tag for this tier.
func (t SRLTier) UseCase() string {
	return fmt.Sprintf("srl_%s_tier", t)
}

// IsSRLUseCase reports whether a use case tag names an SRL adapter tier.
func IsSRLUseCase(useCase string) bool {
	return strings.HasPrefix(useCase, "srl_") && strings.HasSuffix(useCase, "_tier")
}
