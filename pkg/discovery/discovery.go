package discovery

import (
	"context"

	"github.com/questforge-ai/modelplane/pkg/types"
)

// Candidate is a model surfaced by a scanner, not yet in the registry.
type Candidate struct {
	Name     string         `json:"name"`
	Kind     types.ModelKind `json:"kind"`
	Provider string         `json:"provider"`
	Version  string         `json:"version"`
	Config   types.Document `json:"config,omitempty"`
	// Metrics carries declared figures (benchmark, per-token pricing) the
	// router scores candidates on before any traffic lands on them.
	Metrics types.Document `json:"metrics,omitempty"`
}

// Scanner finds models that could serve a use case. Scanners are optional;
// the meta-loop runs whichever are configured.
type Scanner interface {
	// Name identifies the scanner in logs.
	Name() string
	// Scan returns candidates for the use case, possibly none.
	Scan(ctx context.Context, useCase string) ([]Candidate, error)
}
