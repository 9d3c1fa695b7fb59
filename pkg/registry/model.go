package registry

import (
	"time"

	"github.com/questforge-ai/modelplane/pkg/types"
)

// Model is the registry record for one model. It is the single source of
// truth for routing: endpoint, traffic share, and output blocking all live in
// the configuration document.
type Model struct {
	ID        string            `db:"model_id" json:"model_id"`
	Name      string            `db:"name" json:"name"`
	Kind      types.ModelKind   `db:"kind" json:"kind"`
	Provider  string            `db:"provider" json:"provider"`
	UseCase   string            `db:"use_case" json:"use_case"`
	Version   string            `db:"version" json:"version"`
	Status    types.ModelStatus `db:"status" json:"status"`
	Config    types.Document    `db:"config_json" json:"config"`
	Metrics   types.Document    `db:"metrics_json" json:"metrics"`
	Resources types.Document    `db:"resources_json" json:"resources"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// Config keys written by the router, deployment manager, and guardrails.
const (
	ConfigKeyEndpoint         = "endpoint"
	ConfigKeyAdapterPath      = "adapter_path"
	ConfigKeyArtifactURI      = "artifact_uri"
	ConfigKeyTrafficPercent   = "traffic_percentage"
	ConfigKeyTrafficShiftedAt = "traffic_shifted_at"
	ConfigKeyBlockOutputs     = "block_outputs"
)

// Endpoint returns the backend endpoint URL, empty if unset.
func (m *Model) Endpoint() string {
	endpoint, _ := m.Config.String(ConfigKeyEndpoint)
	return endpoint
}

// AdapterPath returns the SRL adapter artifact reference, empty if unset.
func (m *Model) AdapterPath() string {
	path, _ := m.Config.String(ConfigKeyAdapterPath)
	return path
}

// TrafficPercentage returns the current traffic share recorded by the
// deployment manager. A current model with no recorded share serves 100%.
func (m *Model) TrafficPercentage() int {
	if pct, ok := m.Config.Int(ConfigKeyTrafficPercent); ok {
		return pct
	}
	if m.Status == types.ModelStatusCurrent {
		return 100
	}
	return 0
}

// OutputsBlocked reports whether guardrails marked this model to stop serving.
func (m *Model) OutputsBlocked() bool {
	blocked, _ := m.Config.Bool(ConfigKeyBlockOutputs)
	return blocked
}

// RegisterParams carries the caller-supplied fields for a new model record.
type RegisterParams struct {
	Name      string          `json:"name" validate:"required"`
	Kind      types.ModelKind `json:"kind" validate:"required"`
	Provider  string          `json:"provider" validate:"required"`
	UseCase   string          `json:"use_case" validate:"required"`
	Version   string          `json:"version" validate:"required"`
	Config    types.Document  `json:"config"`
	Metrics   types.Document  `json:"metrics"`
	Resources types.Document  `json:"resources"`
}
