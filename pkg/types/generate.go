package types

import "fmt"

// Priority biases router scoring toward cost, latency, or quality.
type Priority string

const (
	PriorityCost     Priority = "cost"
	PriorityBalanced Priority = "balanced"
	PriorityQuality  Priority = "quality"
)

// Validate validates whether this Priority is known. Empty means balanced.
func (p Priority) Validate() error {
	switch p {
	case "", PriorityCost, PriorityBalanced, PriorityQuality:
		return nil
	default:
		return fmt.Errorf("unknown priority: %s", p)
	}
}

// GenerateRequest is the inference request game services send to the control
// plane. Context is an open document; well-known keys (use_srl, session_id)
// are read by the routing path and everything else is passed to the backend.
type GenerateRequest struct {
	Layer       string   `json:"layer" validate:"required"`
	Prompt      string   `json:"prompt" validate:"required"`
	Context     Document `json:"context"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Priority    Priority `json:"priority"`
	UseCache    *bool    `json:"use_cache"`
}

// CachingAllowed reports whether the caller permits serving from and storing
// to the response cache. Unset means allowed.
func (r *GenerateRequest) CachingAllowed() bool {
	return r.UseCache == nil || *r.UseCache
}

// GenerateResponse is the structured reply for every Generate call, success
// or fallback. Generate never surfaces a bare error to game services.
type GenerateResponse struct {
	Success     bool   `json:"success"`
	Text        string `json:"text"`
	TokensUsed  int    `json:"tokens_used"`
	ModelID     string `json:"model_id"`
	LatencyMS   int64  `json:"latency_ms"`
	Service     string `json:"service"`
	Cached      bool   `json:"cached,omitempty"`
	Optimized   bool   `json:"optimized,omitempty"`
	OptimizedAt string `json:"optimized_at,omitempty"`
	Error       string `json:"error,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`
}
