package llmclient

import (
	"context"
	"time"

	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/respcache"
	"github.com/questforge-ai/modelplane/pkg/router"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Context keys game services set to steer the SRL adapter path.
const (
	ContextKeyUseSRL  = "use_srl"
	ContextKeySRLTier = "srl_tier"
)

// Router selects the model for a request. Implemented by the cost-benefit
// router; the client never sees the concrete registry.
type Router interface {
	Select(ctx context.Context, taskType string, reqContext types.Document, priority types.Priority) (*router.Decision, error)
}

// SRLSource resolves the current model of an SRL adapter tier.
type SRLSource interface {
	GetCurrent(ctx context.Context, useCase string) (*registry.Model, error)
}

// InferenceRecorder appends to the historical log. Write failures are
// swallowed on the inference hot path.
type InferenceRecorder interface {
	Log(ctx context.Context, params inferlog.LogParams) (string, error)
}

// ResponseCache wraps generation with the fingerprinted cache.
type ResponseCache interface {
	Optimize(ctx context.Context, layer, prompt string, reqContext types.Document, fetch respcache.FetchFunc) (*types.GenerateResponse, error)
}

// Client is the LLM client: per-request routing, backend calls with retry and
// circuit breaking, the SRL adapter path, response caching, and always-on
// inference logging.
type Client struct {
	router    Router
	srl       SRLSource
	logs      InferenceRecorder
	cache     ResponseCache
	executor  *backendExecutor
	breakers  *breakerRegistry
	fallbacks *fallbackStore
	metrics   *Metrics
	logger    logging.Interface

	maxRetries  int
	backoffBase time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client from the config. cache may be nil to disable
// response caching; metrics may be nil to build unregistered instruments.
func NewClient(config *Config, rt Router, srl SRLSource, logs InferenceRecorder, cache ResponseCache, metrics *Metrics) *Client {
	logger := config.AnotherLogger
	if logger == nil {
		logger = logging.Discard()
	}
	if metrics == nil {
		metrics = NewMetrics(config.MetricsRegisterer)
	}

	return &Client{
		router:   rt,
		srl:      srl,
		logs:     logs,
		cache:    cache,
		executor: newBackendExecutor(config.RequestTimeout()),
		breakers: newBreakerRegistry(BreakerSettings{
			FailureThreshold: config.CircuitFailureThreshold,
			Timeout:          config.CircuitTimeout(),
		}, logger),
		fallbacks:   newFallbackStore(config.FallbacksFile, logger),
		metrics:     metrics,
		logger:      logger,
		maxRetries:  config.MaxRetries,
		backoffBase: config.BackoffBase(),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Generate serves one inference request. It always returns a structured
// response: either the backend's output or a per-layer fallback with the
// error recorded, never a bare error.
func (c *Client) Generate(ctx context.Context, req *types.GenerateRequest) *types.GenerateResponse {
	decision, err := c.router.Select(ctx, req.Layer, req.Context, req.Priority)
	if err != nil {
		return c.fallbackResponse(req.Layer, "routing failed: "+err.Error())
	}
	if decision.Fallback {
		return c.fallbackResponse(req.Layer, decision.Rationale)
	}

	model, adapter := c.resolveSRL(ctx, decision.Model, req.Context)
	if model.OutputsBlocked() {
		return c.fallbackResponse(req.Layer, "model outputs blocked by guardrails")
	}

	fetch := func(ctx context.Context) (*types.GenerateResponse, error) {
		return c.callBackend(ctx, req, model, adapter), nil
	}

	if req.CachingAllowed() && c.cache != nil {
		response, err := c.cache.Optimize(ctx, req.Layer, req.Prompt, req.Context, fetch)
		if err != nil {
			// Cache infrastructure trouble; generation itself never errors.
			return c.fallbackResponse(req.Layer, err.Error())
		}
		return response
	}

	response, _ := fetch(ctx)
	return response
}

// resolveSRL switches to the fine-tuned SRL adapter model when the request
// asks for it (explicit flag or tier) and a current model exists for the
// tier. The adapter reference rides along to the backend.
func (c *Client) resolveSRL(ctx context.Context, selected *registry.Model, reqContext types.Document) (*registry.Model, string) {
	useSRL, _ := reqContext.Bool(ContextKeyUseSRL)
	tier, hasTier := reqContext.String(ContextKeySRLTier)
	if !useSRL && !hasTier {
		return selected, ""
	}
	if !hasTier {
		tier = string(types.SRLTierGold)
	}

	srlModel, err := c.srl.GetCurrent(ctx, types.SRLTier(tier).UseCase())
	if err != nil {
		c.logger.WithField("tier", tier).Debug("No SRL adapter model, using selected model")
		return selected, ""
	}
	return srlModel, srlModel.AdapterPath()
}

// callBackend performs the breaker-guarded call with retries and always
// attempts to log the realized request, fallback or not.
func (c *Client) callBackend(ctx context.Context, req *types.GenerateRequest, model *registry.Model, adapter string) *types.GenerateResponse {
	start := c.now()

	endpoint := model.Endpoint()
	if endpoint == "" {
		response := c.fallbackResponse(req.Layer, "model "+model.ID+" has no endpoint configured")
		response.ModelID = model.ID
		c.record(ctx, req, model, response, start)
		return response
	}

	backendReq := backendRequest{
		Prompt:      req.Prompt,
		Context:     req.Context,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Adapter:     adapter,
	}
	breaker := c.breakers.forEndpoint(endpoint)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase * (1 << (attempt - 1))
			if err := c.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		result, err := breaker.Execute(func() (interface{}, error) {
			return c.executor.generate(ctx, endpoint, backendReq)
		})
		if err == nil {
			backendResp := result.(*backendResponse)
			response := &types.GenerateResponse{
				Success:    true,
				Text:       backendResp.Text,
				TokensUsed: backendResp.TokensUsed,
				ModelID:    model.ID,
				LatencyMS:  c.now().Sub(start).Milliseconds(),
				Service:    model.Provider,
			}
			c.metrics.observe(model.ID, "success", c.now().Sub(start).Seconds())
			c.record(ctx, req, model, response, start)
			return response
		}

		lastErr = err
		if isCircuitOpen(err) {
			// Open circuit: no backend contact until the breaker times out.
			break
		}
		c.logger.WithError(err).
			WithField("model_id", model.ID).
			WithField("attempt", attempt).
			Warn("Backend call failed")
	}

	outcome := "error"
	if isCircuitOpen(lastErr) {
		outcome = "circuit_open"
	}
	c.metrics.observe(model.ID, outcome, c.now().Sub(start).Seconds())

	response := c.fallbackResponse(req.Layer, lastErr.Error())
	response.ModelID = model.ID
	response.LatencyMS = c.now().Sub(start).Milliseconds()
	c.record(ctx, req, model, response, start)
	return response
}

// record writes the inference log; failures are logged and swallowed so audit
// trouble never breaks the hot path.
func (c *Client) record(ctx context.Context, req *types.GenerateRequest, model *registry.Model, response *types.GenerateResponse, start time.Time) {
	metrics := types.Document{
		inferlog.MetricLatencyMS:   c.now().Sub(start).Milliseconds(),
		inferlog.MetricTokensUsed:  response.TokensUsed,
		inferlog.MetricTemperature: req.Temperature,
		inferlog.MetricMaxTokens:   req.MaxTokens,
	}
	if response.Error != "" {
		metrics[inferlog.MetricError] = response.Error
	}
	if response.Fallback {
		metrics[inferlog.MetricFallbackUsed] = true
	}

	_, err := c.logs.Log(ctx, inferlog.LogParams{
		ModelID: model.ID,
		UseCase: types.UseCaseForLayer(req.Layer),
		Prompt:  req.Prompt,
		Context: req.Context,
		Output:  response.Text,
		Metrics: metrics,
	})
	if err != nil {
		c.logger.WithError(err).WithField("model_id", model.ID).
			Warn("Failed to write inference log")
	}
}

func (c *Client) fallbackResponse(layer, errMsg string) *types.GenerateResponse {
	c.metrics.observeFallback(layer)
	return &types.GenerateResponse{
		Success:  false,
		Text:     c.fallbacks.For(layer),
		Service:  "fallback",
		Error:    errMsg,
		Fallback: true,
	}
}

// Probe generates against a specific model, bypassing routing and caching.
// Validation flows use it to exercise a model regardless of its status; the
// attempt is logged like any other.
func (c *Client) Probe(ctx context.Context, model *registry.Model, prompt string) *types.GenerateResponse {
	req := &types.GenerateRequest{
		Layer:     model.UseCase,
		Prompt:    prompt,
		MaxTokens: 512,
	}
	return c.callBackend(ctx, req, model, model.AdapterPath())
}

// BreakerStates snapshots the per-endpoint circuit breaker states.
func (c *Client) BreakerStates() map[string]string {
	return c.breakers.States()
}

// RequestCount implements the router's tie-breaking counter.
func (c *Client) RequestCount(modelID string) int64 {
	return c.metrics.RequestCount(modelID)
}

// RequestCounts snapshots the per-model request counters.
func (c *Client) RequestCounts() map[string]int64 {
	return c.metrics.RequestCounts()
}

// Close releases the fallback file watcher.
func (c *Client) Close() error {
	return c.fallbacks.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
