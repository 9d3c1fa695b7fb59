package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/respcache"
	"github.com/questforge-ai/modelplane/pkg/router"
	"github.com/questforge-ai/modelplane/pkg/types"
)

type fakeRouter struct {
	decision *router.Decision
	err      error
}

func (f *fakeRouter) Select(_ context.Context, _ string, _ types.Document, _ types.Priority) (*router.Decision, error) {
	return f.decision, f.err
}

type fakeSRL struct {
	models map[string]*registry.Model
}

func (f *fakeSRL) GetCurrent(_ context.Context, useCase string) (*registry.Model, error) {
	if m, ok := f.models[useCase]; ok {
		return m, nil
	}
	return nil, apierror.NotFound("no current model for use case %s", useCase)
}

type memRecorder struct {
	mu      sync.Mutex
	entries []inferlog.LogParams
	err     error
}

func (m *memRecorder) Log(_ context.Context, params inferlog.LogParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.entries = append(m.entries, params)
	return "log-1", nil
}

func (m *memRecorder) all() []inferlog.LogParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inferlog.LogParams(nil), m.entries...)
}

type passthroughCache struct {
	calls int32
}

func (p *passthroughCache) Optimize(ctx context.Context, _, _ string, _ types.Document, fetch respcache.FetchFunc) (*types.GenerateResponse, error) {
	atomic.AddInt32(&p.calls, 1)
	return fetch(ctx)
}

func backendModel(id, endpoint string) *registry.Model {
	return &registry.Model{
		ID:       id,
		Name:     id,
		Kind:     types.ModelKindSelfServed,
		Provider: "vllm",
		UseCase:  types.UseCaseForLayer(types.LayerInteraction),
		Status:   types.ModelStatusCurrent,
		Config:   types.Document{registry.ConfigKeyEndpoint: endpoint},
	}
}

func decisionFor(m *registry.Model) *router.Decision {
	return &router.Decision{ModelID: m.ID, ModelName: m.Name, Model: m}
}

func newTestClient(t *testing.T, rt Router, srl SRLSource, logs InferenceRecorder, cache ResponseCache) *Client {
	t.Helper()

	config, err := NewConfig()
	require.NoError(t, err)
	config.MaxRetries = 0
	config.BackoffBaseMS = 1
	config.RequestTimeoutSec = 5

	c := NewClient(config, rt, srl, logs, cache, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestGenerateHappyPath(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)

		var req backendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Describe the tavern", req.Prompt)
		assert.Empty(t, req.Adapter)

		_ = json.NewEncoder(w).Encode(backendResponse{Text: "A warm tavern.", TokensUsed: 42})
	}))
	defer server.Close()

	model := backendModel("m1", server.URL)
	logs := &memRecorder{}
	client := newTestClient(t, &fakeRouter{decision: decisionFor(model)}, &fakeSRL{}, logs, nil)

	resp := client.Generate(context.Background(), &types.GenerateRequest{
		Layer:       types.LayerInteraction,
		Prompt:      "Describe the tavern",
		MaxTokens:   256,
		Temperature: 0.7,
	})

	assert.True(t, resp.Success)
	assert.Equal(t, "A warm tavern.", resp.Text)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Equal(t, "m1", resp.ModelID)
	assert.Equal(t, "vllm", resp.Service)
	assert.False(t, resp.Fallback)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	entries := logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ModelID)
	assert.Equal(t, "interaction_layer", entries[0].UseCase)
	assert.Equal(t, "A warm tavern.", entries[0].Output)
	assert.Contains(t, entries[0].Metrics, inferlog.MetricTokensUsed)
	assert.EqualValues(t, int64(1), client.RequestCount("m1"))
}

func TestGenerateRetriesThenSucceeds(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(backendResponse{Text: "recovered", TokensUsed: 5})
	}))
	defer server.Close()

	model := backendModel("m1", server.URL)
	client := newTestClient(t, &fakeRouter{decision: decisionFor(model)}, &fakeSRL{}, &memRecorder{}, nil)
	client.maxRetries = 3

	resp := client.Generate(context.Background(), &types.GenerateRequest{
		Layer:  types.LayerInteraction,
		Prompt: "p",
	})

	assert.True(t, resp.Success)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestGenerateCircuitBreaker(t *testing.T) {
	var healthy atomic.Bool
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(backendResponse{Text: "back", TokensUsed: 1})
	}))
	defer server.Close()

	model := backendModel("m1", server.URL)
	logs := &memRecorder{}
	client := newTestClient(t, &fakeRouter{decision: decisionFor(model)}, &fakeSRL{}, logs, nil)
	client.breakers = newBreakerRegistry(BreakerSettings{
		FailureThreshold: 5,
		Timeout:          50 * time.Millisecond,
	}, logging.Discard())

	req := &types.GenerateRequest{Layer: types.LayerInteraction, Prompt: "p"}

	// Five consecutive failures open the circuit.
	for i := 0; i < 5; i++ {
		resp := client.Generate(context.Background(), req)
		assert.False(t, resp.Success)
		assert.True(t, resp.Fallback)
		assert.NotEmpty(t, resp.Text)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))

	// Open circuit: immediate fallback, no backend contact.
	resp := client.Generate(context.Background(), req)
	assert.True(t, resp.Fallback)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
	assert.Equal(t, "open", client.BreakerStates()[server.URL])

	// After the timeout the half-open probe reaches a healthy backend and
	// the circuit closes again.
	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)

	resp = client.Generate(context.Background(), req)
	assert.True(t, resp.Success)
	assert.Equal(t, "back", resp.Text)
	assert.Equal(t, "closed", client.BreakerStates()[server.URL])

	// Every attempt, fallback or not, landed in the inference log.
	assert.Len(t, logs.all(), 7)
}

func TestGenerateFallbackDecision(t *testing.T) {
	client := newTestClient(t, &fakeRouter{decision: &router.Decision{
		ModelID:   router.FallbackModelID,
		Fallback:  true,
		Rationale: "no models registered for use case interaction_layer",
	}}, &fakeSRL{}, &memRecorder{}, nil)

	resp := client.Generate(context.Background(), &types.GenerateRequest{
		Layer:  types.LayerInteraction,
		Prompt: "p",
	})

	assert.False(t, resp.Success)
	assert.True(t, resp.Fallback)
	assert.Equal(t, defaultFallbacks[types.LayerInteraction], resp.Text)
	assert.Contains(t, resp.Error, "no models registered")
}

func TestGenerateRouterError(t *testing.T) {
	client := newTestClient(t, &fakeRouter{err: apierror.InvalidArgument("unknown priority: urgent")}, &fakeSRL{}, &memRecorder{}, nil)

	resp := client.Generate(context.Background(), &types.GenerateRequest{
		Layer:    types.LayerCoordination,
		Prompt:   "p",
		Priority: "urgent",
	})

	assert.True(t, resp.Fallback)
	assert.Contains(t, resp.Error, "routing failed")
	assert.Equal(t, defaultFallbacks[types.LayerCoordination], resp.Text)
}

func TestGenerateSRLAdapterPath(t *testing.T) {
	var gotAdapter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req backendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotAdapter = req.Adapter
		_ = json.NewEncoder(w).Encode(backendResponse{Text: "ok", TokensUsed: 1})
	}))
	defer server.Close()

	base := backendModel("base", server.URL)
	srlModel := backendModel("srl-gold", server.URL)
	srlModel.UseCase = types.SRLTierGold.UseCase()
	srlModel.Config[registry.ConfigKeyAdapterPath] = "s3://artifacts/srl/gold/adapter"

	srl := &fakeSRL{models: map[string]*registry.Model{
		types.SRLTierGold.UseCase(): srlModel,
	}}
	client := newTestClient(t, &fakeRouter{decision: decisionFor(base)}, srl, &memRecorder{}, nil)

	resp := client.Generate(context.Background(), &types.GenerateRequest{
		Layer:   types.LayerInteraction,
		Prompt:  "p",
		Context: types.Document{ContextKeyUseSRL: true},
	})

	assert.True(t, resp.Success)
	assert.Equal(t, "srl-gold", resp.ModelID)
	assert.Equal(t, "s3://artifacts/srl/gold/adapter", gotAdapter)
}

func TestGenerateSRLTierMissingFallsBackToSelected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(backendResponse{Text: "ok", TokensUsed: 1})
	}))
	defer server.Close()

	base := backendModel("base", server.URL)
	client := newTestClient(t, &fakeRouter{decision: decisionFor(base)}, &fakeSRL{}, &memRecorder{}, nil)

	resp := client.Generate(context.Background(), &types.GenerateRequest{
		Layer:   types.LayerInteraction,
		Prompt:  "p",
		Context: types.Document{ContextKeySRLTier: "silver"},
	})

	assert.True(t, resp.Success)
	assert.Equal(t, "base", resp.ModelID)
}

func TestGenerateBlockedOutputs(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	model := backendModel("m1", server.URL)
	model.Config[registry.ConfigKeyBlockOutputs] = true

	logs := &memRecorder{}
	client := newTestClient(t, &fakeRouter{decision: decisionFor(model)}, &fakeSRL{}, logs, nil)

	resp := client.Generate(context.Background(), &types.GenerateRequest{
		Layer:  types.LayerInteraction,
		Prompt: "p",
	})

	assert.True(t, resp.Fallback)
	assert.Contains(t, resp.Error, "blocked")
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
	assert.Empty(t, logs.all())
}

func TestGenerateCacheUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(backendResponse{Text: "ok", TokensUsed: 1})
	}))
	defer server.Close()

	model := backendModel("m1", server.URL)
	cache := &passthroughCache{}
	client := newTestClient(t, &fakeRouter{decision: decisionFor(model)}, &fakeSRL{}, &memRecorder{}, cache)

	resp := client.Generate(context.Background(), &types.GenerateRequest{
		Layer:  types.LayerInteraction,
		Prompt: "p",
	})
	assert.True(t, resp.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cache.calls))

	noCache := false
	resp = client.Generate(context.Background(), &types.GenerateRequest{
		Layer:    types.LayerInteraction,
		Prompt:   "p",
		UseCache: &noCache,
	})
	assert.True(t, resp.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cache.calls))
}

func TestGenerateLogWriteFailureDoesNotBreakResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(backendResponse{Text: "ok", TokensUsed: 1})
	}))
	defer server.Close()

	model := backendModel("m1", server.URL)
	logs := &memRecorder{err: assert.AnError}
	client := newTestClient(t, &fakeRouter{decision: decisionFor(model)}, &fakeSRL{}, logs, nil)

	resp := client.Generate(context.Background(), &types.GenerateRequest{
		Layer:  types.LayerInteraction,
		Prompt: "p",
	})
	assert.True(t, resp.Success)
}

func TestFallbackStoreOverrides(t *testing.T) {
	s := newFallbackStore("", logging.Discard())
	defer func() { _ = s.Close() }()

	assert.Equal(t, defaultFallbacks[types.LayerFoundation], s.For(types.LayerFoundation))
	assert.Equal(t, defaultFallbacks["default"], s.For("story_generation"))
}

func TestConfigDefaults(t *testing.T) {
	config, err := NewConfig()
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, uint32(5), config.CircuitFailureThreshold)
	assert.Equal(t, 60*time.Second, config.CircuitTimeout())
	assert.Equal(t, 30*time.Second, config.RequestTimeout())
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, time.Second, config.BackoffBase())
}
