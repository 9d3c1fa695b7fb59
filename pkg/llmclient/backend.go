package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/types"
)

// backendRequest is the wire contract every inference backend honors.
type backendRequest struct {
	Prompt      string         `json:"prompt"`
	Context     types.Document `json:"context,omitempty"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	// Adapter carries the SRL LoRA adapter reference when routing through
	// the adapter executor path.
	Adapter string `json:"adapter,omitempty"`
}

// backendResponse is the reply shape from inference backends.
type backendResponse struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	TokensIn   int    `json:"tokens_in,omitempty"`
	TokensOut  int    `json:"tokens_out,omitempty"`
}

// backendExecutor issues generate calls against HTTP inference endpoints over
// a shared pooled transport.
type backendExecutor struct {
	client *http.Client
}

func newBackendExecutor(timeout time.Duration) *backendExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &backendExecutor{
		client: &http.Client{Transport: transport, Timeout: timeout},
	}
}

// generate posts the request to the endpoint and decodes the reply. Non-2xx
// statuses are failures for the circuit breaker.
func (e *backendExecutor) generate(ctx context.Context, endpoint string, req backendRequest) (*backendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encoding generate request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "building generate request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "calling backend %s", endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("backend %s returned %d: %s", endpoint, resp.StatusCode, payload)
	}

	var decoded backendResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrapf(err, "decoding backend %s response", endpoint)
	}
	return &decoded, nil
}
