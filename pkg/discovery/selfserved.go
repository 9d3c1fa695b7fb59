package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// ServingScanner probes a self-served inference cluster for loaded models:
// GET {base}/v1/serving returning the models each serving group has loaded
// and their generate endpoints. Self-served models carry no per-token cost.
type ServingScanner struct {
	baseURL string
	client  *http.Client
}

type servingEntry struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Endpoint string   `json:"endpoint"`
	UseCases []string `json:"use_cases,omitempty"`
}

func NewServingScanner(baseURL string, timeout time.Duration) *ServingScanner {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ServingScanner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *ServingScanner) Name() string { return "self-served" }

func (s *ServingScanner) Scan(ctx context.Context, useCase string) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/serving", nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "building serving probe")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "probing serving cluster")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("serving cluster returned %d: %s", resp.StatusCode, payload)
	}

	var decoded struct {
		Models []servingEntry `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrap(err, "decoding serving probe response")
	}

	var candidates []Candidate
	for _, entry := range decoded.Models {
		if entry.Name == "" || entry.Endpoint == "" {
			continue
		}
		if len(entry.UseCases) > 0 && !contains(entry.UseCases, useCase) {
			continue
		}
		candidates = append(candidates, Candidate{
			Name:     entry.Name,
			Kind:     types.ModelKindSelfServed,
			Provider: "self-served",
			Version:  entry.Version,
			Config:   types.Document{registry.ConfigKeyEndpoint: entry.Endpoint},
		})
	}
	return candidates, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

var _ Scanner = (*ServingScanner)(nil)
