package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// CatalogScanner queries a hosted-provider model catalog over its JSON API:
// GET {base}/v1/models?use_case=... returning declared benchmarks and
// pricing for each entry.
type CatalogScanner struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// catalogEntry is the catalog's wire shape for one model.
type catalogEntry struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	Version         string  `json:"version"`
	Endpoint        string  `json:"endpoint,omitempty"`
	Benchmark       float64 `json:"benchmark,omitempty"`
	InputPricePer1K float64 `json:"input_price_per_1k,omitempty"`
	OutputPrice1K   float64 `json:"output_price_per_1k,omitempty"`
}

func NewCatalogScanner(name, baseURL, apiKey string, timeout time.Duration) *CatalogScanner {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CatalogScanner{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *CatalogScanner) Name() string { return s.name }

func (s *CatalogScanner) Scan(ctx context.Context, useCase string) ([]Candidate, error) {
	endpoint := fmt.Sprintf("%s/v1/models?use_case=%s", s.baseURL, url.QueryEscape(useCase))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "building catalog request")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "querying catalog %s", s.name)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("catalog %s returned %d: %s", s.name, resp.StatusCode, payload)
	}

	var decoded struct {
		Models []catalogEntry `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrapf(err, "decoding catalog %s response", s.name)
	}

	candidates := make([]Candidate, 0, len(decoded.Models))
	for _, entry := range decoded.Models {
		if entry.Name == "" {
			continue
		}

		metrics := types.Document{}
		if entry.Benchmark > 0 {
			metrics["benchmark"] = entry.Benchmark
		}
		if entry.InputPricePer1K > 0 {
			metrics["input_price_per_1k"] = entry.InputPricePer1K
		}
		if entry.OutputPrice1K > 0 {
			metrics["output_price_per_1k"] = entry.OutputPrice1K
		}

		config := types.Document{}
		if entry.Endpoint != "" {
			config[registry.ConfigKeyEndpoint] = entry.Endpoint
		}

		provider := entry.Provider
		if provider == "" {
			provider = s.name
		}
		candidates = append(candidates, Candidate{
			Name:     entry.Name,
			Kind:     types.ModelKindHosted,
			Provider: provider,
			Version:  entry.Version,
			Config:   config,
			Metrics:  metrics,
		})
	}
	return candidates, nil
}

var _ Scanner = (*CatalogScanner)(nil)
