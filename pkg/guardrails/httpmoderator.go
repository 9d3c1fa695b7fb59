package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/logging"
)

const (
	moderationTimeout    = 10 * time.Second
	moderationMaxRetries = 2
	moderationBackoff    = 500 * time.Millisecond
)

// HTTPModerator calls an external moderation API (OpenAI-compatible request
// and response shape). Calls are rate limited so a burst of guardrails checks
// cannot exhaust the provider quota.
type HTTPModerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	logger   logging.Interface
}

// NewHTTPModerator creates a moderator against the given endpoint. ratePerSec
// bounds outgoing calls; zero means 10/s.
func NewHTTPModerator(endpoint, apiKey string, ratePerSec float64, logger logging.Interface) *HTTPModerator {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &HTTPModerator{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: moderationTimeout},
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), int(math.Ceil(ratePerSec))),
		logger:   logger,
	}
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

// Moderate posts the input and returns the first result. Transient failures
// are retried with linear backoff; exhaustion surfaces as unavailable so the
// monitor can fall back to the keyword table.
func (m *HTTPModerator) Moderate(ctx context.Context, input string) (*ModerationResult, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, "waiting for moderation rate limit")
	}

	body, err := json.Marshal(moderationRequest{Input: input})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encoding moderation request")
	}

	var lastErr error
	for attempt := 0; attempt <= moderationMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * moderationBackoff):
			}
		}

		result, err := m.post(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		m.logger.WithError(err).WithField("attempt", attempt).Warn("Moderation call failed")
	}

	return nil, apierror.Unavailable("moderation backend unavailable").WithCause(lastErr)
}

func (m *HTTPModerator) post(ctx context.Context, body []byte) (*ModerationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "building moderation request")
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "calling moderation backend")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("moderation backend returned %d: %s", resp.StatusCode, payload)
	}

	var decoded moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrap(err, "decoding moderation response")
	}
	if len(decoded.Results) == 0 {
		return nil, fmt.Errorf("moderation backend returned no results")
	}

	return &ModerationResult{
		Flagged:        decoded.Results[0].Flagged,
		CategoryScores: decoded.Results[0].CategoryScores,
	}, nil
}

var _ ContentModerator = (*HTTPModerator)(nil)
