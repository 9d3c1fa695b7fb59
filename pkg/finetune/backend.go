package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// TrainingState is the remote training job state.
type TrainingState string

const (
	TrainingQueued    TrainingState = "queued"
	TrainingRunning   TrainingState = "running"
	TrainingSucceeded TrainingState = "succeeded"
	TrainingFailed    TrainingState = "failed"
)

// Terminal reports whether the remote job has finished.
func (s TrainingState) Terminal() bool {
	return s == TrainingSucceeded || s == TrainingFailed
}

// TrainingSpec is everything a backend needs to run one training job.
type TrainingSpec struct {
	JobID           string          `json:"job_id"`
	BaseModel       string          `json:"base_model"`
	TrainURI        string          `json:"train_uri"`
	ValidationURI   string          `json:"validation_uri"`
	OutputURI       string          `json:"output_uri"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
}

// TrainingStatus is the observed state of a submitted job.
type TrainingStatus struct {
	State   TrainingState `json:"state"`
	Message string        `json:"message,omitempty"`
}

// TrainingBackend submits jobs to an external training execution service and
// observes them. Training itself is out of process.
type TrainingBackend interface {
	Submit(ctx context.Context, spec TrainingSpec) (string, error)
	Status(ctx context.Context, handle string) (*TrainingStatus, error)
}

// HTTPTrainingBackend talks to a training service over its JSON API.
type HTTPTrainingBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTrainingBackend(baseURL string, timeout time.Duration) *HTTPTrainingBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTrainingBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *HTTPTrainingBackend) Submit(ctx context.Context, spec TrainingSpec) (string, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return "", pkgerrors.Wrap(err, "encoding training spec")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/v1/training/jobs", bytes.NewReader(body))
	if err != nil {
		return "", pkgerrors.Wrap(err, "building submit request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(err, "submitting training job")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("training backend returned %d: %s", resp.StatusCode, payload)
	}

	var decoded struct {
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", pkgerrors.Wrap(err, "decoding submit response")
	}
	if decoded.Handle == "" {
		return "", pkgerrors.New("training backend returned empty handle")
	}
	return decoded.Handle, nil
}

func (b *HTTPTrainingBackend) Status(ctx context.Context, handle string) (*TrainingStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+"/v1/training/jobs/"+handle, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "building status request")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fetching training job status")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("training backend returned %d: %s", resp.StatusCode, payload)
	}

	var status TrainingStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, pkgerrors.Wrap(err, "decoding training job status")
	}
	return &status, nil
}
