package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"
)

// Store is the object storage surface the control plane needs: training
// artifacts in, model output locations referenced. Implementations are S3 (in
// production) and an in-memory map (in tests).
type Store interface {
	// Put uploads the body under key and returns the object URI.
	Put(ctx context.Context, key string, body io.Reader) (string, error)
	// Get downloads the object under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// URI renders the canonical URI for key without touching storage.
	URI(key string) string
}

// Dataset split names within an artifact layout.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
)

// ArtifactLayout addresses one training run's objects:
// {prefix}/{timestamp}/data/{split}.jsonl for inputs and
// {prefix}/{timestamp}/output/ for the trained artifact.
type ArtifactLayout struct {
	Prefix    string
	Timestamp time.Time
}

// NewArtifactLayout stamps a layout for a run starting now.
func NewArtifactLayout(prefix string, now time.Time) ArtifactLayout {
	return ArtifactLayout{Prefix: prefix, Timestamp: now.UTC()}
}

func (l ArtifactLayout) root() string {
	return path.Join(l.Prefix, l.Timestamp.Format("20060102T150405Z"))
}

// DataKey returns the object key for a dataset split.
func (l ArtifactLayout) DataKey(split string) string {
	return path.Join(l.root(), "data", fmt.Sprintf("%s.jsonl", split))
}

// OutputPrefix returns the key prefix the training job writes its artifact to.
func (l ArtifactLayout) OutputPrefix() string {
	return path.Join(l.root(), "output") + "/"
}
