package finetune

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math/rand"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/inferlog"
)

const (
	// minQuality is the floor below which uncorrected examples are dropped.
	minQuality = 0.7
	// maxExamples caps the assembled dataset.
	maxExamples = 10000
	// trainRatio is the train share of the shuffled split.
	trainRatio = 0.8
)

// Quality signal weights, applied to the metric signals present on a log and
// renormalized over those that are.
var qualityWeights = map[string]float64{
	inferlog.MetricAccuracy:   0.3,
	inferlog.MetricCoherence:  0.3,
	inferlog.MetricRelevance:  0.2,
	inferlog.MetricUserRating: 0.2,
}

// Example is one training pair with its computed quality.
type Example struct {
	Input   string  `json:"input"`
	Output  string  `json:"output"`
	Quality float64 `json:"quality"`
}

// SeedExample is a caller-supplied training pair, merged into the dataset at
// full quality.
type SeedExample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Dataset is the assembled, shuffled, split training data for one job.
type Dataset struct {
	Train      []Example
	Validation []Example
}

// Size returns the total example count across both splits.
func (d *Dataset) Size() int {
	return len(d.Train) + len(d.Validation)
}

// exampleFromLog maps a log record to a training example. A corrected output
// is ground truth (quality 1.0); otherwise quality comes from the weighted
// metric signals present, 0.5 when none are.
func exampleFromLog(log *inferlog.InferenceLog) Example {
	if log.CorrectedOutput != nil && *log.CorrectedOutput != "" {
		return Example{Input: log.Prompt, Output: *log.CorrectedOutput, Quality: 1.0}
	}

	var weighted, totalWeight float64
	merged := log.Metrics.Merge(log.Feedback)
	for signal, weight := range qualityWeights {
		value, ok := merged.Float(signal)
		if !ok {
			continue
		}
		weighted += value * weight
		totalWeight += weight
	}

	quality := 0.5
	if totalWeight > 0 {
		quality = weighted / totalWeight
	}
	return Example{Input: log.Prompt, Output: log.Output, Quality: quality}
}

// normalizeInput canonicalizes an input for dedupe hashing: lowercase with
// whitespace runs collapsed.
func normalizeInput(input string) string {
	return strings.Join(strings.Fields(strings.ToLower(input)), " ")
}

func inputHash(input string) [32]byte {
	return sha256.Sum256([]byte(normalizeInput(input)))
}

// buildDataset runs transform, filter, merge, dedupe, shuffle, and split. The
// shuffle is seeded from the job id so a job's split is reproducible. When two
// examples share a normalized input, the higher-quality one wins.
func buildDataset(jobID string, logs []inferlog.InferenceLog, seeds []SeedExample) (*Dataset, error) {
	byHash := map[[32]byte]Example{}

	keep := func(e Example) {
		h := inputHash(e.Input)
		if existing, ok := byHash[h]; ok && existing.Quality >= e.Quality {
			return
		}
		byHash[h] = e
	}

	for i := range logs {
		e := exampleFromLog(&logs[i])
		if e.Input == "" || e.Output == "" {
			continue
		}
		if e.Quality < minQuality {
			continue
		}
		keep(e)
	}
	for _, seed := range seeds {
		if seed.Input == "" || seed.Output == "" {
			continue
		}
		keep(Example{Input: seed.Input, Output: seed.Output, Quality: 1.0})
	}

	if len(byHash) == 0 {
		return nil, pkgerrors.New("no training examples after filtering")
	}

	examples := make([]Example, 0, len(byHash))
	for _, e := range byHash {
		examples = append(examples, e)
	}
	// Map iteration order is random; sort before the seeded shuffle so the
	// split is deterministic for a job id.
	sort.Slice(examples, func(i, j int) bool { return examples[i].Input < examples[j].Input })

	rng := rand.New(rand.NewSource(seedFromJobID(jobID)))
	rng.Shuffle(len(examples), func(i, j int) {
		examples[i], examples[j] = examples[j], examples[i]
	})

	if len(examples) > maxExamples {
		examples = examples[:maxExamples]
	}

	cut := int(float64(len(examples)) * trainRatio)
	if cut == 0 && len(examples) > 0 {
		cut = 1
	}
	return &Dataset{Train: examples[:cut], Validation: examples[cut:]}, nil
}

func seedFromJobID(jobID string) int64 {
	sum := sha256.Sum256([]byte(jobID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// encodeJSONL renders one formatted example per line for upload.
func encodeJSONL(examples []Example, format formatFunc) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range examples {
		if err := enc.Encode(map[string]string{"text": format(e)}); err != nil {
			return nil, pkgerrors.Wrap(err, "encoding training example")
		}
	}
	return buf.Bytes(), nil
}
