package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/questforge-ai/modelplane/pkg/afero"
	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/objectstore"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

const (
	defaultLogWindow         = 30 * 24 * time.Hour
	defaultPollInterval      = 15 * time.Second
	defaultTrainingDeadline  = 4 * time.Hour
	defaultValidationSamples = 10
	passThreshold            = 0.80
)

// Config key on the base model marking it unable to take LoRA adapters.
const configKeySupportsLoRA = "supports_lora"

// Keys within a job's dataset_refs and validation documents.
const (
	RefTrainURI      = "train_uri"
	RefValidationURI = "validation_uri"
	RefOutputURI     = "output_uri"
	RefTrainCount    = "train_count"
	RefValCount      = "validation_count"
	RefTemplate      = "template"

	ValTested      = "tested"
	ValSuccessful  = "successful"
	ValSuccessRate = "success_rate"
	ValPassed      = "passed"
	ValAttempt     = "attempt"
	ValError       = "error"
)

// ModelStore is the slice of the registry the orchestrator needs.
type ModelStore interface {
	Get(ctx context.Context, modelID string) (*registry.Model, error)
	Register(ctx context.Context, params registry.RegisterParams) (string, error)
	UpdateConfig(ctx context.Context, modelID string, patch types.Document) error
	UpdateStatus(ctx context.Context, modelID string, status types.ModelStatus) error
}

// LogSource supplies the historical inference logs the dataset is built from.
type LogSource interface {
	Query(ctx context.Context, params inferlog.QueryParams) ([]inferlog.InferenceLog, error)
}

// Prober calls a specific model directly, bypassing routing. Implemented by
// the LLM client.
type Prober interface {
	Probe(ctx context.Context, model *registry.Model, prompt string) *types.GenerateResponse
}

// Params is one fine-tune request.
type Params struct {
	BaseModelID  string        `json:"base_model_id" validate:"required"`
	UseCase      string        `json:"use_case" validate:"required"`
	LogWindow    time.Duration `json:"-"`
	SeedExamples []SeedExample `json:"seed_examples,omitempty"`
	// SeedFiles are file:// JSONL references staged through the fs.
	SeedFiles []string `json:"seed_files,omitempty"`
}

// Orchestrator runs the fine-tune pipeline: dataset assembly and upload,
// training submission, candidate registration, and validation. Training
// executes externally; the orchestrator submits, observes, and promotes
// metadata.
type Orchestrator struct {
	models  ModelStore
	logs    LogSource
	jobs    JobStore
	objects objectstore.Store
	backend TrainingBackend
	prober  Prober
	fs      afero.Fs
	logger  logging.Interface

	artifactPrefix    string
	pollInterval      time.Duration
	trainingDeadline  time.Duration
	validationSamples int

	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the pipeline. fs may be nil for an OS filesystem.
func NewOrchestrator(models ModelStore, logs LogSource, jobs JobStore, objects objectstore.Store,
	backend TrainingBackend, prober Prober, fs afero.Fs, artifactPrefix string, logger logging.Interface) *Orchestrator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if artifactPrefix == "" {
		artifactPrefix = "finetune"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Orchestrator{
		models:            models,
		logs:              logs,
		jobs:              jobs,
		objects:           objects,
		backend:           backend,
		prober:            prober,
		fs:                fs,
		logger:            logger,
		artifactPrefix:    artifactPrefix,
		pollInterval:      defaultPollInterval,
		trainingDeadline:  defaultTrainingDeadline,
		validationSamples: defaultValidationSamples,
		now:               time.Now,
		newID:             uuid.NewString,
		sleep:             sleepCtx,
	}
}

// FineTune runs the whole pipeline synchronously and returns the finished job
// record. The job row reflects every status transition along the way; errors
// after the row exists are returned alongside the failed job.
func (o *Orchestrator) FineTune(ctx context.Context, params Params) (*Job, error) {
	if params.BaseModelID == "" || params.UseCase == "" {
		return nil, apierror.InvalidArgument("base_model_id and use_case are required")
	}

	base, err := o.models.Get(ctx, params.BaseModelID)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:          o.newID(),
		BaseModelID: base.ID,
		UseCase:     params.UseCase,
		Status:      string(types.FineTunePreparing),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	logger := o.logger.WithField("job_id", job.ID).WithField("base_model_id", base.ID)
	logger.WithField("use_case", params.UseCase).Info("Starting fine-tune pipeline")

	dataset, layout, refs, err := o.prepare(ctx, job, base, params)
	if err != nil {
		return o.fail(ctx, job, err)
	}
	job.DatasetRefs = refs

	supportsLoRA := true
	if flag, ok := base.Config.Bool(configKeySupportsLoRA); ok {
		supportsLoRA = flag
	}
	hyper := hyperparametersFor(base.Name, supportsLoRA)

	candidateID := ""
	for attempt := 1; attempt <= 2; attempt++ {
		outputURI := o.objects.URI(layout.OutputPrefix())
		if attempt > 1 {
			outputURI = o.objects.URI(path.Join(layout.OutputPrefix(), "retry") + "/")
			hyper = adjustForRetry(hyper)
		}

		if err := o.train(ctx, job, base, refs, hyper, outputURI); err != nil {
			return o.fail(ctx, job, err)
		}

		if candidateID == "" {
			candidateID, err = o.registerCandidate(ctx, job, base, hyper, outputURI)
			if err != nil {
				return o.fail(ctx, job, err)
			}
		} else if err := o.models.UpdateConfig(ctx, candidateID, types.Document{
			registry.ConfigKeyArtifactURI: outputURI,
			registry.ConfigKeyAdapterPath: adapterPathFor(hyper, outputURI),
		}); err != nil {
			return o.fail(ctx, job, err)
		}

		passed, validation, err := o.validate(ctx, job, candidateID, dataset, attempt)
		if err != nil {
			return o.fail(ctx, job, err)
		}
		if err := o.jobs.SetValidation(ctx, job.ID, validation); err != nil {
			return o.fail(ctx, job, err)
		}
		job.Validation = validation

		if passed {
			if err := o.jobs.SetStatus(ctx, job.ID, types.FineTunePromoted); err != nil {
				return o.fail(ctx, job, err)
			}
			job.Status = string(types.FineTunePromoted)
			logger.WithField("candidate_id", candidateID).Info("Fine-tune job promoted")
			return job, nil
		}

		logger.WithField("attempt", attempt).Warn("Validation below pass threshold")
	}

	// Both attempts failed validation: mark the candidate unusable.
	if candidateID != "" {
		if err := o.models.UpdateStatus(ctx, candidateID, types.ModelStatusFailed); err != nil {
			logger.WithError(err).Warn("Failed to mark candidate model failed")
		}
	}
	return o.fail(ctx, job, apierror.Internal("validation failed after retraining"))
}

// prepare collects logs, assembles the dataset, and uploads the JSONL splits.
func (o *Orchestrator) prepare(ctx context.Context, job *Job, base *registry.Model, params Params) (*Dataset, objectstore.ArtifactLayout, types.Document, error) {
	window := params.LogWindow
	if window <= 0 {
		window = defaultLogWindow
	}

	logs, err := o.logs.Query(ctx, inferlog.QueryParams{
		ModelID: base.ID,
		UseCase: params.UseCase,
		Since:   o.now().Add(-window),
		Limit:   maxExamples,
	})
	if err != nil {
		return nil, objectstore.ArtifactLayout{}, nil, err
	}

	fileSeeds, err := loadSeedFiles(o.fs, params.SeedFiles)
	if err != nil {
		return nil, objectstore.ArtifactLayout{}, nil, err
	}
	seeds := append(append([]SeedExample{}, params.SeedExamples...), fileSeeds...)

	dataset, err := buildDataset(job.ID, logs, seeds)
	if err != nil {
		return nil, objectstore.ArtifactLayout{}, nil, apierror.InvalidArgument("cannot assemble training data for %s/%s", base.ID, params.UseCase).WithCause(err)
	}

	template := detectTemplate(base.Name)
	format := template.formatter()

	trainData, err := encodeJSONL(dataset.Train, format)
	if err != nil {
		return nil, objectstore.ArtifactLayout{}, nil, err
	}
	valData, err := encodeJSONL(dataset.Validation, format)
	if err != nil {
		return nil, objectstore.ArtifactLayout{}, nil, err
	}

	layout := objectstore.NewArtifactLayout(path.Join(o.artifactPrefix, job.UseCase), o.now())
	trainURI, err := o.objects.Put(ctx, layout.DataKey(objectstore.SplitTrain), bytes.NewReader(trainData))
	if err != nil {
		return nil, objectstore.ArtifactLayout{}, nil, err
	}
	valURI, err := o.objects.Put(ctx, layout.DataKey(objectstore.SplitValidation), bytes.NewReader(valData))
	if err != nil {
		return nil, objectstore.ArtifactLayout{}, nil, err
	}

	refs := types.Document{
		RefTrainURI:      trainURI,
		RefValidationURI: valURI,
		RefOutputURI:     o.objects.URI(layout.OutputPrefix()),
		RefTrainCount:    len(dataset.Train),
		RefValCount:      len(dataset.Validation),
		RefTemplate:      string(template),
	}
	return dataset, layout, refs, nil
}

// train submits the job and polls the backend until the remote run finishes.
func (o *Orchestrator) train(ctx context.Context, job *Job, base *registry.Model, refs types.Document, hyper Hyperparameters, outputURI string) error {
	trainURI, _ := refs.String(RefTrainURI)
	valURI, _ := refs.String(RefValidationURI)

	handle, err := o.backend.Submit(ctx, TrainingSpec{
		JobID:           job.ID,
		BaseModel:       base.Name,
		TrainURI:        trainURI,
		ValidationURI:   valURI,
		OutputURI:       outputURI,
		Hyperparameters: hyper,
	})
	if err != nil {
		return err
	}

	hyperDoc, err := hyperparametersDoc(hyper)
	if err != nil {
		return err
	}
	if err := o.jobs.SetTraining(ctx, job.ID, handle, hyperDoc); err != nil {
		return err
	}
	job.TrainingHandle = handle
	job.Hyperparameters = hyperDoc
	job.Status = string(types.FineTuneTraining)

	deadline := o.now().Add(o.trainingDeadline)
	for {
		status, err := o.backend.Status(ctx, handle)
		if err != nil {
			return err
		}
		switch status.State {
		case TrainingSucceeded:
			return nil
		case TrainingFailed:
			return apierror.Internal("training job %s failed: %s", handle, status.Message)
		}

		if o.now().After(deadline) {
			return apierror.Internal("training job %s did not finish within %s", handle, o.trainingDeadline)
		}
		if err := o.sleep(ctx, o.pollInterval); err != nil {
			return err
		}
	}
}

// registerCandidate records the fine-tuned model as a candidate pointing at
// the training output, serving through the base model's endpoint with the
// new adapter.
func (o *Orchestrator) registerCandidate(ctx context.Context, job *Job, base *registry.Model, hyper Hyperparameters, outputURI string) (string, error) {
	config := types.Document{
		registry.ConfigKeyArtifactURI: outputURI,
		"finetune_job_id":             job.ID,
	}
	if endpoint := base.Endpoint(); endpoint != "" {
		config[registry.ConfigKeyEndpoint] = endpoint
	}
	if adapter := adapterPathFor(hyper, outputURI); adapter != "" {
		config[registry.ConfigKeyAdapterPath] = adapter
	}

	shortID := job.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	candidateID, err := o.models.Register(ctx, registry.RegisterParams{
		Name:     fmt.Sprintf("%s-ft-%s", base.Name, shortID),
		Kind:     types.ModelKindSelfServed,
		Provider: base.Provider,
		UseCase:  job.UseCase,
		Version:  o.now().UTC().Format("20060102T150405Z"),
		Config:   config,
	})
	if err != nil {
		return "", err
	}

	if err := o.jobs.SetStatus(ctx, job.ID, types.FineTuneValidating); err != nil {
		return "", err
	}
	job.Status = string(types.FineTuneValidating)
	return candidateID, nil
}

// validate probes the candidate with up to validationSamples held-out prompts
// and checks the success rate against the pass threshold.
func (o *Orchestrator) validate(ctx context.Context, job *Job, candidateID string, dataset *Dataset, attempt int) (bool, types.Document, error) {
	candidate, err := o.models.Get(ctx, candidateID)
	if err != nil {
		return false, nil, err
	}

	prompts := dataset.Validation
	if len(prompts) == 0 {
		prompts = dataset.Train
	}
	if len(prompts) > o.validationSamples {
		prompts = prompts[:o.validationSamples]
	}

	successful := 0
	for _, example := range prompts {
		resp := o.prober.Probe(ctx, candidate, example.Input)
		if resp.Success {
			successful++
		}
	}

	rate := 0.0
	if len(prompts) > 0 {
		rate = float64(successful) / float64(len(prompts))
	}
	passed := rate >= passThreshold

	validation := types.Document{
		ValTested:      len(prompts),
		ValSuccessful:  successful,
		ValSuccessRate: rate,
		ValPassed:      passed,
		ValAttempt:     attempt,
	}
	return passed, validation, nil
}

// fail marks the job failed, records the error, and hands both back.
func (o *Orchestrator) fail(ctx context.Context, job *Job, cause error) (*Job, error) {
	if err := o.jobs.SetStatus(ctx, job.ID, types.FineTuneFailed); err != nil {
		o.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to mark job failed")
	}
	job.Status = string(types.FineTuneFailed)

	validation := job.Validation.Merge(types.Document{ValError: cause.Error()})
	if err := o.jobs.SetValidation(ctx, job.ID, validation); err == nil {
		job.Validation = validation
	}
	return job, cause
}

func adapterPathFor(hyper Hyperparameters, outputURI string) string {
	if hyper.Method != MethodLoRA {
		return ""
	}
	return outputURI + "adapter"
}

func hyperparametersDoc(hyper Hyperparameters) (types.Document, error) {
	data, err := json.Marshal(hyper)
	if err != nil {
		return nil, err
	}
	var doc types.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
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
