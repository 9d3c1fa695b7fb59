package finetune

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Job is one fine-tune run and its lifecycle record.
type Job struct {
	ID              string         `db:"job_id" json:"job_id"`
	BaseModelID     string         `db:"base_model_id" json:"base_model_id"`
	UseCase         string         `db:"use_case" json:"use_case"`
	TrainingHandle  string         `db:"training_handle" json:"training_handle,omitempty"`
	Hyperparameters types.Document `db:"hyperparameters_json" json:"hyperparameters"`
	DatasetRefs     types.Document `db:"dataset_refs_json" json:"dataset_refs"`
	Status          string         `db:"status" json:"status"`
	Validation      types.Document `db:"validation_json" json:"validation"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// JobStore persists fine-tune jobs.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	SetStatus(ctx context.Context, jobID string, status types.FineTuneStatus) error
	SetTraining(ctx context.Context, jobID, handle string, hyperparameters types.Document) error
	SetValidation(ctx context.Context, jobID string, validation types.Document) error
	ListByModel(ctx context.Context, baseModelID string, limit int) ([]Job, error)
}

const jobColumns = `job_id, base_model_id, use_case, training_handle,
	hyperparameters_json, dataset_refs_json, status, validation_json,
	created_at, updated_at`

// PostgresJobStore backs JobStore with the finetune_jobs table.
type PostgresJobStore struct {
	db *sqlx.DB
}

func NewPostgresJobStore(db *sqlx.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (s *PostgresJobStore) Create(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO finetune_jobs (job_id, base_model_id, use_case, training_handle,
			hyperparameters_json, dataset_refs_json, status, validation_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.BaseModelID, job.UseCase, job.TrainingHandle,
		job.Hyperparameters, job.DatasetRefs, job.Status, job.Validation)
	return pkgerrors.Wrap(err, "inserting finetune job")
}

func (s *PostgresJobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := s.db.GetContext(ctx, &job,
		`SELECT `+jobColumns+` FROM finetune_jobs WHERE job_id = $1`, jobID)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("finetune job %s not found", jobID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "selecting finetune job")
	}
	return &job, nil
}

func (s *PostgresJobStore) SetStatus(ctx context.Context, jobID string, status types.FineTuneStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE finetune_jobs SET status = $2, updated_at = now() WHERE job_id = $1`,
		jobID, status)
	if err != nil {
		return pkgerrors.Wrap(err, "updating finetune job status")
	}
	return requireRow(result, jobID)
}

func (s *PostgresJobStore) SetTraining(ctx context.Context, jobID, handle string, hyperparameters types.Document) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE finetune_jobs SET training_handle = $2, hyperparameters_json = $3,
			status = $4, updated_at = now()
		WHERE job_id = $1`,
		jobID, handle, hyperparameters, types.FineTuneTraining)
	if err != nil {
		return pkgerrors.Wrap(err, "recording training submission")
	}
	return requireRow(result, jobID)
}

func (s *PostgresJobStore) SetValidation(ctx context.Context, jobID string, validation types.Document) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE finetune_jobs SET validation_json = $2, updated_at = now() WHERE job_id = $1`,
		jobID, validation)
	if err != nil {
		return pkgerrors.Wrap(err, "recording validation metrics")
	}
	return requireRow(result, jobID)
}

func (s *PostgresJobStore) ListByModel(ctx context.Context, baseModelID string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	jobs := []Job{}
	err := s.db.SelectContext(ctx, &jobs,
		`SELECT `+jobColumns+` FROM finetune_jobs
		WHERE base_model_id = $1 ORDER BY created_at DESC LIMIT $2`,
		baseModelID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "listing finetune jobs")
	}
	return jobs, nil
}

func requireRow(result sql.Result, jobID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "checking affected rows")
	}
	if affected == 0 {
		return apierror.NotFound("finetune job %s not found", jobID)
	}
	return nil
}

// MemoryJobStore is the in-memory JobStore for tests.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string]*Job{}}
}

func (s *MemoryJobStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *job
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, apierror.NotFound("finetune job %s not found", jobID)
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryJobStore) SetStatus(_ context.Context, jobID string, status types.FineTuneStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return apierror.NotFound("finetune job %s not found", jobID)
	}
	job.Status = string(status)
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryJobStore) SetTraining(_ context.Context, jobID, handle string, hyperparameters types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return apierror.NotFound("finetune job %s not found", jobID)
	}
	job.TrainingHandle = handle
	job.Hyperparameters = hyperparameters
	job.Status = string(types.FineTuneTraining)
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryJobStore) SetValidation(_ context.Context, jobID string, validation types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return apierror.NotFound("finetune job %s not found", jobID)
	}
	job.Validation = validation
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryJobStore) ListByModel(_ context.Context, baseModelID string, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Job{}
	for _, job := range s.jobs {
		if job.BaseModelID == baseModelID {
			out = append(out, *job)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
