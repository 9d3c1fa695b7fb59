package registry

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/types"
)

const pgUniqueViolation = "23505"

// Registry is the authoritative catalog of models and their lifecycle state.
type Registry struct {
	db       *sqlx.DB
	logger   logging.Interface
	validate *validator.Validate
	now      func() time.Time
}

// NewRegistry creates a Registry over the given pool.
func NewRegistry(db *sqlx.DB, logger logging.Interface) *Registry {
	return &Registry{
		db:       db,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

const modelColumns = `model_id, name, kind, provider, use_case, version, status,
	config_json, metrics_json, resources_json, created_at, updated_at`

// Register creates a new model record in candidate status and returns its id.
func (r *Registry) Register(ctx context.Context, params RegisterParams) (string, error) {
	if err := r.validate.Struct(&params); err != nil {
		return "", apierror.InvalidArgument("invalid model registration").WithCause(err)
	}
	if err := params.Kind.Validate(); err != nil {
		return "", apierror.InvalidArgument("invalid model registration").WithCause(err)
	}

	modelID := uuid.NewString()
	now := r.now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO models (model_id, name, kind, provider, use_case, version, status,
			config_json, metrics_json, resources_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		modelID, params.Name, params.Kind, params.Provider, params.UseCase, params.Version,
		types.ModelStatusCandidate, params.Config, params.Metrics, params.Resources, now)
	if err != nil {
		return "", errors.Wrap(err, "registering model")
	}

	r.logger.WithField("model_id", modelID).
		WithField("use_case", params.UseCase).
		WithField("version", params.Version).
		Info("Registered model candidate")

	return modelID, nil
}

// Get returns the model with the given id.
func (r *Registry) Get(ctx context.Context, modelID string) (*Model, error) {
	var m Model
	err := r.db.GetContext(ctx, &m,
		`SELECT `+modelColumns+` FROM models WHERE model_id = $1`, modelID)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("model %s not found", modelID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading model")
	}
	return &m, nil
}

// GetCurrent returns the current model for a use case.
func (r *Registry) GetCurrent(ctx context.Context, useCase string) (*Model, error) {
	var m Model
	err := r.db.GetContext(ctx, &m,
		`SELECT `+modelColumns+` FROM models WHERE use_case = $1 AND status = $2`,
		useCase, types.ModelStatusCurrent)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("no current model for use case %s", useCase)
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading current model")
	}
	return &m, nil
}

// ListCandidates returns candidate models for a use case, newest first.
func (r *Registry) ListCandidates(ctx context.Context, useCase string) ([]Model, error) {
	models := []Model{}
	err := r.db.SelectContext(ctx, &models,
		`SELECT `+modelColumns+` FROM models
		 WHERE use_case = $1 AND status = $2
		 ORDER BY created_at DESC`,
		useCase, types.ModelStatusCandidate)
	if err != nil {
		return nil, errors.Wrap(err, "listing candidates")
	}
	return models, nil
}

// ListByStatus returns all models with the given status, newest first.
func (r *Registry) ListByStatus(ctx context.Context, status types.ModelStatus) ([]Model, error) {
	models := []Model{}
	err := r.db.SelectContext(ctx, &models,
		`SELECT `+modelColumns+` FROM models WHERE status = $1 ORDER BY created_at DESC`,
		status)
	if err != nil {
		return nil, errors.Wrap(err, "listing models by status")
	}
	return models, nil
}

// UseCasesWithCurrent returns every use case that has a current model.
func (r *Registry) UseCasesWithCurrent(ctx context.Context) ([]string, error) {
	useCases := []string{}
	err := r.db.SelectContext(ctx, &useCases,
		`SELECT use_case FROM models WHERE status = $1 ORDER BY use_case`,
		types.ModelStatusCurrent)
	if err != nil {
		return nil, errors.Wrap(err, "listing use cases")
	}
	return useCases, nil
}

// UpdateStatus changes a model's lifecycle status. Promoting to current
// demotes any other current model for the same use case in the same
// transaction, so readers never observe zero or two current models.
func (r *Registry) UpdateStatus(ctx context.Context, modelID string, newStatus types.ModelStatus) error {
	if err := newStatus.Validate(); err != nil {
		return apierror.InvalidArgument("invalid status").WithCause(err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning status update")
	}
	defer func() { _ = tx.Rollback() }()

	var useCase string
	err = tx.GetContext(ctx, &useCase, `SELECT use_case FROM models WHERE model_id = $1`, modelID)
	if err == sql.ErrNoRows {
		return apierror.NotFound("model %s not found", modelID)
	}
	if err != nil {
		return errors.Wrap(err, "loading model for status update")
	}

	if newStatus == types.ModelStatusCurrent {
		_, err = tx.ExecContext(ctx, `
			UPDATE models SET status = $1, updated_at = $2
			WHERE use_case = $3 AND status = $4 AND model_id <> $5`,
			types.ModelStatusDeprecated, r.now().UTC(), useCase, types.ModelStatusCurrent, modelID)
		if err != nil {
			return errors.Wrap(err, "demoting current model")
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE models SET status = $1, updated_at = $2 WHERE model_id = $3`,
		newStatus, r.now().UTC(), modelID)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.Conflict("another model is being promoted for use case %s", useCase).WithCause(err)
		}
		return errors.Wrap(err, "updating model status")
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return apierror.Conflict("another model is being promoted for use case %s", useCase).WithCause(err)
		}
		return errors.Wrap(err, "committing status update")
	}

	r.logger.WithField("model_id", modelID).
		WithField("status", newStatus).
		Info("Updated model status")

	return nil
}

// UpdatePerformance replaces the advisory metrics document, last writer wins.
func (r *Registry) UpdatePerformance(ctx context.Context, modelID string, metrics types.Document) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE models SET metrics_json = $1, updated_at = $2 WHERE model_id = $3`,
		metrics, r.now().UTC(), modelID)
	if err != nil {
		return errors.Wrap(err, "updating model metrics")
	}
	return r.requireRow(res, modelID)
}

// UpdateConfig shallow-merges the patch over the existing configuration. The
// merge happens in the database so concurrent patches to different keys both
// survive.
func (r *Registry) UpdateConfig(ctx context.Context, modelID string, patch types.Document) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE models SET config_json = config_json || $1::jsonb, updated_at = $2 WHERE model_id = $3`,
		patch, r.now().UTC(), modelID)
	if err != nil {
		return errors.Wrap(err, "patching model config")
	}
	return r.requireRow(res, modelID)
}

// ReplaceConfig overwrites the whole configuration document. Used by the
// rollback manager, where the restored state must match the snapshot exactly
// rather than merge over later edits.
func (r *Registry) ReplaceConfig(ctx context.Context, modelID string, config types.Document) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE models SET config_json = $1, updated_at = $2 WHERE model_id = $3`,
		config, r.now().UTC(), modelID)
	if err != nil {
		return errors.Wrap(err, "replacing model config")
	}
	return r.requireRow(res, modelID)
}

func (r *Registry) requireRow(res sql.Result, modelID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading rows affected")
	}
	if n == 0 {
		return apierror.NotFound("model %s not found", modelID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
