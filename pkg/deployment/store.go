package deployment

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/types"
)

const pgUniqueViolation = "23505"

// Deployment is one rollout attempt for a model.
type Deployment struct {
	ID                string                   `db:"deployment_id" json:"deployment_id"`
	ModelID           string                   `db:"model_id" json:"model_id"`
	Strategy          types.DeploymentStrategy `db:"strategy" json:"strategy"`
	Status            types.DeploymentStatus   `db:"status" json:"status"`
	TrafficPercentage int                      `db:"traffic_percentage" json:"traffic_percentage"`
	StartTime         time.Time                `db:"start_time" json:"start_time"`
	CompleteTime      *time.Time               `db:"complete_time" json:"complete_time,omitempty"`
	RollbackReason    *string                  `db:"rollback_reason" json:"rollback_reason,omitempty"`
}

// Store persists deployment lifecycle records. The partial unique index on
// in_progress rows is what serializes deployments per target model.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a Store over the given pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const deploymentColumns = `deployment_id, model_id, strategy, status, traffic_percentage,
	start_time, complete_time, rollback_reason`

// Begin creates an in_progress deployment for the model. A second concurrent
// deployment for the same model fails with Conflict.
func (s *Store) Begin(ctx context.Context, modelID string, strategy types.DeploymentStrategy) (*Deployment, error) {
	d := &Deployment{
		ID:        uuid.NewString(),
		ModelID:   modelID,
		Strategy:  strategy,
		Status:    types.DeploymentInProgress,
		StartTime: s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (deployment_id, model_id, strategy, status,
			traffic_percentage, start_time)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.ModelID, d.Strategy, d.Status, d.TrafficPercentage, d.StartTime)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierror.Conflict("a deployment for model %s is already in progress", modelID).WithCause(err)
		}
		return nil, errors.Wrap(err, "beginning deployment")
	}
	return d, nil
}

// SetTraffic records the traffic share reached by an in-flight deployment.
func (s *Store) SetTraffic(ctx context.Context, deploymentID string, percent int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET traffic_percentage = $1 WHERE deployment_id = $2`,
		percent, deploymentID)
	return errors.Wrap(err, "recording deployment traffic")
}

// Finish moves the deployment to a terminal status. reason is stored for
// rolled_back and failed outcomes.
func (s *Store) Finish(ctx context.Context, deploymentID string, status types.DeploymentStatus, reason string) error {
	if !status.Terminal() {
		return apierror.InvalidArgument("deployment status %s is not terminal", status)
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = $1, complete_time = $2, rollback_reason = $3
		WHERE deployment_id = $4 AND status = $5`,
		status, s.now().UTC(), reasonPtr, deploymentID, types.DeploymentInProgress)
	if err != nil {
		return errors.Wrap(err, "finishing deployment")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading rows affected")
	}
	if n == 0 {
		return apierror.NotFound("no in-progress deployment %s", deploymentID)
	}
	return nil
}

// Get returns the deployment with the given id.
func (s *Store) Get(ctx context.Context, deploymentID string) (*Deployment, error) {
	var d Deployment
	err := s.db.GetContext(ctx, &d,
		`SELECT `+deploymentColumns+` FROM deployments WHERE deployment_id = $1`, deploymentID)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("deployment %s not found", deploymentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading deployment")
	}
	return &d, nil
}

// Latest returns the most recent deployment for a model.
func (s *Store) Latest(ctx context.Context, modelID string) (*Deployment, error) {
	var d Deployment
	err := s.db.GetContext(ctx, &d,
		`SELECT `+deploymentColumns+` FROM deployments
		 WHERE model_id = $1 ORDER BY start_time DESC LIMIT 1`, modelID)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("no deployment for model %s", modelID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading latest deployment")
	}
	return &d, nil
}

// ObservedTraffic reports the traffic share of the latest in-progress or most
// recent completed deployment for the model. Implements the rollback
// manager's TrafficObserver.
func (s *Store) ObservedTraffic(ctx context.Context, modelID string) (int, bool, error) {
	var pct int
	err := s.db.GetContext(ctx, &pct, `
		SELECT traffic_percentage FROM deployments
		WHERE model_id = $1 AND status IN ($2, $3)
		ORDER BY (status = $2) DESC, start_time DESC
		LIMIT 1`,
		modelID, types.DeploymentInProgress, types.DeploymentCompleted)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "observing deployment traffic")
	}
	return pct, true, nil
}

// RecordRollback writes the synthetic rollback deployment documenting a
// snapshot restore. Implements the rollback manager's RollbackRecorder.
func (s *Store) RecordRollback(ctx context.Context, modelID string, trafficPercentage int, reason string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (deployment_id, model_id, strategy, status,
			traffic_percentage, start_time, complete_time, rollback_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)`,
		uuid.NewString(), modelID, types.StrategyRollback, types.DeploymentCompleted,
		trafficPercentage, now, reason)
	return errors.Wrap(err, "recording rollback deployment")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
