package deployment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/questforge-ai/modelplane/pkg/inferlog"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Health gate thresholds over the trailing observation window.
const (
	HealthWindow    = 30 * time.Minute
	MaxErrorRate    = 0.10
	MaxAvgLatencyMS = 5000.0
	reasonCancelled = "cancelled"
)

// ModelController is the slice of the registry the deployment manager
// mutates: traffic shares and lifecycle status.
type ModelController interface {
	Get(ctx context.Context, modelID string) (*registry.Model, error)
	UpdateStatus(ctx context.Context, modelID string, status types.ModelStatus) error
	UpdateConfig(ctx context.Context, modelID string, patch types.Document) error
}

// HealthSource supplies recent measured health per model.
type HealthSource interface {
	Aggregate(ctx context.Context, modelID string, window time.Duration) (*inferlog.AggregateMetrics, error)
}

// Snapshotter captures and restores model state around a rollout.
type Snapshotter interface {
	Snapshot(ctx context.Context, modelID string) (string, error)
	Rollback(ctx context.Context, modelID, snapshotID string) error
}

// Log persists deployment lifecycle records.
type Log interface {
	Begin(ctx context.Context, modelID string, strategy types.DeploymentStrategy) (*Deployment, error)
	SetTraffic(ctx context.Context, deploymentID string, percent int) error
	Finish(ctx context.Context, deploymentID string, status types.DeploymentStatus, reason string) error
}

// Outcome summarizes a finished Deploy call.
type Outcome struct {
	DeploymentID string `json:"deployment_id"`
	Success      bool   `json:"success"`
	Reason       string `json:"reason,omitempty"`
}

// Manager runs rollout strategies with health monitoring and automatic
// rollback.
type Manager struct {
	models    ModelController
	health    HealthSource
	snapshots Snapshotter
	log       Log
	logger    logging.Interface
	now       func() time.Time

	// sleep is the cancellable observation wait, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a deployment Manager.
func NewManager(models ModelController, health HealthSource, snapshots Snapshotter,
	log Log, logger logging.Interface) *Manager {
	return &Manager{
		models:    models,
		health:    health,
		snapshots: snapshots,
		log:       log,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Deploy rolls newModelID out over currentModelID with the given strategy.
// The returned Outcome reports rolled-back rollouts as Success=false without
// an error; errors are reserved for invalid requests and unrecoverable
// failures (which also roll back).
func (m *Manager) Deploy(ctx context.Context, newModelID, currentModelID string, strategy types.DeploymentStrategy) (*Outcome, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	schedule, err := Schedule(strategy)
	if err != nil {
		return nil, err
	}

	// Both models must resolve before anything is mutated.
	if _, err := m.models.Get(ctx, newModelID); err != nil {
		return nil, err
	}
	if _, err := m.models.Get(ctx, currentModelID); err != nil {
		return nil, err
	}

	deployment, err := m.log.Begin(ctx, newModelID, strategy)
	if err != nil {
		return nil, err
	}

	logger := m.logger.WithField("deployment_id", deployment.ID).
		WithField("new_model", newModelID).
		WithField("current_model", currentModelID).
		WithField("strategy", string(strategy))
	logger.Info("Starting deployment")

	snapshotID, err := m.snapshots.Snapshot(ctx, currentModelID)
	if err != nil {
		_ = m.log.Finish(ctx, deployment.ID, types.DeploymentFailed, err.Error())
		return &Outcome{DeploymentID: deployment.ID}, err
	}

	for _, step := range schedule {
		if err := m.shiftTraffic(ctx, newModelID, step.Percent); err != nil {
			return m.fail(ctx, deployment.ID, currentModelID, snapshotID, err)
		}
		if err := m.log.SetTraffic(ctx, deployment.ID, step.Percent); err != nil {
			return m.fail(ctx, deployment.ID, currentModelID, snapshotID, err)
		}

		logger.WithField("traffic_percentage", step.Percent).Info("Shifted traffic")

		if err := m.sleep(ctx, step.Observe); err != nil {
			// Cancellation rolls the rollout back; the restore itself must
			// not run on the cancelled context.
			return m.rollBack(context.WithoutCancel(ctx), deployment.ID, currentModelID, snapshotID, reasonCancelled)
		}

		if issues := m.detectIssues(ctx, newModelID); len(issues) > 0 {
			return m.rollBack(ctx, deployment.ID, currentModelID, snapshotID, strings.Join(issues, "; "))
		}
	}

	if err := m.models.UpdateStatus(ctx, currentModelID, types.ModelStatusDeprecated); err != nil {
		return m.fail(ctx, deployment.ID, currentModelID, snapshotID, err)
	}
	if err := m.log.Finish(ctx, deployment.ID, types.DeploymentCompleted, ""); err != nil {
		logger.WithError(err).Warn("Failed to mark deployment completed")
	}

	logger.Info("Deployment completed")
	return &Outcome{DeploymentID: deployment.ID, Success: true}, nil
}

// shiftTraffic records the new share in the registry, which downstream load
// balancers read as the source of truth. Partial traffic keeps the model in
// testing; 100% promotes it to current (atomically demoting the old one).
func (m *Manager) shiftTraffic(ctx context.Context, modelID string, percent int) error {
	patch := types.Document{
		registry.ConfigKeyTrafficPercent:   percent,
		registry.ConfigKeyTrafficShiftedAt: m.now().UTC().Format(time.RFC3339),
	}
	if err := m.models.UpdateConfig(ctx, modelID, patch); err != nil {
		return err
	}

	status := types.ModelStatusTesting
	if percent >= 100 {
		status = types.ModelStatusCurrent
	}
	return m.models.UpdateStatus(ctx, modelID, status)
}

// detectIssues inspects the model's trailing window. Zero events is not an
// issue; rollback needs positive evidence.
func (m *Manager) detectIssues(ctx context.Context, modelID string) []string {
	agg, err := m.health.Aggregate(ctx, modelID, HealthWindow)
	if err != nil {
		m.logger.WithError(err).WithField("model_id", modelID).
			Warn("Health query failed, continuing rollout")
		return nil
	}
	if agg.Total == 0 {
		return nil
	}

	var issues []string
	if rate := agg.ErrorRate(); rate > MaxErrorRate {
		issues = append(issues, fmt.Sprintf("high error rate: %.1f%% over last %s (threshold %.0f%%)",
			rate*100, HealthWindow, MaxErrorRate*100))
	}
	if agg.AvgLatencyMS > MaxAvgLatencyMS {
		issues = append(issues, fmt.Sprintf("high latency: avg %.0fms over last %s (threshold %.0fms)",
			agg.AvgLatencyMS, HealthWindow, MaxAvgLatencyMS))
	}
	return issues
}

func (m *Manager) rollBack(ctx context.Context, deploymentID, currentModelID, snapshotID, reason string) (*Outcome, error) {
	m.logger.WithField("deployment_id", deploymentID).
		WithField("reason", reason).
		Warn("Rolling back deployment")

	if err := m.snapshots.Rollback(ctx, currentModelID, snapshotID); err != nil {
		m.logger.WithError(err).Error("Rollback during deployment failed")
		_ = m.log.Finish(ctx, deploymentID, types.DeploymentFailed, reason+"; rollback failed: "+err.Error())
		return &Outcome{DeploymentID: deploymentID, Reason: reason}, err
	}

	if err := m.log.Finish(ctx, deploymentID, types.DeploymentRolledBack, reason); err != nil {
		m.logger.WithError(err).Warn("Failed to mark deployment rolled back")
	}
	return &Outcome{DeploymentID: deploymentID, Reason: reason}, nil
}

// fail handles unexpected errors after the snapshot was taken: restore, then
// mark failed with the error text.
func (m *Manager) fail(ctx context.Context, deploymentID, currentModelID, snapshotID string, cause error) (*Outcome, error) {
	m.logger.WithError(cause).WithField("deployment_id", deploymentID).
		Error("Deployment failed, restoring snapshot")

	if err := m.snapshots.Rollback(ctx, currentModelID, snapshotID); err != nil {
		m.logger.WithError(err).Error("Rollback after deployment failure failed")
	}
	if err := m.log.Finish(ctx, deploymentID, types.DeploymentFailed, cause.Error()); err != nil {
		m.logger.WithError(err).Warn("Failed to mark deployment failed")
	}
	return &Outcome{DeploymentID: deploymentID, Reason: cause.Error()}, cause
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
