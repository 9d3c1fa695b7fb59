package rollback

import (
	"context"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/registry"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// ModelStore is the slice of the registry the rollback manager needs.
type ModelStore interface {
	Get(ctx context.Context, modelID string) (*registry.Model, error)
	UpdateStatus(ctx context.Context, modelID string, status types.ModelStatus) error
	ReplaceConfig(ctx context.Context, modelID string, config types.Document) error
}

// TrafficObserver reports the traffic share of a model's latest in-progress
// or most recent completed deployment. Implemented by the deployment store.
type TrafficObserver interface {
	ObservedTraffic(ctx context.Context, modelID string) (int, bool, error)
}

// RollbackRecorder writes the synthetic deployment record that documents a
// restore. Implemented by the deployment store.
type RollbackRecorder interface {
	RecordRollback(ctx context.Context, modelID string, trafficPercentage int, reason string) error
}

// Manager owns snapshot creation and restoration of model + traffic state.
type Manager struct {
	models    ModelStore
	snapshots SnapshotStore
	traffic   TrafficObserver
	recorder  RollbackRecorder
	logger    logging.Interface
}

// NewManager creates a rollback Manager. traffic and recorder may be nil when
// no deployment store is wired (pure snapshot/restore of configuration).
func NewManager(models ModelStore, snapshots SnapshotStore, traffic TrafficObserver,
	recorder RollbackRecorder, logger logging.Interface) *Manager {
	return &Manager{
		models:    models,
		snapshots: snapshots,
		traffic:   traffic,
		recorder:  recorder,
		logger:    logger,
	}
}

// Snapshot captures the model's resolved record and current traffic
// allocation, returning the snapshot id.
func (m *Manager) Snapshot(ctx context.Context, modelID string) (string, error) {
	model, err := m.models.Get(ctx, modelID)
	if err != nil {
		return "", err
	}

	trafficPct := model.TrafficPercentage()
	if m.traffic != nil {
		if observed, ok, err := m.traffic.ObservedTraffic(ctx, modelID); err == nil && ok {
			trafficPct = observed
		}
	}

	artifact, _ := model.Config.String(registry.ConfigKeyArtifactURI)
	snapshot := &Snapshot{
		ModelID:   modelID,
		StatePath: artifact,
		Config:    model.Config.Clone(),
		Metrics:   model.Metrics.Clone(),
		Traffic: types.Document{
			"traffic_percentage": trafficPct,
			"status":             string(model.Status),
		},
	}
	if err := m.snapshots.Create(ctx, snapshot); err != nil {
		return "", err
	}

	m.logger.WithField("model_id", modelID).
		WithField("snapshot_id", snapshot.ID).
		WithField("traffic_percentage", trafficPct).
		Info("Captured model snapshot")

	return snapshot.ID, nil
}

// Rollback restores the model from the given snapshot, or from its most
// recent snapshot when snapshotID is empty. The restore replaces the
// configuration wholesale, re-promotes the model to current, verifies the
// promotion, and records a synthetic rollback deployment. Rollback never
// triggers further rollbacks.
func (m *Manager) Rollback(ctx context.Context, modelID, snapshotID string) error {
	return m.RollbackWithReason(ctx, modelID, snapshotID, "")
}

// RollbackWithReason is Rollback with an operator-supplied reason recorded on
// the synthetic rollback deployment.
func (m *Manager) RollbackWithReason(ctx context.Context, modelID, snapshotID, reason string) error {
	var snapshot *Snapshot
	var err error
	if snapshotID == "" {
		snapshot, err = m.snapshots.Latest(ctx, modelID)
	} else {
		snapshot, err = m.snapshots.Get(ctx, snapshotID)
	}
	if err != nil {
		return err
	}
	if snapshot.ModelID != modelID {
		return apierror.InvalidArgument("snapshot %s belongs to model %s, not %s",
			snapshot.ID, snapshot.ModelID, modelID)
	}

	if err := m.models.ReplaceConfig(ctx, modelID, snapshot.Config); err != nil {
		return err
	}
	if err := m.models.UpdateStatus(ctx, modelID, types.ModelStatusCurrent); err != nil {
		return err
	}

	// Verify: the model must read back as current.
	restored, err := m.models.Get(ctx, modelID)
	if err != nil {
		return apierror.Internal("rollback of model %s cannot be verified", modelID).WithCause(err)
	}
	if restored.Status != types.ModelStatusCurrent {
		return apierror.Internal("rollback left model %s in status %s", modelID, restored.Status)
	}

	if reason == "" {
		reason = "restored from snapshot " + snapshot.ID
	}
	if m.recorder != nil {
		if err := m.recorder.RecordRollback(ctx, modelID, snapshot.TrafficPercentage(), reason); err != nil {
			m.logger.WithError(err).WithField("model_id", modelID).
				Warn("Failed to record rollback deployment")
		}
	}

	m.logger.WithField("model_id", modelID).
		WithField("snapshot_id", snapshot.ID).
		Info("Rolled back model to snapshot")

	return nil
}
