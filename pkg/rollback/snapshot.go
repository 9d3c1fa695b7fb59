package rollback

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Snapshot is the immutable captured state of a model at a point in time:
// its configuration, advisory metrics, traffic allocation, and a pointer to
// the on-storage artifact when one exists.
type Snapshot struct {
	ID        string         `db:"snapshot_id" json:"snapshot_id"`
	ModelID   string         `db:"model_id" json:"model_id"`
	StatePath string         `db:"state_path" json:"state_path"`
	Config    types.Document `db:"config_json" json:"config"`
	Metrics   types.Document `db:"metrics_json" json:"metrics"`
	Traffic   types.Document `db:"traffic_json" json:"traffic"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// TrafficPercentage returns the captured traffic share, 100 if unrecorded.
func (s *Snapshot) TrafficPercentage() int {
	if pct, ok := s.Traffic.Int("traffic_percentage"); ok {
		return pct
	}
	return 100
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	Create(ctx context.Context, snapshot *Snapshot) error
	Get(ctx context.Context, snapshotID string) (*Snapshot, error)
	Latest(ctx context.Context, modelID string) (*Snapshot, error)
}

// PostgresSnapshotStore is the production SnapshotStore.
type PostgresSnapshotStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSnapshotStore creates a PostgresSnapshotStore over the given pool.
func NewSnapshotStore(db *sqlx.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db, now: time.Now}
}

const snapshotColumns = `snapshot_id, model_id, state_path, config_json, metrics_json, traffic_json, created_at`

// Create inserts the snapshot, assigning id and timestamp.
func (s *PostgresSnapshotStore) Create(ctx context.Context, snapshot *Snapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	snapshot.CreatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, model_id, state_path, config_json,
			metrics_json, traffic_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snapshot.ID, snapshot.ModelID, snapshot.StatePath, snapshot.Config,
		snapshot.Metrics, snapshot.Traffic, snapshot.CreatedAt)
	return errors.Wrap(err, "creating snapshot")
}

// Get returns the snapshot with the given id.
func (s *PostgresSnapshotStore) Get(ctx context.Context, snapshotID string) (*Snapshot, error) {
	var snapshot Snapshot
	err := s.db.GetContext(ctx, &snapshot,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE snapshot_id = $1`, snapshotID)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("snapshot %s not found", snapshotID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading snapshot")
	}
	return &snapshot, nil
}

// Latest returns the most recent snapshot for a model.
func (s *PostgresSnapshotStore) Latest(ctx context.Context, modelID string) (*Snapshot, error) {
	var snapshot Snapshot
	err := s.db.GetContext(ctx, &snapshot,
		`SELECT `+snapshotColumns+` FROM snapshots
		 WHERE model_id = $1 ORDER BY created_at DESC LIMIT 1`, modelID)
	if err == sql.ErrNoRows {
		return nil, apierror.NotFound("no snapshot for model %s", modelID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading latest snapshot")
	}
	return &snapshot, nil
}

var _ SnapshotStore = (*PostgresSnapshotStore)(nil)

// MemorySnapshotStore is an in-memory SnapshotStore for tests.
type MemorySnapshotStore struct {
	snapshots []Snapshot
	now       func() time.Time
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{now: time.Now}
}

// Create appends the snapshot.
func (s *MemorySnapshotStore) Create(_ context.Context, snapshot *Snapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	snapshot.CreatedAt = s.now().UTC()
	s.snapshots = append(s.snapshots, *snapshot)
	return nil
}

// Get returns the snapshot with the given id.
func (s *MemorySnapshotStore) Get(_ context.Context, snapshotID string) (*Snapshot, error) {
	for i := range s.snapshots {
		if s.snapshots[i].ID == snapshotID {
			out := s.snapshots[i]
			return &out, nil
		}
	}
	return nil, apierror.NotFound("snapshot %s not found", snapshotID)
}

// Latest returns the most recently created snapshot for a model.
func (s *MemorySnapshotStore) Latest(_ context.Context, modelID string) (*Snapshot, error) {
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if s.snapshots[i].ModelID == modelID {
			out := s.snapshots[i]
			return &out, nil
		}
	}
	return nil, apierror.NotFound("no snapshot for model %s", modelID)
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)
