package guardrails

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/types"
)

// Violation is one guardrails finding, persisted together with the
// intervention decision taken for it.
type Violation struct {
	ID           string                  `db:"violation_id" json:"violation_id"`
	ModelID      string                  `db:"model_id" json:"model_id"`
	Category     types.ViolationCategory `db:"category" json:"category"`
	Severity     types.Severity          `db:"severity" json:"severity"`
	Details      types.Document          `db:"details_json" json:"details"`
	OutputSample string                  `db:"output_sample" json:"output_sample"`
	Intervention string                  `db:"intervention" json:"intervention"`
	CreatedAt    time.Time               `db:"created_at" json:"created_at"`
}

// ViolationStore persists guardrails findings. The monitor treats persistence
// as best-effort; a failed write never blocks an intervention.
type ViolationStore interface {
	Record(ctx context.Context, violation *Violation) error
	ListRecent(ctx context.Context, modelID string, limit int) ([]Violation, error)
}

// PostgresViolationStore is the production ViolationStore.
type PostgresViolationStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewViolationStore creates a PostgresViolationStore over the given pool.
func NewViolationStore(db *sqlx.DB) *PostgresViolationStore {
	return &PostgresViolationStore{db: db, now: time.Now}
}

// Record inserts the violation, assigning id and timestamp.
func (s *PostgresViolationStore) Record(ctx context.Context, violation *Violation) error {
	if violation.ID == "" {
		violation.ID = uuid.NewString()
	}
	violation.CreatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardrails_violations (violation_id, model_id, category, severity,
			details_json, output_sample, intervention, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		violation.ID, violation.ModelID, violation.Category, violation.Severity,
		violation.Details, violation.OutputSample, violation.Intervention, violation.CreatedAt)
	return errors.Wrap(err, "recording guardrails violation")
}

// ListRecent returns the newest violations for a model.
func (s *PostgresViolationStore) ListRecent(ctx context.Context, modelID string, limit int) ([]Violation, error) {
	if limit <= 0 {
		limit = 100
	}

	violations := []Violation{}
	err := s.db.SelectContext(ctx, &violations, `
		SELECT violation_id, model_id, category, severity, details_json,
			output_sample, intervention, created_at
		FROM guardrails_violations
		WHERE model_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		modelID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing guardrails violations")
	}
	return violations, nil
}

var _ ViolationStore = (*PostgresViolationStore)(nil)

// MemoryViolationStore collects violations in memory for tests.
type MemoryViolationStore struct {
	Violations []Violation
}

// Record appends the violation.
func (s *MemoryViolationStore) Record(_ context.Context, violation *Violation) error {
	if violation.ID == "" {
		violation.ID = uuid.NewString()
	}
	s.Violations = append(s.Violations, *violation)
	return nil
}

// ListRecent returns recorded violations for the model, newest last.
func (s *MemoryViolationStore) ListRecent(_ context.Context, modelID string, _ int) ([]Violation, error) {
	out := []Violation{}
	for _, v := range s.Violations {
		if v.ModelID == modelID {
			out = append(out, v)
		}
	}
	return out, nil
}

var _ ViolationStore = (*MemoryViolationStore)(nil)
