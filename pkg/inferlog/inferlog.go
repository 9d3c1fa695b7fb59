package inferlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/types"
)

// Well-known keys inside the metrics document. The document stays open;
// these are the fields the control plane itself reads and writes.
const (
	MetricLatencyMS    = "latency_ms"
	MetricTokensIn     = "tokens_in"
	MetricTokensOut    = "tokens_out"
	MetricTokensUsed   = "tokens_used"
	MetricTemperature  = "temperature"
	MetricMaxTokens    = "max_tokens"
	MetricError        = "error"
	MetricFallbackUsed = "fallback_used"

	MetricAccuracy   = "accuracy"
	MetricCoherence  = "coherence"
	MetricRelevance  = "relevance"
	MetricCreativity = "creativity"
	MetricUserRating = "user_rating"
)

// InferenceLog is one realized request. Rows are append-only; only the
// feedback and correction fields may change after the initial write.
type InferenceLog struct {
	ID              string         `db:"log_id" json:"log_id"`
	ModelID         string         `db:"model_id" json:"model_id"`
	UseCase         string         `db:"use_case" json:"use_case"`
	Prompt          string         `db:"prompt" json:"prompt"`
	Context         types.Document `db:"context_json" json:"context"`
	Output          string         `db:"output" json:"output"`
	Feedback        types.Document `db:"feedback_json" json:"feedback,omitempty"`
	CorrectedOutput *string        `db:"corrected_output" json:"corrected_output,omitempty"`
	Metrics         types.Document `db:"metrics_json" json:"metrics"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// LogParams carries the fields for one new log row.
type LogParams struct {
	ModelID         string
	UseCase         string
	Prompt          string
	Context         types.Document
	Output          string
	Metrics         types.Document
	Feedback        types.Document
	CorrectedOutput *string
}

// QueryParams filters Query. Zero values mean "no filter"; Limit is capped
// by the store.
type QueryParams struct {
	ModelID string
	UseCase string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// AggregateMetrics is the health summary over a window of logs.
type AggregateMetrics struct {
	Total        int     `db:"total"`
	Errors       int     `db:"errors"`
	P50LatencyMS float64 `db:"p50_latency_ms"`
	P95LatencyMS float64 `db:"p95_latency_ms"`
	AvgLatencyMS float64 `db:"avg_latency_ms"`
	AvgQuality   float64 `db:"avg_quality"`
}

// ErrorRate returns errors/total, 0 for an empty window.
func (a *AggregateMetrics) ErrorRate() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Errors) / float64(a.Total)
}

const maxQueryLimit = 10000

// Store is the append-only historical log of inferences.
type Store struct {
	db     *sqlx.DB
	logger logging.Interface
	now    func() time.Time
}

// NewStore creates a Store over the given pool.
func NewStore(db *sqlx.DB, logger logging.Interface) *Store {
	return &Store{db: db, logger: logger, now: time.Now}
}

// Log appends one inference event and returns its id.
func (s *Store) Log(ctx context.Context, params LogParams) (string, error) {
	if params.ModelID == "" || params.UseCase == "" {
		return "", apierror.InvalidArgument("model_id and use_case are required")
	}

	logID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inference_logs (log_id, model_id, use_case, prompt, context_json,
			output, feedback_json, corrected_output, metrics_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		logID, params.ModelID, params.UseCase, params.Prompt, params.Context,
		params.Output, params.Feedback, params.CorrectedOutput, params.Metrics,
		s.now().UTC())
	if err != nil {
		return "", errors.Wrap(err, "appending inference log")
	}

	return logID, nil
}

// Query returns matching logs newest-first.
func (s *Store) Query(ctx context.Context, params QueryParams) ([]InferenceLog, error) {
	query := `SELECT log_id, model_id, use_case, prompt, context_json, output,
		feedback_json, corrected_output, metrics_json, created_at
		FROM inference_logs WHERE 1=1`
	args := []interface{}{}

	if params.ModelID != "" {
		args = append(args, params.ModelID)
		query += sqlArg(" AND model_id = $%d", len(args))
	}
	if params.UseCase != "" {
		args = append(args, params.UseCase)
		query += sqlArg(" AND use_case = $%d", len(args))
	}
	if !params.Since.IsZero() {
		args = append(args, params.Since)
		query += sqlArg(" AND created_at >= $%d", len(args))
	}
	if !params.Until.IsZero() {
		args = append(args, params.Until)
		query += sqlArg(" AND created_at < $%d", len(args))
	}

	limit := params.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	args = append(args, limit)
	query += sqlArg(" ORDER BY created_at DESC LIMIT $%d", len(args))

	logs := []InferenceLog{}
	if err := s.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying inference logs")
	}
	return logs, nil
}

// Aggregate summarizes the model's logs over the trailing window. The
// percentiles and averages are computed in the database; an empty window
// yields zeros.
func (s *Store) Aggregate(ctx context.Context, modelID string, window time.Duration) (*AggregateMetrics, error) {
	since := s.now().UTC().Add(-window)

	var agg AggregateMetrics
	err := s.db.GetContext(ctx, &agg, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE COALESCE(metrics_json->>'error', '') <> '') AS errors,
			COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY (metrics_json->>'latency_ms')::double precision), 0) AS p50_latency_ms,
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY (metrics_json->>'latency_ms')::double precision), 0) AS p95_latency_ms,
			COALESCE(AVG((metrics_json->>'latency_ms')::double precision), 0) AS avg_latency_ms,
			COALESCE(AVG((metrics_json->>'accuracy')::double precision), 0) AS avg_quality
		FROM inference_logs
		WHERE model_id = $1 AND created_at >= $2`,
		modelID, since)
	if err != nil {
		return nil, errors.Wrap(err, "aggregating inference logs")
	}
	return &agg, nil
}

// AttachFeedback records user feedback and an optional corrected output on an
// existing log row. These are the only mutable fields.
func (s *Store) AttachFeedback(ctx context.Context, logID string, feedback types.Document, correctedOutput *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inference_logs
		SET feedback_json = COALESCE($1, feedback_json),
		    corrected_output = COALESCE($2, corrected_output)
		WHERE log_id = $3`,
		feedback, correctedOutput, logID)
	if err != nil {
		return errors.Wrap(err, "attaching feedback")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading rows affected")
	}
	if n == 0 {
		return apierror.NotFound("inference log %s not found", logID)
	}
	return nil
}

func sqlArg(format string, n int) string {
	return fmt.Sprintf(format, n)
}
