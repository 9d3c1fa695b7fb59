package registry

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questforge-ai/modelplane/pkg/apierror"
	"github.com/questforge-ai/modelplane/pkg/logging"
	"github.com/questforge-ai/modelplane/pkg/types"
)

func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	r := NewRegistry(db, logging.Discard())
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r, mock
}

func modelRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"model_id", "name", "kind", "provider", "use_case", "version", "status",
		"config_json", "metrics_json", "resources_json", "created_at", "updated_at",
	})
}

func TestRegister(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO models`)).
		WithArgs(sqlmock.AnyArg(), "llama-3-70b", "self_served", "vllm", "foundation_layer", "v1",
			"candidate", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := r.Register(context.Background(), RegisterParams{
		Name:     "llama-3-70b",
		Kind:     types.ModelKindSelfServed,
		Provider: "vllm",
		UseCase:  "foundation_layer",
		Version:  "v1",
		Config:   types.Document{"endpoint": "http://ep/generate"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterValidation(t *testing.T) {
	r, mock := newTestRegistry(t)

	_, err := r.Register(context.Background(), RegisterParams{
		Name: "incomplete",
	})
	require.Error(t, err)
	assert.True(t, apierror.IsInvalidArgument(err))

	_, err = r.Register(context.Background(), RegisterParams{
		Name:     "bad-kind",
		Kind:     "rented",
		Provider: "p",
		UseCase:  "u",
		Version:  "v",
	})
	require.Error(t, err)
	assert.True(t, apierror.IsInvalidArgument(err))

	// no SQL should have run
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectQuery(`SELECT .+ FROM models WHERE model_id`).
		WithArgs("missing").
		WillReturnRows(modelRows())

	_, err := r.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apierror.IsNotFound(err))
}

func TestGetCurrent(t *testing.T) {
	r, mock := newTestRegistry(t)

	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM models WHERE use_case`).
		WithArgs("foundation_layer", "current").
		WillReturnRows(modelRows().AddRow(
			"m1", "llama", "self_served", "vllm", "foundation_layer", "v1", "current",
			[]byte(`{"endpoint":"http://ep/generate","traffic_percentage":100}`),
			[]byte(`{"accuracy":0.9}`), []byte(`{}`), created, created))

	m, err := r.GetCurrent(context.Background(), "foundation_layer")
	require.NoError(t, err)

	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, types.ModelStatusCurrent, m.Status)
	assert.Equal(t, "http://ep/generate", m.Endpoint())
	assert.Equal(t, 100, m.TrafficPercentage())
	assert.False(t, m.OutputsBlocked())
}

func TestUpdateStatusPromotionDemotesPrior(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT use_case FROM models WHERE model_id`).
		WithArgs("m2").
		WillReturnRows(sqlmock.NewRows([]string{"use_case"}).AddRow("foundation_layer"))
	mock.ExpectExec(`UPDATE models SET status`).
		WithArgs("deprecated", sqlmock.AnyArg(), "foundation_layer", "current", "m2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE models SET status`).
		WithArgs("current", sqlmock.AnyArg(), "m2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.UpdateStatus(context.Background(), "m2", types.ModelStatusCurrent)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusConflict(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT use_case FROM models WHERE model_id`).
		WithArgs("m2").
		WillReturnRows(sqlmock.NewRows([]string{"use_case"}).AddRow("foundation_layer"))
	mock.ExpectExec(`UPDATE models SET status`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE models SET status`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := r.UpdateStatus(context.Background(), "m2", types.ModelStatusCurrent)
	require.Error(t, err)
	assert.True(t, apierror.IsConflict(err))
}

func TestUpdateStatusUnknownModel(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT use_case FROM models WHERE model_id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"use_case"}))
	mock.ExpectRollback()

	err := r.UpdateStatus(context.Background(), "missing", types.ModelStatusTesting)
	require.Error(t, err)
	assert.True(t, apierror.IsNotFound(err))
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.UpdateStatus(context.Background(), "m1", "exploded")
	require.Error(t, err)
	assert.True(t, apierror.IsInvalidArgument(err))
}

func TestUpdateConfigMergesInDatabase(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE models SET config_json = config_json || $1::jsonb`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.UpdateConfig(context.Background(), "m1", types.Document{
		ConfigKeyTrafficPercent: 25,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConfigNotFound(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectExec(`UPDATE models SET config_json`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.UpdateConfig(context.Background(), "missing", types.Document{"a": 1})
	require.Error(t, err)
	assert.True(t, apierror.IsNotFound(err))
}

func TestUpdatePerformance(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE models SET metrics_json = $1`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.UpdatePerformance(context.Background(), "m1", types.Document{"accuracy": 0.93})
	require.NoError(t, err)
}

func TestListCandidates(t *testing.T) {
	r, mock := newTestRegistry(t)

	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM models`).
		WithArgs("story_generation", "candidate").
		WillReturnRows(modelRows().
			AddRow("m3", "mistral-ft", "self_served", "vllm", "story_generation", "v2", "candidate",
				[]byte(`{}`), []byte(`{}`), []byte(`{}`), created, created).
			AddRow("m4", "gpt-hosted", "hosted", "openai", "story_generation", "v1", "candidate",
				[]byte(`{}`), []byte(`{}`), []byte(`{}`), created, created))

	models, err := r.ListCandidates(context.Background(), "story_generation")
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "m3", models[0].ID)
	assert.Equal(t, types.ModelKindHosted, models[1].Kind)
}

func TestUseCasesWithCurrent(t *testing.T) {
	r, mock := newTestRegistry(t)

	mock.ExpectQuery(`SELECT use_case FROM models WHERE status`).
		WithArgs("current").
		WillReturnRows(sqlmock.NewRows([]string{"use_case"}).
			AddRow("foundation_layer").
			AddRow("story_generation"))

	useCases, err := r.UseCasesWithCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"foundation_layer", "story_generation"}, useCases)
}
