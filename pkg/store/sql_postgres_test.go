package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

func newPostgresMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, DialectPostgres), mock
}

func TestRebind(t *testing.T) {
	pg := NewSQLStore(nil, DialectPostgres)
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := NewSQLStore(nil, DialectSQLite)
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_jobs_status").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreate(t *testing.T) {
	s, mock := newPostgresMock(t)
	job := testJob("job-a", baseTime)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO jobs (" + jobColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)")).
		WithArgs("job-a", "dca", job.Owner, "active", sqlmock.AnyArg(), 0, nil, "", baseTime.UnixNano(), job.ExpiresAt.UnixNano(), baseTime.UnixNano()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateDuplicate(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})

	err := s.Create(context.Background(), testJob("job-a", baseTime))
	assert.True(t, errors.Is(err, ErrExists), "%v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateTerminal(t *testing.T) {
	s, mock := newPostgresMock(t)
	job := testJob("job-a", baseTime)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $8 AND status NOT IN ('executed','cancelled','expired','failed')")).
		WithArgs("active", sqlmock.AnyArg(), 0, nil, "", job.ExpiresAt.UnixNano(), baseTime.UnixNano(), "job-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM jobs WHERE id = $1")).
		WithArgs("job-a").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("cancelled"))

	err := s.Update(context.Background(), job)
	assert.True(t, errors.Is(err, ErrTerminal), "%v", err)
	assert.ErrorContains(t, err, "cancelled")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateMissing(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM jobs").WillReturnError(sql.ErrNoRows)

	err := s.Update(context.Background(), testJob("job-a", baseTime))
	assert.True(t, errors.Is(err, ErrNotFound), "%v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListActive(t *testing.T) {
	s, mock := newPostgresMock(t)
	job := testJob("job-a", baseTime)
	params, err := json.Marshal(job.Params)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "type", "owner", "status", "params", "retry_count", "last_attempt_at", "last_error", "created_at", "expires_at", "updated_at"}).
		AddRow("job-a", "dca", job.Owner, "active", string(params), 1, nil, "rpc timeout", baseTime.UnixNano(), nil, baseTime.UnixNano())
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE status = $1 ORDER BY created_at, id")).
		WithArgs("active").
		WillReturnRows(rows)

	jobs, err := s.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.StatusActive, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].RetryCount)
	assert.Equal(t, "rpc timeout", jobs[0].LastError)
	assert.Nil(t, jobs[0].ExpiresAt)
	assert.Equal(t, 3, jobs[0].Params.DCA.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListActiveBadParams(t *testing.T) {
	s, mock := newPostgresMock(t)

	rows := sqlmock.NewRows([]string{"id", "type", "owner", "status", "params", "retry_count", "last_attempt_at", "last_error", "created_at", "expires_at", "updated_at"}).
		AddRow("job-a", "dca", "0x1", "active", "{not json", 0, nil, "", int64(0), nil, int64(0))
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	_, err := s.ListActive(context.Background())
	assert.ErrorContains(t, err, "job-a")
}
