package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// Dialect selects placeholder style and error decoding
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const jobColumns = "id, type, owner, status, params, retry_count, last_attempt_at, last_error, created_at, expires_at, updated_at"

// terminalStatuses is the SQL list of statuses an update may not overwrite
var terminalStatuses = "'" + strings.Join([]string{
	string(models.StatusExecuted),
	string(models.StatusCancelled),
	string(models.StatusExpired),
	string(models.StatusFailed),
}, "','") + "'"

// SQLStore is a JobStore over sqlite3 or postgres
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ JobStore = (*SQLStore)(nil)

// Open connects to the database and applies the schema
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dialect := Dialect(driver)
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, errors.Newf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if dialect == DialectSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database without touching its schema
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Migrate creates the jobs table if it does not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply schema")
		}
	}
	return nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute %q", pragma)
		}
	}
	return nil
}

// ListActive returns active jobs ordered by creation time
func (s *SQLStore) ListActive(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY created_at, id"),
		string(models.StatusActive))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, errors.Wrap(rows.Err(), "failed to list active jobs")
}

// Get returns the job with id
func (s *SQLStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+jobColumns+" FROM jobs WHERE id = ?"), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return job, err
}

// Create inserts a new job
func (s *SQLStore) Create(ctx context.Context, job *models.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return errors.Wrap(err, "failed to marshal params")
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO jobs ("+jobColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		job.ID, string(job.Type), job.Owner, string(job.Status), string(params), job.RetryCount,
		nullableNanos(job.LastAttemptAt), job.LastError, job.CreatedAt.UnixNano(),
		nullableNanos(job.ExpiresAt), job.UpdatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(ErrExists, "job %s", job.ID)
		}
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// Update overwrites the mutable columns of a non-terminal job
func (s *SQLStore) Update(ctx context.Context, job *models.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return errors.Wrap(err, "failed to marshal params")
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE jobs SET status = ?, params = ?, retry_count = ?, last_attempt_at = ?, last_error = ?, expires_at = ?, updated_at = ? "+
			"WHERE id = ? AND status NOT IN ("+terminalStatuses+")"),
		string(job.Status), string(params), job.RetryCount, nullableNanos(job.LastAttemptAt),
		job.LastError, nullableNanos(job.ExpiresAt), job.UpdatedAt.UnixNano(), job.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n > 0 {
		return nil
	}

	// nothing changed: the job is either missing or terminal
	var status string
	err = s.db.QueryRowContext(ctx, s.rebind("SELECT status FROM jobs WHERE id = ?"), job.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(ErrNotFound, "job %s", job.ID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read job %s", job.ID)
	}
	return errors.Wrapf(ErrTerminal, "job %s is %s", job.ID, status)
}

// rebind converts ? placeholders to $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		job                  models.Job
		jobType, status, raw string
		lastAttempt, expires sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&job.ID, &jobType, &job.Owner, &status, &raw, &job.RetryCount,
		&lastAttempt, &job.LastError, &createdAt, &expires, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan job")
	}
	if err := json.Unmarshal([]byte(raw), &job.Params); err != nil {
		return nil, errors.Wrapf(err, "failed to decode params of job %s", job.ID)
	}

	job.Type = models.JobType(jobType)
	job.Status = models.JobStatus(status)
	job.LastAttemptAt = nanosPtr(lastAttempt)
	job.ExpiresAt = nanosPtr(expires)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &job, nil
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nanosPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
