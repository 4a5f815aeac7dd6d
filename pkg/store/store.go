package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

var (
	// ErrNotFound is returned when no job has the requested id
	ErrNotFound = errors.New("job not found")
	// ErrExists is returned when creating a job whose id is taken
	ErrExists = errors.New("job already exists")
	// ErrTerminal is returned when updating a job that already reached a terminal status
	ErrTerminal = errors.New("job is terminal")
)

// JobStore persists jobs. Returned jobs are copies owned by the caller.
type JobStore interface {
	// ListActive returns active jobs ordered by creation time
	ListActive(ctx context.Context) ([]*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	// Update overwrites a stored job. Terminal jobs are never rewritten.
	Update(ctx context.Context, job *models.Job) error
	Create(ctx context.Context, job *models.Job) error
}
