package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

// MemoryStore is an in-process JobStore
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

var _ JobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

// ListActive returns copies of the active jobs
func (s *MemoryStore) ListActive(_ context.Context) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Status == models.StatusActive {
			out = append(out, j.Clone())
		}
	}
	sortJobs(out)
	return out, nil
}

// Get returns a copy of the job
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	return j.Clone(), nil
}

// Update stores a copy of job
func (s *MemoryStore) Update(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[job.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "job %s", job.ID)
	}
	if current.Status.IsTerminal() {
		return errors.Wrapf(ErrTerminal, "job %s is %s", job.ID, current.Status)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Create stores a copy of a new job
func (s *MemoryStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return errors.Wrapf(ErrExists, "job %s", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func sortJobs(jobs []*models.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}
