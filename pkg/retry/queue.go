package retry

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

const (
	// DefaultBaseDelay is the delay before the first retry
	DefaultBaseDelay = 5 * time.Second

	// DefaultMaxDelay caps the exponential growth of the delay
	DefaultMaxDelay = 300 * time.Second

	// DefaultJitter is the maximum fraction added on top of the delay
	DefaultJitter = 0.2
)

// Config holds the backoff parameters
type Config struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// DefaultConfig returns the default backoff parameters
func DefaultConfig() Config {
	return Config{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
		Jitter:    DefaultJitter,
	}
}

// Delay computes min(base*2^attempt, max) * (1 + jitter*u) for u in [0,1)
func Delay(cfg Config, attempt int, u float64) time.Duration {
	d := cfg.BaseDelay
	for i := 0; i < attempt && d < cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return time.Duration(float64(d) * (1 + cfg.Jitter*u))
}

// Entry is a scheduled re-attempt of a job
type Entry struct {
	Job         *models.Job
	Attempt     int
	NextRetryAt time.Time
	seq         uint64
}

// Queue schedules re-attempts of transiently failed jobs. It holds at most
// one entry per job id and remembers the attempt number of drained entries
// until the job is removed, so backoff keeps growing across retries.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[string]*Entry
	attempts map[string]int
	seq      uint64
	random   func() float64
}

// Option configures a Queue
type Option func(*Queue)

// WithRandom overrides the uniform [0,1) source used for jitter
func WithRandom(f func() float64) Option {
	return func(q *Queue) {
		q.random = f
	}
}

// NewQueue creates an empty retry queue
func NewQueue(cfg Config, opts ...Option) *Queue {
	q := &Queue{
		cfg:      cfg,
		entries:  make(map[string]*Entry),
		attempts: make(map[string]int),
		random:   rand.Float64,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts or replaces the entry for job and returns it
func (q *Queue) Enqueue(job *models.Job, now time.Time) Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	attempt := 0
	if prev, ok := q.attempts[job.ID]; ok {
		attempt = prev + 1
	}
	q.attempts[job.ID] = attempt
	q.seq++

	e := &Entry{
		Job:         job.Clone(),
		Attempt:     attempt,
		NextRetryAt: now.Add(Delay(q.cfg, attempt, q.random())),
		seq:         q.seq,
	}
	q.entries[job.ID] = e
	return *e
}

// Requeue puts back a drained entry with its attempt and due time unchanged.
// It does nothing when the job was enqueued again meanwhile.
func (q *Queue) Requeue(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[e.Job.ID]; ok {
		return
	}
	q.attempts[e.Job.ID] = e.Attempt
	q.entries[e.Job.ID] = &e
}

// Remove drops any pending entry and the attempt history for jobID
func (q *Queue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, pending := q.entries[jobID]
	delete(q.entries, jobID)
	delete(q.attempts, jobID)
	return pending
}

// DrainDue removes and returns every entry with NextRetryAt <= now, in
// insertion order
func (q *Queue) DrainDue(now time.Time) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Entry
	for id, e := range q.entries {
		if !e.NextRetryAt.After(now) {
			due = append(due, *e)
			delete(q.entries, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].seq < due[j].seq
	})
	return due
}

// Size returns the number of pending entries
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Has reports whether jobID has a pending entry
func (q *Queue) Has(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[jobID]
	return ok
}

// NextDue returns the earliest scheduled retry time
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next time.Time
	found := false
	for _, e := range q.entries {
		if !found || e.NextRetryAt.Before(next) {
			next = e.NextRetryAt
			found = true
		}
	}
	return next, found
}

// Pending returns a snapshot of the pending entries in insertion order
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}
