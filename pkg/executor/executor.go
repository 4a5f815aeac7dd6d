package executor

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/semaphore"

	"github.com/speedrun-hq/speedrun-keeper/pkg/keeper"
	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
	"github.com/speedrun-hq/speedrun-keeper/pkg/metrics"
	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
	"github.com/speedrun-hq/speedrun-keeper/pkg/pricecheck"
	"github.com/speedrun-hq/speedrun-keeper/pkg/retry"
	"github.com/speedrun-hq/speedrun-keeper/pkg/safety"
	"github.com/speedrun-hq/speedrun-keeper/pkg/store"
)

const (
	DefaultPollingInterval = 10 * time.Second
	DefaultKeeperTimeout   = 2 * time.Minute
)

// Config holds the executor settings
type Config struct {
	PollingInterval time.Duration
	// Concurrency is the number of jobs processed at once within a tick
	Concurrency   int
	KeeperTimeout time.Duration
}

// DefaultConfig processes jobs sequentially every 10 seconds
func DefaultConfig() Config {
	return Config{
		PollingInterval: DefaultPollingInterval,
		Concurrency:     1,
		KeeperTimeout:   DefaultKeeperTimeout,
	}
}

// Executor drives active jobs from the store through price checks, the
// safety guard and the keeper client. It owns the retry queue.
type Executor struct {
	cfg     Config
	store   store.JobStore
	keeper  keeper.Client
	prices  *pricecheck.Checker
	guard   *safety.Guard
	queue   *retry.Queue
	logger  logger.Logger
	timeNow func() time.Time

	tickMu sync.Mutex
}

// Option configures an Executor
type Option func(*Executor)

// WithClock overrides the clock used for scheduling decisions
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.timeNow = now
	}
}

// New creates an executor from its collaborators
func New(cfg Config, jobs store.JobStore, client keeper.Client, prices *pricecheck.Checker,
	guard *safety.Guard, queue *retry.Queue, log logger.Logger, opts ...Option) *Executor {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = DefaultPollingInterval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.KeeperTimeout <= 0 {
		cfg.KeeperTimeout = DefaultKeeperTimeout
	}

	e := &Executor{
		cfg:     cfg,
		store:   jobs,
		keeper:  client,
		prices:  prices,
		guard:   guard,
		queue:   queue,
		logger:  logger.Safe(log),
		timeNow: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Queue returns the retry queue owned by the executor
func (e *Executor) Queue() *retry.Queue {
	return e.queue
}

// Start runs a tick immediately and then every polling interval until ctx is done
func (e *Executor) Start(ctx context.Context) {
	e.logger.Info("Starting executor (interval %v, concurrency %d)", e.cfg.PollingInterval, e.cfg.Concurrency)

	ticker := time.NewTicker(e.cfg.PollingInterval)
	defer ticker.Stop()

	e.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Executor stopped")
			return
		case <-ticker.C:
			e.runTick(ctx)
		}
	}
}

func (e *Executor) runTick(ctx context.Context) {
	report, err := e.Tick(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("Executor tick failed: %v", err)
		}
		return
	}
	for _, perr := range report.Errors {
		e.logger.Error("Executor tick: %v", perr)
	}
	if report.Attempted() > 0 {
		e.logger.Info("Tick finished: %s", report)
	} else {
		e.logger.Debug("Tick finished: %s", report)
	}
}

// candidate is a job considered by a tick
type candidate struct {
	job *models.Job
	// retry is the drained entry of a job whose backoff elapsed this tick
	retry *retry.Entry
}

// Tick processes every due job once. It returns an error only when the
// active job list could not be read.
func (e *Executor) Tick(ctx context.Context) (*TickReport, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	begin := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(begin).Seconds()) }()

	now := e.timeNow()
	report := newTickReport()

	candidates, err := e.collect(ctx, now, report)
	if err != nil {
		return report, err
	}
	report.Candidates = len(candidates)

	if e.cfg.Concurrency == 1 || len(candidates) < 2 {
		for _, c := range candidates {
			if ctx.Err() != nil {
				break
			}
			outcome, perr := e.process(ctx, c, now)
			report.record(outcome, perr)
		}
	} else {
		e.processConcurrently(ctx, candidates, now, report)
	}

	e.updateGauges(now)
	return report, nil
}

func (e *Executor) processConcurrently(ctx context.Context, candidates []candidate, now time.Time, report *TickReport) {
	sem := semaphore.NewWeighted(int64(e.cfg.Concurrency))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			defer sem.Release(1)

			outcome, perr := e.process(ctx, c, now)
			mu.Lock()
			report.record(outcome, perr)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
}

// collect reads the active jobs and merges in the due retries. Retry entries
// of jobs that are no longer active are dropped, and active jobs whose
// backoff has not elapsed are held back.
func (e *Executor) collect(ctx context.Context, now time.Time, report *TickReport) ([]candidate, error) {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	metrics.ActiveJobs.Set(float64(len(active)))

	byID := make(map[string]*models.Job, len(active))
	for _, job := range active {
		byID[job.ID] = job
	}

	due := make(map[string]*retry.Entry)
	for _, entry := range e.queue.DrainDue(now) {
		id := entry.Job.ID
		if _, ok := byID[id]; !ok {
			e.queue.Remove(id)
			report.Dropped++
			e.logger.InfoWithJob(string(entry.Job.Type), "Dropping retry of job %s: no longer active", id)
			continue
		}
		due[id] = &entry
		e.logger.DebugWithJob(string(entry.Job.Type), "Retrying job %s (attempt %d)", id, entry.Attempt+1)
	}

	// cancellations observed at tick start also clear retries that are not yet due
	for _, entry := range e.queue.Pending() {
		if _, ok := byID[entry.Job.ID]; !ok {
			e.queue.Remove(entry.Job.ID)
			report.Dropped++
			e.logger.InfoWithJob(string(entry.Job.Type), "Dropping retry of job %s: no longer active", entry.Job.ID)
		}
	}

	candidates := make([]candidate, 0, len(active))
	for _, job := range active {
		if entry, ok := due[job.ID]; ok {
			candidates = append(candidates, candidate{job: job, retry: entry})
			continue
		}
		if e.queue.Has(job.ID) {
			report.record(OutcomeBackoff, nil)
			continue
		}
		candidates = append(candidates, candidate{job: job})
	}
	return candidates, nil
}

func (e *Executor) updateGauges(now time.Time) {
	metrics.RetryQueueSize.Set(float64(e.queue.Size()))
	if next, ok := e.queue.NextDue(); ok {
		metrics.NextRetryIn.Set(next.Sub(now).Seconds())
	} else {
		metrics.NextRetryIn.Set(0)
	}
	metrics.CircuitState.Set(float64(e.guard.Snapshot(now).State))
}
