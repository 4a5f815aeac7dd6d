package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/speedrun-hq/speedrun-keeper/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

const (
	DefaultMaxConsecutiveFailures = 5
	DefaultCooldown               = 60 * time.Second
	DefaultMaxExecutionsPerWindow = 10
	DefaultWindow                 = 60 * time.Second
	DefaultMaxRetryAttempts       = 5
)

// Config holds the process-wide safety limits
type Config struct {
	BreakerEnabled         bool
	MaxConsecutiveFailures int
	Cooldown               time.Duration
	MaxExecutionsPerWindow int
	Window                 time.Duration
	MaxRetryAttempts       int
}

// DefaultConfig returns the default safety limits
func DefaultConfig() Config {
	return Config{
		BreakerEnabled:         true,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		Cooldown:               DefaultCooldown,
		MaxExecutionsPerWindow: DefaultMaxExecutionsPerWindow,
		Window:                 DefaultWindow,
		MaxRetryAttempts:       DefaultMaxRetryAttempts,
	}
}

// Validate checks that every limit is usable
func (c Config) Validate() error {
	if c.MaxConsecutiveFailures <= 0 {
		return errors.Newf("max consecutive failures must be greater than 0, got %d", c.MaxConsecutiveFailures)
	}
	if c.Cooldown < 0 {
		return errors.Newf("cooldown must not be negative, got %v", c.Cooldown)
	}
	if c.MaxExecutionsPerWindow <= 0 {
		return errors.Newf("max executions per window must be greater than 0, got %d", c.MaxExecutionsPerWindow)
	}
	if c.Window <= 0 {
		return errors.Newf("window must be greater than 0, got %v", c.Window)
	}
	if c.MaxRetryAttempts <= 0 {
		return errors.Newf("max retry attempts must be greater than 0, got %d", c.MaxRetryAttempts)
	}
	return nil
}

// Verdict is the outcome of an authorization request
type Verdict int

const (
	Allowed Verdict = iota
	Blocked
	Deferred
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	case Deferred:
		return "deferred"
	}
	return "unknown"
}

// Decision is returned by Authorize
type Decision struct {
	Verdict Verdict
	Reason  string
	// Trial is set when the execution is the single half-open trial
	Trial bool
}

// Allowed reports whether the execution may proceed
func (d Decision) Allowed() bool {
	return d.Verdict == Allowed
}

// Snapshot is a point-in-time view of the guard for health and metrics
type Snapshot struct {
	Config         Config
	Breaker        circuitbreaker.Snapshot
	State          circuitbreaker.State
	WindowUsed     int
	WindowNextFree time.Time
	TrialJobID     string
}

// Guard gates every execution attempt behind a circuit breaker and a rolling
// execution cap. All methods are serialized by one mutex, so an authorize
// decision and the slot it consumes are atomic.
type Guard struct {
	mu         sync.Mutex
	cfg        Config
	breaker    *circuitbreaker.CircuitBreaker
	window     *windowLimiter
	trialJobID string
	logger     logger.Logger
}

// NewGuard creates a guard with cfg. An invalid cfg is rejected.
func NewGuard(cfg Config, log logger.Logger) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid safety config")
	}
	log = logger.Safe(log)
	return &Guard{
		cfg:     cfg,
		breaker: circuitbreaker.NewCircuitBreaker(cfg.BreakerEnabled, cfg.MaxConsecutiveFailures, cfg.Cooldown, log),
		window:  newWindowLimiter(cfg.MaxExecutionsPerWindow, cfg.Window),
		logger:  log,
	}, nil
}

// Authorize decides whether job may execute at now. A deferred decision does
// not consume the half-open trial; an allowed one consumes a window slot.
func (g *Guard) Authorize(job *models.Job, now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.breaker.Permits(now) {
		reason := "circuit breaker open"
		if g.breaker.State(now) == circuitbreaker.StateHalfOpen {
			reason = fmt.Sprintf("circuit breaker half-open, trial held by job %s", g.trialJobID)
		}
		g.logger.WarnWithJob(string(job.Type), "Safety guard blocked job %s: %s", job.ID, reason)
		return Decision{Verdict: Blocked, Reason: reason}
	}

	if g.window.full(now) {
		used, nextFree := g.window.stats(now)
		reason := fmt.Sprintf("execution cap reached (%d/%d in %v), next slot at %s",
			used, g.cfg.MaxExecutionsPerWindow, g.cfg.Window, nextFree.Format(time.RFC3339))
		g.logger.InfoWithJob(string(job.Type), "Safety guard deferred job %s: %s", job.ID, reason)
		return Decision{Verdict: Deferred, Reason: reason}
	}

	trial := g.breaker.BeginTrial(now)
	if trial {
		g.trialJobID = job.ID
		g.logger.NoticeWithJob(string(job.Type), "Safety guard allowed job %s as half-open trial", job.ID)
	} else {
		g.logger.DebugWithJob(string(job.Type), "Safety guard allowed job %s", job.ID)
	}
	g.window.record(now)
	return Decision{Verdict: Allowed, Trial: trial}
}

// ReportOutcome feeds an execution result into the breaker. While half-open
// only the trial job's outcome moves the breaker.
func (g *Guard) ReportOutcome(job *models.Job, success bool, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	isTrial := g.trialJobID != "" && job.ID == g.trialJobID
	if g.breaker.State(now) == circuitbreaker.StateHalfOpen && !isTrial {
		g.logger.DebugWithJob(string(job.Type), "Ignoring outcome of job %s while half-open trial is pending", job.ID)
		return
	}
	if isTrial {
		g.trialJobID = ""
	}

	if success {
		g.breaker.RecordSuccess(now)
		return
	}
	if g.breaker.RecordFailure(now) {
		s := g.breaker.GetState()
		g.logger.ErrorWithJob(string(job.Type), "Circuit breaker open after failure of job %s (consecutive failures: %d)",
			job.ID, s.ConsecutiveFailures)
	}
}

// Release ends an allowed attempt that produced neither success nor failure,
// returning the half-open trial if job held it
func (g *Guard) Release(job *models.Job) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.trialJobID != "" && job.ID == g.trialJobID {
		g.trialJobID = ""
		g.breaker.ReleaseTrial()
	}
}

// RetryCapExceeded reports whether a job that would reach nextRetryCount
// retries must be failed instead of retried
func (g *Guard) RetryCapExceeded(nextRetryCount int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return nextRetryCount >= g.cfg.MaxRetryAttempts
}

// UpdateConfig swaps in new limits. Breaker state and window history are kept.
func (g *Guard) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid safety config")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.cfg = cfg
	g.breaker.Configure(cfg.MaxConsecutiveFailures, cfg.Cooldown)
	g.window.configure(cfg.MaxExecutionsPerWindow, cfg.Window)
	g.logger.Notice("Safety config updated: failures=%d cooldown=%v cap=%d/%v retries=%d",
		cfg.MaxConsecutiveFailures, cfg.Cooldown, cfg.MaxExecutionsPerWindow, cfg.Window, cfg.MaxRetryAttempts)
	return nil
}

// Config returns the active limits
func (g *Guard) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// Reset closes the breaker and clears the execution window
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.breaker.Reset()
	g.window.reset()
	g.trialJobID = ""
	g.logger.Notice("Safety guard reset by operator")
}

// Snapshot returns the guard state at now
func (g *Guard) Snapshot(now time.Time) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	used, nextFree := g.window.stats(now)
	return Snapshot{
		Config:         g.cfg,
		State:          g.breaker.State(now),
		Breaker:        g.breaker.GetState(),
		WindowUsed:     used,
		WindowNextFree: nextFree,
		TrialJobID:     g.trialJobID,
	}
}
