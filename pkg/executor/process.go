package executor

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-keeper/pkg/keeper"
	"github.com/speedrun-hq/speedrun-keeper/pkg/metrics"
	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
	"github.com/speedrun-hq/speedrun-keeper/pkg/pricecheck"
	"github.com/speedrun-hq/speedrun-keeper/pkg/safety"
	"github.com/speedrun-hq/speedrun-keeper/pkg/store"
)

// executeFunc is a keeper client method
type executeFunc func(ctx context.Context, req keeper.ExecutionRequest) (keeper.Receipt, error)

// plan is the dispatch result for a job: either a ready execution or the
// outcome that ends its turn
type plan struct {
	ready   bool
	outcome Outcome
	execute executeFunc
	price   *decimal.Decimal
	invalid error
}

func wait(o Outcome) plan {
	return plan{outcome: o}
}

// planner decides per job type whether a job should execute now
type planner struct {
	ctx   context.Context
	e     *Executor
	now   time.Time
	retry bool
}

var _ models.JobVisitor[plan] = (*planner)(nil)

func (p *planner) VisitLimitOrder(job *models.Job) plan {
	if job.Params.Limit == nil {
		return plan{invalid: errors.New("limit order has no price condition")}
	}
	return p.priceGated(job, p.e.keeper.ExecuteLimitOrder)
}

func (p *planner) VisitSwap(job *models.Job) plan {
	if job.PriceGuard() != nil {
		if pl := p.priceGated(job, nil); !pl.ready {
			return pl
		}
	}
	p.e.logger.DebugWithJob(string(job.Type), "Job %s is due but swaps have no on-chain executor", job.ID)
	return wait(OutcomeDeferred)
}

func (p *planner) VisitDCA(job *models.Job) plan {
	if !p.intervalDue(job) {
		return wait(OutcomeUntriggered)
	}
	return plan{ready: true, execute: p.e.keeper.ExecuteDCATick}
}

func (p *planner) VisitTWAP(job *models.Job) plan {
	if !p.intervalDue(job) {
		return wait(OutcomeUntriggered)
	}
	p.e.logger.DebugWithJob(string(job.Type), "Job %s tranche is due but TWAP has no on-chain executor", job.ID)
	return wait(OutcomeDeferred)
}

// intervalDue treats a due retry as an elapsed interval
func (p *planner) intervalDue(job *models.Job) bool {
	if job.Interval() == nil {
		return false
	}
	return p.retry || job.IntervalElapsed(p.now)
}

func (p *planner) priceGated(job *models.Job, execute executeFunc) plan {
	cond, _ := pricecheck.ConditionFor(job)
	res := p.e.prices.Check(p.ctx, cond)
	switch {
	case res.Unavailable:
		metrics.PriceChecks.WithLabelValues("unavailable").Inc()
		return wait(OutcomeUnavailable)
	case !res.Met:
		metrics.PriceChecks.WithLabelValues("not_met").Inc()
		return wait(OutcomeUntriggered)
	}
	metrics.PriceChecks.WithLabelValues("met").Inc()
	price := res.CurrentPrice
	return plan{ready: true, execute: execute, price: &price}
}

// process runs one job through expiry, dispatch, the safety guard and the keeper
func (e *Executor) process(ctx context.Context, c candidate, now time.Time) (Outcome, error) {
	job := c.job
	jobType := string(job.Type)

	if job.IsExpired(now) {
		e.queue.Remove(job.ID)
		e.logger.InfoWithJob(jobType, "Job %s expired at %s", job.ID, job.ExpiresAt.Format(time.RFC3339))
		return OutcomeExpired, e.finish(ctx, job, models.StatusExpired, now)
	}

	e.logger.DebugWithJob(jobType, "Dispatching job %s", job.ID)
	pl, err := models.Dispatch[plan](job, &planner{ctx: ctx, e: e, now: now, retry: c.retry != nil})
	if err == nil && pl.invalid != nil {
		err = pl.invalid
	}
	if err != nil {
		e.queue.Remove(job.ID)
		job.LastError = err.Error()
		e.logger.ErrorWithJob(jobType, "Job %s cannot be dispatched: %v", job.ID, err)
		return OutcomeFailed, e.finish(ctx, job, models.StatusFailed, now)
	}
	if !pl.ready {
		e.holdRetry(c)
		return pl.outcome, nil
	}

	decision := e.guard.Authorize(job, e.timeNow())
	metrics.SafetyDecisions.WithLabelValues(decision.Verdict.String()).Inc()
	switch decision.Verdict {
	case safety.Blocked:
		e.holdRetry(c)
		return OutcomeBlocked, nil
	case safety.Deferred:
		e.holdRetry(c)
		return OutcomeDeferred, nil
	}

	return e.execute(ctx, job, pl)
}

// holdRetry puts a drained retry back when the job did not reach the keeper,
// so the failed attempt is tried again on a later tick instead of waiting a
// full interval
func (e *Executor) holdRetry(c candidate) {
	if c.retry == nil {
		return
	}
	e.queue.Requeue(*c.retry)
	e.logger.DebugWithJob(string(c.job.Type), "Holding retry of job %s (attempt %d)", c.job.ID, c.retry.Attempt+1)
}

func (e *Executor) execute(ctx context.Context, job *models.Job, pl plan) (Outcome, error) {
	jobType := string(job.Type)
	req := keeper.RequestFor(job, pl.price)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.KeeperTimeout)
	begin := time.Now()
	receipt, err := pl.execute(callCtx, req)
	cancel()
	metrics.ExecutionTime.WithLabelValues(jobType).Observe(time.Since(begin).Seconds())

	now := e.timeNow()
	if err == nil {
		return e.succeed(ctx, job, receipt, now)
	}

	class, reason := keeper.Classify(err)
	metrics.JobFailures.WithLabelValues(jobType, class.String(), reason).Inc()

	switch class {
	case keeper.ClassConditionNotMet:
		e.guard.Release(job)
		e.logger.InfoWithJob(jobType, "Job %s not executed, on-chain condition failed: %v", job.ID, err)
		return OutcomeUntriggered, nil

	case keeper.ClassFatal:
		if reason == keeper.ReasonAlreadyTerminal {
			if outcome, ok, perr := e.reconcile(ctx, job, err, now); ok {
				return outcome, perr
			}
		}
		e.queue.Remove(job.ID)
		e.guard.ReportOutcome(job, false, now)
		job.LastError = err.Error()
		e.logger.ErrorWithJob(jobType, "Job %s failed permanently (%s): %v", job.ID, reason, err)
		return OutcomeFailed, e.finish(ctx, job, models.StatusFailed, now)

	default:
		return e.retryOrFail(ctx, job, err, reason, now)
	}
}

func (e *Executor) succeed(ctx context.Context, job *models.Job, receipt keeper.Receipt, now time.Time) (Outcome, error) {
	jobType := string(job.Type)

	done, err := job.CompleteTick(now)
	if err != nil {
		return OutcomeFailed, err
	}
	e.queue.Remove(job.ID)
	e.guard.ReportOutcome(job, true, now)
	metrics.JobsExecuted.WithLabelValues(jobType).Inc()

	amountOut := "unknown"
	if receipt.AmountOut != nil {
		amountOut = receipt.AmountOut.String()
	}
	if done {
		metrics.JobsCompleted.WithLabelValues(jobType, string(models.StatusExecuted)).Inc()
		e.logger.NoticeWithJob(jobType, "Job %s executed in %s (amount out %s)", job.ID, receipt.TxHash, amountOut)
	} else {
		e.logger.InfoWithJob(jobType, "Job %s tick executed in %s (amount out %s), %d remaining",
			job.ID, receipt.TxHash, amountOut, job.Interval().Remaining)
	}
	return OutcomeExecuted, e.persist(ctx, job)
}

func (e *Executor) retryOrFail(ctx context.Context, job *models.Job, cause error, reason string, now time.Time) (Outcome, error) {
	jobType := string(job.Type)

	job.RetryCount++
	job.LastError = cause.Error()
	job.RecordAttempt(now)
	e.guard.ReportOutcome(job, false, now)

	if e.guard.RetryCapExceeded(job.RetryCount) {
		e.queue.Remove(job.ID)
		metrics.MaxRetriesReached.WithLabelValues(jobType).Inc()
		e.logger.ErrorWithJob(jobType, "Job %s failed after %d attempts: %v", job.ID, job.RetryCount, cause)
		return OutcomeFailed, e.finish(ctx, job, models.StatusFailed, now)
	}

	entry := e.queue.Enqueue(job, now)
	metrics.RetriesScheduled.WithLabelValues(jobType, reason).Inc()
	e.logger.WarnWithJob(jobType, "Job %s failed transiently (%s), retry %d at %s: %v",
		job.ID, reason, job.RetryCount, entry.NextRetryAt.Format(time.RFC3339), cause)
	return OutcomeRetrying, e.persist(ctx, job)
}

// reconcile adopts the on-chain status of a job the chain reports as terminal
func (e *Executor) reconcile(ctx context.Context, job *models.Job, cause error, now time.Time) (Outcome, bool, error) {
	statusCtx, cancel := context.WithTimeout(ctx, e.cfg.KeeperTimeout)
	status, err := e.keeper.GetOnChainStatus(statusCtx, job.ID)
	cancel()
	if err != nil || !status.IsTerminal() {
		return 0, false, nil
	}

	e.queue.Remove(job.ID)
	e.guard.Release(job)
	if status != models.StatusExecuted {
		job.LastError = cause.Error()
	}
	e.logger.NoticeWithJob(string(job.Type), "Job %s is %s on chain, adopting on-chain status", job.ID, status)
	return OutcomeReconciled, true, e.finish(ctx, job, status, now)
}

// finish moves job to a terminal status and persists it
func (e *Executor) finish(ctx context.Context, job *models.Job, status models.JobStatus, now time.Time) error {
	if err := job.Transition(status, now); err != nil {
		return err
	}
	metrics.JobsCompleted.WithLabelValues(string(job.Type), string(status)).Inc()
	return e.persist(ctx, job)
}

func (e *Executor) persist(ctx context.Context, job *models.Job) error {
	err := e.store.Update(ctx, job)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrTerminal) {
		// changed externally during the tick, e.g. cancelled by its owner
		e.queue.Remove(job.ID)
		e.logger.NoticeWithJob(string(job.Type), "Job %s changed while executing, keeping stored status: %v", job.ID, err)
		return nil
	}
	return errors.Wrapf(err, "failed to persist job %s", job.ID)
}
