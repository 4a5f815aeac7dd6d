package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	JobsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_jobs_executed_total",
		Help: "The total number of successful on-chain executions",
	}, []string{"job_type"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_jobs_completed_total",
		Help: "The total number of jobs that reached a terminal status",
	}, []string{"job_type", "status"})

	JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_job_failures_total",
		Help: "Total number of failed executions by error class",
	}, []string{"job_type", "error_class", "reason"})

	ExecutionTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keeper_execution_seconds",
		Help:    "Time taken by the keeper client to execute a job",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // Start at 0.5s with 10 buckets doubling in size
	}, []string{"job_type"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keeper_tick_duration_seconds",
		Help:    "Time taken by one executor tick",
		Buckets: prometheus.DefBuckets,
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_active_jobs",
		Help: "Number of active jobs seen by the last tick",
	})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_retry_queue_size",
		Help: "Current size of the retry queue",
	})

	NextRetryIn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_next_retry_seconds",
		Help: "Seconds until the next scheduled retry",
	})

	RetriesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_retries_scheduled_total",
		Help: "Number of retries scheduled after transient failures",
	}, []string{"job_type", "reason"})

	MaxRetriesReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_max_retries_reached_total",
		Help: "Number of jobs failed after reaching the retry cap",
	}, []string{"job_type"})

	SafetyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_safety_decisions_total",
		Help: "Safety guard decisions by verdict",
	}, []string{"decision"})

	CircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_circuit_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	})

	PriceChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keeper_price_checks_total",
		Help: "Price condition checks by result",
	}, []string{"result"})

	GasPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_gas_price_gwei",
		Help: "Current gas price in gwei",
	})

	PendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keeper_pending_transactions",
		Help: "Transactions submitted but not yet confirmed",
	})

	TokenBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keeper_token_balance",
		Help: "Token balance of the keeper signer",
	}, []string{"chain_id", "token"})
)
