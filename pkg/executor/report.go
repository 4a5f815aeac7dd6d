package executor

import (
	"fmt"
	"sort"
	"strings"
)

// Outcome is what happened to one job during a tick
type Outcome int

const (
	// OutcomeUntriggered means the price or interval condition did not hold
	OutcomeUntriggered Outcome = iota
	// OutcomeUnavailable means the price source could not answer
	OutcomeUnavailable
	// OutcomeBackoff means the job waits for its retry delay
	OutcomeBackoff
	// OutcomeBlocked means the circuit breaker refused the execution
	OutcomeBlocked
	// OutcomeDeferred means the execution cap was reached or no executor exists
	OutcomeDeferred
	// OutcomeExecuted means the keeper executed the job
	OutcomeExecuted
	// OutcomeRetrying means a transient failure was queued for retry
	OutcomeRetrying
	// OutcomeFailed means the job was marked failed
	OutcomeFailed
	// OutcomeExpired means the job was marked expired
	OutcomeExpired
	// OutcomeReconciled means the job adopted its terminal on-chain status
	OutcomeReconciled
)

var outcomeNames = map[Outcome]string{
	OutcomeUntriggered: "untriggered",
	OutcomeUnavailable: "unavailable",
	OutcomeBackoff:     "backoff",
	OutcomeBlocked:     "blocked",
	OutcomeDeferred:    "deferred",
	OutcomeExecuted:    "executed",
	OutcomeRetrying:    "retrying",
	OutcomeFailed:      "failed",
	OutcomeExpired:     "expired",
	OutcomeReconciled:  "reconciled",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// TickReport summarizes one tick
type TickReport struct {
	Candidates int
	// Dropped counts retry entries removed because their job left the active set
	Dropped int
	Counts  map[Outcome]int
	// Errors holds store write failures; the tick still completes
	Errors []error
}

func newTickReport() *TickReport {
	return &TickReport{Counts: make(map[Outcome]int)}
}

func (r *TickReport) record(o Outcome, err error) {
	r.Counts[o]++
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// Count returns how many jobs ended the tick with o
func (r *TickReport) Count(o Outcome) int {
	return r.Counts[o]
}

// Attempted is the number of keeper calls made during the tick
func (r *TickReport) Attempted() int {
	return r.Counts[OutcomeExecuted] + r.Counts[OutcomeRetrying] + r.Counts[OutcomeFailed] + r.Counts[OutcomeReconciled]
}

func (r *TickReport) String() string {
	parts := make([]string, 0, len(r.Counts))
	for o, n := range r.Counts {
		parts = append(parts, fmt.Sprintf("%s=%d", o, n))
	}
	sort.Strings(parts)
	return fmt.Sprintf("candidates=%d dropped=%d %s", r.Candidates, r.Dropped, strings.Join(parts, " "))
}
