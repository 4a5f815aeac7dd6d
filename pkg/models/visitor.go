package models

import "github.com/cockroachdb/errors"

// ErrUnknownJobType is returned when dispatching a job whose type has no handler
var ErrUnknownJobType = errors.New("unknown job type")

// JobVisitor has one method per job type. Adding a job type adds a method
// here, so every dispatcher must handle it before the module compiles again.
type JobVisitor[T any] interface {
	VisitLimitOrder(job *Job) T
	VisitDCA(job *Job) T
	VisitTWAP(job *Job) T
	VisitSwap(job *Job) T
}

// Dispatch routes job to the visitor method matching its type
func Dispatch[T any](job *Job, v JobVisitor[T]) (T, error) {
	switch job.Type {
	case JobTypeLimitOrder:
		return v.VisitLimitOrder(job), nil
	case JobTypeDCA:
		return v.VisitDCA(job), nil
	case JobTypeTWAP:
		return v.VisitTWAP(job), nil
	case JobTypeSwap:
		return v.VisitSwap(job), nil
	}
	var zero T
	return zero, errors.Wrapf(ErrUnknownJobType, "job %s has type %q", job.ID, job.Type)
}
