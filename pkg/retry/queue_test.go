package retry

import (
	"fmt"
	"testing"
	"time"

	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func fixed(u float64) Option {
	return WithRandom(func() float64 { return u })
}

func job(id string) *models.Job {
	return &models.Job{ID: id, Type: models.JobTypeLimitOrder, Status: models.StatusActive}
}

func TestDelayBounds(t *testing.T) {
	cfg := DefaultConfig()
	ms := time.Millisecond

	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{0, 5000 * ms, 6000 * ms},
		{1, 10000 * ms, 12000 * ms},
		{5, 160000 * ms, 192000 * ms},
		{6, 300000 * ms, 360000 * ms},
		{7, 300000 * ms, 360000 * ms},
		{40, 300000 * ms, 360000 * ms},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.min, Delay(cfg, tt.attempt, 0))

			for _, u := range []float64{0.25, 0.5, 0.999999} {
				d := Delay(cfg, tt.attempt, u)
				assert.GreaterOrEqual(t, d, tt.min)
				assert.Less(t, d, tt.max)
			}
		})
	}
}

func TestEnqueueAttemptNumbers(t *testing.T) {
	q := NewQueue(DefaultConfig(), fixed(0))

	e := q.Enqueue(job("a"), t0)
	assert.Equal(t, 0, e.Attempt)
	assert.Equal(t, t0.Add(5*time.Second), e.NextRetryAt)

	e = q.Enqueue(job("a"), t0)
	assert.Equal(t, 1, e.Attempt)
	assert.Equal(t, t0.Add(10*time.Second), e.NextRetryAt)
	assert.Equal(t, 1, q.Size(), "re-enqueue replaces the entry")

	// drained entries keep their attempt history
	drained := q.DrainDue(t0.Add(time.Minute))
	require.Len(t, drained, 1)
	e = q.Enqueue(job("a"), t0)
	assert.Equal(t, 2, e.Attempt)

	// removal resets the history
	assert.True(t, q.Remove("a"))
	e = q.Enqueue(job("a"), t0)
	assert.Equal(t, 0, e.Attempt)
}

func TestDrainDue(t *testing.T) {
	q := NewQueue(Config{BaseDelay: time.Second, MaxDelay: time.Minute}, fixed(0))

	q.Enqueue(job("first"), t0)                     // due t0+1s
	q.Enqueue(job("later"), t0.Add(10*time.Second)) // due t0+11s
	q.Enqueue(job("second"), t0)                    // due t0+1s
	q.Enqueue(job("third"), t0.Add(time.Second))    // due t0+2s

	before := q.Size()
	due := q.DrainDue(t0.Add(2 * time.Second))

	ids := make([]string, 0, len(due))
	for _, e := range due {
		ids = append(ids, e.Job.ID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, ids)
	assert.Equal(t, before-len(due), q.Size())
	assert.True(t, q.Has("later"))
	assert.False(t, q.Has("first"))

	assert.Empty(t, q.DrainDue(t0.Add(2*time.Second)))
}

func TestDrainDueBoundaryIsInclusive(t *testing.T) {
	q := NewQueue(Config{BaseDelay: time.Second, MaxDelay: time.Minute}, fixed(0))
	e := q.Enqueue(job("a"), t0)

	assert.Empty(t, q.DrainDue(e.NextRetryAt.Add(-time.Nanosecond)))
	assert.Len(t, q.DrainDue(e.NextRetryAt), 1)
}

func TestEnqueueSnapshotsJob(t *testing.T) {
	q := NewQueue(DefaultConfig(), fixed(0))
	j := job("a")
	q.Enqueue(j, t0)
	j.Status = models.StatusFailed

	due := q.DrainDue(t0.Add(time.Hour))
	require.Len(t, due, 1)
	assert.Equal(t, models.StatusActive, due[0].Job.Status)
}

func TestNextDue(t *testing.T) {
	q := NewQueue(Config{BaseDelay: time.Second, MaxDelay: time.Minute}, fixed(0))
	_, ok := q.NextDue()
	assert.False(t, ok)

	q.Enqueue(job("b"), t0.Add(5*time.Second))
	q.Enqueue(job("a"), t0)

	next, ok := q.NextDue()
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), next)
	assert.Len(t, q.Pending(), 2)
}

func TestRequeueKeepsAttemptAndDueTime(t *testing.T) {
	q := NewQueue(DefaultConfig(), fixed(0))
	q.Enqueue(job("a"), t0)
	q.Enqueue(job("b"), t0.Add(time.Second))

	due := q.DrainDue(t0.Add(time.Minute))
	require.Len(t, due, 2)
	assert.Zero(t, q.Size())

	q.Requeue(due[1])
	q.Requeue(due[0])
	assert.Equal(t, 2, q.Size())

	again := q.DrainDue(t0.Add(time.Minute))
	require.Len(t, again, 2)
	assert.Equal(t, "a", again[0].Job.ID, "insertion order survives a requeue")
	assert.Equal(t, due[0].NextRetryAt, again[0].NextRetryAt)
	assert.Equal(t, due[0].Attempt, again[0].Attempt)

	// the next failure still grows the backoff
	q.Requeue(again[0])
	q.DrainDue(t0.Add(time.Minute))
	e := q.Enqueue(job("a"), t0.Add(time.Minute))
	assert.Equal(t, 1, e.Attempt)
}

func TestRequeueDoesNotReplaceNewerEntry(t *testing.T) {
	q := NewQueue(DefaultConfig(), fixed(0))
	q.Enqueue(job("a"), t0)
	drained := q.DrainDue(t0.Add(time.Minute))
	require.Len(t, drained, 1)

	fresh := q.Enqueue(job("a"), t0.Add(time.Minute))
	q.Requeue(drained[0])

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.NextRetryAt, pending[0].NextRetryAt)
}
