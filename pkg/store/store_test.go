package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testJob(id string, createdAt time.Time) *models.Job {
	expires := createdAt.Add(72 * time.Hour)
	return &models.Job{
		ID:     id,
		Type:   models.JobTypeDCA,
		Owner:  "0x00000000000000000000000000000000000000aa",
		Status: models.StatusActive,
		Params: models.Params{
			TokenIn:     "USDC",
			TokenOut:    "WETH",
			AmountIn:    decimal.RequireFromString("25.5"),
			SlippageBps: 100,
			DCA:         &models.IntervalParams{Interval: 24 * time.Hour, Total: 3, Remaining: 3},
		},
		CreatedAt: createdAt,
		ExpiresAt: &expires,
		UpdatedAt: createdAt,
	}
}

func stores(t *testing.T) map[string]JobStore {
	sqlStore, err := Open(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]JobStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func TestJobStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			second := testJob("job-b", baseTime.Add(time.Minute))
			first := testJob("job-a", baseTime)
			require.NoError(t, s.Create(ctx, second))
			require.NoError(t, s.Create(ctx, first))

			err := s.Create(ctx, testJob("job-a", baseTime))
			assert.True(t, errors.Is(err, ErrExists), "duplicate create: %v", err)

			active, err := s.ListActive(ctx)
			require.NoError(t, err)
			require.Len(t, active, 2)
			assert.Equal(t, "job-a", active[0].ID)
			assert.Equal(t, "job-b", active[1].ID)

			got, err := s.Get(ctx, "job-a")
			require.NoError(t, err)
			assert.Equal(t, models.JobTypeDCA, got.Type)
			assert.True(t, got.Params.AmountIn.Equal(decimal.RequireFromString("25.5")))
			require.NotNil(t, got.Params.DCA)
			assert.Equal(t, 24*time.Hour, got.Params.DCA.Interval)
			assert.True(t, got.CreatedAt.Equal(baseTime))
			require.NotNil(t, got.ExpiresAt)
			assert.True(t, got.ExpiresAt.Equal(baseTime.Add(72*time.Hour)))
			assert.Nil(t, got.LastAttemptAt)

			// returned jobs are copies
			got.Params.DCA.Remaining = 0
			again, err := s.Get(ctx, "job-a")
			require.NoError(t, err)
			assert.Equal(t, 3, again.Params.DCA.Remaining)

			// progress update
			now := baseTime.Add(time.Hour)
			_, err = again.CompleteTick(now)
			require.NoError(t, err)
			again.RetryCount = 2
			require.NoError(t, s.Update(ctx, again))

			updated, err := s.Get(ctx, "job-a")
			require.NoError(t, err)
			assert.Equal(t, 2, updated.Params.DCA.Remaining)
			assert.Equal(t, 2, updated.RetryCount)
			require.NotNil(t, updated.LastAttemptAt)
			assert.True(t, updated.LastAttemptAt.Equal(now))

			// external cancellation wins over later writes
			require.NoError(t, updated.Transition(models.StatusCancelled, now))
			require.NoError(t, s.Update(ctx, updated))

			stale := again.Clone()
			stale.LastError = "late write"
			err = s.Update(ctx, stale)
			assert.True(t, errors.Is(err, ErrTerminal), "update terminal: %v", err)

			active, err = s.ListActive(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "job-b", active[0].ID)

			_, err = s.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
			err = s.Update(ctx, testJob("missing", baseTime))
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.ErrorContains(t, err, "unsupported")
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	s, err := Open(ctx, "sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, testJob("job-a", baseTime)))
	require.NoError(t, s.Close())

	s, err = Open(ctx, "sqlite3", path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, "job-a", got.ID)
}
