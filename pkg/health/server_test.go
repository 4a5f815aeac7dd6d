package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-keeper/pkg/chainclient"
	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
	"github.com/speedrun-hq/speedrun-keeper/pkg/retry"
	"github.com/speedrun-hq/speedrun-keeper/pkg/safety"
	"github.com/speedrun-hq/speedrun-keeper/pkg/testutil"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, apiKey string, chain *chainclient.Client) (*Server, *safety.Guard, *retry.Queue) {
	t.Helper()
	cfg := safety.DefaultConfig()
	cfg.MaxConsecutiveFailures = 1
	guard, err := safety.NewGuard(cfg, nil)
	require.NoError(t, err)

	queue := retry.NewQueue(retry.DefaultConfig(), retry.WithRandom(func() float64 { return 0 }))
	s := NewServer("0", apiKey, guard, queue, chain, nil, nil)
	s.timeNow = func() time.Time { return now }
	return s, guard, queue
}

func serve(s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	s, _, _ := newTestServer(t, "", nil)

	rec := serve(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = serve(s, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("with connected chain", func(t *testing.T) {
		sim := testutil.SetupSimulation(t)
		chain, err := chainclient.New(testutil.Context(t), sim.Backend.Client(), chainclient.Options{
			ChainID:       1337,
			KeeperAddress: testutil.GenerateAddress().Hex(),
			PrivateKey:    sim.PrivateKey,
		})
		require.NoError(t, err)

		s, _, _ := newTestServer(t, "", chain)
		rec := serve(s, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = serve(s, http.MethodGet, "/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var status map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		chainStatus, ok := status["chain"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, chainStatus["connected"])
		assert.Equal(t, true, chainStatus["can_sign"])
		assert.Equal(t, sim.Address.Hex(), chainStatus["signer"])
	})
}

func TestStatusAndCircuitReset(t *testing.T) {
	s, guard, queue := newTestServer(t, "", nil)

	job := &models.Job{ID: "0xabc", Type: models.JobTypeLimitOrder, Status: models.StatusActive}
	queue.Enqueue(job, now)

	// one failure opens the breaker
	guard.ReportOutcome(job, false, now)

	rec := serve(s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status struct {
		Circuit struct {
			State               string `json:"state"`
			ConsecutiveFailures int    `json:"consecutive_failures"`
		} `json:"circuit"`
		Window struct {
			Limit int `json:"limit"`
		} `json:"window"`
		RetryQueue struct {
			Size    int `json:"size"`
			Entries []struct {
				JobID       string `json:"job_id"`
				NextRetryAt string `json:"next_retry_at"`
			} `json:"entries"`
		} `json:"retry_queue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "open", status.Circuit.State)
	assert.Equal(t, 1, status.Circuit.ConsecutiveFailures)
	assert.Equal(t, safety.DefaultMaxExecutionsPerWindow, status.Window.Limit)
	assert.Equal(t, 1, status.RetryQueue.Size)
	require.Len(t, status.RetryQueue.Entries, 1)
	assert.Equal(t, "0xabc", status.RetryQueue.Entries[0].JobID)
	assert.Equal(t, "2026-05-01T12:00:05Z", status.RetryQueue.Entries[0].NextRetryAt)

	rec = serve(s, http.MethodGet, "/circuit/reset", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(s, http.MethodPost, "/circuit/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", guard.Snapshot(now).State.String())
}

func TestMetricsAuth(t *testing.T) {
	s, _, _ := newTestServer(t, "secret", nil)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid key", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Authorization", tt.header)
			}
			rec := serve(s, http.MethodGet, "/metrics", header)
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	t.Run("open without key", func(t *testing.T) {
		s, _, _ := newTestServer(t, "", nil)
		rec := serve(s, http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "keeper_retry_queue_size")
	})
}
