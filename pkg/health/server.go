package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/speedrun-keeper/pkg/chainclient"
	"github.com/speedrun-hq/speedrun-keeper/pkg/chains"
	"github.com/speedrun-hq/speedrun-keeper/pkg/contracts"
	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
	"github.com/speedrun-hq/speedrun-keeper/pkg/metrics"
	"github.com/speedrun-hq/speedrun-keeper/pkg/retry"
	"github.com/speedrun-hq/speedrun-keeper/pkg/safety"
)

// maxListedRetries caps the retry entries included in /status
const maxListedRetries = 50

// Server represents a health check HTTP server
type Server struct {
	port          string
	guard         *safety.Guard
	queue         *retry.Queue
	chain         *chainclient.Client
	tokens        []chains.Token
	metricsAPIKey string
	timeNow       func() time.Time
	logger        logger.Logger
}

// NewServer creates a new health check server. chain may be nil when the
// keeper runs without a signer.
func NewServer(port, metricsAPIKey string, guard *safety.Guard, queue *retry.Queue,
	chain *chainclient.Client, tokens []chains.Token, log logger.Logger) *Server {
	return &Server{
		port:          port,
		guard:         guard,
		queue:         queue,
		chain:         chain,
		tokens:        tokens,
		metricsAPIKey: metricsAPIKey,
		timeNow:       time.Now,
		logger:        logger.Safe(log),
	}
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Get API key from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		// Check if the header has the correct format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		// Validate API key
		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness check
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.chain != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if _, err := s.chain.GetLatestBlockNumber(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(fmt.Sprintf("Chain %d client not connected", s.chain.ChainID)))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.HandleFunc("/status", s.handleStatus)

	// Circuit breaker admin control endpoint
	mux.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.guard.Reset()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Circuit breaker reset"))
	})

	// Expose Prometheus metrics with API key authentication
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	return mux
}

// Start serves until ctx is done, then shuts the server down
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "health server error")
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.timeNow()
	snap := s.guard.Snapshot(now)

	status := map[string]interface{}{
		"circuit": map[string]interface{}{
			"enabled":              snap.Breaker.Enabled,
			"state":                snap.State.String(),
			"consecutive_failures": snap.Breaker.ConsecutiveFailures,
			"threshold":            snap.Config.MaxConsecutiveFailures,
			"cooldown":             snap.Config.Cooldown.String(),
			"trial_job":            snap.TrialJobID,
		},
		"window": map[string]interface{}{
			"used":      snap.WindowUsed,
			"limit":     snap.Config.MaxExecutionsPerWindow,
			"duration":  snap.Config.Window.String(),
			"next_free": formatTime(snap.WindowNextFree),
		},
	}

	pending := s.queue.Pending()
	retries := make([]map[string]interface{}, 0, len(pending))
	for i, entry := range pending {
		if i == maxListedRetries {
			break
		}
		retries = append(retries, map[string]interface{}{
			"job_id":        entry.Job.ID,
			"job_type":      entry.Job.Type,
			"attempt":       entry.Attempt,
			"next_retry_at": formatTime(entry.NextRetryAt),
		})
	}
	status["retry_queue"] = map[string]interface{}{
		"size":    len(pending),
		"entries": retries,
	}

	if s.chain != nil {
		status["chain"] = s.chainStatus(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

func (s *Server) chainStatus(ctx context.Context) map[string]interface{} {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	chainStatus := map[string]interface{}{
		"chain_id":       s.chain.ChainID,
		"name":           chains.GetChainName(s.chain.ChainID),
		"keeper_address": s.chain.KeeperAddress.Hex(),
		"can_sign":       s.chain.CanSign(),
	}

	blockNumber, err := s.chain.GetLatestBlockNumber(ctx)
	chainStatus["connected"] = err == nil
	if err != nil {
		return chainStatus
	}
	chainStatus["latest_block"] = blockNumber

	if gasPrice := s.chain.CurrentGasPrice(); gasPrice != nil {
		chainStatus["gas_price"] = gasPrice.String()
	}

	if s.chain.CanSign() {
		chainStatus["signer"] = s.chain.Sender().Hex()
		chainStatus["pending_transactions"] = s.chain.Nonces.PendingCount(s.chain.Sender())

		tokenBalances := make(map[string]interface{})
		for _, token := range s.tokens {
			balance, err := s.getTokenBalance(ctx, token)
			if err != nil {
				s.logger.Debug("Failed to read %s balance: %v", token.Symbol, err)
				continue
			}
			tokenBalances[token.Symbol] = balance
		}
		if len(tokenBalances) > 0 {
			chainStatus["token_balances"] = tokenBalances
		}
	}
	return chainStatus
}

// getTokenBalance retrieves the signer balance of token and updates its gauge
func (s *Server) getTokenBalance(ctx context.Context, token chains.Token) (string, error) {
	erc20, err := contracts.NewERC20(token.Address, s.chain.Backend)
	if err != nil {
		return "", errors.Wrap(err, "failed to create token contract")
	}

	raw, err := erc20.BalanceOf(&bind.CallOpts{Context: ctx}, s.chain.Sender())
	if err != nil {
		return "", errors.Wrap(err, "failed to get token balance")
	}

	balance := token.FromBaseUnits(raw)
	f, _ := balance.Float64()
	metrics.TokenBalance.WithLabelValues(strconv.Itoa(s.chain.ChainID), token.Symbol).Set(f)
	return balance.String(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
