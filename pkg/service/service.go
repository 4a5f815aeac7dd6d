package service

import (
	"context"
	"io"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"github.com/speedrun-hq/speedrun-keeper/pkg/chainclient"
	"github.com/speedrun-hq/speedrun-keeper/pkg/chains"
	"github.com/speedrun-hq/speedrun-keeper/pkg/config"
	"github.com/speedrun-hq/speedrun-keeper/pkg/executor"
	"github.com/speedrun-hq/speedrun-keeper/pkg/health"
	"github.com/speedrun-hq/speedrun-keeper/pkg/keeper"
	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
	"github.com/speedrun-hq/speedrun-keeper/pkg/metrics"
	"github.com/speedrun-hq/speedrun-keeper/pkg/pricecheck"
	"github.com/speedrun-hq/speedrun-keeper/pkg/retry"
	"github.com/speedrun-hq/speedrun-keeper/pkg/safety"
	"github.com/speedrun-hq/speedrun-keeper/pkg/store"
)

const (
	// gasUpdateInterval is how often the gas price is refreshed
	gasUpdateInterval = 30 * time.Second

	// nonceResyncSpec reconciles the local nonce counter with the chain
	nonceResyncSpec = "@every 30m"

	// housekeepingSpec purges stale prices and checks for stuck transactions
	housekeepingSpec = "@every 1m"
)

// Dependencies are the collaborators of the service. Chain and PriceCache
// are optional; without a chain no gas or nonce maintenance runs.
type Dependencies struct {
	Store      store.JobStore
	Keeper     keeper.Client
	Prices     pricecheck.Source
	PriceCache *pricecheck.CachedSource
	Chain      *chainclient.Client
	// Closer is closed when the service stops, typically the SQL store
	Closer io.Closer
}

// Service runs the executor together with its supporting routines
type Service struct {
	config   *config.Config
	deps     Dependencies
	guard    *safety.Guard
	queue    *retry.Queue
	executor *executor.Executor
	health   *health.Server
	gas      *chainclient.GasPriceRoutine
	cron     *cron.Cron
	envPath  string
	logger   logger.Logger

	mu sync.Mutex
}

// New connects to the chain and the job store described by cfg and assembles the service
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := cfg.ValidateForExecution(); err != nil {
		return nil, err
	}
	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	jobs, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open job store")
	}

	chain, err := chainclient.Dial(ctx, chainclient.Options{
		ChainID:       cfg.Chain.ChainID,
		RPCURL:        cfg.Chain.RPCURL,
		KeeperAddress: cfg.Chain.KeeperAddress,
		PrivateKey:    cfg.PrivateKey,
		MaxGasPrice:   cfg.Chain.MaxGasPrice,
		GasMultiplier: cfg.Chain.GasMultiplier,
		Logger:        stdLogger,
	})
	if err != nil {
		_ = jobs.Close()
		return nil, errors.Wrapf(err, "failed to create chain client for chain %d", cfg.Chain.ChainID)
	}

	registry := chains.NewRegistry(cfg.Tokens...)
	source := pricecheck.NewHTTPSource(cfg.Price.APIEndpoint, registry.PriceIDs(), cfg.Price.RateLimit)
	cached := pricecheck.NewCachedSource(source, cfg.Price.CacheTTL)

	s, err := Assemble(cfg, Dependencies{
		Store:      jobs,
		Keeper:     keeper.NewEthClient(chain, registry, cached, stdLogger),
		Prices:     cached,
		PriceCache: cached,
		Chain:      chain,
		Closer:     jobs,
	}, stdLogger)
	if err != nil {
		_ = jobs.Close()
		return nil, err
	}
	s.envPath = ".env"
	return s, nil
}

// Assemble wires the service from already constructed dependencies
func Assemble(cfg *config.Config, deps Dependencies, log logger.Logger) (*Service, error) {
	if deps.Store == nil || deps.Keeper == nil || deps.Prices == nil {
		return nil, errors.New("store, keeper client and price source are required")
	}
	log = logger.Safe(log)

	guard, err := safety.NewGuard(cfg.Safety, log)
	if err != nil {
		return nil, err
	}
	queue := retry.NewQueue(cfg.Retry)
	checker := pricecheck.NewChecker(deps.Prices, cfg.PriceTimeout, log)

	exec := executor.New(executor.Config{
		PollingInterval: cfg.PollingInterval,
		Concurrency:     cfg.Concurrency,
		KeeperTimeout:   cfg.KeeperTimeout,
	}, deps.Store, deps.Keeper, checker, guard, queue, log)

	s := &Service{
		config:   cfg,
		deps:     deps,
		guard:    guard,
		queue:    queue,
		executor: exec,
		health:   health.NewServer(cfg.MetricsPort, cfg.MetricsAPIKey, guard, queue, deps.Chain, cfg.Tokens, log),
		cron:     cron.New(),
		logger:   log,
	}
	if deps.Chain != nil {
		s.gas = chainclient.NewGasPriceRoutine(deps.Chain, gasUpdateInterval, recordGasPrice)
	}
	return s, nil
}

// Guard returns the safety guard shared by the executor and the health server
func (s *Service) Guard() *safety.Guard {
	return s.guard
}

// Executor returns the job executor
func (s *Service) Executor() *executor.Executor {
	return s.executor
}

// Start runs the service until ctx is done
func (s *Service) Start(ctx context.Context) error {
	go func() {
		if err := s.health.Start(ctx); err != nil {
			s.logger.Error("%v", err)
		}
	}()

	if s.gas != nil {
		s.gas.Start(ctx)
		defer s.gas.Stop()
	}

	if err := s.scheduleMaintenance(ctx); err != nil {
		return err
	}
	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()

	if watcher := s.watchConfig(); watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	s.logger.Notice("Starting keeper service with polling interval %v", s.config.PollingInterval)
	s.executor.Start(ctx)

	s.logger.Notice("Context cancelled, shutting down service")
	if s.deps.Closer != nil {
		if err := s.deps.Closer.Close(); err != nil {
			return errors.Wrap(err, "failed to close job store")
		}
	}
	return nil
}

func (s *Service) scheduleMaintenance(ctx context.Context) error {
	if s.deps.Chain != nil && s.deps.Chain.CanSign() {
		if _, err := s.cron.AddFunc(nonceResyncSpec, func() { s.resyncNonce(ctx) }); err != nil {
			return errors.Wrap(err, "failed to schedule nonce resync")
		}
	}
	if _, err := s.cron.AddFunc(housekeepingSpec, s.housekeeping); err != nil {
		return errors.Wrap(err, "failed to schedule housekeeping")
	}
	return nil
}

// watchConfig applies safety limit changes from the env file without a restart
func (s *Service) watchConfig() *config.Watcher {
	if s.envPath == "" {
		return nil
	}
	if _, err := os.Stat(s.envPath); err != nil {
		return nil
	}
	watcher, err := config.Watch(s.envPath, s.logger, s.applyConfig)
	if err != nil {
		s.logger.Warn("Config hot reload disabled: %v", err)
		return nil
	}
	return watcher
}

func (s *Service) applyConfig(cfg *config.Config) {
	if err := s.guard.UpdateConfig(cfg.Safety); err != nil {
		s.logger.Error("Rejected safety config from reload: %v", err)
	}
}

func (s *Service) resyncNonce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.deps.Chain.SyncNonce(ctx); err != nil {
		s.logger.Error("Failed to resync nonce for chain %d: %v", s.deps.Chain.ChainID, err)
		return
	}
	s.logger.Debug("Nonce resynced for chain %d", s.deps.Chain.ChainID)
}

func (s *Service) housekeeping() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deps.PriceCache != nil {
		if n := s.deps.PriceCache.Purge(); n > 0 {
			s.logger.Debug("Purged %d expired prices", n)
		}
	}

	chain := s.deps.Chain
	if chain == nil || !chain.CanSign() {
		return
	}
	for _, tx := range chain.Nonces.FindTimedOut(chain.Sender()) {
		s.logger.Error("Transaction %s for job %s (nonce %d) pending since %s",
			tx.Hash.Hex(), tx.JobID, tx.Nonce, tx.CreatedAt.Format(time.RFC3339))
	}
	metrics.PendingTransactions.Set(float64(chain.Nonces.PendingCount(chain.Sender())))
}

func recordGasPrice(gasPrice *big.Int) {
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gasPrice), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.Set(gwei)
}
