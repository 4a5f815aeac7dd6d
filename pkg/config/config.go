package config

import (
	"log"
	"math/big"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	"github.com/speedrun-hq/speedrun-keeper/pkg/chains"
	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
	"github.com/speedrun-hq/speedrun-keeper/pkg/retry"
	"github.com/speedrun-hq/speedrun-keeper/pkg/safety"
)

// Config holds the configuration for the keeper service
type Config struct {
	PollingInterval time.Duration
	Concurrency     int
	PriceTimeout    time.Duration
	KeeperTimeout   time.Duration
	Safety          safety.Config
	Retry           retry.Config
	Database        DatabaseConfig
	Chain           ChainConfig
	PrivateKey      string
	Price           PriceConfig
	Tokens          []chains.Token
	MetricsPort     string
	MetricsAPIKey   string
	LoggerConfig    LoggerConfig
}

// DatabaseConfig selects the job store
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// ChainConfig holds the configuration for the keeper chain
type ChainConfig struct {
	ChainID       int
	RPCURL        string
	KeeperAddress string
	GasMultiplier float64
	MaxGasPrice   *big.Int
}

// PriceConfig holds the price API settings
type PriceConfig struct {
	APIEndpoint string
	CacheTTL    time.Duration
	// RateLimit is the request budget per minute
	RateLimit int
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from the .env file, if any, and the environment
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return Load()
}

// Load builds the configuration from environment variables
func Load() (*Config, error) {
	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	concurrency, err := GetEnvConcurrency()
	if err != nil {
		return nil, err
	}

	priceTimeout, err := GetEnvPriceTimeout()
	if err != nil {
		return nil, err
	}

	keeperTimeout, err := GetEnvKeeperTimeout()
	if err != nil {
		return nil, err
	}

	safetyCfg, err := GetEnvSafetyConfig()
	if err != nil {
		return nil, err
	}

	retryCfg, err := GetEnvRetryConfig()
	if err != nil {
		return nil, err
	}

	database, err := GetEnvDatabase()
	if err != nil {
		return nil, err
	}

	chainID, err := GetEnvChainID()
	if err != nil {
		return nil, err
	}

	rpcURL, err := GetEnvRPCURL()
	if err != nil {
		return nil, err
	}

	keeperAddress, err := GetEnvKeeperAddress()
	if err != nil {
		return nil, err
	}

	gasMultiplier, err := GetEnvGasMultiplier()
	if err != nil {
		return nil, err
	}

	maxGasPrice, err := GetEnvMaxGasPrice()
	if err != nil {
		return nil, err
	}

	priceCfg, err := GetEnvPriceConfig()
	if err != nil {
		return nil, err
	}

	tokens, err := GetEnvTokens(chainID)
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	return &Config{
		PollingInterval: pollingInterval,
		Concurrency:     concurrency,
		PriceTimeout:    priceTimeout,
		KeeperTimeout:   keeperTimeout,
		Safety:          safetyCfg,
		Retry:           retryCfg,
		Database:        database,
		Chain: ChainConfig{
			ChainID:       chainID,
			RPCURL:        rpcURL,
			KeeperAddress: keeperAddress,
			GasMultiplier: gasMultiplier,
			MaxGasPrice:   maxGasPrice,
		},
		PrivateKey:    os.Getenv("PRIVATE_KEY"),
		Price:         priceCfg,
		Tokens:        tokens,
		MetricsPort:   metricsPort,
		MetricsAPIKey: os.Getenv("METRICS_API_KEY"),
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}, nil
}

// ValidateForExecution checks the settings needed to submit transactions.
// Store-only commands do not need them.
func (c *Config) ValidateForExecution() error {
	if c.PrivateKey == "" {
		return errors.New("PRIVATE_KEY environment variable is required")
	}
	if c.Chain.RPCURL == "" {
		return errors.New("RPC_URL environment variable is required")
	}
	if c.Chain.KeeperAddress == "" {
		return errors.New("KEEPER_ADDRESS environment variable is required")
	}
	return nil
}
