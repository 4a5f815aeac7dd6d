package config

import (
	"math/big"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-keeper/pkg/chains"
	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
	"github.com/speedrun-hq/speedrun-keeper/pkg/pricecheck"
	"github.com/speedrun-hq/speedrun-keeper/pkg/retry"
	"github.com/speedrun-hq/speedrun-keeper/pkg/safety"
)

const (
	// DefaultPollingInterval defines the default polling interval in seconds
	DefaultPollingInterval = 10

	// DefaultConcurrency defines how many jobs a tick processes at once
	DefaultConcurrency = 1

	// DefaultPriceTimeout bounds a single price lookup
	DefaultPriceTimeout = 10 * time.Second

	// DefaultKeeperTimeout bounds a single keeper call, receipt included
	DefaultKeeperTimeout = 2 * time.Minute

	// DefaultDBDriver defines the default job store driver
	DefaultDBDriver = "sqlite3"

	// DefaultDBDSN defines the default sqlite database file
	DefaultDBDSN = "keeper.db"

	// DefaultChainID defines the chain the keeper contract lives on
	DefaultChainID = 8453

	// DefaultGasMultiplier defines the buffer applied to the suggested gas price
	DefaultGasMultiplier = 1.1

	// DefaultMaxGasPrice defines the maximum gas price for transactions
	DefaultMaxGasPrice = "50000000000" // 50 Gwei

	// DefaultPriceCacheTTL defines how long a fetched price is reused
	DefaultPriceCacheTTL = 30 * time.Second

	// DefaultPriceRateLimit defines the price API request budget per minute
	DefaultPriceRateLimit = 30

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultLogLevel defines the default log level
	DefaultLogLevel = logger.InfoLevel

	// DefaultLogColoring defines whether logs are colored by default
	DefaultLogColoring = true
)

var tokenEnvPattern = regexp.MustCompile(`^TOKEN_([A-Z0-9]+)_ADDRESS$`)

// GetEnvPollingInterval returns the polling interval from environment variables.
// A bare integer is read as seconds.
func GetEnvPollingInterval() (time.Duration, error) {
	return getEnvDuration("POLLING_INTERVAL", DefaultPollingInterval*time.Second)
}

// GetEnvConcurrency returns the per-tick concurrency from environment variables
func GetEnvConcurrency() (int, error) {
	return getEnvInt("EXECUTOR_CONCURRENCY", DefaultConcurrency, 1)
}

// GetEnvPriceTimeout returns the price lookup timeout from environment variables
func GetEnvPriceTimeout() (time.Duration, error) {
	return getEnvDuration("PRICE_TIMEOUT", DefaultPriceTimeout)
}

// GetEnvKeeperTimeout returns the keeper call timeout from environment variables
func GetEnvKeeperTimeout() (time.Duration, error) {
	return getEnvDuration("KEEPER_TIMEOUT", DefaultKeeperTimeout)
}

// GetEnvSafetyConfig returns the safety guard limits from environment variables
func GetEnvSafetyConfig() (safety.Config, error) {
	cfg := safety.DefaultConfig()
	var err error

	if cfg.BreakerEnabled, err = getEnvBool("SAFETY_BREAKER_ENABLED", cfg.BreakerEnabled); err != nil {
		return cfg, err
	}
	if cfg.MaxConsecutiveFailures, err = getEnvInt("SAFETY_MAX_CONSECUTIVE_FAILURES", cfg.MaxConsecutiveFailures, 1); err != nil {
		return cfg, err
	}
	if cfg.Cooldown, err = getEnvDuration("SAFETY_COOLDOWN", cfg.Cooldown); err != nil {
		return cfg, err
	}
	if cfg.MaxExecutionsPerWindow, err = getEnvInt("SAFETY_MAX_EXECUTIONS_PER_WINDOW", cfg.MaxExecutionsPerWindow, 1); err != nil {
		return cfg, err
	}
	if cfg.Window, err = getEnvDuration("SAFETY_WINDOW", cfg.Window); err != nil {
		return cfg, err
	}
	if cfg.MaxRetryAttempts, err = getEnvInt("SAFETY_MAX_RETRY_ATTEMPTS", cfg.MaxRetryAttempts, 1); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// GetEnvRetryConfig returns the backoff parameters from environment variables
func GetEnvRetryConfig() (retry.Config, error) {
	cfg := retry.DefaultConfig()
	var err error

	if cfg.BaseDelay, err = getEnvDuration("RETRY_BASE_DELAY", cfg.BaseDelay); err != nil {
		return cfg, err
	}
	if cfg.MaxDelay, err = getEnvDuration("RETRY_MAX_DELAY", cfg.MaxDelay); err != nil {
		return cfg, err
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return cfg, errors.Newf("RETRY_MAX_DELAY (%v) must not be below RETRY_BASE_DELAY (%v)", cfg.MaxDelay, cfg.BaseDelay)
	}

	if jitter := os.Getenv("RETRY_JITTER"); jitter != "" {
		f, err := strconv.ParseFloat(jitter, 64)
		if err != nil || f < 0 || f > 1 {
			return cfg, errors.Newf("invalid RETRY_JITTER value: %s, must be a number within [0, 1]", jitter)
		}
		cfg.Jitter = f
	}
	return cfg, nil
}

// GetEnvDatabase returns the job store driver and DSN from environment variables
func GetEnvDatabase() (DatabaseConfig, error) {
	driver := os.Getenv("DB_DRIVER")
	if driver == "" {
		driver = DefaultDBDriver
	}
	if driver != "sqlite3" && driver != "postgres" {
		return DatabaseConfig{}, errors.Newf("invalid DB_DRIVER value: %s, must be 'sqlite3' or 'postgres'", driver)
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		if driver == "postgres" {
			return DatabaseConfig{}, errors.New("DB_DSN is required for the postgres driver")
		}
		dsn = DefaultDBDSN
	}
	return DatabaseConfig{Driver: driver, DSN: dsn}, nil
}

// GetEnvChainID returns the keeper chain ID from environment variables
func GetEnvChainID() (int, error) {
	chainID, err := getEnvInt("CHAIN_ID", DefaultChainID, 1)
	if err != nil {
		return 0, err
	}
	if !chains.IsSupported(chainID) {
		return 0, errors.Newf("unsupported CHAIN_ID value: %d", chainID)
	}
	return chainID, nil
}

// GetEnvKeeperAddress returns the keeper contract address from environment variables
func GetEnvKeeperAddress() (string, error) {
	address := os.Getenv("KEEPER_ADDRESS")
	if address == "" {
		return "", nil
	}

	// Validate Ethereum address format
	if !common.IsHexAddress(address) {
		return "", errors.Newf("invalid KEEPER_ADDRESS value: %s, must be a valid Ethereum address", address)
	}
	return address, nil
}

// GetEnvRPCURL returns the chain RPC endpoint from environment variables
func GetEnvRPCURL() (string, error) {
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		return "", nil
	}
	if _, err := url.ParseRequestURI(rpcURL); err != nil {
		return "", errors.Newf("invalid RPC_URL value: %s, must be a valid URL", rpcURL)
	}
	return rpcURL, nil
}

// GetEnvGasMultiplier returns the gas price multiplier from environment variables
func GetEnvGasMultiplier() (float64, error) {
	multiplier := os.Getenv("GAS_MULTIPLIER")
	if multiplier == "" {
		return DefaultGasMultiplier, nil
	}

	f, err := strconv.ParseFloat(multiplier, 64)
	if err != nil {
		return 0, errors.Newf("invalid GAS_MULTIPLIER value: %s, must be a number", multiplier)
	}
	if f < 1 {
		return 0, errors.New("GAS_MULTIPLIER must be at least 1")
	}
	return f, nil
}

// GetEnvMaxGasPrice returns the maximum gas price from environment variables
func GetEnvMaxGasPrice() (*big.Int, error) {
	maxGasPrice := os.Getenv("MAX_GAS_PRICE")
	if maxGasPrice == "" {
		maxGasPrice = DefaultMaxGasPrice
	}

	maxGasPriceBig := new(big.Int)
	if _, ok := maxGasPriceBig.SetString(maxGasPrice, 10); !ok {
		return nil, errors.Newf("invalid MAX_GAS_PRICE value: %s, must be a valid integer string", maxGasPrice)
	}

	if maxGasPriceBig.Sign() < 0 {
		return nil, errors.New("MAX_GAS_PRICE must be greater than or equal to 0")
	}
	return maxGasPriceBig, nil
}

// GetEnvPriceConfig returns the price API settings from environment variables
func GetEnvPriceConfig() (PriceConfig, error) {
	endpoint := os.Getenv("PRICE_API_ENDPOINT")
	if endpoint == "" {
		endpoint = pricecheck.DefaultAPIEndpoint
	} else if _, err := url.ParseRequestURI(endpoint); err != nil {
		return PriceConfig{}, errors.Newf("invalid PRICE_API_ENDPOINT value: %s, must be a valid URL", endpoint)
	}

	ttl, err := getEnvDuration("PRICE_CACHE_TTL", DefaultPriceCacheTTL)
	if err != nil {
		return PriceConfig{}, err
	}

	rateLimit, err := getEnvInt("PRICE_RATE_LIMIT", DefaultPriceRateLimit, 1)
	if err != nil {
		return PriceConfig{}, err
	}

	return PriceConfig{APIEndpoint: endpoint, CacheTTL: ttl, RateLimit: rateLimit}, nil
}

// GetEnvTokens returns the built-in tokens of chainID merged with any
// TOKEN_<SYMBOL>_ADDRESS overrides, which may set _DECIMALS and _PRICE_ID
func GetEnvTokens(chainID int) ([]chains.Token, error) {
	registry := chains.NewRegistry(chains.DefaultTokens(chainID)...)

	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		m := tokenEnvPattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		symbol := m[1]
		if !common.IsHexAddress(value) {
			return nil, errors.Newf("invalid %s value: %s, must be a valid Ethereum address", key, value)
		}

		token := chains.Token{Symbol: symbol, Address: common.HexToAddress(value), Decimals: 18}
		if existing, ok := registry.Lookup(symbol); ok {
			token.Decimals = existing.Decimals
			token.PriceID = existing.PriceID
		}

		decimals, err := getEnvInt("TOKEN_"+symbol+"_DECIMALS", int(token.Decimals), 0)
		if err != nil {
			return nil, err
		}
		token.Decimals = int32(decimals)
		if priceID := os.Getenv("TOKEN_" + symbol + "_PRICE_ID"); priceID != "" {
			token.PriceID = priceID
		}
		registry.Add(token)
	}

	tokens := make([]chains.Token, 0, len(registry.Symbols()))
	for _, symbol := range registry.Symbols() {
		token, _ := registry.Lookup(symbol)
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", errors.Newf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return DefaultLogLevel, nil
	}
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return 0, errors.Wrap(err, "invalid LOG_LEVEL value")
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", DefaultLogColoring)
}

func getEnvInt(key string, def, min int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Newf("invalid %s value: %s, must be an integer", key, value)
	}
	if n < min {
		return 0, errors.Newf("%s must be at least %d", key, min)
	}
	return n, nil
}

// getEnvDuration accepts Go duration strings and bare integers as seconds
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	if n, err := strconv.Atoi(value); err == nil {
		if n <= 0 {
			return 0, errors.Newf("%s must be greater than 0", key)
		}
		return time.Duration(n) * time.Second, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Newf("invalid %s value: %s, must be a valid duration string", key, value)
	}
	if parsed <= 0 {
		return 0, errors.Newf("%s must be greater than 0", key)
	}
	return parsed, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	value := os.Getenv(key)
	switch value {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, errors.Newf("invalid %s value: %s, must be 'true' or 'false'", key, value)
}
