package chainclient

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/speedrun-hq/speedrun-keeper/pkg/contracts"
	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
)

// DefaultGasMultiplier is applied to the suggested gas price (10% buffer)
const DefaultGasMultiplier = 1.1

// ErrNotConnected is returned when the client has no backend
var ErrNotConnected = errors.New("client not connected")

// Backend is the subset of an Ethereum client the keeper needs.
// *ethclient.Client and the simulated backend client both satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ethereum.ChainIDReader
	ethereum.BlockNumberReader
}

// Options configures a chain client
type Options struct {
	ChainID       int
	RPCURL        string
	KeeperAddress string
	PrivateKey    string
	// MaxGasPrice is the cap in wei; nil disables it
	MaxGasPrice   *big.Int
	GasMultiplier float64
	Logger        logger.Logger
}

// Client contains client and config information for the keeper chain
type Client struct {
	ChainID       int
	RPCURL        string
	KeeperAddress common.Address
	MaxGasPrice   *big.Int
	GasMultiplier float64
	Backend       Backend
	Keeper        *contracts.AutomationKeeper
	Auth          *bind.TransactOpts
	Nonces        *NonceManager

	mu              sync.RWMutex
	currentGasPrice *big.Int
	logger          logger.Logger
}

// Dial connects to opts.RPCURL and creates a client
func Dial(ctx context.Context, opts Options) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to chain %d", opts.ChainID)
	}
	return New(ctx, backend, opts)
}

// New creates a client around an existing backend
func New(ctx context.Context, backend Backend, opts Options) (*Client, error) {
	if backend == nil {
		return nil, ErrNotConnected
	}
	if !common.IsHexAddress(opts.KeeperAddress) {
		return nil, errors.Newf("invalid keeper address: %q", opts.KeeperAddress)
	}
	if opts.GasMultiplier <= 0 {
		opts.GasMultiplier = DefaultGasMultiplier
	}
	log := opts.Logger
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	c := &Client{
		ChainID:       opts.ChainID,
		RPCURL:        opts.RPCURL,
		KeeperAddress: common.HexToAddress(opts.KeeperAddress),
		MaxGasPrice:   opts.MaxGasPrice,
		GasMultiplier: opts.GasMultiplier,
		Backend:       backend,
		Nonces:        NewNonceManager(log),
		logger:        log,
	}

	if opts.PrivateKey != "" {
		auth, err := createAuthenticator(ctx, backend, opts.PrivateKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create authenticator")
		}
		c.Auth = auth
	}

	keeper, err := contracts.NewAutomationKeeper(c.KeeperAddress, backend)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize keeper contract")
	}
	c.Keeper = keeper

	return c, nil
}

// Sender returns the signing address, or the zero address for a read-only client
func (c *Client) Sender() common.Address {
	if c.Auth == nil {
		return common.Address{}
	}
	return c.Auth.From
}

// CanSign reports whether the client has a private key
func (c *Client) CanSign() bool {
	return c.Auth != nil
}

// UpdateGasPrice fetches the network gas price and applies the multiplier
func (c *Client) UpdateGasPrice(ctx context.Context) (*big.Int, error) {
	if c.Backend == nil {
		return nil, ErrNotConnected
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.Backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get gas price")
	}

	final := applyMultiplier(gasPrice, c.GasMultiplier)

	c.mu.Lock()
	c.currentGasPrice = final
	c.mu.Unlock()

	return final, nil
}

// CurrentGasPrice returns the last price fetched by UpdateGasPrice, or nil
func (c *Client) CurrentGasPrice() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.currentGasPrice == nil {
		return nil
	}
	return new(big.Int).Set(c.currentGasPrice)
}

// IsGasPriceAcceptable reports whether gasPrice is within MaxGasPrice
func (c *Client) IsGasPriceAcceptable(gasPrice *big.Int) bool {
	if c.MaxGasPrice == nil || c.MaxGasPrice.Sign() == 0 {
		return true
	}
	if gasPrice == nil {
		return false
	}
	return gasPrice.Cmp(c.MaxGasPrice) <= 0
}

// GetLatestBlockNumber gets the latest block number from the chain
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	if c.Backend == nil {
		return 0, ErrNotConnected
	}
	return c.Backend.BlockNumber(ctx)
}

// SyncNonce reconciles the local nonce counter of the sender with the chain
func (c *Client) SyncNonce(ctx context.Context) error {
	if !c.CanSign() {
		return nil
	}
	return c.Nonces.SyncWithBlockchain(ctx, c.Backend, c.Sender())
}

func applyMultiplier(gasPrice *big.Int, multiplier float64) *big.Int {
	multiplied := new(big.Float).Mul(new(big.Float).SetInt(gasPrice), big.NewFloat(multiplier))
	out := new(big.Int)
	multiplied.Int(out)
	return out
}

// Helper function to create authenticator
func createAuthenticator(ctx context.Context, backend ethereum.ChainIDReader, privateKeyHex string) (*bind.TransactOpts, error) {
	privateKey, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain ID")
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transactor")
	}

	return auth, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) > 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	return key, nil
}
