package keeper

import (
	"context"
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-keeper/pkg/chainclient"
	"github.com/speedrun-hq/speedrun-keeper/pkg/chains"
	"github.com/speedrun-hq/speedrun-keeper/pkg/contracts"
	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
	"github.com/speedrun-hq/speedrun-keeper/pkg/models"
	"github.com/speedrun-hq/speedrun-keeper/pkg/pricecheck"
)

// receiptPollInterval is how often a resumed transaction is checked
const receiptPollInterval = time.Second

// submitFunc matches the generated execute bindings of the keeper contract
type submitFunc func(opts *bind.TransactOpts, jobID [32]byte, owner, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) (*types.Transaction, error)

// EthClient executes jobs through the AutomationKeeper contract
type EthClient struct {
	chain  *chainclient.Client
	tokens *chains.Registry
	quoter pricecheck.Source
	logger logger.Logger
}

var _ Client = (*EthClient)(nil)

// NewEthClient creates an EthClient. quoter is consulted for requests that
// carry no expected price and may be nil.
func NewEthClient(chain *chainclient.Client, tokens *chains.Registry, quoter pricecheck.Source, log logger.Logger) *EthClient {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &EthClient{
		chain:  chain,
		tokens: tokens,
		quoter: quoter,
		logger: log,
	}
}

// ExecuteLimitOrder submits executeLimitOrder and waits for it to be mined
func (c *EthClient) ExecuteLimitOrder(ctx context.Context, req ExecutionRequest) (Receipt, error) {
	return c.execute(ctx, "limit order", req, c.chain.Keeper.ExecuteLimitOrder)
}

// ExecuteDCATick submits executeDCATick and waits for it to be mined
func (c *EthClient) ExecuteDCATick(ctx context.Context, req ExecutionRequest) (Receipt, error) {
	return c.execute(ctx, "dca tick", req, c.chain.Keeper.ExecuteDCATick)
}

// GetOnChainStatus reads the job status from the keeper contract
func (c *EthClient) GetOnChainStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	id, err := parseJobID(jobID)
	if err != nil {
		return "", err
	}

	status, err := c.chain.Keeper.JobStatus(&bind.CallOpts{Context: ctx}, id)
	if err != nil {
		return "", Transient(err, "failed to read on-chain status")
	}

	switch status {
	case contracts.OnChainStatusActive:
		return models.StatusActive, nil
	case contracts.OnChainStatusExecuted:
		return models.StatusExecuted, nil
	case contracts.OnChainStatusCancelled:
		return models.StatusCancelled, nil
	case contracts.OnChainStatusExpired:
		return models.StatusExpired, nil
	default:
		return "", errors.Newf("job %s has unknown on-chain status %d", jobID, status)
	}
}

func (c *EthClient) execute(ctx context.Context, kind string, req ExecutionRequest, submit submitFunc) (Receipt, error) {
	if !c.chain.CanSign() {
		return Receipt{}, Fatalf("keeper has no signing key")
	}
	jobID, err := parseJobID(req.JobID)
	if err != nil {
		return Receipt{}, err
	}
	if !common.IsHexAddress(req.Owner) {
		return Receipt{}, Fatalf("invalid owner address %q", req.Owner)
	}
	owner := common.HexToAddress(req.Owner)

	tokenIn, ok := c.tokens.Lookup(req.TokenIn)
	if !ok {
		return Receipt{}, Fatalf("unknown token %s", req.TokenIn)
	}
	tokenOut, ok := c.tokens.Lookup(req.TokenOut)
	if !ok {
		return Receipt{}, Fatalf("unknown token %s", req.TokenOut)
	}

	amountIn := tokenIn.ToBaseUnits(req.AmountIn)
	if amountIn.Sign() <= 0 {
		return Receipt{}, Fatalf("amount %s %s is below one base unit", req.AmountIn, tokenIn.Symbol)
	}

	from := c.chain.Sender()
	var replaceNonce *uint64
	if prev, ok := c.chain.Nonces.PendingForJob(from, req.JobID); ok {
		receipt, settled, err := c.resume(ctx, from, prev, req.JobID, jobID, tokenOut)
		if settled {
			return receipt, err
		}
		// the earlier transaction is stuck; replace it under the same nonce
		nonce := prev.Nonce
		replaceNonce = &nonce
	}

	if req.ExpectedPrice == nil && c.quoter != nil {
		price, err := c.quoter.GetPrice(ctx, req.TokenIn, req.TokenOut)
		if err != nil {
			return Receipt{}, Transient(err, "failed to quote execution price")
		}
		req.ExpectedPrice = &price
	}
	minOut := tokenOut.ToBaseUnits(req.MinAmountOut())

	if err := c.checkFunds(ctx, owner, tokenIn, amountIn); err != nil {
		return Receipt{}, err
	}

	gasPrice, err := c.chain.UpdateGasPrice(ctx)
	if err != nil {
		return Receipt{}, Transient(err, "failed to price gas")
	}
	if !c.chain.IsGasPriceAcceptable(gasPrice) {
		return Receipt{}, errors.Mark(
			errors.Newf("gas price %s above cap %s", gasPrice, c.chain.MaxGasPrice), ErrTransient)
	}

	var nonce uint64
	if replaceNonce != nil {
		nonce = *replaceNonce
		c.logger.Warn("Replacing stuck transaction of job %s (nonce %d)", req.JobID, nonce)
	} else {
		nonce, err = c.chain.Nonces.Allocate(ctx, c.chain.Backend, from)
		if err != nil {
			return Receipt{}, Transient(err, "failed to allocate nonce")
		}
	}

	opts := *c.chain.Auth
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.GasPrice = gasPrice

	tx, err := submit(&opts, jobID, owner, tokenIn.Address, tokenOut.Address, amountIn, minOut)
	if err != nil {
		if replaceNonce == nil {
			c.chain.Nonces.Release(from, nonce)
		}
		return Receipt{}, errors.Wrapf(err, "failed to submit %s", kind)
	}
	c.chain.Nonces.Track(from, nonce, tx.Hash(), req.JobID)
	c.logger.Info("Submitted %s for job %s: %s (nonce %d)", kind, req.JobID, tx.Hash().Hex(), nonce)

	receipt, err := bind.WaitMined(ctx, c.chain.Backend, tx)
	if err != nil {
		return Receipt{}, Transient(err, "failed waiting for transaction "+tx.Hash().Hex())
	}
	c.chain.Nonces.Confirm(from, nonce)
	return c.settle(ctx, req.JobID, jobID, receipt, tokenOut)
}

// resume settles a transaction an earlier attempt submitted for the job but
// never saw mined, waiting for its receipt until ctx is done. settled is
// false only when the transaction timed out without being mined and should
// be replaced.
func (c *EthClient) resume(ctx context.Context, from common.Address, prev chainclient.PendingTx,
	reqJobID string, jobID [32]byte, tokenOut chains.Token) (receipt Receipt, settled bool, err error) {
	var mined *types.Receipt
	if prev.Status == chainclient.TxTimedOut {
		mined, err = c.chain.Backend.TransactionReceipt(ctx, prev.Hash)
	} else {
		mined, err = c.waitReceipt(ctx, prev.Hash)
	}
	switch {
	case err == nil:
		c.chain.Nonces.Confirm(from, prev.Nonce)
		c.logger.Info("Earlier transaction %s of job %s was mined", prev.Hash.Hex(), reqJobID)
		receipt, err = c.settle(ctx, reqJobID, jobID, mined, tokenOut)
		return receipt, true, err
	case !errors.Is(err, ethereum.NotFound):
		return Receipt{}, true, Transient(err, "failed to read receipt of "+prev.Hash.Hex())
	case prev.Status != chainclient.TxTimedOut:
		return Receipt{}, true, errors.Mark(
			errors.Newf("transaction %s of job %s is still pending", prev.Hash.Hex(), reqJobID), ErrTransient)
	}
	return Receipt{}, false, nil
}

// waitReceipt polls for the receipt of hash. It returns ethereum.NotFound
// when ctx ends first.
func (c *EthClient) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.chain.Backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ethereum.NotFound
		case <-ticker.C:
		}
	}
}

// settle turns a mined receipt into the execution result
func (c *EthClient) settle(ctx context.Context, reqJobID string, jobID [32]byte, receipt *types.Receipt, tokenOut chains.Token) (Receipt, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, c.revertError(ctx, reqJobID, receipt.TxHash)
	}
	return Receipt{
		TxHash:    receipt.TxHash.Hex(),
		AmountOut: c.amountOut(receipt, jobID, tokenOut),
	}, nil
}

// checkFunds verifies the owner approved and holds amount of token
func (c *EthClient) checkFunds(ctx context.Context, owner common.Address, token chains.Token, amount *big.Int) error {
	erc20, err := contracts.NewERC20(token.Address, c.chain.Backend)
	if err != nil {
		return errors.Wrap(err, "failed to bind token")
	}
	callOpts := &bind.CallOpts{Context: ctx}

	allowance, err := erc20.Allowance(callOpts, owner, c.chain.KeeperAddress)
	if err != nil {
		return Transient(err, "failed to read allowance")
	}
	if allowance.Cmp(amount) < 0 {
		return Fatalf("insufficient allowance: %s approved %s %s, need %s",
			owner.Hex(), token.FromBaseUnits(allowance), token.Symbol, token.FromBaseUnits(amount))
	}

	balance, err := erc20.BalanceOf(callOpts, owner)
	if err != nil {
		return Transient(err, "failed to read balance")
	}
	if balance.Cmp(amount) < 0 {
		return Fatalf("insufficient balance: %s holds %s %s, need %s",
			owner.Hex(), token.FromBaseUnits(balance), token.Symbol, token.FromBaseUnits(amount))
	}
	return nil
}

// revertError classifies a reverted transaction by the job's on-chain status
func (c *EthClient) revertError(ctx context.Context, jobID string, hash common.Hash) error {
	status, err := c.GetOnChainStatus(ctx, jobID)
	if err == nil && status != models.StatusActive {
		return errors.Mark(errors.Newf("transaction %s reverted: job is %s on chain", hash.Hex(), status), ErrAlreadyTerminal)
	}
	return ConditionNotMetf("transaction %s reverted", hash.Hex())
}

// amountOut extracts the output amount from the JobExecuted event of the receipt
func (c *EthClient) amountOut(receipt *types.Receipt, jobID [32]byte, tokenOut chains.Token) *decimal.Decimal {
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.chain.KeeperAddress {
			continue
		}
		ev, err := c.chain.Keeper.ParseJobExecuted(*l)
		if err != nil || ev.JobId != jobID {
			continue
		}
		amount := tokenOut.FromBaseUnits(ev.AmountOut)
		return &amount
	}
	return nil
}

// parseJobID converts a 0x-prefixed 32 byte hex id to its on-chain form
func parseJobID(jobID string) ([32]byte, error) {
	if len(jobID) != 66 || jobID[:2] != "0x" || !isHex(jobID[2:]) {
		return [32]byte{}, Fatalf("invalid job id %q", jobID)
	}
	return common.HexToHash(jobID), nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
