package chainclient

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
)

// DefaultTxTimeout is how long a submitted transaction may stay pending
const DefaultTxTimeout = 5 * time.Minute

// resyncInterval forces a chain lookup on allocation when the last sync is older
const resyncInterval = 5 * time.Minute

// NonceReader reads the pending nonce of an account
type NonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// TxStatus represents the status of a submitted transaction
type TxStatus int

const (
	// TxPending indicates transaction is pending
	TxPending TxStatus = iota
	// TxConfirmed indicates transaction is confirmed
	TxConfirmed
	// TxFailed indicates transaction has failed
	TxFailed
	// TxTimedOut indicates transaction has timed out
	TxTimedOut
)

// PendingTx tracks a transaction submitted for a job
type PendingTx struct {
	Hash      common.Hash
	Nonce     uint64
	JobID     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TxStatus
}

// NonceManager hands out nonces per signer and tracks in-flight transactions
type NonceManager struct {
	signers   map[common.Address]*signerNonces
	mu        sync.RWMutex
	txTimeout time.Duration
	timeNow   func() time.Time
	logger    logger.Logger
}

// signerNonces holds nonce data for one signing account
type signerNonces struct {
	current  uint64
	pending  map[uint64]*PendingTx
	lastSync time.Time
	mu       sync.Mutex
}

// NewNonceManager creates a new nonce manager
func NewNonceManager(log logger.Logger) *NonceManager {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &NonceManager{
		signers:   make(map[common.Address]*signerNonces),
		txTimeout: DefaultTxTimeout,
		timeNow:   time.Now,
		logger:    log,
	}
}

// SetTransactionTimeout sets the timeout for transactions
func (nm *NonceManager) SetTransactionTimeout(timeout time.Duration) {
	nm.mu.Lock()
	nm.txTimeout = timeout
	nm.mu.Unlock()
}

func (nm *NonceManager) signer(addr common.Address) *signerNonces {
	nm.mu.RLock()
	s, ok := nm.signers[addr]
	nm.mu.RUnlock()
	if ok {
		return s
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if s, ok = nm.signers[addr]; !ok {
		s = &signerNonces{pending: make(map[uint64]*PendingTx)}
		nm.signers[addr] = s
	}
	return s
}

// Allocate reserves and returns the next nonce for addr
func (nm *NonceManager) Allocate(ctx context.Context, reader NonceReader, addr common.Address) (uint64, error) {
	s := nm.signer(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nm.timeNow()
	if s.lastSync.IsZero() || now.Sub(s.lastSync) > resyncInterval {
		chainNonce, err := reader.PendingNonceAt(ctx, addr)
		if err != nil {
			return 0, errors.Wrap(err, "failed to get pending nonce")
		}
		if chainNonce > s.current {
			nm.logger.Debug("Updating nonce for %s: %d -> %d", addr.Hex(), s.current, chainNonce)
			s.current = chainNonce
		}
		s.lastSync = now
	}

	nonce := s.current
	s.current++
	return nonce, nil
}

// Track records a submitted transaction
func (nm *NonceManager) Track(addr common.Address, nonce uint64, hash common.Hash, jobID string) {
	s := nm.signer(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nm.timeNow()
	s.pending[nonce] = &PendingTx{
		Hash:      hash,
		Nonce:     nonce,
		JobID:     jobID,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
	nm.logger.Debug("Tracking transaction for job %s with nonce %d: %s", jobID, nonce, hash.Hex())
}

// Confirm removes a mined transaction from the pending set
func (nm *NonceManager) Confirm(addr common.Address, nonce uint64) bool {
	s := nm.signer(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.pending[nonce]
	if !ok {
		return false
	}
	tx.Status = TxConfirmed
	delete(s.pending, nonce)
	return true
}

// Release hands back a nonce whose transaction was never broadcast.
// The nonce is reused only if nothing above it was handed out meanwhile.
func (nm *NonceManager) Release(addr common.Address, nonce uint64) bool {
	s := nm.signer(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, nonce)
	if s.current == nonce+1 {
		s.current = nonce
		nm.logger.Debug("Reusing nonce %d for %s", nonce, addr.Hex())
		return true
	}
	return false
}

// FindTimedOut marks and returns transactions pending longer than the timeout
func (nm *NonceManager) FindTimedOut(addr common.Address) []PendingTx {
	nm.mu.RLock()
	timeout := nm.txTimeout
	nm.mu.RUnlock()

	s := nm.signer(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nm.timeNow()
	var out []PendingTx
	for _, tx := range s.pending {
		if tx.Status == TxPending && now.Sub(tx.CreatedAt) > timeout {
			tx.Status = TxTimedOut
			tx.UpdatedAt = now
			nm.logger.Warn("Transaction timed out for job %s, nonce %d: %s", tx.JobID, tx.Nonce, tx.Hash.Hex())
			out = append(out, *tx)
		}
	}
	return out
}

// SyncWithBlockchain moves the local counter forward to the chain's pending nonce
func (nm *NonceManager) SyncWithBlockchain(ctx context.Context, reader NonceReader, addr common.Address) error {
	s := nm.signer(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	chainNonce, err := reader.PendingNonceAt(ctx, addr)
	if err != nil {
		return errors.Wrap(err, "failed to get pending nonce")
	}

	if chainNonce > s.current {
		nm.logger.Info("Updating nonce for %s: %d -> %d", addr.Hex(), s.current, chainNonce)
		s.current = chainNonce
	}
	// confirmed transactions below the chain nonce are no longer pending
	for nonce := range s.pending {
		if nonce < chainNonce {
			delete(s.pending, nonce)
		}
	}
	s.lastSync = nm.timeNow()
	return nil
}

// PendingForJob returns the in-flight transaction submitted for jobID, if any
func (nm *NonceManager) PendingForJob(addr common.Address, jobID string) (PendingTx, bool) {
	s := nm.signer(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range s.pending {
		if tx.JobID == jobID {
			return *tx, true
		}
	}
	return PendingTx{}, false
}

// PendingCount returns the number of in-flight transactions for addr
func (nm *NonceManager) PendingCount(addr common.Address) int {
	s := nm.signer(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
