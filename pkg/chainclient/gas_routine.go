package chainclient

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-keeper/pkg/logger"
)

// GasPriceRoutine periodically refreshes the client's gas price
type GasPriceRoutine struct {
	client   *Client
	interval time.Duration
	onUpdate func(*big.Int)
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
	logger   logger.Logger
}

// NewGasPriceRoutine creates a routine; onUpdate may be nil
func NewGasPriceRoutine(client *Client, interval time.Duration, onUpdate func(*big.Int)) *GasPriceRoutine {
	return &GasPriceRoutine{
		client:   client,
		interval: interval,
		onUpdate: onUpdate,
		logger:   client.logger,
	}
}

// Start begins the periodic updates until ctx is done or Stop is called
func (r *GasPriceRoutine) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
}

// Stop halts the periodic updates and waits for the goroutine to exit
func (r *GasPriceRoutine) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsRunning returns whether the routine is currently running
func (r *GasPriceRoutine) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *GasPriceRoutine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.update(ctx)
	for {
		select {
		case <-ticker.C:
			r.update(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *GasPriceRoutine) update(ctx context.Context) {
	gasPrice, err := r.client.UpdateGasPrice(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("Failed to update gas price for chain %d: %v", r.client.ChainID, err)
		}
		return
	}
	if !r.client.IsGasPriceAcceptable(gasPrice) {
		r.logger.Notice("Gas price %s above cap %s on chain %d", gasPrice, r.client.MaxGasPrice, r.client.ChainID)
	}
	if r.onUpdate != nil {
		r.onUpdate(gasPrice)
	}
}
