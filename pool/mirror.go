// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	log "github.com/luxfi/log"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/liquiditytree/tree"
)

// mirrorPool exchanges any of its tokens one-for-one less the fee. Used
// for wrapped or bridged representations of the same asset.
type mirrorPool struct {
	tokens   []common.Address
	reserves map[common.Address]*big.Int
	feePPM   uint32
	paused   bool
}

// MirrorAdapter serves constant-sum multi-token pools. Unlike the
// two-token adapters a mirror pool can carry any number of tokens, so a
// single pool edge connects every pairing of its members.
type MirrorAdapter struct {
	mu     sync.RWMutex
	log    log.Logger
	ledger TokenLedger
	router common.Address
	pools  map[common.Address]*mirrorPool
}

var _ tree.PoolAdapter = (*MirrorAdapter)(nil)

func NewMirrorAdapter(ledger TokenLedger, router common.Address, logger log.Logger) *MirrorAdapter {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &MirrorAdapter{
		log:    logger,
		ledger: ledger,
		router: router,
		pools:  make(map[common.Address]*mirrorPool),
	}
}

// Register adds a pool over the given token list, each token seeded with
// the same reserve.
func (a *MirrorAdapter) Register(pool common.Address, tokens []common.Address, reserveEach *big.Int, feePPM uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pools[pool]; ok {
		return fmt.Errorf("%w: %s", ErrPoolExists, pool)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("%w: mirror pool needs at least two tokens", ErrTokenUnknown)
	}
	p := &mirrorPool{
		tokens:   append([]common.Address(nil), tokens...),
		reserves: make(map[common.Address]*big.Int, len(tokens)),
		feePPM:   feePPM,
	}
	for _, t := range tokens {
		if _, dup := p.reserves[t]; dup {
			return fmt.Errorf("%w: duplicate token %s", ErrTokenUnknown, t)
		}
		p.reserves[t] = new(big.Int).Set(reserveEach)
	}
	a.pools[pool] = p
	a.log.Debug("mirror pool registered", "pool", pool, "tokens", len(tokens), "feePPM", feePPM)
	return nil
}

// SetPaused flips a pool's paused flag.
func (a *MirrorAdapter) SetPaused(pool common.Address, paused bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[pool]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	p.paused = paused
	return nil
}

// Tokens implements tree.PoolAdapter.
func (a *MirrorAdapter) Tokens(ctx context.Context, pool common.Address) ([]common.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	return append([]common.Address(nil), p.tokens...), nil
}

// Quote implements tree.PoolAdapter.
func (a *MirrorAdapter) Quote(ctx context.Context, pool common.Address, from, to tree.TokenSlot, amountIn *big.Int, probePaused bool) (*big.Int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	if p.paused {
		if probePaused {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrPoolPaused, pool)
	}
	return p.amountOut(from.Address, to.Address, amountIn)
}

// Execute implements tree.PoolAdapter.
func (a *MirrorAdapter) Execute(ctx context.Context, pool common.Address, from, to tree.TokenSlot, amountIn *big.Int) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	if p.paused {
		return nil, fmt.Errorf("%w: %s", ErrPoolPaused, pool)
	}
	amountOut, err := p.amountOut(from.Address, to.Address, amountIn)
	if err != nil {
		return nil, err
	}
	if err := a.ledger.Transfer(from.Address, a.router, pool, amountIn); err != nil {
		return nil, err
	}
	if err := a.ledger.Transfer(to.Address, pool, a.router, amountOut); err != nil {
		// Unwind the input leg so a failed swap moves nothing.
		if rerr := a.ledger.Transfer(from.Address, pool, a.router, amountIn); rerr != nil {
			return nil, fmt.Errorf("unwinding failed release: %v: %w", rerr, err)
		}
		return nil, err
	}
	p.reserves[from.Address].Add(p.reserves[from.Address], amountIn)
	p.reserves[to.Address].Sub(p.reserves[to.Address], amountOut)
	return amountOut, nil
}

func (p *mirrorPool) amountOut(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if _, ok := p.reserves[tokenIn]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenUnknown, tokenIn)
	}
	rOut, ok := p.reserves[tokenOut]
	if !ok || tokenOut == tokenIn {
		return nil, fmt.Errorf("%w: %s", ErrTokenUnknown, tokenOut)
	}
	out := applyFeePPM(amountIn, p.feePPM)
	if out.Cmp(rOut) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientReserve, tokenOut)
	}
	return out, nil
}
