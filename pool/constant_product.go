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

// cpPool is a two-token x*y=k pool with a parts-per-million fee taken
// from the input side.
type cpPool struct {
	tokens   [2]common.Address
	reserves [2]*big.Int
	feePPM   uint32
	paused   bool
}

// ConstantProductAdapter serves classic product-invariant pools. It
// implements tree.PoolAdapter with the same custody model as
// CurveAdapter: the pool address holds reserves, the router address
// holds in-transit amounts.
type ConstantProductAdapter struct {
	mu     sync.RWMutex
	log    log.Logger
	ledger TokenLedger
	router common.Address
	pools  map[common.Address]*cpPool
}

var _ tree.PoolAdapter = (*ConstantProductAdapter)(nil)

func NewConstantProductAdapter(ledger TokenLedger, router common.Address, logger log.Logger) *ConstantProductAdapter {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &ConstantProductAdapter{
		log:    logger,
		ledger: ledger,
		router: router,
		pools:  make(map[common.Address]*cpPool),
	}
}

// Register adds a pool with seed reserves and a fee in parts per million.
func (a *ConstantProductAdapter) Register(pool, token0, token1 common.Address, reserve0, reserve1 *big.Int, feePPM uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pools[pool]; ok {
		return fmt.Errorf("%w: %s", ErrPoolExists, pool)
	}
	if reserve0.Sign() <= 0 || reserve1.Sign() <= 0 {
		return fmt.Errorf("%w: seed reserves must be positive", ErrInsufficientReserve)
	}
	a.pools[pool] = &cpPool{
		tokens:   [2]common.Address{token0, token1},
		reserves: [2]*big.Int{new(big.Int).Set(reserve0), new(big.Int).Set(reserve1)},
		feePPM:   feePPM,
	}
	a.log.Debug("constant product pool registered", "pool", pool, "token0", token0, "token1", token1, "feePPM", feePPM)
	return nil
}

// SetPaused flips a pool's paused flag.
func (a *ConstantProductAdapter) SetPaused(pool common.Address, paused bool) error {
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
func (a *ConstantProductAdapter) Tokens(ctx context.Context, pool common.Address) ([]common.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	return []common.Address{p.tokens[0], p.tokens[1]}, nil
}

// Quote implements tree.PoolAdapter.
func (a *ConstantProductAdapter) Quote(ctx context.Context, pool common.Address, from, to tree.TokenSlot, amountIn *big.Int, probePaused bool) (*big.Int, error) {
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
func (a *ConstantProductAdapter) Execute(ctx context.Context, pool common.Address, from, to tree.TokenSlot, amountIn *big.Int) (*big.Int, error) {
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
	i, o := p.sides(from.Address)
	p.reserves[i].Add(p.reserves[i], amountIn)
	p.reserves[o].Sub(p.reserves[o], amountOut)
	return amountOut, nil
}

func (p *cpPool) sides(tokenIn common.Address) (in, out int) {
	if tokenIn == p.tokens[0] {
		return 0, 1
	}
	return 1, 0
}

// amountOut prices amountIn against the reserves after shaving the fee
// off the input.
func (p *cpPool) amountOut(tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if tokenIn != p.tokens[0] && tokenIn != p.tokens[1] {
		return nil, fmt.Errorf("%w: %s", ErrTokenUnknown, tokenIn)
	}
	if tokenOut != p.tokens[0] && tokenOut != p.tokens[1] || tokenOut == tokenIn {
		return nil, fmt.Errorf("%w: %s", ErrTokenUnknown, tokenOut)
	}
	i, o := p.sides(tokenIn)
	net := applyFeePPM(amountIn, p.feePPM)
	// out = reserveOut * net / (reserveIn + net)
	num := new(big.Int).Mul(p.reserves[o], net)
	den := new(big.Int).Add(p.reserves[i], net)
	out := num.Quo(num, den)
	if out.Cmp(p.reserves[o]) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientReserve, tokenOut)
	}
	return out, nil
}
