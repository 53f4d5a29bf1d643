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

	"github.com/luxfi/liquiditytree/curve"
	"github.com/luxfi/liquiditytree/tree"
)

// curvePool is one two-token pool priced by a bonding-curve engine. The pool
// address itself is the custody account for its reserves.
type curvePool struct {
	engine *curve.Engine
	tokens [2]common.Address
	x, y   *big.Int
	supply *big.Int
	shares map[common.Address]*big.Int
	paused bool
}

// CurveAdapter serves a family of bonding-curve pools. It implements
// tree.PoolAdapter and additionally exposes the LP deposit/withdraw surface.
// The router account holds in-transit tokens for the duration of one call.
type CurveAdapter struct {
	mu     sync.RWMutex
	log    log.Logger
	ledger TokenLedger
	router common.Address
	pools  map[common.Address]*curvePool
}

var _ tree.PoolAdapter = (*CurveAdapter)(nil)

// NewCurveAdapter creates an adapter moving tokens between the router
// account and each pool's own custody account through the ledger.
func NewCurveAdapter(ledger TokenLedger, router common.Address, logger log.Logger) *CurveAdapter {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &CurveAdapter{
		log:    logger,
		ledger: ledger,
		router: router,
		pools:  make(map[common.Address]*curvePool),
	}
}

// Register adds a pool with its engine, token pair, seed reserves and
// initial LP supply credited to the seeder.
func (a *CurveAdapter) Register(pool common.Address, engine *curve.Engine, tokenX, tokenY common.Address, x, y, supply *big.Int, seeder common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pools[pool]; ok {
		return fmt.Errorf("%w: %s", ErrPoolExists, pool)
	}
	p := &curvePool{
		engine: engine,
		tokens: [2]common.Address{tokenX, tokenY},
		x:      new(big.Int).Set(x),
		y:      new(big.Int).Set(y),
		supply: new(big.Int).Set(supply),
		shares: map[common.Address]*big.Int{seeder: new(big.Int).Set(supply)},
	}
	a.pools[pool] = p
	a.log.Debug("curve pool registered", "pool", pool, "tokenX", tokenX, "tokenY", tokenY)
	return nil
}

// SetPaused flips a pool's paused flag.
func (a *CurveAdapter) SetPaused(pool common.Address, paused bool) error {
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
func (a *CurveAdapter) Tokens(ctx context.Context, pool common.Address) ([]common.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	return []common.Address{p.tokens[0], p.tokens[1]}, nil
}

// Quote implements tree.PoolAdapter. Pure: prices against the current
// reserves without touching them.
func (a *CurveAdapter) Quote(ctx context.Context, pool common.Address, from, to tree.TokenSlot, amountIn *big.Int, probePaused bool) (*big.Int, error) {
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
	tokenIn, err := p.side(from.Address)
	if err != nil {
		return nil, err
	}
	if _, err := p.side(to.Address); err != nil {
		return nil, err
	}
	return p.engine.SwapGivenInput(p.x, p.y, amountIn, tokenIn)
}

// Execute implements tree.PoolAdapter. Tokens move router -> pool and
// pool -> router; a failed ledger transfer fails the whole hop with
// reserves untouched.
func (a *CurveAdapter) Execute(ctx context.Context, pool common.Address, from, to tree.TokenSlot, amountIn *big.Int) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	if p.paused {
		return nil, fmt.Errorf("%w: %s", ErrPoolPaused, pool)
	}
	tokenIn, err := p.side(from.Address)
	if err != nil {
		return nil, err
	}
	if _, err := p.side(to.Address); err != nil {
		return nil, err
	}
	amountOut, err := p.engine.SwapGivenInput(p.x, p.y, amountIn, tokenIn)
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
	p.apply(tokenIn, amountIn, amountOut)
	return amountOut, nil
}

// =========================================================================
// LP surface
// =========================================================================

// Deposit adds amountIn of token and mints LP shares to the depositor.
func (a *CurveAdapter) Deposit(ctx context.Context, pool, token common.Address, amountIn *big.Int, depositor common.Address) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	side, err := p.side(token)
	if err != nil {
		return nil, err
	}
	minted, err := p.engine.DepositGivenInput(p.x, p.y, p.supply, amountIn, side)
	if err != nil {
		return nil, err
	}
	if err := a.ledger.Transfer(token, depositor, pool, amountIn); err != nil {
		return nil, err
	}
	p.credit(depositor, minted)
	p.grow(side, amountIn)
	return minted, nil
}

// DepositForShares computes and pulls the token amount needed to mint
// exactly the requested LP shares.
func (a *CurveAdapter) DepositForShares(ctx context.Context, pool, token common.Address, minted *big.Int, depositor common.Address) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	side, err := p.side(token)
	if err != nil {
		return nil, err
	}
	amountIn, err := p.engine.DepositGivenOutput(p.x, p.y, p.supply, minted, side)
	if err != nil {
		return nil, err
	}
	if err := a.ledger.Transfer(token, depositor, pool, amountIn); err != nil {
		return nil, err
	}
	p.credit(depositor, minted)
	p.grow(side, amountIn)
	return amountIn, nil
}

// Withdraw burns LP shares and releases the corresponding token amount.
func (a *CurveAdapter) Withdraw(ctx context.Context, pool, token common.Address, burned *big.Int, owner common.Address) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	side, err := p.side(token)
	if err != nil {
		return nil, err
	}
	amountOut, err := p.engine.WithdrawGivenInput(p.x, p.y, p.supply, burned, side)
	if err != nil {
		return nil, err
	}
	if err := p.canDebit(owner, burned); err != nil {
		return nil, err
	}
	// Release first: a failed transfer must leave shares and supply intact.
	if err := a.ledger.Transfer(token, pool, owner, amountOut); err != nil {
		return nil, err
	}
	p.debit(owner, burned)
	p.grow(side, new(big.Int).Neg(amountOut))
	return amountOut, nil
}

// WithdrawExact burns whatever LP shares are needed to release exactly
// amountOut of token.
func (a *CurveAdapter) WithdrawExact(ctx context.Context, pool, token common.Address, amountOut *big.Int, owner common.Address) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	side, err := p.side(token)
	if err != nil {
		return nil, err
	}
	burned, err := p.engine.WithdrawGivenOutput(p.x, p.y, p.supply, amountOut, side)
	if err != nil {
		return nil, err
	}
	if err := p.canDebit(owner, burned); err != nil {
		return nil, err
	}
	// Release first: a failed transfer must leave shares and supply intact.
	if err := a.ledger.Transfer(token, pool, owner, amountOut); err != nil {
		return nil, err
	}
	p.debit(owner, burned)
	p.grow(side, new(big.Int).Neg(amountOut))
	return burned, nil
}

// Reserves returns a pool's current reserves and LP supply.
func (a *CurveAdapter) Reserves(pool common.Address) (x, y, supply *big.Int, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[pool]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrPoolUnknown, pool)
	}
	return new(big.Int).Set(p.x), new(big.Int).Set(p.y), new(big.Int).Set(p.supply), nil
}

// =========================================================================
// curvePool internals
// =========================================================================

func (p *curvePool) side(token common.Address) (curve.Token, error) {
	switch token {
	case p.tokens[0]:
		return curve.TokenX, nil
	case p.tokens[1]:
		return curve.TokenY, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrTokenUnknown, token)
	}
}

// apply moves the reserves after a swap of amountIn for amountOut.
func (p *curvePool) apply(tokenIn curve.Token, amountIn, amountOut *big.Int) {
	if tokenIn == curve.TokenX {
		p.x.Add(p.x, amountIn)
		p.y.Sub(p.y, amountOut)
	} else {
		p.y.Add(p.y, amountIn)
		p.x.Sub(p.x, amountOut)
	}
}

// grow shifts one reserve coordinate and is used by the LP surface; the
// supply change is tracked by credit/debit.
func (p *curvePool) grow(side curve.Token, delta *big.Int) {
	if side == curve.TokenX {
		p.x.Add(p.x, delta)
	} else {
		p.y.Add(p.y, delta)
	}
}

func (p *curvePool) credit(owner common.Address, minted *big.Int) {
	bal, ok := p.shares[owner]
	if !ok {
		bal = new(big.Int)
		p.shares[owner] = bal
	}
	bal.Add(bal, minted)
	p.supply.Add(p.supply, minted)
}

func (p *curvePool) canDebit(owner common.Address, burned *big.Int) error {
	bal, ok := p.shares[owner]
	if !ok || bal.Cmp(burned) < 0 {
		return fmt.Errorf("%w: LP shares of %s", ErrInsufficientBalance, owner)
	}
	return nil
}

// debit assumes canDebit passed under the same lock.
func (p *curvePool) debit(owner common.Address, burned *big.Int) {
	bal := p.shares[owner]
	bal.Sub(bal, burned)
	p.supply.Sub(p.supply, burned)
}
