// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

// MemoryLedger is an in-memory TokenLedger. It backs the package tests and
// any host that tracks balances itself rather than delegating to token
// contracts.
type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int // token -> owner -> balance
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// SetBalance overwrites an owner's balance of a token.
func (l *MemoryLedger) SetBalance(token, owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owners, ok := l.balances[token]
	if !ok {
		owners = make(map[common.Address]*big.Int)
		l.balances[token] = owners
	}
	owners[owner] = new(big.Int).Set(amount)
}

// BalanceOf returns an owner's balance of a token, zero if untracked.
func (l *MemoryLedger) BalanceOf(token, owner common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[token][owner]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Transfer moves amount of token between owners, failing hard when the
// sender's balance does not cover it.
func (l *MemoryLedger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: transfer of %s", ErrZeroAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	owners, ok := l.balances[token]
	if !ok {
		return fmt.Errorf("%w: token %s, owner %s", ErrInsufficientBalance, token, from)
	}
	bal, ok := owners[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s, owner %s", ErrInsufficientBalance, token, from)
	}
	bal.Sub(bal, amount)
	dst, ok := owners[to]
	if !ok {
		dst = new(big.Int)
		owners[to] = dst
	}
	dst.Add(dst, amount)
	return nil
}
