// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool ships PoolAdapter implementations for the token tree: a
// two-token pool priced by the piecewise bonding-curve engine, a classic
// constant-product pool, and an N-token constant-sum mirror pool. Adapters
// serve families of pools keyed by address and move tokens through an
// external TokenLedger.
package pool

import (
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
)

// Errors
var (
	ErrPoolUnknown         = errors.New("pool not served by this adapter")
	ErrPoolExists          = errors.New("pool already registered")
	ErrPoolPaused          = errors.New("pool is paused")
	ErrTokenUnknown        = errors.New("token not in pool")
	ErrInsufficientReserve = errors.New("insufficient pool reserve")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("zero amount")
)

// feeDenom is the parts-per-million fee denominator shared by the
// constant-product and mirror pools.
var feeDenom = big.NewInt(1_000_000)

// TokenLedger is the external custody surface. Transfers are hard failures:
// an unsuccessful token movement fails the enclosing operation, never
// silently no-ops.
type TokenLedger interface {
	BalanceOf(token, owner common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
}

// applyFeePPM returns amount reduced by fee parts-per-million.
func applyFeePPM(amount *big.Int, feePPM uint32) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(1_000_000-feePPM)))
	return out.Div(out, feeDenom)
}
