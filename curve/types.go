// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package curve implements a piecewise hyperbola bonding-curve pricing engine.
// The supported price domain y/x in (MinM, MaxM) is partitioned into 13
// angular slices, each a shifted hyperbola (x + a*u)(y + b*u) = u^2 with
// relative liquidity k. The scalar u ("utility") is invariant under swaps and
// scales proportionally with LP supply under deposits and withdrawals.
package curve

import (
	"errors"
	"math/big"
)

// Slice counts. NumSlopes interior boundaries separate NumSlices slices.
const (
	NumSlices = 13
	NumSlopes = NumSlices - 1
)

// Fixed-point scale. Parameters a, b, k and all slopes are 18-decimal
// fixed-point values; balances are raw 18-decimal token amounts.
var Multiplier = big.NewInt(1e18)

// Domain constants.
var (
	// MinBalance is one micro-unit of an 18-decimal token. Reserve balances
	// below it are numerically unstable for the slice math.
	MinBalance = big.NewInt(1e12)

	// MaxBalanceAmountRatio bounds precision loss on extreme size
	// mismatches: an amount smaller than balance/1e11 is rejected.
	MaxBalanceAmountRatio = big.NewInt(1e11)

	// MinM and MaxM bound the supported price domain y/x, fixed-point.
	// MinM = 1e-8, MaxM = 1e8.
	MinM = big.NewInt(1e10)
	MaxM = new(big.Int).Mul(big.NewInt(1e8), Multiplier)

	// BaseFee is the proportional fee divisor (1/8000 = 1.25bp per side).
	BaseFee = big.NewInt(8000)

	// FixedFee is the flat fee component, in raw token units.
	FixedFee = big.NewInt(1e9)
)

// Slice is one angular region of the piecewise curve. A and B shift the
// hyperbola horizontally and vertically, K scales the region's liquidity
// relative to its neighbors. All three are fixed-point. Immutable once the
// engine is constructed.
type Slice struct {
	A *big.Int
	B *big.Int
	K *big.Int
}

// Token selects which of the two reserve coordinates an amount refers to.
type Token uint8

const (
	TokenX Token = iota
	TokenY
)

// Errors
var (
	// ErrBoundary - a point or slope falls outside the supported domain, or
	// a slice search walked past the outermost slice.
	ErrBoundary = errors.New("point outside curve domain")

	// ErrBalance - a reserve balance is non-positive or below MinBalance.
	ErrBalance = errors.New("balance below minimum")

	// ErrAmount - a requested amount is disproportionate to the pool's size
	// or too small relative to the fixed fee.
	ErrAmount = errors.New("amount disproportionate to pool")

	// ErrCurve - internal slice math produced a negative or otherwise
	// invalid value. Signals a configuration or precision bug, not bad
	// user input.
	ErrCurve = errors.New("curve math diverged")

	// ErrSliceConfig - engine construction rejected the slice parameters.
	ErrSliceConfig = errors.New("invalid slice configuration")
)
