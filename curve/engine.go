// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package curve

import (
	"fmt"
	"math/big"
)

// Engine prices swaps, deposits and withdrawals against an immutable set of
// curve slices. It carries no balances: every operation is a pure function of
// the reserves passed in and the engine's slice parameters.
type Engine struct {
	slices [NumSlices]Slice
	slopes [NumSlopes]*big.Int
}

// NewEngine validates the slice parameters and boundary slopes. Slopes must
// be strictly increasing and lie inside (MinM, MaxM); slice i covers
// [slopes[i-1], slopes[i]) with MinM and MaxM capping the outermost slices.
func NewEngine(slices [NumSlices]Slice, slopes [NumSlopes]*big.Int) (*Engine, error) {
	for i, s := range slices {
		if s.A == nil || s.B == nil || s.K == nil {
			return nil, fmt.Errorf("%w: slice %d has nil parameter", ErrSliceConfig, i)
		}
		if s.K.Sign() <= 0 {
			return nil, fmt.Errorf("%w: slice %d has non-positive k", ErrSliceConfig, i)
		}
	}
	prev := MinM
	for i, m := range slopes {
		if m == nil {
			return nil, fmt.Errorf("%w: slope %d is nil", ErrSliceConfig, i)
		}
		if m.Cmp(prev) <= 0 {
			return nil, fmt.Errorf("%w: slope %d not strictly increasing", ErrSliceConfig, i)
		}
		prev = m
	}
	if prev.Cmp(MaxM) >= 0 {
		return nil, fmt.Errorf("%w: outermost slope exceeds MaxM", ErrSliceConfig)
	}
	e := &Engine{slices: slices}
	copy(e.slopes[:], slopes[:])
	return e, nil
}

// =========================================================================
// Swaps
// =========================================================================

// SwapGivenInput returns the output amount released for amountIn of tokenIn.
// The proportional plus fixed fee is applied to the input before pricing and
// to the raw output after, both rounded in the pool's favor.
func (e *Engine) SwapGivenInput(x, y, amountIn *big.Int, tokenIn Token) (*big.Int, error) {
	if err := e.checkPoint(x, y); err != nil {
		return nil, err
	}
	if err := checkAmountRatio(coord(x, y, tokenIn), amountIn); err != nil {
		return nil, err
	}
	inFee, err := applyFeeDown(amountIn)
	if err != nil {
		return nil, err
	}

	var rawOut *big.Int
	if tokenIn == TokenX {
		xf := new(big.Int).Add(x, inFee)
		yf, err := e.solvePoint(x, y, xf, TokenX)
		if err != nil {
			return nil, err
		}
		rawOut = new(big.Int).Sub(y, yf)
	} else {
		yf := new(big.Int).Add(y, inFee)
		xf, err := e.solvePoint(x, y, yf, TokenY)
		if err != nil {
			return nil, err
		}
		rawOut = new(big.Int).Sub(x, xf)
	}
	if rawOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive raw output %s", ErrCurve, rawOut)
	}
	amountOut, err := applyFeeDown(rawOut)
	if err != nil {
		return nil, err
	}

	if err := e.checkFinal(x, y, amountIn, amountOut, tokenIn); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// SwapGivenOutput returns the input amount required to release amountOut of
// tokenOut. Fees are applied upward: the pool releases amountOut plus fee
// internally and the computed input is padded by the same fee.
func (e *Engine) SwapGivenOutput(x, y, amountOut *big.Int, tokenOut Token) (*big.Int, error) {
	if err := e.checkPoint(x, y); err != nil {
		return nil, err
	}
	if err := checkAmountRatio(coord(x, y, tokenOut), amountOut); err != nil {
		return nil, err
	}
	outFee, err := applyFeeUp(amountOut)
	if err != nil {
		return nil, err
	}

	var rawIn *big.Int
	if tokenOut == TokenY {
		yf := new(big.Int).Sub(y, outFee)
		if yf.Cmp(MinBalance) < 0 {
			return nil, fmt.Errorf("%w: y balance %s after output", ErrBalance, yf)
		}
		xf, err := e.solvePoint(x, y, yf, TokenY)
		if err != nil {
			return nil, err
		}
		rawIn = new(big.Int).Sub(xf, x)
	} else {
		xf := new(big.Int).Sub(x, outFee)
		if xf.Cmp(MinBalance) < 0 {
			return nil, fmt.Errorf("%w: x balance %s after output", ErrBalance, xf)
		}
		yf, err := e.solvePoint(x, y, xf, TokenX)
		if err != nil {
			return nil, err
		}
		rawIn = new(big.Int).Sub(yf, y)
	}
	if rawIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive raw input %s", ErrCurve, rawIn)
	}
	amountIn, err := applyFeeUp(rawIn)
	if err != nil {
		return nil, err
	}

	inToken := otherToken(tokenOut)
	if err := e.checkFinal(x, y, amountIn, amountOut, inToken); err != nil {
		return nil, err
	}
	return amountIn, nil
}

// =========================================================================
// Deposits
// =========================================================================

// DepositGivenInput returns the LP amount minted for depositing amountIn of
// tokenIn against the current reserves and total LP supply.
func (e *Engine) DepositGivenInput(x, y, totalSupply, amountIn *big.Int, tokenIn Token) (*big.Int, error) {
	if err := e.checkPoint(x, y); err != nil {
		return nil, err
	}
	if totalSupply == nil || totalSupply.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive total supply", ErrAmount)
	}
	if err := checkAmountRatio(coord(x, y, tokenIn), amountIn); err != nil {
		return nil, err
	}
	inFee, err := applyFeeDown(amountIn)
	if err != nil {
		return nil, err
	}

	ui, err := e.utilityAt(x, y)
	if err != nil {
		return nil, err
	}
	xf, yf := shift(x, y, inFee, tokenIn)
	uf, err := e.utilityAt(xf, yf)
	if err != nil {
		return nil, err
	}
	if uf.Cmp(ui) <= 0 {
		return nil, fmt.Errorf("%w: utility did not grow under deposit", ErrCurve)
	}

	// minted = si * (uf - ui) / ui, full precision
	minted := mulDiv(totalSupply, new(big.Int).Sub(uf, ui), ui)
	if minted.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero mint", ErrCurve)
	}
	xf, yf = shift(x, y, amountIn, tokenIn)
	if err := e.checkPoint(xf, yf); err != nil {
		return nil, err
	}
	return minted, nil
}

// DepositGivenOutput returns the amount of tokenIn required to mint exactly
// the requested LP amount.
func (e *Engine) DepositGivenOutput(x, y, totalSupply, minted *big.Int, tokenIn Token) (*big.Int, error) {
	if err := e.checkPoint(x, y); err != nil {
		return nil, err
	}
	if totalSupply == nil || totalSupply.Sign() <= 0 || minted == nil || minted.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive supply or mint", ErrAmount)
	}

	ui, err := e.utilityAt(x, y)
	if err != nil {
		return nil, err
	}
	// uf = ui * (si + minted) / si
	uf := mulDiv(ui, new(big.Int).Add(totalSupply, minted), totalSupply)

	unknown, err := e.solveCoordGivenUtility(x, y, uf, otherToken(tokenIn))
	if err != nil {
		return nil, err
	}
	rawIn := new(big.Int).Sub(unknown, coord(x, y, tokenIn))
	if rawIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive raw input %s", ErrCurve, rawIn)
	}
	amountIn, err := applyFeeUp(rawIn)
	if err != nil {
		return nil, err
	}
	xf, yf := shift(x, y, amountIn, tokenIn)
	if err := e.checkPoint(xf, yf); err != nil {
		return nil, err
	}
	return amountIn, nil
}

// =========================================================================
// Withdrawals
// =========================================================================

// WithdrawGivenOutput returns the LP amount burned to release amountOut of
// tokenOut.
func (e *Engine) WithdrawGivenOutput(x, y, totalSupply, amountOut *big.Int, tokenOut Token) (*big.Int, error) {
	if err := e.checkPoint(x, y); err != nil {
		return nil, err
	}
	if totalSupply == nil || totalSupply.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive total supply", ErrAmount)
	}
	if err := checkAmountRatio(coord(x, y, tokenOut), amountOut); err != nil {
		return nil, err
	}
	outFee, err := applyFeeUp(amountOut)
	if err != nil {
		return nil, err
	}

	ui, err := e.utilityAt(x, y)
	if err != nil {
		return nil, err
	}
	xf, yf := shift(x, y, new(big.Int).Neg(outFee), tokenOut)
	if coord(xf, yf, tokenOut).Cmp(MinBalance) < 0 {
		return nil, fmt.Errorf("%w: balance after withdrawal", ErrBalance)
	}
	uf, err := e.utilityAt(xf, yf)
	if err != nil {
		return nil, err
	}
	if uf.Cmp(ui) >= 0 {
		return nil, fmt.Errorf("%w: utility did not shrink under withdrawal", ErrCurve)
	}

	// burned = si - si * uf / ui, rounding in the pool's favor
	burned := new(big.Int).Sub(totalSupply, mulDiv(totalSupply, uf, ui))
	if burned.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero burn", ErrCurve)
	}
	if burned.Cmp(totalSupply) >= 0 {
		return nil, fmt.Errorf("%w: burn exceeds supply", ErrAmount)
	}
	xf, yf = shift(x, y, new(big.Int).Neg(amountOut), tokenOut)
	if err := e.checkPoint(xf, yf); err != nil {
		return nil, err
	}
	return burned, nil
}

// WithdrawGivenInput returns the amount of tokenOut released for burning the
// given LP amount.
func (e *Engine) WithdrawGivenInput(x, y, totalSupply, burned *big.Int, tokenOut Token) (*big.Int, error) {
	if err := e.checkPoint(x, y); err != nil {
		return nil, err
	}
	if totalSupply == nil || totalSupply.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive total supply", ErrAmount)
	}
	if burned == nil || burned.Sign() <= 0 || burned.Cmp(totalSupply) >= 0 {
		return nil, fmt.Errorf("%w: burn amount out of range", ErrAmount)
	}

	ui, err := e.utilityAt(x, y)
	if err != nil {
		return nil, err
	}
	// uf = ui * (si - burned) / si
	uf := mulDiv(ui, new(big.Int).Sub(totalSupply, burned), totalSupply)
	if uf.Sign() <= 0 {
		return nil, fmt.Errorf("%w: utility underflow", ErrCurve)
	}

	unknown, err := e.solveCoordGivenUtility(x, y, uf, otherToken(tokenOut))
	if err != nil {
		return nil, err
	}
	rawOut := new(big.Int).Sub(coord(x, y, tokenOut), unknown)
	if rawOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive raw output %s", ErrCurve, rawOut)
	}
	amountOut, err := applyFeeDown(rawOut)
	if err != nil {
		return nil, err
	}
	xf, yf := shift(x, y, new(big.Int).Neg(amountOut), tokenOut)
	if err := e.checkPoint(xf, yf); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// =========================================================================
// Slice location and traversal
// =========================================================================

// findSlice returns the index of the slice whose slope bounds contain m.
func (e *Engine) findSlice(m *big.Int) (int, error) {
	if m.Cmp(MinM) < 0 || m.Cmp(MaxM) >= 0 {
		return 0, fmt.Errorf("%w: slope %s", ErrBoundary, m)
	}
	for i := 0; i < NumSlopes; i++ {
		if m.Cmp(e.slopes[i]) < 0 {
			return i, nil
		}
	}
	return NumSlices - 1, nil
}

// rightSlope and leftSlope bound slice i: right <= m < left.
func (e *Engine) rightSlope(i int) *big.Int {
	if i == 0 {
		return MinM
	}
	return e.slopes[i-1]
}

func (e *Engine) leftSlope(i int) *big.Int {
	if i == NumSlices-1 {
		return MaxM
	}
	return e.slopes[i]
}

// utilityAt locates the slice containing (x, y) and computes its utility.
func (e *Engine) utilityAt(x, y *big.Int) (*big.Int, error) {
	i, err := e.findSlice(slope(x, y))
	if err != nil {
		return nil, err
	}
	return utility(x, y, &e.slices[i])
}

// solvePoint recovers the unknown coordinate of the post-trade point whose
// fixed coordinate is newFixed, starting from (x0, y0). When the recovered
// point lands outside the active slice the search steps into the adjacent
// slice and recomputes utility there, the same way a concentrated-liquidity
// swap crosses ticks. The walk is bounded by the slice count.
func (e *Engine) solvePoint(x0, y0, newFixed *big.Int, fixed Token) (*big.Int, error) {
	i, err := e.findSlice(slope(x0, y0))
	if err != nil {
		return nil, err
	}
	for iter := 0; iter < NumSlices; iter++ {
		s := &e.slices[i]
		u, err := utility(x0, y0, s)
		if err != nil {
			return nil, err
		}
		var xf, yf *big.Int
		if fixed == TokenX {
			xf = newFixed
			yf, err = pointGivenX(xf, u, s)
		} else {
			yf = newFixed
			xf, err = pointGivenY(yf, u, s)
		}
		if err != nil {
			return nil, err
		}
		mf := slope(xf, yf)
		if mf.Cmp(MinM) < 0 || mf.Cmp(MaxM) >= 0 {
			return nil, fmt.Errorf("%w: post-trade slope %s", ErrBoundary, mf)
		}
		switch {
		case mf.Cmp(e.rightSlope(i)) < 0:
			i--
		case mf.Cmp(e.leftSlope(i)) >= 0:
			i++
		default:
			if fixed == TokenX {
				return yf, nil
			}
			return xf, nil
		}
		if i < 0 || i >= NumSlices {
			return nil, fmt.Errorf("%w: walked past outermost slice", ErrBoundary)
		}
	}
	return nil, fmt.Errorf("%w: slice walk did not settle", ErrBoundary)
}

// solveCoordGivenUtility recovers the coordinate paired with the fixed one so
// that the point's utility equals u. Same bounded slice walk as solvePoint,
// but the utility is prescribed rather than recomputed.
func (e *Engine) solveCoordGivenUtility(x0, y0, u *big.Int, fixed Token) (*big.Int, error) {
	i, err := e.findSlice(slope(x0, y0))
	if err != nil {
		return nil, err
	}
	fixedVal := coord(x0, y0, fixed)
	for iter := 0; iter < NumSlices; iter++ {
		s := &e.slices[i]
		var xf, yf *big.Int
		if fixed == TokenX {
			xf = fixedVal
			yf, err = pointGivenX(xf, u, s)
		} else {
			yf = fixedVal
			xf, err = pointGivenY(yf, u, s)
		}
		if err != nil {
			return nil, err
		}
		mf := slope(xf, yf)
		if mf.Cmp(MinM) < 0 || mf.Cmp(MaxM) >= 0 {
			return nil, fmt.Errorf("%w: post-trade slope %s", ErrBoundary, mf)
		}
		switch {
		case mf.Cmp(e.rightSlope(i)) < 0:
			i--
		case mf.Cmp(e.leftSlope(i)) >= 0:
			i++
		default:
			if fixed == TokenX {
				return yf, nil
			}
			return xf, nil
		}
		if i < 0 || i >= NumSlices {
			return nil, fmt.Errorf("%w: walked past outermost slice", ErrBoundary)
		}
	}
	return nil, fmt.Errorf("%w: slice walk did not settle", ErrBoundary)
}

// =========================================================================
// Validation helpers
// =========================================================================

// checkPoint verifies a reserve point sits inside the supported domain.
func (e *Engine) checkPoint(x, y *big.Int) error {
	if x == nil || y == nil || x.Cmp(MinBalance) < 0 || y.Cmp(MinBalance) < 0 {
		return fmt.Errorf("%w: reserves (%s, %s)", ErrBalance, x, y)
	}
	if _, err := e.findSlice(slope(x, y)); err != nil {
		return err
	}
	return nil
}

// checkFinal verifies the post-trade reserve point for a swap that moved
// amountIn of tokenIn into the pool and amountOut of the other token out.
func (e *Engine) checkFinal(x, y, amountIn, amountOut *big.Int, tokenIn Token) error {
	var xf, yf *big.Int
	if tokenIn == TokenX {
		xf = new(big.Int).Add(x, amountIn)
		yf = new(big.Int).Sub(y, amountOut)
	} else {
		xf = new(big.Int).Sub(x, amountOut)
		yf = new(big.Int).Add(y, amountIn)
	}
	return e.checkPoint(xf, yf)
}

func checkAmountRatio(balance, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrAmount)
	}
	ratio := new(big.Int).Div(balance, amount)
	if ratio.Cmp(MaxBalanceAmountRatio) >= 0 {
		return fmt.Errorf("%w: amount %s vs balance %s", ErrAmount, amount, balance)
	}
	return nil
}

func coord(x, y *big.Int, t Token) *big.Int {
	if t == TokenX {
		return x
	}
	return y
}

func otherToken(t Token) Token {
	if t == TokenX {
		return TokenY
	}
	return TokenX
}

// shift moves delta on the chosen coordinate, leaving the other untouched.
func shift(x, y, delta *big.Int, t Token) (*big.Int, *big.Int) {
	if t == TokenX {
		return new(big.Int).Add(x, delta), y
	}
	return x, new(big.Int).Add(y, delta)
}
