// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package curve

import (
	"fmt"
	"math/big"
)

// slope returns y/x in fixed point.
func slope(x, y *big.Int) *big.Int {
	m := new(big.Int).Mul(y, Multiplier)
	return m.Div(m, x)
}

// mulDiv computes a*b/c at full precision. big.Int never overflows an
// intermediate product, so this is the 512-bit mul-then-div of the EVM
// libraries expressed directly.
func mulDiv(a, b, c *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	return r.Quo(r, c)
}

// utility solves the positive root of
//
//	(a*b - 1)*u^2 + (a*y + b*x)*u + x*y = 0
//
// which is the liquidity scalar of the shifted hyperbola
// (x + a*u)(y + b*u) = u^2, then scales it by the slice's relative
// liquidity k. When both shift parameters are negative the smaller
// quadratic root is the economically valid branch; otherwise the larger.
func utility(x, y *big.Int, s *Slice) (*big.Int, error) {
	aQ := new(big.Int).Mul(s.A, s.B)
	aQ.Quo(aQ, Multiplier)
	aQ.Sub(aQ, Multiplier)
	if aQ.Sign() == 0 {
		return nil, fmt.Errorf("%w: degenerate quadratic (a*b = 1)", ErrCurve)
	}

	bQ := new(big.Int).Mul(s.A, y)
	bQ.Add(bQ, new(big.Int).Mul(s.B, x))
	bQ.Quo(bQ, Multiplier)

	cQ := new(big.Int).Mul(x, y)

	// disc = bQ^2 - 4*aQ*cQ, with aQ descaled from fixed point
	disc := new(big.Int).Mul(bQ, bQ)
	four := new(big.Int).Mul(big.NewInt(4), aQ)
	four.Mul(four, cQ)
	four.Quo(four, Multiplier)
	disc.Sub(disc, four)
	if disc.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative discriminant", ErrCurve)
	}
	root := new(big.Int).Sqrt(disc)

	denom := new(big.Int).Mul(big.NewInt(2), aQ)
	negB := new(big.Int).Neg(bQ)
	r0 := mulDiv(new(big.Int).Add(negB, root), Multiplier, denom)
	r1 := mulDiv(new(big.Int).Sub(negB, root), Multiplier, denom)

	var u *big.Int
	if s.A.Sign() < 0 && s.B.Sign() < 0 {
		if r0.Cmp(r1) < 0 {
			u = r0
		} else {
			u = r1
		}
	} else {
		if r0.Cmp(r1) > 0 {
			u = r0
		} else {
			u = r1
		}
	}
	if u.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive utility %s", ErrCurve, u)
	}
	return mulDiv(u, s.K, Multiplier), nil
}

// pointGivenX recovers y on the slice's curve for a fixed x and utility:
//
//	y = u^2 / (x + a*u) - b*u
func pointGivenX(x, uTotal *big.Int, s *Slice) (*big.Int, error) {
	u := mulDiv(uTotal, Multiplier, s.K)
	au := mulDiv(s.A, u, Multiplier)
	bu := mulDiv(s.B, u, Multiplier)

	denom := new(big.Int).Add(x, au)
	if denom.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive hyperbola denominator", ErrCurve)
	}
	y := mulDiv(u, u, denom)
	y.Sub(y, bu)
	if y.Sign() < 0 {
		return nil, fmt.Errorf("%w: recovered negative y %s", ErrCurve, y)
	}
	return y, nil
}

// pointGivenY is the x-symmetric form of pointGivenX.
func pointGivenY(y, uTotal *big.Int, s *Slice) (*big.Int, error) {
	u := mulDiv(uTotal, Multiplier, s.K)
	au := mulDiv(s.A, u, Multiplier)
	bu := mulDiv(s.B, u, Multiplier)

	denom := new(big.Int).Add(y, bu)
	if denom.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive hyperbola denominator", ErrCurve)
	}
	x := mulDiv(u, u, denom)
	x.Sub(x, au)
	if x.Sign() < 0 {
		return nil, fmt.Errorf("%w: recovered negative x %s", ErrCurve, x)
	}
	return x, nil
}

// =========================================================================
// Fees
// =========================================================================

// minFeeAmount is twice the fixed fee; amounts at or below it cannot absorb
// the fee on both legs of an operation.
var minFeeAmount = new(big.Int).Mul(big.NewInt(2), FixedFee)

// applyFeeDown reduces amount by the proportional plus fixed fee, rounding
// the result down so the remainder stays with the pool.
func applyFeeDown(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Cmp(minFeeAmount) <= 0 {
		return nil, fmt.Errorf("%w: amount %s below fee floor", ErrAmount, amount)
	}
	res := new(big.Int).Div(amount, BaseFee)
	res.Sub(amount, res)
	res.Sub(res, FixedFee)
	if res.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount consumed by fee", ErrAmount)
	}
	return res, nil
}

// applyFeeUp increases amount by the proportional plus fixed fee, rounding
// the proportional component up so the excess stays with the pool.
func applyFeeUp(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Cmp(minFeeAmount) <= 0 {
		return nil, fmt.Errorf("%w: amount %s below fee floor", ErrAmount, amount)
	}
	prop := new(big.Int).Add(amount, new(big.Int).Sub(BaseFee, big.NewInt(1)))
	prop.Div(prop, BaseFee)
	res := new(big.Int).Add(amount, prop)
	res.Add(res, FixedFee)
	return res, nil
}
