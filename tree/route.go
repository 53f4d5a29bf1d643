// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tree

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/luxfi/geth/common"
)

// routeKey keys the best-route cache. Amounts are quantized to their top 64
// bits; the generation pins the tree and registry state the quote was made
// against, so entries from before a topology change stop being hit. Adapter
// internal repricing does not bump the generation, which is why cached
// entries only seed the search.
type routeKey struct {
	tokenIn    common.Address
	tokenOut   common.Address
	amountIn   uint64
	generation uint64
}

// Route is a resolved best path between two tokens.
type Route struct {
	NodeFrom  int
	NodeTo    int
	AmountOut *big.Int
}

// FindBestPath quotes every node pair representing tokenIn and tokenOut and
// returns the pair with the maximum output. Paused pools quote as zero and
// are skipped rather than failing the search. The cache is advisory only:
// adapters can reprice between calls without the tree seeing it, so a cache
// hit seeds the scan with a fresh quote of the cached pair but never replaces
// the scan itself. The search runs under the configured quote timeout unless
// the caller's context already carries a deadline.
func (t *Tree) FindBestPath(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (Route, error) {
	if err := ctx.Err(); err != nil {
		return Route{}, err
	}
	if tokenIn == tokenOut {
		return Route{}, fmt.Errorf("%w: %s to itself", ErrNoRouteFound, tokenIn)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.QuoteTimeout)
		defer cancel()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	fromNodes := t.tokenNodes[tokenIn]
	toNodes := t.tokenNodes[tokenOut]
	if len(fromNodes) == 0 || len(toNodes) == 0 {
		return Route{}, fmt.Errorf("%w: %s -> %s", ErrNoRouteFound, tokenIn, tokenOut)
	}

	key := routeKey{
		tokenIn:    tokenIn,
		tokenOut:   tokenOut,
		amountIn:   quantizeAmount(amountIn),
		generation: atomic.LoadUint64(&t.generation),
	}
	best := Route{NodeFrom: -1, NodeTo: -1, AmountOut: new(big.Int)}
	if cached, ok := t.routes.Get(key); ok {
		// Re-quote at the exact amount; amounts are quantized in the key and
		// pool state may have moved under the adapter.
		hit := cached.(Route)
		_, out, err := t.calculateSwapLocked(ctx, hit.NodeFrom, hit.NodeTo, amountIn, true)
		if err == nil && out.Sign() > 0 {
			best = Route{NodeFrom: hit.NodeFrom, NodeTo: hit.NodeTo, AmountOut: out}
		}
	}
	for _, nf := range fromNodes {
		for _, nt := range toNodes {
			if int(nf) == best.NodeFrom && int(nt) == best.NodeTo {
				continue // quoted as the seed
			}
			_, out, err := t.calculateSwapLocked(ctx, int(nf), int(nt), amountIn, true)
			if err != nil {
				return Route{}, err
			}
			if out.Cmp(best.AmountOut) > 0 {
				best = Route{NodeFrom: int(nf), NodeTo: int(nt), AmountOut: out}
			}
		}
	}
	if best.AmountOut.Sign() <= 0 {
		return Route{}, fmt.Errorf("%w: %s -> %s", ErrNoRouteFound, tokenIn, tokenOut)
	}

	t.routes.Add(key, best)
	t.log.Debug("best path resolved", "tokenIn", tokenIn, "tokenOut", tokenOut, "nodeFrom", best.NodeFrom, "nodeTo", best.NodeTo, "amountOut", best.AmountOut)
	return best, nil
}

// quantizeAmount buckets an amount for cache keying: the value itself when
// it fits a word, otherwise its top 64 bits.
func quantizeAmount(amount *big.Int) uint64 {
	if amount == nil {
		return 0
	}
	bits := amount.BitLen()
	if bits <= 64 {
		return amount.Uint64()
	}
	return new(big.Int).Rsh(amount, uint(bits-64)).Uint64()
}
