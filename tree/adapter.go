// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tree

import (
	"context"
	"math/big"

	"github.com/luxfi/geth/common"
)

// TokenSlot addresses one token within a pool: its position in the pool's
// token list plus its address. Adapters that serve families of pools use the
// index, generic callers the address.
type TokenSlot struct {
	Index   uint8
	Address common.Address
}

// PoolAdapter is the capability a pool (or family of pools) implements to be
// attachable to the tree. Implementations must treat Quote as read-only.
type PoolAdapter interface {
	// Tokens returns the pool's ordered token list. Fails if the pool is
	// not served by this adapter.
	Tokens(ctx context.Context, pool common.Address) ([]common.Address, error)

	// Quote prices a swap without moving tokens. When probePaused is set
	// and the pool is paused, Quote returns zero instead of an error so
	// best-path search can skip the pool without aborting.
	Quote(ctx context.Context, pool common.Address, from, to TokenSlot, amountIn *big.Int, probePaused bool) (*big.Int, error)

	// Execute performs the swap. amountIn of from is already held by the
	// caller; on success amountOut of to is held by the caller, otherwise
	// the adapter fails atomically.
	Execute(ctx context.Context, pool common.Address, from, to TokenSlot, amountIn *big.Int) (*big.Int, error)
}
