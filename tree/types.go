// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package tree implements a rooted token tree for multi-hop liquidity
// aggregation. Each node pairs a token with the pool connecting it to its
// parent; edges are liquidity pools served by PoolAdapter implementations.
// Swaps between any two nodes decompose into an up walk, at most two hops at
// the lowest common ancestor, and a down walk, with a 256-bit mask enforcing
// that no pool is used twice on one path.
package tree

import (
	"errors"
	"time"

	log "github.com/luxfi/log"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// MaxPools and MaxNodes bound the registry; pool and node handles are
// single bytes and the visited mask is one 256-bit word.
const (
	MaxPools = 256
	MaxNodes = 256
)

// Node is one entry in the token tree. A token may appear at several nodes
// (one per distinct path from the root); the root token appears exactly once.
type Node struct {
	Token   common.Address
	Depth   uint8
	Parent  uint8
	PoolIdx uint8 // pool on the edge to the parent; unset for the root

	// rootPath lists node indices from the root to this node, self included.
	rootPath []uint8

	// pathPools masks the pools used on the edges root -> this node.
	pathPools *uint256.Int
}

// RootPath returns a copy of the node indices from the root to this node.
func (n *Node) RootPath() []uint8 {
	out := make([]uint8, len(n.rootPath))
	copy(out, n.rootPath)
	return out
}

// poolEntry is the registry record for an attached pool.
type poolEntry struct {
	addr    common.Address
	adapter PoolAdapter
	index   uint8
	tokens  []common.Address
	slots   map[common.Address]uint8 // token -> index within the pool
	id      [32]byte                 // blake3(addr || tokens), pins the token list
}

// Config holds tree construction options.
type Config struct {
	// Log receives attach/swap/route events. Defaults to a test logger at
	// info level when nil.
	Log log.Logger

	// MaxRouteCache is the best-route LRU capacity. Defaults to 1024.
	MaxRouteCache int

	// QuoteTimeout caps FindBestPath when the caller's context has no
	// deadline of its own. Defaults to 5s.
	QuoteTimeout time.Duration

	// MaxPathLen caps the hop count of one decomposed path. Defaults to 64.
	MaxPathLen int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Log == nil {
		out.Log = log.NewTestLogger(log.InfoLevel)
	}
	if out.MaxRouteCache <= 0 {
		out.MaxRouteCache = 1024
	}
	if out.QuoteTimeout <= 0 {
		out.QuoteTimeout = 5 * time.Second
	}
	if out.MaxPathLen <= 0 {
		out.MaxPathLen = 64
	}
	return out
}

// Errors
var (
	ErrNodeOutOfRange    = errors.New("node index out of range")
	ErrPoolOnRootPath    = errors.New("pool already on path to root")
	ErrPoolAttached      = errors.New("pool already attached to node")
	ErrSamePoolTwice     = errors.New("can't use same pool twice")
	ErrUnknownPool       = errors.New("unknown pool")
	ErrAdapterMismatch   = errors.New("adapter does not match registered pool")
	ErrTokenListMismatch = errors.New("token list mismatch")
	ErrTokenNotInPool    = errors.New("node token not in pool")
	ErrBadTokenList      = errors.New("pool must list at least two tokens")
	ErrPoolCapacity      = errors.New("pool registry full")
	ErrNodeCapacity      = errors.New("node arena full")
	ErrSameNode          = errors.New("identical path endpoints")
	ErrPathTooLong       = errors.New("path exceeds hop limit")
	ErrNoRouteFound      = errors.New("no route found")
)
