// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tree

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	log "github.com/luxfi/log"

	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Tree is the token tree. The registry of nodes and pools is append-only and
// single-writer; swaps and quotes take the read lock and touch pool state
// only through the attached adapters.
type Tree struct {
	mu  sync.RWMutex
	log log.Logger
	cfg Config

	nodes      []Node
	pools      []*poolEntry
	poolByAddr map[common.Address]*poolEntry

	// tokenNodes indexes every node carrying a given token.
	tokenNodes map[common.Address][]uint8

	// attached[i] masks the pools hanging off node i's child edges.
	attached []*uint256.Int

	routes *lru.Cache

	// generation counts changes the tree itself makes: attaches, token-list
	// updates, executed swaps. Cached routes are keyed by it so entries from
	// before a topology change stop being hit. It cannot see repricing that
	// happens inside an adapter, so cached routes are never trusted without
	// a fresh quote.
	generation uint64
}

// New creates a tree rooted at the bridge token.
func New(root common.Address, cfg Config) (*Tree, error) {
	cfg = cfg.withDefaults()
	routes, err := lru.New(cfg.MaxRouteCache)
	if err != nil {
		return nil, err
	}
	t := &Tree{
		log:        cfg.Log,
		cfg:        cfg,
		poolByAddr: make(map[common.Address]*poolEntry),
		tokenNodes: make(map[common.Address][]uint8),
		routes:     routes,
	}
	t.nodes = append(t.nodes, Node{
		Token:     root,
		rootPath:  []uint8{0},
		pathPools: uint256.NewInt(0),
	})
	t.attached = append(t.attached, uint256.NewInt(0))
	t.tokenNodes[root] = []uint8{0}
	return t, nil
}

// NodeCount returns the number of nodes in the tree.
func (t *Tree) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// NodeAt returns a copy of the node at the given index.
func (t *Tree) NodeAt(index int) (Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.nodes) {
		return Node{}, fmt.Errorf("%w: %d", ErrNodeOutOfRange, index)
	}
	n := t.nodes[index]
	n.rootPath = t.nodes[index].RootPath()
	return n, nil
}

// NodesForToken returns the indices of every node carrying the token.
func (t *Tree) NodesForToken(token common.Address) []uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint8, len(t.tokenNodes[token]))
	copy(out, t.tokenNodes[token])
	return out
}

// =========================================================================
// Registry mutation
// =========================================================================

// AddPool attaches a pool at the given node, creating one child node per
// pool token other than the node's own. The root token is never duplicated:
// when it appears in the pool's token list no child is created for it. A
// pool already present on the node's root path cannot be re-attached there,
// since any swap through the new edge would have to use it twice.
func (t *Tree) AddPool(ctx context.Context, nodeIndex int, pool common.Address, adapter PoolAdapter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tokens, err := adapter.Tokens(ctx, pool)
	if err != nil {
		return fmt.Errorf("pool %s: %w", pool, err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("%w: pool %s lists %d", ErrBadTokenList, pool, len(tokens))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if nodeIndex < 0 || nodeIndex >= len(t.nodes) {
		return fmt.Errorf("%w: %d", ErrNodeOutOfRange, nodeIndex)
	}
	node := &t.nodes[nodeIndex]

	entry, known := t.poolByAddr[pool]
	if known {
		if entry.adapter != adapter {
			return fmt.Errorf("%w: pool %s", ErrAdapterMismatch, pool)
		}
	} else {
		if len(t.pools) >= MaxPools {
			return fmt.Errorf("%w: %d pools", ErrPoolCapacity, len(t.pools))
		}
		entry = &poolEntry{
			addr:    pool,
			adapter: adapter,
			index:   uint8(len(t.pools)),
			tokens:  tokens,
			slots:   make(map[common.Address]uint8, len(tokens)),
			id:      tokenListID(pool, tokens),
		}
		for i, tok := range tokens {
			entry.slots[tok] = uint8(i)
		}
	}

	if _, ok := entry.slots[node.Token]; !ok {
		return fmt.Errorf("%w: node token %s, pool %s", ErrTokenNotInPool, node.Token, pool)
	}
	bit := poolBit(entry.index)
	if !new(uint256.Int).And(node.pathPools, bit).IsZero() {
		return fmt.Errorf("%w: pool %s at node %d", ErrPoolOnRootPath, pool, nodeIndex)
	}
	if !new(uint256.Int).And(t.attached[nodeIndex], bit).IsZero() {
		return fmt.Errorf("%w: pool %s at node %d", ErrPoolAttached, pool, nodeIndex)
	}
	rootToken := t.nodes[0].Token
	newChildren := 0
	for _, tok := range entry.tokens {
		if tok != node.Token && tok != rootToken {
			newChildren++
		}
	}
	if len(t.nodes)+newChildren > MaxNodes {
		return fmt.Errorf("%w: %d nodes", ErrNodeCapacity, len(t.nodes)+newChildren)
	}
	if !known {
		// register only once the attach is known to succeed, so a failed
		// attach does not burn a pool index
		t.pools = append(t.pools, entry)
		t.poolByAddr[pool] = entry
	}

	added := 0
	for _, tok := range entry.tokens {
		if tok == node.Token {
			continue
		}
		if tok == rootToken {
			// The bridge token exists exactly once, at index 0.
			continue
		}
		idx := uint8(len(t.nodes))
		path := append(node.RootPath(), idx)
		child := Node{
			Token:     tok,
			Depth:     node.Depth + 1,
			Parent:    uint8(nodeIndex),
			PoolIdx:   entry.index,
			rootPath:  path,
			pathPools: new(uint256.Int).Or(node.pathPools, bit),
		}
		t.nodes = append(t.nodes, child)
		t.attached = append(t.attached, uint256.NewInt(0))
		t.tokenNodes[tok] = append(t.tokenNodes[tok], idx)
		added++
	}
	t.attached[nodeIndex].Or(t.attached[nodeIndex], bit)
	atomic.AddUint64(&t.generation, 1)

	t.log.Debug("pool attached", "pool", pool, "node", nodeIndex, "poolIndex", entry.index, "children", added)
	return nil
}

// UpdatePoolModule swaps the adapter serving a registered pool. The new
// adapter must report the identical token list, in the same order, so the
// per-pool token slots stay valid.
func (t *Tree) UpdatePoolModule(ctx context.Context, pool common.Address, adapter PoolAdapter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tokens, err := adapter.Tokens(ctx, pool)
	if err != nil {
		return fmt.Errorf("pool %s: %w", pool, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.poolByAddr[pool]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, pool)
	}
	if tokenListID(pool, tokens) != entry.id {
		return fmt.Errorf("%w: pool %s", ErrTokenListMismatch, pool)
	}
	entry.adapter = adapter
	atomic.AddUint64(&t.generation, 1)

	t.log.Debug("pool module updated", "pool", pool, "poolIndex", entry.index)
	return nil
}

// =========================================================================
// Path decomposition
// =========================================================================

// hop is one pool interaction on a decomposed path.
type hop struct {
	pool *poolEntry
	from common.Address
	to   common.Address
}

// decompose splits the nodeFrom -> nodeTo path into hops: up to the lowest
// common ancestor, across at the ancestor, down to the destination. When the
// two branches below the ancestor hang off the same pool, the crossing is a
// single sibling-to-sibling hop through that pool; this needs the pool to
// carry both sibling tokens, which holds by construction since both edges
// were created from its token list.
func (t *Tree) decompose(nodeFrom, nodeTo int) ([]hop, error) {
	if nodeFrom == nodeTo {
		return nil, fmt.Errorf("%w: node %d", ErrSameNode, nodeFrom)
	}
	pathA := t.nodes[nodeFrom].rootPath
	pathB := t.nodes[nodeTo].rootPath

	// First divergence; both paths begin at the root.
	k := 1
	for k < len(pathA) && k < len(pathB) && pathA[k] == pathB[k] {
		k++
	}

	var hops []hop

	switch {
	case k == len(pathA):
		// nodeFrom is an ancestor of nodeTo: pure down walk.
		hops = t.walkDown(hops, pathB[k:])
	case k == len(pathB):
		// nodeTo is an ancestor of nodeFrom: pure up walk.
		hops = t.walkUp(hops, uint8(nodeFrom), pathB[k-1])
	default:
		childA := pathA[k]
		childB := pathB[k]
		hops = t.walkUp(hops, uint8(nodeFrom), childA)

		a := &t.nodes[childA]
		b := &t.nodes[childB]
		lca := &t.nodes[pathA[k-1]]
		pA := t.pools[a.PoolIdx]
		pB := t.pools[b.PoolIdx]
		if pA.index == pB.index {
			hops = append(hops, hop{pool: pA, from: a.Token, to: b.Token})
		} else {
			hops = append(hops,
				hop{pool: pA, from: a.Token, to: lca.Token},
				hop{pool: pB, from: lca.Token, to: b.Token},
			)
		}
		hops = t.walkDown(hops, pathB[k+1:])
	}

	if len(hops) > t.cfg.MaxPathLen {
		return nil, fmt.Errorf("%w: %d hops", ErrPathTooLong, len(hops))
	}
	return hops, nil
}

// walkUp appends hops from the start node up to (not including) stop.
func (t *Tree) walkUp(hops []hop, start, stop uint8) []hop {
	for n := start; n != stop; {
		node := &t.nodes[n]
		parent := &t.nodes[node.Parent]
		hops = append(hops, hop{pool: t.pools[node.PoolIdx], from: node.Token, to: parent.Token})
		n = node.Parent
	}
	return hops
}

// walkDown appends hops along the given descendant indices.
func (t *Tree) walkDown(hops []hop, descend []uint8) []hop {
	for _, idx := range descend {
		node := &t.nodes[idx]
		parent := &t.nodes[node.Parent]
		hops = append(hops, hop{pool: t.pools[node.PoolIdx], from: parent.Token, to: node.Token})
	}
	return hops
}

// =========================================================================
// Swap execution and quoting
// =========================================================================

// MultiSwap executes a multi-hop swap between two nodes and returns the mask
// of pools used plus the final output amount. Any hop failure aborts the
// whole call; the host environment is responsible for rolling back earlier
// hops' token movements.
func (t *Tree) MultiSwap(ctx context.Context, nodeFrom, nodeTo int, amountIn *big.Int) (*uint256.Int, *big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkIndices(nodeFrom, nodeTo); err != nil {
		return nil, nil, err
	}
	hops, err := t.decompose(nodeFrom, nodeTo)
	if err != nil {
		return nil, nil, err
	}

	visited := uint256.NewInt(0)
	amount := new(big.Int).Set(amountIn)
	for _, h := range hops {
		if err := t.markVisited(visited, h.pool); err != nil {
			return nil, nil, err
		}
		from, to := h.pool.slot(h.from), h.pool.slot(h.to)
		amount, err = h.pool.adapter.Execute(ctx, h.pool.addr, from, to, amount)
		if err != nil {
			return nil, nil, fmt.Errorf("pool %s (%s -> %s): %w", h.pool.addr, h.from, h.to, err)
		}
	}
	atomic.AddUint64(&t.generation, 1)

	t.log.Debug("multiswap executed", "from", nodeFrom, "to", nodeTo, "hops", len(hops), "amountIn", amountIn, "amountOut", amount)
	return visited, amount, nil
}

// CalculateSwap quotes a path without moving tokens. Adapter failures are
// downgraded to a zero quote for this path, so best-path search can keep
// exploring; structural errors (bad indices, pool reuse) still propagate.
func (t *Tree) CalculateSwap(ctx context.Context, nodeFrom, nodeTo int, amountIn *big.Int, probePaused bool) (*uint256.Int, *big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calculateSwapLocked(ctx, nodeFrom, nodeTo, amountIn, probePaused)
}

func (t *Tree) calculateSwapLocked(ctx context.Context, nodeFrom, nodeTo int, amountIn *big.Int, probePaused bool) (*uint256.Int, *big.Int, error) {
	if err := t.checkIndices(nodeFrom, nodeTo); err != nil {
		return nil, nil, err
	}
	hops, err := t.decompose(nodeFrom, nodeTo)
	if err != nil {
		return nil, nil, err
	}

	visited := uint256.NewInt(0)
	amount := new(big.Int).Set(amountIn)
	for _, h := range hops {
		if err := t.markVisited(visited, h.pool); err != nil {
			return nil, nil, err
		}
		from, to := h.pool.slot(h.from), h.pool.slot(h.to)
		quoted, err := h.pool.adapter.Quote(ctx, h.pool.addr, from, to, amount, probePaused)
		if err != nil || quoted.Sign() <= 0 {
			return visited, new(big.Int), nil
		}
		amount = quoted
	}
	return visited, amount, nil
}

func (t *Tree) checkIndices(indices ...int) error {
	for _, i := range indices {
		if i < 0 || i >= len(t.nodes) {
			return fmt.Errorf("%w: %d", ErrNodeOutOfRange, i)
		}
	}
	return nil
}

func (t *Tree) markVisited(visited *uint256.Int, pool *poolEntry) error {
	bit := poolBit(pool.index)
	if !new(uint256.Int).And(visited, bit).IsZero() {
		return fmt.Errorf("%w: pool %s", ErrSamePoolTwice, pool.addr)
	}
	visited.Or(visited, bit)
	return nil
}

func (p *poolEntry) slot(token common.Address) TokenSlot {
	return TokenSlot{Index: p.slots[token], Address: token}
}

func poolBit(index uint8) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(index))
}

// tokenListID digests a pool's address and ordered token list.
func tokenListID(pool common.Address, tokens []common.Address) [32]byte {
	h := blake3.New()
	h.Write(pool.Bytes())
	for _, tok := range tokens {
		h.Write(tok.Bytes())
	}
	var id [32]byte
	h.Digest().Read(id[:])
	return id
}
