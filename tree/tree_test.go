// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tree

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

// Test tokens and pool addresses
var (
	tokenR = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenA = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tokenB = common.HexToAddress("0x3333333333333333333333333333333333333333")
	tokenC = common.HexToAddress("0x4444444444444444444444444444444444444444")

	poolP1 = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	poolP2 = common.HexToAddress("0xaaaa000000000000000000000000000000000002")
	poolP3 = common.HexToAddress("0xaaaa000000000000000000000000000000000003")
)

// mockPool multiplies amounts by rateN/rateD regardless of direction.
type mockPool struct {
	tokens []common.Address
	rateN  int64
	rateD  int64
	paused bool
	fail   bool
}

// mockAdapter serves synthetic fixed-rate pools and records executions.
type mockAdapter struct {
	mu    sync.Mutex
	pools map[common.Address]*mockPool
	calls []string
}

var _ PoolAdapter = (*mockAdapter)(nil)

func newMockAdapter() *mockAdapter {
	return &mockAdapter{pools: make(map[common.Address]*mockPool)}
}

func (m *mockAdapter) add(pool common.Address, rateN, rateD int64, tokens ...common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool] = &mockPool{tokens: tokens, rateN: rateN, rateD: rateD}
}

func (m *mockAdapter) setPaused(pool common.Address, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool].paused = paused
}

func (m *mockAdapter) setRate(pool common.Address, rateN, rateD int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool].rateN = rateN
	m.pools[pool].rateD = rateD
}

func (m *mockAdapter) setFail(pool common.Address, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool].fail = fail
}

func (m *mockAdapter) Tokens(ctx context.Context, pool common.Address) ([]common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[pool]
	if !ok {
		return nil, fmt.Errorf("mock: unknown pool %s", pool)
	}
	return append([]common.Address(nil), p.tokens...), nil
}

func (m *mockAdapter) Quote(ctx context.Context, pool common.Address, from, to TokenSlot, amountIn *big.Int, probePaused bool) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[pool]
	if !ok {
		return nil, fmt.Errorf("mock: unknown pool %s", pool)
	}
	if p.fail {
		return nil, fmt.Errorf("mock: pool %s failing", pool)
	}
	if p.paused {
		if probePaused {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("mock: pool %s paused", pool)
	}
	return p.apply(amountIn), nil
}

func (m *mockAdapter) Execute(ctx context.Context, pool common.Address, from, to TokenSlot, amountIn *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[pool]
	if !ok {
		return nil, fmt.Errorf("mock: unknown pool %s", pool)
	}
	if p.fail {
		return nil, fmt.Errorf("mock: pool %s failing", pool)
	}
	if p.paused {
		return nil, fmt.Errorf("mock: pool %s paused", pool)
	}
	m.calls = append(m.calls, fmt.Sprintf("%s:%s->%s", pool.Hex()[:6], from.Address.Hex()[:6], to.Address.Hex()[:6]))
	return p.apply(amountIn), nil
}

func (p *mockPool) apply(amountIn *big.Int) *big.Int {
	out := new(big.Int).Mul(amountIn, big.NewInt(p.rateN))
	return out.Quo(out, big.NewInt(p.rateD))
}

func (m *mockAdapter) executed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr, err := New(tokenR, Config{})
	require.NoError(t, err)
	return tr
}

// =========================================================================
// Registry
// =========================================================================

func TestNew_Root(t *testing.T) {
	tr := newTestTree(t)
	require.Equal(t, 1, tr.NodeCount())

	root, err := tr.NodeAt(0)
	require.NoError(t, err)
	require.Equal(t, tokenR, root.Token)
	require.Equal(t, uint8(0), root.Depth)
	require.Equal(t, []uint8{0}, root.RootPath())
	require.Equal(t, []uint8{0}, tr.NodesForToken(tokenR))

	_, err = tr.NodeAt(1)
	require.ErrorIs(t, err, ErrNodeOutOfRange)
}

func TestAddPool_CreatesChildren(t *testing.T) {
	tr := newTestTree(t)
	m := newMockAdapter()
	m.add(poolP1, 1, 1, tokenR, tokenA)

	require.NoError(t, tr.AddPool(context.Background(), 0, poolP1, m))
	require.Equal(t, 2, tr.NodeCount())

	child, err := tr.NodeAt(1)
	require.NoError(t, err)
	require.Equal(t, tokenA, child.Token)
	require.Equal(t, uint8(1), child.Depth)
	require.Equal(t, uint8(0), child.Parent)
	require.Equal(t, uint8(0), child.PoolIdx)
	require.Equal(t, []uint8{0, 1}, child.RootPath())
	require.Equal(t, []uint8{1}, tr.NodesForToken(tokenA))
}

func TestAddPool_RootTokenNeverDuplicated(t *testing.T) {
	tr := newTestTree(t)
	m := newMockAdapter()
	m.add(poolP1, 1, 1, tokenR, tokenA)
	m.add(poolP2, 1, 1, tokenA, tokenR, tokenB)

	require.NoError(t, tr.AddPool(context.Background(), 0, poolP1, m))
	// P2 carries the root token, but attaching it below A must only
	// create a node for B
	require.NoError(t, tr.AddPool(context.Background(), 1, poolP2, m))
	require.Equal(t, 3, tr.NodeCount())
	require.Equal(t, []uint8{0}, tr.NodesForToken(tokenR))
	require.Equal(t, []uint8{2}, tr.NodesForToken(tokenB))
}

func TestAddPool_Rejections(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)
	m := newMockAdapter()
	m.add(poolP1, 1, 1, tokenR, tokenA)
	m.add(poolP2, 1, 1, tokenB, tokenC)
	m.add(poolP3, 1, 1, tokenR)

	require.ErrorIs(t, tr.AddPool(ctx, 5, poolP1, m), ErrNodeOutOfRange)
	require.ErrorIs(t, tr.AddPool(ctx, 0, poolP3, m), ErrBadTokenList)
	// root token is not in P2's list
	require.ErrorIs(t, tr.AddPool(ctx, 0, poolP2, m), ErrTokenNotInPool)

	require.NoError(t, tr.AddPool(ctx, 0, poolP1, m))
	// second attach of the same pool to the same node
	require.ErrorIs(t, tr.AddPool(ctx, 0, poolP1, m), ErrPoolAttached)
	// P1 is the edge above node 1, re-attaching it there would force any
	// route through the new edge to cross it twice
	require.ErrorIs(t, tr.AddPool(ctx, 1, poolP1, m), ErrPoolOnRootPath)

	// same pool address served by a different adapter instance
	other := newMockAdapter()
	other.add(poolP1, 1, 1, tokenR, tokenA)
	require.ErrorIs(t, tr.AddPool(ctx, 0, poolP1, other), ErrAdapterMismatch)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, tr.AddPool(cancelled, 0, poolP1, m))
}

func TestAddPool_NodeCapacityCheckedUpFront(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)
	m := newMockAdapter()

	// a pool listing more tokens than the arena can ever hold
	tokens := make([]common.Address, 0, MaxNodes+44)
	tokens = append(tokens, tokenR)
	for i := 0; i < MaxNodes+43; i++ {
		tokens = append(tokens, common.BigToAddress(big.NewInt(int64(0x10000+i))))
	}
	m.add(poolP1, 1, 1, tokens...)

	require.ErrorIs(t, tr.AddPool(ctx, 0, poolP1, m), ErrNodeCapacity)
	// the rejection must leave no partial state behind: no children, no
	// attached bit, and no registered pool index
	require.Equal(t, 1, tr.NodeCount())
	require.Empty(t, tr.NodesForToken(tokens[1]))

	// the address is free to come back under a different adapter with a
	// token list that fits
	fresh := newMockAdapter()
	fresh.add(poolP1, 1, 1, tokenR, tokenA)
	require.NoError(t, tr.AddPool(ctx, 0, poolP1, fresh))
	require.Equal(t, 2, tr.NodeCount())
}

func TestUpdatePoolModule(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)
	m := newMockAdapter()
	m.add(poolP1, 1, 1, tokenR, tokenA)
	require.NoError(t, tr.AddPool(ctx, 0, poolP1, m))

	// identical token list, new adapter: accepted
	next := newMockAdapter()
	next.add(poolP1, 2, 1, tokenR, tokenA)
	require.NoError(t, tr.UpdatePoolModule(ctx, poolP1, next))

	// reordered token list: slot assignments would break
	reordered := newMockAdapter()
	reordered.add(poolP1, 1, 1, tokenA, tokenR)
	require.ErrorIs(t, tr.UpdatePoolModule(ctx, poolP1, reordered), ErrTokenListMismatch)

	require.ErrorIs(t, tr.UpdatePoolModule(ctx, poolP2, next), ErrUnknownPool)
}

// =========================================================================
// Swaps
// =========================================================================

// chainTree builds R -(P1)- A -(P2)- B with the given per-pool rates.
func chainTree(t *testing.T, r1n, r1d, r2n, r2d int64) (*Tree, *mockAdapter) {
	t.Helper()
	tr := newTestTree(t)
	m := newMockAdapter()
	m.add(poolP1, r1n, r1d, tokenR, tokenA)
	m.add(poolP2, r2n, r2d, tokenA, tokenB)
	require.NoError(t, tr.AddPool(context.Background(), 0, poolP1, m))
	require.NoError(t, tr.AddPool(context.Background(), 1, poolP2, m))
	return tr, m
}

func TestMultiSwap_UpWalk(t *testing.T) {
	tr, m := chainTree(t, 2, 1, 2, 1)

	// B (node 2) up to R (node 0): through P2 then P1, 100 -> 200 -> 400
	visited, out, err := tr.MultiSwap(context.Background(), 2, 0, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), out)

	want := new(uint256.Int).Or(poolBit(0), poolBit(1))
	require.Equal(t, want, visited)

	calls := m.executed()
	require.Len(t, calls, 2)
	require.Contains(t, calls[0], tokenB.Hex()[:6]+"->"+tokenA.Hex()[:6])
	require.Contains(t, calls[1], tokenA.Hex()[:6]+"->"+tokenR.Hex()[:6])
}

func TestMultiSwap_DownWalk(t *testing.T) {
	tr, m := chainTree(t, 3, 1, 5, 1)

	// R (node 0) down to B (node 2): 10 -> 30 -> 150
	_, out, err := tr.MultiSwap(context.Background(), 0, 2, big.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(150), out)

	calls := m.executed()
	require.Len(t, calls, 2)
	require.Contains(t, calls[0], tokenR.Hex()[:6]+"->"+tokenA.Hex()[:6])
	require.Contains(t, calls[1], tokenA.Hex()[:6]+"->"+tokenB.Hex()[:6])
}

func TestMultiSwap_ThroughAncestor(t *testing.T) {
	// A and B hang off the root through different pools: the path crosses
	// the ancestor in two hops
	tr := newTestTree(t)
	m := newMockAdapter()
	m.add(poolP1, 2, 1, tokenR, tokenA)
	m.add(poolP2, 2, 1, tokenR, tokenB)
	require.NoError(t, tr.AddPool(context.Background(), 0, poolP1, m))
	require.NoError(t, tr.AddPool(context.Background(), 0, poolP2, m))

	visited, out, err := tr.MultiSwap(context.Background(), 1, 2, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), out)
	require.Equal(t, new(uint256.Int).Or(poolBit(0), poolBit(1)), visited)

	calls := m.executed()
	require.Len(t, calls, 2)
	require.Contains(t, calls[0], tokenA.Hex()[:6]+"->"+tokenR.Hex()[:6])
	require.Contains(t, calls[1], tokenR.Hex()[:6]+"->"+tokenB.Hex()[:6])
}

func TestMultiSwap_SiblingSamePool(t *testing.T) {
	// B and C both hang off A through the same three-token pool: the
	// crossing collapses to one direct hop instead of two through A
	tr := newTestTree(t)
	m := newMockAdapter()
	m.add(poolP1, 1, 1, tokenR, tokenA)
	m.add(poolP2, 2, 1, tokenA, tokenB, tokenC)
	require.NoError(t, tr.AddPool(context.Background(), 0, poolP1, m))
	require.NoError(t, tr.AddPool(context.Background(), 1, poolP2, m))
	require.Equal(t, 4, tr.NodeCount()) // R, A, B, C

	nodeB := int(tr.NodesForToken(tokenB)[0])
	nodeC := int(tr.NodesForToken(tokenC)[0])
	visited, out, err := tr.MultiSwap(context.Background(), nodeB, nodeC, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(200), out) // one hop, not two
	require.Equal(t, poolBit(1), visited)

	calls := m.executed()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0], tokenB.Hex()[:6]+"->"+tokenC.Hex()[:6])
}

func TestMultiSwap_Errors(t *testing.T) {
	tr, m := chainTree(t, 2, 1, 2, 1)
	ctx := context.Background()

	_, _, err := tr.MultiSwap(ctx, 1, 1, big.NewInt(100))
	require.ErrorIs(t, err, ErrSameNode)

	_, _, err = tr.MultiSwap(ctx, 0, 7, big.NewInt(100))
	require.ErrorIs(t, err, ErrNodeOutOfRange)

	// a failing hop aborts the whole swap
	m.setFail(poolP2, true)
	_, _, err = tr.MultiSwap(ctx, 2, 0, big.NewInt(100))
	require.Error(t, err)
	require.Contains(t, err.Error(), poolP2.Hex())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = tr.MultiSwap(cancelled, 2, 0, big.NewInt(100))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCalculateSwap_FailureQuotesZero(t *testing.T) {
	tr, m := chainTree(t, 2, 1, 2, 1)
	ctx := context.Background()

	visited, out, err := tr.CalculateSwap(ctx, 2, 0, big.NewInt(100), false)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), out)
	require.Equal(t, new(uint256.Int).Or(poolBit(0), poolBit(1)), visited)

	// adapter failure on a hop downgrades the whole path to a zero quote
	m.setFail(poolP2, true)
	_, out, err = tr.CalculateSwap(ctx, 2, 0, big.NewInt(100), false)
	require.NoError(t, err)
	require.Zero(t, out.Sign())

	// paused pools probe as zero instead of erroring
	m.setFail(poolP2, false)
	m.setPaused(poolP2, true)
	_, out, err = tr.CalculateSwap(ctx, 2, 0, big.NewInt(100), true)
	require.NoError(t, err)
	require.Zero(t, out.Sign())

	// no tokens moved through any of it
	require.Empty(t, m.executed())
}
