package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// Position is a yield position holding deployed capital, keyed by its
// position object id.
type Position struct {
	Ref       models.PositionRef
	Owner     common.Address
	Principal uint64
}

// Pool is a constant-product AMM pool with a base/quote asset pair.
type Pool struct {
	ID       string
	ReserveA uint64
	ReserveB uint64
	FeeBps   uint64
}

// World holds the protocol objects a composed settlement touches: yield
// positions and AMM pools. It is the local stand-in for the protocol state
// an RPC-backed client would resolve remotely.
type World struct {
	mu        sync.Mutex
	positions map[string]*Position
	pools     map[string]*Pool
	holdings  map[common.Address]uint64
}

// NewWorld creates an empty protocol world.
func NewWorld() *World {
	return &World{
		positions: make(map[string]*Position),
		pools:     make(map[string]*Pool),
		holdings:  make(map[common.Address]uint64),
	}
}

// AddPosition registers a yield position.
func (w *World) AddPosition(p Position) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := p
	w.positions[p.Ref.PositionID] = &cp
}

// AddPool registers an AMM pool.
func (w *World) AddPool(p Pool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := p
	w.pools[p.ID] = &cp
}

// SetPoolReserves replaces a pool's reserves, simulating market movement
// between quote time and execution time.
func (w *World) SetPoolReserves(poolID string, reserveA, reserveB uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	pool, ok := w.pools[poolID]
	if !ok {
		return fmt.Errorf("pool not found: %s", poolID)
	}
	pool.ReserveA = reserveA
	pool.ReserveB = reserveB
	return nil
}

// Position returns a copy of the position, if it exists.
func (w *World) Position(positionID string) (Position, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.positions[positionID]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Holdings returns the funds transferred to an address by composed
// settlements.
func (w *World) Holdings(addr common.Address) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.holdings[addr]
}

// quoteSwap computes the constant-product output for a swap against the
// pool's current reserves, after the pool fee.
func quoteSwap(pool *Pool, aToB bool, amountIn uint64) (uint64, error) {
	reserveIn, reserveOut := pool.ReserveA, pool.ReserveB
	if !aToB {
		reserveIn, reserveOut = pool.ReserveB, pool.ReserveA
	}
	if reserveIn == 0 || reserveOut == 0 {
		return 0, fmt.Errorf("pool %s has empty reserves", pool.ID)
	}
	inAfterFee := amountIn - amountIn*pool.FeeBps/10_000
	// Product can overflow uint64 on deep pools, so go through big.Int.
	num := new(big.Int).Mul(new(big.Int).SetUint64(reserveOut), new(big.Int).SetUint64(inAfterFee))
	den := new(big.Int).SetUint64(reserveIn + inAfterFee)
	return new(big.Int).Div(num, den).Uint64(), nil
}

// Quote implements compose.QuoteSource against the world's pool state.
func (w *World) Quote(ctx context.Context, poolID string, aToB bool, amountIn uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	pool, ok := w.pools[poolID]
	if !ok {
		return 0, fmt.Errorf("pool not found: %s", poolID)
	}
	return quoteSwap(pool, aToB, amountIn)
}
