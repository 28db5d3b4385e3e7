package compose

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

const bpsDenominator = 10_000

// Swap validation errors. Invalid slippage is security-sensitive and never
// retried automatically.
var (
	ErrInvalidSlippage = errors.New("slippage bps out of range [0, 10000]")
	ErrZeroMinOut      = errors.New("computed min_out is zero")
)

// QuoteSource answers expected-output quotes for a pool swap. Quote lookups
// are blocking network calls and should carry a bounded timeout.
type QuoteSource interface {
	Quote(ctx context.Context, poolID string, aToB bool, amountIn uint64) (uint64, error)
}

// SwapAdapter appends slippage-bounded exchange steps. Quotes are memoized
// briefly so a retry burst does not hammer the quote endpoint.
type SwapAdapter struct {
	quotes QuoteSource
	cache  *quoteCache
}

// NewSwapAdapter wires a swap adapter to its quote source. cacheTTL <= 0
// disables quote memoization.
func NewSwapAdapter(quotes QuoteSource, cacheTTL time.Duration) *SwapAdapter {
	return &SwapAdapter{
		quotes: quotes,
		cache:  newQuoteCache(cacheTTL),
	}
}

// AppendSwap quotes the expected output, computes the minimum acceptable
// output under the slippage bound, and appends the swap instruction. It
// returns handles to every resulting fund: the swapped output and the
// residual of the input asset. None of them may be silently dropped; they
// stay live on the transaction until transferred.
func (a *SwapAdapter) AppendSwap(ctx context.Context, tx *Transaction, input FundsHandle, amountIn uint64, cfg models.SwapConfig) ([]FundsHandle, error) {
	if cfg.SlippageBps > bpsDenominator {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlippage, cfg.SlippageBps)
	}

	quote, ok := a.cache.get(cfg.PoolID, cfg.AToB, amountIn)
	if !ok {
		var err error
		quote, err = a.quotes.Quote(ctx, cfg.PoolID, cfg.AToB, amountIn)
		if err != nil {
			return nil, fmt.Errorf("quote lookup failed for pool %s: %w", cfg.PoolID, err)
		}
		a.cache.put(cfg.PoolID, cfg.AToB, amountIn, quote)
	}

	// quote*(10000-bps) wraps uint64 for large quotes; widen to 128 bits
	// so the slippage floor holds at any amount.
	hi, lo := bits.Mul64(quote, bpsDenominator-cfg.SlippageBps)
	minOut, _ := bits.Div64(hi, lo, bpsDenominator)
	if minOut == 0 {
		return nil, fmt.Errorf("%w: quote %d, slippage %d bps", ErrZeroMinOut, quote, cfg.SlippageBps)
	}

	return tx.appendSwap(input, cfg.PoolID, cfg.AToB, minOut)
}
