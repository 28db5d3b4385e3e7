package compose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// fakeQuotes is a scripted QuoteSource that counts lookups.
type fakeQuotes struct {
	quote uint64
	err   error
	calls int
}

func (f *fakeQuotes) Quote(ctx context.Context, poolID string, aToB bool, amountIn uint64) (uint64, error) {
	f.calls++
	return f.quote, f.err
}

func swapInput(t *testing.T) (*Transaction, FundsHandle) {
	t.Helper()
	tx := NewTransaction(txSender)
	return tx, tx.appendWithdraw(vaultRef(), 10_000)
}

func TestAppendSwap(t *testing.T) {
	t.Run("min_out honors the slippage bound", func(t *testing.T) {
		quotes := &fakeQuotes{quote: 10_000}
		adapter := NewSwapAdapter(quotes, 0)
		tx, input := swapInput(t)

		outputs, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, models.SwapConfig{
			PoolID:      "pool-1",
			AToB:        true,
			SlippageBps: 50,
		})
		require.NoError(t, err)
		require.Len(t, outputs, 2)

		// 10_000 * (10_000 - 50) / 10_000
		swap := tx.Instructions[len(tx.Instructions)-1]
		assert.Equal(t, InstrSwap, swap.Kind)
		assert.Equal(t, uint64(9_950), swap.MinOut)
	})

	t.Run("zero slippage demands the full quote", func(t *testing.T) {
		quotes := &fakeQuotes{quote: 10_000}
		adapter := NewSwapAdapter(quotes, 0)
		tx, input := swapInput(t)

		_, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, models.SwapConfig{PoolID: "pool-1"})
		require.NoError(t, err)
		assert.Equal(t, uint64(10_000), tx.Instructions[len(tx.Instructions)-1].MinOut)
	})

	t.Run("large quotes keep the slippage floor", func(t *testing.T) {
		quotes := &fakeQuotes{quote: 1 << 60}
		adapter := NewSwapAdapter(quotes, 0)
		tx, input := swapInput(t)

		_, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, models.SwapConfig{
			PoolID:      "pool-1",
			AToB:        true,
			SlippageBps: 50,
		})
		require.NoError(t, err)

		// (1<<60) * 9_950 / 10_000; the intermediate product must not wrap.
		assert.Equal(t, uint64(1_147_156_897_083_812_741), tx.Instructions[len(tx.Instructions)-1].MinOut)
	})

	t.Run("rejects slippage above 10000 bps", func(t *testing.T) {
		adapter := NewSwapAdapter(&fakeQuotes{quote: 10_000}, 0)
		tx, input := swapInput(t)

		_, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, models.SwapConfig{
			PoolID:      "pool-1",
			SlippageBps: 10_001,
		})
		assert.ErrorIs(t, err, ErrInvalidSlippage)
	})

	t.Run("rejects a zero min_out", func(t *testing.T) {
		adapter := NewSwapAdapter(&fakeQuotes{quote: 1}, 0)
		tx, input := swapInput(t)

		_, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, models.SwapConfig{
			PoolID:      "pool-1",
			SlippageBps: 10_000,
		})
		assert.ErrorIs(t, err, ErrZeroMinOut)
	})

	t.Run("propagates quote failures", func(t *testing.T) {
		adapter := NewSwapAdapter(&fakeQuotes{err: errors.New("no response")}, 0)
		tx, input := swapInput(t)

		_, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, models.SwapConfig{PoolID: "pool-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quote lookup failed")
	})
}

func TestQuoteCaching(t *testing.T) {
	t.Run("repeated quotes within the TTL hit the cache", func(t *testing.T) {
		quotes := &fakeQuotes{quote: 10_000}
		adapter := NewSwapAdapter(quotes, time.Minute)
		cfg := models.SwapConfig{PoolID: "pool-1", SlippageBps: 50}

		for i := 0; i < 3; i++ {
			tx, input := swapInput(t)
			_, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, cfg)
			require.NoError(t, err)
		}
		assert.Equal(t, 1, quotes.calls)
	})

	t.Run("different amounts are distinct cache keys", func(t *testing.T) {
		quotes := &fakeQuotes{quote: 10_000}
		adapter := NewSwapAdapter(quotes, time.Minute)
		cfg := models.SwapConfig{PoolID: "pool-1", SlippageBps: 50}

		tx, input := swapInput(t)
		_, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, cfg)
		require.NoError(t, err)

		tx2 := NewTransaction(txSender)
		input2 := tx2.appendWithdraw(vaultRef(), 5_000)
		_, err = adapter.AppendSwap(context.Background(), tx2, input2, 5_000, cfg)
		require.NoError(t, err)

		assert.Equal(t, 2, quotes.calls)
	})

	t.Run("zero TTL disables caching", func(t *testing.T) {
		quotes := &fakeQuotes{quote: 10_000}
		adapter := NewSwapAdapter(quotes, 0)
		cfg := models.SwapConfig{PoolID: "pool-1", SlippageBps: 50}

		for i := 0; i < 2; i++ {
			tx, input := swapInput(t)
			_, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, cfg)
			require.NoError(t, err)
		}
		assert.Equal(t, 2, quotes.calls)
	})

	t.Run("entries expire", func(t *testing.T) {
		quotes := &fakeQuotes{quote: 10_000}
		adapter := NewSwapAdapter(quotes, 10*time.Millisecond)
		cfg := models.SwapConfig{PoolID: "pool-1", SlippageBps: 50}

		tx, input := swapInput(t)
		_, err := adapter.AppendSwap(context.Background(), tx, input, 10_000, cfg)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		tx2, input2 := swapInput(t)
		_, err = adapter.AppendSwap(context.Background(), tx2, input2, 10_000, cfg)
		require.NoError(t, err)
		assert.Equal(t, 2, quotes.calls)
	})
}
