package compose

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

var (
	txSender = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	txTarget = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func vaultRef() models.PositionRef {
	return models.PositionRef{
		Protocol:   models.ProtocolLendVault,
		Market:     "usd-main",
		PositionID: "pos-1",
	}
}

func TestTransactionHandles(t *testing.T) {
	t.Run("withdraw produces a live handle", func(t *testing.T) {
		tx := NewTransaction(txSender)
		h := tx.appendWithdraw(vaultRef(), 1_000)

		assert.Equal(t, []FundsHandle{h}, tx.LiveHandles())
	})

	t.Run("transfer consumes the handle", func(t *testing.T) {
		tx := NewTransaction(txSender)
		h := tx.appendWithdraw(vaultRef(), 1_000)

		require.NoError(t, tx.AppendTransfer(h, txTarget))
		assert.Empty(t, tx.LiveHandles())
	})

	t.Run("a handle cannot be consumed twice", func(t *testing.T) {
		tx := NewTransaction(txSender)
		h := tx.appendWithdraw(vaultRef(), 1_000)

		require.NoError(t, tx.AppendTransfer(h, txTarget))
		err := tx.AppendTransfer(h, txTarget)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not live")
	})

	t.Run("swap consumes input and produces output plus residual", func(t *testing.T) {
		tx := NewTransaction(txSender)
		h := tx.appendWithdraw(vaultRef(), 1_000)

		outputs, err := tx.appendSwap(h, "pool-1", true, 990)
		require.NoError(t, err)
		require.Len(t, outputs, 2)
		assert.Equal(t, outputs, tx.LiveHandles())
	})

	t.Run("swap of an unknown handle fails", func(t *testing.T) {
		tx := NewTransaction(txSender)
		_, err := tx.appendSwap(FundsHandle(7), "pool-1", true, 990)
		assert.Error(t, err)
	})
}

func TestTransactionSeal(t *testing.T) {
	t.Run("sealed when every handle is consumed", func(t *testing.T) {
		tx := NewTransaction(txSender)
		h := tx.appendWithdraw(vaultRef(), 1_000)
		require.NoError(t, tx.AppendTransfer(h, txTarget))
		tx.AppendExecuteTask("task-1")

		assert.NoError(t, tx.Seal())
	})

	t.Run("refuses to seal with dangling funds", func(t *testing.T) {
		tx := NewTransaction(txSender)
		tx.appendWithdraw(vaultRef(), 1_000)
		tx.AppendExecuteTask("task-1")

		err := tx.Seal()
		assert.ErrorIs(t, err, ErrDanglingFunds)
	})

	t.Run("refuses to seal with a dangling swap residual", func(t *testing.T) {
		tx := NewTransaction(txSender)
		h := tx.appendWithdraw(vaultRef(), 1_000)
		outputs, err := tx.appendSwap(h, "pool-1", true, 990)
		require.NoError(t, err)

		// Transfer the output but forget the residual.
		require.NoError(t, tx.AppendTransfer(outputs[0], txTarget))
		assert.ErrorIs(t, tx.Seal(), ErrDanglingFunds)
	})
}

func TestTransactionDigest(t *testing.T) {
	build := func(budget uint64) *Transaction {
		tx := NewTransaction(txSender)
		h := tx.appendWithdraw(vaultRef(), 1_000)
		if err := tx.AppendTransfer(h, txTarget); err != nil {
			t.Fatal(err)
		}
		tx.AppendExecuteTask("task-1")
		tx.GasBudget = budget
		return tx
	}

	d1, err := build(MinGasBudget).Digest()
	require.NoError(t, err)
	d2, err := build(MinGasBudget).Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2, "digest must be deterministic")

	d3, err := build(MinGasBudget + 1).Digest()
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3, "digest must bind the gas budget")
}

func TestInstructionEncodingKeepsZeroHandles(t *testing.T) {
	// Handle 0 references the first withdraw's output; it must appear in
	// the encoded instructions or a decoded transaction reads the wrong
	// funds.
	tx := NewTransaction(txSender)
	h := tx.appendWithdraw(vaultRef(), 1_000)
	require.Equal(t, FundsHandle(0), h)

	outputs, err := tx.appendSwap(h, "pool-1", true, 990)
	require.NoError(t, err)
	for _, out := range outputs {
		require.NoError(t, tx.AppendTransfer(out, txTarget))
	}
	tx.AppendExecuteTask("task-1")

	raw, err := json.Marshal(tx.Instructions)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"input":0`)

	var decoded []Instruction
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, tx.Instructions, decoded)

	// Same for a transfer sourcing handle 0 directly.
	plain := NewTransaction(txSender)
	require.NoError(t, plain.AppendTransfer(plain.appendWithdraw(vaultRef(), 1_000), txTarget))
	raw, err = json.Marshal(plain.Instructions)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"source":0`)
}

func TestClampGasBudget(t *testing.T) {
	tests := []struct {
		name     string
		budget   uint64
		expected uint64
	}{
		{name: "below minimum", budget: 0, expected: MinGasBudget},
		{name: "at minimum", budget: MinGasBudget, expected: MinGasBudget},
		{name: "in range", budget: 50_000_000, expected: 50_000_000},
		{name: "at maximum", budget: MaxGasBudget, expected: MaxGasBudget},
		{name: "above maximum", budget: MaxGasBudget + 1, expected: MaxGasBudget},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ClampGasBudget(tc.budget))
		})
	}
}
