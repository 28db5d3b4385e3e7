package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

func TestAdapterFor(t *testing.T) {
	t.Run("resolves every supported protocol", func(t *testing.T) {
		for _, p := range []models.Protocol{models.ProtocolLendVault, models.ProtocolStakePool} {
			adapter, err := AdapterFor(p)
			require.NoError(t, err)
			assert.Equal(t, p, adapter.Protocol())
		}
	})

	t.Run("rejects undeployed capital", func(t *testing.T) {
		_, err := AdapterFor(models.ProtocolNone)
		assert.ErrorIs(t, err, ErrUnsupportedProtocol)
	})
}

func TestWithdrawValidation(t *testing.T) {
	tests := []struct {
		name   string
		ref    models.PositionRef
		amount uint64
		ok     bool
	}{
		{
			name:   "valid lend vault reference",
			ref:    models.PositionRef{Protocol: models.ProtocolLendVault, Market: "usd-main", PositionID: "pos-1"},
			amount: 1_000,
			ok:     true,
		},
		{
			name:   "lend vault missing market",
			ref:    models.PositionRef{Protocol: models.ProtocolLendVault, PositionID: "pos-1"},
			amount: 1_000,
		},
		{
			name:   "lend vault missing position id",
			ref:    models.PositionRef{Protocol: models.ProtocolLendVault, Market: "usd-main"},
			amount: 1_000,
		},
		{
			name:   "lend vault zero amount",
			ref:    models.PositionRef{Protocol: models.ProtocolLendVault, Market: "usd-main", PositionID: "pos-1"},
			amount: 0,
		},
		{
			name:   "valid stake pool reference",
			ref:    models.PositionRef{Protocol: models.ProtocolStakePool, PositionID: "stake-1", Shares: 500},
			amount: 1_000,
			ok:     true,
		},
		{
			name:   "stake pool missing receipt",
			ref:    models.PositionRef{Protocol: models.ProtocolStakePool, Shares: 500},
			amount: 1_000,
		},
		{
			name:   "stake pool zero shares",
			ref:    models.PositionRef{Protocol: models.ProtocolStakePool, PositionID: "stake-1"},
			amount: 1_000,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, err := AdapterFor(tc.ref.Protocol)
			require.NoError(t, err)

			tx := NewTransaction(txSender)
			_, err = adapter.AppendWithdraw(tx, tc.ref, tc.amount)
			if tc.ok {
				assert.NoError(t, err)
				assert.Len(t, tx.Instructions, 1)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPositionRef)
				assert.Empty(t, tx.Instructions)
			}
		})
	}
}

func TestWithdrawProtocolMismatch(t *testing.T) {
	adapter, err := AdapterFor(models.ProtocolLendVault)
	require.NoError(t, err)

	tx := NewTransaction(txSender)
	_, err = adapter.AppendWithdraw(tx, models.PositionRef{
		Protocol:   models.ProtocolStakePool,
		PositionID: "stake-1",
		Shares:     500,
	}, 1_000)
	assert.ErrorIs(t, err, ErrInvalidPositionRef)
}
