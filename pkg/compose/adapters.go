package compose

import (
	"errors"
	"fmt"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// Errors surfaced by the withdraw adapters. These are security-sensitive:
// the executor treats them as fatal for the current attempt and never
// substitutes defaults for missing position data.
var (
	ErrUnsupportedProtocol = errors.New("unsupported yield protocol")
	ErrInvalidPositionRef  = errors.New("invalid position reference")
)

// WithdrawAdapter appends a protocol-specific withdraw step to an
// in-progress transaction and returns a handle to the withdrawn funds. It
// never executes standalone: a failed withdraw aborts the whole transaction.
type WithdrawAdapter interface {
	Protocol() models.Protocol
	AppendWithdraw(tx *Transaction, ref models.PositionRef, amount uint64) (FundsHandle, error)
}

// AdapterFor resolves the withdraw adapter for a protocol. The switch is
// exhaustive over the closed Protocol enum.
func AdapterFor(p models.Protocol) (WithdrawAdapter, error) {
	switch p {
	case models.ProtocolLendVault:
		return lendVaultAdapter{}, nil
	case models.ProtocolStakePool:
		return stakePoolAdapter{}, nil
	case models.ProtocolNone:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, p)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, p)
}

// lendVaultAdapter withdraws from a lending-vault deposit. The vault needs
// both the market id and the position object.
type lendVaultAdapter struct{}

func (lendVaultAdapter) Protocol() models.Protocol { return models.ProtocolLendVault }

func (lendVaultAdapter) AppendWithdraw(tx *Transaction, ref models.PositionRef, amount uint64) (FundsHandle, error) {
	if ref.Protocol != models.ProtocolLendVault {
		return 0, fmt.Errorf("%w: reference is for %s, adapter is lend_vault", ErrInvalidPositionRef, ref.Protocol)
	}
	if ref.Market == "" {
		return 0, fmt.Errorf("%w: lend_vault reference missing market id", ErrInvalidPositionRef)
	}
	if ref.PositionID == "" {
		return 0, fmt.Errorf("%w: lend_vault reference missing position id", ErrInvalidPositionRef)
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: withdraw amount is zero", ErrInvalidPositionRef)
	}
	return tx.appendWithdraw(ref, amount), nil
}

// stakePoolAdapter unstakes from a liquid-staking pool. Only the stake
// receipt object is needed; the pool is derived from it.
type stakePoolAdapter struct{}

func (stakePoolAdapter) Protocol() models.Protocol { return models.ProtocolStakePool }

func (stakePoolAdapter) AppendWithdraw(tx *Transaction, ref models.PositionRef, amount uint64) (FundsHandle, error) {
	if ref.Protocol != models.ProtocolStakePool {
		return 0, fmt.Errorf("%w: reference is for %s, adapter is stake_pool", ErrInvalidPositionRef, ref.Protocol)
	}
	if ref.PositionID == "" {
		return 0, fmt.Errorf("%w: stake_pool reference missing receipt id", ErrInvalidPositionRef)
	}
	if ref.Shares == 0 {
		return 0, fmt.Errorf("%w: stake_pool reference has zero shares", ErrInvalidPositionRef)
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: withdraw amount is zero", ErrInvalidPositionRef)
	}
	return tx.appendWithdraw(ref, amount), nil
}
