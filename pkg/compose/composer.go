package compose

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/timevault-hq/timevault-executor/pkg/models"
	"github.com/timevault-hq/timevault-executor/pkg/signer"
)

// ErrMissingTarget means the strategy record carries no settlement target.
// A default is never substituted for missing authorization data.
var ErrMissingTarget = errors.New("strategy record has no target address")

// ErrSponsorIsSender rejects a sponsored transaction whose gas payer is the
// same identity as the fund-moving sender.
var ErrSponsorIsSender = errors.New("sponsor must be distinct from sender")

// SignedTransaction is a sealed transaction plus the signatures required by
// its submission mode. SponsorSig is nil in direct mode.
type SignedTransaction struct {
	Tx         *Transaction
	SenderSig  []byte
	SponsorSig []byte
}

// Composer orchestrates withdraw, optional swap, and settlement into
// exactly one atomic transaction per due task.
type Composer struct {
	swap       *SwapAdapter
	gasBudget  uint64
	defaultBps uint64
}

// NewComposer builds a composer. defaultSlippageBps applies to swap steps
// whose record carries no explicit bound. The configured gas budget is
// clamped into the safety window at composition time, not here, so
// reconfiguration stays visible in the logs.
func NewComposer(swap *SwapAdapter, gasBudget uint64, defaultSlippageBps uint64) *Composer {
	return &Composer{
		swap:       swap,
		gasBudget:  gasBudget,
		defaultBps: defaultSlippageBps,
	}
}

// Compose builds the settlement transaction for a yield-optimized task:
// withdraw the principal from the recorded position, optionally swap it,
// transfer every produced fund to the record's target, then execute the
// task on the ledger. The returned transaction is sealed: no fund handle
// is left untransferred.
func (c *Composer) Compose(ctx context.Context, task models.ScheduledTask, rec *models.YieldStrategyRecord, sender common.Address) (*Transaction, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: no strategy record", ErrInvalidPositionRef)
	}
	if rec.TaskID != task.ID {
		return nil, fmt.Errorf("%w: record is for task %s, composing %s", ErrInvalidPositionRef, rec.TaskID, task.ID)
	}
	if rec.TargetAddress == (common.Address{}) {
		return nil, ErrMissingTarget
	}

	adapter, err := AdapterFor(rec.Position.Protocol)
	if err != nil {
		return nil, err
	}

	tx := NewTransaction(sender)

	withdrawn, err := adapter.AppendWithdraw(tx, rec.Position, task.Balance)
	if err != nil {
		return nil, err
	}

	if rec.Swap != nil {
		cfg := *rec.Swap
		if cfg.SlippageBps == 0 {
			cfg.SlippageBps = c.defaultBps
		}
		outputs, err := c.swap.AppendSwap(ctx, tx, withdrawn, task.Balance, cfg)
		if err != nil {
			return nil, err
		}
		for _, h := range outputs {
			if err := tx.AppendTransfer(h, rec.TargetAddress); err != nil {
				return nil, err
			}
		}
	} else {
		if err := tx.AppendTransfer(withdrawn, rec.TargetAddress); err != nil {
			return nil, err
		}
	}

	tx.AppendExecuteTask(task.ID)
	tx.GasBudget = ClampGasBudget(c.gasBudget)

	if err := tx.Seal(); err != nil {
		return nil, err
	}
	return tx, nil
}

// SignDirect signs in direct mode: one identity both authorizes fund
// movement and pays the network fee.
func SignDirect(tx *Transaction, sender *signer.Signer) (*SignedTransaction, error) {
	tx.Sender = sender.Address()
	tx.GasPayer = common.Address{}

	digest, err := tx.Digest()
	if err != nil {
		return nil, err
	}
	sig, err := sender.SignDigest(digest)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{Tx: tx, SenderSig: sig}, nil
}

// SignSponsored signs in sponsored mode: the sponsor co-signs to cover the
// network fee while never gaining custody of the escrowed funds. Both
// signatures cover the same digest, which binds the gas payer identity.
func SignSponsored(tx *Transaction, sender, sponsor *signer.Signer) (*SignedTransaction, error) {
	if sponsor.Address() == sender.Address() {
		return nil, ErrSponsorIsSender
	}
	tx.Sender = sender.Address()
	tx.GasPayer = sponsor.Address()

	digest, err := tx.Digest()
	if err != nil {
		return nil, err
	}
	senderSig, err := sender.SignDigest(digest)
	if err != nil {
		return nil, err
	}
	sponsorSig, err := sponsor.SignDigest(digest)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{Tx: tx, SenderSig: senderSig, SponsorSig: sponsorSig}, nil
}
