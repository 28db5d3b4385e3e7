// Package compose builds the atomic settlement transaction for a due task:
// withdraw from a yield position, optionally swap, then transfer every
// produced fund to the task's target — one transaction that commits or
// aborts as a single unit.
package compose

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// Gas budget safety window. Configured values are clamped into this range
// regardless of what the operator set, as an anti-drain control.
const (
	MinGasBudget uint64 = 1_000_000
	MaxGasBudget uint64 = 500_000_000
)

// ErrDanglingFunds means a fund handle produced during composition was never
// transferred. Such a transaction must never be submitted.
var ErrDanglingFunds = errors.New("transaction leaves produced funds untransferred")

// InstructionKind distinguishes the steps of a composed transaction.
type InstructionKind string

const (
	InstrWithdraw    InstructionKind = "withdraw"
	InstrSwap        InstructionKind = "swap"
	InstrTransfer    InstructionKind = "transfer"
	InstrExecuteTask InstructionKind = "execute_task"
)

// FundsHandle is an opaque reference to funds produced by an earlier
// instruction in the same transaction, by result index. Handle 0 is valid,
// so handle fields are always encoded (no omitempty).
type FundsHandle int

// Instruction is one step of a composed transaction. Only the fields
// relevant to the Kind are set.
type Instruction struct {
	Kind InstructionKind `json:"kind"`

	// withdraw
	Position models.PositionRef `json:"position,omitempty"`
	Amount   uint64             `json:"amount,omitempty"`

	// swap
	PoolID string      `json:"pool_id,omitempty"`
	AToB   bool        `json:"a_to_b,omitempty"`
	MinOut uint64      `json:"min_out,omitempty"`
	Input  FundsHandle `json:"input"`

	// handles produced by withdraw/swap
	Outputs []FundsHandle `json:"outputs,omitempty"`

	// transfer
	Source    FundsHandle    `json:"source"`
	Recipient common.Address `json:"recipient,omitempty"`

	// execute_task
	TaskID string `json:"task_id,omitempty"`
}

// Transaction is an in-progress atomic transaction. Instructions execute in
// order; if any step fails, ledger-level atomicity guarantees zero partial
// effects.
type Transaction struct {
	Sender       common.Address `json:"sender"`
	GasPayer     common.Address `json:"gas_payer"` // zero value means the sender pays
	GasBudget    uint64         `json:"gas_budget"`
	Instructions []Instruction  `json:"instructions"`

	nextHandle FundsHandle
	live       map[FundsHandle]bool
}

// NewTransaction starts an empty transaction authorized by sender.
func NewTransaction(sender common.Address) *Transaction {
	return &Transaction{
		Sender: sender,
		live:   make(map[FundsHandle]bool),
	}
}

func (t *Transaction) produce() FundsHandle {
	h := t.nextHandle
	t.nextHandle++
	t.live[h] = true
	return h
}

func (t *Transaction) consume(h FundsHandle) error {
	if !t.live[h] {
		return fmt.Errorf("funds handle %d is not live", h)
	}
	delete(t.live, h)
	return nil
}

// LiveHandles returns all produced handles not yet consumed, in order.
func (t *Transaction) LiveHandles() []FundsHandle {
	out := make([]FundsHandle, 0, len(t.live))
	for h := range t.live {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// appendWithdraw records a protocol withdraw step. Validation of the
// position reference happens in the per-protocol adapter before this point.
func (t *Transaction) appendWithdraw(ref models.PositionRef, amount uint64) FundsHandle {
	h := t.produce()
	t.Instructions = append(t.Instructions, Instruction{
		Kind:     InstrWithdraw,
		Position: ref,
		Amount:   amount,
		Outputs:  []FundsHandle{h},
	})
	return h
}

// appendSwap records a slippage-bounded swap consuming input and producing
// the swapped output plus the residual of the input asset.
func (t *Transaction) appendSwap(input FundsHandle, poolID string, aToB bool, minOut uint64) ([]FundsHandle, error) {
	if err := t.consume(input); err != nil {
		return nil, err
	}
	out := t.produce()
	residual := t.produce()
	t.Instructions = append(t.Instructions, Instruction{
		Kind:    InstrSwap,
		PoolID:  poolID,
		AToB:    aToB,
		MinOut:  minOut,
		Input:   input,
		Outputs: []FundsHandle{out, residual},
	})
	return []FundsHandle{out, residual}, nil
}

// AppendTransfer sends the funds behind a handle to the recipient,
// consuming the handle.
func (t *Transaction) AppendTransfer(h FundsHandle, recipient common.Address) error {
	if err := t.consume(h); err != nil {
		return err
	}
	t.Instructions = append(t.Instructions, Instruction{
		Kind:      InstrTransfer,
		Source:    h,
		Recipient: recipient,
	})
	return nil
}

// AppendExecuteTask records the ledger-level task execution as the final
// settlement step.
func (t *Transaction) AppendExecuteTask(taskID string) {
	t.Instructions = append(t.Instructions, Instruction{
		Kind:   InstrExecuteTask,
		TaskID: taskID,
	})
}

// Seal verifies the no-dangling-funds invariant and freezes the transaction
// for signing.
func (t *Transaction) Seal() error {
	if len(t.live) != 0 {
		return fmt.Errorf("%w: %d handle(s) live", ErrDanglingFunds, len(t.live))
	}
	return nil
}

// Digest returns the keccak256 hash of the canonical transaction encoding.
// Both the sender and, in sponsored mode, the gas payer sign this digest.
func (t *Transaction) Digest() (common.Hash, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode transaction: %v", err)
	}
	return crypto.Keccak256Hash(raw), nil
}

// ClampGasBudget forces a configured gas budget into the safety window.
func ClampGasBudget(budget uint64) uint64 {
	if budget < MinGasBudget {
		return MinGasBudget
	}
	if budget > MaxGasBudget {
		return MaxGasBudget
	}
	return budget
}
