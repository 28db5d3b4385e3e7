package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/timevault-hq/timevault-executor/pkg/compose"
	"github.com/timevault-hq/timevault-executor/pkg/models"
	"github.com/timevault-hq/timevault-executor/pkg/signer"
)

// Gas accounting for the local backend: a flat cost per instruction,
// bounded by the transaction's budget, at a fixed reference price.
const (
	gasPerInstruction uint64 = 250_000
	referenceGasPrice uint64 = 1_000
)

// LocalClient implements Client against an in-process ledger and protocol
// world. It enforces the same signature and atomicity rules an RPC-backed
// submission path would see: every instruction of a composed transaction is
// staged first and nothing is applied unless all of them succeed.
type LocalClient struct {
	ledger *Ledger
	world  *World
}

var _ Client = (*LocalClient)(nil)

// NewLocalClient wires a client to its ledger and world.
func NewLocalClient(l *Ledger, w *World) *LocalClient {
	return &LocalClient{ledger: l, world: w}
}

// QueryCreationEvents returns up to limit TaskCreated events, newest first.
func (c *LocalClient) QueryCreationEvents(ctx context.Context, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.ledger.EventsByType(EventTaskCreated, limit), nil
}

// GetTask resolves the live state of one task.
func (c *LocalClient) GetTask(ctx context.Context, taskID string) (models.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return models.ScheduledTask{}, err
	}
	return c.ledger.GetTask(taskID)
}

// MultiGetTasks batch-resolves task state, omitting consumed tasks.
func (c *LocalClient) MultiGetTasks(ctx context.Context, taskIDs []string) (map[string]models.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]models.ScheduledTask, len(taskIDs))
	for _, id := range taskIDs {
		task, err := c.ledger.GetTask(id)
		if err != nil {
			continue // consumed between event emission and resolution
		}
		out[id] = task
	}
	return out, nil
}

// SubmitExecute verifies the caller's signature and executes the task.
func (c *LocalClient) SubmitExecute(ctx context.Context, req ExecuteRequest) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}
	digest := ExecuteDigest(req.TaskID, req.Caller)
	recovered, err := signer.Recover(digest, req.Signature)
	if err != nil {
		return SubmitResult{}, err
	}
	if recovered != req.Caller {
		return SubmitResult{}, fmt.Errorf("signature mismatch: signed by %s, caller %s", recovered.Hex(), req.Caller.Hex())
	}

	ev, err := c.ledger.ExecuteTask(req.Caller, req.TaskID)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{
		Digest:  digest.Hex(),
		GasUsed: gasPerInstruction,
		Event:   ev,
	}, nil
}

// MarkTaskFailed records a failed attempt without moving funds.
func (c *LocalClient) MarkTaskFailed(ctx context.Context, caller common.Address, taskID string, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.ledger.MarkTaskFailed(caller, taskID, reason)
	return err
}

// ReferenceGasPrice returns the local backend's fixed gas price.
func (c *LocalClient) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return referenceGasPrice, nil
}

// CheckClockDrift compares the ledger clock against a reference time.
func (c *LocalClient) CheckClockDrift(ctx context.Context, referenceMs int64) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	drift, within := c.ledger.CheckClockDrift(referenceMs)
	return drift, within, nil
}

// fundsVal is the staged value behind a fund handle during execution.
type fundsVal struct {
	amount uint64
}

// stagedEffects accumulates the world mutations of an in-flight composed
// transaction. Nothing is applied until commit.
type stagedEffects struct {
	consumedPositions []string
	poolReserves      map[string][2]uint64
	credits           map[common.Address]uint64
}

// SubmitTransaction executes a composed settlement transaction atomically.
// Signature rules: the sender always signs; a sponsored transaction (gas
// payer set) additionally requires the sponsor's signature over the same
// digest, and the sponsor must differ from the sender. Any instruction
// failure aborts the whole transaction with zero partial effects.
func (c *LocalClient) SubmitTransaction(ctx context.Context, signed *compose.SignedTransaction) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}
	tx := signed.Tx

	digest, err := tx.Digest()
	if err != nil {
		return SubmitResult{}, err
	}
	if err := c.verifySignatures(tx, digest, signed); err != nil {
		return SubmitResult{}, err
	}
	if tx.GasBudget < compose.MinGasBudget || tx.GasBudget > compose.MaxGasBudget {
		return SubmitResult{}, fmt.Errorf("gas budget %d out of bounds [%d, %d]", tx.GasBudget, compose.MinGasBudget, compose.MaxGasBudget)
	}

	c.world.mu.Lock()
	defer c.world.mu.Unlock()

	// Stage every instruction. The ledger call is deferred to commit time so
	// that its own atomic transition is the final gate.
	staged := &stagedEffects{
		poolReserves: make(map[string][2]uint64),
		credits:      make(map[common.Address]uint64),
	}
	handles := make(map[compose.FundsHandle]fundsVal)
	executeTaskID := ""

	for i, instr := range tx.Instructions {
		switch instr.Kind {
		case compose.InstrWithdraw:
			val, err := c.stageWithdraw(staged, instr)
			if err != nil {
				return SubmitResult{}, fmt.Errorf("instruction %d: %w", i, err)
			}
			handles[instr.Outputs[0]] = val

		case compose.InstrSwap:
			outVal, residualVal, err := c.stageSwap(staged, handles, instr)
			if err != nil {
				return SubmitResult{}, fmt.Errorf("instruction %d: %w", i, err)
			}
			handles[instr.Outputs[0]] = outVal
			handles[instr.Outputs[1]] = residualVal

		case compose.InstrTransfer:
			val, ok := handles[instr.Source]
			if !ok {
				return SubmitResult{}, fmt.Errorf("instruction %d: transfer of unknown handle %d", i, instr.Source)
			}
			delete(handles, instr.Source)
			staged.credits[instr.Recipient] += val.amount

		case compose.InstrExecuteTask:
			executeTaskID = instr.TaskID

		default:
			return SubmitResult{}, fmt.Errorf("instruction %d: unknown kind %q", i, instr.Kind)
		}
	}

	// Commit. The ledger execution is itself atomic; if it aborts, no staged
	// world effect has been applied either.
	var event Event
	if executeTaskID != "" {
		event, err = c.ledger.ExecuteTask(tx.Sender, executeTaskID)
		if err != nil {
			return SubmitResult{}, err
		}
	}
	c.applyLocked(staged)

	gasUsed := gasPerInstruction * uint64(len(tx.Instructions))
	if gasUsed > tx.GasBudget {
		gasUsed = tx.GasBudget
	}
	return SubmitResult{
		Digest:  digest.Hex(),
		GasUsed: gasUsed,
		Event:   event,
	}, nil
}

func (c *LocalClient) verifySignatures(tx *compose.Transaction, digest common.Hash, signed *compose.SignedTransaction) error {
	sender, err := signer.Recover(digest, signed.SenderSig)
	if err != nil {
		return fmt.Errorf("sender signature: %w", err)
	}
	if sender != tx.Sender {
		return fmt.Errorf("sender signature mismatch: signed by %s, sender %s", sender.Hex(), tx.Sender.Hex())
	}

	if tx.GasPayer == (common.Address{}) {
		return nil // direct mode
	}
	if tx.GasPayer == tx.Sender {
		return fmt.Errorf("sponsored transaction: gas payer equals sender")
	}
	if len(signed.SponsorSig) == 0 {
		return fmt.Errorf("sponsored transaction: missing sponsor signature")
	}
	sponsor, err := signer.Recover(digest, signed.SponsorSig)
	if err != nil {
		return fmt.Errorf("sponsor signature: %w", err)
	}
	if sponsor != tx.GasPayer {
		return fmt.Errorf("sponsor signature mismatch: signed by %s, gas payer %s", sponsor.Hex(), tx.GasPayer.Hex())
	}
	return nil
}

func (c *LocalClient) stageWithdraw(staged *stagedEffects, instr compose.Instruction) (fundsVal, error) {
	pos, ok := c.world.positions[instr.Position.PositionID]
	if !ok {
		return fundsVal{}, fmt.Errorf("position not found: %s", instr.Position.PositionID)
	}
	for _, consumed := range staged.consumedPositions {
		if consumed == pos.Ref.PositionID {
			return fundsVal{}, fmt.Errorf("position already consumed in this transaction: %s", pos.Ref.PositionID)
		}
	}
	if pos.Ref.Protocol != instr.Position.Protocol {
		return fundsVal{}, fmt.Errorf("position %s belongs to %s, withdraw targets %s",
			pos.Ref.PositionID, pos.Ref.Protocol, instr.Position.Protocol)
	}
	if instr.Amount > pos.Principal {
		return fundsVal{}, fmt.Errorf("withdraw %d exceeds position principal %d", instr.Amount, pos.Principal)
	}
	staged.consumedPositions = append(staged.consumedPositions, pos.Ref.PositionID)
	return fundsVal{amount: instr.Amount}, nil
}

func (c *LocalClient) stageSwap(staged *stagedEffects, handles map[compose.FundsHandle]fundsVal, instr compose.Instruction) (fundsVal, fundsVal, error) {
	input, ok := handles[instr.Input]
	if !ok {
		return fundsVal{}, fundsVal{}, fmt.Errorf("swap of unknown handle %d", instr.Input)
	}
	delete(handles, instr.Input)

	pool, ok := c.world.pools[instr.PoolID]
	if !ok {
		return fundsVal{}, fundsVal{}, fmt.Errorf("pool not found: %s", instr.PoolID)
	}
	reserveA, reserveB := pool.ReserveA, pool.ReserveB
	if prior, ok := staged.poolReserves[pool.ID]; ok {
		reserveA, reserveB = prior[0], prior[1]
	}

	out, err := quoteSwap(&Pool{ID: pool.ID, ReserveA: reserveA, ReserveB: reserveB, FeeBps: pool.FeeBps}, instr.AToB, input.amount)
	if err != nil {
		return fundsVal{}, fundsVal{}, err
	}
	if out < instr.MinOut {
		return fundsVal{}, fundsVal{}, fmt.Errorf("slippage exceeded on pool %s: output %d below min_out %d", pool.ID, out, instr.MinOut)
	}

	if instr.AToB {
		reserveA += input.amount
		reserveB -= out
	} else {
		reserveB += input.amount
		reserveA -= out
	}
	staged.poolReserves[pool.ID] = [2]uint64{reserveA, reserveB}

	// The whole input is swapped; the residual handle exists so unused
	// counter-asset can never be silently dropped by the composer.
	return fundsVal{amount: out}, fundsVal{amount: 0}, nil
}

// applyLocked commits staged effects. Callers hold the world lock. Pure map
// writes: this step cannot fail, which is what makes the staging sound.
func (c *LocalClient) applyLocked(staged *stagedEffects) {
	for _, id := range staged.consumedPositions {
		delete(c.world.positions, id)
	}
	for poolID, reserves := range staged.poolReserves {
		pool := c.world.pools[poolID]
		pool.ReserveA = reserves[0]
		pool.ReserveB = reserves[1]
	}
	for addr, amount := range staged.credits {
		c.world.holdings[addr] += amount
	}
}
