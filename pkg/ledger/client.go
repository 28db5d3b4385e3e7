package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/timevault-hq/timevault-executor/pkg/compose"
	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// SubmitResult reports the outcome of a successful submission.
type SubmitResult struct {
	Digest  string
	GasUsed uint64
	Event   Event
}

// ExecuteRequest is the plain settlement call: no yield routing, just the
// ledger-level task execution signed by the caller.
type ExecuteRequest struct {
	TaskID    string
	Caller    common.Address
	Signature []byte
}

// ExecuteDigest is the digest a caller signs for a plain execution.
func ExecuteDigest(taskID string, caller common.Address) common.Hash {
	return crypto.Keccak256Hash([]byte("execute_task|"), []byte(taskID), caller.Bytes())
}

// Client is the ledger RPC surface the executor depends on. Query calls and
// submissions are blocking network calls; callers bound them with contexts.
type Client interface {
	// QueryCreationEvents returns up to limit TaskCreated events, newest first.
	QueryCreationEvents(ctx context.Context, limit int) ([]Event, error)

	// GetTask resolves the live state of one task.
	GetTask(ctx context.Context, taskID string) (models.ScheduledTask, error)

	// MultiGetTasks batch-resolves live task state. Missing tasks are absent
	// from the result rather than an error.
	MultiGetTasks(ctx context.Context, taskIDs []string) (map[string]models.ScheduledTask, error)

	// SubmitExecute submits a plain settlement call.
	SubmitExecute(ctx context.Context, req ExecuteRequest) (SubmitResult, error)

	// SubmitTransaction submits a composed settlement transaction. All of its
	// steps apply atomically or not at all.
	SubmitTransaction(ctx context.Context, signed *compose.SignedTransaction) (SubmitResult, error)

	// MarkTaskFailed records a failed attempt on the ledger without moving funds.
	MarkTaskFailed(ctx context.Context, caller common.Address, taskID string, reason string) error

	// ReferenceGasPrice returns the ledger's current reference price per gas
	// unit, used for cost visibility rather than submission gating.
	ReferenceGasPrice(ctx context.Context) (uint64, error)

	// CheckClockDrift compares the ledger clock against a reference time.
	CheckClockDrift(ctx context.Context, referenceMs int64) (driftMs int64, within bool, err error)
}
