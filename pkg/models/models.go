package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TaskStatus represents the lifecycle state of a scheduled task.
type TaskStatus string

const (
	// StatusPending means the task is waiting for its execution time.
	StatusPending TaskStatus = "pending"
	// StatusExecuted means the task has been settled and funds released.
	StatusExecuted TaskStatus = "executed"
	// StatusCancelled means the sender reclaimed the escrowed funds.
	StatusCancelled TaskStatus = "cancelled"
	// StatusFailed means the last execution attempt failed; funds remain locked
	// and the task is recoverable via reschedule or cancel.
	StatusFailed TaskStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// ScheduledTask is an escrow object owned by the ledger. The principal and
// the relayer fee are locked in the task until it is executed or cancelled.
type ScheduledTask struct {
	ID                string
	Sender            common.Address
	Recipient         common.Address
	Balance           uint64 // escrowed principal, payment minus fee
	Fee               uint64 // relayer fee paid to the executing caller
	ExecuteAt         int64  // epoch milliseconds
	Status            TaskStatus
	AttemptCount      int
	LastFailureReason string
	CreatedAt         int64 // epoch milliseconds
	Metadata          []byte
}

// RegistryStats holds the aggregate counters of the task registry. All
// counters are monotonically non-decreasing.
type RegistryStats struct {
	TasksCreated   uint64
	TasksExecuted  uint64
	TasksCancelled uint64
	TasksFailed    uint64
	TotalVolume    uint64
	TotalFees      uint64
	MinRelayerFee  uint64
	Paused         bool
	Admin          common.Address
}

// RetryJob represents a scheduled retry for a task execution attempt.
type RetryJob struct {
	TaskID      string
	Attempt     int
	NextAttempt time.Time
	ErrorType   string // classification of the error that caused the retry
}
