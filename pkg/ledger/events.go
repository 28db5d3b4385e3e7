package ledger

import "github.com/ethereum/go-ethereum/common"

// EventType distinguishes entries in the ledger's append-only event log.
type EventType string

const (
	EventTaskCreated     EventType = "TaskCreated"
	EventTaskExecuted    EventType = "TaskExecuted"
	EventTaskCancelled   EventType = "TaskCancelled"
	EventTaskFailed      EventType = "TaskFailed"
	EventTaskRescheduled EventType = "TaskRescheduled"
)

// Event is one entry in the ledger's event log. Seq is assigned in emission
// order and is strictly increasing. The event log, not the task entity, is
// the source of truth for failure reasons.
type Event struct {
	Seq       uint64
	Type      EventType
	TaskID    string
	Timestamp int64 // epoch milliseconds

	// TaskCreated
	Sender    common.Address
	Recipient common.Address
	Amount    uint64
	ExecuteAt int64

	// TaskExecuted / TaskFailed
	Executor       common.Address
	RelayerFeePaid uint64
	Reason         string
}
