package ledger

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// ClockDriftThresholdMs bounds the acceptable divergence between the
// ledger's clock and an external reference time.
const ClockDriftThresholdMs = 5000

// Clock supplies the ledger's canonical time. Tests substitute a manual
// clock to control execute_at comparisons.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Ledger is the escrow state machine. It is the only writer of task and
// registry state; every operation mutates under a single lock and either
// fully applies or fully aborts, so partial state never escapes one call.
type Ledger struct {
	mu       sync.Mutex
	clock    Clock
	admin    common.Address
	paused   bool
	minFee   uint64
	tasks    map[string]*models.ScheduledTask
	stats    models.RegistryStats
	events   []Event
	balances map[common.Address]uint64
	nextSeq  uint64
}

// New creates a ledger with the given admin identity and minimum relayer fee.
func New(admin common.Address, minRelayerFee uint64, clock Clock) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Ledger{
		clock:    clock,
		admin:    admin,
		minFee:   minRelayerFee,
		tasks:    make(map[string]*models.ScheduledTask),
		balances: make(map[common.Address]uint64),
	}
}

func (l *Ledger) nowMs() int64 {
	return l.clock.Now().UnixMilli()
}

func (l *Ledger) emit(ev Event) Event {
	l.nextSeq++
	ev.Seq = l.nextSeq
	ev.Timestamp = l.nowMs()
	l.events = append(l.events, ev)
	return ev
}

// CreateTask locks a payment in a new scheduled task, splitting the relayer
// fee from the principal. The payment must cover more than the fee and the
// execution time must be in the future.
func (l *Ledger) CreateTask(sender common.Address, payment uint64, recipient common.Address, executeAtMs int64, feeAmount uint64, metadata []byte) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return Event{}, ErrContractPaused
	}
	now := l.nowMs()
	if executeAtMs <= now {
		return Event{}, ErrInvalidExecutionTime
	}
	if feeAmount < l.minFee {
		return Event{}, ErrFeeTooLow
	}
	if payment <= feeAmount {
		return Event{}, ErrInsufficientFunds
	}

	task := &models.ScheduledTask{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Balance:   payment - feeAmount,
		Fee:       feeAmount,
		ExecuteAt: executeAtMs,
		Status:    models.StatusPending,
		CreatedAt: now,
		Metadata:  metadata,
	}
	l.tasks[task.ID] = task

	l.stats.TasksCreated++
	l.stats.TotalVolume += task.Balance
	l.stats.TotalFees += task.Fee

	ev := l.emit(Event{
		Type:      EventTaskCreated,
		TaskID:    task.ID,
		Sender:    sender,
		Recipient: recipient,
		Amount:    task.Balance,
		ExecuteAt: executeAtMs,
	})
	return ev, nil
}

// ExecuteTask settles a due task: the principal goes to the recipient, the
// fee to the caller, and the task object is deleted. The transition is
// consumable by exactly one caller; a second attempt sees TaskNotFound.
func (l *Ledger) ExecuteTask(caller common.Address, taskID string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executeLocked(caller, taskID)
}

// executeLocked is ExecuteTask without taking the lock, for callers that
// compose the execution into a larger atomic unit.
func (l *Ledger) executeLocked(caller common.Address, taskID string) (Event, error) {
	if l.paused {
		return Event{}, ErrContractPaused
	}
	task, ok := l.tasks[taskID]
	if !ok {
		return Event{}, ErrTaskNotFound
	}
	if task.Status != models.StatusPending {
		return Event{}, ErrInvalidStatus
	}
	if l.nowMs() < task.ExecuteAt {
		return Event{}, ErrNotReadyYet
	}

	l.balances[task.Recipient] += task.Balance
	l.balances[caller] += task.Fee
	delete(l.tasks, taskID)
	l.stats.TasksExecuted++

	ev := l.emit(Event{
		Type:           EventTaskExecuted,
		TaskID:         taskID,
		Executor:       caller,
		Amount:         task.Balance,
		RelayerFeePaid: task.Fee,
	})
	return ev, nil
}

// CancelTask refunds principal plus fee to the original sender and deletes
// the task. Allowed while Pending or Failed; a cancel attempted after
// execution sees TaskNotFound because the ledger deletes executed tasks.
func (l *Ledger) CancelTask(caller common.Address, taskID string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.tasks[taskID]
	if !ok {
		return Event{}, ErrTaskNotFound
	}
	if caller != task.Sender {
		return Event{}, ErrUnauthorized
	}
	if task.Status != models.StatusPending && task.Status != models.StatusFailed {
		return Event{}, ErrInvalidStatus
	}

	l.balances[task.Sender] += task.Balance + task.Fee
	delete(l.tasks, taskID)
	l.stats.TasksCancelled++

	ev := l.emit(Event{
		Type:   EventTaskCancelled,
		TaskID: taskID,
		Sender: task.Sender,
		Amount: task.Balance + task.Fee,
	})
	return ev, nil
}

// MarkTaskFailed records a failed execution attempt. Funds never move; the
// task stays recoverable via reschedule or cancel. The reason is stored on
// the task and emitted in the event; the event log is authoritative.
func (l *Ledger) MarkTaskFailed(caller common.Address, taskID string, reason string) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, ok := l.tasks[taskID]
	if !ok {
		return Event{}, ErrTaskNotFound
	}
	if task.Status.IsTerminal() {
		return Event{}, ErrInvalidStatus
	}

	task.Status = models.StatusFailed
	task.AttemptCount++
	task.LastFailureReason = reason
	l.stats.TasksFailed++

	ev := l.emit(Event{
		Type:     EventTaskFailed,
		TaskID:   taskID,
		Executor: caller,
		Reason:   reason,
	})
	return ev, nil
}

// RescheduleTask moves a Pending or Failed task back to Pending with a new
// execution time and clears any prior failure reason. Only the original
// sender or the registry admin may reschedule.
func (l *Ledger) RescheduleTask(caller common.Address, taskID string, newExecuteAtMs int64) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return Event{}, ErrContractPaused
	}
	task, ok := l.tasks[taskID]
	if !ok {
		return Event{}, ErrTaskNotFound
	}
	if caller != task.Sender && caller != l.admin {
		return Event{}, ErrUnauthorized
	}
	if task.Status.IsTerminal() {
		return Event{}, ErrInvalidStatus
	}
	if newExecuteAtMs <= l.nowMs() {
		return Event{}, ErrInvalidExecutionTime
	}

	task.ExecuteAt = newExecuteAtMs
	task.Status = models.StatusPending
	task.LastFailureReason = ""

	ev := l.emit(Event{
		Type:      EventTaskRescheduled,
		TaskID:    taskID,
		ExecuteAt: newExecuteAtMs,
	})
	return ev, nil
}

// SetPaused toggles the registry pause flag. Admin only.
func (l *Ledger) SetPaused(caller common.Address, paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.admin {
		return ErrUnauthorized
	}
	l.paused = paused
	return nil
}

// SetMinRelayerFee updates the registry minimum fee. Admin only.
func (l *Ledger) SetMinRelayerFee(caller common.Address, fee uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.admin {
		return ErrUnauthorized
	}
	l.minFee = fee
	return nil
}

// GetTask returns a copy of the task, or ErrTaskNotFound.
func (l *Ledger) GetTask(taskID string) (models.ScheduledTask, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[taskID]
	if !ok {
		return models.ScheduledTask{}, ErrTaskNotFound
	}
	return *task, nil
}

// IsReadyToExecute reports whether the task is Pending and due.
func (l *Ledger) IsReadyToExecute(taskID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[taskID]
	if !ok {
		return false, ErrTaskNotFound
	}
	return task.Status == models.StatusPending && l.nowMs() >= task.ExecuteAt, nil
}

// Stats returns a snapshot of the registry counters.
func (l *Ledger) Stats() models.RegistryStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := l.stats
	stats.MinRelayerFee = l.minFee
	stats.Paused = l.paused
	stats.Admin = l.admin
	return stats
}

// Balance returns the settled (non-escrowed) balance for an address.
func (l *Ledger) Balance(addr common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}

// CheckClockDrift reports the divergence between the ledger clock and an
// external reference time, and whether it is within the bounded threshold.
func (l *Ledger) CheckClockDrift(referenceMs int64) (driftMs int64, within bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	driftMs = l.nowMs() - referenceMs
	if driftMs < 0 {
		driftMs = -driftMs
	}
	return driftMs, driftMs <= ClockDriftThresholdMs
}

// Events returns the newest count events, newest first. count <= 0 returns
// the whole log.
func (l *Ledger) Events(count int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.events)
	if count <= 0 || count > n {
		count = n
	}
	out := make([]Event, 0, count)
	for i := n - 1; i >= n-count; i-- {
		out = append(out, l.events[i])
	}
	return out
}

// EventsByType returns the newest count events of one type, newest first.
func (l *Ledger) EventsByType(t EventType, count int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, 0, count)
	for i := len(l.events) - 1; i >= 0 && (count <= 0 || len(out) < count); i-- {
		if l.events[i].Type == t {
			out = append(out, l.events[i])
		}
	}
	return out
}
