package executor

import (
	"sync"
	"time"

	"github.com/timevault-hq/timevault-executor/pkg/logger"
	"github.com/timevault-hq/timevault-executor/pkg/metrics"
	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// DispatchFunc re-dispatches a task when its retry timer fires.
type DispatchFunc func(taskID string, attempt int)

// RetryQueue schedules retry timers with exponential backoff. At most one
// timer is live per task id: scheduling a new retry cancels and replaces
// the prior one. Each task backs off independently.
type RetryQueue struct {
	mu            sync.Mutex
	base          time.Duration
	max           time.Duration
	pausedBackoff time.Duration
	entries       map[string]*retryEntry
	dispatch      DispatchFunc
	log           logger.Logger
	stopped       bool
	firing        sync.WaitGroup
}

type retryEntry struct {
	timer *time.Timer
	job   models.RetryJob
}

// NewRetryQueue creates a retry queue. dispatch is invoked from the timer
// goroutine when a retry becomes due.
func NewRetryQueue(base, max, pausedBackoff time.Duration, dispatch DispatchFunc, log logger.Logger) *RetryQueue {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &RetryQueue{
		base:          base,
		max:           max,
		pausedBackoff: pausedBackoff,
		entries:       make(map[string]*retryEntry),
		dispatch:      dispatch,
		log:           log,
	}
}

// Backoff computes the delay before retry number attempt: base doubled per
// prior attempt, capped at the ceiling.
func (q *RetryQueue) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	backoff := q.base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= q.max {
			return q.max
		}
	}
	if backoff > q.max {
		backoff = q.max
	}
	return backoff
}

// DelayFor maps an error classification to the retry delay. TimeNotReady is
// a scheduling race and retries immediately; a paused registry waits the
// long backoff; everything else follows the exponential schedule.
func (q *RetryQueue) DelayFor(errorType ErrorType, attempt int) time.Duration {
	switch errorType {
	case ErrorTypeTimeNotReady:
		return 0
	case ErrorTypeContractPaused:
		return q.pausedBackoff
	}
	return q.Backoff(attempt)
}

// Schedule arms (or re-arms) the retry timer for a task. The attempt number
// is carried to the dispatch so backoff keeps growing across failures.
func (q *RetryQueue) Schedule(taskID string, attempt int, delay time.Duration, errorType ErrorType) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}

	if prior, ok := q.entries[taskID]; ok {
		prior.timer.Stop()
		q.log.DebugWith(logger.Retry, "Replacing pending retry for task %s", taskID)
	}

	job := models.RetryJob{
		TaskID:      taskID,
		Attempt:     attempt,
		NextAttempt: time.Now().Add(delay),
		ErrorType:   string(errorType),
	}
	entry := &retryEntry{job: job}
	entry.timer = time.AfterFunc(delay, func() { q.fire(taskID) })
	q.entries[taskID] = entry

	metrics.RetriesScheduled.WithLabelValues(string(errorType)).Inc()
	metrics.RetryQueueSize.Set(float64(len(q.entries)))
	q.log.InfoWith(logger.Retry, "Scheduled retry #%d for task %s in %v (error: %s)", attempt, taskID, delay, errorType)
}

func (q *RetryQueue) fire(taskID string) {
	q.mu.Lock()
	entry, ok := q.entries[taskID]
	if ok {
		delete(q.entries, taskID)
	}
	live := ok && !q.stopped
	if live {
		// Registered under the lock so Stop cannot miss this dispatch.
		q.firing.Add(1)
	}
	metrics.RetryQueueSize.Set(float64(len(q.entries)))
	q.mu.Unlock()

	if !live {
		return
	}
	defer q.firing.Done()
	metrics.RetriesExecuted.Inc()
	q.dispatch(taskID, entry.job.Attempt)
}

// Cancel drops any pending retry for the task. Returns true if one existed.
func (q *RetryQueue) Cancel(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[taskID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(q.entries, taskID)
	metrics.RetryQueueSize.Set(float64(len(q.entries)))
	return true
}

// Pending reports whether a retry timer is live for the task.
func (q *RetryQueue) Pending(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[taskID]
	return ok
}

// Len returns the number of live retry timers.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stop cancels every pending timer, rejects further scheduling, and waits
// for dispatches already firing to hand off.
func (q *RetryQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	for id, entry := range q.entries {
		entry.timer.Stop()
		delete(q.entries, id)
	}
	metrics.RetryQueueSize.Set(0)
	q.mu.Unlock()
	q.firing.Wait()
}
