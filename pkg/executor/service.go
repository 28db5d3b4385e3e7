package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timevault-hq/timevault-executor/pkg/circuitbreaker"
	"github.com/timevault-hq/timevault-executor/pkg/compose"
	"github.com/timevault-hq/timevault-executor/pkg/ledger"
	"github.com/timevault-hq/timevault-executor/pkg/logger"
	"github.com/timevault-hq/timevault-executor/pkg/metrics"
	"github.com/timevault-hq/timevault-executor/pkg/models"
	"github.com/timevault-hq/timevault-executor/pkg/signer"
	"github.com/timevault-hq/timevault-executor/pkg/store"
)

const (
	// submitTimeout bounds a single submission round-trip.
	submitTimeout = 30 * time.Second
	// queryTimeout bounds discovery and state-resolution calls.
	queryTimeout = 15 * time.Second
)

// Settlement modes, used as metric labels.
const (
	modePlain = "plain"
	modeYield = "yield"
)

// Service is the optimistic settlement executor: it polls the ledger for
// due tasks, composes and submits settlement transactions, and retries
// failures according to their classification.
type Service struct {
	client     ledger.Client
	strategies store.Store
	composer   *compose.Composer
	sender     *signer.Signer
	sponsor    *signer.Signer // nil disables sponsored submission
	retry      *RetryQueue
	inflight   *inflightSet
	breaker    *circuitbreaker.CircuitBreaker
	log        logger.Logger

	pollingInterval time.Duration
	pageSize        int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// Options configures a Service beyond its hard dependencies.
type Options struct {
	Sponsor         *signer.Signer
	PollingInterval time.Duration
	EventPageSize   int
	RetryBase       time.Duration
	RetryMax        time.Duration
	PausedBackoff   time.Duration
	Breaker         *circuitbreaker.CircuitBreaker
	Logger          logger.Logger
}

// NewService wires the executor together. The retry queue dispatches back
// into the service so retried tasks flow through the same settlement path
// as freshly discovered ones.
func NewService(client ledger.Client, strategies store.Store, composer *compose.Composer, sender *signer.Signer, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = circuitbreaker.New(false, 0, 0, 0, log)
	}

	s := &Service{
		client:          client,
		strategies:      strategies,
		composer:        composer,
		sender:          sender,
		sponsor:         opts.Sponsor,
		inflight:        newInflightSet(),
		breaker:         breaker,
		log:             log,
		pollingInterval: opts.PollingInterval,
		pageSize:        opts.EventPageSize,
		done:            make(chan struct{}),
	}
	s.retry = NewRetryQueue(opts.RetryBase, opts.RetryMax, opts.PausedBackoff, s.dispatchRetry, log)
	return s
}

// Start launches the scan loop. It returns immediately; Stop shuts the
// loop down and drains pending retry timers.
func (s *Service) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.checkClockDrift()
	s.recordGasPrice()

	go s.run()
}

// Stop halts the scan loop, cancels every pending retry timer, and waits
// for in-flight submissions to run to completion. Submissions carry their
// own timeouts, so Stop is bounded by the slowest one.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.retry.Stop()
	<-s.done
	s.wg.Wait()
}

func (s *Service) run() {
	defer close(s.done)

	s.log.InfoWith(logger.Executor, "Scan loop started (interval: %v, page size: %d)", s.pollingInterval, s.pageSize)

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	// First scan happens immediately, not one interval in.
	s.scan()

	for {
		select {
		case <-s.ctx.Done():
			s.log.InfoWith(logger.Executor, "Scan loop stopped")
			return
		case <-ticker.C:
			s.scan()
		}
	}
}

// scan performs one discovery pass and dispatches every due task.
func (s *Service) scan() {
	if s.breaker.IsOpen() {
		metrics.SkippedBreakerOpen.Inc()
		s.log.NoticeWith(logger.Executor, "Skipping scan: circuit breaker is open")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, queryTimeout)
	due, err := discoverDueTasks(ctx, s.client, s.pageSize)
	cancel()
	if err != nil {
		s.log.ErrorWith(logger.Executor, "Discovery failed: %v", err)
		if Classify(err) == ErrorTypeNetwork {
			s.breaker.RecordFailure()
		}
		return
	}

	metrics.DueTasks.Set(float64(len(due)))
	if len(due) == 0 {
		return
	}
	s.log.InfoWith(logger.Executor, "Found %d due task(s)", len(due))

	for _, task := range due {
		if s.retry.Pending(task.ID) {
			// A retry timer owns this task; let it fire on schedule.
			continue
		}
		s.wg.Add(1)
		go func(task models.ScheduledTask) {
			defer s.wg.Done()
			s.processTask(task, task.AttemptCount)
		}(task)
	}
}

// dispatchRetry is invoked from retry timers. The task is re-resolved so a
// task cancelled or executed while waiting drops out here.
func (s *Service) dispatchRetry(taskID string, attempt int) {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, queryTimeout)
	task, err := s.client.GetTask(ctx, taskID)
	cancel()
	if err != nil {
		if Classify(err).IsTerminal() {
			s.log.DebugWith(logger.Executor, "Retry for task %s dropped: task no longer exists", taskID)
			return
		}
		s.log.ErrorWith(logger.Executor, "Retry for task %s failed to resolve state: %v", taskID, err)
		s.retry.Schedule(taskID, attempt+1, s.retry.DelayFor(Classify(err), attempt), Classify(err))
		return
	}
	if task.Status.IsTerminal() {
		return
	}
	s.processTask(task, attempt)
}

// processTask runs one settlement attempt end to end.
func (s *Service) processTask(task models.ScheduledTask, attempt int) {
	if !s.inflight.TryAcquire(task.ID) {
		s.log.DebugWith(logger.Executor, "Task %s already in flight, skipping", task.ID)
		return
	}
	defer s.inflight.Release(task.ID)

	mode, result, err := s.settle(task)
	if err != nil {
		s.handleFailure(task, attempt, err)
		return
	}

	metrics.TasksExecuted.WithLabelValues("success").Inc()
	metrics.GasUsed.Observe(float64(result.GasUsed))
	delay := time.Since(time.UnixMilli(task.ExecuteAt))
	if delay > 0 {
		metrics.ExecutionDelay.WithLabelValues(mode).Observe(delay.Seconds())
	}
	s.retry.Cancel(task.ID)
	s.log.NoticeWith(logger.Executor, "Task %s settled (%s, digest: %s, gas: %d)", task.ID, mode, result.Digest, result.GasUsed)

	if mode == modeYield {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		if err := s.strategies.Delete(ctx, task.ID); err != nil {
			s.log.ErrorWith(logger.Store, "Failed to delete strategy record for task %s: %v", task.ID, err)
		}
		cancel()
	}
}

// settle decides the settlement mode from the task metadata and submits.
func (s *Service) settle(task models.ScheduledTask) (string, ledger.SubmitResult, error) {
	payload, err := models.DecodeMetadata(task.Metadata)
	if err != nil {
		if errors.Is(err, models.ErrUnknownMetadataVersion) {
			// Future payload versions settle as plain payments; funds are
			// never routed on fields this version cannot validate.
			s.log.NoticeWith(logger.Executor, "Task %s carries unknown metadata version, settling plain", task.ID)
			result, perr := s.settlePlain(task)
			return modePlain, result, perr
		}
		return modePlain, ledger.SubmitResult{}, fmt.Errorf("failed to decode metadata for task %s: %v", task.ID, err)
	}

	if payload.IsYield() {
		result, err := s.settleYield(task)
		return modeYield, result, err
	}
	result, err := s.settlePlain(task)
	return modePlain, result, err
}

// settlePlain submits a bare execute call: the ledger pays the escrowed
// balance to the recipient and the fee to us.
func (s *Service) settlePlain(task models.ScheduledTask) (ledger.SubmitResult, error) {
	digest := ledger.ExecuteDigest(task.ID, s.sender.Address())
	sig, err := s.sender.SignDigest(digest)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("failed to sign execute request: %v", err)
	}

	// Not derived from the service context: a submission already in flight
	// runs to completion even when Stop is called.
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	return s.client.SubmitExecute(ctx, ledger.ExecuteRequest{
		TaskID:    task.ID,
		Caller:    s.sender.Address(),
		Signature: sig,
	})
}

// settleYield composes the full withdraw/swap/transfer/execute transaction
// from the task's strategy record and submits it atomically.
func (s *Service) settleYield(task models.ScheduledTask) (ledger.SubmitResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	rec, err := s.strategies.Get(ctx, task.ID)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("strategy record for task %s: %w", task.ID, err)
	}

	// The position ref names where the capital actually sits; reconcile the
	// stored holding protocol so operators see it while the task is live.
	if rec.HoldingProtocol != rec.Position.Protocol {
		if err := s.strategies.SetHoldingProtocol(ctx, task.ID, rec.Position.Protocol); err != nil {
			s.log.ErrorWith(logger.Store, "Failed to update holding protocol for task %s: %v", task.ID, err)
		} else {
			rec.HoldingProtocol = rec.Position.Protocol
		}
	}

	tx, err := s.composer.Compose(ctx, task, &rec, s.sender.Address())
	if err != nil {
		return ledger.SubmitResult{}, err
	}

	var signed *compose.SignedTransaction
	if s.sponsor != nil {
		signed, err = compose.SignSponsored(tx, s.sender, s.sponsor)
	} else {
		signed, err = compose.SignDirect(tx, s.sender)
	}
	if err != nil {
		return ledger.SubmitResult{}, err
	}

	return s.client.SubmitTransaction(ctx, signed)
}

// handleFailure classifies a settlement error and routes it: terminal
// errors end processing quietly, fatal errors alert and mark the task
// failed, everything else is scheduled for retry.
func (s *Service) handleFailure(task models.ScheduledTask, attempt int, err error) {
	errType := Classify(err)
	metrics.TasksExecuted.WithLabelValues("failure").Inc()
	metrics.ClassifiedErrors.WithLabelValues(string(errType)).Inc()

	if errType == ErrorTypeNetwork {
		s.breaker.RecordFailure()
	}

	if errType.IsTerminal() {
		// Someone else consumed the task. Not our loss.
		s.log.DebugWith(logger.Executor, "Task %s already consumed: %v", task.ID, err)
		s.retry.Cancel(task.ID)
		return
	}

	if !errType.IsRetryable() {
		metrics.FatalAlerts.WithLabelValues(string(errType)).Inc()
		s.log.ErrorWith(logger.Executor, "FATAL: task %s cannot be settled automatically: %v", task.ID, err)
		s.markFailed(task.ID, err)
		return
	}

	// The task stays Pending on the ledger: a Failed task cannot be
	// executed until the sender reschedules it, which would strand every
	// transiently failing task. Only fatal failures are marked.
	s.log.ErrorWith(logger.Executor, "Task %s attempt %d failed (%s): %v", task.ID, attempt, errType, err)

	delay := s.retry.DelayFor(errType, attempt)
	s.retry.Schedule(task.ID, attempt+1, delay, errType)
}

// markFailed records the failure on the ledger so the sender can see it and
// reschedule or cancel. Best effort: a marking failure only logs.
func (s *Service) markFailed(taskID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := s.client.MarkTaskFailed(ctx, s.sender.Address(), taskID, cause.Error()); err != nil {
		s.log.DebugWith(logger.Executor, "Failed to mark task %s failed: %v", taskID, err)
	}
}

// checkClockDrift compares our clock against the ledger's at startup. A
// drifted clock makes the scan loop fight the ledger over readiness.
func (s *Service) checkClockDrift() {
	ctx, cancel := context.WithTimeout(s.ctx, queryTimeout)
	defer cancel()

	drift, within, err := s.client.CheckClockDrift(ctx, time.Now().UnixMilli())
	if err != nil {
		s.log.ErrorWith(logger.Executor, "Clock drift check failed: %v", err)
		return
	}
	metrics.ClockDriftMs.Set(float64(drift))
	if !within {
		s.log.ErrorWith(logger.Executor, "Ledger clock drift is %dms, expect NotReadyYet churn", drift)
	} else {
		s.log.DebugWith(logger.Executor, "Ledger clock drift: %dms", drift)
	}
}

// recordGasPrice samples the ledger's reference gas price for cost
// visibility in the metrics.
func (s *Service) recordGasPrice() {
	ctx, cancel := context.WithTimeout(s.ctx, queryTimeout)
	defer cancel()

	price, err := s.client.ReferenceGasPrice(ctx)
	if err != nil {
		s.log.DebugWith(logger.Executor, "Reference gas price unavailable: %v", err)
		return
	}
	metrics.ReferenceGasPrice.Set(float64(price))
	s.log.InfoWith(logger.Executor, "Ledger reference gas price: %d", price)
}

// RetryQueueLen exposes the retry queue depth for health reporting.
func (s *Service) RetryQueueLen() int {
	return s.retry.Len()
}

// InflightCount exposes the number of in-flight settlement attempts.
func (s *Service) InflightCount() int {
	return s.inflight.Active()
}
