package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timevault-hq/timevault-executor/pkg/circuitbreaker"
	"github.com/timevault-hq/timevault-executor/pkg/compose"
	"github.com/timevault-hq/timevault-executor/pkg/ledger"
	"github.com/timevault-hq/timevault-executor/pkg/models"
	"github.com/timevault-hq/timevault-executor/pkg/signer"
	"github.com/timevault-hq/timevault-executor/pkg/store"
)

const (
	testWait = 3 * time.Second
	testTick = 5 * time.Millisecond
)

type serviceFixture struct {
	ledger     *ledger.Ledger
	world      *ledger.World
	client     *ledger.LocalClient
	clock      *fakeClock
	strategies store.Store
	executor   *signer.Signer
	service    *Service
	target     common.Address
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	clock := &fakeClock{now: time.Now().Add(-time.Hour)}
	l := ledger.New(testAdmin, 100, clock)
	w := ledger.NewWorld()
	client := ledger.NewLocalClient(l, w)
	strategies := store.NewMemory()
	exec, err := signer.NewRandom()
	require.NoError(t, err)

	composer := compose.NewComposer(compose.NewSwapAdapter(w, 0), 50_000_000, 50)
	service := NewService(client, strategies, composer, exec, Options{
		PollingInterval: 20 * time.Millisecond,
		EventPageSize:   50,
		RetryBase:       10 * time.Millisecond,
		RetryMax:        100 * time.Millisecond,
		PausedBackoff:   50 * time.Millisecond,
	})

	return &serviceFixture{
		ledger:     l,
		world:      w,
		client:     client,
		clock:      clock,
		strategies: strategies,
		executor:   exec,
		service:    service,
		target:     common.HexToAddress("0x4444444444444444444444444444444444444444"),
	}
}

// createDueTask creates a task and advances the ledger clock past its
// execution time.
func (f *serviceFixture) createDueTask(t *testing.T, metadata []byte) string {
	t.Helper()
	ev, err := f.ledger.CreateTask(testSender, 10_100, testRecipient, f.clock.Now().Add(time.Minute).UnixMilli(), 100, metadata)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	return ev.TaskID
}

func (f *serviceFixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.service.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.service.Stop()
	})
}

func yieldMetadata(t *testing.T) []byte {
	t.Helper()
	raw, err := models.EncodeMetadata(&models.MetadataPayload{
		Version: models.MetadataVersion,
		Kind:    models.PayloadKindYield,
		Yield:   &models.YieldDirective{Protocol: "lend_vault"},
	})
	require.NoError(t, err)
	return raw
}

func TestServiceSettlesPlainTask(t *testing.T) {
	f := newServiceFixture(t)
	f.createDueTask(t, nil)
	f.run(t)

	require.Eventually(t, func() bool {
		return f.ledger.Balance(testRecipient) == 10_000
	}, testWait, testTick)
	assert.Equal(t, uint64(100), f.ledger.Balance(f.executor.Address()))
	assert.Equal(t, uint64(1), f.ledger.Stats().TasksExecuted)
}

func TestServiceSettlesYieldTask(t *testing.T) {
	f := newServiceFixture(t)
	taskID := f.createDueTask(t, yieldMetadata(t))

	ref := models.PositionRef{
		Protocol:   models.ProtocolLendVault,
		Market:     "usd-main",
		PositionID: "pos-1",
	}
	f.world.AddPosition(ledger.Position{Ref: ref, Owner: testSender, Principal: 10_000})
	require.NoError(t, f.strategies.Put(context.Background(), models.YieldStrategyRecord{
		TaskID:        taskID,
		Position:      ref,
		TargetAddress: f.target,
		TargetAsset:   "USDQ",
	}))

	f.run(t)

	require.Eventually(t, func() bool {
		return f.world.Holdings(f.target) == 10_000
	}, testWait, testTick)
	assert.Equal(t, uint64(10_000), f.ledger.Balance(testRecipient))
	assert.Equal(t, uint64(100), f.ledger.Balance(f.executor.Address()))

	// Strategy record is cleaned up after settlement.
	require.Eventually(t, func() bool {
		_, err := f.strategies.Get(context.Background(), taskID)
		return errors.Is(err, store.ErrRecordNotFound)
	}, testWait, testTick)
}

func TestServiceMarksYieldTaskWithoutRecordFailed(t *testing.T) {
	f := newServiceFixture(t)
	taskID := f.createDueTask(t, yieldMetadata(t))
	f.run(t)

	// Missing strategy record is fatal: the task is marked failed on the
	// ledger and never retried.
	require.Eventually(t, func() bool {
		task, err := f.ledger.GetTask(taskID)
		return err == nil && task.Status == models.StatusFailed
	}, testWait, testTick)
	assert.Equal(t, 0, f.service.RetryQueueLen())
	assert.Equal(t, uint64(0), f.ledger.Balance(testRecipient))
}

func TestServiceSettlesUnknownMetadataVersionAsPlain(t *testing.T) {
	f := newServiceFixture(t)
	f.createDueTask(t, []byte(`{"v":99,"kind":"yield_directive"}`))
	f.run(t)

	require.Eventually(t, func() bool {
		return f.ledger.Balance(testRecipient) == 10_000
	}, testWait, testTick)
}

func TestServiceMarksMalformedMetadataFailed(t *testing.T) {
	f := newServiceFixture(t)
	taskID := f.createDueTask(t, []byte(`{"v":1,`))
	f.run(t)

	require.Eventually(t, func() bool {
		task, err := f.ledger.GetTask(taskID)
		return err == nil && task.Status == models.StatusFailed
	}, testWait, testTick)
	assert.Equal(t, uint64(0), f.ledger.Balance(testRecipient))
}

// slowSubmitClient delays plain submissions so shutdown can be observed
// mid-flight.
type slowSubmitClient struct {
	*ledger.LocalClient
	delay time.Duration
}

func (c *slowSubmitClient) SubmitExecute(ctx context.Context, req ledger.ExecuteRequest) (ledger.SubmitResult, error) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return ledger.SubmitResult{}, ctx.Err()
	}
	return c.LocalClient.SubmitExecute(ctx, req)
}

func TestServiceStopWaitsForInFlightSubmission(t *testing.T) {
	f := newServiceFixture(t)
	f.createDueTask(t, nil)

	slow := &slowSubmitClient{LocalClient: f.client, delay: 100 * time.Millisecond}
	composer := compose.NewComposer(compose.NewSwapAdapter(f.world, 0), 50_000_000, 50)
	f.service = NewService(slow, f.strategies, composer, f.executor, Options{
		PollingInterval: 20 * time.Millisecond,
		EventPageSize:   50,
		RetryBase:       10 * time.Millisecond,
		RetryMax:        100 * time.Millisecond,
		PausedBackoff:   50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.service.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.service.Stop()
	})

	require.Eventually(t, func() bool {
		return f.service.InflightCount() == 1
	}, testWait, testTick)

	// Stopping mid-submission must let the attempt run to completion.
	cancel()
	f.service.Stop()
	assert.Equal(t, uint64(10_000), f.ledger.Balance(testRecipient))
}

func TestServiceRetriesWhilePaused(t *testing.T) {
	f := newServiceFixture(t)
	taskID := f.createDueTask(t, nil)
	require.NoError(t, f.ledger.SetPaused(testAdmin, true))

	f.run(t)

	// The paused attempt schedules a backoff retry and leaves the task
	// Pending; marking it failed would block the retry at the execute gate.
	require.Eventually(t, func() bool {
		return f.service.RetryQueueLen() == 1
	}, testWait, testTick)
	task, err := f.ledger.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, uint64(0), f.ledger.Balance(testRecipient))

	require.NoError(t, f.ledger.SetPaused(testAdmin, false))

	// Once unpaused, a retry settles the task without sender intervention.
	require.Eventually(t, func() bool {
		return f.ledger.Balance(testRecipient) == 10_000
	}, testWait, testTick)
}

func TestServiceRetriesUntilLedgerClockCatchesUp(t *testing.T) {
	f := newServiceFixture(t)
	// Due by our wall clock but not yet by the ledger clock: discovery
	// dispatches it and execution answers NotReadyYet until the ledger
	// clock passes execute_at.
	ev, err := f.ledger.CreateTask(testSender, 10_100, testRecipient, f.clock.Now().Add(time.Minute).UnixMilli(), 100, nil)
	require.NoError(t, err)
	taskID := ev.TaskID

	f.run(t)

	// Let a few immediate retries churn; the task must stay Pending with
	// no payout while the ledger refuses it.
	time.Sleep(100 * time.Millisecond)
	task, err := f.ledger.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, uint64(0), f.ledger.Balance(testRecipient))

	f.clock.Advance(2 * time.Minute)

	require.Eventually(t, func() bool {
		return f.ledger.Balance(testRecipient) == 10_000
	}, testWait, testTick)
}

func TestServiceRecoversAfterReschedule(t *testing.T) {
	f := newServiceFixture(t)
	taskID := f.createDueTask(t, yieldMetadata(t))

	ref := models.PositionRef{
		Protocol:   models.ProtocolLendVault,
		Market:     "usd-main",
		PositionID: "pos-1",
	}
	f.world.AddPool(ledger.Pool{ID: "usdq-pool", ReserveA: 1_000_000, ReserveB: 1_000_000, FeeBps: 30})
	f.world.AddPosition(ledger.Position{Ref: ref, Owner: testSender, Principal: 10_000})
	require.NoError(t, f.strategies.Put(context.Background(), models.YieldStrategyRecord{
		TaskID:        taskID,
		Position:      ref,
		Swap:          &models.SwapConfig{PoolID: "usdq-pool", AToB: true, SlippageBps: 9_000},
		TargetAddress: f.target,
		TargetAsset:   "USDQ",
	}))

	// Drain the pool so the first attempt quotes a zero min_out and the
	// task is marked failed, then restore the market and reschedule.
	require.NoError(t, f.world.SetPoolReserves("usdq-pool", 100_000_000, 10_000))

	f.run(t)

	require.Eventually(t, func() bool {
		task, err := f.ledger.GetTask(taskID)
		return err == nil && task.AttemptCount >= 1
	}, testWait, testTick)

	// The settlement attempt reconciled the stored holding protocol with
	// the position it withdraws from.
	rec, err := f.strategies.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.ProtocolLendVault, rec.HoldingProtocol)

	require.NoError(t, f.world.SetPoolReserves("usdq-pool", 1_000_000, 1_000_000))
	// Failed tasks need a reschedule before they become due again.
	_, err = f.ledger.RescheduleTask(testSender, taskID, f.clock.Now().Add(time.Minute).UnixMilli())
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	require.Eventually(t, func() bool {
		return f.world.Holdings(f.target) > 0
	}, testWait, testTick)
}

func TestServiceSkipsScanWhileBreakerOpen(t *testing.T) {
	f := newServiceFixture(t)
	taskID := f.createDueTask(t, nil)

	breaker := circuitbreaker.New(true, 1, time.Minute, time.Minute, nil)
	breaker.RecordFailure() // open
	composer := compose.NewComposer(compose.NewSwapAdapter(f.world, 0), 50_000_000, 50)
	f.service = NewService(f.client, f.strategies, composer, f.executor, Options{
		PollingInterval: 20 * time.Millisecond,
		EventPageSize:   50,
		RetryBase:       10 * time.Millisecond,
		RetryMax:        100 * time.Millisecond,
		PausedBackoff:   time.Second,
		Breaker:         breaker,
	})
	f.run(t)

	// Several ticks pass with the breaker open and nothing is dispatched.
	time.Sleep(150 * time.Millisecond)
	task, err := f.ledger.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, uint64(0), f.ledger.Balance(testRecipient))

	// Closing the breaker lets the next tick settle the task.
	breaker.Reset()
	require.Eventually(t, func() bool {
		return f.ledger.Balance(testRecipient) == 10_000
	}, testWait, testTick)
}
