package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"PriceAlarm/internal/domain/models"
	"PriceAlarm/pkg/cache"
	"PriceAlarm/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	store    *memStore
	source   *scriptedSource
	notifier *recordingNotifier
	history  *recordingHistory
	metrics  *countingMetrics
	sched    *Scheduler
}

func newFixture(policy string, alarms ...models.Alarm) *schedulerFixture {
	f := &schedulerFixture{
		store:    newMemStore(alarms...),
		source:   &scriptedSource{prices: map[string]string{}},
		notifier: &recordingNotifier{},
		history:  &recordingHistory{},
		metrics:  &countingMetrics{},
	}
	f.sched = NewScheduler(
		SchedulerConfig{Interval: time.Hour, PostFirePolicy: policy, Concurrency: 4},
		f.store,
		NewQuoteFetcher(f.source, ".SA", f.metrics, nopLog()),
		NewEvaluator(f.notifier, f.metrics, nopLog()),
		f.history,
		nil,
		f.metrics,
		nopLog(),
	)
	return f
}

// runCycle runs one guarded cycle and waits for it.
func (f *schedulerFixture) runCycle(t *testing.T) {
	t.Helper()
	require.True(t, f.sched.RunOnce(context.Background()))
	f.sched.cycles.Wait()
}

func TestScheduler_SingleFlight(t *testing.T) {
	f := newFixture(config.PolicyLevel, mkAlarm("1", "R1", "PETR4", models.DirectionAbove, "30"))
	f.source.prices["PETR4.SA"] = "31"
	f.source.block = make(chan struct{})
	f.source.entered = make(chan struct{}, 1)

	require.True(t, f.sched.RunOnce(context.Background()))
	<-f.source.entered

	// the fetch is blocked past the next tick
	assert.True(t, f.sched.Running())
	assert.False(t, f.sched.RunOnce(context.Background()))
	assert.False(t, f.sched.RunOnce(context.Background()))

	close(f.source.block)
	f.sched.cycles.Wait()

	assert.False(t, f.sched.Running())
	assert.Equal(t, 1, f.source.callCount())
	assert.Len(t, f.notifier.messages(), 1, "one notification set, not two")
	assert.EqualValues(t, 2, f.metrics.cycleCount("skipped"))
	assert.EqualValues(t, 1, f.metrics.cycleCount("ok"))
}

func TestScheduler_ErrorClearsFlag(t *testing.T) {
	f := newFixture(config.PolicyLevel, mkAlarm("1", "R1", "PETR4", models.DirectionAbove, "30"))
	f.store.listErr = errBoom

	f.runCycle(t)
	assert.False(t, f.sched.Running())
	assert.EqualValues(t, 1, f.metrics.cycleCount("error"))

	f.store.listErr = nil
	f.source.prices["PETR4.SA"] = "30"
	f.runCycle(t)
	assert.Len(t, f.notifier.messages(), 1)
}

func TestScheduler_QuoteFailureIsCycleError(t *testing.T) {
	f := newFixture(config.PolicyLevel, mkAlarm("1", "R1", "PETR4", models.DirectionAbove, "30"))
	f.source.err = errBoom

	f.runCycle(t)
	assert.EqualValues(t, 1, f.metrics.cycleCount("error"))
	assert.Empty(t, f.notifier.messages())
	assert.False(t, f.sched.Running())
}

func TestScheduler_PanicIsContained(t *testing.T) {
	f := newFixture(config.PolicyLevel)
	f.store.listFn = func() { panic("store exploded") }

	var gotErr error
	f.sched.onCycle = func(_ CycleReport, err error) { gotErr = err }

	f.runCycle(t)
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "store exploded")
	assert.False(t, f.sched.Running())
}

func TestScheduler_EmptyAlarmSet(t *testing.T) {
	f := newFixture(config.PolicyLevel)

	f.runCycle(t)
	assert.Zero(t, f.source.callCount())
	assert.Empty(t, f.notifier.messages())
	assert.EqualValues(t, 1, f.metrics.cycleCount("ok"))
}

func TestScheduler_DispatchFailureIsIsolated(t *testing.T) {
	f := newFixture(config.PolicyLevel,
		mkAlarm("1", "A", "PETR4", models.DirectionAbove, "30"),
		mkAlarm("2", "B", "PETR4", models.DirectionAbove, "30"),
	)
	f.source.prices["PETR4.SA"] = "35"
	f.notifier.failFor = map[string]error{"A": errBoom}

	var report CycleReport
	f.sched.onCycle = func(r CycleReport, _ error) { report = r }
	f.runCycle(t)

	assert.Equal(t, []string{"B"}, f.notifier.recipients())
	assert.Equal(t, 2, report.Fired)
	assert.Equal(t, 1, report.Failed)
	assert.EqualValues(t, 1, f.metrics.cycleCount("ok"))

	require.Len(t, f.history.triggers, 2)
	delivered := map[string]bool{}
	for _, tr := range f.history.triggers {
		delivered[tr.RecipientID] = tr.Delivered
		assert.Equal(t, report.CycleID, tr.CycleID)
	}
	assert.Equal(t, map[string]bool{"A": false, "B": true}, delivered)
}

func TestScheduler_MissingQuoteSkipsOnlyThatAlarm(t *testing.T) {
	f := newFixture(config.PolicyLevel,
		mkAlarm("1", "R", "XPTO9", models.DirectionAbove, "1"),
		mkAlarm("2", "R", "PETR4", models.DirectionAbove, "30"),
	)
	f.source.prices["PETR4.SA"] = "30"

	f.runCycle(t)
	assert.Len(t, f.notifier.messages(), 1)
	assert.EqualValues(t, 1, f.metrics.missing.Load())
	assert.EqualValues(t, 1, f.metrics.cycleCount("ok"))
}

func TestScheduler_LevelPolicyRefires(t *testing.T) {
	f := newFixture(config.PolicyLevel, mkAlarm("1", "R", "PETR4", models.DirectionAbove, "30"))
	f.source.prices["PETR4.SA"] = "31"

	f.runCycle(t)
	f.runCycle(t)
	assert.Len(t, f.notifier.messages(), 2)
	assert.Equal(t, 1, f.store.count())
}

func TestScheduler_OneShotPolicy(t *testing.T) {
	f := newFixture(config.PolicyOneShot,
		mkAlarm("1", "A", "PETR4", models.DirectionAbove, "30"),
		mkAlarm("2", "B", "PETR4", models.DirectionAbove, "30"),
		mkAlarm("3", "C", "PETR4", models.DirectionAbove, "99"),
	)
	f.source.prices["PETR4.SA"] = "31"
	f.notifier.failFor = map[string]error{"A": errBoom}

	f.runCycle(t)

	left, err := f.store.ListAlarms(context.Background())
	require.NoError(t, err)
	ids := []string{}
	for _, a := range left {
		ids = append(ids, a.ID)
	}
	// B was delivered and removed; A failed and stays armed; C never fired
	assert.ElementsMatch(t, []string{"1", "3"}, ids)
}

func withLease(f *schedulerFixture, locker cache.Locker, ttl time.Duration) {
	f.sched.locker = locker
	f.sched.cfg.LockKey = "cycle-lock"
	f.sched.cfg.LockTTL = ttl
}

func TestScheduler_LeaseHeldSkipsCycle(t *testing.T) {
	f := newFixture(config.PolicyLevel, mkAlarm("1", "R", "PETR4", models.DirectionAbove, "30"))
	f.source.prices["PETR4.SA"] = "31"

	locker := cache.NewMemoryCache()
	defer locker.Close()
	withLease(f, locker, time.Minute)

	other, _ := locker.TryLock(context.Background(), "cycle-lock", time.Minute)
	require.NotNil(t, other)

	f.runCycle(t)
	assert.Zero(t, f.source.callCount())
	assert.EqualValues(t, 1, f.metrics.cycleCount("skipped"))

	require.NoError(t, locker.Unlock(context.Background(), other))
	f.runCycle(t)
	assert.Equal(t, 1, f.source.callCount())

	// the lease is released after the cycle
	next, _ := locker.TryLock(context.Background(), "cycle-lock", time.Minute)
	assert.NotNil(t, next)
}

func TestScheduler_LeaseRenewedWhileCycleRuns(t *testing.T) {
	f := newFixture(config.PolicyLevel, mkAlarm("1", "R", "PETR4", models.DirectionAbove, "30"))
	f.source.prices["PETR4.SA"] = "31"
	f.source.block = make(chan struct{})
	f.source.entered = make(chan struct{}, 1)

	locker := cache.NewMemoryCache()
	defer locker.Close()
	withLease(f, locker, 30*time.Millisecond)

	require.True(t, f.sched.RunOnce(context.Background()))
	<-f.source.entered

	// well past the TTL, the running cycle still holds the lease
	time.Sleep(100 * time.Millisecond)
	other, err := locker.TryLock(context.Background(), "cycle-lock", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other)

	close(f.source.block)
	f.sched.cycles.Wait()
	assert.EqualValues(t, 1, f.metrics.cycleCount("ok"))

	next, _ := locker.TryLock(context.Background(), "cycle-lock", time.Minute)
	assert.NotNil(t, next, "released after the cycle")
}

// losingLocker reports the lease as taken over once lost is set.
type losingLocker struct {
	*cache.MemoryCache
	lost atomic.Bool
}

func (l *losingLocker) Extend(ctx context.Context, lease *cache.Lease, ttl time.Duration) error {
	if l.lost.Load() {
		return cache.ErrLockNotHeld
	}
	return l.MemoryCache.Extend(ctx, lease, ttl)
}

func TestScheduler_LeaseLostFailsCycle(t *testing.T) {
	f := newFixture(config.PolicyLevel, mkAlarm("1", "R", "PETR4", models.DirectionAbove, "30"))
	f.source.prices["PETR4.SA"] = "31"
	f.source.block = make(chan struct{})
	f.source.entered = make(chan struct{}, 1)

	locker := &losingLocker{MemoryCache: cache.NewMemoryCache()}
	defer locker.Close()
	withLease(f, locker, 30*time.Millisecond)

	var cycleErr error
	f.sched.onCycle = func(_ CycleReport, err error) { cycleErr = err }

	require.True(t, f.sched.RunOnce(context.Background()))
	<-f.source.entered
	locker.lost.Store(true)
	time.Sleep(60 * time.Millisecond)
	close(f.source.block)
	f.sched.cycles.Wait()

	assert.ErrorIs(t, cycleErr, errLeaseLost)
	assert.EqualValues(t, 1, f.metrics.cycleCount("error"))
}

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	f := newFixture(config.PolicyLevel)
	done := make(chan CycleReport, 4)
	f.sched.onCycle = func(r CycleReport, _ error) { done <- r }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.sched.Start(ctx))
	assert.Error(t, f.sched.Start(ctx), "second start is rejected")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run on start")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, f.sched.Stop(stopCtx))
}

func TestScheduler_TicksOnInterval(t *testing.T) {
	f := newFixture(config.PolicyLevel)
	f.sched.cfg.Interval = 20 * time.Millisecond
	done := make(chan CycleReport, 16)
	f.sched.onCycle = func(r CycleReport, _ error) { done <- r }

	require.NoError(t, f.sched.Start(context.Background()))
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("cycle %d did not run", i+1)
		}
	}
	require.NoError(t, f.sched.Stop(context.Background()))
}

func TestScheduler_StartRejectsBadInterval(t *testing.T) {
	f := newFixture(config.PolicyLevel)
	f.sched.cfg.Interval = 0
	assert.Error(t, f.sched.Start(context.Background()))
}
