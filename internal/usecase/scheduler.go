package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"PriceAlarm/internal/domain/models"
	drepo "PriceAlarm/internal/domain/repository"
	"PriceAlarm/pkg/cache"
	"PriceAlarm/pkg/config"
	applogger "PriceAlarm/pkg/logger"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

// SchedulerConfig controls cadence and post-fire behaviour.
type SchedulerConfig struct {
	Interval       time.Duration
	PostFirePolicy string
	Concurrency    int
	// LockKey/LockTTL are used only when a Locker is supplied.
	LockKey string
	LockTTL time.Duration
}

// CycleReport summarises one finished cycle.
type CycleReport struct {
	CycleID   string
	Alarms    int
	Missing   int
	Fired     int
	Failed    int
	Removed   int
	StartedAt time.Time
	Duration  time.Duration
}

// Scheduler runs check cycles on a fixed interval. At most one cycle runs at a
// time per process; a tick that finds a cycle in flight is dropped.
type Scheduler struct {
	cfg       SchedulerConfig
	store     drepo.AlarmStore
	fetcher   *QuoteFetcher
	evaluator *Evaluator
	history   drepo.TriggerRecorder
	locker    cache.Locker
	metrics   drepo.Metrics
	log       *applogger.Logger

	running atomic.Bool
	cycles  sync.WaitGroup
	loop    sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc

	// onCycle observes finished cycles. Tests hook it.
	onCycle func(CycleReport, error)
}

func NewScheduler(
	cfg SchedulerConfig,
	store drepo.AlarmStore,
	fetcher *QuoteFetcher,
	evaluator *Evaluator,
	history drepo.TriggerRecorder,
	locker cache.Locker,
	metrics drepo.Metrics,
	l *applogger.Logger,
) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.PostFirePolicy == "" {
		cfg.PostFirePolicy = config.PolicyLevel
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		evaluator: evaluator,
		history:   history,
		locker:    locker,
		metrics:   metrics,
		log:       l,
	}
}

// Start runs one cycle immediately and then one per interval until ctx is
// done or Stop is called. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %s", s.cfg.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler: already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.RunOnce(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()

	s.log.Info("scheduler started",
		applogger.Duration("interval_ms", s.cfg.Interval),
		applogger.String("post_fire_policy", s.cfg.PostFirePolicy),
		applogger.Int("concurrency", s.cfg.Concurrency),
	)
	return nil
}

// Stop halts the timer and waits for an in-flight cycle, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.loop.Wait()

	done := make(chan struct{})
	go func() {
		s.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: waiting for in-flight cycle: %w", ctx.Err())
	}
}

// Running reports whether a cycle is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// RunOnce starts a guarded cycle in the background and reports whether it
// started. It returns false, without queuing anything, when a cycle is
// already in flight. The cycle outlives ctx cancellation.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("cycle still running, tick skipped")
		s.metrics.RecordCycle("skipped", 0)
		return false
	}

	cycleCtx := context.WithoutCancel(ctx)
	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		defer s.running.Store(false)
		s.guardedCycle(cycleCtx)
	}()
	return true
}

// guardedCycle is the error boundary: nothing escapes it.
func (s *Scheduler) guardedCycle(ctx context.Context) {
	report := CycleReport{CycleID: uuid.NewString(), StartedAt: time.Now()}
	log := s.log.With(applogger.String("cycle_id", report.CycleID))

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		report.Duration = time.Since(report.StartedAt)
		switch {
		case errors.Is(err, errLeaseHeld):
			log.Debug("cycle lease held elsewhere, skipped")
			s.metrics.RecordCycle("skipped", report.Duration.Seconds())
		case err != nil:
			log.Error("error checking alarms", applogger.Error(err))
			s.metrics.RecordError("cycle")
			s.metrics.RecordCycle("error", report.Duration.Seconds())
		default:
			log.Info("alarms checked",
				applogger.Int("alarms", report.Alarms),
				applogger.Int("missing", report.Missing),
				applogger.Int("fired", report.Fired),
				applogger.Int("failed", report.Failed),
				applogger.Int("removed", report.Removed),
				applogger.Duration("duration_ms", report.Duration),
			)
			s.metrics.RecordCycle("ok", report.Duration.Seconds())
		}
		if s.onCycle != nil {
			s.onCycle(report, err)
		}
	}()

	if s.locker != nil {
		leaseCtx, release, lerr := s.acquireLease(ctx, log)
		if lerr != nil {
			err = lerr
			return
		}
		defer release()
		ctx = leaseCtx
	}

	err = s.runCycle(ctx, &report, log)
	if cause := context.Cause(ctx); errors.Is(cause, errLeaseLost) {
		err = errors.Join(cause, err)
	}
}

var (
	errLeaseHeld = errors.New("cycle lease held by another replica")
	errLeaseLost = errors.New("cycle lease lost mid-cycle")
)

// acquireLease takes the cross-replica lease and keeps it alive while the
// cycle runs, renewing every third of its TTL. If a renewal finds the lease
// gone the returned context is cancelled with errLeaseLost.
func (s *Scheduler) acquireLease(ctx context.Context, log *applogger.Logger) (context.Context, func(), error) {
	lease, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire cycle lease: %w", err)
	}
	if lease == nil {
		return nil, nil, errLeaseHeld
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	var renewer sync.WaitGroup
	renewer.Add(1)
	go func() {
		defer renewer.Done()
		ticker := time.NewTicker(s.cfg.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := s.locker.Extend(leaseCtx, lease, s.cfg.LockTTL)
				switch {
				case errors.Is(err, cache.ErrLockNotHeld):
					log.Warn("cycle lease lost, stopping cycle")
					cancel(errLeaseLost)
					return
				case err != nil:
					log.Warn("extend cycle lease", applogger.Error(err))
				}
			}
		}
	}()

	return leaseCtx, func() {
		close(stop)
		renewer.Wait()
		cancel(nil)
		if err := s.locker.Unlock(context.Background(), lease); err != nil {
			log.Warn("release cycle lease", applogger.Error(err))
		}
	}, nil
}

func (s *Scheduler) runCycle(ctx context.Context, report *CycleReport, log *applogger.Logger) error {
	alarms, err := s.store.ListAlarms(ctx)
	if err != nil {
		s.metrics.RecordError("store_list")
		return fmt.Errorf("list alarms: %w", err)
	}
	report.Alarms = len(alarms)
	s.metrics.RecordAlarmsEvaluated(len(alarms))

	prices, err := s.fetcher.Fetch(ctx, alarms)
	if err != nil {
		return err
	}
	if len(alarms) == 0 {
		return nil
	}

	var missing, fired, failed, removed atomic.Int64
	p := pool.New().WithMaxGoroutines(s.cfg.Concurrency)
	for _, a := range alarms {
		p.Go(func() {
			ev := s.evaluator.Evaluate(ctx, a, prices)
			switch ev.Outcome {
			case OutcomeMissingQuote:
				missing.Add(1)
				return
			case OutcomeNotFired:
				return
			case OutcomeDispatchFailed:
				failed.Add(1)
			}
			fired.Add(1)

			if s.applyPostFire(ctx, a, ev, log) {
				removed.Add(1)
			}
			s.record(ctx, report.CycleID, a, ev, log)
		})
	}
	p.Wait()

	report.Missing = int(missing.Load())
	report.Fired = int(fired.Load())
	report.Failed = int(failed.Load())
	report.Removed = int(removed.Load())
	return nil
}

// applyPostFire deletes a delivered alarm under the one_shot policy. A failed
// send leaves the alarm armed.
func (s *Scheduler) applyPostFire(ctx context.Context, a models.Alarm, ev Evaluation, log *applogger.Logger) bool {
	if s.cfg.PostFirePolicy != config.PolicyOneShot || ev.Outcome != OutcomeDelivered {
		return false
	}
	err := s.store.Delete(ctx, a.ID)
	if err != nil && !errors.Is(err, models.ErrAlarmNotFound) {
		s.metrics.RecordError("store_delete")
		log.Error("remove one-shot alarm", applogger.String("alarm_id", a.ID), applogger.Error(err))
		return false
	}
	return err == nil
}

func (s *Scheduler) record(ctx context.Context, cycleID string, a models.Alarm, ev Evaluation, log *applogger.Logger) {
	t := &models.Trigger{
		CycleID:     cycleID,
		AlarmID:     a.ID,
		RecipientID: a.RecipientID,
		Ticker:      a.Ticker,
		Direction:   a.Direction,
		Target:      a.Target,
		Price:       ev.Price,
		FiredAt:     time.Now().UTC(),
		Delivered:   ev.Outcome == OutcomeDelivered,
	}
	if ev.Err != nil {
		t.Error = ev.Err.Error()
	}
	if err := s.history.Record(ctx, t); err != nil {
		s.metrics.RecordError("history_record")
		log.Warn("record trigger", applogger.String("alarm_id", a.ID), applogger.Error(err))
	}
}
