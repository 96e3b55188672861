package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/stockalert/internal/metrics"
)

const (
	DefaultInterval  = 5 * time.Minute
	DefaultHardLimit = 300 * time.Second
	DefaultSoftLimit = 240 * time.Second
)

// ErrTickRunning is returned by RunOnce when a tick is already in progress.
var ErrTickRunning = errors.New("tick already running")

// ErrTickLocked is returned by RunOnce when another holder owns the tick lock.
var ErrTickLocked = errors.New("tick lock held elsewhere")

// TickRunner runs one tick.
type TickRunner interface {
	RunTick(ctx context.Context) (*Report, error)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval   time.Duration // Time between ticks (default: 5m)
	HardLimit  time.Duration // Tick context deadline (default: 300s)
	SoftLimit  time.Duration // Warning threshold (default: 240s)
	RunOnStart bool          // Run a tick immediately when Run starts
	Lock       TickLock      // Optional cross-process lock
	Logger     *zap.Logger

	// Ticks replaces the interval ticker when set.
	Ticks <-chan time.Time
}

// DefaultSchedulerOptions returns default scheduler options.
func DefaultSchedulerOptions() *SchedulerOptions {
	return &SchedulerOptions{
		Interval:  DefaultInterval,
		HardLimit: DefaultHardLimit,
		SoftLimit: DefaultSoftLimit,
	}
}

// SchedulerStats tracks scheduler statistics using atomic operations for lock-free access.
type SchedulerStats struct {
	Started atomic.Int64
	Skipped atomic.Int64
	Locked  atomic.Int64
	Failed  atomic.Int64
}

// Scheduler triggers ticks on an interval. A trigger that arrives while a
// tick is still running is discarded, never queued.
type Scheduler struct {
	runner  TickRunner
	opts    SchedulerOptions
	logger  *zap.Logger
	running atomic.Bool
	wg      sync.WaitGroup
	stats   SchedulerStats
}

// NewScheduler creates a scheduler for runner.
func NewScheduler(runner TickRunner, opts *SchedulerOptions) *Scheduler {
	if opts == nil {
		opts = DefaultSchedulerOptions()
	}
	o := *opts
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.HardLimit <= 0 {
		o.HardLimit = DefaultHardLimit
	}
	if o.SoftLimit <= 0 || o.SoftLimit > o.HardLimit {
		o.SoftLimit = o.HardLimit * 4 / 5
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		runner: runner,
		opts:   o,
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// Run triggers ticks until ctx is done, then waits for an in-flight tick to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	ticks := s.opts.Ticks
	if ticks == nil {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.opts.Interval),
		zap.Duration("hard_limit", s.opts.HardLimit),
		zap.Duration("soft_limit", s.opts.SoftLimit),
	)

	if s.opts.RunOnStart {
		s.Trigger(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticks:
			s.Trigger(ctx)
		}
	}
}

// Trigger starts a tick in the background unless one is running.
// It reports whether a tick was started.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.stats.Skipped.Add(1)
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		s.logger.Warn("previous tick still running, trigger discarded")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.runTick(ctx)
	}()
	return true
}

// RunOnce runs a single tick synchronously under the same limits and lock.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrTickRunning
	}
	defer s.running.Store(false)
	return s.runTick(ctx)
}

// Running reports whether a tick is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Stats returns the scheduler statistics.
func (s *Scheduler) Stats() *SchedulerStats {
	return &s.stats
}

func (s *Scheduler) runTick(ctx context.Context) (*Report, error) {
	if s.opts.Lock != nil {
		token, ok, err := s.opts.Lock.Acquire(ctx, s.opts.HardLimit)
		if err != nil {
			s.stats.Failed.Add(1)
			metrics.TicksTotal.WithLabelValues("failed").Inc()
			s.logger.Error("failed to acquire tick lock", zap.Error(err))
			return nil, err
		}
		if !ok {
			s.stats.Locked.Add(1)
			metrics.TicksTotal.WithLabelValues("locked").Inc()
			s.logger.Info("tick lock held elsewhere, skipping")
			return nil, ErrTickLocked
		}
		defer func() {
			// ctx may already be cancelled on shutdown.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.opts.Lock.Release(releaseCtx, token); err != nil {
				s.logger.Warn("failed to release tick lock", zap.Error(err))
			}
		}()
	}

	s.stats.Started.Add(1)
	start := time.Now()

	tickCtx, cancel := context.WithTimeout(ctx, s.opts.HardLimit)
	defer cancel()

	soft := time.AfterFunc(s.opts.SoftLimit, func() {
		metrics.TickSoftLimitExceeded.Inc()
		s.logger.Warn("tick exceeded soft limit",
			zap.Duration("soft_limit", s.opts.SoftLimit),
			zap.Duration("hard_limit", s.opts.HardLimit),
		)
	})
	defer soft.Stop()

	report, err := s.runner.RunTick(tickCtx)
	elapsed := time.Since(start)
	metrics.TickDuration.Observe(elapsed.Seconds())

	if err != nil {
		s.stats.Failed.Add(1)
		metrics.TicksTotal.WithLabelValues("failed").Inc()
		s.logger.Error("tick failed", zap.Error(err), zap.Duration("duration", elapsed))
		return nil, err
	}
	if errors.Is(tickCtx.Err(), context.DeadlineExceeded) {
		s.logger.Error("tick hit hard limit, remaining tenants deferred to next tick",
			zap.Duration("hard_limit", s.opts.HardLimit),
		)
	}

	metrics.TicksTotal.WithLabelValues("ok").Inc()
	return report, nil
}
