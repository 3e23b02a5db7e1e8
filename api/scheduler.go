/*
scheduler.go - Periodic opening snapshot and accrual

PURPOSE:
  Makes sure every pay period has its opening balance snapshot without
  anyone remembering to take it, and optionally runs the monthly accrual.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Each tick captures the snapshot for the current pay period. Capture is
    write-once, so ticks after the first in a period are no-ops
  - With AutoAccrual, each tick also tries the monthly accrual. "Already
    ran this month" is the normal answer and is not logged as a failure
  - Runs once immediately on Start

USAGE:
  s := NewScheduler(handler, SchedulerConfig{Interval: time.Hour, Enabled: true})
  s.Start()
  defer s.Stop()
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/leave-ledger/generic"
)

type SchedulerConfig struct {
	Interval    time.Duration
	Enabled     bool
	AutoAccrual bool
	// Timeout bounds one tick. Defaults to one minute.
	Timeout time.Duration
}

// Scheduler captures opening snapshots and runs accrual on a ticker.
type Scheduler struct {
	handler *Handler
	cfg     SchedulerConfig
	logger  *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(h *Handler, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Scheduler{
		handler: h,
		cfg:     cfg,
		logger:  h.logger.With("component", "scheduler"),
	}
}

// Start begins the scheduler. A stopped scheduler can be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.cfg.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "auto_accrual", s.cfg.AutoAccrual)
}

// Stop stops the scheduler and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunNow()
	for {
		select {
		case <-ticker.C:
			s.RunNow()
		case <-stop:
			return
		}
	}
}

// TickResult reports what one tick did.
type TickResult struct {
	SnapshotLabel   string
	SnapshotCreated bool
	AccrualRan      bool
	Err             error
}

// RunNow performs one tick synchronously.
func (s *Scheduler) RunNow() TickResult {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	var res TickResult
	snap, created, err := s.handler.Snapshots.CaptureCurrent(ctx)
	if err != nil {
		s.logger.Warn("opening snapshot failed", "error", err)
		res.Err = err
	} else {
		res.SnapshotLabel, res.SnapshotCreated = snap.Label, created
	}

	if !s.cfg.AutoAccrual {
		return res
	}
	out, err := s.handler.Accrual.Run(ctx)
	switch {
	case err == nil:
		res.AccrualRan = true
		s.logger.Info("accrual ran", "month", out.MonthKey, "updated", out.Updated)
	case errors.Is(err, generic.ErrAccrualAlreadyRun):
		s.logger.Debug("accrual already ran this month")
	default:
		s.logger.Warn("accrual failed", "error", err)
		res.Err = errors.Join(res.Err, err)
	}
	return res
}
