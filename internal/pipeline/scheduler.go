// Copyright (c) 2026 Machiyomi. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/taibuivan/machiyomi/internal/platform/constants"
)

// # Scheduler

// Scheduler runs pipeline cycles on a fixed interval under the leader lock
// and the per-cycle wall-clock budget.
type Scheduler struct {
	pipeline *Pipeline
	lock     *CycleLock
	interval time.Duration
	budget   time.Duration
	logger   *slog.Logger
}

// NewScheduler constructs a [Scheduler]. Non-positive durations fall back
// to the platform defaults.
func NewScheduler(pipeline *Pipeline, lock *CycleLock, interval, budget time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = constants.DefaultCycleInterval
	}
	if budget <= 0 {
		budget = constants.DefaultCycleBudget
	}
	return &Scheduler{
		pipeline: pipeline,
		lock:     lock,
		interval: interval,
		budget:   budget,
		logger:   logger,
	}
}

/*
Run blocks until the context is cancelled, executing one cycle immediately
and then one per interval.

Description: Cycles never overlap within a runner (the loop is serial) or
across runners (the leader lock). A cycle that exceeds the interval simply
delays the next tick's cycle; ticks that fire mid-cycle coalesce.
*/
func (scheduler *Scheduler) Run(ctx context.Context) {
	scheduler.logger.Info("scheduler_started",
		slog.Duration("interval", scheduler.interval),
		slog.Duration("budget", scheduler.budget),
	)

	scheduler.RunOnce(ctx)

	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			scheduler.logger.Info("scheduler_stopped")
			return
		case <-ticker.C:
			scheduler.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single guarded cycle. Used by the ticker loop and by
// the -once command-line mode.
func (scheduler *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	acquired, err := scheduler.lock.TryAcquire(ctx)
	if err != nil {
		// Redis down: run anyway. The lock is an optimization; every
		// pipeline mutation is idempotent without it.
		scheduler.logger.Warn("cycle_lock_unavailable", slog.Any("error", err))
	} else if !acquired {
		scheduler.logger.Info("cycle_skipped_lock_held")
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, scheduler.budget)
	defer cancel()

	if err := scheduler.pipeline.RunCycle(cycleCtx); err != nil {
		scheduler.logger.Error("cycle_failed", slog.Any("error", err))
	}

	if acquired {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		if err := scheduler.lock.Release(releaseCtx); err != nil {
			scheduler.logger.Warn("cycle_lock_release_failed", slog.Any("error", err))
		}
	}
}
