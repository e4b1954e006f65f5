package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/epcis-repository/internal/engine"
	"github.com/Priya8975/epcis-repository/internal/metrics"
)

// Scheduler wakes every interval, lists the subscriptions that are due and
// sends them to the worker pool.
type Scheduler struct {
	subs     engine.SubscriptionStore
	pool     *Pool
	logger   *slog.Logger
	interval time.Duration
}

func NewScheduler(subs engine.SubscriptionStore, pool *Pool, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		subs:     subs,
		pool:     pool,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the ticker loop. It runs until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick dispatches every subscription due at now and returns how many were
// handed to the pool.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	metrics.SchedulerTicks.Inc()

	// A tenth of the interval absorbs ticker drift between consecutive ticks.
	cutoff := now.Add(-s.interval + s.interval/10)
	due, err := s.subs.ListDueSubscriptions(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to list due subscriptions", "error", err)
		return 0
	}

	dispatched := 0
	for _, sub := range due {
		if s.pool.Submit(ctx, Job{Subscription: sub, Tick: now}) {
			dispatched++
		}
	}
	if dispatched > 0 {
		s.logger.Debug("scheduler tick", "due", len(due), "dispatched", dispatched)
	}
	return dispatched
}
