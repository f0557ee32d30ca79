package task

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"slotwise-platform/pkg/config"
)

// Scheduler triggers the daily expired-reservation sweep. Limits already
// ignore expired reservations, so a late or missed run never causes
// over-redemption; the sweep only settles rows.
type Scheduler struct {
	service *Service
	config  *config.Config
	done    chan struct{}
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	return &Scheduler{service: svc, config: cfg, done: make(chan struct{})}
}

// StartScheduler runs the sweep loop on a context that outlives the fx start
// hook. The OnStart context is bounded by the app start timeout, so tying the
// loop to it would stop the scheduler seconds after boot.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	zap.L().Info("[Scheduler] started reservation sweep scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, s.config.Coupon.SweepHour, s.config.Coupon.SweepMinute)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] running daily sweep enqueue")

	if err := s.service.EnqueueAllTenantsSweepJobs(ctx); err != nil {
		zap.L().Error("[Scheduler] failed to enqueue sweeps", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] finished enqueueing sweeps",
		zap.Duration("duration", time.Since(start)),
	)
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
