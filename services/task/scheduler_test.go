package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"slotwise-platform/pkg/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type lifecycleStub struct {
	hooks []fx.Hook
}

func (l *lifecycleStub) Append(h fx.Hook) {
	l.hooks = append(l.hooks, h)
}

func TestNextRunTime(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	next := nextRunTime(now, 11, 0)
	require.Equal(t, time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC), next)

	// today's slot already passed, roll over to tomorrow
	next = nextRunTime(now, 3, 15)
	require.Equal(t, time.Date(2026, 3, 15, 3, 15, 0, 0, time.UTC), next)
}

func TestSchedulerOutlivesStartContext(t *testing.T) {
	cfg := &config.Config{}
	cfg.Coupon.SweepHour = (time.Now().Hour() + 2) % 24

	s := NewScheduler(nil, cfg)
	lc := &lifecycleStub{}
	StartScheduler(lc, s)
	require.Len(t, lc.hooks, 1)

	startCtx, startCancel := context.WithCancel(context.Background())
	require.NoError(t, lc.hooks[0].OnStart(startCtx))
	startCancel()

	select {
	case <-s.done:
		t.Fatal("sweep loop exited when the start context was cancelled")
	case <-time.After(50 * time.Millisecond):
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, lc.hooks[0].OnStop(stopCtx))

	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not exit on shutdown")
	}
}
