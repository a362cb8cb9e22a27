package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsImmediatelyThenOnTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var runs int64

	s := New(slog.Default(), clock, []Job{
		{
			Name:     "tick-job",
			Interval: time.Minute,
			Run: func(ctx context.Context, now time.Time) error {
				atomic.AddInt64(&runs, 1)
				return nil
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	clock.BlockUntil(1)
	require.Equal(t, int64(1), atomic.LoadInt64(&runs))

	clock.Advance(time.Minute)
	clock.BlockUntil(1)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 2
	}, time.Second, time.Millisecond)

	cancel()
	s.Wait()
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(slog.Default(), clock, []Job{
		{
			Name:     "panicky",
			Interval: time.Minute,
			Run: func(ctx context.Context, now time.Time) error {
				panic("boom")
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NotPanics(t, func() {
		s.Start(ctx)
		time.Sleep(10 * time.Millisecond)
	})
}
