package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cocoindex-io/cocoindex-go/internal/scheduler"
)

func TestSchedulerRunsCyclesOnTicker(t *testing.T) {
	var runs atomic.Int64
	cycle := func(context.Context) error {
		runs.Add(1)
		return nil
	}

	s := scheduler.NewScheduler("src1", 5*time.Millisecond, cycle, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	<-ctx.Done()
	time.Sleep(5 * time.Millisecond)
	require.Greater(t, runs.Load(), int64(1))
	require.NoError(t, s.LastError())
}

func TestSchedulerSkipsOverlappingCycle(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	var runs atomic.Int64

	cycle := func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}

	s := scheduler.NewScheduler("src1", 2*time.Millisecond, cycle, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	<-started
	time.Sleep(20 * time.Millisecond) // several ticks should be skipped while the first cycle blocks
	require.Equal(t, int64(1), runs.Load())
	require.Greater(t, s.SkippedCycles(), int64(0))

	close(release)
}

func TestSchedulerRecordsCycleError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	cycle := func(context.Context) error { return wantErr }

	s := scheduler.NewScheduler("src1", 2*time.Millisecond, cycle, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s.Start(ctx)

	<-ctx.Done()
	time.Sleep(4 * time.Millisecond)
	require.ErrorIs(t, s.LastError(), wantErr)
}
