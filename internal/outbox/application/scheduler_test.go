package application

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	var running, maxRunning, runs int32
	var finished atomic.Bool

	job := JobFunc(func(ctx context.Context) {
		n := atomic.AddInt32(&running, 1)
		for {
			cur := atomic.LoadInt32(&maxRunning)
			if n <= cur || atomic.CompareAndSwapInt32(&maxRunning, cur, n) {
				break
			}
		}
		atomic.AddInt32(&runs, 1)
		time.Sleep(2500 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		finished.Store(true)
	})

	s := NewScheduler(zap.NewNop())
	require.NoError(t, s.Add("slow", Every(time.Second), job))
	s.Start()
	time.Sleep(3200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(1))
	// Stop esperó a la ejecución en curso.
	assert.True(t, finished.Load())
	assert.Zero(t, atomic.LoadInt32(&running))
}

func TestScheduler_RejectsInvalidSpec(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	assert.Error(t, s.Add("bad", "not a cron", JobFunc(func(context.Context) {})))
	assert.NoError(t, s.Add("cleanup", "0 3 * * *", JobFunc(func(context.Context) {})))
}
