package worker

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsEverySubmittedJob(t *testing.T) {
	p := NewPool(4, 16, nil, nil)
	var count int64
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
			atomic.AddInt64(&count, 1)
		}))
	}
	p.Stop()
	assert.Equal(t, int64(100), atomic.LoadInt64(&count))
}

func TestPool_RecoversFromPanickingJob(t *testing.T) {
	p := NewPool(1, 4, nil, nil)
	var ran int64
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) { atomic.AddInt64(&ran, 1) }))
	p.Stop()
	assert.Equal(t, int64(1), atomic.LoadInt64(&ran))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, 1, nil, nil)
	p.Stop()
	p.Stop()
	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) {}), ErrPoolStopped)
}

func TestPool_SubmitRespectsContextWhenQueueFull(t *testing.T) {
	p := NewPool(1, 1, nil, nil)
	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Submit(ctx, func(ctx context.Context) {}), context.Canceled)

	close(block)
	p.Stop()
}
