// Package worker runs submitted jobs on a fixed set of goroutines.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/transfa/settlement-service/internal/metrics"
	"go.uber.org/zap"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

type Job func(ctx context.Context)

type Pool struct {
	wg      sync.WaitGroup
	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	stopped bool
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewPool starts n workers with a queue of queueSize pending jobs.
func NewPool(n, queueSize int, log *zap.Logger, m *metrics.Metrics) *Pool {
	if n <= 0 {
		n = 1
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:    make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(zap.String("component", "worker_pool")),
		metrics: m,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.metrics.QueueDepth(len(p.jobs))
				p.run(job)
			}
		}()
	}
	return p
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job panicked", zap.Any("panic", r))
		}
	}()
	job(p.ctx)
}

// Submit queues job, blocking while the queue is full until ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		p.metrics.QueueDepth(len(p.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued jobs and waits for the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}
