package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/internal/store"
	"go.uber.org/zap"
)

// Reaper deletes locks whose holder died without releasing them. The lease must be
// several times longer than the slowest locked operation.
type Reaper struct {
	repo    store.LockRepository
	lease   time.Duration
	cron    *cron.Cron
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewReaper(repo store.LockRepository, lease time.Duration, log *zap.Logger, m *metrics.Metrics) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "lock_reaper"))
	cronLogger := cron.PrintfLogger(zap.NewStdLog(log))
	return &Reaper{
		repo:    repo,
		lease:   lease,
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger))),
		log:     log,
		metrics: m,
	}
}

// ReapOnce deletes every lock older than the lease and reports how many it removed.
// Age is judged by the store's clock, the same one that stamped created_at.
func (r *Reaper) ReapOnce(ctx context.Context) (int64, error) {
	removed, err := r.repo.DeleteLocksOlderThan(ctx, r.lease)
	if err != nil {
		return 0, fmt.Errorf("reap locks older than %s: %w", r.lease, err)
	}
	r.metrics.LocksReapedAdd(removed)
	if removed > 0 {
		r.log.Warn("reaped expired locks", zap.Int64("count", removed), zap.Duration("lease", r.lease))
	}
	return removed, nil
}

// Start schedules ReapOnce on schedule (standard cron spec or "@every <duration>").
func (r *Reaper) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := r.ReapOnce(ctx); err != nil {
			r.log.Error("lock reap failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule lock reaper %q: %w", schedule, err)
	}
	r.log.Info("scheduled lock reaper", zap.String("schedule", schedule), zap.Duration("lease", r.lease))
	r.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once a running reap finishes.
func (r *Reaper) Stop() context.Context {
	return r.cron.Stop()
}
