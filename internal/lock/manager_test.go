package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/store"
	"github.com/transfa/settlement-service/internal/store/memstore"
)

func TestAcquire_ConcurrentCallersExactlyOneWins(t *testing.T) {
	mgr := NewManager(memstore.New(), nil, nil)

	const callers = 64
	var (
		wg    sync.WaitGroup
		wins  int64
		start = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, acquired, err := mgr.Acquire(context.Background(), "corr-1", domain.LockObjectCorrelation)
			assert.NoError(t, err)
			if acquired {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}

func TestAcquire_ReturnsLockIDAndReleaseIsIdempotent(t *testing.T) {
	repo := memstore.New()
	mgr := NewManager(repo, nil, nil)
	ctx := context.Background()

	id, acquired, err := mgr.Acquire(ctx, "k", domain.LockObjectTransaction)
	require.NoError(t, err)
	require.True(t, acquired)
	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr)

	_, acquired, err = mgr.Acquire(ctx, "k", domain.LockObjectTransaction)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, mgr.Release(ctx, "k", domain.LockObjectTransaction))
	require.NoError(t, mgr.Release(ctx, "k", domain.LockObjectTransaction))

	_, acquired, err = mgr.Acquire(ctx, "k", domain.LockObjectTransaction)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRelease_DoesNotAffectOtherKeys(t *testing.T) {
	repo := memstore.New()
	mgr := NewManager(repo, nil, nil)
	ctx := context.Background()

	_, _, err := mgr.Acquire(ctx, "a", domain.LockObjectPayroll)
	require.NoError(t, err)
	_, _, err = mgr.Acquire(ctx, "b", domain.LockObjectPayroll)
	require.NoError(t, err)

	require.NoError(t, mgr.Release(ctx, "a", domain.LockObjectPayroll))
	assert.Equal(t, 1, repo.HeldLocks())
}

func TestAcquire_RejectsEmptyKey(t *testing.T) {
	_, _, err := NewManager(memstore.New(), nil, nil).Acquire(context.Background(), "  ", domain.LockObjectTransaction)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestWithLock_ReleasesOnErrorAndPanic(t *testing.T) {
	repo := memstore.New()
	mgr := NewManager(repo, nil, nil)
	ctx := context.Background()

	boom := errors.New("boom")
	err := mgr.WithLock(ctx, "k", domain.LockObjectTransaction, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, repo.HeldLocks())

	assert.Panics(t, func() {
		_ = mgr.WithLock(ctx, "k", domain.LockObjectTransaction, func(ctx context.Context) error { panic("kaboom") })
	})
	assert.Equal(t, 0, repo.HeldLocks())
}

func TestWithLock_HeldLockSkipsFn(t *testing.T) {
	repo := memstore.New()
	mgr := NewManager(repo, nil, nil)
	ctx := context.Background()

	_, _, err := mgr.Acquire(ctx, "k", domain.LockObjectTransaction)
	require.NoError(t, err)

	called := false
	err = mgr.WithLock(ctx, "k", domain.LockObjectTransaction, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.False(t, called)
	assert.Equal(t, 1, repo.HeldLocks())
}

func TestWithLock_ReleasesEvenWhenCallerContextCancelled(t *testing.T) {
	repo := memstore.New()
	mgr := NewManager(repo, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	err := mgr.WithLock(ctx, "k", domain.LockObjectTransaction, func(ctx context.Context) error {
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, repo.HeldLocks())
}

type failingReleaseRepo struct {
	store.LockRepository
}

func (failingReleaseRepo) DeleteLockByID(ctx context.Context, id uuid.UUID) error {
	return errors.New("connection reset")
}

func TestWithLock_SwallowsReleaseFailure(t *testing.T) {
	mgr := NewManager(failingReleaseRepo{LockRepository: memstore.New()}, nil, nil)
	err := mgr.WithLock(context.Background(), "k", domain.LockObjectTransaction, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestReaper_DeletesOnlyExpiredLocks(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := memstore.New().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, repo.InsertLock(ctx, &domain.Lock{ID: uuid.New(), ObjectType: domain.LockObjectTransaction, Key: "stale"}))
	now = now.Add(9 * time.Minute)
	require.NoError(t, repo.InsertLock(ctx, &domain.Lock{ID: uuid.New(), ObjectType: domain.LockObjectTransaction, Key: "fresh"}))
	now = now.Add(time.Minute)

	removed, err := NewReaper(repo, 5*time.Minute, nil, nil).ReapOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 1, repo.HeldLocks())
}

func TestWithLock_LateReleaseKeepsNextHoldersLock(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := memstore.New().WithClock(func() time.Time { return now })
	mgr := NewManager(repo, nil, nil)
	reaper := NewReaper(repo, time.Minute, nil, nil)
	ctx := context.Background()

	err := mgr.WithLock(ctx, "corr-1", domain.LockObjectCorrelation, func(ctx context.Context) error {
		now = now.Add(2 * time.Minute)
		removed, err := reaper.ReapOnce(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(1), removed)

		_, acquired, err := mgr.Acquire(ctx, "corr-1", domain.LockObjectCorrelation)
		require.NoError(t, err)
		require.True(t, acquired)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, repo.HeldLocks())
	_, acquired, err := mgr.Acquire(ctx, "corr-1", domain.LockObjectCorrelation)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestReaper_StartRejectsInvalidSchedule(t *testing.T) {
	reaper := NewReaper(memstore.New(), time.Minute, nil, nil)
	assert.Error(t, reaper.Start("not a schedule"))
	<-reaper.Stop().Done()
}
