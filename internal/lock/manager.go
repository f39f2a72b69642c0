// Package lock provides cross-process mutual exclusion keyed by (object type, key),
// backed by a uniqueness constraint in the store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/internal/store"
	"go.uber.org/zap"
)

const defaultReleaseTimeout = 5 * time.Second

type Manager struct {
	repo           store.LockRepository
	log            *zap.Logger
	metrics        *metrics.Metrics
	releaseTimeout time.Duration
}

func NewManager(repo store.LockRepository, log *zap.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		repo:           repo,
		log:            log.With(zap.String("component", "lock_manager")),
		metrics:        m,
		releaseTimeout: defaultReleaseTimeout,
	}
}

// Acquire inserts the lock row. acquired is false with a nil error when another
// holder already owns the key.
func (m *Manager) Acquire(ctx context.Context, key string, objectType domain.LockObjectType) (lockID string, acquired bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, domain.NewError(domain.KindValidation, "lock key is required")
	}

	l := &domain.Lock{
		ID:         uuid.New(),
		ObjectType: objectType,
		Key:        key,
	}
	if err := m.repo.InsertLock(ctx, l); err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			m.metrics.LockAcquisition(string(objectType), "held")
			return "", false, nil
		}
		m.metrics.LockAcquisition(string(objectType), "error")
		return "", false, fmt.Errorf("acquire lock %s/%s: %w", objectType, key, err)
	}
	m.metrics.LockAcquisition(string(objectType), "acquired")
	return l.ID.String(), true, nil
}

// Release deletes the lock row. Releasing a lock that is not held is a no-op.
func (m *Manager) Release(ctx context.Context, key string, objectType domain.LockObjectType) error {
	if err := m.repo.DeleteLock(ctx, objectType, strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("release lock %s/%s: %w", objectType, key, err)
	}
	return nil
}

func (m *Manager) releaseByID(ctx context.Context, lockID string) error {
	id, err := uuid.Parse(lockID)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lockID, err)
	}
	if err := m.repo.DeleteLockByID(ctx, id); err != nil {
		return fmt.Errorf("release lock %s: %w", lockID, err)
	}
	return nil
}

// WithLock runs fn while holding the lock and releases it on every exit path,
// panics included. It returns domain.ErrLockHeld without running fn when the lock
// is already held. Release failures are logged, never returned: a leaked lock is
// reclaimed by the Reaper.
//
// The release deletes only the row this call inserted. If the Reaper expired it
// while fn was still running and another caller has since taken the key, that
// caller's lock survives.
func (m *Manager) WithLock(ctx context.Context, key string, objectType domain.LockObjectType, fn func(ctx context.Context) error) error {
	lockID, acquired, err := m.Acquire(ctx, key, objectType)
	if err != nil {
		return err
	}
	if !acquired {
		return domain.ErrLockHeld
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.releaseTimeout)
		defer cancel()
		if releaseErr := m.releaseByID(releaseCtx, lockID); releaseErr != nil {
			m.log.Error("lock release failed",
				zap.String("object_type", string(objectType)),
				zap.String("key", key),
				zap.String("lock_id", lockID),
				zap.Error(releaseErr),
			)
		}
	}()

	return fn(ctx)
}
