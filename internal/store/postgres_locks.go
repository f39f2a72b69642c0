package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/settlement-service/internal/domain"
)

// InsertLock relies on the (object_type, key) unique constraint: whichever insert
// commits first holds the lock. created_at comes from the database clock so every
// replica's reaper measures lease age against the same time source.
func (r *PostgresRepository) InsertLock(ctx context.Context, lock *domain.Lock) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO locks (id, object_type, key) VALUES ($1, $2, $3) RETURNING created_at`,
		lock.ID, string(lock.ObjectType), lock.Key,
	).Scan(&lock.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrLockHeld
	}
	if err != nil {
		return err
	}
	lock.CreatedAt = lock.CreatedAt.UTC()
	return nil
}

func (r *PostgresRepository) DeleteLock(ctx context.Context, objectType domain.LockObjectType, key string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM locks WHERE object_type = $1 AND key = $2`, string(objectType), key)
	return err
}

func (r *PostgresRepository) DeleteLockByID(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM locks WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) DeleteLocksOlderThan(ctx context.Context, lease time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM locks WHERE created_at < NOW() - make_interval(secs => $1)`,
		lease.Seconds(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
