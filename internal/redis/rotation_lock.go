package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// rotationLockTTL bounds how long a crashed rotator can hold the lock. A
// rotation attempt finishes well within this, provider timeout included.
const rotationLockTTL = 30 * time.Second

// RotationLock is a best-effort distributed lock keyed per credential, so
// concurrent rotation attempts across instances collapse into one provider
// refresh. It implements domain.RotationLocker.
type RotationLock struct {
	rdb *goredis.Client
}

func NewRotationLock(rdb *goredis.Client) *RotationLock {
	return &RotationLock{rdb: rdb}
}

// Acquire returns true when this caller now holds the lock, false when
// another rotation is already in flight.
func (l *RotationLock) Acquire(ctx context.Context, userID uuid.UUID, provider string) (bool, error) {
	set, err := l.rdb.SetNX(ctx, rotationLockKey(userID, provider), "1", rotationLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire rotation lock: %w", err)
	}
	return set, nil
}

func (l *RotationLock) Release(ctx context.Context, userID uuid.UUID, provider string) error {
	if err := l.rdb.Del(ctx, rotationLockKey(userID, provider)).Err(); err != nil {
		return fmt.Errorf("failed to release rotation lock: %w", err)
	}
	return nil
}

func rotationLockKey(userID uuid.UUID, provider string) string {
	return "rotation_lock:" + userID.String() + ":" + provider
}
