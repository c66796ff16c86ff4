package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// DefaultLockTTL bounds how long a crashed holder can block a key.
const DefaultLockTTL = 30 * time.Second

// Locker is a storage.Locker backed by redislock, serializing work on a key
// across processes.
type Locker struct {
	client    *redislock.Client
	namespace string
	ttl       time.Duration
	logger    *zap.Logger
}

var _ storage.Locker = (*Locker)(nil)

func NewLocker(rdb *redis.Client, namespace string, logger *zap.Logger) *Locker {
	return &Locker{
		client:    redislock.New(rdb),
		namespace: namespace,
		ttl:       DefaultLockTTL,
		logger:    logger.Named("locker"),
	}
}

// Acquire waits for the lock, polling with linear backoff until ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := l.namespace + "lock:" + key
	lock, err := l.client.Obtain(ctx, lockKey, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.Transient("obtain lock "+key, err)
	}
	if err != nil {
		return nil, classifyRedis("obtain lock", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("Failed to release lock", zap.String("key", lockKey), zap.Error(err))
			}
		})
	}, nil
}
