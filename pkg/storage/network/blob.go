package network

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/retry"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// BlobStore is a storage.BlobStore backed by Redis. Keys are namespaced with
// a prefix so several deployments can share one Redis database.
type BlobStore struct {
	client    *redis.Client
	namespace string
	clock     storage.Clock
	retry     *retry.Config
	timeouts  Timeouts
	logger    *zap.Logger
}

var _ storage.BlobStore = (*BlobStore)(nil)

// NewBlobStore wraps client. The client is owned by the caller.
func NewBlobStore(client *redis.Client, namespace string, clock storage.Clock, timeouts Timeouts, logger *zap.Logger) *BlobStore {
	timeouts = timeouts.withDefaults()
	cfg := retry.DefaultConfig()
	cfg.AttemptTimeout = timeouts.Read
	if clock == nil {
		clock = storage.SystemClock{}
	}
	return &BlobStore{
		client:    client,
		namespace: namespace,
		clock:     clock,
		retry:     cfg,
		timeouts:  timeouts,
		logger:    logger.Named("redis-blob"),
	}
}

func (s *BlobStore) key(k string) string { return s.namespace + k }

func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := retry.DoWithResult(ctx, s.retry, func(ctx context.Context) ([]byte, error) {
		return s.client.Get(ctx, s.key(key)).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFoundf("blob %q not found", key)
	}
	if err != nil {
		return nil, classifyRedis("get", err)
	}
	value, exp, err := storage.DecodeBlob(raw)
	if err != nil {
		return nil, apperrors.Internal("decode blob", err)
	}
	if storage.Expired(exp, s.clock.Now()) {
		return nil, apperrors.NotFoundf("blob %q not found", key)
	}
	return value, nil
}

func (s *BlobStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return apperrors.Validationf("blob key is required")
	}
	wctx, cancel := context.WithTimeout(ctx, s.timeouts.Write)
	defer cancel()
	payload := storage.EncodeBlob(value, storage.ExpiresAt(s.clock.Now(), ttl))
	var exp time.Duration
	if ttl > 0 {
		exp = ttl
	}
	if err := s.client.Set(wctx, s.key(key), payload, exp).Err(); err != nil {
		return classifyRedis("put", err)
	}
	return nil
}

func (s *BlobStore) Delete(ctx context.Context, key string) error {
	wctx, cancel := context.WithTimeout(ctx, s.timeouts.Write)
	defer cancel()
	if err := s.client.Del(wctx, s.key(key)).Err(); err != nil {
		return classifyRedis("delete", err)
	}
	return nil
}

// List scans for keys under prefix and drops entries already expired by the
// clock. Results are sorted to match the local implementation.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := retry.DoWithResult(ctx, s.retry, func(ctx context.Context) ([]string, error) {
		var out []string
		iter := s.client.Scan(ctx, 0, escapeGlob(s.key(prefix))+"*", 200).Iterator()
		for iter.Next(ctx) {
			out = append(out, iter.Val())
		}
		return out, iter.Err()
	})
	if err != nil {
		return nil, classifyRedis("list", err)
	}

	now := s.clock.Now()
	live := make([]string, 0, len(keys))
	for _, k := range keys {
		raw, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, classifyRedis("list", err)
		}
		_, exp, err := storage.DecodeBlob(raw)
		if err != nil || storage.Expired(exp, now) {
			continue
		}
		live = append(live, k[len(s.namespace):])
	}
	sort.Strings(live)
	return live, nil
}

// Close is a no-op; the client belongs to the caller.
func (s *BlobStore) Close() error { return nil }

func escapeGlob(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

func classifyRedis(op string, err error) error {
	if retry.IsRetryable(err) {
		return apperrors.Transient("redis "+op, err)
	}
	return apperrors.Internal("redis "+op, err)
}
