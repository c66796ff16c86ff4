package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// BlobStore is a storage.BlobStore backed by Badger.
//
// Values are stored in the storage envelope so expiry follows the injected
// clock. Badger's own TTL is set as well so expired entries are eventually
// garbage collected.
type BlobStore struct {
	db     *badger.DB
	clock  storage.Clock
	logger *zap.Logger
}

var _ storage.BlobStore = (*BlobStore)(nil)

// OpenBlobStore opens a Badger database in dir, or in memory when dir is empty.
func OpenBlobStore(dir string, clock storage.Clock, logger *zap.Logger) (*BlobStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Badger's internal logging is noisy
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	if clock == nil {
		clock = storage.SystemClock{}
	}
	return &BlobStore{db: db, clock: clock, logger: logger.Named("badger")}, nil
}

func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value, exp, err := storage.DecodeBlob(val)
			if err != nil {
				return err
			}
			if storage.Expired(exp, s.clock.Now()) {
				return badger.ErrKeyNotFound
			}
			out = value
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFoundf("blob %q not found", key)
	}
	if err != nil {
		return nil, apperrors.Internal("badger get", err)
	}
	return out, nil
}

func (s *BlobStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return apperrors.Validationf("blob key is required")
	}
	exp := storage.ExpiresAt(s.clock.Now(), ttl)
	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), storage.EncodeBlob(value, exp))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return apperrors.Internal("badger put", err)
	}
	return nil
}

func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return apperrors.Internal("badger delete", err)
	}
	return nil
}

func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			var live bool
			if err := item.Value(func(val []byte) error {
				_, exp, err := storage.DecodeBlob(val)
				if err != nil {
					return err
				}
				live = !storage.Expired(exp, now)
				return nil
			}); err != nil {
				return err
			}
			if live {
				keys = append(keys, string(item.KeyCopy(nil)))
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Internal("badger list", err)
	}
	return keys, nil
}

func (s *BlobStore) Close() error {
	return s.db.Close()
}
