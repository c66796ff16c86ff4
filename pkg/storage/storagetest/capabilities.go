package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// RunBlobStore exercises the BlobStore contract. Expiry is driven by the
// clock handed to newStore.
func RunBlobStore(t *testing.T, newStore func(t *testing.T, clock storage.Clock) storage.BlobStore) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("MissingIsNotFound", func(t *testing.T) {
		s := newStore(t, storage.NewManualClock(start))
		_, err := s.Get(context.Background(), "college:nope")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("PutIsLastWriteWins", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, storage.NewManualClock(start))
		require.NoError(t, s.Put(ctx, "college:1", []byte("v1"), 0))
		require.NoError(t, s.Put(ctx, "college:1", []byte("v2"), 0))
		got, err := s.Get(ctx, "college:1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("EmptyValue", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, storage.NewManualClock(start))
		require.NoError(t, s.Put(ctx, "k", []byte{}, 0))
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ExpiresAfterTTL", func(t *testing.T) {
		ctx := context.Background()
		clock := storage.NewManualClock(start)
		s := newStore(t, clock)
		require.NoError(t, s.Put(ctx, "course:1", []byte("x"), time.Hour))
		require.NoError(t, s.Put(ctx, "course:2", []byte("y"), 0))

		clock.Advance(59 * time.Minute)
		_, err := s.Get(ctx, "course:1")
		require.NoError(t, err)

		clock.Advance(time.Minute)
		_, err = s.Get(ctx, "course:1")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)

		keys, err := s.List(ctx, "course:")
		require.NoError(t, err)
		assert.Equal(t, []string{"course:2"}, keys)
	})

	t.Run("DeleteAndList", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, storage.NewManualClock(start))
		for _, k := range []string{"college:b", "course:a", "college:a", "college:c"} {
			require.NoError(t, s.Put(ctx, k, []byte(k), 0))
		}
		require.NoError(t, s.Delete(ctx, "college:c"))
		require.NoError(t, s.Delete(ctx, "college:missing"))

		keys, err := s.List(ctx, "college:")
		require.NoError(t, err)
		assert.Equal(t, []string{"college:a", "college:b"}, keys)

		_, err = s.Get(ctx, "college:c")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

// RunVectorIndex exercises the VectorIndex ranking contract.
func RunVectorIndex(t *testing.T, newIndex func(t *testing.T) storage.VectorIndex) {
	seed := func(t *testing.T) storage.VectorIndex {
		ctx := context.Background()
		v := newIndex(t)
		docs := map[string]storage.Document{
			"c1": {Text: "ALL INDIA INSTITUTE OF MEDICAL SCIENCES DELHI", Metadata: map[string]string{"state": "Delhi"}},
			"c2": {Text: "ALL INDIA INSTITUTE OF MEDICAL SCIENCES JODHPUR", Metadata: map[string]string{"state": "Rajasthan"}},
			"c3": {Text: "GOVERNMENT DENTAL COLLEGE MUMBAI", Metadata: map[string]string{"state": "Maharashtra"}},
			"c4": {Text: "GOVERNMENT DENTAL COLLEGE MUMBAI", Metadata: map[string]string{"state": "Maharashtra"}},
		}
		for id, d := range docs {
			require.NoError(t, v.Upsert(ctx, id, d))
		}
		return v
	}

	t.Run("RanksBySimilarity", func(t *testing.T) {
		v := seed(t)
		hits, err := v.Query(context.Background(), storage.VectorQuery{Text: "ALL INDIA INSTITUTE OF MEDICAL SCIENCES DEHLI", TopK: 2})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "c1", hits[0].ID)
		assert.Equal(t, "c2", hits[1].ID)
		assert.Greater(t, hits[0].Score, hits[1].Score)
		assert.Less(t, hits[0].Score, 1.0)
		assert.Equal(t, "Delhi", hits[0].Metadata["state"])
	})

	t.Run("TiesBreakByID", func(t *testing.T) {
		v := seed(t)
		hits, err := v.Query(context.Background(), storage.VectorQuery{Text: "GOVERNMENT DENTAL COLLEGE MUMBAI", TopK: 2})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, []string{"c3", "c4"}, []string{hits[0].ID, hits[1].ID})
		assert.Equal(t, hits[0].Score, hits[1].Score)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	})

	t.Run("MetadataFilter", func(t *testing.T) {
		v := seed(t)
		hits, err := v.Query(context.Background(), storage.VectorQuery{
			Text:   "ALL INDIA INSTITUTE OF MEDICAL SCIENCES DELHI",
			Filter: map[string]string{"state": "Rajasthan"},
		})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "c2", hits[0].ID)
	})

	t.Run("UpsertReplacesAndDeleteRemoves", func(t *testing.T) {
		ctx := context.Background()
		v := seed(t)
		require.NoError(t, v.Upsert(ctx, "c3", storage.Document{Text: "KING GEORGE MEDICAL UNIVERSITY LUCKNOW"}))
		require.NoError(t, v.Delete(ctx, "c4"))

		hits, err := v.Query(ctx, storage.VectorQuery{Text: "KING GEORGE MEDICAL UNIVERSITY", TopK: 10})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "c3", hits[0].ID)
		for _, h := range hits {
			assert.NotEqual(t, "c4", h.ID)
		}
	})

	t.Run("RequiresTextOrEmbedding", func(t *testing.T) {
		v := seed(t)
		_, err := v.Query(context.Background(), storage.VectorQuery{})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

// RunMetricsSink checks that emitted values accumulate per series.
func RunMetricsSink(t *testing.T, newSink func(t *testing.T) storage.MetricsSink) {
	ctx := context.Background()
	m := newSink(t)
	m.Emit(ctx, "staging_approved_total", 1, map[string]string{"kind": "college", "method": "exact"})
	m.Emit(ctx, "staging_approved_total", 2, map[string]string{"method": "exact", "kind": "college"})
	m.Emit(ctx, "rollup_rebuild_total", 1, nil)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, snap["staging_approved_total{kind=college,method=exact}"])
	assert.Equal(t, 1.0, snap["rollup_rebuild_total"])
}

// RunLocker checks mutual exclusion per key.
func RunLocker(t *testing.T, newLocker func(t *testing.T) storage.Locker) {
	t.Run("SerializesSameKey", func(t *testing.T) {
		l := newLocker(t)
		ctx := context.Background()
		var inside, maxInside atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := l.Acquire(ctx, "staging:1")
				if !assert.NoError(t, err) {
					return
				}
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				release()
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxInside.Load())
	})

	t.Run("DifferentKeysDoNotBlock", func(t *testing.T) {
		l := newLocker(t)
		ctx := context.Background()
		r1, err := l.Acquire(ctx, "a")
		require.NoError(t, err)
		defer r1()

		ctx2, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		r2, err := l.Acquire(ctx2, "b")
		require.NoError(t, err)
		r2()
	})

	t.Run("WaitHonorsContext", func(t *testing.T) {
		l := newLocker(t)
		r1, err := l.Acquire(context.Background(), "held")
		require.NoError(t, err)
		defer r1()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = l.Acquire(ctx, "held")
		assert.Error(t, err)
	})
}
