// Package storagetest holds conformance suites that every implementation of
// the storage capability interfaces must pass.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

var (
	runPrefix    = "t" + uuid.NewString()[:8]
	tableCounter atomic.Int64
)

// UniqueName returns an identifier that does not collide with other suites
// sharing the same backend.
func UniqueName(base string) string {
	return fmt.Sprintf("%s_%s_%d", base, runPrefix, tableCounter.Add(1))
}

func widgetTable() *storage.Table {
	return &storage.Table{
		Name: UniqueName("widgets"),
		Key:  []string{"id"},
		Columns: []storage.Column{
			{Name: "id", Type: storage.TypeText},
			{Name: "kind", Type: storage.TypeText},
			{Name: "rank", Type: storage.TypeInt, Nullable: true},
			{Name: "score", Type: storage.TypeFloat, Nullable: true},
			{Name: "active", Type: storage.TypeBool},
			{Name: "seen_at", Type: storage.TypeTime, Nullable: true},
			{Name: "attrs", Type: storage.TypeJSON, Nullable: true},
		},
		Indexes: [][]string{{"kind"}},
	}
}

func widget(id, kind string, rank int, active bool) storage.Row {
	return storage.Row{"id": id, "kind": kind, "rank": rank, "active": active}
}

func ids(rows []storage.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.String("id")
	}
	return out
}

// RunTableStore exercises the TableStore contract. newStore returns a fresh
// store; tables are uniquely named so a shared backend is fine.
func RunTableStore(t *testing.T, newStore func(t *testing.T) storage.TableStore) {
	setup := func(t *testing.T) (context.Context, storage.TableStore, *storage.Table) {
		ctx := context.Background()
		s := newStore(t)
		tbl := widgetTable()
		require.NoError(t, s.EnsureTables(ctx, tbl))
		// Ensuring twice is harmless.
		require.NoError(t, s.EnsureTables(ctx, tbl))
		return ctx, s, tbl
	}

	t.Run("GetMissingIsNotFound", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		_, err := s.Get(ctx, tbl, "nope")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("RoundTripsEveryType", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		seen := time.Date(2024, 7, 1, 10, 0, 0, 123456000, time.FixedZone("IST", 19800))
		score := 0.75
		require.NoError(t, s.Insert(ctx, tbl, storage.Row{
			"id":      "w1",
			"kind":    "gear",
			"rank":    10,
			"score":   &score,
			"active":  true,
			"seen_at": seen,
			"attrs":   json.RawMessage(`{"b": 2, "a": [1, "x"]}`),
		}))

		got, err := s.Get(ctx, tbl, "w1")
		require.NoError(t, err)
		assert.Equal(t, "gear", got.String("kind"))
		assert.Equal(t, int64(10), got["rank"])
		assert.Equal(t, 0.75, got.Float("score"))
		assert.Equal(t, true, got["active"])
		assert.True(t, seen.Equal(got.Time("seen_at")))
		assert.Equal(t, time.UTC, got.Time("seen_at").Location())
		assert.JSONEq(t, `{"a":[1,"x"],"b":2}`, string(got.JSON("attrs")))
	})

	t.Run("NullsRoundTrip", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		var rank *int
		require.NoError(t, s.Insert(ctx, tbl, storage.Row{"id": "w1", "kind": "gear", "rank": rank, "active": false}))
		got, err := s.Get(ctx, tbl, "w1")
		require.NoError(t, err)
		assert.Nil(t, got["rank"])
		assert.Nil(t, got.IntPtr("rank"))
		assert.Nil(t, got["seen_at"])
		assert.Nil(t, got["attrs"])
	})

	t.Run("InsertDuplicateIsInvalidState", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		require.NoError(t, s.Insert(ctx, tbl, widget("w1", "gear", 1, true)))
		err := s.Insert(ctx, tbl, widget("w1", "gear", 2, true))
		assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	})

	t.Run("UpsertIsIdempotentAndLastWriteWins", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		row := widget("w1", "gear", 1, true)
		row["score"] = 0.5
		require.NoError(t, s.Upsert(ctx, tbl, row))
		require.NoError(t, s.Upsert(ctx, tbl, row))
		n, err := s.Count(ctx, tbl, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, s.Upsert(ctx, tbl, widget("w1", "bolt", 5, false)))
		got, err := s.Get(ctx, tbl, "w1")
		require.NoError(t, err)
		assert.Equal(t, 5, got.Int("rank"))
		assert.Equal(t, "bolt", got.String("kind"))
		assert.Equal(t, 0.5, got.Float("score"), "columns absent from the upsert keep their value")
	})

	t.Run("RejectsUnknownColumns", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		err := s.Insert(ctx, tbl, storage.Row{"id": "w1", "kind": "k", "active": true, "bogus": 1})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		_, err = s.Query(ctx, tbl, storage.Query{Where: storage.Filter{storage.Eq("bogus", 1)}})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("QueryOrderingFilteringPaging", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		for _, r := range []storage.Row{
			widget("c", "gear", 30, true),
			widget("a", "gear", 10, false),
			widget("e", "bolt", 20, true),
			widget("b", "Gear box", 40, true),
			{"id": "d", "kind": "bolt", "active": true},
		} {
			require.NoError(t, s.Insert(ctx, tbl, r))
		}

		all, err := s.Query(ctx, tbl, storage.Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(all), "default order is key ascending")

		byRank, err := s.Query(ctx, tbl, storage.Query{OrderBy: []storage.Order{{Column: "rank", Desc: true}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "e", "a", "d"}, ids(byRank), "nulls sort last")

		page, err := s.Query(ctx, tbl, storage.Query{OrderBy: []storage.Order{{Column: "rank"}}, Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"e", "c"}, ids(page))

		tail, err := s.Query(ctx, tbl, storage.Query{Offset: 3})
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "e"}, ids(tail))

		cases := []struct {
			name  string
			where storage.Filter
			want  []string
		}{
			{"eq", storage.Filter{storage.Eq("kind", "bolt")}, []string{"d", "e"}},
			{"ne", storage.Filter{storage.Ne("kind", "bolt")}, []string{"a", "b", "c"}},
			{"range", storage.Filter{storage.Gt("rank", 10), storage.Lte("rank", 30)}, []string{"c", "e"}},
			{"lt-gte", storage.Filter{storage.Lt("rank", 30), storage.Gte("rank", 20)}, []string{"e"}},
			{"in", storage.Filter{storage.In("id", "a", "e", "zz")}, []string{"a", "e"}},
			{"in-empty", storage.Filter{storage.In("id")}, []string{}},
			{"contains-case-insensitive", storage.Filter{storage.Contains("kind", "GEAR")}, []string{"a", "b", "c"}},
			{"contains-literal-wildcard", storage.Filter{storage.Contains("kind", "%")}, []string{}},
			{"is-null", storage.Filter{storage.IsNull("rank")}, []string{"d"}},
			{"not-null-and-bool", storage.Filter{storage.NotNull("rank"), storage.Eq("active", true)}, []string{"b", "c", "e"}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rows, err := s.Query(ctx, tbl, storage.Query{Where: tc.where})
				require.NoError(t, err)
				assert.Equal(t, tc.want, ids(rows))

				n, err := s.Count(ctx, tbl, tc.where)
				require.NoError(t, err)
				assert.Equal(t, len(tc.want), n)
			})
		}
	})

	t.Run("TimeComparison", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"a", "b", "c"} {
			row := widget(id, "k", i, true)
			row["seen_at"] = base.Add(time.Duration(i) * time.Hour)
			require.NoError(t, s.Insert(ctx, tbl, row))
		}
		rows, err := s.Query(ctx, tbl, storage.Query{
			Where:   storage.Filter{storage.Gte("seen_at", base.Add(30*time.Minute))},
			OrderBy: []storage.Order{{Column: "seen_at", Desc: true}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b"}, ids(rows))
	})

	t.Run("Aggregate", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		for _, r := range []storage.Row{
			widget("a", "gear", 10, true),
			widget("b", "gear", 20, true),
			widget("c", "gear", 20, false),
			widget("d", "bolt", 7, true),
			{"id": "e", "kind": "bolt", "active": true},
		} {
			require.NoError(t, s.Insert(ctx, tbl, r))
		}

		rows, err := s.Aggregate(ctx, tbl, nil, []string{"kind"}, []storage.Reducer{
			{Func: storage.ReduceCount, As: "n"},
			{Func: storage.ReduceCount, Column: "rank", As: "ranked"},
			{Func: storage.ReduceCountDistinct, Column: "rank", As: "distinct_ranks"},
			{Func: storage.ReduceMin, Column: "rank", As: "best"},
			{Func: storage.ReduceMax, Column: "rank", As: "worst"},
			{Func: storage.ReduceAvg, Column: "rank", As: "avg"},
			{Func: storage.ReduceSum, Column: "rank", As: "total"},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)

		bolt, gear := rows[0], rows[1]
		assert.Equal(t, "bolt", bolt.String("kind"))
		assert.Equal(t, int64(2), bolt["n"])
		assert.Equal(t, int64(1), bolt["ranked"])
		assert.Equal(t, int64(7), bolt["best"])
		assert.Equal(t, 7.0, bolt["avg"])

		assert.Equal(t, "gear", gear.String("kind"))
		assert.Equal(t, int64(3), gear["n"])
		assert.Equal(t, int64(2), gear["distinct_ranks"])
		assert.Equal(t, int64(10), gear["best"])
		assert.Equal(t, int64(20), gear["worst"])
		assert.InDelta(t, 50.0/3.0, gear.Float("avg"), 1e-9)
		assert.Equal(t, 50.0, gear["total"])

		// No groups and no matching rows still yields one row of reducers.
		empty, err := s.Aggregate(ctx, tbl, storage.Filter{storage.Eq("kind", "none")}, nil, []storage.Reducer{
			{Func: storage.ReduceCount, As: "n"},
			{Func: storage.ReduceMin, Column: "rank", As: "best"},
			{Func: storage.ReduceAvg, Column: "rank", As: "avg"},
		})
		require.NoError(t, err)
		require.Len(t, empty, 1)
		assert.Equal(t, int64(0), empty[0]["n"])
		assert.Nil(t, empty[0]["best"])
		assert.Nil(t, empty[0]["avg"])
	})

	t.Run("BatchAppliesAll", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		require.NoError(t, s.Insert(ctx, tbl, widget("a", "gear", 1, true)))
		require.NoError(t, s.Insert(ctx, tbl, widget("b", "gear", 2, true)))

		err := s.Batch(ctx, []storage.BatchOp{
			storage.InsertOp(tbl, widget("c", "bolt", 3, true)),
			storage.UpsertOp(tbl, widget("a", "gear", 100, false)),
			storage.UpdateOp(tbl, storage.Row{"kind": "spring"}, storage.Filter{storage.Eq("id", "c")}),
			storage.DeleteOp(tbl, storage.Filter{storage.Eq("id", "b")}),
		})
		require.NoError(t, err)

		rows, err := s.Query(ctx, tbl, storage.Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids(rows))
		assert.Equal(t, 100, rows[0].Int("rank"))
		assert.Equal(t, "spring", rows[1].String("kind"))
	})

	t.Run("BatchIsAllOrNothing", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		require.NoError(t, s.Insert(ctx, tbl, widget("a", "gear", 1, true)))

		err := s.Batch(ctx, []storage.BatchOp{
			storage.UpdateOp(tbl, storage.Row{"rank": 99}, storage.Filter{storage.Eq("id", "a")}),
			storage.InsertOp(tbl, widget("b", "gear", 2, true)),
			storage.InsertOp(tbl, widget("a", "gear", 3, true)), // duplicate key
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrInvalidState)

		rows, err := s.Query(ctx, tbl, storage.Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(rows))
		assert.Equal(t, 1, rows[0].Int("rank"))
	})

	t.Run("BatchValidatesBeforeWriting", func(t *testing.T) {
		ctx, s, tbl := setup(t)
		err := s.Batch(ctx, []storage.BatchOp{
			storage.InsertOp(tbl, widget("a", "gear", 1, true)),
			storage.UpdateOp(tbl, storage.Row{"nope": 1}, nil),
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		n, err := s.Count(ctx, tbl, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
