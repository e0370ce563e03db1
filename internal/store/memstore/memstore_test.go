package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/foxseedlab/circles/internal/store"
	"github.com/stretchr/testify/require"
)

func TestGet_AbsentReturnsNil(t *testing.T) {
	s := New()
	doc, err := s.Get(context.Background(), "circles/none")
	require.NoError(t, err)
	require.Nil(t, doc)
}

func TestUpdate_MergesAndClearsWithNil(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	req.NoError(s.Set(ctx, "circles/c1", store.Fields{"title": "a", "endedAt": int64(5)}))

	req.NoError(s.Update(ctx, "circles/c1", store.Fields{"title": "b", "endedAt": nil}))

	doc, err := s.Get(ctx, "circles/c1")
	req.NoError(err)
	req.Equal("b", doc.Data.String("title"))
	req.Nil(doc.Data.TimePtr("endedAt"))
}

func TestUpdateAndIncrement_AbsentDocument(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.ErrorIs(t, s.Update(ctx, "circles/x", store.Fields{"a": 1}), store.ErrNotFound)
	require.ErrorIs(t, s.Increment(ctx, "circles/x", "n", 1), store.ErrNotFound)
}

func TestQuery_FiltersOrdersAndPaginates(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	req.NoError(s.Set(ctx, "circles/a", store.Fields{"status": "live", "startAt": int64(30)}))
	req.NoError(s.Set(ctx, "circles/b", store.Fields{"status": "live", "startAt": int64(10)}))
	req.NoError(s.Set(ctx, "circles/c", store.Fields{"status": "ended", "startAt": int64(20)}))
	req.NoError(s.Set(ctx, "circles/d", store.Fields{"status": "live", "startAt": float64(10)}))
	req.NoError(s.Set(ctx, "circles/a/members/u1", store.Fields{"status": "live"}))

	q := store.Query{
		Collection: "circles",
		Filters:    []store.Filter{{Field: "status", Value: "live"}},
		OrderBy:    "startAt",
		Limit:      2,
	}
	first, err := s.Query(ctx, q)
	req.NoError(err)
	req.Equal([]string{"b", "d"}, ids(first))

	last := first[len(first)-1]
	q.StartAfter = &store.Cursor{Value: last.Data["startAt"], ID: last.ID()}
	second, err := s.Query(ctx, q)
	req.NoError(err)
	req.Equal([]string{"a"}, ids(second))
}

func TestRunTransaction_ReadsOwnWritesAndRollsBackOnError(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	req.NoError(s.Set(ctx, "counters/a", store.Fields{"n": int64(1)}))

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		if err := tx.Increment("counters/a", "n", 5); err != nil {
			return err
		}
		doc, err := tx.Get("counters/a")
		if err != nil {
			return err
		}
		req.EqualValues(6, doc.Data.Int64("n"))
		return boom
	})
	req.ErrorIs(err, boom)

	doc, err := s.Get(ctx, "counters/a")
	req.NoError(err)
	req.EqualValues(1, doc.Data.Int64("n"))
}

func TestRunTransaction_ConcurrentReadModifyWriteIsSerialised(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.maxAttempts = 1000
	require.NoError(t, s.Set(ctx, "counters/a", store.Fields{"n": int64(0)}))

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := s.RunTransaction(ctx, func(tx store.Tx) error {
					doc, err := tx.Get("counters/a")
					if err != nil {
						return err
					}
					return tx.Set("counters/a", store.Fields{"n": doc.Data.Int64("n") + 1})
				})
				if err != nil {
					t.Errorf("transaction failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	doc, err := s.Get(ctx, "counters/a")
	require.NoError(t, err)
	require.EqualValues(t, workers*perWorker, doc.Data.Int64("n"))
}

func TestRunTransaction_AbsentReadConflictsWithConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.maxAttempts = 1
	err := s.RunTransaction(ctx, func(tx store.Tx) error {
		doc, err := tx.Get("quota/u1")
		require.NoError(t, err)
		require.Nil(t, doc)
		require.NoError(t, s.Set(ctx, "quota/u1", store.Fields{"count": int64(1)}))
		return tx.Set("quota/u1", store.Fields{"count": int64(1)})
	})
	require.ErrorIs(t, err, store.ErrTxConflict)
}

func TestBatchDelete(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	req.NoError(s.Set(ctx, "circles/a/members/u1", store.Fields{}))
	req.NoError(s.Set(ctx, "circles/a/members/u2", store.Fields{}))

	req.NoError(s.BatchDelete(ctx, []string{"circles/a/members/u1", "circles/a/members/u2"}))

	docs, err := s.Query(ctx, store.Query{Collection: "circles/a/members"})
	req.NoError(err)
	req.Empty(docs)
}

func ids(docs []store.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID())
	}
	return out
}
