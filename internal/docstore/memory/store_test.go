package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(nil, WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc, err := s.Create(ctx, "progress", "u1", map[string]any{"weight": 80, "date": "2024-01-01"})
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)
	require.Equal(t, doc.CreatedAt, doc.UpdatedAt)

	got, err := s.Get(ctx, "progress", doc.ID)
	require.NoError(t, err)
	require.Equal(t, "u1", got.OwnerID)
	require.Equal(t, 80.0, got.Data["weight"])

	_, err = s.Get(ctx, "progress", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetKeepsCreationTimeAndOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Set(ctx, "users", "u1", "u1", map[string]any{"units": "metric"})
	require.NoError(t, err)
	second, err := s.Set(ctx, "users", "u1", "u1", map[string]any{"units": "imperial"})
	require.NoError(t, err)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
	require.True(t, second.UpdatedAt.After(first.UpdatedAt))

	_, err = s.Set(ctx, "users", "u1", "intruder", map[string]any{"units": "metric"})
	require.ErrorIs(t, err, domain.ErrOwnerMismatch)
}

func TestUpdateMergeAndReplace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc, err := s.Create(ctx, "workouts", "u1", map[string]any{"name": "Push", "status": "planned"})
	require.NoError(t, err)

	merged, err := s.Update(ctx, "workouts", doc.ID, map[string]any{"status": "completed"}, true)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Push", "status": "completed"}, merged.Data)
	require.Equal(t, "u1", merged.OwnerID)

	replaced, err := s.Update(ctx, "workouts", doc.ID, map[string]any{"status": "planned"}, false)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"status": "planned"}, replaced.Data)

	_, err = s.Update(ctx, "workouts", "missing", map[string]any{}, true)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "workouts", doc.ID))
	require.NoError(t, s.Delete(ctx, "workouts", doc.ID))
	require.Equal(t, 0, s.Len("workouts"))
}

func TestQueryFiltersOrdersAndLimits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, rec := range []struct {
		id     string
		owner  string
		weight float64
		tags   []string
	}{
		{"a", "u1", 82, []string{"morning"}},
		{"b", "u1", 79, []string{"evening"}},
		{"c", "u1", 80, []string{"morning", "fasted"}},
		{"d", "u2", 70, nil},
	} {
		_, err := s.Set(ctx, "progress", rec.id, rec.owner, map[string]any{"weight": rec.weight, "tags": rec.tags})
		require.NoError(t, err)
	}

	docs, err := s.Query(ctx, "progress", docstore.Query{
		Filters: []docstore.Filter{{Field: "ownerId", Op: docstore.OpEqual, Value: "u1"}},
		OrderBy: []docstore.Order{{Field: "weight", Desc: true}},
		Limit:   2,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, ids(docs))

	docs, err = s.Query(ctx, "progress", docstore.Query{}.
		Where("weight", docstore.OpGreaterEqual, 80).
		Where("tags", docstore.OpArrayContains, "morning"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, ids(docs))

	docs, err = s.Query(ctx, "progress", docstore.Query{}.Where("id", docstore.OpIn, []string{"b", "d"}))
	require.NoError(t, err)
	require.Equal(t, []string{"b", "d"}, ids(docs))

	_, err = s.Query(ctx, "progress", docstore.Query{}.Where("weight", "like", 1))
	require.ErrorIs(t, err, docstore.ErrInvalidQuery)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		require.NoError(t, tx.Set(ctx, "progress", "a", "u1", map[string]any{"weight": 80}))
		got, err := tx.Get(ctx, "progress", "a")
		require.NoError(t, err)
		require.Equal(t, 80.0, got.Data["weight"])
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, s.Len("progress"))
}

func TestTransactionRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Set(ctx, "progress", "a", "u1", map[string]any{"weight": 80})
	require.NoError(t, err)

	attempts := 0
	err = s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		doc, err := tx.Get(ctx, "progress", "a")
		if err != nil {
			return err
		}
		if attempts == 1 {
			_, err := s.Update(ctx, "progress", "a", map[string]any{"weight": 81}, true)
			require.NoError(t, err)
		}
		weight := doc.Data["weight"].(float64)
		return tx.Update(ctx, "progress", "a", map[string]any{"weight": weight + 1}, true)
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	doc, err := s.Get(ctx, "progress", "a")
	require.NoError(t, err)
	require.Equal(t, 82.0, doc.Data["weight"])
}

func TestCommitBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.CommitBatch(ctx, []docstore.Write{
		{Kind: docstore.WriteSet, Collection: "progress", ID: "a", OwnerID: "u1", Data: map[string]any{"weight": 80}},
		{Kind: docstore.WriteUpdate, Collection: "progress", ID: "missing", Data: map[string]any{"weight": 81}, Merge: true},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, 0, s.Len("progress"))

	err = s.CommitBatch(ctx, []docstore.Write{
		{Kind: docstore.WriteSet, Collection: "progress", ID: "a", OwnerID: "u1", Data: map[string]any{"weight": 80}},
		{Kind: docstore.WriteSet, Collection: "progress", ID: "b", OwnerID: "u1", Data: map[string]any{"weight": 81}},
		{Kind: docstore.WriteDelete, Collection: "progress", ID: "b"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, s.Len("progress"))
}

func TestSubscribeSeesWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ch := make(chan []docstore.Document, 8)
	unsubscribe, err := s.Subscribe(ctx, "progress", docstore.Query{}.Where("ownerId", docstore.OpEqual, "u1"), func(docs []docstore.Document) {
		ch <- docs
	})
	require.NoError(t, err)
	defer unsubscribe()

	waitFor(t, ch, 0)
	_, err = s.Create(ctx, "progress", "u1", map[string]any{"weight": 80})
	require.NoError(t, err)
	waitFor(t, ch, 1)
}

func waitFor(t *testing.T, ch <-chan []docstore.Document, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case docs := <-ch:
			if len(docs) == n {
				return
			}
		case <-deadline:
			t.Fatalf("no delivery with %d documents", n)
		}
	}
}

func ids(docs []docstore.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
