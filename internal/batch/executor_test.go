package batch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/docstore/memory"
	"example.com/fitsync/internal/domain"
)

func owner(id string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		if id == "" {
			return "", domain.ErrUnauthenticated
		}
		return id, nil
	}
}

func newExecutor(t *testing.T, ownerID string) (*Executor, *memory.Store) {
	t.Helper()
	store := memory.New(nil)
	t.Cleanup(func() { _ = store.Close() })
	return NewExecutor(store, owner(ownerID), nil), store
}

func TestExecuteTransactionAppliesAll(t *testing.T) {
	ctx := context.Background()
	exec, store := newExecutor(t, "u1")

	_, err := store.Set(ctx, "workouts", "w1", "u1", map[string]any{"name": "Push"})
	require.NoError(t, err)

	results, err := exec.ExecuteTransaction(ctx, []Operation{
		{Kind: "set", Collection: "progress", ID: "p1", Data: map[string]any{"weight": 80}},
		{Kind: "update", Collection: "workouts", ID: "w1", Data: map[string]any{"status": "completed"}, Merge: true},
		{Kind: "delete", Collection: "workouts", ID: "missing"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.False(t, results[0].Existed)
	require.True(t, results[1].Existed)
	require.False(t, results[2].Existed)

	doc, err := store.Get(ctx, "workouts", "w1")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Push", "status": "completed"}, doc.Data)
	require.Equal(t, 1, store.Len("progress"))
}

func TestExecuteTransactionIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	exec, store := newExecutor(t, "u1")

	_, err := exec.ExecuteTransaction(ctx, []Operation{
		{Kind: "set", Collection: "progress", ID: "p1", Data: map[string]any{"weight": 80}},
		{Kind: "update", Collection: "progress", ID: "missing", Data: map[string]any{"weight": 81}},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, 0, store.Len("progress"))
}

func TestExecuteTransactionReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	exec, store := newExecutor(t, "u1")

	_, err := store.Set(ctx, "users", "u1", "u1", map[string]any{"workoutStreak": 0.0})
	require.NoError(t, err)

	increment := Operation{
		Kind:       "set",
		Collection: "users",
		ID:         "u1",
		Transform: func(current *docstore.Document) (map[string]any, error) {
			streak, _ := current.Data["workoutStreak"].(float64)
			return map[string]any{"workoutStreak": streak + 1}, nil
		},
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := exec.ExecuteTransaction(ctx, []Operation{increment}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	doc, err := store.Get(ctx, "users", "u1")
	require.NoError(t, err)
	require.Equal(t, 4.0, doc.Data["workoutStreak"])
}

func TestExecuteTransactionChecksOwner(t *testing.T) {
	ctx := context.Background()
	exec, store := newExecutor(t, "u2")

	_, err := store.Set(ctx, "progress", "p1", "u1", map[string]any{"weight": 80})
	require.NoError(t, err)

	_, err = exec.ExecuteTransaction(ctx, []Operation{{Kind: "delete", Collection: "progress", ID: "p1"}})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = exec.ExecuteTransaction(ctx, []Operation{{Kind: "set", Collection: "progress", ID: "p1", Data: map[string]any{}}})
	require.ErrorIs(t, err, domain.ErrOwnerMismatch)
	require.Equal(t, 1, store.Len("progress"))
}

func TestExecuteBatch(t *testing.T) {
	ctx := context.Background()
	exec, store := newExecutor(t, "u1")

	n, err := exec.ExecuteBatch(ctx, []Operation{
		{Kind: "set", Collection: "exercises", ID: "e1", Data: map[string]any{"exerciseName": "Squat"}},
		{Kind: "set", Collection: "exercises", ID: "e2", Data: map[string]any{"exerciseName": "Bench"}},
		{Kind: "delete", Collection: "exercises", ID: "e2"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 1, store.Len("exercises"))

	doc, err := store.Get(ctx, "exercises", "e1")
	require.NoError(t, err)
	require.Equal(t, "u1", doc.OwnerID)
}

func TestExecuteBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	exec, store := newExecutor(t, "u1")

	_, err := exec.ExecuteBatch(ctx, []Operation{
		{Kind: "set", Collection: "exercises", ID: "e1", Data: map[string]any{"exerciseName": "Squat"}},
		{Kind: "update", Collection: "exercises", ID: "missing", Data: map[string]any{"reps": 5}},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, 0, store.Len("exercises"))
}

func TestRejectsUnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	exec, _ := newExecutor(t, "u1")

	_, err := exec.ExecuteTransaction(ctx, []Operation{{Kind: "increment", Collection: "progress", ID: "p1"}})
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = exec.ExecuteBatch(ctx, []Operation{{Kind: "merge", Collection: "progress", ID: "p1"}})
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	_, err = exec.ExecuteBatch(ctx, []Operation{{
		Kind: "set", Collection: "progress", ID: "p1",
		Transform: func(*docstore.Document) (map[string]any, error) { return nil, nil },
	}})
	require.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestRequiresOwner(t *testing.T) {
	exec, _ := newExecutor(t, "")

	_, err := exec.ExecuteBatch(context.Background(), []Operation{{Kind: "delete", Collection: "progress", ID: "p1"}})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

type recordingEvictor struct {
	mu      sync.Mutex
	evicted []string
}

func (r *recordingEvictor) Evict(collection, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, collection+"/"+id)
}

func TestWritesEvictTouchedDocuments(t *testing.T) {
	ctx := context.Background()
	store := memory.New(nil)
	t.Cleanup(func() { _ = store.Close() })
	evictor := &recordingEvictor{}
	exec := NewExecutor(store, owner("u1"), nil, WithEvictor(evictor))

	_, err := exec.ExecuteTransaction(ctx, []Operation{
		{Kind: "set", Collection: "progress", ID: "p1", Data: map[string]any{"weight": 80}},
		{Kind: "delete", Collection: "workouts", ID: "w1"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"progress/p1", "workouts/w1"}, evictor.evicted)

	_, err = exec.ExecuteBatch(ctx, []Operation{{Kind: "update", Collection: "progress", ID: "p1", Data: map[string]any{"weight": 81}, Merge: true}})
	require.NoError(t, err)
	require.Equal(t, []string{"progress/p1", "workouts/w1", "progress/p1"}, evictor.evicted)
}
