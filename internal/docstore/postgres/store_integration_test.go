//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
)

func newIntegrationStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("fitness"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store, err := New(ctx, pool, Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, pool
}

func TestStoreCRUDAndOutbox(t *testing.T) {
	ctx := context.Background()
	store, pool := newIntegrationStore(t)

	doc, err := store.Create(ctx, "progress", "u1", map[string]any{"weight": 80, "date": "2024-01-01"})
	require.NoError(t, err)
	require.Equal(t, 80.0, doc.Data["weight"])

	updated, err := store.Update(ctx, "progress", doc.ID, map[string]any{"notes": "felt good"}, true)
	require.NoError(t, err)
	require.Equal(t, "2024-01-01", updated.Data["date"])
	require.Equal(t, doc.CreatedAt, updated.CreatedAt)

	_, err = store.Set(ctx, "progress", doc.ID, "intruder", map[string]any{})
	require.ErrorIs(t, err, domain.ErrOwnerMismatch)

	require.NoError(t, store.Delete(ctx, "progress", doc.ID))
	_, err = store.Get(ctx, "progress", doc.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM document_outbox WHERE document_id = $1`, doc.ID).Scan(&events))
	require.Equal(t, 3, events)
}

func TestStoreQueryMatchesMemorySemantics(t *testing.T) {
	ctx := context.Background()
	store, _ := newIntegrationStore(t)

	for id, weight := range map[string]float64{"a": 82, "b": 79, "c": 80} {
		_, err := store.Set(ctx, "progress", id, "u1", map[string]any{"weight": weight, "tags": []string{"morning"}})
		require.NoError(t, err)
	}
	_, err := store.Set(ctx, "progress", "d", "u2", map[string]any{"weight": 70})
	require.NoError(t, err)

	docs, err := store.Query(ctx, "progress", docstore.Query{
		Filters: []docstore.Filter{
			{Field: "ownerId", Op: docstore.OpEqual, Value: "u1"},
			{Field: "weight", Op: docstore.OpGreaterEqual, Value: 80},
			{Field: "tags", Op: docstore.OpArrayContains, Value: "morning"},
		},
		OrderBy: []docstore.Order{{Field: "weight", Desc: true}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "a", docs[0].ID)
	require.Equal(t, "c", docs[1].ID)
}

func TestStoreBatchAndTransaction(t *testing.T) {
	ctx := context.Background()
	store, _ := newIntegrationStore(t)

	err := store.CommitBatch(ctx, []docstore.Write{
		{Kind: docstore.WriteSet, Collection: "workouts", ID: "w1", OwnerID: "u1", Data: map[string]any{"name": "Push"}},
		{Kind: docstore.WriteUpdate, Collection: "workouts", ID: "missing", Data: map[string]any{}, Merge: true},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Get(ctx, "workouts", "w1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	boom := errors.New("boom")
	err = store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		require.NoError(t, tx.Set(ctx, "workouts", "w2", "u1", map[string]any{"name": "Pull"}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = store.Get(ctx, "workouts", "w2")
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(ctx, "workouts", "w3", "u1", map[string]any{"name": "Legs"})
	})
	require.NoError(t, err)
	doc, err := store.Get(ctx, "workouts", "w3")
	require.NoError(t, err)
	require.Equal(t, "Legs", doc.Data["name"])
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
