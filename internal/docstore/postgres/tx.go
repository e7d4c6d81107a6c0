package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/events"
)

// transaction adapts a pgx.Tx to docstore.Tx and remembers which collections it wrote.
type transaction struct {
	store   *Store
	tx      pgx.Tx
	touched map[string]struct{}
}

func (t *transaction) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return getDocument(ctx, t.tx, collection, id)
}

func (t *transaction) Set(ctx context.Context, collection, id, ownerID string, data map[string]any) error {
	if _, err := setDocument(ctx, t.tx, t.store.topic, events.OperationSet, collection, id, ownerID, data); err != nil {
		return err
	}
	t.touched[collection] = struct{}{}
	return nil
}

func (t *transaction) Update(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if _, err := updateDocument(ctx, t.tx, t.store.topic, collection, id, data, merge); err != nil {
		return err
	}
	t.touched[collection] = struct{}{}
	return nil
}

func (t *transaction) Delete(ctx context.Context, collection, id string) error {
	if err := deleteDocument(ctx, t.tx, t.store.topic, collection, id); err != nil {
		return err
	}
	t.touched[collection] = struct{}{}
	return nil
}
