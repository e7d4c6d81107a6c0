package memory

import (
	"context"
	"fmt"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
)

// transaction is the docstore.Tx handed to RunTransaction callbacks. Writes are staged until
// commit; reads see staged writes first.
type transaction struct {
	store  *Store
	staged *overlay
	reads  map[docKey]uint64
}

func newTransaction(s *Store) *transaction {
	tx := &transaction{store: s, reads: make(map[docKey]uint64)}
	tx.staged = newOverlay(s.readLocked)
	tx.staged.onRead = func(key docKey, version uint64) {
		if _, seen := tx.reads[key]; !seen {
			tx.reads[key] = version
		}
	}
	return tx
}

func (t *transaction) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	doc, ok := t.staged.current(collection, id)
	if !ok {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	return doc, nil
}

func (t *transaction) Set(_ context.Context, collection, id, ownerID string, data map[string]any) error {
	_, err := applySet(t.staged, t.store.clock(), collection, id, ownerID, data)
	return err
}

func (t *transaction) Update(_ context.Context, collection, id string, data map[string]any, merge bool) error {
	_, err := applyUpdate(t.staged, t.store.clock(), collection, id, data, merge)
	return err
}

func (t *transaction) Delete(_ context.Context, collection, id string) error {
	t.staged.remove(collection, id)
	return nil
}
