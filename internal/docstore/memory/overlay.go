package memory

import (
	"fmt"
	"time"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
)

type docKey struct {
	collection string
	id         string
}

// view is the mutable state a write is applied to.
type view interface {
	current(collection, id string) (docstore.Document, bool)
	put(doc docstore.Document)
	remove(collection, id string)
}

// overlay stages changes on top of a base read function. A nil document marks a deletion.
type overlay struct {
	base    func(docKey) (entry, bool)
	changes map[docKey]*docstore.Document
	onRead  func(docKey, uint64)
}

func newOverlay(base func(docKey) (entry, bool)) *overlay {
	return &overlay{base: base, changes: make(map[docKey]*docstore.Document)}
}

func (o *overlay) current(collection, id string) (docstore.Document, bool) {
	key := docKey{collection, id}
	if doc, ok := o.changes[key]; ok {
		if doc == nil {
			return docstore.Document{}, false
		}
		return doc.Clone(), true
	}
	e, ok := o.base(key)
	if o.onRead != nil {
		var version uint64
		if ok {
			version = e.version
		}
		o.onRead(key, version)
	}
	if !ok {
		return docstore.Document{}, false
	}
	return e.doc.Clone(), true
}

func (o *overlay) put(doc docstore.Document) {
	stored := doc.Clone()
	o.changes[docKey{doc.Collection, doc.ID}] = &stored
}

func (o *overlay) remove(collection, id string) {
	o.changes[docKey{collection, id}] = nil
}

func applySet(v view, now time.Time, collection, id, ownerID string, data map[string]any) (docstore.Document, error) {
	if id == "" || ownerID == "" {
		return docstore.Document{}, fmt.Errorf("%w: set requires id and owner", docstore.ErrInvalidWrite)
	}
	normalized, err := docstore.Normalize(data)
	if err != nil {
		return docstore.Document{}, err
	}
	doc := docstore.Document{
		ID:         id,
		Collection: collection,
		OwnerID:    ownerID,
		Data:       normalized,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, ok := v.current(collection, id); ok {
		if existing.OwnerID != ownerID {
			return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrOwnerMismatch)
		}
		doc.CreatedAt = existing.CreatedAt
	}
	v.put(doc)
	return doc.Clone(), nil
}

func applyUpdate(v view, now time.Time, collection, id string, data map[string]any, merge bool) (docstore.Document, error) {
	existing, ok := v.current(collection, id)
	if !ok {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	normalized, err := docstore.Normalize(data)
	if err != nil {
		return docstore.Document{}, err
	}
	if merge {
		normalized = docstore.MergeData(existing.Data, normalized)
	}
	existing.Data = normalized
	existing.UpdatedAt = now
	v.put(existing)
	return existing.Clone(), nil
}
