// Package repository provides per-collection CRUD, cached reads, queries and live
// subscriptions over the remote document store.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/observability"
	"example.com/fitsync/internal/platform/logger"
)

// DefaultFreshness is how long a cached read stays valid.
const DefaultFreshness = 5 * time.Minute

var tracer = otel.Tracer("fitsync/repository")

// OwnerFunc resolves the authenticated owner for a request, or returns domain.ErrUnauthenticated.
type OwnerFunc func(ctx context.Context) (string, error)

// Record is a typed document with its store-assigned metadata.
type Record[T any] struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Data      T         `json:"data"`
}

// Config configures a Repository.
type Config struct {
	Collection string
	Owner      OwnerFunc
	Freshness  time.Duration
	Clock      func() time.Time
	Logger     *logger.Logger
}

type cacheEntry[T any] struct {
	record  Record[T]
	fetched time.Time
}

// Repository is the typed view of one collection. Every operation is scoped to the owner
// resolved from the context; documents of other owners read as not found.
type Repository[T any] struct {
	collection string
	store      docstore.Store
	owner      OwnerFunc
	freshness  time.Duration
	clock      func() time.Time
	logger     *logger.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry[T]
	// epoch advances on every eviction so that a read racing a write never caches what it fetched.
	epoch uint64
}

// New constructs a Repository over store.
func New[T any](store docstore.Store, cfg Config) *Repository[T] {
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Owner == nil {
		cfg.Owner = func(context.Context) (string, error) { return "", domain.ErrUnauthenticated }
	}
	return &Repository[T]{
		collection: cfg.Collection,
		store:      store,
		owner:      cfg.Owner,
		freshness:  cfg.Freshness,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With("component", "repository", "collection", cfg.Collection),
		cache:      make(map[string]cacheEntry[T]),
	}
}

// Collection returns the remote collection name.
func (r *Repository[T]) Collection() string {
	return r.collection
}

// GetByID returns the record with id. With useCache, an entry younger than the freshness window
// is served without a remote read; otherwise the remote result replaces the cache entry.
func (r *Repository[T]) GetByID(ctx context.Context, id string, useCache bool) (Record[T], error) {
	ctx, span := r.startSpan(ctx, "Repository.GetByID", attribute.String("id", id), attribute.Bool("use_cache", useCache))
	defer span.End()

	owner, err := r.owner(ctx)
	if err != nil {
		return Record[T]{}, endSpan(span, err)
	}

	epoch, cached, ok := r.lookup(id, owner, useCache)
	if ok {
		return cached, nil
	}

	observability.RecordRemoteRead(r.collection, "get")
	doc, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		return Record[T]{}, endSpan(span, err)
	}
	if doc.OwnerID != owner {
		return Record[T]{}, endSpan(span, fmt.Errorf("%s/%s: %w", r.collection, id, domain.ErrNotFound))
	}
	rec, err := decode[T](doc)
	if err != nil {
		return Record[T]{}, endSpan(span, err)
	}
	r.put(id, rec, epoch)
	return rec, nil
}

// Create writes data under customID, or under a generated id when customID is empty, and
// returns the id. The whole cache is dropped.
func (r *Repository[T]) Create(ctx context.Context, data T, customID string) (string, error) {
	ctx, span := r.startSpan(ctx, "Repository.Create", attribute.Bool("custom_id", customID != ""))
	defer span.End()

	owner, err := r.owner(ctx)
	if err != nil {
		return "", endSpan(span, err)
	}
	fields, err := encode(data)
	if err != nil {
		return "", endSpan(span, err)
	}

	var doc docstore.Document
	if customID != "" {
		doc, err = r.store.Set(ctx, r.collection, customID, owner, fields)
	} else {
		doc, err = r.store.Create(ctx, r.collection, owner, fields)
	}
	r.InvalidateCache()
	observability.RecordRemoteWrite(r.collection, "create", err)
	if err != nil {
		return "", endSpan(span, fmt.Errorf("create %s: %w", r.collection, err))
	}
	span.SetAttributes(attribute.String("id", doc.ID))
	return doc.ID, nil
}

// Update merges data into the record, or replaces its data when merge is false. Only the
// cache entry for id is evicted.
func (r *Repository[T]) Update(ctx context.Context, id string, data T, merge bool) error {
	ctx, span := r.startSpan(ctx, "Repository.Update", attribute.String("id", id), attribute.Bool("merge", merge))
	defer span.End()

	owner, err := r.owner(ctx)
	if err != nil {
		return endSpan(span, err)
	}
	fields, err := encode(data)
	if err != nil {
		return endSpan(span, err)
	}

	err = r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := r.checkOwner(ctx, tx, id, owner); err != nil {
			return err
		}
		return tx.Update(ctx, r.collection, id, fields, merge)
	})
	r.evict(id)
	observability.RecordRemoteWrite(r.collection, "update", err)
	if err != nil {
		return endSpan(span, fmt.Errorf("update %s/%s: %w", r.collection, id, err))
	}
	return nil
}

// Upsert reads the record inside a transaction and writes what fn returns. fn receives nil
// when the record does not exist and may run more than once. A record owned by someone else
// fails with domain.ErrOwnerMismatch. Creating the record drops the whole cache; replacing it
// evicts only id.
func (r *Repository[T]) Upsert(ctx context.Context, id string, fn func(current *T) (T, error)) error {
	ctx, span := r.startSpan(ctx, "Repository.Upsert", attribute.String("id", id))
	defer span.End()

	owner, err := r.owner(ctx)
	if err != nil {
		return endSpan(span, err)
	}

	existed := false
	err = r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		existed = false
		var current *T
		doc, err := tx.Get(ctx, r.collection, id)
		switch {
		case err == nil:
			if doc.OwnerID != owner {
				return fmt.Errorf("%s/%s: %w", r.collection, id, domain.ErrOwnerMismatch)
			}
			rec, err := decode[T](doc)
			if err != nil {
				return err
			}
			existed = true
			current = &rec.Data
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		fields, err := encode(next)
		if err != nil {
			return err
		}
		return tx.Set(ctx, r.collection, id, owner, fields)
	})
	if existed {
		r.evict(id)
	} else {
		r.InvalidateCache()
	}
	observability.RecordRemoteWrite(r.collection, "upsert", err)
	if err != nil {
		return endSpan(span, fmt.Errorf("upsert %s/%s: %w", r.collection, id, err))
	}
	return nil
}

// Delete removes the record and evicts its cache entry. Deleting a missing record succeeds.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	ctx, span := r.startSpan(ctx, "Repository.Delete", attribute.String("id", id))
	defer span.End()

	owner, err := r.owner(ctx)
	if err != nil {
		return endSpan(span, err)
	}

	err = r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		err := r.checkOwner(ctx, tx, id, owner)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Delete(ctx, r.collection, id)
	})
	r.evict(id)
	observability.RecordRemoteWrite(r.collection, "delete", err)
	if err != nil {
		return endSpan(span, fmt.Errorf("delete %s/%s: %w", r.collection, id, err))
	}
	return nil
}

// QueryWithConstraints runs q against the owner's records. Results are never cached.
func (r *Repository[T]) QueryWithConstraints(ctx context.Context, q docstore.Query) ([]Record[T], error) {
	ctx, span := r.startSpan(ctx, "Repository.Query", attribute.Int("filters", len(q.Filters)), attribute.Int("limit", q.Limit))
	defer span.End()

	owner, err := r.owner(ctx)
	if err != nil {
		return nil, endSpan(span, err)
	}

	observability.RecordRemoteRead(r.collection, "query")
	docs, err := r.store.Query(ctx, r.collection, q.Where(docstore.FieldOwnerID, docstore.OpEqual, owner))
	if err != nil {
		return nil, endSpan(span, err)
	}
	out := make([]Record[T], 0, len(docs))
	for _, doc := range docs {
		rec, err := decode[T](doc)
		if err != nil {
			return nil, endSpan(span, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Subscribe delivers the full result set of q to onChange now and after every change. Records
// that no longer decode into T are skipped and logged.
func (r *Repository[T]) Subscribe(ctx context.Context, q docstore.Query, onChange func([]Record[T])) (docstore.Unsubscribe, error) {
	owner, err := r.owner(ctx)
	if err != nil {
		return nil, err
	}
	q = q.Where(docstore.FieldOwnerID, docstore.OpEqual, owner)
	return r.store.Subscribe(ctx, r.collection, q, func(docs []docstore.Document) {
		out := make([]Record[T], 0, len(docs))
		for _, doc := range docs {
			rec, err := decode[T](doc)
			if err != nil {
				r.logger.Warn("skipping undecodable document", "id", doc.ID, "error", err)
				continue
			}
			out = append(out, rec)
		}
		onChange(out)
	})
}

// InvalidateCache drops every cached entry.
func (r *Repository[T]) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	clear(r.cache)
}

// Evict drops the cache entry for id. Writers that bypass the repository call it after
// touching the document.
func (r *Repository[T]) Evict(id string) {
	r.evict(id)
}

// CacheLen reports the number of cached entries.
func (r *Repository[T]) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func (r *Repository[T]) lookup(id, owner string, useCache bool) (uint64, Record[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !useCache {
		return r.epoch, Record[T]{}, false
	}
	entry, ok := r.cache[id]
	switch {
	case !ok:
		observability.RecordCacheLookup(r.collection, "miss")
	case r.clock().Sub(entry.fetched) >= r.freshness:
		observability.RecordCacheLookup(r.collection, "stale")
		delete(r.cache, id)
	case entry.record.OwnerID != owner:
		observability.RecordCacheLookup(r.collection, "miss")
	default:
		observability.RecordCacheLookup(r.collection, "hit")
		return r.epoch, entry.record, true
	}
	return r.epoch, Record[T]{}, false
}

func (r *Repository[T]) put(id string, rec Record[T], epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		return
	}
	r.cache[id] = cacheEntry[T]{record: rec, fetched: r.clock()}
}

func (r *Repository[T]) evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	delete(r.cache, id)
}

func (r *Repository[T]) checkOwner(ctx context.Context, tx docstore.Tx, id, owner string) error {
	doc, err := tx.Get(ctx, r.collection, id)
	if err != nil {
		return err
	}
	if doc.OwnerID != owner {
		return fmt.Errorf("%s/%s: %w", r.collection, id, domain.ErrNotFound)
	}
	return nil
}

func (r *Repository[T]) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("collection", r.collection))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) error {
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func encode[T any](data T) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func decode[T any](doc docstore.Document) (Record[T], error) {
	rec := Record[T]{
		ID:        doc.ID,
		OwnerID:   doc.OwnerID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return Record[T]{}, fmt.Errorf("decode %s/%s: %w", doc.Collection, doc.ID, err)
	}
	if err := json.Unmarshal(raw, &rec.Data); err != nil {
		return Record[T]{}, fmt.Errorf("decode %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return rec, nil
}
