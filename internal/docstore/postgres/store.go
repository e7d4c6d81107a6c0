// Package postgres implements the remote document store on PostgreSQL. Documents live in one
// JSONB table keyed by (collection, id); every write records a change event in the outbox table
// within the same statement.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fitsync/internal/changefeed"
	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/events"
	"example.com/fitsync/internal/platform/logger"
)

var _ docstore.Store = (*Store)(nil)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Config tunes a Store.
type Config struct {
	// Topic receives the change events written to the outbox.
	Topic string
	// MaxAttempts bounds retries of conflicting transactions.
	MaxAttempts int
	// RetryDelay is the first backoff delay; it doubles on each retry.
	RetryDelay time.Duration
}

// Store is a docstore.Store backed by a pgx pool.
type Store struct {
	pool        *pgxpool.Pool
	hub         *changefeed.Hub
	logger      *logger.Logger
	topic       string
	maxAttempts int
	retryDelay  time.Duration
}

// New constructs a Store and creates its tables when missing.
func New(ctx context.Context, pool *pgxpool.Pool, cfg Config, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = "document_changes"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 20 * time.Millisecond
	}
	s := &Store{
		pool:        pool,
		logger:      log.With("component", "docstore"),
		topic:       cfg.Topic,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
	if err := s.initializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("initialize document schema: %w", err)
	}
	s.hub = changefeed.NewHub(s.Query, log)
	return s, nil
}

// Hub exposes the subscription hub so the change-feed consumer can wake subscribers.
func (s *Store) Hub() *changefeed.Hub {
	return s.hub
}

// Get implements docstore.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return getDocument(ctx, s.pool, collection, id)
}

// Create implements docstore.Store.
func (s *Store) Create(ctx context.Context, collection, ownerID string, data map[string]any) (docstore.Document, error) {
	return s.write(ctx, collection, func(q querier) (docstore.Document, error) {
		return setDocument(ctx, q, s.topic, events.OperationCreate, collection, uuid.NewString(), ownerID, data)
	})
}

// Set implements docstore.Store.
func (s *Store) Set(ctx context.Context, collection, id, ownerID string, data map[string]any) (docstore.Document, error) {
	return s.write(ctx, collection, func(q querier) (docstore.Document, error) {
		return setDocument(ctx, q, s.topic, events.OperationSet, collection, id, ownerID, data)
	})
}

// Update implements docstore.Store.
func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any, merge bool) (docstore.Document, error) {
	return s.write(ctx, collection, func(q querier) (docstore.Document, error) {
		return updateDocument(ctx, q, s.topic, collection, id, data, merge)
	})
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.write(ctx, collection, func(q querier) (docstore.Document, error) {
		return docstore.Document{}, deleteDocument(ctx, q, s.topic, collection, id)
	})
	return err
}

func (s *Store) write(ctx context.Context, collection string, fn func(querier) (docstore.Document, error)) (docstore.Document, error) {
	var doc docstore.Document
	err := s.retry(ctx, func() error {
		var err error
		doc, err = fn(s.pool)
		return err
	})
	if err != nil {
		return docstore.Document{}, err
	}
	writeCounter.WithLabelValues(collection).Inc()
	s.hub.Notify(collection)
	return doc, nil
}

// Query implements docstore.Store.
func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	sql, args, err := buildQuery(collection, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]docstore.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Subscribe implements docstore.Store.
func (s *Store) Subscribe(ctx context.Context, collection string, q docstore.Query, fn docstore.Listener) (docstore.Unsubscribe, error) {
	if _, _, err := buildQuery(collection, q); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, collection, q, fn)
}

// RunTransaction implements docstore.Store. fn runs inside a SERIALIZABLE transaction that is
// retried as a whole on serialization failures and deadlocks.
func (s *Store) RunTransaction(ctx context.Context, fn func(context.Context, docstore.Tx) error) error {
	var touched map[string]struct{}
	err := s.retry(ctx, func() error {
		t := &transaction{store: s, touched: make(map[string]struct{})}
		err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			t.tx = tx
			return fn(ctx, t)
		})
		if err != nil {
			return err
		}
		touched = t.touched
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(touched)
	return nil
}

// CommitBatch implements docstore.Store. Writes are queued in one pgx.Batch inside a single
// transaction, so the group is sent in one round trip and either all apply or none do.
func (s *Store) CommitBatch(ctx context.Context, writes []docstore.Write) error {
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	if len(writes) == 0 {
		return nil
	}

	err := s.retry(ctx, func() error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			batch := &pgx.Batch{}
			for _, w := range writes {
				if err := s.queueWrite(batch, w); err != nil {
					return err
				}
			}
			results := tx.SendBatch(ctx, batch)
			for _, w := range writes {
				if err := checkBatchResult(results, w); err != nil {
					_ = results.Close()
					return err
				}
			}
			return results.Close()
		})
	})
	if err != nil {
		return err
	}

	touched := make(map[string]struct{})
	for _, w := range writes {
		touched[w.Collection] = struct{}{}
		writeCounter.WithLabelValues(w.Collection).Inc()
	}
	s.notify(touched)
	return nil
}

func (s *Store) queueWrite(batch *pgx.Batch, w docstore.Write) error {
	switch w.Kind {
	case docstore.WriteSet:
		body, err := encodeData(w.Data)
		if err != nil {
			return err
		}
		batch.Queue(setSQL, w.Collection, w.ID, w.OwnerID, body,
			events.DocumentChangedType, s.topic, subject(s.topic), string(events.OperationSet))
	case docstore.WriteUpdate:
		body, err := encodeData(w.Data)
		if err != nil {
			return err
		}
		batch.Queue(updateSQL, w.Collection, w.ID, body, w.Merge,
			events.DocumentChangedType, s.topic, subject(s.topic), string(events.OperationUpdate))
	case docstore.WriteDelete:
		batch.Queue(deleteSQL, w.Collection, w.ID,
			events.DocumentChangedType, s.topic, subject(s.topic), string(events.OperationDelete))
	}
	return nil
}

func checkBatchResult(results pgx.BatchResults, w docstore.Write) error {
	if w.Kind == docstore.WriteDelete {
		var removed int64
		return results.QueryRow().Scan(&removed)
	}
	_, err := scanDocument(results.QueryRow())
	if errors.Is(err, pgx.ErrNoRows) {
		if w.Kind == docstore.WriteSet {
			return fmt.Errorf("%s/%s: %w", w.Collection, w.ID, domain.ErrOwnerMismatch)
		}
		return fmt.Errorf("%s/%s: %w", w.Collection, w.ID, domain.ErrNotFound)
	}
	return err
}

// Close stops subscriptions. The pool is owned by the caller.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) notify(collections map[string]struct{}) {
	names := make([]string, 0, len(collections))
	for c := range collections {
		names = append(names, c)
	}
	sort.Strings(names)
	for _, c := range names {
		s.hub.Notify(c)
	}
}

func subject(topic string) string {
	return topic + "-value"
}

func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document data: %w", err)
	}
	return body, nil
}

func scanDocument(row pgx.Row) (docstore.Document, error) {
	var doc docstore.Document
	if err := row.Scan(&doc.Collection, &doc.ID, &doc.OwnerID, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return docstore.Document{}, err
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc, nil
}

func getDocument(ctx context.Context, q querier, collection, id string) (docstore.Document, error) {
	doc, err := scanDocument(q.QueryRow(ctx, getSQL, collection, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	return doc, err
}

func setDocument(ctx context.Context, q querier, topic string, op events.Operation, collection, id, ownerID string, data map[string]any) (docstore.Document, error) {
	if id == "" || ownerID == "" {
		return docstore.Document{}, fmt.Errorf("%w: set requires id and owner", docstore.ErrInvalidWrite)
	}
	body, err := encodeData(data)
	if err != nil {
		return docstore.Document{}, err
	}
	doc, err := scanDocument(q.QueryRow(ctx, setSQL, collection, id, ownerID, body,
		events.DocumentChangedType, topic, subject(topic), string(op)))
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrOwnerMismatch)
	}
	return doc, err
}

func updateDocument(ctx context.Context, q querier, topic, collection, id string, data map[string]any, merge bool) (docstore.Document, error) {
	body, err := encodeData(data)
	if err != nil {
		return docstore.Document{}, err
	}
	doc, err := scanDocument(q.QueryRow(ctx, updateSQL, collection, id, body, merge,
		events.DocumentChangedType, topic, subject(topic), string(events.OperationUpdate)))
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	return doc, err
}

func deleteDocument(ctx context.Context, q querier, topic, collection, id string) error {
	var removed int64
	return q.QueryRow(ctx, deleteSQL, collection, id,
		events.DocumentChangedType, topic, subject(topic), string(events.OperationDelete)).Scan(&removed)
}
