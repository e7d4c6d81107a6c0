// Package memory provides an in-process document store for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/fitsync/internal/changefeed"
	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/platform/logger"
)

var _ docstore.Store = (*Store)(nil)

// ErrTxConflict is returned when a transaction keeps conflicting after every retry.
var ErrTxConflict = errors.New("transaction conflict")

type entry struct {
	doc     docstore.Document
	version uint64
}

// Store keeps documents in memory and mirrors the remote store semantics, including optimistic
// transactions and live subscriptions.
type Store struct {
	mu   sync.RWMutex
	docs map[string]map[string]entry
	seq  uint64

	clock       func() time.Time
	maxAttempts int
	hub         *changefeed.Hub
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithMaxAttempts bounds transaction retries.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New constructs an empty Store.
func New(log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		docs:        make(map[string]map[string]entry),
		clock:       func() time.Time { return time.Now().UTC() },
		maxAttempts: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = changefeed.NewHub(s.Query, log)
	return s
}

// Hub exposes the subscription hub so that external change events can wake subscribers.
func (s *Store) Hub() *changefeed.Hub {
	return s.hub
}

// Get implements docstore.Store.
func (s *Store) Get(_ context.Context, collection, id string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[collection][id]
	if !ok {
		return docstore.Document{}, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	return e.doc.Clone(), nil
}

// Create implements docstore.Store.
func (s *Store) Create(ctx context.Context, collection, ownerID string, data map[string]any) (docstore.Document, error) {
	return s.Set(ctx, collection, uuid.NewString(), ownerID, data)
}

// Set implements docstore.Store.
func (s *Store) Set(_ context.Context, collection, id, ownerID string, data map[string]any) (docstore.Document, error) {
	var doc docstore.Document
	err := s.write(collection, func(v view) error {
		var err error
		doc, err = applySet(v, s.clock(), collection, id, ownerID, data)
		return err
	})
	return doc, err
}

// Update implements docstore.Store.
func (s *Store) Update(_ context.Context, collection, id string, data map[string]any, merge bool) (docstore.Document, error) {
	var doc docstore.Document
	err := s.write(collection, func(v view) error {
		var err error
		doc, err = applyUpdate(v, s.clock(), collection, id, data, merge)
		return err
	})
	return doc, err
}

// Delete implements docstore.Store.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	return s.write(collection, func(v view) error {
		v.remove(collection, id)
		return nil
	})
}

// Query implements docstore.Store.
func (s *Store) Query(_ context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	docs := make([]docstore.Document, 0, len(s.docs[collection]))
	for _, e := range s.docs[collection] {
		docs = append(docs, e.doc.Clone())
	}
	s.mu.RUnlock()
	return docstore.Apply(docs, q), nil
}

// Subscribe implements docstore.Store.
func (s *Store) Subscribe(ctx context.Context, collection string, q docstore.Query, fn docstore.Listener) (docstore.Unsubscribe, error) {
	return s.hub.Subscribe(ctx, collection, q, fn)
}

// RunTransaction implements docstore.Store. Reads record the version they observed; commit fails
// and fn is retried when any of them changed in the meantime.
func (s *Store) RunTransaction(ctx context.Context, fn func(context.Context, docstore.Tx) error) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newTransaction(s)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		committed, err := s.commit(tx)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrTxConflict, s.maxAttempts)
}

// CommitBatch implements docstore.Store.
func (s *Store) CommitBatch(_ context.Context, writes []docstore.Write) error {
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	staged := newOverlay(s.peek)
	now := s.clock()
	for _, w := range writes {
		var err error
		switch w.Kind {
		case docstore.WriteSet:
			_, err = applySet(staged, now, w.Collection, w.ID, w.OwnerID, w.Data)
		case docstore.WriteUpdate:
			_, err = applyUpdate(staged, now, w.Collection, w.ID, w.Data, w.Merge)
		case docstore.WriteDelete:
			staged.remove(w.Collection, w.ID)
		}
		if err != nil {
			s.mu.Unlock()
			return err
		}
	}
	collections := s.flush(staged)
	s.mu.Unlock()

	s.notify(collections)
	return nil
}

// Close stops every subscription.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

// Len reports the number of documents in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[collection])
}

func (s *Store) write(collection string, fn func(view) error) error {
	s.mu.Lock()
	staged := newOverlay(s.peek)
	if err := fn(staged); err != nil {
		s.mu.Unlock()
		return err
	}
	collections := s.flush(staged)
	s.mu.Unlock()

	s.notify(collections)
	return nil
}

func (s *Store) commit(tx *transaction) (bool, error) {
	s.mu.Lock()
	for key, version := range tx.reads {
		if s.peekVersion(key) != version {
			s.mu.Unlock()
			return false, nil
		}
	}
	collections := s.flush(tx.staged)
	s.mu.Unlock()

	s.notify(collections)
	return true, nil
}

// flush applies staged changes. The caller holds the write lock.
func (s *Store) flush(o *overlay) []string {
	touched := make(map[string]struct{})
	for key, doc := range o.changes {
		s.seq++
		touched[key.collection] = struct{}{}
		if doc == nil {
			delete(s.docs[key.collection], key.id)
			continue
		}
		if s.docs[key.collection] == nil {
			s.docs[key.collection] = make(map[string]entry)
		}
		s.docs[key.collection][key.id] = entry{doc: *doc, version: s.seq}
	}
	collections := make([]string, 0, len(touched))
	for c := range touched {
		collections = append(collections, c)
	}
	sort.Strings(collections)
	return collections
}

func (s *Store) notify(collections []string) {
	for _, c := range collections {
		s.hub.Notify(c)
	}
}

// peek reads without locking. The caller holds the lock.
func (s *Store) peek(key docKey) (entry, bool) {
	e, ok := s.docs[key.collection][key.id]
	return e, ok
}

func (s *Store) peekVersion(key docKey) uint64 {
	e, ok := s.peek(key)
	if !ok {
		return 0
	}
	return e.version
}

func (s *Store) readLocked(key docKey) (entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peek(key)
}
