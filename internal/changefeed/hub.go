// Package changefeed delivers live query results to subscribers whenever a collection changes.
package changefeed

import (
	"context"
	"sync"
	"sync/atomic"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/platform/logger"
)

// Runner executes a query against the backing store.
type Runner func(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error)

// Hub fans collection change notifications out to subscriptions. Each subscription re-runs its
// query on its own goroutine and receives the full result set; bursts of notifications coalesce
// into a single re-run.
type Hub struct {
	run    Runner
	logger *logger.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]*subscription
}

// NewHub constructs a Hub that evaluates queries with run.
func NewHub(run Runner, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		run:    run,
		logger: log.With("component", "changefeed"),
		subs:   make(map[string]map[uint64]*subscription),
	}
}

type subscription struct {
	hub        *Hub
	id         uint64
	collection string
	query      docstore.Query
	fn         docstore.Listener

	ctx    context.Context
	cancel context.CancelFunc
	signal chan struct{}
	once   sync.Once

	mu         sync.Mutex
	closed     atomic.Bool
	inCallback atomic.Bool
}

// Subscribe registers fn for changes to collection. The current result set is delivered
// immediately after registration.
func (h *Hub) Subscribe(_ context.Context, collection string, q docstore.Query, fn docstore.Listener) (docstore.Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		hub:        h,
		collection: collection,
		query:      q,
		fn:         fn,
		ctx:        ctx,
		cancel:     cancel,
		signal:     make(chan struct{}, 1),
	}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[uint64]*subscription)
	}
	h.subs[collection][sub.id] = sub
	h.mu.Unlock()

	activeSubscriptions.Inc()
	sub.signal <- struct{}{}
	go sub.loop()

	return sub.unsubscribe, nil
}

// Notify schedules a re-run for every subscription on collection.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[collection] {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
	notificationsCounter.WithLabelValues(collection).Inc()
}

// Close cancels every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*subscription
	for _, byID := range h.subs {
		for _, sub := range byID {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range all {
		sub.unsubscribe()
	}
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byID := h.subs[sub.collection]
	delete(byID, sub.id)
	if len(byID) == 0 {
		delete(h.subs, sub.collection)
	}
}

func (s *subscription) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.signal:
		}

		docs, err := s.hub.run(s.ctx, s.collection, s.query)
		if err != nil {
			if s.ctx.Err() == nil {
				s.hub.logger.Warn("subscription query failed", "collection", s.collection, "error", err)
				deliveryErrorCounter.WithLabelValues(s.collection).Inc()
			}
			continue
		}
		s.deliver(docs)
	}
}

// deliver invokes the listener unless the subscription has been cancelled. The mutex serializes
// delivery against unsubscribe so that no callback starts once unsubscribe has returned.
func (s *subscription) deliver(docs []docstore.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	s.fn(docs)
}

func (s *subscription) unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.hub.remove(s)
		activeSubscriptions.Dec()
		// Unsubscribing from inside the listener must not wait on its own delivery.
		if !s.inCallback.Load() {
			s.mu.Lock()
			s.mu.Unlock()
		}
	})
}
