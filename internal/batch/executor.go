// Package batch executes groups of writes against the remote store, either as one
// transaction with reads or as a blind atomic batch.
package batch

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/platform/logger"
)

// ErrUnsupportedOperation is returned for operation kinds other than set, update and delete.
var ErrUnsupportedOperation = errors.New("unsupported operation")

var tracer = otel.Tracer("fitsync/batch")

// Operation is one write. Transform is only honoured by ExecuteTransaction: it receives the
// document as read inside the transaction (nil when absent) and returns the data to write.
type Operation struct {
	Kind       string
	Collection string
	ID         string
	Data       map[string]any
	Merge      bool
	Transform  func(current *docstore.Document) (map[string]any, error)
}

// Result reports what a transactional operation observed and did.
type Result struct {
	Kind    string
	ID      string
	Existed bool
	Data    map[string]any
}

// Evictor drops cached copies of a document. Repositories satisfies it.
type Evictor interface {
	Evict(collection, id string)
}

// Option configures an Executor.
type Option func(*Executor)

// WithEvictor makes the Executor evict every document it writes from evictor once the write
// group has been attempted.
func WithEvictor(evictor Evictor) Option {
	return func(e *Executor) {
		e.evictor = evictor
	}
}

// Executor runs operations for the authenticated owner.
type Executor struct {
	store   docstore.Store
	owner   func(context.Context) (string, error)
	evictor Evictor
	logger  *logger.Logger
}

// NewExecutor builds an Executor.
func NewExecutor(store docstore.Store, owner func(context.Context) (string, error), log *logger.Logger, opts ...Option) *Executor {
	if log == nil {
		log = logger.NewNop()
	}
	e := &Executor{store: store, owner: owner, logger: log.With("component", "batch")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// evict runs after a commit attempt whatever its outcome, so a read that raced the write
// cannot leave a stale entry behind.
func (e *Executor) evict(ops []Operation) {
	if e.evictor == nil {
		return
	}
	for _, op := range ops {
		e.evictor.Evict(op.Collection, op.ID)
	}
}

// ExecuteTransaction runs every operation inside one transaction. Each operation reads its
// target first, so updates and deletes are checked against the owner and Transform sees a
// consistent value. The store may run the whole function again on conflict; nothing is
// committed when any operation fails.
func (e *Executor) ExecuteTransaction(ctx context.Context, ops []Operation) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Executor.ExecuteTransaction", trace.WithAttributes(attribute.Int("operations", len(ops))))
	defer span.End()

	if err := validate(ops); err != nil {
		return nil, fail(span, err)
	}
	owner, err := e.owner(ctx)
	if err != nil {
		return nil, fail(span, err)
	}

	var results []Result
	attempts := 0
	err = e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		attempts++
		results = make([]Result, 0, len(ops))
		for i, op := range ops {
			res, err := applyInTx(ctx, tx, owner, op)
			if err != nil {
				return fmt.Errorf("operation %d (%s %s/%s): %w", i, op.Kind, op.Collection, op.ID, err)
			}
			results = append(results, res)
		}
		return nil
	})
	e.evict(ops)
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		e.logger.Warn("transaction aborted", "operations", len(ops), "attempts", attempts, "error", err)
		return nil, fail(span, err)
	}
	return results, nil
}

func applyInTx(ctx context.Context, tx docstore.Tx, owner string, op Operation) (Result, error) {
	res := Result{Kind: op.Kind, ID: op.ID}

	var current *docstore.Document
	doc, err := tx.Get(ctx, op.Collection, op.ID)
	switch {
	case err == nil:
		if doc.OwnerID != owner {
			if op.Kind == string(docstore.WriteSet) {
				return res, domain.ErrOwnerMismatch
			}
			return res, domain.ErrNotFound
		}
		current = &doc
		res.Existed = true
	case errors.Is(err, domain.ErrNotFound):
	default:
		return res, err
	}

	data := op.Data
	if op.Transform != nil && op.Kind != string(docstore.WriteDelete) {
		data, err = op.Transform(current)
		if err != nil {
			return res, err
		}
	}
	res.Data = data

	switch docstore.WriteKind(op.Kind) {
	case docstore.WriteSet:
		return res, tx.Set(ctx, op.Collection, op.ID, owner, data)
	case docstore.WriteUpdate:
		if current == nil {
			return res, domain.ErrNotFound
		}
		return res, tx.Update(ctx, op.Collection, op.ID, data, op.Merge)
	default:
		if current == nil {
			return res, nil
		}
		return res, tx.Delete(ctx, op.Collection, op.ID)
	}
}

// ExecuteBatch commits every operation as one atomic write group in a single round trip and
// returns the number of operations applied. No reads are made: Transform is rejected and only
// sets are bound to the owner.
func (e *Executor) ExecuteBatch(ctx context.Context, ops []Operation) (int, error) {
	ctx, span := tracer.Start(ctx, "Executor.ExecuteBatch", trace.WithAttributes(attribute.Int("operations", len(ops))))
	defer span.End()

	if err := validate(ops); err != nil {
		return 0, fail(span, err)
	}
	owner, err := e.owner(ctx)
	if err != nil {
		return 0, fail(span, err)
	}

	writes := make([]docstore.Write, 0, len(ops))
	for i, op := range ops {
		if op.Transform != nil {
			return 0, fail(span, fmt.Errorf("operation %d: %w: transform requires a transaction", i, ErrUnsupportedOperation))
		}
		w := docstore.Write{
			Kind:       docstore.WriteKind(op.Kind),
			Collection: op.Collection,
			ID:         op.ID,
			Data:       op.Data,
			Merge:      op.Merge,
		}
		if w.Kind == docstore.WriteSet {
			w.OwnerID = owner
		}
		writes = append(writes, w)
	}
	if len(writes) == 0 {
		return 0, nil
	}
	err = e.store.CommitBatch(ctx, writes)
	e.evict(ops)
	if err != nil {
		return 0, fail(span, fmt.Errorf("commit batch: %w", err))
	}
	return len(writes), nil
}

func validate(ops []Operation) error {
	for i, op := range ops {
		switch docstore.WriteKind(op.Kind) {
		case docstore.WriteSet, docstore.WriteUpdate, docstore.WriteDelete:
		default:
			return fmt.Errorf("operation %d: %w: %q", i, ErrUnsupportedOperation, op.Kind)
		}
		if op.Collection == "" || op.ID == "" {
			return fmt.Errorf("operation %d: %w: collection and id are required", i, docstore.ErrInvalidWrite)
		}
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
