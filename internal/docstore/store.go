// Package docstore defines the remote multi-collection document store used as the post-migration
// source of truth, together with the query model shared by its backends.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"
)

var (
	// ErrInvalidQuery is returned when a query uses an unknown operator or an operand of the wrong shape.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidWrite is returned when a batch or transaction write is malformed.
	ErrInvalidWrite = errors.New("invalid write")
)

// Reserved field names address document metadata instead of data keys.
const (
	FieldID        = "id"
	FieldOwnerID   = "ownerId"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Document is a stored record. CreatedAt and UpdatedAt are assigned by the store.
type Document struct {
	ID         string
	Collection string
	OwnerID    string
	Data       map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Op is a filter comparison operator.
type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

// Filter constrains one field. Dotted field names address nested data keys.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Order sorts results by one field.
type Order struct {
	Field string
	Desc  bool
}

// Query is a filter, sort and limit applied to one collection. A zero Limit means no limit.
type Query struct {
	Filters []Filter
	OrderBy []Order
	Limit   int
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// Validate checks operators and operand shapes.
func (q Query) Validate() error {
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, q.Limit)
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("%w: empty field name", ErrInvalidQuery)
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		case OpIn:
			if !isSlice(f.Value) {
				return fmt.Errorf("%w: %q requires a list operand", ErrInvalidQuery, f.Op)
			}
		case OpArrayContains:
			if IsReserved(f.Field) {
				return fmt.Errorf("%w: %q is not an array field", ErrInvalidQuery, f.Field)
			}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	for _, o := range q.OrderBy {
		if o.Field == "" {
			return fmt.Errorf("%w: empty order field", ErrInvalidQuery)
		}
	}
	return nil
}

// IsReserved reports whether field addresses document metadata.
func IsReserved(field string) bool {
	switch field {
	case FieldID, FieldOwnerID, FieldCreatedAt, FieldUpdatedAt:
		return true
	}
	return false
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// WriteKind enumerates the operations accepted by batches and transactions.
type WriteKind string

const (
	WriteSet    WriteKind = "set"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// Write is one queued mutation. OwnerID is required for sets; Merge applies to updates.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	OwnerID    string
	Data       map[string]any
	Merge      bool
}

// Validate checks that the write is complete for its kind.
func (w Write) Validate() error {
	if w.Collection == "" || w.ID == "" {
		return fmt.Errorf("%w: collection and id are required", ErrInvalidWrite)
	}
	switch w.Kind {
	case WriteSet:
		if w.OwnerID == "" {
			return fmt.Errorf("%w: set requires an owner", ErrInvalidWrite)
		}
	case WriteUpdate, WriteDelete:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidWrite, w.Kind)
	}
	return nil
}

// Listener receives the complete current result set of a subscription.
type Listener func([]Document)

// Unsubscribe stops a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Tx is the view of the store inside a transaction. Reads observe the transaction's own writes.
type Tx interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id, ownerID string, data map[string]any) error
	Update(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	Delete(ctx context.Context, collection, id string) error
}

// Store is the remote document store.
//
// Get and Update return domain.ErrNotFound for missing documents; Set returns
// domain.ErrOwnerMismatch when the target exists under another owner. Delete of a missing
// document succeeds.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Create inserts a document under a generated id.
	Create(ctx context.Context, collection, ownerID string, data map[string]any) (Document, error)
	// Set writes a document under a caller-chosen id, replacing its data and keeping its creation time.
	Set(ctx context.Context, collection, id, ownerID string, data map[string]any) (Document, error)
	Update(ctx context.Context, collection, id string, data map[string]any, merge bool) (Document, error)
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Subscribe delivers the current result set immediately and again after every change to the collection.
	Subscribe(ctx context.Context, collection string, q Query, fn Listener) (Unsubscribe, error)
	// RunTransaction runs fn atomically, retrying it on write conflicts. fn may run more than once.
	RunTransaction(ctx context.Context, fn func(context.Context, Tx) error) error
	// CommitBatch applies writes as one atomic group without reads.
	CommitBatch(ctx context.Context, writes []Write) error
	Close() error
}
