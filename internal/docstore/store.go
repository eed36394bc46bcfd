// Package docstore is the document-store client the messaging engine runs
// against. It offers one-shot reads and writes plus push subscriptions that
// deliver the full matching document set on every change.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrQueryUnsupported is returned, synchronously or through a
	// subscription's error callback, when the store cannot serve a query as
	// written, typically an ordered query without a composite index.
	ErrQueryUnsupported = errors.New("query unsupported by store")

	// ErrInvalidQuery is returned for malformed queries.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("document store closed")
)

// Document is a stored document. Data holds JSON-shaped values only:
// strings, float64, bool, nil, []any and map[string]any.
type Document struct {
	ID   string
	Data map[string]any
}

// Snapshot is the complete result set of a subscribed query.
type Snapshot struct {
	Docs []Document

	// Seq is the store version the snapshot was computed at. Within one
	// subscription it never decreases.
	Seq uint64
}

// SnapshotFunc receives snapshots. Calls for one subscription are serialized.
type SnapshotFunc func(Snapshot)

// ErrorFunc receives a terminal subscription error. No snapshots follow it.
type ErrorFunc func(error)

// Handle cancels a subscription. Unsubscribe is idempotent and does not
// wait for a callback that is already running.
type Handle interface {
	Unsubscribe()
}

// Store is the document-store client.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, q Query) ([]Document, error)

	// Create stores data under a new id and returns the id.
	Create(ctx context.Context, collection string, data map[string]any) (string, error)

	// Set creates or replaces the document with the given id.
	Set(ctx context.Context, collection, id string, data map[string]any) error

	// Update merges patch into an existing document's top-level fields.
	Update(ctx context.Context, collection, id string, patch map[string]any) error

	// Subscribe delivers the current result of q and a fresh result after
	// every change to q's collection.
	Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Handle, error)

	Close() error
}
