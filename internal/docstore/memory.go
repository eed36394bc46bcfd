package docstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. Every write recomputes the snapshots
// of the affected subscriptions while holding the store lock, so each
// subscription observes writes in commit order.
type MemoryStore struct {
	opts options

	mu     sync.Mutex
	docs   map[string]map[string]map[string]any
	seq    uint64
	closed bool
	subs   *registry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryStore{
		opts: o,
		docs: make(map[string]map[string]map[string]any),
		subs: newRegistry(),
	}
}

// Get returns one document.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	if err := s.opts.fault(OperationGet, collection, id); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, ErrClosed
	}
	data, ok := s.docs[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Data: cloneData(data)}, nil
}

// List runs a one-shot query.
func (s *MemoryStore) List(_ context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := s.opts.fault(OperationList, q.Collection, ""); err != nil {
		return nil, err
	}
	if err := s.checkIndex(q); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.queryLocked(q), nil
}

// Create stores data under a generated id.
func (s *MemoryStore) Create(_ context.Context, collection string, data map[string]any) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	if err := s.opts.fault(OperationCreate, collection, ""); err != nil {
		return "", err
	}
	normalized, err := normalizeData(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	id := s.opts.newID()
	if _, exists := s.docs[collection][id]; exists {
		return "", fmt.Errorf("%s/%s: document already exists", collection, id)
	}
	s.putLocked(collection, id, normalized)
	return id, nil
}

// Set creates or replaces a document.
func (s *MemoryStore) Set(_ context.Context, collection, id string, data map[string]any) error {
	if collection == "" || id == "" {
		return fmt.Errorf("%w: collection and id are required", ErrInvalidQuery)
	}
	if err := s.opts.fault(OperationSet, collection, id); err != nil {
		return err
	}
	normalized, err := normalizeData(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.putLocked(collection, id, normalized)
	return nil
}

// Update merges patch into an existing document.
func (s *MemoryStore) Update(_ context.Context, collection, id string, patch map[string]any) error {
	if err := s.opts.fault(OperationUpdate, collection, id); err != nil {
		return err
	}
	normalized, err := normalizeData(patch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	existing, ok := s.docs[collection][id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	s.putLocked(collection, id, mergePatch(existing, normalized))
	return nil
}

// Subscribe registers q and queues its current result. In strict mode a
// query lacking its composite index is accepted and then failed through
// onError, the way hosted stores report it.
func (s *MemoryStore) Subscribe(_ context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Handle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("snapshot callback is required")
	}
	if err := s.opts.fault(OperationSubscribe, q.Collection, ""); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(q, onSnapshot, onError, s.subs.remove)
	if err := s.checkIndex(q); err != nil {
		sub.fail(err)
		return sub, nil
	}
	s.subs.add(sub)
	sub.push(Snapshot{Docs: s.queryLocked(q), Seq: s.seq})
	return sub, nil
}

// SubscriptionCount reports live subscriptions.
func (s *MemoryStore) SubscriptionCount() int {
	return s.subs.count()
}

// Count returns the number of documents in collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection])
}

// Close cancels all subscriptions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	for _, sub := range s.subs.all() {
		sub.close()
	}
	return nil
}

func (s *MemoryStore) checkIndex(q Query) error {
	if !s.opts.strict || !q.NeedsIndex() {
		return nil
	}
	if _, ok := s.opts.indexes[q.IndexKey()]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s requires index %s", ErrQueryUnsupported, q, q.IndexKey())
}

func (s *MemoryStore) putLocked(collection, id string, data map[string]any) {
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]map[string]any)
	}
	s.docs[collection][id] = data
	s.seq++
	for _, sub := range s.subs.matching(collection) {
		sub.push(Snapshot{Docs: s.queryLocked(sub.query), Seq: s.seq})
	}
}

func (s *MemoryStore) queryLocked(q Query) []Document {
	docs := make([]Document, 0, len(s.docs[q.Collection]))
	for id, data := range s.docs[q.Collection] {
		doc := Document{ID: id, Data: data}
		if q.Matches(doc) {
			docs = append(docs, Document{ID: id, Data: cloneData(data)})
		}
	}
	return q.Arrange(docs)
}
