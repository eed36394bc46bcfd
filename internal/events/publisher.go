// Package events carries document-change notifications between the stores
// that write documents and the subscriptions that must re-query them.
package events

import (
	"context"
	"sync"
	"time"
)

// Op is the kind of document change.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one committed document write.
type Change struct {
	Collection string    `json:"collection"`
	DocumentID string    `json:"documentId"`
	Op         Op        `json:"op"`
	Origin     string    `json:"origin,omitempty"`
	At         time.Time `json:"at"`
}

// Handler is a callback invoked when a change matches a subscription.
type Handler func(change *Change)

// Filter defines criteria for matching changes.
type Filter struct {
	// Collections filters by collection (nil = all collections).
	Collections []string

	// Ops filters by operation (nil = all operations).
	Ops []Op

	// DocumentID filters to a specific document (empty = all).
	DocumentID string
}

// Matches returns true if the change matches the filter criteria.
func (f *Filter) Matches(change *Change) bool {
	if change == nil {
		return false
	}

	if len(f.Collections) > 0 {
		matched := false
		for _, c := range f.Collections {
			if change.Collection == c {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(f.Ops) > 0 {
		matched := false
		for _, op := range f.Ops {
			if change.Op == op {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.DocumentID != "" && change.DocumentID != f.DocumentID {
		return false
	}

	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Publisher defines the interface for change publishing and subscription.
type Publisher interface {
	// Publish sends a change to all matching subscribers.
	Publish(ctx context.Context, change *Change) error

	// Subscribe registers a handler to receive changes matching the filter.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int

	// Close releases the publisher's resources.
	Close() error
}

// InMemoryPublisher implements Publisher using in-process pub/sub.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	now           func() time.Time
}

// PublisherOption configures an InMemoryPublisher.
type PublisherOption func(*InMemoryPublisher)

// WithNow overrides the clock used to stamp changes without a time.
func WithNow(now func() time.Time) PublisherOption {
	return func(p *InMemoryPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewInMemoryPublisher creates a new in-memory change publisher.
func NewInMemoryPublisher(opts ...PublisherOption) *InMemoryPublisher {
	p := &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends a change to all matching subscribers synchronously.
func (p *InMemoryPublisher) Publish(_ context.Context, change *Change) error {
	if change == nil {
		return nil
	}
	if change.At.IsZero() {
		change.At = p.now().UTC()
	}

	p.mu.RLock()
	var handlers []Handler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(change) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	// Invoke handlers outside the lock to avoid deadlocks
	for _, handler := range handlers {
		handler(change)
	}
	return nil
}

// Subscribe registers a handler to receive changes matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}
	p.subscriptions[id] = &subscription{id: id, filter: filter, handler: handler}
	return nil
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}
	delete(p.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// Close removes all subscriptions.
func (p *InMemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = make(map[string]*subscription)
	return nil
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
