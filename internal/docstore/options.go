package docstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/courier/internal/events"
)

// Operation names a store call, for fault injection.
type Operation string

const (
	OperationGet       Operation = "get"
	OperationList      Operation = "list"
	OperationCreate    Operation = "create"
	OperationSet       Operation = "set"
	OperationUpdate    Operation = "update"
	OperationSubscribe Operation = "subscribe"
)

// FaultFunc may return an error to make an operation fail before it
// touches any data.
type FaultFunc func(op Operation, collection, id string) error

type options struct {
	newID         func() string
	now           func() time.Time
	strict        bool
	indexes       map[string]struct{}
	faults        FaultFunc
	publisher     events.Publisher
	retryAttempts int
	retryBackoff  time.Duration
	busyTimeoutMs int
	maxConns      int
}

func defaultOptions() options {
	return options{
		newID:         func() string { return uuid.New().String() },
		now:           time.Now,
		indexes:       make(map[string]struct{}),
		retryAttempts: defaultRetryAttempts,
		retryBackoff:  defaultRetryBackoff,
		busyTimeoutMs: 5000,
	}
}

// Option configures a store.
type Option func(*options)

// WithIDGenerator overrides document id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithNow overrides the clock used for row timestamps.
func WithNow(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithStrictIndexes makes the memory store reject queries that need a
// composite index not listed in keys (see Query.IndexKey).
func WithStrictIndexes(keys ...string) Option {
	return func(o *options) {
		o.strict = true
		for _, key := range keys {
			o.indexes[key] = struct{}{}
		}
	}
}

// WithFaults installs a fault injector.
func WithFaults(fn FaultFunc) Option {
	return func(o *options) {
		o.faults = fn
	}
}

// WithPublisher sets the change bus a SQL store announces writes on and
// listens to. Without one the store uses a private in-memory publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithRetry bounds retries of busy/locked SQL writes.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.retryAttempts = attempts
		}
		if backoff > 0 {
			o.retryBackoff = backoff
		}
	}
}

// WithBusyTimeout sets SQLite's busy timeout.
func WithBusyTimeout(ms int) Option {
	return func(o *options) {
		if ms > 0 {
			o.busyTimeoutMs = ms
		}
	}
}

// WithMaxConnections caps the SQL connection pool.
func WithMaxConnections(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConns = n
		}
	}
}

func (o options) fault(op Operation, collection, id string) error {
	if o.faults == nil {
		return nil
	}
	return o.faults(op, collection, id)
}
