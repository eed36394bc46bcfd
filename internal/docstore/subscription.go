package docstore

import (
	"sync"

	"github.com/google/uuid"
)

// subscription delivers snapshots for one query on its own goroutine
// through a one-slot mailbox. A newer snapshot replaces an undelivered
// older one, so a slow consumer sees fewer but never stale snapshots.
type subscription struct {
	id         string
	query      Query
	onSnapshot SnapshotFunc
	onError    ErrorFunc
	release    func(id string)

	// refresh serializes query-then-push for stores that re-query on change.
	refresh sync.Mutex

	mu        sync.Mutex
	pending   *Snapshot
	failure   error
	lastQueue uint64
	closed    bool
	wake      chan struct{}
	done      chan struct{}
}

func newSubscription(q Query, onSnapshot SnapshotFunc, onError ErrorFunc, release func(string)) *subscription {
	s := &subscription{
		id:         uuid.New().String(),
		query:      q,
		onSnapshot: onSnapshot,
		onError:    onError,
		release:    release,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// push queues snap unless it is older than one already queued.
func (s *subscription) push(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failure != nil || snap.Seq < s.lastQueue {
		return
	}
	s.lastQueue = snap.Seq
	s.pending = &snap
	s.signal()
}

// fail terminates the subscription with err, delivered asynchronously.
func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failure != nil {
		return
	}
	s.failure = err
	s.pending = nil
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		snap, err := s.pending, s.failure
		s.pending = nil
		s.mu.Unlock()

		if err != nil {
			s.close()
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		if snap != nil && s.onSnapshot != nil {
			s.onSnapshot(*snap)
		}
	}
}

// Unsubscribe implements Handle.
func (s *subscription) Unsubscribe() {
	s.close()
}

func (s *subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	close(s.done)
	s.mu.Unlock()

	if s.release != nil {
		s.release(s.id)
	}
}

func (s *subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// registry tracks live subscriptions by collection.
type registry struct {
	mu   sync.Mutex
	subs map[string]*subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]*subscription)}
}

func (r *registry) add(s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[s.id] = s
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

func (r *registry) matching(collection string) []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*subscription
	for _, s := range r.subs {
		if s.query.Collection == collection {
			out = append(out, s)
		}
	}
	return out
}

func (r *registry) all() []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
