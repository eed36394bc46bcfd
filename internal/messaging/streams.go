package messaging

import (
	"context"
	"errors"
	"sync"

	"github.com/tOgg1/courier/internal/docstore"
)

// slot holds at most one live subscription for a logical stream. Every
// (re)establishment starts a new generation; a handle or callback from an
// older generation is discarded.
type slot struct {
	name string

	mu        sync.Mutex
	gen       uint64
	handle    docstore.Handle
	handleGen uint64
	degraded  bool
}

func newSlot(name string) *slot {
	return &slot{name: name}
}

// begin starts a new generation and detaches the current handle, which the
// caller must unsubscribe.
func (s *slot) begin() (uint64, docstore.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	old := s.handle
	s.handle = nil
	s.degraded = false
	return s.gen, old
}

// store keeps h if gen is still current and no handle was stored for gen
// yet. It reports whether h was kept; if not, the caller unsubscribes it.
func (s *slot) store(gen uint64, h docstore.Handle, degraded bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || (s.handle != nil && s.handleGen == gen) {
		return false
	}
	s.handle = h
	s.handleGen = gen
	s.degraded = degraded
	return true
}

// replace swaps in the fallback handle for gen and returns the handle it
// displaced. ok is false if gen is no longer current.
func (s *slot) replace(gen uint64, h docstore.Handle) (old docstore.Handle, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil, false
	}
	old = s.handle
	s.handle = h
	s.handleGen = gen
	s.degraded = true
	return old, true
}

func (s *slot) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func (s *slot) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

func (s *slot) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// streamSpec describes one establishment of a stream.
type streamSpec struct {
	slot  *slot
	query docstore.Query

	// deliver receives documents in query order. It must re-check the
	// generation under the service lock before touching state.
	deliver func(gen uint64, docs []docstore.Document)

	// failed receives terminal errors other than query-unsupported.
	failed func(gen uint64, err error)
}

// teardown ends the slot's generation and unsubscribes its handle.
func (s *Service) teardown(sl *slot) {
	_, old := sl.begin()
	if old != nil {
		old.Unsubscribe()
		s.metrics.StreamDown(sl.name)
	}
}

// establish replaces whatever the slot holds with a subscription to
// spec.query. Replace-then-store: the old handle is detached and
// unsubscribed first, and the new one is stored only if no later call has
// started a newer generation in the meantime.
func (s *Service) establish(ctx context.Context, spec streamSpec) error {
	sl := spec.slot
	gen, old := sl.begin()
	if old != nil {
		old.Unsubscribe()
		s.metrics.StreamDown(sl.name)
	}

	h, degraded, err := s.subscribe(ctx, spec, gen)
	if err != nil {
		s.metrics.StreamError(sl.name)
		return err
	}
	if !sl.store(gen, h, degraded) {
		h.Unsubscribe()
		return nil
	}
	s.metrics.StreamUp(sl.name)
	return nil
}

// subscribe opens spec.query, falling back to the unordered form when the
// store rejects the ordered one synchronously.
func (s *Service) subscribe(ctx context.Context, spec streamSpec, gen uint64) (docstore.Handle, bool, error) {
	q := spec.query
	h, err := s.store.Subscribe(ctx, q, s.snapshotHandler(spec, gen, false), s.errorHandler(spec, gen))
	if err == nil {
		return h, false, nil
	}
	if !errors.Is(err, docstore.ErrQueryUnsupported) || len(q.Orders) == 0 {
		return nil, false, err
	}

	s.logger.Debug().Err(err).Str("stream", spec.slot.name).Msg("ordered query rejected, subscribing unordered")
	s.metrics.Fallback(spec.slot.name)
	h, err = s.store.Subscribe(ctx, q.Unordered(), s.snapshotHandler(spec, gen, true), s.plainErrorHandler(spec, gen))
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

func (s *Service) snapshotHandler(spec streamSpec, gen uint64, arrange bool) docstore.SnapshotFunc {
	return func(snap docstore.Snapshot) {
		if !spec.slot.current(gen) {
			return
		}
		docs := snap.Docs
		if arrange {
			docs = spec.query.Arrange(docs)
		}
		spec.deliver(gen, docs)
	}
}

// errorHandler recovers from an asynchronous query-unsupported rejection by
// re-subscribing unordered within the same generation.
func (s *Service) errorHandler(spec streamSpec, gen uint64) docstore.ErrorFunc {
	return func(err error) {
		if !spec.slot.current(gen) {
			return
		}
		if !errors.Is(err, docstore.ErrQueryUnsupported) || len(spec.query.Orders) == 0 {
			s.streamFailed(spec, gen, err)
			return
		}

		s.logger.Debug().Err(err).Str("stream", spec.slot.name).Msg("ordered subscription rejected, subscribing unordered")
		s.metrics.Fallback(spec.slot.name)
		ctx, cancel := s.writeContext(s.rootContext())
		defer cancel()
		h, subErr := s.store.Subscribe(ctx, spec.query.Unordered(), s.snapshotHandler(spec, gen, true), s.plainErrorHandler(spec, gen))
		if subErr != nil {
			s.streamFailed(spec, gen, subErr)
			return
		}
		old, ok := spec.slot.replace(gen, h)
		if !ok {
			h.Unsubscribe()
			return
		}
		if old != nil {
			old.Unsubscribe()
		} else {
			s.metrics.StreamUp(spec.slot.name)
		}
		s.notify()
	}
}

func (s *Service) plainErrorHandler(spec streamSpec, gen uint64) docstore.ErrorFunc {
	return func(err error) {
		if !spec.slot.current(gen) {
			return
		}
		s.streamFailed(spec, gen, err)
	}
}

func (s *Service) streamFailed(spec streamSpec, gen uint64, err error) {
	s.metrics.StreamError(spec.slot.name)
	s.logger.Warn().Err(err).Str("stream", spec.slot.name).Msg("subscription failed")
	if spec.failed != nil {
		spec.failed(gen, err)
	}
}
