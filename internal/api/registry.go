package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tOgg1/courier/internal/config"
	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/logging"
	"github.com/tOgg1/courier/internal/messaging"
	"github.com/tOgg1/courier/internal/metrics"
	"github.com/tOgg1/courier/internal/models"
	"github.com/tOgg1/courier/internal/notifications"
	"github.com/tOgg1/courier/internal/session"
)

// Session is one signed-in user's engine: a messaging service and a
// notification center sharing the user's identity.
type Session struct {
	Identity      models.Identity
	Messaging     *messaging.Service
	Notifications *notifications.Center

	provider *session.Memory
	unbind   func()
	done     chan struct{}

	mu       sync.Mutex
	lastPath string
}

// Navigate records the dashboard path a notification click leads to.
func (s *Session) Navigate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPath = path
}

// LastPath returns the most recent navigation target.
func (s *Session) LastPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPath
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) close() {
	close(s.done)
	s.provider.SignOut()
	s.unbind()
	s.Messaging.Dispose()
	s.Notifications.Stop()
}

// Registry holds the live sessions, one per user id.
type Registry struct {
	store     docstore.Store
	directory messaging.Directory
	cfg       *config.Config
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	starts   singleflight.Group
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(store docstore.Store, dir messaging.Directory, cfg *config.Config, m *metrics.Metrics) *Registry {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Registry{
		store:     store,
		directory: dir,
		cfg:       cfg,
		metrics:   m,
		logger:    logging.Component("sessions"),
		sessions:  make(map[string]*Session),
	}
}

// Acquire returns the user's session, starting it on first use. Concurrent
// first calls for one user share a single start; the registry lock is not
// held while it runs.
func (r *Registry) Acquire(ctx context.Context, identity models.Identity) (*Session, error) {
	if existing, ok := r.Get(identity.ID); ok {
		return existing, nil
	}

	v, err, _ := r.starts.Do(identity.ID, func() (any, error) {
		if existing, ok := r.Get(identity.ID); ok {
			return existing, nil
		}
		sess, err := r.start(ctx, identity)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if existing, ok := r.sessions[identity.ID]; ok {
			r.mu.Unlock()
			sess.close()
			return existing, nil
		}
		r.sessions[identity.ID] = sess
		count := len(r.sessions)
		r.mu.Unlock()

		logger := logging.WithUser(r.logger, identity.ID)
		logger.Info().Int("sessions", count).Msg("session started")
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) start(ctx context.Context, identity models.Identity) (*Session, error) {
	svc := messaging.NewService(r.store, r.directory,
		messaging.WithConfig(r.cfg.Messaging),
		messaging.WithMetrics(r.metrics),
	)
	if err := svc.Init(ctx, identity); err != nil {
		svc.Dispose()
		return nil, fmt.Errorf("failed to start messaging: %w", err)
	}

	sess := &Session{
		Identity:  identity,
		Messaging: svc,
		provider:  session.NewMemory(),
		done:      make(chan struct{}),
	}
	sess.Notifications = notifications.NewCenter(r.store, svc, sess,
		notifications.WithLimit(r.cfg.Notifications.Limit),
		notifications.WithWriteTimeout(r.cfg.Messaging.WriteTimeout),
		notifications.WithMetrics(r.metrics),
	)
	if err := sess.Notifications.Start(ctx, identity.ID); err != nil {
		svc.Dispose()
		return nil, fmt.Errorf("failed to start notifications: %w", err)
	}

	// The service already runs for identity, so binding is a no-op until
	// the provider changes.
	if err := sess.provider.SignIn(identity); err != nil {
		sess.Notifications.Stop()
		svc.Dispose()
		return nil, err
	}
	sess.unbind = messaging.Bind(context.Background(), sess.provider, svc)
	return sess, nil
}

// Get returns a live session without starting one.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

// Release ends the user's session. It reports whether one was live.
func (r *Registry) Release(userID string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	sess.close()
	logger := logging.WithUser(r.logger, userID)
	logger.Info().Msg("session ended")
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}
