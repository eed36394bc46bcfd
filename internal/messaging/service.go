// Package messaging is the per-session conversation engine: it keeps the
// conversation list, the active conversation's messages and the unread
// total in sync with the document store and performs sends.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tOgg1/courier/internal/config"
	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/logging"
	"github.com/tOgg1/courier/internal/metrics"
	"github.com/tOgg1/courier/internal/models"
)

// Directory is the directory collaborator.
type Directory interface {
	Resolve(ctx context.Context, me models.Identity) ([]models.User, error)
	Lookup(ctx context.Context, id string) (models.User, error)
	Counterparts(ctx context.Context, me models.Identity) func(models.User) bool
}

// Service is constructed once per session and lives from Init to Dispose.
type Service struct {
	store     docstore.Store
	directory Directory
	cfg       config.MessagingConfig
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    zerolog.Logger

	unreadSlot        *slot
	conversationsSlot *slot
	messagesSlot      *slot

	flights singleflight.Group
	states  *broadcaster
	notices chan Notice

	mu       sync.Mutex
	identity *models.Identity
	ctx      context.Context
	cancel   context.CancelFunc

	open         bool
	showUserList bool
	activeID     string
	users        []models.User

	// conversations as last delivered, plus optimistic inserts not yet seen
	// in a snapshot.
	delivered []models.Conversation
	pending   map[string]models.Conversation

	// visible is the deduplicated, sorted list; aliases maps hidden
	// duplicates to their canonical id.
	visible    []models.Conversation
	aliases    map[string]string
	duplicates map[string]bool

	// hidden holds delivered conversations whose counterpart the role rules
	// exclude. roles caches counterpart roles for the session.
	hidden map[string]bool
	roles  map[string]models.Role

	// counts feed the list; inbound holds the unread stream's own counts,
	// which make up unreadTotal.
	counts        map[string]int
	inbound       map[string]int
	unreadTotal   int
	unreadVersion uint64

	messages []models.Message
}

// Option configures a Service.
type Option func(*Service)

// WithConfig sets the engine tunables.
func WithConfig(cfg config.MessagingConfig) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an idle service. Call Init to start it.
func NewService(store docstore.Store, dir Directory, opts ...Option) *Service {
	s := &Service{
		store:             store,
		directory:         dir,
		cfg:               config.DefaultConfig().Messaging,
		now:               time.Now,
		logger:            logging.Component("messaging"),
		unreadSlot:        newSlot(metrics.StreamUnread),
		conversationsSlot: newSlot(metrics.StreamConversations),
		messagesSlot:      newSlot(metrics.StreamMessages),
		states:            newBroadcaster(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ErrorBuffer < 1 {
		s.cfg.ErrorBuffer = 1
	}
	s.notices = make(chan Notice, s.cfg.ErrorBuffer)
	s.resetLocked()
	return s
}

// Init starts the session for identity: the unread and conversation-list
// streams are opened. Re-initializing for another user disposes first.
func (s *Service) Init(ctx context.Context, identity models.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.identity != nil && s.identity.ID == identity.ID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.Dispose()

	s.mu.Lock()
	id := identity
	s.identity = &id
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	logger := logging.WithUser(s.logger, identity.ID)
	logger.Info().Str("role", string(identity.Role)).Msg("messaging session started")
	return s.ensureGlobalStreams(ctx)
}

// Dispose tears down every stream and forgets the session.
func (s *Service) Dispose() {
	s.teardown(s.messagesSlot)
	s.teardown(s.conversationsSlot)
	s.teardown(s.unreadSlot)

	s.mu.Lock()
	wasActive := s.identity != nil
	if s.cancel != nil {
		s.cancel()
	}
	s.identity = nil
	s.ctx, s.cancel = nil, nil
	s.resetLocked()
	s.notifyLocked()
	s.mu.Unlock()

	if wasActive {
		s.logger.Info().Msg("messaging session ended")
	}
}

func (s *Service) resetLocked() {
	s.open = false
	s.showUserList = false
	s.activeID = ""
	s.users = nil
	s.delivered = nil
	s.pending = make(map[string]models.Conversation)
	s.visible = nil
	s.aliases = make(map[string]string)
	s.duplicates = make(map[string]bool)
	s.hidden = make(map[string]bool)
	s.roles = make(map[string]models.Role)
	s.counts = make(map[string]int)
	s.inbound = make(map[string]int)
	s.unreadTotal = 0
	s.unreadVersion = 0
	s.messages = nil
}

// Identity returns the session identity, or nil before Init.
func (s *Service) Identity() *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// State returns a deep copy of the current state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers skip intermediate states.
func (s *Service) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states.subscribe(s.stateLocked())
}

// Errors returns the channel of user-visible failures.
func (s *Service) Errors() <-chan Notice {
	return s.notices
}

// OpenMessaging opens the messaging view with no active conversation and
// makes sure the unread and conversation streams are live.
func (s *Service) OpenMessaging(ctx context.Context) error {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.open = true
	s.showUserList = false
	s.clearActiveLocked()
	s.mu.Unlock()

	s.teardown(s.messagesSlot)
	s.notify()
	return s.ensureGlobalStreams(ctx)
}

// CloseMessaging closes the view and tears down all three streams.
func (s *Service) CloseMessaging() {
	s.teardown(s.messagesSlot)
	s.teardown(s.conversationsSlot)
	s.teardown(s.unreadSlot)

	s.mu.Lock()
	s.open = false
	s.showUserList = false
	s.clearActiveLocked()
	s.mu.Unlock()
	s.notify()
}

// SelectConversation makes id the active conversation and subscribes to its
// messages. Selecting the already active conversation is a no-op.
func (s *Service) SelectConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if canonical, ok := s.aliases[id]; ok {
		id = canonical
	}
	if _, ok := s.findLocked(id); !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrConversationNotFound)
	}
	if s.activeID == id && s.messagesSlot.active() {
		s.open = true
		s.showUserList = false
		s.mu.Unlock()
		s.notify()
		return nil
	}
	me := s.identity.ID
	s.open = true
	s.showUserList = false
	s.activeID = id
	s.messages = nil
	s.mu.Unlock()

	s.notify()
	return s.openMessageStream(ctx, me, id)
}

// SelectUser finds or creates the conversation with userID and selects it.
func (s *Service) SelectUser(ctx context.Context, userID string) error {
	me := s.Identity()
	if me == nil {
		return ErrNoSession
	}
	conv, err := s.resolveConversation(ctx, *me, userID)
	if err != nil {
		return err
	}
	return s.SelectConversation(ctx, conv.ID)
}

// GoBack hides the user list if it is shown; otherwise it leaves the active
// conversation.
func (s *Service) GoBack() {
	s.mu.Lock()
	if s.showUserList {
		s.showUserList = false
		s.mu.Unlock()
		s.notify()
		return
	}
	s.clearActiveLocked()
	s.mu.Unlock()

	s.teardown(s.messagesSlot)
	s.notify()
}

// ShowDirectory shows the user list and reloads it. On failure the list is
// left empty.
func (s *Service) ShowDirectory(ctx context.Context) error {
	me := s.Identity()
	if me == nil {
		return ErrNoSession
	}

	users, err := s.directory.Resolve(ctx, *me)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load directory")
		users = nil
	}

	s.mu.Lock()
	if s.identity == nil || s.identity.ID != me.ID {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.open = true
	s.showUserList = true
	s.users = users
	s.mu.Unlock()
	s.notify()

	if err != nil {
		return fmt.Errorf("failed to load directory: %w", err)
	}
	return nil
}

func (s *Service) clearActiveLocked() {
	s.activeID = ""
	s.messages = nil
}

func (s *Service) findLocked(id string) (models.Conversation, bool) {
	return findConversation(s.visible, id)
}

// lookupLocked also finds hidden duplicates and optimistic inserts, so an
// active conversation stays resolvable after it is deduplicated away.
func (s *Service) lookupLocked(id string) (models.Conversation, bool) {
	if id == "" {
		return models.Conversation{}, false
	}
	if c, ok := findConversation(s.visible, id); ok {
		return c, true
	}
	if c, ok := findConversation(s.delivered, id); ok {
		return c, true
	}
	c, ok := s.pending[id]
	return c, ok
}

func (s *Service) stateLocked() State {
	state := State{
		Open:          s.open,
		ShowUserList:  s.showUserList,
		Conversations: make([]models.Conversation, len(s.visible)),
		Messages:      append([]models.Message{}, s.messages...),
		Users:         append([]models.User{}, s.users...),
		UnreadTotal:   s.unreadTotal,
		Degraded:      s.activeID != "" && s.messagesSlot.isDegraded(),
	}
	for i, c := range s.visible {
		state.Conversations[i] = c.Clone()
	}
	if c, ok := s.lookupLocked(s.activeID); ok {
		current := c.Clone()
		state.Current = &current
	}
	return state
}

// notify publishes the current state to listeners.
func (s *Service) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyLocked()
}

// notifyLocked publishes under the service lock so listeners never observe
// states out of order.
func (s *Service) notifyLocked() {
	s.states.publish(s.stateLocked())
}

// publishNotice reports a user-visible failure without blocking.
func (s *Service) publishNotice(op string, err error) {
	notice := Notice{Op: op, Err: err, At: s.now()}
	select {
	case s.notices <- notice:
	default:
		s.metrics.NoticeDropped()
		s.logger.Warn().Err(err).Str("op", op).Msg("error channel full, dropping notice")
	}
}

func (s *Service) rootContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// writeContext bounds a store call made on behalf of the user.
func (s *Service) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.WriteTimeout)
}
