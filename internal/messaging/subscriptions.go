package messaging

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/logging"
	"github.com/tOgg1/courier/internal/models"
)

func unreadQuery(me string) docstore.Query {
	return docstore.From(models.CollectionMessages).
		Where(models.FieldRecipientID, docstore.OpEqual, me).
		Where(models.FieldRead, docstore.OpEqual, false)
}

func conversationsQuery(me string) docstore.Query {
	return docstore.From(models.CollectionConversations).
		Where(models.FieldParticipants, docstore.OpArrayContains, me).
		OrderBy(models.FieldLastMessageTime, docstore.Desc)
}

func messagesQuery(conversationID string) docstore.Query {
	return docstore.From(models.CollectionMessages).
		Where(models.FieldConversationID, docstore.OpEqual, conversationID).
		OrderBy(models.FieldTimestamp, docstore.Asc)
}

func conversationUnreadQuery(conversationID, me string) docstore.Query {
	return docstore.From(models.CollectionMessages).
		Where(models.FieldConversationID, docstore.OpEqual, conversationID).
		Where(models.FieldRecipientID, docstore.OpEqual, me).
		Where(models.FieldRead, docstore.OpEqual, false)
}

// ensureGlobalStreams opens the unread and conversation-list streams if
// they are not live.
func (s *Service) ensureGlobalStreams(ctx context.Context) error {
	me := s.Identity()
	if me == nil {
		return ErrNoSession
	}

	ctx, cancel := s.writeContext(ctx)
	defer cancel()

	if !s.unreadSlot.active() {
		err := s.establish(ctx, streamSpec{
			slot:  s.unreadSlot,
			query: unreadQuery(me.ID),
			deliver: func(gen uint64, docs []docstore.Document) {
				s.applyUnread(gen, me.ID, docs)
			},
		})
		if err != nil {
			return err
		}
	}
	if !s.conversationsSlot.active() {
		err := s.establish(ctx, streamSpec{
			slot:  s.conversationsSlot,
			query: conversationsQuery(me.ID),
			deliver: func(gen uint64, docs []docstore.Document) {
				s.applyConversations(gen, me.ID, docs)
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyUnread(gen uint64, me string, docs []docstore.Document) {
	counts := make(map[string]int)
	for _, doc := range docs {
		msg := models.MessageFromDocument(doc.ID, doc.Data)
		if msg.InboundUnread(me) {
			counts[msg.ConversationID]++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unreadSlot.current(gen) {
		return
	}
	s.unreadVersion++
	s.inbound = counts
	s.counts = make(map[string]int, len(counts))
	for id, n := range counts {
		s.counts[id] = n
	}
	s.totalLocked()
	s.rebuildLocked()
	s.notifyLocked()
}

// applyConversations recounts unread messages per conversation and then
// installs the list. If the unread stream delivered while counting, its
// counts are newer and are kept.
func (s *Service) applyConversations(gen uint64, me string, docs []docstore.Document) {
	convs := make([]models.Conversation, 0, len(docs))
	for _, doc := range docs {
		conv := models.ConversationFromDocument(doc.ID, doc.Data)
		if !conv.Includes(me) {
			continue
		}
		if err := conv.Validate(); err != nil {
			logger := logging.WithConversation(s.logger, conv.ID)
			logger.Warn().Err(err).Msg("skipping malformed conversation")
			continue
		}
		convs = append(convs, conv)
	}
	convs, hidden := s.filterCounterparts(me, convs)

	s.mu.Lock()
	version := s.unreadVersion
	previous := make(map[string]int, len(s.counts))
	for id, n := range s.counts {
		previous[id] = n
	}
	s.mu.Unlock()

	counts := s.countUnread(me, convs, previous)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.conversationsSlot.current(gen) {
		return
	}
	s.delivered = convs
	for _, conv := range convs {
		delete(s.pending, conv.ID)
	}
	for id := range hidden {
		delete(s.pending, id)
	}
	s.hidden = hidden
	if s.unreadVersion == version {
		s.counts = counts
	}
	s.totalLocked()
	s.rebuildLocked()
	s.notifyLocked()
}

// filterCounterparts drops conversations whose other participant the
// directory's role rules exclude. A counterpart whose role cannot be
// resolved is excluded.
func (s *Service) filterCounterparts(me string, convs []models.Conversation) ([]models.Conversation, map[string]bool) {
	hidden := make(map[string]bool)
	identity := s.Identity()
	if identity == nil || identity.ID != me {
		for _, conv := range convs {
			hidden[conv.ID] = true
		}
		return nil, hidden
	}

	ctx, cancel := s.writeContext(s.rootContext())
	defer cancel()
	allow := s.directory.Counterparts(ctx, *identity)

	kept := make([]models.Conversation, 0, len(convs))
	for _, conv := range convs {
		other := conv.OtherParticipant(me)
		if other != "" && allow(models.User{ID: other, Role: s.counterpartRole(ctx, other)}) {
			kept = append(kept, conv)
			continue
		}
		hidden[conv.ID] = true
		logger := logging.WithConversation(s.logger, conv.ID)
		logger.Debug().Str("counterpart", other).Msg("conversation hidden by role rules")
	}
	return kept, hidden
}

func (s *Service) counterpartRole(ctx context.Context, id string) models.Role {
	s.mu.Lock()
	role, ok := s.roles[id]
	s.mu.Unlock()
	if ok {
		return role
	}
	user, err := s.directory.Lookup(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("counterpart", id).Msg("counterpart lookup failed")
		return models.RoleUnknown
	}
	s.rememberRole(user)
	return user.Role
}

func (s *Service) rememberRole(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles != nil {
		s.roles[user.ID] = user.Role
	}
}

// totalLocked sums the unread stream's counts over conversations the role
// rules keep.
func (s *Service) totalLocked() {
	total := 0
	for id, n := range s.inbound {
		if !s.hidden[id] {
			total += n
		}
	}
	s.unreadTotal = total
}

// countUnread queries each conversation's inbound unread count
// concurrently. A failed count keeps the previous value.
func (s *Service) countUnread(me string, convs []models.Conversation, previous map[string]int) map[string]int {
	var mu sync.Mutex
	counts := make(map[string]int, len(convs))

	var g errgroup.Group
	g.SetLimit(s.cfg.CountConcurrency)
	root := s.rootContext()
	for _, conv := range convs {
		conv := conv
		g.Go(func() error {
			ctx, cancel := s.writeContext(root)
			defer cancel()
			docs, err := s.store.List(ctx, conversationUnreadQuery(conv.ID, me))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger := logging.WithConversation(s.logger, conv.ID)
				logger.Warn().Err(err).Msg("failed to count unread messages")
				counts[conv.ID] = previous[conv.ID]
				return nil
			}
			counts[conv.ID] = len(docs)
			return nil
		})
	}
	_ = g.Wait()
	return counts
}

// rebuildLocked recomputes the visible conversation list: one conversation
// per participant pair, the canonical one, carrying the unread count of
// every conversation for that pair.
func (s *Service) rebuildLocked() {
	all := make([]models.Conversation, 0, len(s.delivered)+len(s.pending))
	all = append(all, s.delivered...)
	for _, conv := range s.pending {
		if _, ok := findConversation(s.delivered, conv.ID); !ok {
			all = append(all, conv)
		}
	}

	byPair := make(map[string]int)
	visible := make([]models.Conversation, 0, len(all))
	aliases := make(map[string]string)
	for _, conv := range all {
		conv = conv.Clone()
		conv.UnreadCount = s.counts[conv.ID]
		key := conv.PairKey()
		idx, seen := byPair[key]
		if !seen {
			byPair[key] = len(visible)
			visible = append(visible, conv)
			continue
		}

		kept := visible[idx]
		hidden := conv
		if models.Canonical(conv, kept) {
			kept, hidden = conv, kept
		}
		kept.UnreadCount += hidden.UnreadCount
		visible[idx] = kept
		aliases[hidden.ID] = kept.ID
		for dup, canonical := range aliases {
			if canonical == hidden.ID {
				aliases[dup] = kept.ID
			}
		}

		if !s.duplicates[hidden.ID] {
			s.duplicates[hidden.ID] = true
			s.metrics.Duplicates(1)
			logger := logging.WithConversation(s.logger, kept.ID)
			logger.Warn().
				Str("duplicate_id", hidden.ID).
				Msg("duplicate conversation for participant pair, hiding it")
		}
	}

	models.SortConversations(visible)
	s.visible = visible
	s.aliases = aliases
}

func findConversation(list []models.Conversation, id string) (models.Conversation, bool) {
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conversation{}, false
}

// openMessageStream replaces the message stream with one for
// conversationID, with a fresh reconciler.
func (s *Service) openMessageStream(ctx context.Context, me, conversationID string) error {
	rec := newReconciler(s.store, me, s.cfg, s.metrics, s.logger)
	root := s.rootContext()

	ctx, cancel := s.writeContext(ctx)
	defer cancel()
	return s.establish(ctx, streamSpec{
		slot:  s.messagesSlot,
		query: messagesQuery(conversationID),
		deliver: func(gen uint64, docs []docstore.Document) {
			msgs := make([]models.Message, 0, len(docs))
			for _, doc := range docs {
				msgs = append(msgs, models.MessageFromDocument(doc.ID, doc.Data))
			}

			s.mu.Lock()
			if !s.messagesSlot.current(gen) || s.activeID != conversationID {
				s.mu.Unlock()
				return
			}
			s.messages = msgs
			s.notifyLocked()
			s.mu.Unlock()

			rec.reconcile(root, msgs)
		},
		failed: func(gen uint64, _ error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !s.messagesSlot.current(gen) {
				return
			}
			s.messages = nil
			s.notifyLocked()
		},
	})
}
