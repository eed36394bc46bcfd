package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/tOgg1/courier/internal/docstore"
	"github.com/tOgg1/courier/internal/logging"
	"github.com/tOgg1/courier/internal/models"
)

// resolveConversation returns the conversation between me and targetID,
// creating it on first contact. Concurrent calls for the same pair share one
// lookup, and a created conversation is visible to the next call at once.
func (s *Service) resolveConversation(ctx context.Context, me models.Identity, targetID string) (models.Conversation, error) {
	if targetID == "" || targetID == me.ID {
		return models.Conversation{}, fmt.Errorf("%w: %q", ErrInvalidTarget, targetID)
	}
	if conv, ok := s.knownPair(me.ID, targetID); ok {
		return conv, nil
	}

	key := models.PairKey(me.ID, targetID)
	v, err, _ := s.flights.Do(key, func() (any, error) {
		if conv, ok := s.knownPair(me.ID, targetID); ok {
			return conv, nil
		}

		wctx, cancel := s.writeContext(ctx)
		defer cancel()

		target, err := s.lookupTarget(wctx, me, targetID)
		if err != nil {
			return nil, err
		}
		if !s.directory.Counterparts(wctx, me)(target) {
			return nil, fmt.Errorf("%w: %s", ErrNotPermitted, targetID)
		}

		existing, err := s.storedPair(wctx, me.ID, targetID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.insertPending(*existing)
			return *existing, nil
		}
		return s.createConversation(wctx, me, target)
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return v.(models.Conversation), nil
}

// knownPair searches the in-memory list, including optimistic inserts.
func (s *Service) knownPair(me, target string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.visible {
		if c.HasPair(me, target) {
			return c.Clone(), true
		}
	}
	for _, c := range s.pending {
		if c.HasPair(me, target) {
			return c.Clone(), true
		}
	}
	return models.Conversation{}, false
}

// storedPair asks the store directly, so a conversation created by another
// client but not yet delivered is reused.
func (s *Service) storedPair(ctx context.Context, me, target string) (*models.Conversation, error) {
	docs, err := s.store.List(ctx, docstore.From(models.CollectionConversations).
		Where(models.FieldParticipants, docstore.OpArrayContains, me))
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversations: %w", err)
	}

	var found *models.Conversation
	for _, doc := range docs {
		conv := models.ConversationFromDocument(doc.ID, doc.Data)
		if !conv.HasPair(me, target) {
			continue
		}
		if found == nil || models.Canonical(conv, *found) {
			c := conv
			found = &c
		}
	}
	return found, nil
}

func (s *Service) lookupTarget(ctx context.Context, me models.Identity, targetID string) (models.User, error) {
	target, err := s.directory.Lookup(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return models.User{}, err
		}
		resolveErr := &ResolveError{UserID: me.ID, TargetID: targetID, Err: err}
		s.publishNotice("select_user", resolveErr)
		return models.User{}, resolveErr
	}
	s.rememberRole(target)
	return target, nil
}

func (s *Service) createConversation(ctx context.Context, me models.Identity, target models.User) (models.Conversation, error) {
	targetID := target.ID
	now := s.now().UTC()
	conv := models.Conversation{
		Participants: []string{me.ID, targetID},
		ParticipantNames: map[string]string{
			me.ID:    me.Name,
			targetID: target.Name,
		},
		ParticipantRoles: map[string]models.Role{
			me.ID:    me.Role,
			targetID: target.Role,
		},
		LastMessage:     "",
		LastMessageTime: now,
		CreatedAt:       now,
	}
	if err := conv.Validate(); err != nil {
		return models.Conversation{}, err
	}

	id, err := s.store.Create(ctx, models.CollectionConversations, conv.Fields())
	if err != nil {
		resolveErr := &ResolveError{UserID: me.ID, TargetID: targetID, Err: err}
		s.publishNotice("select_user", resolveErr)
		return models.Conversation{}, resolveErr
	}
	conv.ID = id

	s.metrics.ConversationCreated()
	logger := logging.WithConversation(s.logger, id)
	logger.Info().Str("target_id", targetID).Msg("conversation created")
	s.insertPending(conv)
	return conv, nil
}

// insertPending adds conv to the list ahead of the stream delivering it.
func (s *Service) insertPending(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return
	}
	if _, ok := findConversation(s.delivered, conv.ID); ok {
		return
	}
	s.pending[conv.ID] = conv.Clone()
	s.rebuildLocked()
	s.notifyLocked()
}
