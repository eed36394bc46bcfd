package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/tOgg1/courier/internal/logging"
	"github.com/tOgg1/courier/internal/metrics"
	"github.com/tOgg1/courier/internal/models"
)

// SendMessage writes a message to the active conversation, then updates the
// conversation summary and notifies the recipient. The three writes are not
// atomic: once the message is written the send has succeeded, and a failed
// summary or notification write is only logged.
func (s *Service) SendMessage(ctx context.Context, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return models.Message{}, ErrNoSession
	}
	me := *s.identity
	conv, ok := s.lookupLocked(s.activeID)
	s.mu.Unlock()
	if !ok {
		return models.Message{}, ErrNoActiveConversation
	}

	recipient := conv.OtherParticipant(me.ID)
	if recipient == "" || !conv.Includes(me.ID) {
		return models.Message{}, ErrNoRecipient
	}

	senderName := me.Name
	if senderName == "" {
		senderName = conv.ParticipantNames[me.ID]
	}
	now := s.now().UTC()
	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       me.ID,
		SenderName:     senderName,
		RecipientID:    recipient,
		RecipientName:  conv.ParticipantNames[recipient],
		Content:        content,
		Timestamp:      now,
		Read:           false,
	}
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}

	logger := logging.WithConversation(s.logger, conv.ID)

	wctx, cancel := s.writeContext(ctx)
	id, err := s.store.Create(wctx, models.CollectionMessages, msg.Fields())
	cancel()
	if err != nil {
		s.metrics.SendFailed()
		sendErr := &SendError{ConversationID: conv.ID, Err: err}
		logger.Error().Err(err).Msg("failed to send message")
		s.publishNotice("send_message", sendErr)
		return models.Message{}, sendErr
	}
	msg.ID = id
	s.metrics.Sent()
	logger.Debug().
		Str("message_id", id).
		Str("preview", logging.Preview(content, 32)).
		Msg("message sent")

	wctx, cancel = s.writeContext(ctx)
	err = s.store.Update(wctx, models.CollectionConversations, conv.ID, map[string]any{
		models.FieldLastMessage:     content,
		models.FieldLastMessageTime: models.FormatTime(now),
		models.FieldUpdatedAt:       models.FormatTime(now),
	})
	cancel()
	if err != nil {
		s.metrics.PartialFailure(metrics.StageConversation)
		logger.Warn().Err(err).Str("message_id", id).Msg("message sent but conversation summary not updated")
	}

	notification := models.Notification{
		Type:        models.NotificationNewMessage,
		RecipientID: recipient,
		Title:       s.cfg.NotificationTitle,
		Message:     fmt.Sprintf("%s sent you a message", senderName),
		CreatedAt:   now,
		Read:        false,
		Data: models.NotificationData{
			ConversationID: conv.ID,
			SenderID:       me.ID,
			SenderName:     senderName,
			Preview:        models.Preview(content, s.cfg.PreviewLength),
		},
	}
	wctx, cancel = s.writeContext(ctx)
	_, err = s.store.Create(wctx, models.CollectionNotifications, notification.Fields())
	cancel()
	if err != nil {
		s.metrics.PartialFailure(metrics.StageNotification)
		logger.Warn().Err(err).Str("message_id", id).Msg("message sent but recipient not notified")
	}

	return msg, nil
}
