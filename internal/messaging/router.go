package messaging

import "context"

// OpenConversationWith opens messaging on the conversation with userID. It
// is the target of a clicked new-message notification.
func (s *Service) OpenConversationWith(ctx context.Context, userID string) error {
	if err := s.OpenMessaging(ctx); err != nil {
		return err
	}
	return s.SelectUser(ctx, userID)
}
