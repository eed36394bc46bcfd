package models

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	ErrEmptyContent        = errors.New("message content is empty")
	ErrMissingSender       = errors.New("sender is required")
	ErrMissingRecipient    = errors.New("recipient is required")
	ErrMissingConversation = errors.New("conversation is required")
)

// Message is a single chat message. Only Read ever changes after creation,
// and only from false to true.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	RecipientID    string    `json:"recipientId"`
	RecipientName  string    `json:"recipientName"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

// InboundUnread reports whether the message is addressed to me and unread.
func (m Message) InboundUnread(me string) bool {
	return m.RecipientID == me && !m.Read
}

// Validate checks the message before it is written.
func (m Message) Validate() error {
	validation := &ValidationErrors{}
	validation.Require(FieldConversationID, m.ConversationID, ErrMissingConversation)
	validation.Require(FieldSenderID, m.SenderID, ErrMissingSender)
	validation.Require(FieldRecipientID, m.RecipientID, ErrMissingRecipient)
	validation.Require(FieldContent, m.Content, ErrEmptyContent)
	return validation.Err()
}

// Fields encodes m as document data.
func (m Message) Fields() map[string]any {
	return map[string]any{
		FieldConversationID: m.ConversationID,
		FieldSenderID:       m.SenderID,
		FieldSenderName:     m.SenderName,
		FieldRecipientID:    m.RecipientID,
		FieldRecipientName:  m.RecipientName,
		FieldContent:        m.Content,
		FieldTimestamp:      FormatTime(m.Timestamp),
		FieldRead:           m.Read,
	}
}

// MessageFromDocument decodes a messages document.
func MessageFromDocument(id string, data map[string]any) Message {
	return Message{
		ID:             id,
		ConversationID: stringField(data, FieldConversationID),
		SenderID:       stringField(data, FieldSenderID),
		SenderName:     stringField(data, FieldSenderName),
		RecipientID:    stringField(data, FieldRecipientID),
		RecipientName:  stringField(data, FieldRecipientName),
		Content:        stringField(data, FieldContent),
		Timestamp:      ParseTime(data[FieldTimestamp]),
		Read:           boolField(data, FieldRead),
	}
}

// SortMessages orders by Timestamp ascending, then id.
func SortMessages(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		return list[i].ID < list[j].ID
	})
}

// Preview returns the first n runes of the trimmed content.
func Preview(content string, n int) string {
	content = strings.TrimSpace(content)
	if n <= 0 {
		return ""
	}
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n])
}
