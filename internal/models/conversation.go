package models

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrInvalidParticipants = errors.New("conversation requires exactly two distinct participants")
	ErrInvalidConversation = errors.New("conversation id is required")
)

// Conversation is the durable two-party thread.
type Conversation struct {
	ID               string            `json:"id"`
	Participants     []string          `json:"participants"`
	ParticipantNames map[string]string `json:"participantNames"`
	ParticipantRoles map[string]Role   `json:"participantRoles"`
	LastMessage      string            `json:"lastMessage"`
	LastMessageTime  time.Time         `json:"lastMessageTime"`
	CreatedAt        time.Time         `json:"createdAt,omitempty"`
	UpdatedAt        time.Time         `json:"updatedAt,omitempty"`

	// UnreadCount is derived per viewer and never stored.
	UnreadCount int `json:"unreadCount"`
}

// PairKey returns the key for the unordered pair {a, b}.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// PairKey returns the key for the conversation's participant pair, or "" if
// the participant list is malformed.
func (c Conversation) PairKey() string {
	if len(c.Participants) != 2 {
		return ""
	}
	return PairKey(c.Participants[0], c.Participants[1])
}

// HasPair reports whether the participants are exactly {a, b}.
func (c Conversation) HasPair(a, b string) bool {
	return a != b && c.PairKey() == PairKey(a, b)
}

// Includes reports whether userID participates in the conversation.
func (c Conversation) Includes(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not me.
func (c Conversation) OtherParticipant(me string) string {
	for _, id := range c.Participants {
		if id != me {
			return id
		}
	}
	return ""
}

// Validate checks the stored shape of the conversation.
func (c Conversation) Validate() error {
	validation := &ValidationErrors{}
	if len(c.Participants) != 2 || c.Participants[0] == "" || c.Participants[1] == "" ||
		c.Participants[0] == c.Participants[1] {
		validation.Add(FieldParticipants, ErrInvalidParticipants)
	}
	return validation.Err()
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	out.ParticipantNames = make(map[string]string, len(c.ParticipantNames))
	for k, v := range c.ParticipantNames {
		out.ParticipantNames[k] = v
	}
	out.ParticipantRoles = make(map[string]Role, len(c.ParticipantRoles))
	for k, v := range c.ParticipantRoles {
		out.ParticipantRoles[k] = v
	}
	return out
}

// Fields encodes c as document data. UnreadCount is not persisted.
func (c Conversation) Fields() map[string]any {
	roles := make(map[string]any, len(c.ParticipantRoles))
	for id, role := range c.ParticipantRoles {
		roles[id] = string(role)
	}
	names := make(map[string]any, len(c.ParticipantNames))
	for id, name := range c.ParticipantNames {
		names[id] = name
	}
	participants := make([]any, 0, len(c.Participants))
	for _, id := range c.Participants {
		participants = append(participants, id)
	}
	fields := map[string]any{
		FieldParticipants:     participants,
		FieldParticipantNames: names,
		FieldParticipantRoles: roles,
		FieldLastMessage:      c.LastMessage,
		FieldLastMessageTime:  FormatTime(c.LastMessageTime),
		FieldCreatedAt:        FormatTime(c.CreatedAt),
	}
	if !c.UpdatedAt.IsZero() {
		fields[FieldUpdatedAt] = FormatTime(c.UpdatedAt)
	}
	return fields
}

// ConversationFromDocument decodes a conversations document.
func ConversationFromDocument(id string, data map[string]any) Conversation {
	roles := make(map[string]Role)
	for uid, role := range stringMapField(data, FieldParticipantRoles) {
		roles[uid] = ParseRole(role)
	}
	return Conversation{
		ID:               id,
		Participants:     stringSliceField(data, FieldParticipants),
		ParticipantNames: stringMapField(data, FieldParticipantNames),
		ParticipantRoles: roles,
		LastMessage:      stringField(data, FieldLastMessage),
		LastMessageTime:  ParseTime(data[FieldLastMessageTime]),
		CreatedAt:        ParseTime(data[FieldCreatedAt]),
		UpdatedAt:        ParseTime(data[FieldUpdatedAt]),
	}
}

// SortConversations orders by LastMessageTime descending, then id.
func SortConversations(list []Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].LastMessageTime.Equal(list[j].LastMessageTime) {
			return list[i].LastMessageTime.After(list[j].LastMessageTime)
		}
		return list[i].ID < list[j].ID
	})
}

// Canonical reports whether a should be preferred over b when both describe
// the same participant pair: the earliest created wins, then the smallest id.
func Canonical(a, b Conversation) bool {
	switch {
	case a.CreatedAt.IsZero() && !b.CreatedAt.IsZero():
		return false
	case !a.CreatedAt.IsZero() && b.CreatedAt.IsZero():
		return true
	case !a.CreatedAt.Equal(b.CreatedAt):
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
