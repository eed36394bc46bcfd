package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/courier/internal/directory"
)

// Rejections. A rejected call performs no store write and publishes no notice.
var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrNoSession            = errors.New("no signed-in user")
	ErrNoRecipient          = errors.New("conversation has no other participant")
	ErrInvalidTarget        = errors.New("invalid conversation target")
	ErrNotPermitted         = errors.New("conversation with this user is not permitted")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = directory.ErrUserNotFound
)

// IsRejection reports whether err is a precondition failure rather than a
// store failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrEmptyMessage,
		ErrNoActiveConversation,
		ErrNoSession,
		ErrNoRecipient,
		ErrInvalidTarget,
		ErrNotPermitted,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// SendError reports a message that was not written.
type SendError struct {
	ConversationID string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send message in conversation %s: %v", e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ResolveError reports a conversation that could not be created.
type ResolveError struct {
	UserID   string
	TargetID string
	Err      error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("failed to start conversation with %s: %v", e.TargetID, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Notice is a user-visible failure published on Service.Errors.
type Notice struct {
	Op  string    `json:"op"`
	Err error     `json:"-"`
	At  time.Time `json:"at"`
}

// Message returns the text shown to the user.
func (n Notice) Message() string {
	if n.Err == nil {
		return ""
	}
	return n.Err.Error()
}
