package messaging

import (
	"sync"

	"github.com/tOgg1/courier/internal/models"
)

// State is what the messaging UI renders.
type State struct {
	Open          bool                  `json:"open"`
	ShowUserList  bool                  `json:"showUserList"`
	Current       *models.Conversation  `json:"current,omitempty"`
	Conversations []models.Conversation `json:"conversations"`
	Messages      []models.Message      `json:"messages"`
	Users         []models.User         `json:"users"`
	UnreadTotal   int                   `json:"unreadTotal"`

	// Degraded is set while the message stream runs unordered with
	// client-side ordering.
	Degraded bool `json:"degraded"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.Current != nil {
		current := s.Current.Clone()
		out.Current = &current
	}
	out.Conversations = make([]models.Conversation, len(s.Conversations))
	for i, c := range s.Conversations {
		out.Conversations[i] = c.Clone()
	}
	out.Messages = append(make([]models.Message, 0, len(s.Messages)), s.Messages...)
	out.Users = append(make([]models.User, 0, len(s.Users)), s.Users...)
	return out
}

// broadcaster fans state out to listeners through one-slot channels that
// always hold the latest value.
type broadcaster struct {
	mu        sync.Mutex
	listeners map[int]chan State
	nextID    int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{listeners: make(map[int]chan State)}
}

func (b *broadcaster) subscribe(initial State) (<-chan State, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan State, 1)
	ch <- initial
	b.listeners[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (b *broadcaster) publish(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.listeners {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- state.Clone():
		default:
		}
	}
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
