// Package session reports who the current user is and issues the bearer
// tokens the HTTP surface authenticates with.
package session

import (
	"sync"

	"github.com/tOgg1/courier/internal/models"
)

// Provider is a reactive source of the signed-in identity.
type Provider interface {
	// Current returns the signed-in identity, or nil when signed out.
	Current() *models.Identity

	// Watch delivers the identity after every change. The channel holds only
	// the latest value; cancel closes it.
	Watch() (<-chan *models.Identity, func())
}

// Memory is an in-process Provider.
type Memory struct {
	mu       sync.Mutex
	current  *models.Identity
	watchers map[int]chan *models.Identity
	nextID   int
}

var _ Provider = (*Memory)(nil)

// NewMemory creates a signed-out provider.
func NewMemory() *Memory {
	return &Memory{watchers: make(map[int]chan *models.Identity)}
}

// SignIn sets the current identity.
func (m *Memory) SignIn(identity models.Identity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	m.set(&identity)
	return nil
}

// SignOut clears the current identity.
func (m *Memory) SignOut() {
	m.set(nil)
}

// Current implements Provider.
func (m *Memory) Current() *models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyIdentity(m.current)
}

// Watch implements Provider.
func (m *Memory) Watch() (<-chan *models.Identity, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan *models.Identity, 1)
	m.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.watchers, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (m *Memory) set(identity *models.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = identity
	for _, ch := range m.watchers {
		offerLatest(ch, copyIdentity(identity))
	}
}

// offerLatest replaces any undelivered value in a one-slot channel.
func offerLatest(ch chan *models.Identity, value *models.Identity) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- value:
	default:
	}
}

func copyIdentity(identity *models.Identity) *models.Identity {
	if identity == nil {
		return nil
	}
	out := *identity
	return &out
}
