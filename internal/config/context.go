package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Context is the CLI's remembered identity: which user commands act as when
// --as is omitted, and the last token issued for them.
type Context struct {
	UserID    string    `yaml:"user,omitempty"`
	UserName  string    `yaml:"user_name,omitempty"`
	Role      string    `yaml:"role,omitempty"`
	Token     string    `yaml:"token,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// IsEmpty returns true if no identity is set.
func (c *Context) IsEmpty() bool {
	return c.UserID == ""
}

// SetUser selects the acting user. The stored token belongs to the previous
// user, so it is dropped.
func (c *Context) SetUser(id, name, role string) {
	if id != c.UserID {
		c.Token = ""
	}
	c.UserID = id
	c.UserName = name
	c.Role = role
	c.UpdatedAt = time.Now()
}

// Clear removes the identity.
func (c *Context) Clear() {
	*c = Context{UpdatedAt: time.Now()}
}

// String returns a human-readable representation of the context.
func (c *Context) String() string {
	if c.IsEmpty() {
		return "(no user selected)"
	}
	name := c.UserName
	if name == "" {
		name = shortID(c.UserID)
	}
	if c.Role == "" {
		return fmt.Sprintf("user:%s", name)
	}
	return fmt.Sprintf("user:%s role:%s", name, c.Role)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ContextStore manages loading and saving context.
type ContextStore struct {
	path string
	mu   sync.RWMutex
}

// NewContextStore creates a new context store.
// If path is empty, uses the default path (~/.config/courier/context.yaml).
func NewContextStore(path string) *ContextStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "courier", "context.yaml")
	}
	return &ContextStore{path: path}
}

// Path returns the context file path.
func (s *ContextStore) Path() string {
	return s.path
}

// Load reads the context from disk.
// Returns an empty context if the file doesn't exist.
func (s *ContextStore) Load() (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := &Context{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ctx, nil
		}
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}
	if err := yaml.Unmarshal(data, ctx); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}
	return ctx, nil
}

// Save writes the context to disk. The file may hold a token, so it is
// written owner-only.
func (s *ContextStore) Save(ctx *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create context directory: %w", err)
	}
	data, err := yaml.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write context file: %w", err)
	}
	return nil
}

// Clear removes the context file.
func (s *ContextStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove context file: %w", err)
	}
	return nil
}
