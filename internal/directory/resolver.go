// Package directory decides which users the current user may message.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tOgg1/courier/internal/logging"
	"github.com/tOgg1/courier/internal/models"
)

// ErrUserNotFound is returned when a profile does not exist.
var ErrUserNotFound = errors.New("user not found")

// UserSource lists directory entries.
type UserSource interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
}

// AssignmentLookup returns the user ids of customers assigned to an agent.
type AssignmentLookup interface {
	AssignedCustomers(ctx context.Context, agentID string) ([]string, error)
}

// Resolver applies the role visibility rules.
type Resolver struct {
	users       UserSource
	assignments AssignmentLookup
	logger      zerolog.Logger
}

// NewResolver creates a resolver.
func NewResolver(users UserSource, assignments AssignmentLookup) *Resolver {
	return &Resolver{
		users:       users,
		assignments: assignments,
		logger:      logging.Component("directory"),
	}
}

// Resolve returns the users me may message, online first, then by name.
//
//   - customer: brand managers only
//   - salesAgent: brand managers plus customers assigned to the agent
//   - brandManager, admin: everyone else
//
// Unknown roles see nobody. If the assignment lookup fails a sales agent
// sees brand managers only.
func (r *Resolver) Resolve(ctx context.Context, me models.Identity) ([]models.User, error) {
	if me.ID == "" {
		return nil, models.ErrInvalidUserID
	}
	if !me.Role.Valid() {
		return []models.User{}, nil
	}
	all, err := r.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	keep := r.visibility(ctx, me, false)
	visible := make([]models.User, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, u := range all {
		if u.ID == "" || u.ID == me.ID || seen[u.ID] {
			continue
		}
		if keep(u) {
			seen[u.ID] = true
			visible = append(visible, u)
		}
	}
	SortUsers(visible)
	return visible, nil
}

// Counterparts returns a predicate reporting whether me may hold a
// conversation with a user. The rules are Resolve's, except that customers
// also keep conversations with admins.
func (r *Resolver) Counterparts(ctx context.Context, me models.Identity) func(models.User) bool {
	if me.ID == "" {
		return func(models.User) bool { return false }
	}
	keep := r.visibility(ctx, me, true)
	return func(u models.User) bool {
		return u.ID != "" && u.ID != me.ID && keep(u)
	}
}

func (r *Resolver) visibility(ctx context.Context, me models.Identity, conversations bool) func(models.User) bool {
	switch me.Role {
	case models.RoleCustomer:
		if conversations {
			return func(u models.User) bool {
				return isBrandManager(u) || u.Role == models.RoleAdmin
			}
		}
		return isBrandManager
	case models.RoleSalesAgent:
		assigned, err := r.assignedSet(ctx, me.ID)
		if err != nil {
			r.logger.Warn().Err(err).Str("user_id", me.ID).Msg("assignment lookup failed, showing brand managers only")
			return isBrandManager
		}
		return func(u models.User) bool {
			return isBrandManager(u) || (u.Role == models.RoleCustomer && assigned[u.ID])
		}
	case models.RoleBrandManager, models.RoleAdmin:
		return func(models.User) bool { return true }
	default:
		return func(models.User) bool { return false }
	}
}

func (r *Resolver) assignedSet(ctx context.Context, agentID string) (map[string]bool, error) {
	if r.assignments == nil {
		return nil, errors.New("no assignment lookup configured")
	}
	ids, err := r.assignments.AssignedCustomers(ctx, agentID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Lookup returns one profile.
func (r *Resolver) Lookup(ctx context.Context, id string) (models.User, error) {
	return r.users.GetUser(ctx, id)
}

func isBrandManager(u models.User) bool {
	return u.Role == models.RoleBrandManager
}

// SortUsers orders online users first, then by case-insensitive name, then id.
func SortUsers(users []models.User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].Online != users[j].Online {
			return users[i].Online
		}
		a, b := strings.ToLower(users[i].Name), strings.ToLower(users[j].Name)
		if a != b {
			return a < b
		}
		return users[i].ID < users[j].ID
	})
}
